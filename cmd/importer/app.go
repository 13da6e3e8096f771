package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"

	"trends-importer/internal/config"
	"trends-importer/internal/db"
	"trends-importer/internal/httpclient"
	"trends-importer/internal/importer"
	"trends-importer/internal/logger"
	"trends-importer/internal/notify"
	"trends-importer/internal/quarantine"
	"trends-importer/internal/source"
)

// app is the state shared by every subcommand
type app struct {
	verbosity int

	cfg     *config.Config
	log     *logger.Logger
	db      *db.DB
	run     importer.Run
	webhook *notify.Webhook
	sentry  bool
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "importer",
		Short:         "Import match logs, demos and league results",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.db != nil {
				a.db.Close()
			}
		},
	}
	root.PersistentFlags().CountVarP(&a.verbosity, "verbose", "v",
		"print more information, may be given twice")

	root.AddCommand(
		newInitCommand(a),
		newLogsCommand(a),
		newDemosCommand(a),
		newRGLCommand(a),
		newETF2LCommand(a),
		newLinkCommand(a),
		newPurgeCommand(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	envFile := config.LoadEnvFile()
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg

	command := strings.TrimPrefix(cmd.CommandPath(), cmd.Root().Name()+" ")
	a.run = importer.NewRun(command)
	a.log = logger.New(logger.VerbosityLevel(a.verbosity, cfg.Log.Level), cfg.Log.Format).
		WithRunID(a.run.ID)
	if envFile != "" {
		a.log.Debug("Loaded environment", "file", envFile)
	}

	if cfg.Notify.DiscordWebhookURL != "" {
		a.webhook = notify.NewWebhook(cfg.Notify.DiscordWebhookURL)
	}
	if cfg.Notify.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Notify.SentryDSN,
			AttachStacktrace: true,
		}); err != nil {
			a.log.Warn("Could not initialize sentry", "error", err)
		} else {
			a.sentry = true
			sentry.ConfigureScope(func(scope *sentry.Scope) {
				scope.SetTag("command", command)
				scope.SetTag("run_id", a.run.ID)
			})
		}
	}
	return nil
}

func (a *app) database(ctx context.Context) (*db.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	d, err := db.New(ctx, a.cfg.Database)
	if err != nil {
		return nil, err
	}
	a.db = d
	return d, nil
}

func (a *app) http(baseURL string) *httpclient.Client {
	h := a.cfg.HTTP
	return httpclient.New(baseURL,
		httpclient.WithTimeout(h.Timeout),
		httpclient.WithRateLimit(h.Rate, h.Burst),
		httpclient.WithRetry(h.MaxRetries, h.RetryWaitMin, h.RetryWaitMax),
		httpclient.WithLogger(a.log),
	)
}

// importRecords runs a log or demo import and reports on it
func (a *app) importRecords(ctx context.Context, kind importer.Kind, updateOnly bool, src source.Source) error {
	d, err := a.database(ctx)
	if err != nil {
		return err
	}

	var q importer.Quarantine
	if a.cfg.Quarantine.Dir != "" {
		spool, err := quarantine.New(a.cfg.Quarantine, a.log)
		if err != nil {
			return err
		}
		defer a.closeSpool(spool)
		q = spool
	}

	stop, release := importer.StopOnSignal(ctx, a.log)
	defer release()

	opts := importer.Options{
		UpdateOnly: updateOnly,
		Commit:     a.cfg.Commit,
		Horizon:    a.cfg.Dedup.Horizon,
	}
	rep, err := importer.NewRecords(d, kind, opts, q, a.log).Run(ctx, stop, src)
	if err != nil {
		return err
	}
	a.purge(ctx, d)
	a.notify(ctx, rep.Counts()...)
	return nil
}

func (a *app) closeSpool(spool *quarantine.Spool) {
	if err := spool.Close(); err != nil {
		a.log.Warn("Could not close quarantine", "error", err)
		return
	}
	n, err := spool.Compact()
	if err != nil {
		a.log.Warn("Could not compact quarantine", "error", err)
		return
	}
	if n > 0 {
		a.log.Info("Compacted quarantine files", "files", n)
	}
}

// purge drains the cache queue when redis is configured. Keys that cannot be
// purged now stay queued for the next run.
func (a *app) purge(ctx context.Context, d *db.DB) {
	if _, err := importer.Purge(ctx, d, a.cfg.Cache, a.log); err != nil {
		a.log.Warn("Cache purge failed", "error", err)
	}
}

func (a *app) notify(ctx context.Context, counts ...notify.Count) {
	if a.webhook == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := a.webhook.SendSummary(ctx, a.run.Summary(counts...)); err != nil {
		a.log.Warn("Could not send run summary", "error", err)
	}
}
