package main

import (
	"time"

	"github.com/spf13/cobra"

	"trends-importer/internal/importer"
	"trends-importer/internal/link"
	"trends-importer/internal/notify"
)

func newInitCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the database schema",
		RunE: func(c *cobra.Command, _ []string) error {
			d, err := a.database(c.Context())
			if err != nil {
				return err
			}
			if err := d.Init(c.Context()); err != nil {
				return err
			}
			a.log.Info("Schema loaded")
			return nil
		},
	}
}

func newPurgeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Drain the cache purge queue into redis",
		RunE: func(c *cobra.Command, _ []string) error {
			d, err := a.database(c.Context())
			if err != nil {
				return err
			}
			n, err := importer.Purge(c.Context(), d, a.cfg.Cache, a.log)
			if err != nil {
				return err
			}
			if a.cfg.Cache.RedisURL == "" {
				a.log.Warn("REDIS_URL is not set, nothing purged")
			}
			a.log.Info("Purge finished", "keys", n)
			return nil
		},
	}
}

// Default lookback of each linker when --since is not given
const (
	linkDemosWindow   = 8 * time.Hour
	linkMatchesWindow = 7 * 24 * time.Hour
)

func newLinkCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Link logs to demos and league matches",
	}

	linker := func(c *cobra.Command, since string, window time.Duration,
		run func(l *link.Linker, since int64) (int, error)) error {
		d, err := a.database(c.Context())
		if err != nil {
			return err
		}
		from, err := parseDate(since)
		if err != nil {
			return err
		}
		if from == 0 {
			from = time.Now().Add(-window).Unix()
		}
		n, err := run(link.New(d.Pool(), a.log), from)
		if err != nil {
			return err
		}
		a.purge(c.Context(), d)
		a.notify(c.Context(), notify.Count{Name: "Linked", Value: n})
		return nil
	}

	var demosSince string
	demos := &cobra.Command{
		Use:   "demos",
		Short: "Link logs to the demos recorded alongside them",
		RunE: func(c *cobra.Command, _ []string) error {
			return linker(c, demosSince, linkDemosWindow, func(l *link.Linker, since int64) (int, error) {
				return l.Demos(c.Context(), since)
			})
		},
	}
	demos.Flags().StringVarP(&demosSince, "since", "s", "", "only logs uploaded since `DATE`")

	var matchesSince string
	matches := &cobra.Command{
		Use:   "matches",
		Short: "Link logs to the league matches they were played for",
		RunE: func(c *cobra.Command, _ []string) error {
			return linker(c, matchesSince, linkMatchesWindow, func(l *link.Linker, since int64) (int, error) {
				return l.Matches(c.Context(), since)
			})
		},
	}
	matches.Flags().StringVarP(&matchesSince, "since", "s", "", "only logs uploaded since `DATE`")

	cmd.AddCommand(demos, matches)
	return cmd
}
