package main

import (
	"context"

	"github.com/spf13/cobra"

	"trends-importer/internal/importer"
	"trends-importer/internal/league"
	"trends-importer/internal/league/etf2l"
	"trends-importer/internal/league/rgl"
	"trends-importer/internal/source"
)

// importLeague runs one league import. The filter is resolved first so --new
// can look at what is stored.
func (a *app) importLeague(ctx context.Context, name string, reimport bool, newer bool, since string,
	f *source.Filter, provider func() league.Provider) error {
	d, err := a.database(ctx)
	if err != nil {
		return err
	}
	if f.Since, err = parseDate(since); err != nil {
		return err
	}
	if newer {
		if f.Since, err = league.NewSince(ctx, d.Pool(), name); err != nil {
			return err
		}
	}

	stop, release := importer.StopOnSignal(ctx, a.log)
	defer release()

	im := league.NewImporter(d.Pool(), d.Pool(), a.log)
	im.Reimport = reimport
	stats, err := im.Run(stop, provider())
	if err != nil {
		return err
	}
	a.purge(ctx, d)
	a.notify(ctx, importer.LeagueCounts(stats)...)
	return nil
}

type leagueFlags struct {
	since  string
	newer  bool
	filter source.Filter
}

func (lf *leagueFlags) register(cmd *cobra.Command, what string) {
	cmd.Flags().StringVarP(&lf.since, "since", "s", "", "only "+what+" since `DATE`")
	cmd.Flags().BoolVarP(&lf.newer, "new", "N", false, "only "+what+" newer than the newest stored match")
	cmd.Flags().IntVarP(&lf.filter.Count, "count", "c", 0, "fetch up to `N` matches, 0 for no limit")
}

func newRGLCommand(a *app) *cobra.Command {
	var reimport bool
	cmd := &cobra.Command{
		Use:   "rgl",
		Short: "Import RGL matches",
	}
	cmd.PersistentFlags().BoolVarP(&reimport, "reimport", "r", false, "import matches that are already stored")

	file := &cobra.Command{
		Use:   "file DIR",
		Short: "Import saved API responses from a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return a.importLeague(c.Context(), rgl.League, reimport, false, "", &source.Filter{},
				func() league.Provider { return rgl.NewProvider(rgl.NewDir(args[0]), a.log) })
		},
	}

	var lf leagueFlags
	bulk := &cobra.Command{
		Use:   "bulk",
		Short: "Import from the RGL API",
		RunE: func(c *cobra.Command, _ []string) error {
			return a.importLeague(c.Context(), rgl.League, reimport, lf.newer, lf.since, &lf.filter,
				func() league.Provider {
					client := rgl.NewClient(a.http(a.cfg.API.RGLURL), lf.filter, a.log)
					return rgl.NewProvider(client, a.log)
				})
		},
	}
	lf.register(bulk, "matches scheduled")
	bulk.Flags().IntVar(&lf.filter.Offset, "skip", 0, "skip the first `N` matches of the listing")

	cmd.AddCommand(file, bulk)
	return cmd
}

func newETF2LCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "etf2l",
		Short: "Import ETF2L matches",
	}

	file := &cobra.Command{
		Use:   "file RESULTS XFERDIR",
		Short: "Import a saved results listing and transfer pages",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			return a.importLeague(c.Context(), etf2l.League, false, false, "", &source.Filter{},
				func() league.Provider { return etf2l.NewProvider(etf2l.NewDir(args[0], args[1]), a.log) })
		},
	}

	var lf leagueFlags
	bulk := &cobra.Command{
		Use:   "bulk",
		Short: "Import from the ETF2L API",
		RunE: func(c *cobra.Command, _ []string) error {
			return a.importLeague(c.Context(), etf2l.League, false, lf.newer, lf.since, &lf.filter,
				func() league.Provider {
					client := etf2l.NewClient(a.http(a.cfg.API.ETF2LURL), lf.filter, a.log)
					return etf2l.NewProvider(client, a.log)
				})
		},
	}
	lf.register(bulk, "results")
	bulk.Flags().IntVarP(&lf.filter.Page, "page", "p", 1, "start at page `N`")

	cmd.AddCommand(file, bulk)
	return cmd
}
