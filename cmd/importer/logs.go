package main

import (
	"github.com/spf13/cobra"

	"trends-importer/internal/archive"
	"trends-importer/internal/importer"
	"trends-importer/internal/logstf"
	"trends-importer/internal/source"
	"trends-importer/internal/steamid"
)

func newLogsCommand(a *app) *cobra.Command {
	var updateOnly bool
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Import match logs",
	}
	cmd.PersistentFlags().BoolVarP(&updateOnly, "update-only", "u", false,
		"only refresh logs that are already stored with an older time")

	run := func(c *cobra.Command, src source.Source) error {
		return a.importRecords(c.Context(), importer.Logs, updateOnly, src)
	}
	client := func() *logstf.Client {
		return logstf.NewClient(a.http(a.cfg.API.LogsURL), a.log)
	}

	var pairs []string
	file := &cobra.Command{
		Use:   "file",
		Short: "Import logs from local files",
		RunE: func(c *cobra.Command, _ []string) error {
			src, err := importer.LogFiles(pairs)
			if err != nil {
				return err
			}
			return run(c, src)
		},
	}
	file.Flags().StringArrayVarP(&pairs, "log", "l", nil, "import log `ID=PATH`, may be repeated")
	file.MarkFlagRequired("log")

	var ids []int64
	list := &cobra.Command{
		Use:   "list",
		Short: "Import the given log ids",
		RunE: func(c *cobra.Command, _ []string) error {
			return run(c, client().List(ids))
		},
	}
	list.Flags().Int64SliceVarP(&ids, "id", "i", nil, "log `ID` to fetch, may be repeated")
	list.MarkFlagRequired("id")

	var (
		players []string
		since   string
		filter  source.Filter
	)
	bulk := &cobra.Command{
		Use:   "bulk",
		Short: "Import from the log listing",
		RunE: func(c *cobra.Command, _ []string) error {
			var err error
			if filter.Since, err = parseDate(since); err != nil {
				return err
			}
			ids := make([]steamid.ID, len(players))
			for i, p := range players {
				if ids[i], err = steamid.Parse(p); err != nil {
					return err
				}
			}
			return run(c, client().Bulk(ids, filter))
		},
	}
	bulk.Flags().StringArrayVarP(&players, "player", "p", nil, "only logs with `STEAMID`, may be repeated")
	bulk.Flags().StringVarP(&since, "since", "s", "", "only logs uploaded since `DATE`")
	bulk.Flags().IntVarP(&filter.Count, "count", "c", 0, "fetch up to `N` logs, 0 for no limit")
	bulk.Flags().IntVarP(&filter.Offset, "offset", "o", 0, "start `N` logs into the listing")

	var count int
	reverse := &cobra.Command{
		Use:   "reverse",
		Short: "Import every log id from the newest down",
		RunE: func(c *cobra.Command, _ []string) error {
			return run(c, importer.Limit(client().Reverse(), count))
		},
	}
	reverse.Flags().IntVarP(&count, "count", "c", 0, "try up to `N` ids, 0 for no limit")

	var location, token string
	arch := &cobra.Command{
		Use:   "archive",
		Short: "Import from a clone_logs archive",
		RunE: func(c *cobra.Command, _ []string) error {
			ar, err := archive.Open(c.Context(), location, token, a.log)
			if err != nil {
				return err
			}
			defer ar.Close()
			return run(c, ar)
		},
	}
	arch.Flags().StringVarP(&location, "database", "d", "", "archive `PATH` or libsql URL")
	arch.Flags().StringVar(&token, "auth-token", "", "auth token for a remote archive")
	arch.MarkFlagRequired("database")

	cmd.AddCommand(file, list, bulk, reverse, arch)
	return cmd
}
