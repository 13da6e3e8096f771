package main

import (
	"github.com/spf13/cobra"

	"trends-importer/internal/demostf"
	"trends-importer/internal/importer"
	"trends-importer/internal/source"
)

func newDemosCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "demos",
		Short: "Import demo metadata",
	}
	run := func(c *cobra.Command, src source.Source) error {
		return a.importRecords(c.Context(), importer.Demos, false, src)
	}
	client := func() *demostf.Client {
		return demostf.NewClient(a.http(a.cfg.API.DemosURL), a.log)
	}

	var paths []string
	file := &cobra.Command{
		Use:   "file",
		Short: "Import demos from local files",
		RunE: func(c *cobra.Command, _ []string) error {
			src, err := importer.DemoFiles(paths)
			if err != nil {
				return err
			}
			return run(c, src)
		},
	}
	file.Flags().StringArrayVarP(&paths, "demo", "l", nil, "import a demo from `PATH`, may be repeated")
	file.MarkFlagRequired("demo")

	var ids []int64
	list := &cobra.Command{
		Use:   "list",
		Short: "Import the given demo ids",
		RunE: func(c *cobra.Command, _ []string) error {
			return run(c, client().List(ids))
		},
	}
	list.Flags().Int64SliceVarP(&ids, "id", "i", nil, "demo `ID` to fetch, may be repeated")
	list.MarkFlagRequired("id")

	var (
		since, until string
		newer, older bool
		filter       source.Filter
	)
	bulk := &cobra.Command{
		Use:   "bulk",
		Short: "Import from the demo listing",
		RunE: func(c *cobra.Command, _ []string) error {
			var err error
			if filter.Since, err = parseDate(since); err != nil {
				return err
			}
			if filter.Until, err = parseDate(until); err != nil {
				return err
			}
			if newer || older {
				d, err := a.database(c.Context())
				if err != nil {
					return err
				}
				s, u, err := importer.DemoWindow(c.Context(), d.Pool(), newer, older)
				if err != nil {
					return err
				}
				if newer {
					filter.Since = s
				}
				if older {
					filter.Until = u
				}
			}
			return run(c, client().Bulk(filter))
		},
	}
	bulk.Flags().StringVarP(&since, "since", "s", "", "only demos created since `DATE`")
	bulk.Flags().StringVarP(&until, "until", "u", "", "only demos created before `DATE`")
	bulk.Flags().BoolVarP(&newer, "new", "N", false, "only demos newer than the newest stored demo")
	bulk.Flags().BoolVarP(&older, "old", "O", false, "only demos older than the oldest stored demo")
	bulk.Flags().IntVarP(&filter.Count, "count", "c", 0, "fetch up to `N` demos, 0 for no limit")
	bulk.Flags().IntVarP(&filter.Page, "page", "p", 1, "start at page `N`")

	cmd.AddCommand(file, list, bulk)
	return cmd
}
