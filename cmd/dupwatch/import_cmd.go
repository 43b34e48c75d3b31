package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/openmined/dupwatch/internal/importer"
	"github.com/openmined/dupwatch/internal/watch"
	"github.com/spf13/cobra"
)

func newImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import [dir]",
		Short: "Catalog the files already in a directory",
		Long:  "Hash every file under dir (default: the watch dir) and add the ones not yet catalogued. Duplicates are counted, never deleted.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			closer, err := setupLogging(cmd, cfg, false)
			if err != nil {
				return err
			}
			defer closer.Close()

			dir := cfg.WatchDir
			if len(args) == 1 {
				dir = args[0]
			}
			concurrency, _ := cmd.Flags().GetInt("concurrency")
			recursive, _ := cmd.Flags().GetBool("recursive")

			d, err := openDeps(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer d.Close()

			filter, err := watch.NewFilter(dir, cfg.Ignore, cfg.Include)
			if err != nil {
				return err
			}

			summary, err := importer.Run(cmd.Context(), dir, importer.Options{
				Hasher:      d.hasher,
				Catalog:     d.catalog,
				Filter:      filter,
				Concurrency: concurrency,
				Recursive:   recursive,
			})
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), dir, summary)
			return nil
		},
	}

	// shadows the root flag of the same name; imports walk the tree by default
	cmd.Flags().BoolP("recursive", "r", true, "Import subdirectories too")
	cmd.Flags().Int("concurrency", 0, "Files hashed in parallel (default GOMAXPROCS)")
	return cmd
}

func printSummary(w io.Writer, dir string, s importer.Summary) {
	fmt.Fprintf(w, "%s %s\n", gray.Render("Imported"), cyan.Render(dir))
	fmt.Fprintf(w, "  %-11s %d\n", "scanned", s.Scanned)
	fmt.Fprintf(w, "  %-11s %s\n", "inserted", green.Render(fmt.Sprint(s.Inserted)))
	fmt.Fprintf(w, "  %-11s %s\n", "duplicates", yellow.Render(fmt.Sprint(s.Duplicates)))
	fmt.Fprintf(w, "  %-11s %d\n", "skipped", s.Skipped)
	if s.Failed > 0 {
		fmt.Fprintf(w, "  %-11s %s\n", "failed", red.Render(fmt.Sprint(s.Failed)))
	}
	fmt.Fprintf(w, "  %-11s %s in %s\n", "hashed", humanize.IBytes(s.Bytes), s.Elapsed.Round(time.Millisecond))
}
