package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/openmined/dupwatch/internal/catalog"
	"github.com/spf13/cobra"
)

func newCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "catalog",
		Aliases: []string{"ls"},
		Short:   "List the most recently catalogued files",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			limit, _ := cmd.Flags().GetInt("limit")

			cat := catalog.NewSqliteCatalog(cfg.CatalogPath)
			if err := cat.Open(cmd.Context()); err != nil {
				return fmt.Errorf("open catalog: %w", err)
			}
			defer cat.Close()

			records, err := cat.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			total, err := cat.Count(cmd.Context())
			if err != nil {
				return err
			}
			printRecords(cmd.OutOrStdout(), records, total)
			return nil
		},
	}
	cmd.Flags().IntP("limit", "n", 20, "Number of records to show")
	return cmd
}

func printRecords(w io.Writer, records []*catalog.Record, total int) {
	for _, r := range records {
		fmt.Fprintf(w, "%s  %9s  %s  %s\n",
			gray.Render(r.Digest[:min(12, len(r.Digest))]),
			humanize.IBytes(uint64(r.FileSize)),
			gray.Render(r.CreatedAt.Local().Format(time.DateTime)),
			r.FilePath,
		)
	}
	fmt.Fprintf(w, "%s %s\n", cyan.Render(fmt.Sprint(total)), gray.Render("files catalogued"))
}
