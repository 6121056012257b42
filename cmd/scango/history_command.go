package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cjeanneret/scango/internal/store"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var (
		limit      int
		session    string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List decoded barcodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Store.Path == "" {
				return fmt.Errorf("history is disabled (store.path is empty)")
			}
			if limit < 0 {
				return fmt.Errorf("limit must not be negative, got %d", limit)
			}

			st, err := store.Open(cfg.Store.Path)
			if err != nil {
				return fmt.Errorf("open store failed: %w", err)
			}
			defer st.Close()

			records, err := listHistory(cmd.Context(), st, session, limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				if records == nil {
					records = []store.Record{}
				}
				return writeJSON(cmd, records)
			}
			return printHistory(cmd, st, records)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of matches to show (0 = all)")
	cmd.Flags().StringVar(&session, "session", "", "only show matches from this session ID")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print matches as JSON")
	return cmd
}

func listHistory(ctx context.Context, st *store.Store, session string, limit int) ([]store.Record, error) {
	if session != "" {
		return st.ListSession(ctx, session, limit)
	}
	return st.List(ctx, limit)
}

func printHistory(cmd *cobra.Command, st *store.Store, records []store.Record) error {
	out := cmd.OutOrStdout()
	if len(records) == 0 {
		_, err := fmt.Fprintln(out, "No matches recorded.")
		return err
	}

	rows := make([][]string, 0, len(records))
	for _, r := range records {
		crop := "-"
		if r.HasCrop {
			crop = "yes"
		}
		rows = append(rows, []string{shortID(r.ID), humanize.Time(r.DecodedAt), r.Format, r.Text, crop})
	}
	fmt.Fprintln(out, renderTable(out, []string{"ID", "Decoded", "Format", "Text", "Crop"}, rows, nil))

	total, err := st.Count(cmd.Context())
	if err != nil {
		return err
	}
	summary := fmt.Sprintf("%s of %s matches", humanize.Comma(int64(len(records))), humanize.Comma(int64(total)))
	if info, err := os.Stat(st.Path()); err == nil {
		summary += fmt.Sprintf(", database %s", humanize.Bytes(uint64(info.Size())))
	}
	_, err = fmt.Fprintln(out, summary)
	return err
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
