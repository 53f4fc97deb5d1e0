package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lushonline/moodle-mod-externalcontent/internal/lrs"
	"github.com/lushonline/moodle-mod-externalcontent/internal/store"
)

type reportOptions struct {
	Format string
	Events int
}

func newReportCommand(root *rootOptions) *cobra.Command {
	opts := &reportOptions{}
	cmd := &cobra.Command{
		Use:   "report <module-idnumber>",
		Short: "Print the tracks and recent events of an externalcontent module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Format != "table" && opts.Format != "json" {
				return fmt.Errorf("unknown format %q (want table or json)", opts.Format)
			}
			rt, err := openRuntime(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer rt.close()

			ctx := cmd.Context()
			m, err := rt.store.FindModuleByExternalID(ctx, lrs.ModName, args[0])
			if errors.Is(err, lrs.ErrNotFound) {
				return fmt.Errorf("no %s module with idnumber %q", lrs.ModName, args[0])
			}
			if err != nil {
				return err
			}
			tracks, err := rt.store.ListTracks(ctx, m.ID)
			if err != nil {
				return err
			}
			var events []lrs.Event
			if opts.Events > 0 {
				if events, err = rt.store.ListEvents(ctx, m.ID, opts.Events); err != nil {
					return err
				}
			}
			return writeReport(cmd.OutOrStdout(), opts.Format, m, tracks, events)
		},
	}
	cmd.Flags().StringVar(&opts.Format, "format", "table", "output format: table or json")
	cmd.Flags().IntVar(&opts.Events, "events", 10, "number of recent events to include (0 to skip)")
	return cmd
}

type jsonReport struct {
	Module lrs.Module          `json:"module"`
	Tracks []store.TrackReport `json:"tracks"`
	Events []lrs.Event         `json:"events,omitempty"`
}

func writeReport(w io.Writer, format string, m lrs.Module, tracks []store.TrackReport, events []lrs.Event) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(jsonReport{Module: m, Tracks: tracks, Events: events})
	}

	fmt.Fprintf(w, "%s (%s) course=%d externally=%t tracking=%t\n\n",
		m.Name, m.IDNumber, m.CourseID, m.CompletionExternally, m.CompletionTracking)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USER\tCOMPLETED\tSCORE\tVIEWED\tCOMPLETE\tMODIFIED")
	for _, t := range tracks {
		fmt.Fprintf(tw, "%s\t%t\t%s\t%t\t%t\t%s\n",
			t.Username, t.Completed, formatScore(t.Score), t.Viewed, t.Complete, t.TimeModified.Format(time.RFC3339))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "EVENT\tUSER\tSTATEMENT\tAT")
	for _, ev := range events {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", ev.Kind, ev.UserID, ev.StatementID, ev.CreatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func formatScore(s *float64) string {
	if s == nil {
		return "-"
	}
	return strconv.FormatFloat(*s, 'f', -1, 64)
}
