package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/support-elt/internal/pipeline"
	"github.com/sells-group/support-elt/internal/runlog"
)

// Output formats.
const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

// renderOutcome writes out in the requested format.
func renderOutcome(w io.Writer, out *pipeline.Outcome, format string) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(out); err != nil {
			return eris.Wrap(err, "render yaml")
		}
		return enc.Close()
	case outputTable, "":
		formatOutcome(w, out)
		return nil
	default:
		return eris.Errorf("unknown output format %q", format)
	}
}

func formatOutcome(w io.Writer, out *pipeline.Outcome) {
	fmt.Fprintf(w, "Run:       %s\n", out.RunID)
	fmt.Fprintf(w, "Pipeline:  %s (%s)\n", out.Pipeline, out.Dataset)
	fmt.Fprintf(w, "State:     %s\n", out.State)
	fmt.Fprintf(w, "Duration:  %s\n", out.Duration().Round(time.Millisecond))
	if !out.Succeeded() {
		fmt.Fprintf(w, "Failed:    %s (%s)\n", out.FailedStage, out.ErrorKind)
		fmt.Fprintf(w, "Error:     %s\n", out.Error)
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STAGE\tROWS IN\tROWS OUT\tREJECTED\tELAPSED\tSTATUS")
	for _, s := range out.Stages {
		status := "ok"
		if s.Failed {
			status = "failed"
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\t%s\n",
			s.Stage, s.RowsIn, s.RowsOut, s.Rejected, s.Elapsed.Round(time.Millisecond), status)
	}
	tw.Flush() //nolint:errcheck

	if len(out.Rejections) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Rejections:")
		for _, k := range sortedKeys(out.Rejections) {
			fmt.Fprintf(w, "  %-20s %d\n", k, out.Rejections[k])
		}
	}

	if q := out.Quality; q != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Quality:")
		fmt.Fprintf(w, "  total_records    %d\n", q.TotalRecords)
		fmt.Fprintf(w, "  null_email_hash  %d\n", q.NullEmailHash)
		fmt.Fprintf(w, "  null_ticket_id   %d\n", q.NullTicketID)
		fmt.Fprintf(w, "  invalid_age      %d\n", q.InvalidAge)
		fmt.Fprintf(w, "  invalid_rating   %d\n", q.InvalidRating)
	}

	if len(out.Fingerprints) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Fingerprints:")
		for _, k := range sortedKeys(out.Fingerprints) {
			fmt.Fprintf(w, "  %-40s %s\n", k, out.Fingerprints[k])
		}
	}
}

// renderRuns writes run-log entries in the requested format.
func renderRuns(w io.Writer, entries []runlog.Entry, format string) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(entries); err != nil {
			return eris.Wrap(err, "render yaml")
		}
		return enc.Close()
	case outputTable, "":
		formatRunsList(w, entries)
		return nil
	default:
		return eris.Errorf("unknown output format %q", format)
	}
}

func formatRunsList(w io.Writer, entries []runlog.Entry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tPIPELINE\tSTATUS\tSTARTED\tDURATION\tLOADED\tCLEANED\tREJECTED\tERROR")
	for _, e := range entries {
		dur := "-"
		if e.CompletedAt != nil {
			dur = e.CompletedAt.Sub(e.StartedAt).Round(time.Second).String()
		}
		errCol := ""
		if e.ErrorKind != "" {
			errCol = e.FailedStage + "/" + e.ErrorKind
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			truncate(e.RunID, 8), e.Pipeline, e.Status,
			e.StartedAt.Format(time.DateTime), dur,
			e.RowsLoaded, e.RowsCleaned, e.RowsRejected, errCol)
	}
	tw.Flush() //nolint:errcheck
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
