// Package report renders race results and history for the terminal.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/example/kiderace/internal/application/usecases"
	"github.com/example/kiderace/internal/history"
	"github.com/example/kiderace/internal/race"
)

type Format string

const (
	Text Format = "text"
	JSON Format = "json"
)

const stampLayout = "2006-01-02T15:04:05.000Z07:00"

func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case Text, "":
		return Text, nil
	case JSON:
		return JSON, nil
	}
	return "", fmt.Errorf("report: unknown format %q (want text or json)", s)
}

type jsonReport struct {
	usecases.RaceReport
	Result         string `json:"result"`
	SucceededCount int    `json:"succeeded"`
	FailedCount    int    `json:"failed"`
}

// Write renders one race.
func Write(w io.Writer, r usecases.RaceReport, f Format) error {
	switch f {
	case JSON:
		return encode(w, jsonReport{
			RaceReport:     r,
			Result:         r.Result(),
			SucceededCount: r.Succeeded(),
			FailedCount:    r.Failed(),
		})
	case Text, "":
	default:
		return fmt.Errorf("report: unknown format %q", f)
	}

	tw := newTabWriter(w)
	fmt.Fprintf(tw, "run\t%s\n", r.RunID)
	fmt.Fprintf(tw, "event\t%s\n", eventLabel(r.EventID, r.EventName))
	if r.Tag != "" {
		fmt.Fprintf(tw, "tag\t%s\n", r.Tag)
	}
	fmt.Fprintf(tw, "started\t%s\n", stamp(r.StartedAt))
	if r.DiscoveredAt != nil {
		fmt.Fprintf(tw, "discovered\t%s (+%s)\n", stamp(*r.DiscoveredAt), r.DiscoveredAt.Sub(r.StartedAt))
	}
	fmt.Fprintf(tw, "finished\t%s\n", stamp(r.FinishedAt))
	fmt.Fprintf(tw, "result\t%s (%d reserved, %d failed)\n", r.Result(), r.Succeeded(), r.Failed())

	if len(r.Outcomes) > 0 {
		fmt.Fprintln(tw)
		writeOutcomeRows(tw, r.Outcomes)
	}
	return tw.Flush()
}

// WriteOutcomes renders the outcome table of a stored run.
func WriteOutcomes(w io.Writer, outcomes []race.Outcome, f Format) error {
	switch f {
	case JSON:
		if outcomes == nil {
			outcomes = []race.Outcome{}
		}
		return encode(w, outcomes)
	case Text, "":
	default:
		return fmt.Errorf("report: unknown format %q", f)
	}
	if len(outcomes) == 0 {
		_, err := fmt.Fprintln(w, "no outcomes recorded")
		return err
	}
	tw := newTabWriter(w)
	writeOutcomeRows(tw, outcomes)
	return tw.Flush()
}

// WriteRuns renders a history listing.
func WriteRuns(w io.Writer, runs []history.Run, f Format) error {
	switch f {
	case JSON:
		if runs == nil {
			runs = []history.Run{}
		}
		return encode(w, runs)
	case Text, "":
	default:
		return fmt.Errorf("report: unknown format %q", f)
	}
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "no races recorded")
		return err
	}

	tw := newTabWriter(w)
	fmt.Fprintln(tw, "STARTED\tRUN\tEVENT\tTAG\tRESULT\tRESERVED\tFAILED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\n",
			stamp(r.StartedAt), r.RunID, eventLabel(r.EventID, r.EventName), dash(r.Tag), r.Result, r.Succeeded, r.Failed)
	}
	return tw.Flush()
}

func writeOutcomeRows(tw io.Writer, outcomes []race.Outcome) {
	fmt.Fprintln(tw, "WAVE\tINVENTORY\tVARIANT\tQTY\tSTATUS\tTIME\tRESULT")
	for _, o := range outcomes {
		status := "-"
		if o.HTTPStatus != nil {
			status = strconv.Itoa(*o.HTTPStatus)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\t%s\n",
			o.Wave, o.InventoryID, dash(o.Name), o.Quantity, status, o.Duration.Round(time.Millisecond), outcomeResult(o))
	}
}

func outcomeResult(o race.Outcome) string {
	if o.Succeeded {
		return "ok"
	}
	if o.Detail == "" {
		return string(o.Error)
	}
	return string(o.Error) + ": " + o.Detail
}

func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func encode(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func eventLabel(id, name string) string {
	if name == "" {
		return id
	}
	return name + " (" + id + ")"
}

func stamp(t time.Time) string {
	return t.UTC().Format(stampLayout)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
