package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/poiesic/contentpulse/core"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)

	outcomeStyles = map[core.Outcome]lipgloss.Style{
		core.OutcomeSuccess: cellStyle.Foreground(lipgloss.Color("#04B575")),
		core.OutcomePartial: cellStyle.Foreground(lipgloss.Color("#E5C07B")),
		core.OutcomeFailed:  cellStyle.Foreground(lipgloss.Color("#FF0000")),
		core.OutcomeSkipped: cellStyle.Foreground(lipgloss.Color("#626262")),
	}
)

const timeLayout = "2006-01-02 15:04:05"

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printRun(w io.Writer, run *core.PipelineRun, asJSON bool) error {
	if asJSON {
		return writeJSON(w, run)
	}

	status := "finished"
	if run.Aborted {
		status = "aborted"
	}
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Run %s (%s, %s in %s)",
		run.ID, run.Trigger, status, run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))))

	t := newTable("STAGE", "OUTCOME", "PROCESSED", "FAILED", "ATTEMPTS", "ERROR").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 1 {
				return outcomeStyles[run.Stages[row].Outcome]
			}
			return cellStyle
		})
	for _, report := range run.Stages {
		t.Row(
			string(report.Stage),
			string(report.Outcome),
			strconv.Itoa(report.ItemsProcessed),
			strconv.Itoa(report.ItemsFailed),
			strconv.Itoa(report.Attempts),
			truncate(report.Error, 60),
		)
	}
	_, err := fmt.Fprintln(w, t.String())
	return err
}

func printRuns(w io.Writer, runs []*core.PipelineRun, asJSON bool) error {
	if asJSON {
		return writeJSON(w, runs)
	}
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "No pipeline runs recorded.")
		return err
	}

	t := newTable("STARTED", "TRIGGER", "DURATION", "STAGES", "ID")
	for _, run := range runs {
		t.Row(
			run.StartedAt.Local().Format(timeLayout),
			string(run.Trigger),
			run.FinishedAt.Sub(run.StartedAt).Round(time.Second).String(),
			stageSummary(run),
			run.ID,
		)
	}
	_, err := fmt.Fprintln(w, t.String())
	return err
}

// stageSummary renders outcomes compactly, e.g. "scraping:success embedding:partial".
func stageSummary(run *core.PipelineRun) string {
	parts := make([]string, 0, len(run.Stages))
	for _, report := range run.Stages {
		parts = append(parts, fmt.Sprintf("%s:%s", report.Stage, report.Outcome))
	}
	if run.Aborted {
		parts = append(parts, "(aborted)")
	}
	return strings.Join(parts, " ")
}

func printSuggestions(w io.Writer, suggestions []*core.Suggestion, asJSON bool) error {
	if asJSON {
		return writeJSON(w, suggestions)
	}
	if len(suggestions) == 0 {
		_, err := fmt.Fprintln(w, "No suggestions yet.")
		return err
	}

	t := newTable("GENERATED", "LABEL", "TOPIC", "KEYWORDS", "SOURCES")
	for _, s := range suggestions {
		t.Row(
			s.GeneratedAt.Local().Format(timeLayout),
			s.Label,
			truncate(s.Topic, 70),
			truncate(strings.Join(s.Keywords, ", "), 50),
			strconv.Itoa(len(s.SourceItemIDs)),
		)
	}
	_, err := fmt.Fprintln(w, t.String())
	return err
}

func printHits(w io.Writer, hits []core.ScoredItem) error {
	fmt.Fprintf(w, "Found %d hits\n", len(hits))
	if len(hits) == 0 {
		return nil
	}

	t := newTable("#", "SCORE", "SOURCE", "PUBLISHED", "TITLE", "IDENTITY")
	for i, hit := range hits {
		t.Row(
			strconv.Itoa(i+1),
			fmt.Sprintf("%0.3f", hit.Score),
			string(hit.Item.Source),
			hit.Item.PublishedAt.Local().Format(timeLayout),
			truncate(hit.Item.Title, 60),
			hit.Item.Identity,
		)
	}
	_, err := fmt.Fprintln(w, t.String())
	return err
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
