// Package report renders the summary printed after a run.
package report

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/nhle/redeemer/internal/redeem"
	"github.com/nhle/redeemer/internal/theme"
)

var headers = []string{"SECTION", "PROVIDER", "MAILS", "LINKS", "MARKED", "KEPT", "PRUNED", "STATUS"}

const (
	colProvider = 1
	colStatus   = 7
)

// Status returns the summary status of one section result.
func Status(res redeem.SectionResult) string {
	switch {
	case res.Err != nil:
		return theme.StatusAborted
	case res.Found == 0:
		return theme.StatusEmpty
	default:
		return theme.StatusOK
	}
}

func statusCell(res redeem.SectionResult) string {
	status := Status(res)
	if stage, ok := redeem.StageOf(res.Err); ok {
		return fmt.Sprintf("%s (%s)", status, stage)
	}
	return status
}

func prunedCell(res redeem.SectionResult) string {
	if res.Finalized {
		return "yes"
	}
	return "no"
}

// Rows converts results into table rows in run order.
func Rows(results []redeem.SectionResult) [][]string {
	rows := make([][]string, 0, len(results))
	for _, res := range results {
		rows = append(rows, []string{
			res.Section,
			res.Provider.String(),
			strconv.Itoa(res.Found),
			strconv.Itoa(res.Links),
			strconv.Itoa(res.Marked),
			strconv.Itoa(res.Unreadable),
			prunedCell(res),
			statusCell(res),
		})
	}
	return rows
}

// Render draws the per-section summary table followed by a totals line.
func Render(results []redeem.SectionResult) string {
	rows := Rows(results)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(theme.BorderStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return theme.HeaderStyle
			}
			if row < 0 || row >= len(results) {
				return theme.CellStyle
			}
			switch col {
			case colProvider:
				return theme.ProviderLabelStyle(rows[row][col])
			case colStatus:
				return theme.StatusStyle(Status(results[row]))
			default:
				return theme.CellStyle
			}
		})

	var b strings.Builder
	b.WriteString(t.String())
	b.WriteString("\n")
	b.WriteString(theme.HelpStyle.Render(Totals(results)))
	b.WriteString("\n")
	return b.String()
}

// Totals summarizes a run in one line.
func Totals(results []redeem.SectionResult) string {
	links := 0
	for _, res := range results {
		links += res.Links
	}
	return fmt.Sprintf(
		"%d section(s), %d link(s) opened, %d aborted",
		len(results), links, redeem.Failed(results),
	)
}
