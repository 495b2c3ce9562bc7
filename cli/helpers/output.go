package helpers

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/compozy/policychat/engine/knowledge/ingest"
)

var (
	summaryTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	summaryKeyStyle   = lipgloss.NewStyle().Width(10).Foreground(lipgloss.Color("245"))
	summaryFailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("204"))
)

// maxListedFailures caps the per-record rejections echoed in the summary.
const maxListedFailures = 10

// PrintIngestSummary writes the end-of-run ingestion report.
func PrintIngestSummary(w io.Writer, result *ingest.Result, runErr error) error {
	if result == nil {
		return nil
	}
	title := "Ingestion complete"
	if runErr != nil {
		title = "Ingestion aborted"
	}
	rows := [][2]string{
		{"Index", result.Index},
		{"Files", fmt.Sprint(result.Files)},
		{"Pages", fmt.Sprint(result.Pages)},
		{"Chunks", fmt.Sprint(result.Chunks)},
		{"Uploaded", fmt.Sprint(result.Uploaded)},
		{"Failed", fmt.Sprint(result.Failed)},
		{"Batches", fmt.Sprint(result.Batches)},
		{"Duration", result.Duration.Round(1e6).String()},
	}
	var b strings.Builder
	b.WriteString(summaryTitleStyle.Render(title))
	b.WriteString("\n")
	for _, row := range rows {
		b.WriteString(summaryKeyStyle.Render(row[0]))
		b.WriteString(row[1])
		b.WriteString("\n")
	}
	for i, failure := range result.Failures {
		if i == maxListedFailures {
			fmt.Fprintf(&b, "... and %d more rejected chunks\n", len(result.Failures)-maxListedFailures)
			break
		}
		b.WriteString(summaryFailStyle.Render(fmt.Sprintf("rejected %s: %s", failure.ID, failure.Reason)))
		b.WriteString("\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}
