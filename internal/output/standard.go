package output

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/rohankatakam/codegraph/internal/models"
	"github.com/rohankatakam/codegraph/internal/pipeline"
)

// StandardFormatter outputs counts, findings and recommendations (default).
// Colors are only emitted when w is a terminal.
type StandardFormatter struct{}

func (f *StandardFormatter) Report(w io.Writer, r *pipeline.Report) error {
	st := newStyles(w)

	fmt.Fprintf(w, "%s\n", st.header.Render("Project "+r.ProjectName))
	fmt.Fprintf(w, "Files:         %s seen (%s parsed, %s cached, %s failed, %s skipped)\n",
		count(r.Parse.FilesSeen), count(r.Parse.FilesParsed), count(r.Parse.FilesCached),
		count(r.Parse.FilesFailed), count(r.Parse.FilesSkipped))
	fmt.Fprintf(w, "Entities:      %s\n", count(r.Parse.Entities))
	fmt.Fprintf(w, "Relationships: %s\n", count(r.Parse.Relationships))

	if len(r.ParseErrors) > 0 {
		fmt.Fprintf(w, "\nParse errors (%d):\n", len(r.ParseErrors))
		for i, e := range r.ParseErrors {
			if i == 10 {
				fmt.Fprintf(w, "  ... and %d more\n", len(r.ParseErrors)-10)
				break
			}
			fmt.Fprintf(w, "  - %s\n", e.Error())
		}
	}

	if g := r.Graph; g != nil {
		fmt.Fprintf(w, "\nGraph commit:  ")
		if !g.Success {
			fmt.Fprintf(w, "%s %s\n", st.failed.Render("FAILED"), g.Error)
		} else {
			fmt.Fprintf(w, "%s\n", st.ok.Render("OK"))
		}
		fmt.Fprintf(w, "  nodes:         %s created, %s matched\n", count(g.NodesCreated), count(g.NodesMatched))
		fmt.Fprintf(w, "  relationships: %s created, %s matched\n", count(g.RelationshipsCreated), count(g.RelationshipsMatched))
		fmt.Fprintf(w, "  placeholders:  %s\n", count(g.PlaceholdersCreated))
		fmt.Fprintf(w, "  batches:       %d committed, %d failed, %d retries\n", g.BatchesCommitted, g.BatchesFailed, g.Retries)
	}

	for _, a := range r.Analyses {
		if !a.Success {
			fmt.Fprintf(w, "\n%s %s: %s\n", st.failed.Render("FAILED"), a.Analysis, a.Error)
		}
	}

	fmt.Fprintln(w)
	writeFindings(w, st, r.Findings)
	fmt.Fprintf(w, "\nCompleted in %s\n", r.Duration.Round(time.Millisecond))
	return nil
}

func (f *StandardFormatter) Analysis(w io.Writer, r *models.AnalysisResult) error {
	st := newStyles(w)
	fmt.Fprintf(w, "%s\n", st.header.Render(fmt.Sprintf("%s for %s", r.Analysis, r.ProjectName)))
	if !r.Success {
		fmt.Fprintf(w, "%s %s\n", st.failed.Render(string(r.State)), r.Error)
		return nil
	}
	writeFindings(w, st, r.Findings)
	return nil
}

func (f *StandardFormatter) Entities(w io.Writer, entities []models.CodeEntity) error {
	for _, e := range entities {
		loc := e.FilePath
		if e.StartLine > 0 {
			loc = fmt.Sprintf("%s:%d", e.FilePath, e.StartLine)
		}
		fmt.Fprintf(w, "%-10s %-60s %s\n", e.EntityType, e.QualifiedName, loc)
	}
	fmt.Fprintf(w, "%s entities\n", count(len(entities)))
	return nil
}

func (f *StandardFormatter) Relationships(w io.Writer, rels []models.Relationship) error {
	for _, r := range rels {
		fmt.Fprintf(w, "%s -[%s]-> %s (%s)\n", r.SourceQualifiedName, r.RelationshipType, r.TargetQualifiedName, r.Resolution)
	}
	fmt.Fprintf(w, "%s relationships\n", count(len(rels)))
	return nil
}

func writeFindings(w io.Writer, st styles, findings []models.AnalysisFinding) {
	if len(findings) == 0 {
		fmt.Fprintf(w, "%s\n", st.ok.Render("No findings"))
		return
	}

	fmt.Fprintf(w, "Findings (%d):\n", len(findings))
	for i, f := range findings {
		fmt.Fprintf(w, "%d. %s [%s, confidence %.2f] %s\n",
			i+1, st.severity(f.Severity), f.Classification, f.ConfidenceScore, f.Description)
		for _, rec := range f.Recommendations {
			fmt.Fprintf(w, "   - %s\n", rec)
		}
	}
}

type styles struct {
	r      *lipgloss.Renderer
	header lipgloss.Style
	ok     lipgloss.Style
	failed lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		r:      r,
		header: r.NewStyle().Bold(true),
		ok:     r.NewStyle().Foreground(lipgloss.Color("42")),
		failed: r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	}
}

func (s styles) severity(sev models.Severity) string {
	style := s.r.NewStyle()
	switch sev {
	case models.SeverityCritical:
		style = style.Foreground(lipgloss.Color("196")).Bold(true)
	case models.SeverityHigh:
		style = style.Foreground(lipgloss.Color("214"))
	case models.SeverityMedium:
		style = style.Foreground(lipgloss.Color("226"))
	default:
		style = style.Foreground(lipgloss.Color("241"))
	}
	return style.Render(strings.ToUpper(string(sev)))
}

func count(n int) string {
	return humanize.Comma(int64(n))
}
