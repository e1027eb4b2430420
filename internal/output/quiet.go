package output

import (
	"fmt"
	"io"

	"github.com/rohankatakam/codegraph/internal/models"
	"github.com/rohankatakam/codegraph/internal/pipeline"
)

// QuietFormatter prints one line per result
type QuietFormatter struct{}

func (f *QuietFormatter) Report(w io.Writer, r *pipeline.Report) error {
	if r.Graph == nil || !r.Graph.Success {
		msg := "parse failed"
		if r.Graph != nil && r.Graph.Error != "" {
			msg = r.Graph.Error
		}
		_, err := fmt.Fprintf(w, "FAILED %s: %s\n", r.ProjectName, msg)
		return err
	}
	_, err := fmt.Fprintf(w, "OK %s: %d entities, %d findings%s\n",
		r.ProjectName, r.Parse.Entities, len(r.Findings), worst(r.Findings))
	return err
}

func (f *QuietFormatter) Analysis(w io.Writer, r *models.AnalysisResult) error {
	if !r.Success {
		_, err := fmt.Fprintf(w, "FAILED %s: %s\n", r.Analysis, r.Error)
		return err
	}
	_, err := fmt.Fprintf(w, "OK %s: %d findings%s\n", r.Analysis, len(r.Findings), worst(r.Findings))
	return err
}

func (f *QuietFormatter) Entities(w io.Writer, entities []models.CodeEntity) error {
	_, err := fmt.Fprintf(w, "%d entities\n", len(entities))
	return err
}

func (f *QuietFormatter) Relationships(w io.Writer, rels []models.Relationship) error {
	_, err := fmt.Fprintf(w, "%d relationships\n", len(rels))
	return err
}

// worst returns " (max <severity>)" or "" when there are no findings
func worst(findings []models.AnalysisFinding) string {
	var top models.Severity
	for _, f := range findings {
		if f.Severity.Rank() > top.Rank() {
			top = f.Severity
		}
	}
	if top == "" {
		return ""
	}
	return fmt.Sprintf(" (max %s)", top)
}
