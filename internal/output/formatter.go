package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rohankatakam/codegraph/internal/models"
	"github.com/rohankatakam/codegraph/internal/pipeline"
)

// Format selects how results are printed
type Format string

const (
	FormatQuiet    Format = "quiet"    // one line per result
	FormatStandard Format = "standard" // findings and recommendations
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
)

// ParseFormat accepts a format name; "text" is an alias of standard
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "quiet":
		return FormatQuiet, nil
	case "standard", "text", "":
		return FormatStandard, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want quiet, standard, json or yaml)", s)
	}
}

// Formatter renders pipeline and query results
type Formatter interface {
	Report(w io.Writer, r *pipeline.Report) error
	Analysis(w io.Writer, r *models.AnalysisResult) error
	Entities(w io.Writer, entities []models.CodeEntity) error
	Relationships(w io.Writer, rels []models.Relationship) error
}

// NewFormatter creates the formatter for f
func NewFormatter(f Format) Formatter {
	switch f {
	case FormatQuiet:
		return &QuietFormatter{}
	case FormatJSON:
		return &structuredFormatter{encode: encodeJSON}
	case FormatYAML:
		return &structuredFormatter{encode: encodeYAML}
	default:
		return &StandardFormatter{}
	}
}

// structuredFormatter emits machine-readable documents
type structuredFormatter struct {
	encode func(io.Writer, any) error
}

func (f *structuredFormatter) Report(w io.Writer, r *pipeline.Report) error {
	return f.encode(w, r)
}

func (f *structuredFormatter) Analysis(w io.Writer, r *models.AnalysisResult) error {
	return f.encode(w, r)
}

func (f *structuredFormatter) Entities(w io.Writer, entities []models.CodeEntity) error {
	if entities == nil {
		entities = []models.CodeEntity{}
	}
	return f.encode(w, entities)
}

func (f *structuredFormatter) Relationships(w io.Writer, rels []models.Relationship) error {
	if rels == nil {
		rels = []models.Relationship{}
	}
	return f.encode(w, rels)
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func encodeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
