package template

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/sophialabs/traceharness/internal/domain/conformance"
)

// ReportRenderer writes a suite report in some format.
type ReportRenderer interface {
	Render(w io.Writer, report conformance.Report) error
}

// JSONReport writes the report as indented JSON.
type JSONReport struct{}

func (JSONReport) Render(w io.Writer, report conformance.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// NewReportRenderer resolves a format name. templatePath only applies to
// "text".
func NewReportRenderer(format, templatePath string) (ReportRenderer, error) {
	switch format {
	case "", "text":
		return NewTextReport(templatePath)
	case "json":
		return JSONReport{}, nil
	default:
		return nil, fmt.Errorf("unknown report format: %q (supported: text, json)", format)
	}
}
