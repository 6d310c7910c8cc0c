package template

import (
	_ "embed"
	"fmt"
	"io"
	"time"

	"github.com/flosch/pongo2/v6"

	"github.com/sophialabs/traceharness/internal/domain/conformance"
)

//go:embed report.tmpl
var defaultReport string

// TextReport renders a suite report through a Pongo2 template. The context
// has results (id, name, token, passed, aborted, duration, failures with
// kind and message, notes), total, passed, failed and duration.
type TextReport struct {
	tpl *pongo2.Template
}

// NewTextReport compiles the template at path, or the built-in one when path
// is empty.
func NewTextReport(path string) (*TextReport, error) {
	var (
		tpl *pongo2.Template
		err error
	)
	if path == "" {
		tpl, err = pongo2.FromString(defaultReport)
	} else {
		tpl, err = pongo2.FromFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to compile report template: %w", err)
	}
	return &TextReport{tpl: tpl}, nil
}

// Render writes the report to w.
func (r *TextReport) Render(w io.Writer, report conformance.Report) error {
	if err := r.tpl.ExecuteWriter(reportContext(report), w); err != nil {
		return fmt.Errorf("report template render failed: %w", err)
	}
	return nil
}

func reportContext(report conformance.Report) pongo2.Context {
	results := make([]pongo2.Context, 0, len(report.Results))
	for _, res := range report.Results {
		failures := make([]pongo2.Context, 0, len(res.Failures))
		for _, f := range res.Failures {
			failures = append(failures, pongo2.Context{"kind": string(f.Kind), "message": f.Message})
		}
		results = append(results, pongo2.Context{
			"id":       res.ID,
			"name":     res.Name,
			"token":    res.Token.String(),
			"passed":   res.Passed(),
			"aborted":  res.Aborted,
			"duration": res.Duration.Round(time.Millisecond).String(),
			"failures": failures,
			"notes":    res.Notes,
		})
	}
	return pongo2.Context{
		"results":  results,
		"total":    report.Total,
		"passed":   report.Passed,
		"failed":   report.Failed,
		"duration": report.Duration.Round(time.Millisecond).String(),
	}
}
