package tools

import (
	"context"
	"fmt"
	"text/template"

	"github.com/Kocoro-lab/Shannon/go/researchd/internal/analysis"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/report"
)

// Synthesis is the synthesize_report output.
type Synthesis struct {
	Report   *report.Report
	Markdown string
}

// Synthesize is the synthesize_report tool.
type Synthesize struct {
	synth  *report.Synthesizer
	render *template.Template
}

// NewSynthesize creates the tool; a nil template renders with the built-in one.
func NewSynthesize(s *report.Synthesizer, render *template.Template) *Synthesize {
	return &Synthesize{synth: s, render: render}
}

func (s *Synthesize) Name() string { return NameSynthesize }

// Run expects args topic, query and insights.
func (s *Synthesize) Run(ctx context.Context, args map[string]any) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	topic := argString(args, "topic")
	if topic == "" {
		return Result{}, fmt.Errorf("%w: topic is required", ErrInvalidArgs)
	}
	insights, _ := args["insights"].([]analysis.Insight)

	rep := s.synth.Synthesize(topic, argString(args, "query"), insights)
	md, err := report.Render(s.render, rep)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Output:  Synthesis{Report: rep, Markdown: md},
		Preview: fmt.Sprintf("%d sections, %d characters", len(rep.Sections), rep.Metadata.WordCount),
	}, nil
}
