// Package report assembles the final research report from derived insights.
package report

import (
	"fmt"
	"sort"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researchd/internal/analysis"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/metrics"
)

// Section is one generated report section.
type Section struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Order   int    `json:"order"`
}

// Metadata describes how the report was produced.
type Metadata struct {
	Template     string    `json:"template"`
	Topic        string    `json:"topic"`
	Query        string    `json:"query"`
	InsightCount int       `json:"insight_count"`
	WordCount    int       `json:"word_count"`
	Omitted      []string  `json:"omitted,omitempty"`
	GeneratedAt  time.Time `json:"generated_at"`
}

// Report is the synthesized output.
type Report struct {
	Title    string    `json:"title"`
	Sections []Section `json:"sections"`
	Metadata Metadata  `json:"metadata"`
}

// Synthesizer generates reports. Generators can be replaced per section id.
type Synthesizer struct {
	generators map[string]Generator
	logger     *zap.Logger
}

// NewSynthesizer returns a synthesizer with the built-in section generators.
func NewSynthesizer(logger *zap.Logger) *Synthesizer {
	gens := make(map[string]Generator, len(defaultGenerators))
	for id, g := range defaultGenerators {
		gens[id] = g
	}
	return &Synthesizer{generators: gens, logger: logger}
}

// Register installs or replaces the generator for a section id.
func (s *Synthesizer) Register(id string, g Generator) {
	s.generators[id] = g
}

// Synthesize selects a template from the query and generates each section. A
// generator that errors or panics has its section omitted; the rest of the report
// is still produced.
func (s *Synthesizer) Synthesize(topic, query string, insights []analysis.Insight) *Report {
	start := time.Now()
	defer func() { metrics.StageDuration.WithLabelValues("synthesis").Observe(time.Since(start).Seconds()) }()

	tmpl := SelectTemplate(query)
	rep := &Report{
		Title: fmt.Sprintf("Research Report: %s", topic),
		Metadata: Metadata{
			Template:     tmpl.Name,
			Topic:        topic,
			Query:        query,
			InsightCount: len(insights),
			GeneratedAt:  time.Now().UTC(),
		},
	}

	for _, spec := range tmpl.Sections {
		gen, ok := s.generators[spec.ID]
		if !ok {
			gen = genericGenerator
		}
		content, err := runGenerator(gen, SectionInput{Section: spec, Topic: topic, Query: query, Insights: insights})
		if err != nil {
			metrics.ReportSectionsOmitted.Inc()
			rep.Metadata.Omitted = append(rep.Metadata.Omitted, spec.ID)
			s.logger.Warn("Report section omitted",
				zap.String("section", spec.ID),
				zap.String("template", tmpl.Name),
				zap.Error(err))
			continue
		}
		rep.Sections = append(rep.Sections, Section{ID: spec.ID, Title: spec.Title, Content: content, Order: spec.Order})
	}

	sort.SliceStable(rep.Sections, func(i, j int) bool { return rep.Sections[i].Order < rep.Sections[j].Order })
	for _, sec := range rep.Sections {
		rep.Metadata.WordCount += utf8.RuneCountInString(sec.Content)
	}
	return rep
}

func runGenerator(gen Generator, in SectionInput) (content string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("section generator panicked: %v", r)
		}
	}()
	return gen(in)
}
