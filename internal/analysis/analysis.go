// Package analysis turns extraction records into the summarized insights the
// report stage consumes.
package analysis

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Kocoro-lab/Shannon/go/researchd/internal/retrieval"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/rules"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/scoring"
)

// Importance levels.
const (
	ImportanceHigh   = "high"
	ImportanceMedium = "medium"
	ImportanceLow    = "low"
)

// CategoryOverview is the category of the topic-wide insight.
const CategoryOverview = "overview"

// Insight is one summarized finding.
type Insight struct {
	Title      string  `json:"title"`
	Content    string  `json:"content"`
	Category   string  `json:"category"`
	Importance string  `json:"importance"`
	Confidence float64 `json:"confidence"`
}

var categoryTitles = map[string]string{
	rules.CategoryFinancial:   "Financial performance",
	rules.CategoryMarket:      "Market dynamics",
	rules.CategoryTechnical:   "Technology landscape",
	rules.CategoryCompetitive: "Competitive landscape",
	rules.CategoryRegulatory:  "Regulatory environment",
	rules.CategorySocial:      "Social impact",
}

const maxHighlights = 5

// Derive builds an overview insight from the graph's strongest entities followed
// by one insight per category in canonical order. With no records it returns a
// single low-confidence insight saying so.
func Derive(topic string, records []retrieval.Record, graph *retrieval.KnowledgeGraph) []Insight {
	if len(records) == 0 {
		return []Insight{{
			Title:      "Insufficient data",
			Content:    fmt.Sprintf("No reliable structured data was found for %s. Findings below are indicative only.", topic),
			Category:   CategoryOverview,
			Importance: ImportanceLow,
			Confidence: 0.2,
		}}
	}

	byCategory := make(map[string][]retrieval.Record)
	var confs []float64
	for _, r := range records {
		byCategory[r.Category] = append(byCategory[r.Category], r)
		confs = append(confs, r.Confidence)
	}

	out := []Insight{overview(topic, records, graph, scoring.Mean(confs))}

	cats := make([]string, 0, len(byCategory))
	for c := range byCategory {
		cats = append(cats, c)
	}
	sort.SliceStable(cats, func(i, j int) bool { return rank(cats[i]) < rank(cats[j]) || (rank(cats[i]) == rank(cats[j]) && cats[i] < cats[j]) })

	for _, c := range cats {
		out = append(out, categoryInsight(c, byCategory[c]))
	}
	return out
}

func rank(category string) int {
	for i, c := range rules.AllCategories {
		if c == category {
			return i
		}
	}
	return len(rules.AllCategories)
}

func importance(conf float64, sources int) string {
	switch {
	case conf >= 0.8 && sources >= 2, conf >= 0.85:
		return ImportanceHigh
	case conf >= 0.65:
		return ImportanceMedium
	default:
		return ImportanceLow
	}
}

func overview(topic string, records []retrieval.Record, graph *retrieval.KnowledgeGraph, conf float64) Insight {
	sources := make(map[string]struct{})
	for _, r := range records {
		sources[r.Source.URL] = struct{}{}
	}

	var highlights []string
	if graph != nil {
		for _, n := range graph.TopEntities(maxHighlights) {
			highlights = append(highlights, n.Label)
		}
	}
	content := fmt.Sprintf("%d structured findings were extracted from %d sources on %s.", len(records), len(sources), topic)
	if len(highlights) > 0 {
		content += " The most reliable data points are: " + strings.Join(highlights, "; ") + "."
	}
	return Insight{
		Title:      "Key findings on " + topic,
		Content:    content,
		Category:   CategoryOverview,
		Importance: importance(conf, len(sources)),
		Confidence: scoring.Round2(conf),
	}
}

func categoryInsight(category string, records []retrieval.Record) Insight {
	var (
		confs   []float64
		metrics []string
		figures []string
		seen    = make(map[string]bool)
	)
	for _, r := range records {
		confs = append(confs, r.Confidence)
		for _, m := range r.Entities.Metrics {
			s := m.Key + " " + m.Value
			if !seen[s] {
				seen[s] = true
				metrics = append(metrics, s)
			}
		}
		for _, n := range r.Entities.Numbers {
			if n.Confidence >= 0.75 && !seen[n.Value] {
				seen[n.Value] = true
				figures = append(figures, n.Value)
			}
		}
	}
	highlights := append(metrics, figures...)
	if len(highlights) > maxHighlights {
		highlights = highlights[:maxHighlights]
	}

	title := categoryTitles[category]
	if title == "" {
		title = strings.ToUpper(category[:1]) + category[1:]
	}
	content := fmt.Sprintf("%d source(s) discuss %s aspects.", len(records), category)
	if len(highlights) > 0 {
		content += " Key figures: " + strings.Join(highlights, ", ") + "."
	}

	conf := scoring.Mean(confs)
	return Insight{
		Title:      title,
		Content:    content,
		Category:   category,
		Importance: importance(conf, len(records)),
		Confidence: scoring.Round2(conf),
	}
}

// Filter returns insights in category (any when empty) whose importance is one of
// levels (any when empty).
func Filter(insights []Insight, category string, levels ...string) []Insight {
	var out []Insight
	for _, in := range insights {
		if category != "" && in.Category != category {
			continue
		}
		if len(levels) > 0 {
			match := false
			for _, l := range levels {
				if in.Importance == l {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, in)
	}
	return out
}
