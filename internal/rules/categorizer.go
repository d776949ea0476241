package rules

import (
	"sort"
	"strings"
)

// Document is the text a categorizer inspects.
type Document struct {
	Title   string
	Content string
}

// CategoryScore is one matched category and its confidence in [0,1].
type CategoryScore struct {
	Category   string
	Confidence float64
	Keywords   []string
}

// Categorizer assigns scored categories to a document.
type Categorizer interface {
	Categorize(doc Document) []CategoryScore
}

// KeywordCategorizer matches category keyword lists and applies the per-category
// boost heuristics of a Ruleset.
type KeywordCategorizer struct {
	rs *Ruleset
}

// NewKeywordCategorizer builds a categorizer over rs.
func NewKeywordCategorizer(rs *Ruleset) *KeywordCategorizer {
	return &KeywordCategorizer{rs: rs}
}

// Categorize returns every category with at least one keyword hit, in canonical
// category order. Confidence starts at the base value, grows per distinct keyword
// and per matching boost, and is capped at 1.
func (c *KeywordCategorizer) Categorize(doc Document) []CategoryScore {
	text := doc.Title + "\n" + doc.Content
	lower := strings.ToLower(text)

	var out []CategoryScore
	for _, name := range c.categoryNames() {
		spec := c.rs.Categories[name]
		var hits []string
		for _, kw := range spec.Keywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				hits = append(hits, kw)
			}
		}
		if len(hits) == 0 {
			continue
		}

		conf := c.rs.BaseConfidence + c.rs.PerKeyword*float64(len(hits))
		for _, b := range spec.Boosts {
			if b.re != nil && b.re.MatchString(text) {
				conf += b.Weight
			}
		}
		if conf > 1 {
			conf = 1
		}
		out = append(out, CategoryScore{Category: name, Confidence: conf, Keywords: hits})
	}
	return out
}

// categoryNames returns the ruleset's categories, known ones first in canonical
// order and any custom ones sorted after them.
func (c *KeywordCategorizer) categoryNames() []string {
	names := make([]string, 0, len(c.rs.Categories))
	known := make(map[string]bool, len(AllCategories))
	for _, name := range AllCategories {
		known[name] = true
		if _, ok := c.rs.Categories[name]; ok {
			names = append(names, name)
		}
	}
	var extra []string
	for name := range c.rs.Categories {
		if !known[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return append(names, extra...)
}
