// Package rules provides the keyword categorizer and the regular expression
// entity extractor used by the extraction stage. Both are driven by a YAML
// ruleset so keyword lists can be swapped per locale or domain.
package rules

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

//go:embed default_ruleset.yaml
var defaultRuleset []byte

// Categories in their canonical order.
const (
	CategoryFinancial   = "financial"
	CategoryMarket      = "market"
	CategoryTechnical   = "technical"
	CategoryCompetitive = "competitive"
	CategoryRegulatory  = "regulatory"
	CategorySocial      = "social"
)

// AllCategories lists the six supported categories.
var AllCategories = []string{
	CategoryFinancial, CategoryMarket, CategoryTechnical,
	CategoryCompetitive, CategoryRegulatory, CategorySocial,
}

// Boost adds Weight to a category's confidence when Pattern matches.
type Boost struct {
	Pattern string  `yaml:"pattern"`
	Weight  float64 `yaml:"weight"`

	re *regexp.Regexp
}

// CategorySpec is the keyword set and heuristics for one category.
type CategorySpec struct {
	Keywords []string `yaml:"keywords"`
	Boosts   []Boost  `yaml:"boosts"`
}

// Ruleset is the YAML form of the categorization and extraction rules.
type Ruleset struct {
	BaseConfidence   float64                 `yaml:"base_confidence"`
	PerKeyword       float64                 `yaml:"per_keyword"`
	Categories       map[string]CategorySpec `yaml:"categories"`
	EntityConfidence map[string]float64      `yaml:"entity_confidence"`
}

// Default returns the built-in ruleset.
func Default() *Ruleset {
	rs, err := Parse(defaultRuleset)
	if err != nil {
		panic(fmt.Sprintf("rules: embedded ruleset is invalid: %v", err))
	}
	return rs
}

// Load reads a ruleset file. An empty path returns Default.
func Load(path string) (*Ruleset, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ruleset %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and compiles a ruleset. Entity confidences missing from data
// fall back to the built-in values.
func Parse(data []byte) (*Ruleset, error) {
	var rs Ruleset
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("failed to parse ruleset: %w", err)
	}
	for name, spec := range rs.Categories {
		for i := range spec.Boosts {
			re, err := regexp.Compile(spec.Boosts[i].Pattern)
			if err != nil {
				return nil, fmt.Errorf("category %s boost %d: %w", name, i, err)
			}
			spec.Boosts[i].re = re
		}
		rs.Categories[name] = spec
	}
	if rs.EntityConfidence == nil {
		rs.EntityConfidence = make(map[string]float64)
	}
	for k, v := range defaultEntityConfidence {
		if _, ok := rs.EntityConfidence[k]; !ok {
			rs.EntityConfidence[k] = v
		}
	}
	if rs.BaseConfidence <= 0 {
		rs.BaseConfidence = 0.3
	}
	if rs.PerKeyword <= 0 {
		rs.PerKeyword = 0.1
	}
	return &rs, nil
}

var defaultEntityConfidence = map[string]float64{
	TypePercentage:   0.9,
	TypeCurrency:     0.8,
	TypeScaledNumber: 0.75,
	TypeNumber:       0.5,
	TypeFullDate:     0.9,
	TypeYearMonth:    0.7,
	TypeYear:         0.6,
	TypeCompany:      0.7,
	TypeMetric:       0.85,
}
