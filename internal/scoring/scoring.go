// Package scoring holds the pure scoring functions shared by the research stages.
package scoring

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"
)

// Weights configures the composite result score. Credibility receives whatever
// weight the other three leave over.
type Weights struct {
	Relevance float64 `mapstructure:"relevance" yaml:"relevance"`
	Freshness float64 `mapstructure:"freshness" yaml:"freshness"`
	Diversity float64 `mapstructure:"diversity" yaml:"diversity"`
}

// DefaultWeights gives credibility the remaining 0.2.
func DefaultWeights() Weights {
	return Weights{Relevance: 0.4, Freshness: 0.2, Diversity: 0.2}
}

// ErrInvalidWeights is returned when weights are negative or sum above one.
var ErrInvalidWeights = errors.New("invalid scoring weights")

// Credibility returns the implied credibility weight.
func (w Weights) Credibility() float64 {
	return 1 - (w.Relevance + w.Freshness + w.Diversity)
}

// Validate checks that all weights are non-negative and sum to at most one.
func (w Weights) Validate() error {
	if w.Relevance < 0 || w.Freshness < 0 || w.Diversity < 0 {
		return fmt.Errorf("%w: negative weight", ErrInvalidWeights)
	}
	if w.Credibility() < -1e-9 {
		return fmt.Errorf("%w: relevance+freshness+diversity = %.2f > 1", ErrInvalidWeights,
			w.Relevance+w.Freshness+w.Diversity)
	}
	return nil
}

// Scores is the per-result breakdown.
type Scores struct {
	Relevance   float64 `json:"relevance"`
	Freshness   float64 `json:"freshness"`
	Credibility float64 `json:"credibility"`
	Diversity   float64 `json:"diversity"`
	Final       float64 `json:"final"`
}

// Combine fills Final from the component scores.
func (s Scores) Combine(w Weights) Scores {
	s.Final = s.Relevance*w.Relevance +
		s.Freshness*w.Freshness +
		s.Credibility*w.Credibility() +
		s.Diversity*w.Diversity
	return s
}

// Relevance is the fraction of keywords present in text, case-insensitive.
// No keywords yields zero.
func Relevance(keywords []string, text string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	hits := 0
	for _, k := range keywords {
		if k != "" && strings.Contains(lower, strings.ToLower(k)) {
			hits++
		}
	}
	return float64(hits) / float64(len(keywords))
}

// Freshness scores document age with a step function. Unknown dates score 0.5
// and dates in the future are treated as brand new.
func Freshness(published *time.Time, now time.Time) float64 {
	if published == nil || published.IsZero() {
		return 0.5
	}
	days := now.Sub(*published).Hours() / 24
	switch {
	case days <= 1:
		return 1.0
	case days <= 7:
		return 0.9
	case days <= 30:
		return 0.8
	case days <= 90:
		return 0.6
	case days <= 180:
		return 0.4
	case days <= 365:
		return 0.2
	default:
		return 0.1
	}
}

// Diversity penalizes over-represented sources: 1 - (sameSource-1)/total.
func Diversity(sameSource, total int) float64 {
	if total <= 0 || sameSource <= 1 {
		return 1
	}
	return clamp01(1 - float64(sameSource-1)/float64(total))
}

// Mean returns the arithmetic mean, zero for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Round2 rounds to two decimals for display.
func Round2(v float64) float64 { return math.Round(v*100) / 100 }

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "the": {}, "of": {}, "for": {}, "in": {}, "on": {},
	"to": {}, "with": {}, "about": {}, "what": {}, "how": {}, "is": {}, "are": {},
	"analyze": {}, "analysis": {}, "research": {}, "report": {},
	"分析": {}, "研究": {}, "报告": {}, "关于": {},
}

// Keywords splits a topic into lowercase search keywords. Latin words shorter than
// three letters and stopwords are dropped. Runs of Han characters longer than four
// runes are cut into two-rune terms since they carry no word boundaries.
func Keywords(topic string) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(k string) {
		if _, stop := stopwords[k]; stop || k == "" {
			return
		}
		if _, dup := seen[k]; dup {
			return
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}

	for _, field := range strings.FieldsFunc(strings.ToLower(topic), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		for _, run := range splitScripts(field) {
			runes := []rune(run)
			if !unicode.Is(unicode.Han, runes[0]) {
				if len(runes) >= 3 {
					add(run)
				}
				continue
			}
			if len(runes) <= 4 {
				add(run)
				continue
			}
			for i := 0; i < len(runes); i += 2 {
				end := i + 2
				if end > len(runes) || len(runes)-end == 1 {
					end = len(runes)
				}
				add(string(runes[i:end]))
				if end == len(runes) {
					break
				}
			}
		}
	}
	return out
}

// splitScripts separates Han runs from other letters inside one field.
func splitScripts(s string) []string {
	var parts []string
	var cur []rune
	curHan := false
	for _, r := range s {
		han := unicode.Is(unicode.Han, r)
		if len(cur) > 0 && han != curHan {
			parts = append(parts, string(cur))
			cur = cur[:0]
		}
		cur = append(cur, r)
		curHan = han
	}
	if len(cur) > 0 {
		parts = append(parts, string(cur))
	}
	return parts
}
