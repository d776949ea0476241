package rules

import (
	"regexp"
	"sort"
	"strings"
)

// Entity types produced by the extractor.
const (
	TypePercentage   = "percentage"
	TypeCurrency     = "currency"
	TypeScaledNumber = "scaled_number"
	TypeNumber       = "number"
	TypeFullDate     = "full_date"
	TypeYearMonth    = "year_month"
	TypeYear         = "year"
	TypeCompany      = "company"
	TypeMetric       = "metric"
)

// Entity is one extracted value.
type Entity struct {
	Type       string  `json:"type"`
	Value      string  `json:"value"`
	Key        string  `json:"key,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Entities groups extracted values by kind.
type Entities struct {
	Numbers  []Entity `json:"numbers"`
	Dates    []Entity `json:"dates"`
	Entities []Entity `json:"entities"`
	Metrics  []Entity `json:"metrics"`
}

// All returns every entity in a single slice.
func (e Entities) All() []Entity {
	out := make([]Entity, 0, e.Len())
	out = append(out, e.Numbers...)
	out = append(out, e.Dates...)
	out = append(out, e.Entities...)
	return append(out, e.Metrics...)
}

// Len is the total entity count.
func (e Entities) Len() int {
	return len(e.Numbers) + len(e.Dates) + len(e.Entities) + len(e.Metrics)
}

// Extractor pulls typed entities out of text.
type Extractor interface {
	Extract(text string) Entities
}

type pattern struct {
	typ   string
	re    *regexp.Regexp
	group string // "numbers" or "dates"
}

// Numeric and date patterns claim text spans in this order, so "2024年3月" is a
// year-month and never also a year or a plain number.
var spanPatterns = []pattern{
	{TypeFullDate, regexp.MustCompile(`\d{4}[-/.年]\d{1,2}[-/.月]\d{1,2}日?`), "dates"},
	{TypeYearMonth, regexp.MustCompile(`\d{4}(?:[-/]\d{1,2}\b|年\d{1,2}月)`), "dates"},
	{TypeCurrency, regexp.MustCompile(`(?i)[$¥€£]\s?\d[\d,]*(?:\.\d+)?(?:\s?(?:trillion|billion|million|bn|亿|万))?|\d[\d,]*(?:\.\d+)?\s?(?:亿|万)?(?:元|美元|人民币|欧元)|\d[\d,]*(?:\.\d+)?\s?(?:usd|rmb|dollars)\b`), "numbers"},
	{TypePercentage, regexp.MustCompile(`[-+]?\d+(?:\.\d+)?\s?%`), "numbers"},
	{TypeScaledNumber, regexp.MustCompile(`(?i)\d+(?:\.\d+)?\s?(?:trillion|billion|million|thousand|亿|万|千)`), "numbers"},
	{TypeYear, regexp.MustCompile(`(?:19|20)\d{2}年?`), "dates"},
	{TypeNumber, regexp.MustCompile(`\d{1,3}(?:,\d{3})+(?:\.\d+)?|\d+\.\d+|\d{2,}`), "numbers"},
}

var (
	latinCompany = regexp.MustCompile(`\b[A-Z][A-Za-z0-9&]+(?:\s[A-Z][A-Za-z0-9&]+){0,3}\s(?:Inc|Corp|Corporation|Ltd|LLC|Group|Co|Motors|Technologies)\b\.?`)
	hanCompany   = regexp.MustCompile(`\p{Han}{2,6}(?:公司|集团|科技|汽车|股份)`)
	metricKV     = regexp.MustCompile(`(?i)(营收|收入|利润|销量|市场份额|增长率|渗透率|revenue|profit|sales|market share|growth rate|growth)\s*(?:[:：]|为|达到|达|是|of|was|reached|at)?\s*([-+]?\d[\d,]*(?:\.\d+)?\s?(?:%|亿|万|billion|million)?)`)
)

// RegexExtractor is the fixed regular expression ruleset.
type RegexExtractor struct {
	conf map[string]float64
}

// NewRegexExtractor takes base confidences from rs.
func NewRegexExtractor(rs *Ruleset) *RegexExtractor {
	return &RegexExtractor{conf: rs.EntityConfidence}
}

type span struct{ start, end int }

func overlaps(claimed []span, s span) bool {
	for _, c := range claimed {
		if s.start < c.end && c.start < s.end {
			return true
		}
	}
	return false
}

// Extract returns de-duplicated entities. Within each group values keep the order
// in which they appear in text.
func (x *RegexExtractor) Extract(text string) Entities {
	var out Entities
	var claimed []span

	type located struct {
		pos int
		e   Entity
	}
	var numbers, dates []located
	seen := make(map[string]bool)

	for _, p := range spanPatterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			s := span{loc[0], loc[1]}
			if overlaps(claimed, s) {
				continue
			}
			claimed = append(claimed, s)
			value := strings.TrimSpace(text[s.start:s.end])
			key := p.typ + "|" + value
			if seen[key] {
				continue
			}
			seen[key] = true
			l := located{s.start, Entity{Type: p.typ, Value: value, Confidence: x.conf[p.typ]}}
			if p.group == "dates" {
				dates = append(dates, l)
			} else {
				numbers = append(numbers, l)
			}
		}
	}
	sort.SliceStable(numbers, func(i, j int) bool { return numbers[i].pos < numbers[j].pos })
	sort.SliceStable(dates, func(i, j int) bool { return dates[i].pos < dates[j].pos })
	for _, l := range numbers {
		out.Numbers = append(out.Numbers, l.e)
	}
	for _, l := range dates {
		out.Dates = append(out.Dates, l.e)
	}

	for _, re := range []*regexp.Regexp{latinCompany, hanCompany} {
		for _, m := range re.FindAllString(text, -1) {
			value := strings.TrimSuffix(strings.TrimSpace(m), ".")
			if seen[TypeCompany+"|"+value] {
				continue
			}
			seen[TypeCompany+"|"+value] = true
			out.Entities = append(out.Entities, Entity{Type: TypeCompany, Value: value, Confidence: x.conf[TypeCompany]})
		}
	}

	for _, m := range metricKV.FindAllStringSubmatch(text, -1) {
		key := strings.ToLower(m[1])
		value := strings.TrimSpace(m[2])
		if seen[TypeMetric+"|"+key+"|"+value] {
			continue
		}
		seen[TypeMetric+"|"+key+"|"+value] = true
		out.Metrics = append(out.Metrics, Entity{Type: TypeMetric, Key: key, Value: value, Confidence: x.conf[TypeMetric]})
	}

	return out
}
