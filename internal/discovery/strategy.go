package discovery

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"
)

// QueryKind labels how a query was derived from its seed.
type QueryKind string

const (
	KindBasic    QueryKind = "basic"
	KindSynonym  QueryKind = "synonym"
	KindRelated  QueryKind = "related"
	KindTemporal QueryKind = "temporal"
)

var kindWeights = map[QueryKind]float64{
	KindBasic:    1.0,
	KindSynonym:  0.8,
	KindRelated:  0.6,
	KindTemporal: 0.7,
}

// Query is one search to issue.
type Query struct {
	Text        string    `json:"text"`
	Kind        QueryKind `json:"kind"`
	Weight      float64   `json:"weight"`
	SourceQuery string    `json:"source_query,omitempty"`
}

// Strategy controls expansion and the content types requested from providers.
type Strategy struct {
	Name           string   `json:"name"`
	QueryExpansion bool     `json:"query_expansion"`
	MultiSource    bool     `json:"multi_source"`
	TimeRange      string   `json:"time_range"`
	ContentTypes   []string `json:"content_types"`
}

var (
	strategyComprehensive = Strategy{Name: "comprehensive", QueryExpansion: true, MultiSource: true, TimeRange: "all", ContentTypes: []string{"web", "news", "academic", "reports"}}
	strategyAcademic      = Strategy{Name: "academic", QueryExpansion: true, TimeRange: "all", ContentTypes: []string{"academic", "reports"}}
	strategyRecent        = Strategy{Name: "recent", MultiSource: true, TimeRange: "recent", ContentTypes: []string{"news", "web"}}
	strategyFocused       = Strategy{Name: "focused", TimeRange: "all", ContentTypes: []string{"web"}}
)

// SelectStrategy applies the fixed precedence: comprehensive scope, then academic
// data, then recent news, then focused.
func SelectStrategy(scope, timeRange string, dataTypes []string) Strategy {
	has := func(want string) bool {
		for _, d := range dataTypes {
			if strings.EqualFold(d, want) {
				return true
			}
		}
		return false
	}
	switch {
	case strings.EqualFold(scope, "comprehensive"):
		return strategyComprehensive
	case has("academic"):
		return strategyAcademic
	case strings.EqualFold(timeRange, "recent") && has("news"):
		return strategyRecent
	default:
		return strategyFocused
	}
}

var synonyms = []struct{ from, to string }{
	{"market", "industry"},
	{"analysis", "research"},
	{"trend", "outlook"},
	{"company", "enterprise"},
	{"electric vehicle", "EV"},
	{"市场", "行业"},
	{"分析", "研究"},
	{"趋势", "前景"},
	{"公司", "企业"},
	{"新能源汽车", "电动汽车"},
}

func hasHan(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}

func synonymVariant(q string) (string, bool) {
	lower := strings.ToLower(q)
	for _, s := range synonyms {
		if i := strings.Index(lower, strings.ToLower(s.from)); i >= 0 {
			return q[:i] + s.to + q[i+len(s.from):], true
		}
	}
	return "", false
}

// ExpandQueries derives weighted variants of each seed, removes exact duplicates
// keeping the highest weight, sorts by weight and caps the list at maxSearches.
func ExpandQueries(seeds []string, s Strategy, maxSearches int, now time.Time) []Query {
	var all []Query
	for _, seed := range seeds {
		seed = strings.TrimSpace(seed)
		if seed == "" {
			continue
		}
		all = append(all, Query{Text: seed, Kind: KindBasic, Weight: kindWeights[KindBasic], SourceQuery: seed})
		if !s.QueryExpansion {
			continue
		}
		if v, ok := synonymVariant(seed); ok {
			all = append(all, Query{Text: v, Kind: KindSynonym, Weight: kindWeights[KindSynonym], SourceQuery: seed})
		}
		related := seed + " trends and outlook"
		temporal := fmt.Sprintf("%s %d", seed, now.Year())
		if hasHan(seed) {
			related = seed + " 发展趋势"
			temporal = fmt.Sprintf("%s %d年", seed, now.Year())
		}
		all = append(all,
			Query{Text: related, Kind: KindRelated, Weight: kindWeights[KindRelated], SourceQuery: seed},
			Query{Text: temporal, Kind: KindTemporal, Weight: kindWeights[KindTemporal], SourceQuery: seed},
		)
	}

	best := make(map[string]int)
	var out []Query
	for _, q := range all {
		if i, ok := best[q.Text]; ok {
			if q.Weight > out[i].Weight {
				out[i] = q
			}
			continue
		}
		best[q.Text] = len(out)
		out = append(out, q)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Weight > out[j].Weight })
	if maxSearches > 0 && len(out) > maxSearches {
		out = out[:maxSearches]
	}
	return out
}
