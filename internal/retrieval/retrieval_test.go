package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researchd/internal/discovery"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/rules"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/task"
)

const evArticle = `2024年新能源汽车市场销量达到950万辆，同比增长35.8%，市场份额提升至31.6%。
比亚迪汽车营收达到6023亿元，利润为300亿元。Tesla Inc reported revenue of $96.7 billion in 2023.
行业竞争格局加速变化，龙头企业持续领先。电池技术专利数量快速增长，研发投入超过400亿元。
政策层面，政府补贴逐步退坡，监管部门发布新的行业规定。消费者调查显示，超过60%的受访用户愿意购买电动车。`

func pages(m map[string]string) FetchFunc {
	return func(ctx context.Context, url string) (Document, error) {
		body, ok := m[url]
		if !ok {
			return Document{}, errors.New("404 not found")
		}
		return Document{URL: url, Title: "page " + url, Content: body}, nil
	}
}

func newTestStage(fetch FetchFunc) *Stage {
	rs := rules.Default()
	return NewStage(DefaultConfig(), fetch, rules.NewKeywordCategorizer(rs), rules.NewRegexExtractor(rs), zap.NewNop())
}

func results(urls ...string) []discovery.Result {
	var out []discovery.Result
	for _, u := range urls {
		out = append(out, discovery.Result{URL: u, Title: u})
	}
	return out
}

func TestExtractionProducesRecordsPerCategory(t *testing.T) {
	stage := newTestStage(pages(map[string]string{"https://a.example/ev": evArticle}))
	out, err := stage.Run(context.Background(), Request{Results: results("https://a.example/ev"), Topic: "新能源汽车"})
	require.NoError(t, err)
	require.NotEmpty(t, out.Records)

	seen := map[string]bool{}
	for _, r := range out.Records {
		assert.False(t, seen[r.Category], "one record per category")
		seen[r.Category] = true
		assert.Equal(t, "https://a.example/ev", r.Source.URL)
		assert.GreaterOrEqual(t, r.Confidence, 0.6)
		assert.NoError(t, r.Validate())
	}
	assert.True(t, seen[rules.CategoryMarket])
	assert.Greater(t, len(out.Records), 1, "a document matching several categories yields several records")
}

func TestNoKeywordDocumentYieldsNoRecords(t *testing.T) {
	body := strings.Repeat("The weather was pleasant and the afternoon passed quietly by the lake. ", 5)
	stage := newTestStage(pages(map[string]string{"https://w.example": body}))
	out, err := stage.Run(context.Background(), Request{Results: results("https://w.example"), Topic: "weather"})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Documents)
	assert.Empty(t, out.Records)
	assert.Empty(t, out.Categories)
}

func TestShortAndFailedFetchesAreDropped(t *testing.T) {
	stage := newTestStage(pages(map[string]string{
		"https://short.example": "市场增长35%",
		"https://ok.example":    evArticle,
	}))
	out, err := stage.Run(context.Background(), Request{
		Results: results("https://short.example", "https://missing.example", "https://ok.example"),
		Topic:   "EV",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Documents)
	assert.Equal(t, 1, out.Dropped["short_content"])
	assert.Equal(t, 1, out.Dropped["fetch_failed"])
	require.Len(t, out.Failures, 1)
	assert.Equal(t, "https://missing.example", out.Failures[0].URL)
}

func TestRequestedCategoriesFilter(t *testing.T) {
	stage := newTestStage(pages(map[string]string{"https://a.example/ev": evArticle}))
	out, err := stage.Run(context.Background(), Request{
		Results:    results("https://a.example/ev"),
		Categories: []string{rules.CategoryTechnical},
		Topic:      "EV",
	})
	require.NoError(t, err)
	for _, r := range out.Records {
		assert.Equal(t, rules.CategoryTechnical, r.Category)
	}
}

func TestDuplicateURLsCollapse(t *testing.T) {
	stage := newTestStage(pages(map[string]string{
		"https://a.example/ev":  evArticle,
		"https://a.example/ev/": evArticle,
	}))
	out, err := stage.Run(context.Background(), Request{
		Results: results("https://a.example/ev", "https://a.example/ev/"),
		Topic:   "EV",
	})
	require.NoError(t, err)
	seen := map[string]int{}
	for _, r := range out.Records {
		seen[r.Category]++
	}
	for cat, n := range seen {
		assert.Equal(t, 1, n, cat)
	}
	assert.Greater(t, out.Dropped["duplicate"], 0)
}

func TestDeduplicateTwoPasses(t *testing.T) {
	stage := newTestStage(pages(map[string]string{"https://a.example/ev": evArticle}))
	out, err := stage.Run(context.Background(), Request{Results: results("https://a.example/ev"), Topic: "EV"})
	require.NoError(t, err)

	twice := append(append([]Record{}, out.Records...), out.Records...)
	assert.Len(t, Deduplicate(twice), len(out.Records))
}

func TestTimedOutFetchIsDropped(t *testing.T) {
	inner := pages(map[string]string{"https://ok.example": evArticle})
	fetch := func(ctx context.Context, url string) (Document, error) {
		if url == "https://slow.example" {
			return Document{}, fmt.Errorf("tool web_fetch: %w", context.DeadlineExceeded)
		}
		return inner(ctx, url)
	}
	tk := task.NewToken(context.Background(), time.Minute)
	defer tk.Cancel()

	out, err := newTestStage(fetch).Run(tk.Context(), Request{Results: results("https://slow.example", "https://ok.example"), Topic: "EV"})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Documents)
	assert.Equal(t, 1, out.Dropped["fetch_failed"])
	require.Len(t, out.Failures, 1)
	assert.Equal(t, "https://slow.example", out.Failures[0].URL)
}

func TestCancellationAbortsExtraction(t *testing.T) {
	tk := task.NewToken(context.Background(), 0)
	fetch := func(ctx context.Context, url string) (Document, error) {
		tk.Cancel()
		return Document{}, task.ErrAborted
	}
	_, err := newTestStage(fetch).Run(tk.Context(), Request{Results: results("https://a.example", "https://b.example")})
	assert.ErrorIs(t, err, task.ErrAborted)
}

func TestGraphIsIdempotent(t *testing.T) {
	stage := newTestStage(pages(map[string]string{"https://a.example/ev": evArticle}))
	out, err := stage.Run(context.Background(), Request{Results: results("https://a.example/ev"), Topic: "EV"})
	require.NoError(t, err)

	g1 := BuildGraph("EV", out.Records)
	g2 := BuildGraph("EV", out.Records)
	assert.Equal(t, len(g1.Nodes), len(g2.Nodes))
	assert.Equal(t, len(g1.Edges), len(g2.Edges))

	doubled := BuildGraph("EV", append(append([]Record{}, out.Records...), out.Records...))
	assert.Equal(t, len(g1.Nodes), len(doubled.Nodes))
	assert.Equal(t, len(g1.Edges), len(doubled.Edges))
	assert.Equal(t, g1.TopEntities(3), doubled.TopEntities(3))
}

func TestGraphShape(t *testing.T) {
	recs := []Record{
		{ID: "r1", Category: "market", Source: Source{URL: "u1", Title: "one"}, Confidence: 0.8,
			Entities: rules.Entities{Numbers: []rules.Entity{{Type: rules.TypePercentage, Value: "35%", Confidence: 0.9}}}},
		{ID: "r2", Category: "financial", Source: Source{URL: "u2", Title: "two"}, Confidence: 0.7,
			Entities: rules.Entities{
				Numbers:  []rules.Entity{{Type: rules.TypePercentage, Value: "35%", Confidence: 0.9}},
				Entities: []rules.Entity{{Type: rules.TypeCompany, Value: "Acme Corp", Confidence: 0.7}},
			}},
	}
	g := BuildGraph("topic", recs)
	counts := g.CountByType()
	assert.Equal(t, 1, counts[NodeTopic])
	assert.Equal(t, 2, counts[NodeDocument])
	assert.Equal(t, 2, counts[NodeEntity])
	assert.Len(t, g.Edges, 2+3)

	top := g.TopEntities(1)
	require.Len(t, top, 1)
	assert.Equal(t, "35%", top[0].Label)
	assert.Equal(t, 2, top[0].Count)
	assert.Equal(t, 0.9, top[0].Weight)
}
