package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kocoro-lab/Shannon/go/researchd/internal/retrieval"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/rules"
)

func rec(id, url, category string, conf float64, ents rules.Entities) retrieval.Record {
	return retrieval.Record{ID: id, Category: category, Source: retrieval.Source{URL: url}, Confidence: conf, Entities: ents, Topic: "EV"}
}

func TestDeriveEmpty(t *testing.T) {
	ins := Derive("EV", nil, nil)
	require.Len(t, ins, 1)
	assert.Equal(t, ImportanceLow, ins[0].Importance)
	assert.Equal(t, CategoryOverview, ins[0].Category)
	assert.Less(t, ins[0].Confidence, 0.5)
}

func TestDerive(t *testing.T) {
	pct := rules.Entities{
		Numbers: []rules.Entity{{Type: rules.TypePercentage, Value: "35%", Confidence: 0.9}},
		Metrics: []rules.Entity{{Type: rules.TypeMetric, Key: "销量", Value: "950万", Confidence: 0.85}},
	}
	records := []retrieval.Record{
		rec("1", "u1", rules.CategoryTechnical, 0.7, pct),
		rec("2", "u1", rules.CategoryMarket, 0.9, pct),
		rec("3", "u2", rules.CategoryMarket, 0.8, pct),
	}
	ins := Derive("EV", records, retrieval.BuildGraph("EV", records))
	require.Len(t, ins, 3)

	assert.Equal(t, CategoryOverview, ins[0].Category)
	assert.Contains(t, ins[0].Content, "35%")
	assert.Equal(t, rules.CategoryMarket, ins[1].Category, "canonical category order")
	assert.Equal(t, rules.CategoryTechnical, ins[2].Category)

	assert.Equal(t, ImportanceHigh, ins[1].Importance)
	assert.InDelta(t, 0.85, ins[1].Confidence, 1e-9)
	assert.Contains(t, ins[1].Content, "销量 950万")
	assert.Equal(t, ImportanceMedium, ins[2].Importance)
}

func TestFilter(t *testing.T) {
	ins := []Insight{
		{Category: "market", Importance: ImportanceHigh},
		{Category: "market", Importance: ImportanceLow},
		{Category: "financial", Importance: ImportanceHigh},
	}
	assert.Len(t, Filter(ins, "market"), 2)
	assert.Len(t, Filter(ins, "", ImportanceHigh), 2)
	assert.Len(t, Filter(ins, "market", ImportanceHigh, ImportanceMedium), 1)
}
