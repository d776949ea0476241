package report

import (
	"fmt"
	"strings"

	"github.com/Kocoro-lab/Shannon/go/researchd/internal/analysis"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/rules"
)

// SectionInput is what a section generator sees.
type SectionInput struct {
	Section  SectionSpec
	Topic    string
	Query    string
	Insights []analysis.Insight
}

// Generator writes the content of one section.
type Generator func(in SectionInput) (string, error)

func pick(in SectionInput, categories ...string) []analysis.Insight {
	var out []analysis.Insight
	for _, c := range categories {
		out = append(out, analysis.Filter(in.Insights, c)...)
	}
	return out
}

func bullets(insights []analysis.Insight) string {
	var b strings.Builder
	for _, in := range insights {
		fmt.Fprintf(&b, "- **%s** (%s importance, confidence %.2f): %s\n", in.Title, in.Importance, in.Confidence, in.Content)
	}
	return b.String()
}

func orFallback(insights []analysis.Insight, topic, area string) string {
	if len(insights) == 0 {
		return fmt.Sprintf("Available sources provided limited %s information about %s; this area warrants further research.\n", area, topic)
	}
	return bullets(insights)
}

var defaultGenerators = map[string]Generator{
	"executive_summary": func(in SectionInput) (string, error) {
		high := analysis.Filter(in.Insights, "", analysis.ImportanceHigh)
		s := fmt.Sprintf("This report analyzes %s based on %d derived insights, %d of which are rated high importance.\n\n",
			in.Topic, len(in.Insights), len(high))
		if ov := analysis.Filter(in.Insights, analysis.CategoryOverview); len(ov) > 0 {
			s += ov[0].Content + "\n"
		}
		return s, nil
	},
	"market_overview": func(in SectionInput) (string, error) {
		return fmt.Sprintf("The market for %s shows the following characteristics:\n\n", in.Topic) +
			orFallback(pick(in, rules.CategoryMarket), in.Topic, "market"), nil
	},
	"market_size": func(in SectionInput) (string, error) {
		return fmt.Sprintf("Size and growth indicators for %s:\n\n", in.Topic) +
			orFallback(pick(in, rules.CategoryMarket, rules.CategoryFinancial), in.Topic, "sizing"), nil
	},
	"competitive_landscape": func(in SectionInput) (string, error) {
		return fmt.Sprintf("Competitive positioning within %s:\n\n", in.Topic) +
			orFallback(pick(in, rules.CategoryCompetitive), in.Topic, "competitive"), nil
	},
	"trends": func(in SectionInput) (string, error) {
		return fmt.Sprintf("Technology and demand trends shaping %s:\n\n", in.Topic) +
			orFallback(pick(in, rules.CategoryTechnical, rules.CategoryMarket), in.Topic, "trend"), nil
	},
	"opportunities_risks": func(in SectionInput) (string, error) {
		return fmt.Sprintf("Policy and social factors create both opportunities and risks for %s:\n\n", in.Topic) +
			orFallback(pick(in, rules.CategoryRegulatory, rules.CategorySocial), in.Topic, "policy or social"), nil
	},
	"background": func(in SectionInput) (string, error) {
		return fmt.Sprintf("This report was prepared in response to the request %q and examines %s from financial, market, technical, competitive, regulatory and social perspectives.\n",
			in.Query, in.Topic), nil
	},
	"key_findings": func(in SectionInput) (string, error) {
		return orFallback(analysis.Filter(in.Insights, "", analysis.ImportanceHigh, analysis.ImportanceMedium), in.Topic, "high-confidence"), nil
	},
	"detailed_analysis": func(in SectionInput) (string, error) {
		var parts []analysis.Insight
		for _, i := range in.Insights {
			if i.Category != analysis.CategoryOverview {
				parts = append(parts, i)
			}
		}
		return orFallback(parts, in.Topic, "detailed"), nil
	},
	"implications": func(in SectionInput) (string, error) {
		return fmt.Sprintf("Implications for stakeholders in %s:\n\n", in.Topic) +
			orFallback(pick(in, rules.CategoryRegulatory, rules.CategorySocial, rules.CategoryCompetitive), in.Topic, "implication"), nil
	},
	"conclusion": func(in SectionInput) (string, error) {
		conf := 0.0
		for _, i := range in.Insights {
			conf += i.Confidence
		}
		if len(in.Insights) > 0 {
			conf /= float64(len(in.Insights))
		}
		return fmt.Sprintf("Overall, the evidence gathered on %s supports the findings above with an average confidence of %.2f. Figures should be verified against primary sources before use.\n",
			in.Topic, conf), nil
	},
}

// genericGenerator covers section ids without a dedicated generator.
func genericGenerator(in SectionInput) (string, error) {
	return fmt.Sprintf("%s for %s draws on %d insights collected during research.\n", in.Section.Title, in.Topic, len(in.Insights)), nil
}
