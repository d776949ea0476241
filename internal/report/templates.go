package report

import "regexp"

// Template names.
const (
	TemplateMarketResearch = "market_research"
	TemplateComprehensive  = "comprehensive"
)

// SectionSpec declares one section of a template.
type SectionSpec struct {
	ID    string
	Title string
	Order int
}

// Template is a fixed ordered list of sections.
type Template struct {
	Name     string
	Sections []SectionSpec
}

var templates = map[string]Template{
	TemplateMarketResearch: {
		Name: TemplateMarketResearch,
		Sections: []SectionSpec{
			{ID: "executive_summary", Title: "Executive Summary", Order: 1},
			{ID: "market_overview", Title: "Market Overview", Order: 2},
			{ID: "market_size", Title: "Market Size and Growth", Order: 3},
			{ID: "competitive_landscape", Title: "Competitive Landscape", Order: 4},
			{ID: "trends", Title: "Key Trends", Order: 5},
			{ID: "opportunities_risks", Title: "Opportunities and Risks", Order: 6},
			{ID: "conclusion", Title: "Conclusion", Order: 7},
		},
	},
	TemplateComprehensive: {
		Name: TemplateComprehensive,
		Sections: []SectionSpec{
			{ID: "executive_summary", Title: "Executive Summary", Order: 1},
			{ID: "background", Title: "Background", Order: 2},
			{ID: "key_findings", Title: "Key Findings", Order: 3},
			{ID: "detailed_analysis", Title: "Detailed Analysis", Order: 4},
			{ID: "implications", Title: "Implications", Order: 5},
			{ID: "methodology", Title: "Methodology and Sources", Order: 6},
			{ID: "conclusion", Title: "Conclusion", Order: 7},
		},
	},
}

var marketQuery = regexp.MustCompile(`(?i)market|industry|competition|competitive|市场|行业|竞争`)

// SelectTemplate picks the market research template for market, industry or
// competition queries and the comprehensive template otherwise.
func SelectTemplate(query string) Template {
	if marketQuery.MatchString(query) {
		return templates[TemplateMarketResearch]
	}
	return templates[TemplateComprehensive]
}

// TemplateByName returns a template by name.
func TemplateByName(name string) (Template, bool) {
	t, ok := templates[name]
	return t, ok
}
