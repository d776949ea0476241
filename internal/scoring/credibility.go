package scoring

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// CredibilityRules holds domain credibility scoring rules.
type CredibilityRules struct {
	TLDPatterns []struct {
		Suffix      string  `yaml:"suffix"`
		Score       float64 `yaml:"score"`
		Description string  `yaml:"description"`
	} `yaml:"tld_patterns"`

	DomainGroups []struct {
		Category    string   `yaml:"category"`
		Score       float64  `yaml:"score"`
		Description string   `yaml:"description"`
		Domains     []string `yaml:"domains"`
	} `yaml:"domain_groups"`

	DefaultScore float64 `yaml:"default_score"`
}

type credibilityFile struct {
	CredibilityRules CredibilityRules `yaml:"credibility_rules"`
}

// LoadCredibilityRules reads rules from a YAML file. An empty path returns the
// built-in defaults.
func LoadCredibilityRules(path string) (*CredibilityRules, error) {
	if path == "" {
		return DefaultCredibilityRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credibility rules %s: %w", path, err)
	}
	return ParseCredibilityRules(data)
}

// ParseCredibilityRules decodes YAML credibility rules.
func ParseCredibilityRules(data []byte) (*CredibilityRules, error) {
	var f credibilityFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse credibility rules: %w", err)
	}
	return &f.CredibilityRules, nil
}

const defaultCredibilityYAML = `
credibility_rules:
  tld_patterns:
    - {suffix: ".edu", score: 0.85, description: Educational}
    - {suffix: ".gov", score: 0.80, description: Government}
    - {suffix: ".gov.cn", score: 0.80, description: Government}
  domain_groups:
    - category: academic
      score: 0.90
      domains: [arxiv.org, nature.com, science.org, ieee.org, acm.org, springer.com]
    - category: news
      score: 0.75
      domains: [reuters.com, bloomberg.com, ft.com, wsj.com, xinhuanet.com, caixin.com]
    - category: industry
      score: 0.70
      domains: [gartner.com, mckinsey.com, statista.com, idc.com]
    - category: social
      score: 0.40
      domains: [reddit.com, twitter.com, x.com, weibo.com, zhihu.com]
  default_score: 0.60
`

// DefaultCredibilityRules returns the built-in fallback table.
func DefaultCredibilityRules() *CredibilityRules {
	rules, err := ParseCredibilityRules([]byte(defaultCredibilityYAML))
	if err != nil {
		panic(err)
	}
	return rules
}

// Score returns the credibility of a domain. TLD patterns win over domain
// groups; subdomains match their parent domain.
func (c *CredibilityRules) Score(domain string) float64 {
	domain = strings.ToLower(domain)

	for _, tld := range c.TLDPatterns {
		if strings.HasSuffix(domain, tld.Suffix) {
			return tld.Score
		}
	}

	for _, group := range c.DomainGroups {
		for _, known := range group.Domains {
			known = strings.ToLower(known)
			if domain == known || strings.HasSuffix(domain, "."+known) {
				return group.Score
			}
		}
	}

	if c.DefaultScore > 0 {
		return c.DefaultScore
	}
	return 0.60
}

// ScoreURL extracts the domain of rawURL and scores it.
func (c *CredibilityRules) ScoreURL(rawURL string) float64 {
	domain, err := ExtractDomain(rawURL)
	if err != nil || domain == "" {
		return c.Score("")
	}
	return c.Score(domain)
}
