package tools

import (
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researchd/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/policy"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/report"
)

// Provider names accepted in configuration.
const (
	ProviderSimulated = "simulated"
	ProviderBrave     = "brave"
	ProviderSerper    = "serper"
	ProviderHTTP      = "http"
	ProviderChromedp  = "chromedp"
)

// SearchConfig selects the web_search provider.
type SearchConfig struct {
	Provider string        `mapstructure:"provider"`
	APIKey   string        `mapstructure:"api_key"`
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// FetchConfig selects the web_fetch provider.
type FetchConfig struct {
	Provider string        `mapstructure:"provider"`
	Timeout  time.Duration `mapstructure:"timeout"`
	MaxChars int           `mapstructure:"max_chars"`
}

// Config configures the default tool set.
type Config struct {
	Search            SearchConfig            `mapstructure:"search"`
	Fetch             FetchConfig             `mapstructure:"fetch"`
	Breaker           circuitbreaker.Settings `mapstructure:"circuit_breaker"`
	ReportTemplateDir string                  `mapstructure:"report_template_dir"`
}

// DefaultConfig uses the simulated providers.
func DefaultConfig() Config {
	return Config{
		Search:  SearchConfig{Provider: ProviderSimulated, Timeout: 15 * time.Second},
		Fetch:   FetchConfig{Provider: ProviderSimulated, Timeout: 20 * time.Second, MaxChars: 20000},
		Breaker: circuitbreaker.DefaultHTTPSettings(),
	}
}

// NewDefaultRegistry registers web_search, web_fetch and synthesize_report.
func NewDefaultRegistry(cfg Config, engine policy.Engine, logger *zap.Logger) (*Registry, error) {
	sim := NewSimulated(nil)
	search, err := NewSearchProvider(cfg.Search, sim, cfg.Breaker, logger)
	if err != nil {
		return nil, err
	}
	fetch, err := NewPageFetcher(cfg.Fetch, sim, cfg.Breaker, logger)
	if err != nil {
		return nil, err
	}

	r := NewRegistry(engine, logger)
	r.Register(NewWebSearch(search))
	r.Register(NewWebFetch(fetch))
	r.Register(NewSynthesize(report.NewSynthesizer(logger), report.LoadRenderTemplate(cfg.ReportTemplateDir, logger)))
	return r, nil
}
