// Package discovery expands seed queries, fans them out to a search capability
// and ranks the merged results.
package discovery

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Kocoro-lab/Shannon/go/researchd/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/scoring"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/task"
)

// Config holds discovery tuning.
type Config struct {
	MaxSearches      int             `mapstructure:"max_searches"`
	MaxResults       int             `mapstructure:"max_results"`
	ResultsPerQuery  int             `mapstructure:"results_per_query"`
	Concurrency      int             `mapstructure:"concurrency"`
	RequestInterval  time.Duration   `mapstructure:"request_interval"`
	QualityThreshold float64         `mapstructure:"quality_threshold"`
	Weights          scoring.Weights `mapstructure:"weights"`
}

// DefaultConfig returns the stock settings.
func DefaultConfig() Config {
	return Config{
		MaxSearches:      5,
		MaxResults:       20,
		ResultsPerQuery:  8,
		Concurrency:      3,
		RequestInterval:  200 * time.Millisecond,
		QualityThreshold: 0.5,
		Weights:          scoring.DefaultWeights(),
	}
}

// Request is the input to one discovery run.
type Request struct {
	Seeds     []string
	Topic     string
	Scope     string
	TimeRange string
	DataTypes []string
}

// Result is one ranked search hit.
type Result struct {
	Title            string         `json:"title"`
	URL              string         `json:"url"`
	Snippet          string         `json:"snippet"`
	Source           string         `json:"source"`
	PublishDate      *time.Time     `json:"publish_date,omitempty"`
	ContentType      string         `json:"content_type"`
	CredibilityScore float64        `json:"credibility_score"`
	SourceQuery      string         `json:"source_query"`
	QueryWeight      float64        `json:"query_weight"`
	Scores           scoring.Scores `json:"scores"`
}

// SearchFunc runs one query against the search capability.
type SearchFunc func(ctx context.Context, q Query, s Strategy, limit int) ([]Result, error)

// QueryFailure records a query that errored or returned nothing.
type QueryFailure struct {
	Query string `json:"query"`
	Error string `json:"error"`
}

// Output is the stage result.
type Output struct {
	Strategy   Strategy       `json:"strategy"`
	Queries    []Query        `json:"queries"`
	Results    []Result       `json:"results"`
	Failures   []QueryFailure `json:"failures,omitempty"`
	Duplicates int            `json:"duplicates"`
	Filtered   int            `json:"filtered"`
}

// Stage runs discovery.
type Stage struct {
	cfg         Config
	search      SearchFunc
	credibility *scoring.CredibilityRules
	logger      *zap.Logger
	now         func() time.Time
}

// NewStage builds a discovery stage. A nil credibility table uses the defaults.
func NewStage(cfg Config, search SearchFunc, credibility *scoring.CredibilityRules, logger *zap.Logger) *Stage {
	def := DefaultConfig()
	if cfg.MaxSearches <= 0 {
		cfg.MaxSearches = def.MaxSearches
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = def.MaxResults
	}
	if cfg.ResultsPerQuery <= 0 {
		cfg.ResultsPerQuery = def.ResultsPerQuery
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Weights.Validate() != nil || cfg.Weights == (scoring.Weights{}) {
		cfg.Weights = def.Weights
	}
	if credibility == nil {
		credibility = scoring.DefaultCredibilityRules()
	}
	return &Stage{cfg: cfg, search: search, credibility: credibility, logger: logger, now: time.Now}
}

// Run executes the stage. Failed or empty queries are recorded and skipped; only
// cancellation aborts the run. If every query fails the output is empty.
func (s *Stage) Run(ctx context.Context, req Request) (*Output, error) {
	start := time.Now()
	defer func() { metrics.StageDuration.WithLabelValues("discovery").Observe(time.Since(start).Seconds()) }()

	strategy := SelectStrategy(req.Scope, req.TimeRange, req.DataTypes)
	seeds := req.Seeds
	if len(seeds) == 0 && req.Topic != "" {
		seeds = []string{req.Topic}
	}
	queries := ExpandQueries(seeds, strategy, s.cfg.MaxSearches, s.now())
	out := &Output{Strategy: strategy, Queries: queries}

	s.logger.Debug("Discovery starting",
		zap.String("strategy", strategy.Name),
		zap.Int("queries", len(queries)))

	raw, failures, err := s.fanOut(ctx, queries, strategy)
	if err != nil {
		return nil, err
	}
	out.Failures = failures

	topic := req.Topic
	if topic == "" {
		topic = strings.Join(seeds, " ")
	}
	out.Results, out.Duplicates, out.Filtered = s.rank(raw, topic)

	s.logger.Info("Discovery finished",
		zap.String("strategy", strategy.Name),
		zap.Int("queries", len(queries)),
		zap.Int("failed_queries", len(failures)),
		zap.Int("results", len(out.Results)),
		zap.Int("filtered", out.Filtered))
	return out, nil
}

// fanOut issues queries through a bounded pool paced by a shared limiter. Results
// keep query order regardless of completion order.
func (s *Stage) fanOut(ctx context.Context, queries []Query, strategy Strategy) ([]Result, []QueryFailure, error) {
	perQuery := make([][]Result, len(queries))
	var (
		mu       sync.Mutex
		failures []QueryFailure
	)
	fail := func(q Query, msg string) {
		metrics.DiscoveryQueryFailures.Inc()
		mu.Lock()
		failures = append(failures, QueryFailure{Query: q.Text, Error: msg})
		mu.Unlock()
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if s.cfg.RequestInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(s.cfg.RequestInterval), 1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, q := range queries {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := limiter.Wait(gctx); err != nil {
				if cause := task.CancelCause(gctx, err); cause != nil {
					return cause
				}
				// the pacing delay would outlast the task deadline
				fail(q, err.Error())
				return nil
			}
			results, err := s.search(gctx, q, strategy, s.cfg.ResultsPerQuery)
			if err != nil {
				if cause := task.CancelCause(gctx, err); cause != nil {
					return cause
				}
				s.logger.Warn("Search query failed", zap.String("query", q.Text), zap.Error(err))
				fail(q, err.Error())
				return nil
			}
			if len(results) == 0 {
				fail(q, "no results")
				return nil
			}
			for j := range results {
				results[j].SourceQuery = q.Text
				results[j].QueryWeight = q.Weight
			}
			perQuery[i] = results
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, nil, context.Cause(ctx)
		}
		return nil, nil, err
	}
	if ctx.Err() != nil {
		return nil, nil, context.Cause(ctx)
	}

	var merged []Result
	for _, rs := range perQuery {
		merged = append(merged, rs...)
	}
	sort.SliceStable(failures, func(i, j int) bool { return failures[i].Query < failures[j].Query })
	return merged, failures, nil
}

// rank deduplicates by normalized URL, scores, filters by the quality threshold
// and sorts by final score.
func (s *Stage) rank(raw []Result, topic string) (kept []Result, duplicates, filtered int) {
	index := make(map[string]int)
	var unique []Result
	for _, r := range raw {
		key := r.URL
		if norm, err := scoring.NormalizeURL(r.URL); err == nil && norm != "" {
			key = norm
		}
		if i, ok := index[key]; ok {
			duplicates++
			if r.QueryWeight > unique[i].QueryWeight {
				unique[i].SourceQuery, unique[i].QueryWeight = r.SourceQuery, r.QueryWeight
			}
			if unique[i].PublishDate == nil && r.PublishDate != nil {
				unique[i].PublishDate = r.PublishDate
			}
			continue
		}
		if r.Source == "" {
			r.Source, _ = scoring.ExtractDomain(r.URL)
		}
		index[key] = len(unique)
		unique = append(unique, r)
	}
	metrics.DiscoveryResults.WithLabelValues("duplicate").Add(float64(duplicates))

	perSource := make(map[string]int)
	for _, r := range unique {
		perSource[r.Source]++
	}

	keywords := scoring.Keywords(topic)
	now := s.now()
	for _, r := range unique {
		cred := r.CredibilityScore
		if cred <= 0 {
			cred = s.credibility.ScoreURL(r.URL)
			r.CredibilityScore = cred
		}
		r.Scores = scoring.Scores{
			Relevance:   scoring.Relevance(keywords, r.Title+" "+r.Snippet),
			Freshness:   scoring.Freshness(r.PublishDate, now),
			Credibility: cred,
			Diversity:   scoring.Diversity(perSource[r.Source], len(unique)),
		}.Combine(s.cfg.Weights)

		if r.Scores.Final < s.cfg.QualityThreshold {
			filtered++
			continue
		}
		kept = append(kept, r)
	}
	metrics.DiscoveryResults.WithLabelValues("filtered").Add(float64(filtered))

	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Scores.Final > kept[j].Scores.Final })
	if len(kept) > s.cfg.MaxResults {
		kept = kept[:s.cfg.MaxResults]
	}
	metrics.DiscoveryResults.WithLabelValues("kept").Add(float64(len(kept)))
	return kept, duplicates, filtered
}
