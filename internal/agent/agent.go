// Package agent runs the research pipeline for one request: planning,
// discovery, extraction, analysis, synthesis and a final generation.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researchd/internal/analysis"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/discovery"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/interceptor"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/retrieval"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/rules"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/scoring"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/task"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/tools"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/tracing"
)

// ErrEmptyMessage is the StageError cause for a blank request.
var ErrEmptyMessage = errors.New("message is empty")

// StageError is a fatal pipeline failure.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err) }

func (e *StageError) Unwrap() error { return e.Err }

// Settings are the pipeline knobs. They can be swapped while the service runs;
// each run uses the snapshot taken when it started.
type Settings struct {
	Discovery   discovery.Config `mapstructure:"discovery"`
	Retrieval   retrieval.Config `mapstructure:"retrieval"`
	Scope       string           `mapstructure:"scope"`
	TimeRange   string           `mapstructure:"time_range"`
	DataTypes   []string         `mapstructure:"data_types"`
	Categories  []string         `mapstructure:"categories"`
	Credibility string           `mapstructure:"credibility_rules"`
	Ruleset     string           `mapstructure:"ruleset"`
}

// DefaultSettings returns the built-in pipeline configuration.
func DefaultSettings() Settings {
	return Settings{
		Discovery: discovery.DefaultConfig(),
		Retrieval: retrieval.DefaultConfig(),
		Scope:     "comprehensive",
		TimeRange: "all",
	}
}

// Request is one chat message to research.
type Request struct {
	TaskID   string
	ClientID string
	Message  string
	Context  map[string]any
}

// Capabilities are the intercepted entry points the pipeline calls out through.
type Capabilities struct {
	Generate interceptor.Func[llm.Request, llm.Response]
	Execute  interceptor.Func[tools.Call, tools.Result]
}

// pipeline is an immutable settings snapshot with its loaded rule files.
type pipeline struct {
	settings    Settings
	credibility *scoring.CredibilityRules
	categorizer rules.Categorizer
	extractor   rules.Extractor
}

// Agent runs research requests.
type Agent struct {
	current atomic.Pointer[pipeline]
	logger  *zap.Logger
}

// New loads the rule files named in s.
func New(s Settings, logger *zap.Logger) (*Agent, error) {
	p, err := buildPipeline(s)
	if err != nil {
		return nil, err
	}
	a := &Agent{logger: logger}
	a.current.Store(p)
	return a, nil
}

func buildPipeline(s Settings) (*pipeline, error) {
	if err := s.Discovery.Weights.Validate(); err != nil {
		return nil, fmt.Errorf("discovery weights: %w", err)
	}
	cred, err := scoring.LoadCredibilityRules(s.Credibility)
	if err != nil {
		return nil, err
	}
	rs, err := rules.Load(s.Ruleset)
	if err != nil {
		return nil, err
	}
	return &pipeline{
		settings:    s,
		credibility: cred,
		categorizer: rules.NewKeywordCategorizer(rs),
		extractor:   rules.NewRegexExtractor(rs),
	}, nil
}

// UpdateSettings swaps the pipeline configuration for subsequent runs. On error
// the previous configuration stays in effect.
func (a *Agent) UpdateSettings(s Settings) error {
	p, err := buildPipeline(s)
	if err != nil {
		return err
	}
	a.current.Store(p)
	a.logger.Info("Pipeline settings updated",
		zap.Int("max_searches", s.Discovery.MaxSearches),
		zap.Float64("quality_threshold", s.Discovery.QualityThreshold),
		zap.Float64("min_confidence", s.Retrieval.MinConfidence))
	return nil
}

// Settings returns the active configuration.
func (a *Agent) Settings() Settings { return a.current.Load().settings }

// Run executes the pipeline and returns the final response text. Tool failures
// inside discovery and extraction are absorbed by the stages; cancellation is
// returned as the context's cause.
func (a *Agent) Run(ctx context.Context, req Request, caps Capabilities) (string, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return "", &StageError{Stage: "validate", Err: ErrEmptyMessage}
	}
	p := a.current.Load()
	opts := resolveOptions(p.settings, message, req.Context)
	logger := a.logger.With(zap.String("task_id", req.TaskID), zap.String("topic", opts.topic))

	ctx, span := tracing.StartSpan(ctx, "agent.run",
		attribute.String("task.id", req.TaskID),
		attribute.String("research.topic", opts.topic))
	defer span.End()

	// Planning is advisory; a failed plan does not stop the run.
	if _, err := caps.Generate(ctx, llm.Request{
		Purpose:  "plan",
		System:   plannerPrompt,
		Prompt:   fmt.Sprintf("Research request: %s\nTopic: %s", message, opts.topic),
		Fallback: planText(opts),
	}); err != nil {
		if cause := task.CancelCause(ctx, err); cause != nil {
			return "", cause
		}
		logger.Warn("Planning generation failed", zap.Error(err))
	}

	var found *discovery.Output
	err := a.stage(ctx, "discovery", func(ctx context.Context) error {
		stage := discovery.NewStage(p.settings.Discovery, tools.SearchFunc(caps.Execute, req.ClientID), p.credibility, logger)
		var err error
		found, err = stage.Run(ctx, discovery.Request{
			Seeds:     opts.seeds,
			Topic:     opts.topic,
			Scope:     opts.scope,
			TimeRange: opts.timeRange,
			DataTypes: opts.dataTypes,
		})
		return err
	})
	if err != nil {
		return "", err
	}

	var extracted *retrieval.Output
	err = a.stage(ctx, "extraction", func(ctx context.Context) error {
		stage := retrieval.NewStage(p.settings.Retrieval, tools.FetchFunc(caps.Execute, req.ClientID), p.categorizer, p.extractor, logger)
		var err error
		extracted, err = stage.Run(ctx, retrieval.Request{
			Results:    found.Results,
			Categories: opts.categories,
			Topic:      opts.topic,
		})
		return err
	})
	if err != nil {
		return "", err
	}

	var insights []analysis.Insight
	err = a.stage(ctx, "analysis", func(context.Context) error {
		insights = analysis.Derive(opts.topic, extracted.Records, extracted.Graph)
		return nil
	})
	if err != nil {
		return "", err
	}

	var synthesis tools.Synthesis
	err = a.stage(ctx, "synthesis", func(ctx context.Context) error {
		res, err := caps.Execute(ctx, tools.Call{
			Name:     tools.NameSynthesize,
			ClientID: req.ClientID,
			Args:     map[string]any{"topic": opts.topic, "query": message, "insights": insights},
		})
		if err != nil {
			return err
		}
		out, ok := res.Output.(tools.Synthesis)
		if !ok {
			return fmt.Errorf("unexpected synthesis output %T", res.Output)
		}
		synthesis = out
		return nil
	})
	if err != nil {
		return "", err
	}

	resp, err := caps.Generate(ctx, llm.Request{
		Purpose:  "respond",
		System:   responderPrompt,
		Prompt:   fmt.Sprintf("Request: %s\n\nDraft report:\n%s", message, synthesis.Markdown),
		Fallback: synthesis.Markdown,
	})
	if err != nil {
		if cause := task.CancelCause(ctx, err); cause != nil {
			return "", cause
		}
		logger.Warn("Final generation failed, returning report", zap.Error(err))
		return synthesis.Markdown, nil
	}
	if strings.TrimSpace(resp.Content) == "" {
		return synthesis.Markdown, nil
	}

	logger.Info("Research completed",
		zap.Int("queries", len(found.Queries)),
		zap.Int("results", len(found.Results)),
		zap.Int("records", len(extracted.Records)),
		zap.Int("insights", len(insights)),
		zap.Int("sections", len(synthesis.Report.Sections)))
	return resp.Content, nil
}

// stage runs fn under a span, checking for cancellation first. Non-cancellation
// errors become a StageError.
func (a *Agent) stage(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return context.Cause(ctx)
	}
	ctx, span := tracing.StartSpan(ctx, "agent."+name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	if name == "analysis" {
		metrics.StageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}
	if err == nil {
		return nil
	}
	tracing.RecordError(span, err)
	if cause := task.CancelCause(ctx, err); cause != nil {
		return cause
	}
	return &StageError{Stage: name, Err: err}
}
