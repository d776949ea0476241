// Package policy gates tool calls with OPA. A call is denied when the
// data.researchd.tools.deny set is non-empty for its input document.
package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/open-policy-agent/opa/rego"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researchd/internal/metrics"
)

// Engine decides whether a tool call may run.
type Engine interface {
	Evaluate(ctx context.Context, input *ToolInput) (*Decision, error)
	Mode() Mode
}

// ToolInput is the document a policy sees for one tool call.
type ToolInput struct {
	Tool     string         `json:"tool"`
	Domain   string         `json:"domain"`
	Args     map[string]any `json:"args,omitempty"`
	ClientID string         `json:"client_id"`
}

// Decision is the outcome for one call.
type Decision struct {
	Allow   bool     `json:"allow"`
	Reasons []string `json:"reasons,omitempty"`
	// DryRun marks a deny that was let through.
	DryRun bool `json:"dry_run,omitempty"`
}

// Reason joins the deny reasons.
func (d *Decision) Reason() string {
	switch {
	case len(d.Reasons) > 0:
		return strings.Join(d.Reasons, "; ")
	case d.Allow:
		return "allowed by policy"
	default:
		return "denied by policy"
	}
}

var allowAll = &Decision{Allow: true}

// OPAEngine evaluates a prepared rego query.
type OPAEngine struct {
	cfg    Config
	logger *zap.Logger
	query  rego.PreparedEvalQuery
	ready  bool
	cache  *decisionCache
}

// NewOPAEngine prepares the modules under cfg.Path, or the built-in module
// when Path is empty. If the directory cannot be read the engine falls back
// to the built-in module unless FailClosed is set. A module that does not
// compile is always an error.
func NewOPAEngine(cfg Config, logger *zap.Logger) (*OPAEngine, error) {
	cfg.normalize()
	e := &OPAEngine{cfg: cfg, logger: logger}
	if !cfg.DisableCache {
		e.cache = newDecisionCache(1000, 5*time.Minute)
	}
	if cfg.Mode == ModeOff {
		logger.Info("Tool policy off")
		return e, nil
	}

	modules := builtinModules
	if cfg.Path != "" {
		loaded, err := readModules(cfg.Path)
		switch {
		case err == nil:
			modules = loaded
		case cfg.FailClosed:
			return nil, fmt.Errorf("policy (fail-closed): %w", err)
		default:
			logger.Warn("Falling back to built-in tool policy", zap.Error(err))
		}
	}

	opts := []func(*rego.Rego){rego.Query(decisionQuery)}
	for name, src := range modules {
		opts = append(opts, rego.Module(name, src))
	}
	query, err := rego.New(opts...).PrepareForEval(context.Background())
	if err != nil {
		return nil, fmt.Errorf("compile tool policy: %w", err)
	}
	e.query, e.ready = query, true

	logger.Info("Tool policy ready",
		zap.String("mode", string(cfg.Mode)),
		zap.String("modules", moduleNames(modules)),
		zap.Int("allowed_tools", len(cfg.AllowedTools)),
		zap.Int("blocked_domains", len(cfg.BlockedDomains)))
	return e, nil
}

// Mode returns the enforcement mode.
func (e *OPAEngine) Mode() Mode { return e.cfg.Mode }

// Evaluate returns the decision for in. In dry-run mode denies are logged
// and allowed. An evaluation error allows the call unless FailClosed is set,
// in which case the error is returned with a deny.
func (e *OPAEngine) Evaluate(ctx context.Context, in *ToolInput) (*Decision, error) {
	if !e.ready {
		return allowAll, nil
	}
	if e.cache != nil {
		if d, ok := e.cache.get(in); ok {
			return d, nil
		}
	}

	rs, err := e.query.Eval(ctx, rego.EvalInput(e.document(in)))
	if err != nil {
		e.logger.Error("Tool policy evaluation failed", zap.String("tool", in.Tool), zap.Error(err))
		d := &Decision{Allow: !e.cfg.FailClosed, Reasons: []string{"policy evaluation error"}}
		e.record(in.Tool, d)
		if e.cfg.FailClosed {
			return d, err
		}
		return d, nil
	}

	d := &Decision{Allow: true}
	if reasons := denies(rs); len(reasons) > 0 {
		d.Reasons = reasons
		if e.cfg.Mode == ModeDryRun {
			d.DryRun = true
			e.logger.Info("Tool policy would deny",
				zap.String("tool", in.Tool),
				zap.String("domain", in.Domain),
				zap.Strings("reasons", reasons))
		} else {
			d.Allow = false
		}
	}
	e.record(in.Tool, d)
	if e.cache != nil {
		e.cache.put(in, d)
	}
	return d, nil
}

// document builds the rego input. Slices are []any because rego reads JSON
// shaped values.
func (e *OPAEngine) document(in *ToolInput) map[string]any {
	doc := map[string]any{
		"tool":            in.Tool,
		"domain":          strings.ToLower(in.Domain),
		"client_id":       in.ClientID,
		"allowed_tools":   anySlice(e.cfg.AllowedTools),
		"blocked_domains": anySlice(e.cfg.BlockedDomains),
	}
	if len(in.Args) > 0 {
		doc["args"] = in.Args
	}
	return doc
}

func (e *OPAEngine) record(tool string, d *Decision) {
	result := "allow"
	if d.DryRun {
		result = "dry_run_deny"
	} else if !d.Allow {
		result = "deny"
	}
	metrics.PolicyDecisions.WithLabelValues(tool, result).Inc()
}

func anySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// denies reads the deny set. An undefined query result means no denies.
func denies(rs rego.ResultSet) []string {
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil
	}
	set, _ := rs[0].Expressions[0].Value.([]any)
	var out []string
	for _, v := range set {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
