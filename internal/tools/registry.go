// Package tools holds the capabilities the research agent invokes by name:
// web search, page fetch and report synthesis.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researchd/internal/policy"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/scoring"
)

// Tool names.
const (
	NameWebSearch  = "web_search"
	NameWebFetch   = "web_fetch"
	NameSynthesize = "synthesize_report"
)

var (
	// ErrUnknownTool is returned for calls to unregistered tools.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrDenied is returned when policy rejects a call.
	ErrDenied = errors.New("denied by policy")
	// ErrInvalidArgs is returned when required arguments are missing.
	ErrInvalidArgs = errors.New("invalid arguments")
)

// Call names a tool and its arguments.
type Call struct {
	Name     string         `json:"name"`
	Args     map[string]any `json:"args"`
	ClientID string         `json:"-"`
}

// Result is a tool's output. Preview is a short human-readable summary for
// progress events; Output carries the typed value.
type Result struct {
	Tool    string `json:"tool"`
	Output  any    `json:"-"`
	Preview string `json:"preview"`
}

// ToolError reports a failed tool call.
type ToolError struct {
	Tool string
	Err  error
}

func (e *ToolError) Error() string { return fmt.Sprintf("tool %s: %v", e.Tool, e.Err) }

func (e *ToolError) Unwrap() error { return e.Err }

// Executor runs tool calls.
type Executor interface {
	Execute(ctx context.Context, call Call) (Result, error)
}

// Tool is one named capability.
type Tool interface {
	Name() string
	Run(ctx context.Context, args map[string]any) (Result, error)
}

// Registry dispatches calls to registered tools after a policy check.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	policy policy.Engine
	logger *zap.Logger
}

// NewRegistry creates an empty registry. A nil engine allows every call.
func NewRegistry(engine policy.Engine, logger *zap.Logger) *Registry {
	return &Registry{tools: make(map[string]Tool), policy: engine, logger: logger}
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	r.tools[t.Name()] = t
	r.mu.Unlock()
}

// Names lists registered tools.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Execute implements Executor. Every failure is a *ToolError.
func (r *Registry) Execute(ctx context.Context, call Call) (Result, error) {
	r.mu.RLock()
	t, ok := r.tools[call.Name]
	r.mu.RUnlock()
	if !ok {
		return Result{}, &ToolError{Tool: call.Name, Err: ErrUnknownTool}
	}

	if r.policy != nil {
		input := &policy.ToolInput{Tool: call.Name, Args: call.Args, ClientID: call.ClientID}
		if u, ok := call.Args["url"].(string); ok {
			input.Domain, _ = scoring.ExtractDomain(u)
		}
		decision, err := r.policy.Evaluate(ctx, input)
		if err != nil && decision == nil {
			return Result{}, &ToolError{Tool: call.Name, Err: err}
		}
		if !decision.Allow {
			r.logger.Info("Tool call denied",
				zap.String("tool", call.Name),
				zap.String("domain", input.Domain),
				zap.String("reason", decision.Reason()))
			return Result{}, &ToolError{Tool: call.Name, Err: fmt.Errorf("%w: %s", ErrDenied, decision.Reason())}
		}
	}

	res, err := t.Run(ctx, call.Args)
	if err != nil {
		var te *ToolError
		if errors.As(err, &te) {
			return Result{}, te
		}
		return Result{}, &ToolError{Tool: call.Name, Err: err}
	}
	res.Tool = call.Name
	return res, nil
}

func argString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func argInt(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func argStrings(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
