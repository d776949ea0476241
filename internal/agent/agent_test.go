package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researchd/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/scoring"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/task"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/tools"
)

type recorder struct {
	mu       sync.Mutex
	tools    []string
	purposes []string
}

func (r *recorder) tool(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools = append(r.tools, name)
}

func (r *recorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.tools {
		if t == name {
			n++
		}
	}
	return n
}

// plainCaps wires the default registry and the offline provider without interception.
func plainCaps(t *testing.T, rec *recorder) Capabilities {
	t.Helper()
	reg, err := tools.NewDefaultRegistry(tools.DefaultConfig(), nil, zap.NewNop())
	require.NoError(t, err)
	provider := llm.Offline{}
	return Capabilities{
		Generate: func(ctx context.Context, req llm.Request) (llm.Response, error) {
			if rec != nil {
				rec.mu.Lock()
				rec.purposes = append(rec.purposes, req.Purpose)
				rec.mu.Unlock()
			}
			return provider.Generate(ctx, req)
		},
		Execute: func(ctx context.Context, call tools.Call) (tools.Result, error) {
			if rec != nil {
				rec.tool(call.Name)
			}
			return reg.Execute(ctx, call)
		},
	}
}

func newAgent(t *testing.T) *Agent {
	t.Helper()
	a, err := New(DefaultSettings(), zap.NewNop())
	require.NoError(t, err)
	return a
}

func TestExtractTopic(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"分析新能源汽车市场", "新能源汽车市场"},
		{"请帮我分析一下光伏行业。", "光伏行业"},
		{"researcher salaries", "researcher salaries"},
		{"调研：储能电池", "储能电池"},
		{"Analyze the EV battery market?", "the EV battery market"},
		{"research solid-state batteries", "solid-state batteries"},
		{"quantum computing", "quantum computing"},
		{"分析", "分析"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractTopic(tt.in))
		})
	}
}

func TestResolveOptionsContextOverrides(t *testing.T) {
	s := DefaultSettings()
	s.DataTypes = []string{"web"}

	o := resolveOptions(s, "分析新能源汽车市场", nil)
	assert.Equal(t, "新能源汽车市场", o.topic)
	assert.Equal(t, []string{"新能源汽车市场"}, o.seeds)
	assert.Equal(t, "comprehensive", o.scope)
	assert.Equal(t, []string{"web"}, o.dataTypes)

	o = resolveOptions(s, "anything", map[string]any{
		"topic":      "solar",
		"queries":    []any{"solar panels", " ", "pv efficiency"},
		"scope":      "focused",
		"time_range": "recent",
		"data_types": "news",
		"categories": []string{"financial"},
	})
	assert.Equal(t, "solar", o.topic)
	assert.Equal(t, []string{"solar panels", "pv efficiency"}, o.seeds)
	assert.Equal(t, "focused", o.scope)
	assert.Equal(t, "recent", o.timeRange)
	assert.Equal(t, []string{"news"}, o.dataTypes)
	assert.Equal(t, []string{"financial"}, o.categories)
}

func TestRunProducesReport(t *testing.T) {
	rec := &recorder{}
	a := newAgent(t)

	out, err := a.Run(context.Background(), Request{TaskID: "t1", ClientID: "c1", Message: "分析新能源汽车市场"}, plainCaps(t, rec))
	require.NoError(t, err)

	assert.Contains(t, out, "# Research Report: 新能源汽车市场")
	assert.Contains(t, out, "## ")
	assert.Greater(t, rec.count(tools.NameWebSearch), 0)
	assert.Greater(t, rec.count(tools.NameWebFetch), 0)
	assert.Equal(t, 1, rec.count(tools.NameSynthesize))
	assert.Equal(t, []string{"plan", "respond"}, rec.purposes)
}

func TestRunRejectsEmptyMessage(t *testing.T) {
	a := newAgent(t)
	_, err := a.Run(context.Background(), Request{Message: "   "}, plainCaps(t, nil))

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "validate", se.Stage)
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestRunReturnsCancellationCause(t *testing.T) {
	a := newAgent(t)
	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(task.ErrAborted)

	_, err := a.Run(ctx, Request{Message: "research batteries"}, plainCaps(t, nil))
	assert.ErrorIs(t, err, task.ErrAborted)
}

func TestRunAbortedMidPipeline(t *testing.T) {
	a := newAgent(t)
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	rec := &recorder{}
	caps := plainCaps(t, rec)
	inner := caps.Execute
	caps.Execute = func(ctx context.Context, call tools.Call) (tools.Result, error) {
		if call.Name == tools.NameWebFetch {
			cancel(task.ErrAborted)
			return tools.Result{}, task.ErrAborted
		}
		return inner(ctx, call)
	}

	_, err := a.Run(ctx, Request{Message: "research batteries"}, caps)
	assert.ErrorIs(t, err, task.ErrAborted)
	var se *StageError
	assert.False(t, errors.As(err, &se))
	assert.Zero(t, rec.count(tools.NameSynthesize))
}

func TestStageReturnsCauseWithoutRunning(t *testing.T) {
	a := newAgent(t)
	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(task.ErrTimeout)

	ran := false
	err := a.stage(ctx, "analysis", func(context.Context) error {
		ran = true
		return nil
	})
	assert.ErrorIs(t, err, task.ErrTimeout)
	assert.False(t, ran)
	var se *StageError
	assert.False(t, errors.As(err, &se))
}

func TestRunSynthesisFailureIsStageError(t *testing.T) {
	a := newAgent(t)
	caps := plainCaps(t, nil)
	inner := caps.Execute
	boom := errors.New("renderer unavailable")
	caps.Execute = func(ctx context.Context, call tools.Call) (tools.Result, error) {
		if call.Name == tools.NameSynthesize {
			return tools.Result{}, &tools.ToolError{Tool: call.Name, Err: boom}
		}
		return inner(ctx, call)
	}

	_, err := a.Run(context.Background(), Request{Message: "research batteries"}, caps)
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "synthesis", se.Stage)
	assert.ErrorIs(t, err, boom)
}

func TestRunSearchFailuresYieldLowConfidenceReport(t *testing.T) {
	a := newAgent(t)
	caps := plainCaps(t, nil)
	inner := caps.Execute
	caps.Execute = func(ctx context.Context, call tools.Call) (tools.Result, error) {
		if call.Name == tools.NameWebSearch {
			return tools.Result{}, &tools.ToolError{Tool: call.Name, Err: errors.New("quota exceeded")}
		}
		return inner(ctx, call)
	}

	out, err := a.Run(context.Background(), Request{Message: "research batteries"}, caps)
	require.NoError(t, err)
	assert.Contains(t, out, "# Research Report: batteries")
}

func TestRunGenerationFailures(t *testing.T) {
	a := newAgent(t)
	caps := plainCaps(t, nil)
	caps.Generate = func(ctx context.Context, req llm.Request) (llm.Response, error) {
		return llm.Response{}, errors.New("upstream 503")
	}

	out, err := a.Run(context.Background(), Request{Message: "research batteries"}, caps)
	require.NoError(t, err, "planning and final generation failures are not fatal")
	assert.True(t, strings.HasPrefix(out, "# Research Report: batteries"))
}

func TestRunProviderTimeoutsAreNotCancellation(t *testing.T) {
	a := newAgent(t)
	caps := plainCaps(t, nil)
	inner := caps.Execute
	var searches atomic.Int32
	caps.Execute = func(ctx context.Context, call tools.Call) (tools.Result, error) {
		if call.Name == tools.NameWebSearch && searches.Add(1) == 1 {
			return tools.Result{}, &tools.ToolError{Tool: call.Name, Err: fmt.Errorf("brave: %w", context.DeadlineExceeded)}
		}
		return inner(ctx, call)
	}
	caps.Generate = func(ctx context.Context, req llm.Request) (llm.Response, error) {
		return llm.Response{}, fmt.Errorf("openai api error: %w", context.DeadlineExceeded)
	}

	tk := task.NewToken(context.Background(), time.Minute)
	defer tk.Cancel()
	out, err := a.Run(tk.Context(), Request{Message: "research batteries"}, caps)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "# Research Report: batteries"), "falls back to the report")
	assert.Greater(t, searches.Load(), int32(1))
}

func TestRunPrefersGeneratedAnswer(t *testing.T) {
	a := newAgent(t)
	caps := plainCaps(t, nil)
	caps.Generate = func(ctx context.Context, req llm.Request) (llm.Response, error) {
		if req.Purpose == "respond" {
			require.Contains(t, req.Fallback, "# Research Report")
			return llm.Response{Content: "final answer"}, nil
		}
		return llm.Response{Content: "plan"}, nil
	}

	out, err := a.Run(context.Background(), Request{Message: "research batteries"}, caps)
	require.NoError(t, err)
	assert.Equal(t, "final answer", out)
}

func TestUpdateSettings(t *testing.T) {
	a := newAgent(t)

	bad := DefaultSettings()
	bad.Discovery.Weights = scoring.Weights{Relevance: 0.9, Freshness: 0.9}
	require.Error(t, a.UpdateSettings(bad))
	assert.Equal(t, 5, a.Settings().Discovery.MaxSearches, "previous settings stay active")

	missing := DefaultSettings()
	missing.Ruleset = "/does/not/exist.yaml"
	require.Error(t, a.UpdateSettings(missing))

	good := DefaultSettings()
	good.Discovery.MaxSearches = 2
	good.Scope = "focused"
	require.NoError(t, a.UpdateSettings(good))
	assert.Equal(t, 2, a.Settings().Discovery.MaxSearches)
	assert.Equal(t, "focused", a.Settings().Scope)
}

func TestNewRejectsInvalidWeights(t *testing.T) {
	s := DefaultSettings()
	s.Discovery.Weights.Relevance = -1
	_, err := New(s, zap.NewNop())
	assert.ErrorIs(t, err, scoring.ErrInvalidWeights)
}
