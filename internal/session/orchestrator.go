package session

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researchd/internal/agent"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/history"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/interceptor"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/streaming"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/task"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/tools"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/tracing"
)

// ErrPanic wraps a panic recovered from a task goroutine.
var ErrPanic = errors.New("task panicked")

// Config controls task lifecycle and event delivery.
type Config struct {
	TaskTimeout  time.Duration `mapstructure:"task_timeout"`
	AbortGrace   time.Duration `mapstructure:"abort_grace"`
	OutboxBuffer int           `mapstructure:"outbox_buffer"`
}

// DefaultConfig returns the stock lifecycle settings.
func DefaultConfig() Config {
	return Config{
		TaskTimeout:  5 * time.Minute,
		AbortGrace:   100 * time.Millisecond,
		OutboxBuffer: 256,
	}
}

// Runner is the driven research agent.
type Runner interface {
	Run(ctx context.Context, req agent.Request, caps agent.Capabilities) (string, error)
}

// Request is a chat message to run as a task.
type Request struct {
	Message string
	Context map[string]any
}

// Orchestrator runs one task at a time per session. It holds no per-session
// state; each Session is owned by its connection.
type Orchestrator struct {
	cfg      Config
	runner   Runner
	provider llm.Provider
	executor tools.Executor
	history  history.Store
	logger   *zap.Logger

	wg sync.WaitGroup
}

// NewOrchestrator wires the agent to its capabilities. A nil store disables history.
func NewOrchestrator(cfg Config, runner Runner, provider llm.Provider, executor tools.Executor, store history.Store, logger *zap.Logger) *Orchestrator {
	def := DefaultConfig()
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = def.TaskTimeout
	}
	if cfg.AbortGrace < 0 {
		cfg.AbortGrace = def.AbortGrace
	}
	if store == nil {
		store = history.NopStore{}
	}
	return &Orchestrator{
		cfg:      cfg,
		runner:   runner,
		provider: provider,
		executor: executor,
		history:  store,
		logger:   logger,
	}
}

// NewSession creates a session writing to sink and emits the connection event.
// An empty clientID is replaced by a generated one.
func (o *Orchestrator) NewSession(clientID, userID string, sink streaming.Sink) *Session {
	outbox := streaming.NewOutbox(sink, o.cfg.OutboxBuffer, o.logger)
	s := newSession(clientID, userID, outbox)

	metrics.SessionsCreated.Inc()
	metrics.SessionsActive.Inc()
	o.logger.Info("Session created", zap.String("client_id", s.ID), zap.String("user_id", userID))

	s.emit(streaming.Event{Type: streaming.TypeConnection, ClientID: s.ID})
	return s
}

// Handle decodes and routes one client frame. Protocol errors are reported to
// the client and leave the running task untouched.
func (o *Orchestrator) Handle(s *Session, raw []byte) {
	msg, err := Decode(raw)
	if err != nil {
		metrics.ProtocolMessages.WithLabelValues("invalid").Inc()
		o.protocolError(s, err)
		return
	}
	metrics.ProtocolMessages.WithLabelValues(msg.Type).Inc()

	switch msg.Type {
	case MsgChat:
		o.StartTask(s, Request{Message: msg.Message, Context: msg.Context})
	case MsgAbort:
		o.AbortTask(s)
	case MsgPing:
		s.emit(streaming.Event{Type: streaming.TypePong})
	}
}

func (o *Orchestrator) protocolError(s *Session, err error) {
	metrics.ProtocolErrors.Inc()
	o.logger.Debug("Protocol error", zap.String("client_id", s.ID), zap.Error(err))
	s.emit(streaming.Event{Type: streaming.TypeError, Message: err.Error()})
}

// StartTask replaces any live task with a new one running req. The previous task
// is cancelled and given AbortGrace to wind down; if it has not finished by then
// it is finalized as aborted here. Its terminal event always precedes the new
// task's agent_start.
func (o *Orchestrator) StartTask(s *Session, req Request) *task.Task {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.Closed() {
		return nil
	}

	if prev := s.CurrentTask(); prev != nil && !prev.Status().Terminal() {
		metrics.TasksReplaced.Inc()
		o.logger.Info("Replacing running task",
			zap.String("client_id", s.ID),
			zap.String("task_id", prev.ID))

		s.termMu.Lock()
		prev.RequestAbort()
		s.termMu.Unlock()

		o.awaitOrFinalize(s, prev)
	}

	t := task.New(s.ctx, req.Message, o.cfg.TaskTimeout)
	s.mu.Lock()
	s.current = t
	s.mu.Unlock()

	metrics.TasksStarted.Inc()
	o.logger.Info("Task started",
		zap.String("client_id", s.ID),
		zap.String("task_id", t.ID))
	s.emit(streaming.Event{Type: streaming.TypeAgentStart, TaskID: t.ID, Message: req.Message})

	o.wg.Add(1)
	go o.run(s, t, req)
	return t
}

// awaitOrFinalize waits up to AbortGrace for t's goroutine, then finalizes it.
func (o *Orchestrator) awaitOrFinalize(s *Session, t *task.Task) {
	timer := time.NewTimer(o.cfg.AbortGrace)
	defer timer.Stop()
	select {
	case <-t.Done():
	case <-timer.C:
		o.logger.Warn("Task did not stop within grace period",
			zap.String("task_id", t.ID),
			zap.Duration("grace", o.cfg.AbortGrace))
	}
	// No-op if the goroutine already finished it.
	o.finish(s, t, task.StatusAborted, task.ErrAborted, "")
}

// AbortTask cancels the live task, acknowledging with abort_success, or replies
// abort_error when nothing is running.
func (o *Orchestrator) AbortTask(s *Session) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	t := s.CurrentTask()

	s.termMu.Lock()
	defer s.termMu.Unlock()
	if t == nil || !t.RequestAbort() {
		s.emit(streaming.Event{Type: streaming.TypeAbortError, Message: "no active task"})
		return
	}
	o.logger.Info("Task abort requested", zap.String("client_id", s.ID), zap.String("task_id", t.ID))
	s.emit(streaming.Event{Type: streaming.TypeAbortSuccess, TaskID: t.ID})
}

// OnDisconnect cancels the live task and releases the session. Events still
// queued are flushed to the sink; later ones are dropped.
func (o *Orchestrator) OnDisconnect(s *Session) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	t := s.current
	s.mu.Unlock()

	if t != nil {
		s.termMu.Lock()
		t.RequestAbort()
		s.termMu.Unlock()
	}
	s.cancel()
	s.outbox.Close()

	metrics.SessionsActive.Dec()
	o.logger.Info("Session closed",
		zap.String("client_id", s.ID),
		zap.Duration("age", time.Since(s.CreatedAt)))
}

// Wait blocks until every task goroutine and history write has finished or ctx
// is done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) run(s *Session, t *task.Task, req Request) {
	defer o.wg.Done()
	defer t.MarkDone()

	ctx, span := tracing.StartSpan(t.Token().Context(), "session.task",
		attribute.String("client.id", s.ID),
		attribute.String("task.id", t.ID))
	defer span.End()

	var (
		content string
		err     error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", ErrPanic, r)
				o.logger.Error("Task panicked",
					zap.String("task_id", t.ID),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()))
			}
		}()
		content, err = o.runner.Run(ctx, agent.Request{
			TaskID:   t.ID,
			ClientID: s.ID,
			Message:  req.Message,
			Context:  req.Context,
		}, o.capabilities(s, t))
	}()

	status, cause, text := classify(t.Token().Err(), err, content)
	if cause != nil && status != task.StatusAborted {
		tracing.RecordError(span, cause)
	}
	span.SetAttributes(attribute.String("task.status", string(status)))
	o.finish(s, t, status, cause, text)
}

// classify maps a run outcome to a terminal status. A cancelled token wins over
// whatever the run returned so a stale success is never reported.
func classify(tokenErr, runErr error, content string) (task.Status, error, string) {
	switch {
	case errors.Is(tokenErr, task.ErrTimeout):
		return task.StatusFailed, task.ErrTimeout, ""
	case tokenErr != nil:
		return task.StatusAborted, tokenErr, ""
	case runErr == nil:
		return task.StatusCompleted, nil, content
	case errors.Is(runErr, task.ErrTimeout):
		return task.StatusFailed, task.ErrTimeout, ""
	case task.IsCancellation(runErr):
		return task.StatusAborted, runErr, ""
	default:
		return task.StatusFailed, runErr, ""
	}
}

// finish performs the terminal transition and emits exactly one terminal event.
// Only the first caller for a task wins.
func (o *Orchestrator) finish(s *Session, t *task.Task, status task.Status, cause error, content string) {
	s.termMu.Lock()
	if t.Status() == task.StatusAborting && status != task.StatusAborted {
		// abort_success was already sent; the run's own outcome is stale
		status, cause, content = task.StatusAborted, task.ErrAborted, ""
	}
	ok, err := t.Finish(status)
	if err != nil {
		o.logger.Error("Invalid task transition", zap.String("task_id", t.ID), zap.Error(err))
	}
	if !ok {
		s.termMu.Unlock()
		return
	}
	evt := streaming.Event{TaskID: t.ID}
	switch status {
	case task.StatusCompleted:
		evt.Type = streaming.TypeAgentResponse
		evt.Content = content
	case task.StatusAborted:
		evt.Type = streaming.TypeAborted
		evt.Message = "Task aborted"
	default:
		evt.Type = streaming.TypeError
		evt.Message = cause.Error()
	}
	s.emit(evt)
	s.termMu.Unlock()

	s.clearCurrent(t)

	d := t.Duration()
	metrics.TasksCompleted.WithLabelValues(string(status)).Inc()
	metrics.TaskDuration.WithLabelValues(string(status)).Observe(d.Seconds())

	fields := []zap.Field{
		zap.String("client_id", s.ID),
		zap.String("task_id", t.ID),
		zap.String("status", string(status)),
		zap.Duration("duration", d),
	}
	switch status {
	case task.StatusFailed:
		o.logger.Error("Task failed", append(fields, zap.Error(cause))...)
	default:
		o.logger.Info("Task finished", fields...)
	}

	entry := history.Entry{
		TaskID:     t.ID,
		ClientID:   s.ID,
		UserID:     s.UserID,
		Message:    t.Message,
		Status:     string(status),
		StartedAt:  t.StartedAt,
		FinishedAt: t.FinishedAt(),
		DurationMs: d.Milliseconds(),
	}
	if status == task.StatusFailed && cause != nil {
		entry.Error = cause.Error()
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := o.history.Record(ctx, entry); err != nil {
			o.logger.Warn("Failed to record task history", zap.String("task_id", entry.TaskID), zap.Error(err))
		}
	}()
}

// capabilities builds the intercepted entry points for one task. The closures
// capture only this task's token and session, so nothing has to be undone when
// the task ends.
func (o *Orchestrator) capabilities(s *Session, t *task.Task) agent.Capabilities {
	generate := interceptor.Intercept(o.provider.Generate, interceptor.Hooks[llm.Request, llm.Response]{
		Kind: "llm",
		Name: func(r llm.Request) string { return r.Purpose },
		Before: func(r llm.Request) {
			o.progress(s, t, streaming.Event{Type: streaming.TypeThinking, Content: thinkingText(r)})
		},
		After: func(_ llm.Request, resp llm.Response) {
			o.progress(s, t, streaming.Event{Type: streaming.TypeThinkingComplete, Content: preview(resp.Content)})
		},
		OnError: func(r llm.Request, err error) {
			o.progress(s, t, streaming.Event{Type: streaming.TypeToolError, Tool: "llm:" + r.Purpose, Error: err.Error()})
		},
	}, t.Token())

	execute := interceptor.Intercept(o.executor.Execute, interceptor.Hooks[tools.Call, tools.Result]{
		Kind: "tool",
		Name: func(c tools.Call) string { return c.Name },
		Before: func(c tools.Call) {
			o.progress(s, t, streaming.Event{Type: streaming.TypeToolStart, Tool: c.Name, Args: scalarArgs(c.Args)})
		},
		After: func(c tools.Call, res tools.Result) {
			o.progress(s, t, streaming.Event{Type: streaming.TypeToolResult, Tool: c.Name, Result: res.Preview})
		},
		OnError: func(c tools.Call, err error) {
			o.progress(s, t, streaming.Event{Type: streaming.TypeToolError, Tool: c.Name, Error: err.Error()})
		},
	}, t.Token())

	return agent.Capabilities{Generate: generate, Execute: execute}
}

// progress emits a non-terminal event for t unless t is no longer running.
func (o *Orchestrator) progress(s *Session, t *task.Task, evt streaming.Event) {
	s.termMu.Lock()
	defer s.termMu.Unlock()
	if t.Status() != task.StatusRunning || t.Token().Cancelled() {
		return
	}
	evt.TaskID = t.ID
	s.emit(evt)
}
