// Package interceptor wraps capability calls made on behalf of a task so they can
// be observed and aborted without the calling code knowing about the session.
package interceptor

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Kocoro-lab/Shannon/go/researchd/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/task"
	"github.com/Kocoro-lab/Shannon/go/researchd/internal/tracing"
)

// Func is an asynchronous capability taking A and producing R.
type Func[A, R any] func(ctx context.Context, args A) (R, error)

// Hooks observe an intercepted call. Any of them may be nil.
type Hooks[A, R any] struct {
	// Kind and Name label metrics and spans, e.g. "llm"/"generate" or "tool"/"web_search".
	Kind string
	Name func(args A) string

	Before  func(args A)
	After   func(args A, result R)
	OnError func(args A, err error)
}

func (h Hooks[A, R]) name(args A) string {
	if h.Name == nil {
		return h.Kind
	}
	return h.Name(args)
}

// Intercept returns fn wrapped with cancellation checks and hooks. The token is
// checked before the call and again after it returns, so a result that arrives
// after cancellation is discarded and the token's cause is returned instead.
//
// The wrapper closes over the task's token and holds no other state, so a new
// wrapper is built per task and nothing has to be restored when the task ends.
func Intercept[A, R any](fn Func[A, R], hooks Hooks[A, R], token *task.Token) Func[A, R] {
	return func(ctx context.Context, args A) (R, error) {
		var zero R
		name := hooks.name(args)

		if err := token.Err(); err != nil {
			metrics.InterceptedCalls.WithLabelValues(hooks.Kind, name, "skipped").Inc()
			return zero, err
		}

		ctx, span := tracing.StartSpan(ctx, "intercept."+hooks.Kind,
			attribute.String("capability.name", name))
		defer span.End()

		if hooks.Before != nil {
			hooks.Before(args)
		}

		start := time.Now()
		result, err := fn(ctx, args)
		metrics.InterceptedCallDuration.WithLabelValues(hooks.Kind, name).Observe(time.Since(start).Seconds())

		if cause := token.Err(); cause != nil {
			metrics.InterceptedCalls.WithLabelValues(hooks.Kind, name, "cancelled").Inc()
			tracing.RecordError(span, cause)
			return zero, cause
		}

		if err != nil {
			metrics.InterceptedCalls.WithLabelValues(hooks.Kind, name, "error").Inc()
			tracing.RecordError(span, err)
			if hooks.OnError != nil {
				hooks.OnError(args, err)
			}
			return zero, err
		}

		metrics.InterceptedCalls.WithLabelValues(hooks.Kind, name, "ok").Inc()
		if hooks.After != nil {
			hooks.After(args, result)
		}
		return result, nil
	}
}
