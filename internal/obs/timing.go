// README: Operation timing helper; logs and records the duration of a call.
package obs

import (
	"context"
	"log"
	"time"

	"dispatch/internal/metrics"
)

type ctxKey string

const RequestIDKey ctxKey = "req_id"

// WithRequestID stores a request id for later log lines.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

// Time starts a timer for op. Call the returned func with a pointer to the
// named error result:
//
//	defer obs.Time(ctx, "allocation.Allocate")(&err)
func Time(ctx context.Context, op string) func(errp *error) {
	start := time.Now()
	reqID := RequestID(ctx)

	return func(errp *error) {
		dur := time.Since(start)
		status := "ok"
		if errp != nil && *errp != nil {
			status = "error"
			log.Printf("req_id=%s op=%s dur=%dms err=%v", reqID, op, dur.Milliseconds(), *errp)
		} else {
			log.Printf("req_id=%s op=%s dur=%dms", reqID, op, dur.Milliseconds())
		}
		metrics.OpDuration.WithLabelValues(op, status).Observe(dur.Seconds())
	}
}
