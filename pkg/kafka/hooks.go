package kafka

import (
	"context"

	applogger "TradeLoop/pkg/logger"

	"github.com/segmentio/kafka-go"
)

// Hook observes every handler call. Before may enrich the context passed to
// the handler.
type Hook interface {
	Before(ctx context.Context, msg kafka.Message) context.Context
	After(ctx context.Context, msg kafka.Message, attempts int, err error)
}

type NoopHook struct{}

func (NoopHook) Before(ctx context.Context, _ kafka.Message) context.Context { return ctx }

func (NoopHook) After(context.Context, kafka.Message, int, error) {}

type traceKey struct{}

// TraceIDFrom returns the trace_id header of the message being handled.
func TraceIDFrom(ctx context.Context) string {
	s, _ := ctx.Value(traceKey{}).(string)
	return s
}

// TraceHook carries the trace_id header into the handler context and logs
// retried or failed messages.
type TraceHook struct {
	Logger *applogger.Logger
}

func (h TraceHook) Before(ctx context.Context, msg kafka.Message) context.Context {
	for _, hd := range msg.Headers {
		if hd.Key == "trace_id" && len(hd.Value) > 0 {
			return context.WithValue(ctx, traceKey{}, string(hd.Value))
		}
	}
	return ctx
}

func (h TraceHook) After(ctx context.Context, msg kafka.Message, attempts int, err error) {
	if h.Logger == nil || (err == nil && attempts <= 1) {
		return
	}
	fields := []applogger.Field{
		applogger.String("topic", msg.Topic),
		applogger.Int("partition", msg.Partition),
		applogger.Int64("offset", msg.Offset),
		applogger.Int("attempts", attempts),
	}
	if id := TraceIDFrom(ctx); id != "" {
		fields = append(fields, applogger.String("trace_id", id))
	}
	if err != nil {
		h.Logger.Error("kafka handler failed", append(fields, applogger.Error(err))...)
		return
	}
	h.Logger.Info("kafka handler recovered after retry", fields...)
}
