package runner

import (
	"context"
	"log/slog"

	"github.com/dukex/conduit/pkg/execution"
)

// sinkHandler turns an action's slog records into execution.LogMessage events.
type sinkHandler struct {
	sink   execution.EventSink
	action string
	attrs  []slog.Attr
	group  string
}

func newSinkHandler(sink execution.EventSink, action string) *sinkHandler {
	return &sinkHandler{sink: sink, action: action}
}

func (h *sinkHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelInfo
}

func (h *sinkHandler) Handle(ctx context.Context, record slog.Record) error {
	attrs := make(map[string]any, len(h.attrs)+record.NumAttrs())
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.Any()
	}

	record.Attrs(func(a slog.Attr) bool {
		key := a.Key
		if h.group != "" {
			key = h.group + "." + key
		}

		attrs[key] = a.Value.Resolve().Any()

		return true
	})

	h.sink.LogMessage(ctx, execution.LogMessage{
		Level:   record.Level,
		Message: record.Message,
		Action:  h.action,
		Attrs:   attrs,
	})

	return nil
}

func (h *sinkHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	c.attrs = append(c.attrs, h.attrs...)

	for _, a := range attrs {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}

		c.attrs = append(c.attrs, a)
	}

	return &c
}

func (h *sinkHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}

	c := *h
	if c.group != "" {
		c.group += "."
	}

	c.group += name

	return &c
}
