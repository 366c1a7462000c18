package monitor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// TraceIDContextKey marks the context value that groups all log lines of one
// agent turn (ingestion through dispatch) under a shared short identifier.
type traceKey struct{}

var TraceIDContextKey = traceKey{}

// WithTraceID returns a context carrying the given turn trace identifier.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TraceIDContextKey, id)
}

// CustomHandler implements slog.Handler to provide [TIME] [LEVEL] format.
type CustomHandler struct {
	w     io.Writer
	opts  slog.HandlerOptions
	attrs []slog.Attr
}

func NewCustomHandler(w io.Writer, opts slog.HandlerOptions) *CustomHandler {
	return &CustomHandler{
		w:    w,
		opts: opts,
	}
}

func (h *CustomHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.opts.Level.Level()
}

func (h *CustomHandler) Handle(ctx context.Context, r slog.Record) error {
	buf := bytes.NewBuffer(nil)

	// Extract the turn trace ID from context if available
	traceID := ""
	if ctx != nil {
		if id, ok := ctx.Value(TraceIDContextKey).(string); ok {
			traceID = id
		}
	}

	// Format: [2006-01-02 15:04:05] [LEVEL] [TRACE_ID] Message
	fmt.Fprintf(buf, "[%s] [%s]",
		r.Time.Format("2006-01-02 15:04:05"),
		r.Level,
	)

	if traceID != "" {
		fmt.Fprintf(buf, " [%s]", traceID)
	}

	fmt.Fprintf(buf, " %s", r.Message)

	for _, a := range h.attrs {
		h.appendAttr(buf, a)
	}

	r.Attrs(func(a slog.Attr) bool {
		h.appendAttr(buf, a)
		return true
	})

	buf.WriteString("\n")

	h.w.Write(buf.Bytes())
	return nil
}

func (h *CustomHandler) appendAttr(buf *bytes.Buffer, a slog.Attr) {
	buf.WriteString(" ")
	buf.WriteString(a.Key)
	buf.WriteString("=")

	val := a.Value.Resolve()
	switch val.Kind() {
	case slog.KindString:
		fmt.Fprintf(buf, "%q", val.String())
	case slog.KindTime:
		buf.WriteString(val.Time().Format(time.RFC3339))
	default:
		fmt.Fprintf(buf, "%v", val.Any())
	}
}

func (h *CustomHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CustomHandler{
		w:     h.w,
		opts:  h.opts,
		attrs: append(h.attrs, attrs...),
	}
}

func (h *CustomHandler) WithGroup(name string) slog.Handler {
	// Grouping not supported in this simple implementation
	return h
}

// SetupSlog initializes the global slog logger with the CustomHandler.
func SetupSlog(levelStr string) {
	var level slog.Level
	switch strings.ToLower(levelStr) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handler := NewCustomHandler(os.Stderr, slog.HandlerOptions{
		Level: level,
	})

	slog.SetDefault(slog.New(handler))
}
