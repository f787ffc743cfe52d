package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// BufferHandler is an slog.Handler that forwards records to a wrapped base
// handler (typically stderr) and tees them into a Buffer.
type BufferHandler struct {
	base   slog.Handler
	buf    *Buffer
	attrs  []slog.Attr
	groups []string
}

// NewBufferHandler wraps a base handler with buffer capture.
func NewBufferHandler(base slog.Handler, buf *Buffer) *BufferHandler {
	return &BufferHandler{base: base, buf: buf}
}

// Enabled implements slog.Handler. Records below the base handler's level
// are still captured in the buffer, so `log` can show more than stderr did.
func (h *BufferHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.buf != nil || h.base.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *BufferHandler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	if h.base.Enabled(ctx, r.Level) {
		err = h.base.Handle(ctx, r)
	}
	if h.buf != nil {
		h.buf.Add(Record{
			Time:  r.Time,
			Level: r.Level.String(),
			Msg:   formatRecord(r, h.attrs, h.groups),
		})
	}
	return err
}

// WithAttrs implements slog.Handler.
func (h *BufferHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &BufferHandler{
		base:   h.base.WithAttrs(attrs),
		buf:    h.buf,
		attrs:  append(append([]slog.Attr{}, h.attrs...), attrs...),
		groups: h.groups,
	}
}

// WithGroup implements slog.Handler.
func (h *BufferHandler) WithGroup(name string) slog.Handler {
	return &BufferHandler{
		base:   h.base.WithGroup(name),
		buf:    h.buf,
		attrs:  h.attrs,
		groups: append(append([]string{}, h.groups...), name),
	}
}

// formatRecord produces a compact text representation of a log record.
func formatRecord(r slog.Record, preAttrs []slog.Attr, groups []string) string {
	var b strings.Builder
	b.WriteString(r.Message)

	for _, a := range preAttrs {
		fmt.Fprintf(&b, " %s=%s", a.Key, a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		key := a.Key
		if len(groups) > 0 {
			key = strings.Join(groups, ".") + "." + key
		}
		fmt.Fprintf(&b, " %s=%s", key, a.Value.String())
		return true
	})

	return b.String()
}

// Setup installs a BufferHandler over a stderr text handler as the default
// slog logger and returns the capture buffer.
func Setup(level slog.Level, size int) *Buffer {
	buf := NewBuffer(size)
	base := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(NewBufferHandler(base, buf)))
	return buf
}

// ParseLevel maps a level name to a slog.Level, defaulting to warn so the
// interactive prompt stays quiet unless asked otherwise.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	case "warn", "warning", "":
		return slog.LevelWarn
	}
	return slog.LevelWarn
}
