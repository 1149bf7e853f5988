package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/mattn/go-isatty"
)

var logger *slog.Logger

func Init(level slog.Level) {
	logger = slog.New(&prettyHandler{w: os.Stderr, level: level, tty: isatty.IsTerminal(os.Stderr.Fd())})
	slog.SetDefault(logger)
}

func L() *slog.Logger {
	if logger == nil {
		Init(slog.LevelInfo)
	}
	return logger
}

func Infof(format string, args ...any)  { L().Info(fmt.Sprintf(format, args...)) }
func Warnf(format string, args ...any)  { L().Warn(fmt.Sprintf(format, args...)) }
func Errorf(format string, args ...any) { L().Error(fmt.Sprintf(format, args...)) }
func Debugf(format string, args ...any) { L().Debug(fmt.Sprintf(format, args...)) }
func Plainf(format string, args ...any) { fmt.Fprintf(os.Stderr, format+"\n", args...) }

// Infow/Warnw/Errorw attach whatever structured key/value context the caller
// passes (loop name, ticker, user id, ...) to the message; no correlation id
// is generated or attached.
func Infow(msg string, kv ...any)  { L().Info(msg, kv...) }
func Warnw(msg string, kv ...any)  { L().Warn(msg, kv...) }
func Errorw(msg string, kv ...any) { L().Error(msg, kv...) }
func Debugw(msg string, kv ...any) { L().Debug(msg, kv...) }

// ParseLogLevel converts a string level name to slog.Level.
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// prettyHandler outputs: [2026-02-21 5:10:39 PM PST] message key=value ...
type prettyHandler struct {
	w     io.Writer
	level slog.Level
	tty   bool
	mu    sync.Mutex
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time.Format("2006-01-02 3:04:05 PM MST")

	var prefix string
	switch {
	case r.Level >= slog.LevelError:
		prefix = "ERROR: "
	case r.Level >= slog.LevelWarn:
		prefix = "WARN: "
	}

	attrs := make([]string, 0, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, fmt.Sprintf("%s=%v", a.Key, a.Value.Any()))
		return true
	})
	sort.Strings(attrs)

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(attrs) == 0 {
		_, err := fmt.Fprintf(h.w, "[%s] %s%s\n", ts, prefix, r.Message)
		return err
	}
	_, err := fmt.Fprintf(h.w, "[%s] %s%s %s\n", ts, prefix, r.Message, joinAttrs(attrs))
	return err
}

func joinAttrs(attrs []string) string {
	out := attrs[0]
	for _, a := range attrs[1:] {
		out += " " + a
	}
	return out
}

func (h *prettyHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h *prettyHandler) WithGroup(_ string) slog.Handler      { return h }
