package logger

import (
	"context"
	"io"
	"log/slog"
)

// consoleHandler wraps slog.TextHandler, prefixing each message with a
// short colored level tag so daemon output scans well in a terminal and
// in journald.
type consoleHandler struct {
	*slog.TextHandler
}

func newConsoleHandler(w io.Writer, opts *slog.HandlerOptions) *consoleHandler {
	return &consoleHandler{TextHandler: slog.NewTextHandler(w, opts)}
}

var levelTags = map[slog.Level]string{
	slog.LevelDebug: "\033[36mDBG\033[0m",
	slog.LevelInfo:  "\033[32mINF\033[0m",
	slog.LevelWarn:  "\033[33mWRN\033[0m",
	slog.LevelError: "\033[1;31mERR\033[0m",
}

func (h *consoleHandler) Handle(ctx context.Context, r slog.Record) error {
	tag, ok := levelTags[r.Level]
	if !ok {
		tag = r.Level.String()
	}
	r.Message = tag + " " + r.Message
	return h.TextHandler.Handle(ctx, r)
}
