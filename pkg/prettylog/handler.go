// based on https://dusted.codes/creating-a-pretty-console-logger-using-gos-slog-package
package prettylog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
)

const timeFormat = "15:04:05.000"

const (
	reset = "\033[0m"

	yellow   = 33
	cyan     = 36
	darkGray = 90
	lightRed = 91
	white    = 97
)

func colorize(colorCode int, v string) string {
	return fmt.Sprintf("\033[%sm%s%s", strconv.Itoa(colorCode), v, reset)
}

type handler struct {
	level  slog.Level
	output io.Writer
	attrs  []slog.Attr
	mutex  *sync.Mutex
}

func NewHandler(level slog.Level) slog.Handler {
	return NewHandlerWithOutput(level, os.Stderr)
}

func NewHandlerWithOutput(level slog.Level, output io.Writer) slog.Handler {
	return &handler{
		level:  level,
		output: output,
		mutex:  &sync.Mutex{},
	}
}

func (h *handler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &handler{
		level:  h.level,
		output: h.output,
		attrs:  append(h.attrs, attrs...),
		mutex:  h.mutex,
	}
}

func (h *handler) WithGroup(name string) slog.Handler {
	return h
}

func (h *handler) Handle(ctx context.Context, r slog.Record) error {
	level := r.Level.String() + ":"

	switch r.Level {
	case slog.LevelDebug:
		level = colorize(darkGray, level)
	case slog.LevelInfo:
		level = colorize(cyan, level)
	case slog.LevelWarn:
		level = colorize(yellow, level)
	case slog.LevelError:
		level = colorize(lightRed, level)
	}

	attrs := make(map[string]any, r.NumAttrs()+len(h.attrs))
	for _, a := range h.attrs {
		attrs[a.Key] = convert(a.Value.Any())
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = convert(a.Value.Any())
		return true
	})

	h.mutex.Lock()
	defer h.mutex.Unlock()

	io.WriteString(h.output, colorize(darkGray, r.Time.Format(timeFormat)))
	io.WriteString(h.output, " ")
	io.WriteString(h.output, level)
	io.WriteString(h.output, " ")
	io.WriteString(h.output, colorize(white, r.Message))
	if len(attrs) > 0 {
		io.WriteString(h.output, " ")
		io.WriteString(h.output, colorize(darkGray, attributesToString(attrs)))
	}
	io.WriteString(h.output, "\n")

	return nil
}

func attributesToString(attrs map[string]any) string {
	asJson, err := json.MarshalIndent(attrs, "  ", "  ")
	if err != nil {
		return fmt.Sprintf("%v", attrs)
	}
	return string(asJson)
}

func convert(value any) any {
	switch v := value.(type) {
	case nil:
		return "nil"
	case error:
		return v.Error()
	case []byte:
		return fmt.Sprintf("%v", v)
	case fmt.Stringer:
		return v.String()
	default:
		return value
	}
}
