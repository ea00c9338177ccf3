// based on https://dusted.codes/creating-a-pretty-console-logger-using-gos-slog-package
package prettylog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strconv"
	"strings"
	"sync"
)

const (
	timeFormat = "15:04:05.000"
)

const (
	reset = "\033[0m"

	darkGray = 90
	cyan     = 36
	yellow   = 33
	lightRed = 91
	white    = 97
)

func colorize(colorCode int, v string) string {
	return fmt.Sprintf("\033[%sm%s%s", strconv.Itoa(colorCode), v, reset)
}

type handler struct {
	level  slog.Leveler
	attrs  []slog.Attr
	mux    *sync.Mutex
	output io.Writer
}

// NewHandler returns a colourised console handler writing one record per
// call: time, level, message and the attributes as indented JSON.
func NewHandler(w io.Writer, level slog.Leveler) slog.Handler {
	return &handler{
		level:  level,
		mux:    &sync.Mutex{},
		output: w,
	}
}

// New returns a logger for format "json" or "pretty".
func New(w io.Writer, format string, level slog.Leveler) *slog.Logger {
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(NewHandler(w, level))
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(strings.ToUpper(s)))
	return level, err
}

func (h *handler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &next
}

// groups are flattened
func (h *handler) WithGroup(name string) slog.Handler {
	return h
}

func (h *handler) Handle(ctx context.Context, r slog.Record) error {
	if !h.Enabled(ctx, r.Level) {
		return nil
	}

	level := r.Level.String() + ":"

	switch {
	case r.Level >= slog.LevelError:
		level = colorize(lightRed, level)
	case r.Level >= slog.LevelWarn:
		level = colorize(yellow, level)
	case r.Level >= slog.LevelInfo:
		level = colorize(cyan, level)
	default:
		level = colorize(darkGray, level)
	}

	attrs := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})

	sb := strings.Builder{}
	sb.WriteString(colorize(darkGray, r.Time.Format(timeFormat)))
	sb.WriteString(" ")
	sb.WriteString(level)
	sb.WriteString(" ")
	sb.WriteString(colorize(white, r.Message))
	if len(attrs) > 0 {
		sb.WriteString(" ")
		sb.WriteString(colorize(darkGray, attributesToString(attrs)))
	}
	sb.WriteString("\n")

	h.mux.Lock()
	defer h.mux.Unlock()
	_, err := io.WriteString(h.output, sb.String())
	return err
}

func attributesToString(attrs map[string]any) string {
	for k, v := range attrs {
		if err, ok := v.(error); ok {
			attrs[k] = err.Error()
			continue
		}
		v = convert(v)
		if _, err := json.Marshal(v); err != nil {
			attrs[k] = fmt.Sprintf("%v", v)
		} else {
			attrs[k] = v
		}
	}

	asJson, err := json.MarshalIndent(attrs, "  ", "  ")
	if err != nil {
		return fmt.Sprintf("%v", attrs)
	}
	return string(asJson)
}

type Loggable interface {
	ToLog() any
}

var customConverters = map[reflect.Type]func(any) any{
	reflect.TypeOf([]byte(nil)): func(value any) any {
		return fmt.Sprintf("%v", value)
	},
}

func convert(value any) any {
	if value == nil {
		return "nil"
	}
	if loggable, ok := value.(Loggable); ok {
		return loggable.ToLog()
	}
	if converter, ok := customConverters[reflect.TypeOf(value)]; ok {
		return converter(value)
	}
	return value
}
