// Package log provides logging utilities.
package log

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/golang-cz/devslog"
	"github.com/phsym/console-slog"
	slogformatter "github.com/samber/slog-formatter"
)

var newHandler = slogformatter.NewFormatterHandler(
	slogformatter.ErrorFormatter("error"),
	slogformatter.FormatByType(func(addr net.Addr) slog.Value {
		return slog.GroupValue(
			slog.String("network", addr.Network()),
			slog.String("addr", addr.String()),
		)
	}),
	slogformatter.FormatByKind(slog.KindDuration, func(v slog.Value) slog.Value {
		return slog.StringValue(v.Duration().String())
	}),
)

// Def is a default logger.
var Def = slog.New(newHandler(
	console.NewHandler(os.Stdout, &console.HandlerOptions{
		AddSource:  true,
		Level:      slog.LevelDebug,
		TimeFormat: time.RFC3339Nano,
	}),
))

// Dev is a developer logger.
var Dev = slog.New(newHandler(
	devslog.NewHandler(os.Stdout, &devslog.Options{
		HandlerOptions: &slog.HandlerOptions{
			AddSource: true,
			Level:     slog.LevelDebug,
		},
		SortKeys:   true,
		TimeFormat: time.RFC3339Nano,
	}),
))

type noopHandler struct{}

func (noopHandler) Enabled(context.Context, slog.Level) bool { return false }

func (noopHandler) Handle(context.Context, slog.Record) error { return nil }

func (h noopHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h noopHandler) WithGroup(string) slog.Handler { return h }

// Noop is a noop logger.
var Noop = slog.New(noopHandler{})

var defLogger atomic.Pointer[slog.Logger]

func init() {
	defLogger.Store(Def)
}

// Default returns the package default logger.
// It is [Def] unless replaced with [SetDefault].
func Default() *slog.Logger { return defLogger.Load() }

// SetDefault replaces the package default logger.
// Nil resets it to [Def].
func SetDefault(l *slog.Logger) {
	if l == nil {
		l = Def
	}
	defLogger.Store(l)
}

// Level parses a level name (debug, info, warn, error) into [slog.Level].
func Level(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("parse log level %q: %w", s, err)
	}
	return lvl, nil
}

// New creates a console logger writing to stdout with the given level.
// When dev is set the devslog handler is used instead.
func New(lvl slog.Level, dev bool) *slog.Logger {
	if dev {
		return slog.New(newHandler(
			devslog.NewHandler(os.Stdout, &devslog.Options{
				HandlerOptions: &slog.HandlerOptions{AddSource: true, Level: lvl},
				SortKeys:       true,
				TimeFormat:     time.RFC3339Nano,
			}),
		))
	}
	return slog.New(newHandler(
		console.NewHandler(os.Stdout, &console.HandlerOptions{
			AddSource:  true,
			Level:      lvl,
			TimeFormat: time.RFC3339Nano,
		}),
	))
}

type stringValue[T ~string | ~[]byte] struct {
	v T
}

func (v stringValue[T]) LogValue() slog.Value {
	return slog.StringValue(string(v.v))
}

// StringValue returns a value logger that formats v as string.
// Raw packets logged with it are only converted when the record is handled.
func StringValue[T ~string | ~[]byte](v T) slog.LogValuer { return stringValue[T]{v} }
