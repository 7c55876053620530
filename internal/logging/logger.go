package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	defaultLogger *slog.Logger
	mu            sync.RWMutex
)

func init() {
	// JSON to stdout until Setup runs
	defaultLogger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// Options configures the global logger.
type Options struct {
	Level  slog.Level
	Format string // "json" or "text"
	Output io.Writer
	// Redact wraps the handler in a RedactingHandler.
	Redact bool
}

// Setup replaces the global logger according to opts.
func Setup(opts Options) {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	handlerOpts := &slog.HandlerOptions{Level: opts.Level}
	var handler slog.Handler
	if strings.EqualFold(opts.Format, "text") {
		handler = slog.NewTextHandler(out, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(out, handlerOpts)
	}
	if opts.Redact {
		handler = NewRedactingHandler(handler)
	}
	SetLogger(slog.New(handler))
}

// ParseLevel parses debug, info, warn or error.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// SetLogger sets the global logger
func SetLogger(logger *slog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = logger
}

// SetOutput sends JSON output at info level to w.
func SetOutput(w io.Writer) {
	Setup(Options{Level: slog.LevelInfo, Output: w})
}

// SetTextOutput sets up human-readable text output (for development)
func SetTextOutput(w io.Writer) {
	Setup(Options{Level: slog.LevelDebug, Format: "text", Output: w})
}

// Logger returns the default logger
func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

// With returns a logger with additional context
func With(args ...any) *slog.Logger {
	return Logger().With(args...)
}

// Debug logs at debug level
func Debug(msg string, args ...any) {
	Logger().Debug(msg, args...)
}

// Info logs at info level
func Info(msg string, args ...any) {
	Logger().Info(msg, args...)
}

// Warn logs at warn level
func Warn(msg string, args ...any) {
	Logger().Warn(msg, args...)
}

// Error logs at error level
func Error(msg string, args ...any) {
	Logger().Error(msg, args...)
}

// InfoContext logs at info level with context
func InfoContext(ctx context.Context, msg string, args ...any) {
	Logger().InfoContext(ctx, msg, args...)
}

// WarnContext logs at warn level with context
func WarnContext(ctx context.Context, msg string, args ...any) {
	Logger().WarnContext(ctx, msg, args...)
}

// Common field helpers
func SolverID(id common.Hash) slog.Attr {
	return slog.String("solver_id", id.Hex())
}

func ReceiptID(id common.Hash) slog.Attr {
	return slog.String("receipt_id", id.Hex())
}

func DisputeID(id common.Hash) slog.Attr {
	return slog.String("dispute_id", id.Hex())
}

func Address(key string, addr common.Address) slog.Attr {
	return slog.String(key, addr.Hex())
}

// Amount renders a wei-denominated value in full precision.
func Amount(key string, v *big.Int) slog.Attr {
	if v == nil {
		return slog.String(key, "0")
	}
	return slog.String(key, v.String())
}

func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

func Component(name string) slog.Attr {
	return slog.String("component", name)
}
