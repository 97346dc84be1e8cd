// Package logger owns the process-wide slog logger: JSON on stderr by default, or an
// OpenTelemetry log exporter when OTEL_ENABLED=true. Packages take an injected
// *slog.Logger and fall back to For(component).
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	LevelTrace = slog.Level(-8)
	LevelFatal = slog.Level(12)
)

const defaultServiceName = "timecontrol"

var (
	Logger       *slog.Logger
	programLevel = new(slog.LevelVar)
	shutdownFunc func(context.Context) error // nil unless OTEL is enabled

	// 1 logs every sampled warning and error; N logs one in N
	sampleRate atomic.Int32
)

// Counters are incremented whether or not the message is sampled.
var (
	TotalErrors   atomic.Int64
	TotalWarnings atomic.Int64

	// ResolutionFallbacks counts values served from the last-good cache
	ResolutionFallbacks atomic.Int64
	// WindowErrors counts rules skipped because their time window could not be computed
	WindowErrors atomic.Int64
)

func init() {
	sampleRate.Store(1)
	programLevel.Set(slog.LevelInfo)

	levelStr := os.Getenv("TIMECONTROL_LOG_LEVEL")
	if levelStr == "" {
		levelStr = os.Getenv("LOG_LEVEL")
	}
	if level, err := ParseLevel(levelStr); err == nil {
		programLevel.Set(level)
	}

	// ERROR_SAMPLE_RATE=100 logs 1% of sampled warnings and errors
	if rate, err := strconv.Atoi(os.Getenv("ERROR_SAMPLE_RATE")); err == nil && rate > 0 {
		sampleRate.Store(int32(rate))
	}

	if strings.EqualFold(os.Getenv("OTEL_ENABLED"), "true") {
		serviceName := os.Getenv("OTEL_SERVICE_NAME")
		if serviceName == "" {
			serviceName = defaultServiceName
		}
		shutdown, err := setupOTELLogging(context.Background(), serviceName)
		if err == nil {
			shutdownFunc = shutdown
			return
		}
		fmt.Fprintf(os.Stderr, "Failed to setup OTEL logging, falling back to JSON: %v\n", err)
	}

	setupJSONLogging()
}

func setupJSONLogging() {
	Logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: programLevel}))
	slog.SetDefault(Logger)
}

func setupOTELLogging(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := otlploggrpc.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)

	Logger = slog.New(&levelHandler{
		level:   programLevel,
		handler: otelslog.NewHandler(serviceName, otelslog.WithLoggerProvider(provider)),
	})
	slog.SetDefault(Logger)

	return provider.Shutdown, nil
}

// levelHandler applies the program level to a handler that has none of its own.
type levelHandler struct {
	level   slog.Leveler
	handler slog.Handler
}

func (h *levelHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *levelHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.handler.Handle(ctx, r)
}

func (h *levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelHandler{level: h.level, handler: h.handler.WithAttrs(attrs)}
}

func (h *levelHandler) WithGroup(name string) slog.Handler {
	return &levelHandler{level: h.level, handler: h.handler.WithGroup(name)}
}

// For returns a child logger tagged with the given component name.
func For(component string) *slog.Logger {
	return Logger.With(slog.String("component", component))
}

// OrDefault returns l, or a component logger when l is nil.
func OrDefault(l *slog.Logger, component string) *slog.Logger {
	if l != nil {
		return l
	}
	return For(component)
}

// Configure sets the program level from a level name; an empty name keeps the current level.
func Configure(level string) error {
	if strings.TrimSpace(level) == "" {
		return nil
	}
	l, err := ParseLevel(level)
	if err != nil {
		return err
	}
	programLevel.Set(l)
	return nil
}

// SetLevel sets the minimum log level.
func SetLevel(level slog.Level) {
	programLevel.Set(level)
}

// ParseLevel converts a level name to slog.Level.
func ParseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "TRACE":
		return LevelTrace, nil
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	case "FATAL":
		return LevelFatal, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %q", levelStr)
	}
}

// Shutdown flushes the OTEL exporter if one was configured.
func Shutdown(ctx context.Context) error {
	if shutdownFunc != nil {
		return shutdownFunc(ctx)
	}
	return nil
}

func shouldSample() bool {
	rate := sampleRate.Load()
	if rate <= 1 {
		return true
	}
	return rand.Intn(int(rate)) == 0
}

// Info logs on the process logger.
func Info(msg string, args ...any) {
	Logger.Info(msg, args...)
}

// Error logs on the process logger, sampled.
func Error(msg string, args ...any) {
	ErrorSampled(Logger, msg, args...)
}

// Fatal logs msg, flushes the exporter and exits.
func Fatal(msg string, args ...any) {
	Logger.Log(context.Background(), LevelFatal, msg, args...)
	_ = Shutdown(context.Background())
	os.Exit(1)
}

// WarnSampled counts a warning and logs it on l subject to ERROR_SAMPLE_RATE.
func WarnSampled(l *slog.Logger, msg string, args ...any) {
	TotalWarnings.Add(1)
	if shouldSample() {
		l.Warn(msg, args...)
	}
}

// ErrorSampled counts an error and logs it on l subject to ERROR_SAMPLE_RATE.
func ErrorSampled(l *slog.Logger, msg string, args ...any) {
	TotalErrors.Add(1)
	if shouldSample() {
		l.Error(msg, args...)
	}
}

// WarnFallback records that a resolution was served from the last-good cache.
func WarnFallback(l *slog.Logger, key string, err error) {
	ResolutionFallbacks.Add(1)
	WarnSampled(l, "using last known value", slog.String("key", key), slog.Any("error", err))
}

// ErrorWindow records a rule skipped because its time window failed.
func ErrorWindow(l *slog.Logger, ruleID int, err error) {
	WindowErrors.Add(1)
	ErrorSampled(l, "rule time window failed, rule skipped", slog.Int("rule", ruleID), slog.Any("error", err))
}
