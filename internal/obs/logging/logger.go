// Package logging provides structured logging for the reactor, with
// reactor-id and packet-key context fields threaded through every entry.
package logging

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys carried by this package.
type ContextKey string

const (
	TraceIDKey   ContextKey = "trace_id"
	ReactorIDKey ContextKey = "reactor_id"
	PacketKeyKey ContextKey = "packet_key"
)

// Logger wraps logrus.Logger with reactor-scoped fields and an Atom-facing
// Printf-style surface (Debugf/Infof/Warnf/Errorf) so it can be handed
// straight to atom.ExecutionContext as the handler-visible logger.
type Logger struct {
	*logrus.Logger
	reactorID string
}

// New builds a Logger for reactorID at the given level ("debug", "info",
// "warn", "error") and format ("json" or "text").
func New(reactorID, level, format string) *Logger {
	logger := logrus.New()

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)

	if format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	}
	logger.SetOutput(os.Stdout)

	return &Logger{Logger: logger, reactorID: reactorID}
}

// NewFromEnv builds a Logger using LOG_LEVEL and LOG_FORMAT, defaulting to
// "info" and "json".
func NewFromEnv(reactorID string) *Logger {
	level := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("LOG_FORMAT"))
	if format == "" {
		format = "json"
	}
	return New(reactorID, level, format)
}

// WithContext attaches trace/packet-key context values, if present, plus
// the reactor id, to a logrus entry.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("reactor_id", l.reactorID)
	if traceID := ctx.Value(TraceIDKey); traceID != nil {
		entry = entry.WithField("trace_id", traceID)
	}
	if key := ctx.Value(PacketKeyKey); key != nil {
		entry = entry.WithField("packet_key", key)
	}
	return entry
}

// WithPacketKey scopes a logger entry to a single packet key, for use in
// dispatch and routing log lines.
func (l *Logger) WithPacketKey(key string) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{
		"reactor_id": l.reactorID,
		"packet_key": key,
	})
}

// WithFields adds the reactor id plus arbitrary fields to an entry.
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["reactor_id"] = l.reactorID
	return l.Logger.WithFields(fields)
}

// Debugf / Infof / Warnf / Errorf satisfy atom.Logger so the execution
// context can log directly from inside a handler.
func (l *Logger) Debugf(format string, args ...any) { l.Logger.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.Logger.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.Logger.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.Logger.Errorf(format, args...) }

// LogDispatch logs the outcome of dispatching a packet to a handler.
func (l *Logger) LogDispatch(ctx context.Context, key string, duration time.Duration, success bool, err error) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"packet_key":  key,
		"duration_ms": duration.Milliseconds(),
		"success":     success,
	})
	if err != nil {
		entry.WithError(err).Error("packet dispatch failed")
		return
	}
	entry.Debug("packet dispatched")
}

// LogRoute logs a routing decision made by the router.
func (l *Logger) LogRoute(ctx context.Context, key, reactorID string, score float64) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"packet_key":  key,
		"target":      reactorID,
		"match_score": score,
	}).Debug("routed packet")
}

// LogHealthTransition logs a reactor flipping healthy/unhealthy.
func (l *Logger) LogHealthTransition(reactorID string, healthy bool, consecutiveFailures int) {
	l.WithFields(map[string]interface{}{
		"reactor_id":           reactorID,
		"healthy":              healthy,
		"consecutive_failures": consecutiveFailures,
	}).Warn("reactor health transition")
}

// WithTraceID adds a trace id to ctx.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithPacketKey adds a packet key to ctx.
func WithPacketKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, PacketKeyKey, key)
}
