package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Standard field names used across components.
const (
	FieldNode       = "node_id"
	FieldTrigger    = "trigger"
	FieldJob        = "job"
	FieldJobType    = "job_type"
	FieldFireID     = "fire_instance_id"
	FieldOutcome    = "outcome"
	FieldPolicy     = "misfire_policy"
	FieldDurationMS = "duration_ms"
	FieldLateMS     = "late_ms"
	FieldCount      = "count"
	FieldResources  = "resources"
	FieldError      = "error"
)

// New builds the process logger. Development mode writes human readable console
// output; otherwise JSON is written to stdout.
func New(level string, development bool) (*zap.SugaredLogger, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "time"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stdout"}

	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

// Nop returns a logger that discards everything. Used as the default of optional loggers.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// Component names a logger after the component that owns it.
func Component(l *zap.SugaredLogger, name string) *zap.SugaredLogger {
	if l == nil {
		l = Nop()
	}
	return l.Named(name)
}
