// Package log provides structured logging for winkd using zap.
package log

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with winkd-specific helpers.
type Logger struct {
	*zap.Logger
	onPacket func(dir, kind, detail string) // packet callback for the debug tap
}

var (
	// L is the global logger instance.
	L    *Logger
	once sync.Once
)

// Init initializes the global logger with the given configuration.
// Safe to call multiple times; only the first call takes effect.
func Init(debug bool) {
	once.Do(func() {
		L = New(debug)
	})
}

// New creates a new Logger instance.
func New(debug bool) *Logger {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}

	// Shorter timestamps in development
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// Fallback to no-op if config fails
		logger = zap.NewNop()
	}

	return &Logger{Logger: logger}
}

// NewNop creates a no-op logger for testing.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// SetOnPacket sets the packet callback used by diagnostic observers.
func (l *Logger) SetOnPacket(fn func(dir, kind, detail string)) {
	l.onPacket = fn
}

// Packet logs a wire-level event and calls the packet callback if set.
func (l *Logger) Packet(dir, kind, detail string) {
	if l.onPacket != nil {
		l.onPacket(dir, kind, detail)
	}

	l.Debug("packet",
		zap.String("dir", dir),
		zap.String("kind", kind),
		zap.String("detail", detail),
	)
}
