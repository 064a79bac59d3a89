package utils

import (
	"fmt"
	"io"
	"time"

	"github.com/uber-go/tally/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger from cfg.
func NewLogger(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("config: logLevel: %w", err)
	}

	zc := zap.NewProductionConfig()
	if cfg.LogDevelopment {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// NewRootScope builds the root metrics scope. Metrics are kept in-process
// until a reporter is wired in; the returned closer flushes and stops the
// scope.
func NewRootScope(cfg Config, reporter tally.StatsReporter) (tally.Scope, io.Closer) {
	if reporter == nil {
		reporter = tally.NullStatsReporter
	}
	interval := cfg.MetricsInterval
	if interval <= 0 {
		interval = time.Second
	}
	return tally.NewRootScope(tally.ScopeOptions{
		Prefix:   cfg.MetricsPrefix,
		Reporter: reporter,
	}, interval)
}
