package logging

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/popguard/internal/config"
)

func sampledLogger(levels map[zapcore.Level]LevelSamplingConfig) (*Logger, *observer.ObservedLogs) {
	core, observed := observer.New(TraceLevel)
	sampled := newSampledCore(core, SamplingConfig{
		Enabled: true,
		Tick:    config.Duration(time.Minute),
		Levels:  levels,
	})
	return &Logger{zap: zap.New(sampled), config: NewDefaultConfig()}, observed
}

func TestNewSampledCore_Disabled(t *testing.T) {
	core, _ := observer.New(zapcore.InfoLevel)
	assert.Equal(t, core, newSampledCore(core, SamplingConfig{Enabled: false}))
}

func TestNewSampledCore_ErrorsNeverSampled(t *testing.T) {
	l, observed := sampledLogger(DefaultLevelSamplingConfig())

	for range 300 {
		l.Error(context.Background(), "store write failed")
	}
	assert.Equal(t, 300, observed.FilterMessage("store write failed").Len())
}

func TestNewSampledCore_PerLevel(t *testing.T) {
	l, observed := sampledLogger(map[zapcore.Level]LevelSamplingConfig{
		zapcore.DebugLevel: {Initial: 2, Thereafter: 0},
		zapcore.InfoLevel:  {Initial: 5, Thereafter: 0},
	})
	ctx := context.Background()

	for range 20 {
		l.Debug(ctx, "debug line")
		l.Info(ctx, "info line")
		l.Warn(ctx, "warn line")
	}

	assert.Equal(t, 2, observed.FilterMessage("debug line").Len())
	assert.Equal(t, 5, observed.FilterMessage("info line").Len())
	assert.Equal(t, 20, observed.FilterMessage("warn line").Len(), "levels without a rule pass through")
}

func TestLevelFilterCore(t *testing.T) {
	core, _ := observer.New(TraceLevel)
	only := &levelFilterCore{Core: core, min: zapcore.InfoLevel, max: zapcore.WarnLevel}

	assert.False(t, only.Enabled(zapcore.DebugLevel))
	assert.True(t, only.Enabled(zapcore.InfoLevel))
	assert.True(t, only.Enabled(zapcore.WarnLevel))
	assert.False(t, only.Enabled(zapcore.ErrorLevel))

	child := only.With([]zapcore.Field{zap.String("k", "v")}).(*levelFilterCore)
	assert.Equal(t, only.min, child.min)
	assert.Equal(t, only.max, child.max)
}
