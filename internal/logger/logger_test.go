package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestParseLogLevel verifies mapping from strings to zapcore.Level and handling of unknown values.
func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"info":    zapcore.InfoLevel,
		"warn":    zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		" ERROR ": zapcore.ErrorLevel,
		"panic":   zapcore.PanicLevel,
		"fatal":   zapcore.FatalLevel,
	}
	for s, lvl := range cases {
		got, ok := ParseLogLevel(s)
		require.True(t, ok)
		require.Equal(t, lvl, got)
	}

	_, ok := ParseLogLevel("unknown")
	require.False(t, ok)
}

// TestContextHelpers checks that loggers travel through the context with names and fields.
func TestContextHelpers(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	ctx := ToContext(context.Background(), zap.New(core).Sugar())

	ctx = WithName(ctx, "door-monitor")
	ctx = WithKV(ctx, "instance_id", "abc")
	ctx = WithFields(ctx, map[string]any{"retry": 3})

	InfoKV(ctx, "Timer fired", "phase", "waiting")

	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, "door-monitor", entries[0].LoggerName)
	require.Equal(t, "Timer fired", entries[0].Message)

	fields := entries[0].ContextMap()
	require.Equal(t, "abc", fields["instance_id"])
	require.EqualValues(t, 3, fields["retry"])
	require.Equal(t, "waiting", fields["phase"])
}

// TestFromContext_FallsBackToGlobal ensures an empty context yields the global logger.
func TestFromContext_FallsBackToGlobal(t *testing.T) {
	t.Parallel()

	require.Same(t, Logger(), FromContext(context.Background()))
}

// TestWithLevel verifies that a derived logger filters entries with its own level.
func TestWithLevel(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	base := zap.New(core)

	quiet := base.WithOptions(WithLevel(zapcore.WarnLevel)).Sugar()
	quiet.Info("dropped")
	quiet.Warn("kept")

	require.Equal(t, 1, logs.Len())
	require.Equal(t, "kept", logs.All()[0].Message)
}
