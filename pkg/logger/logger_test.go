package logger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObserved(level Level) (Logger, *observer.ObservedLogs) {
	atom := zap.NewAtomicLevelAt(level.toZapLevel())
	core, logs := observer.New(atom)
	return newWithCore(core, atom), logs
}

// TestNew 测试创建 Logger
func TestNew(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{name: "nil config", config: nil},
		{name: "console output", config: &Config{Level: InfoLevel, Format: JSONFormat, Console: true}},
		{name: "file output", config: &Config{Format: JSONFormat, File: filepath.Join(dir, "relay.log")}},
		{name: "rotate output", config: &Config{Rotate: &RotateConfig{Filename: filepath.Join(dir, "relay-rotate.log")}}},
		{name: "invalid format", config: &Config{Format: "xml"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			l.Info("hello")
			_ = l.Sync()
		})
	}
}

func TestPresets(t *testing.T) {
	prod, err := NewProduction()
	require.NoError(t, err)
	assert.Equal(t, InfoLevel, prod.Level())

	dev, err := NewDevelopment()
	require.NoError(t, err)
	assert.Equal(t, DebugLevel, dev.Level())
}

func TestSetLevelAffectsChildren(t *testing.T) {
	l, logs := newObserved(InfoLevel)
	child := l.Named("chat").With(zap.String("room", "travel"))

	child.Debug("hidden")
	assert.Equal(t, 0, logs.Len())

	l.SetLevel(DebugLevel)
	child.Debug("visible")
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "visible", logs.All()[0].Message)
	assert.Equal(t, DebugLevel, child.Level())
}

func TestContextFields(t *testing.T) {
	l, logs := newObserved(DebugLevel)

	ctx := WithTraceID(context.Background(), "trace-1")
	ctx = WithConnID(ctx, "conn-1")
	ctx = WithUserID(ctx, "user-1")

	l.InfoContext(ctx, "joined", zap.String("room", "travel"))

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "trace-1", fields["trace_id"])
	assert.Equal(t, "conn-1", fields["conn_id"])
	assert.Equal(t, "user-1", fields["user_id"])
	assert.Equal(t, "travel", fields["room"])
}

func TestContextFieldsEmpty(t *testing.T) {
	l, logs := newObserved(DebugLevel)
	l.WarnContext(context.Background(), "no ids")

	require.Equal(t, 1, logs.Len())
	assert.Empty(t, logs.All()[0].ContextMap())
	assert.Equal(t, zapcore.WarnLevel, logs.All()[0].Level)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{in: "debug", want: DebugLevel},
		{in: "INFO", want: InfoLevel},
		{in: "", want: InfoLevel},
		{in: "warning", want: WarnLevel},
		{in: "error", want: ErrorLevel},
		{in: "verbose", want: InfoLevel, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantErr, err != nil)
		})
	}
}

func TestNop(t *testing.T) {
	l := NewNop()
	l.Error("dropped")
	assert.NoError(t, l.Sync())
}
