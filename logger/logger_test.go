package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_Levels(t *testing.T) {
	l, err := New("warn")
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))

	l, err = New("")
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))

	_, err = New("loud")
	assert.ErrorContains(t, err, `"loud"`)
}

func TestWith_CarriesFields(t *testing.T) {
	// GIVEN: a logger recording into memory
	core, logs := observer.New(zapcore.InfoLevel)
	l := &Logger{Logger: zap.New(core)}

	// WHEN: a child logger adds a field
	l.With(zap.String("user_id", "u1")).Info("activity logged", zap.Int("duration", 30))
	l.Debug("dropped")

	// THEN: one entry with both fields, debug filtered out
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "activity logged", entry.Message)
	fields := entry.ContextMap()
	assert.Equal(t, "u1", fields["user_id"])
	assert.EqualValues(t, 30, fields["duration"])
}
