package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/actor"
)

func TestFromContext_AddsRequestAndActor(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	ctx := WithLogger(context.Background(), zap.New(core))
	ctx = actor.WithRequestID(ctx, "req-1")
	ctx = actor.WithActorID(ctx, "user-7")

	FromContext(ctx).Info("scored")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, "req-1", fields["request_id"])
		assert.Equal(t, "user-7", fields["actor_id"])
	}
}

func TestFromContext_FallsBackToGlobal(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	prev := Log
	Log = zap.New(core)
	defer func() { Log = prev }()

	FromContext(context.Background()).Info("plain")

	assert.Equal(t, 1, logs.Len())
	assert.Empty(t, logs.All()[0].ContextMap())
}

func TestInitialize_InvalidLevelDefaultsToInfo(t *testing.T) {
	prev := Log
	defer func() { Log = prev }()

	assert.NoError(t, Initialize("not-a-level"))
	assert.True(t, Log.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, Log.Core().Enabled(zapcore.DebugLevel))
}
