package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMemory_ScopesAreIsolated(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	a, b := mem.Scope("a"), mem.Scope("b")

	require.NoError(t, a.Put(ctx, "count", 3))

	var n int
	ok, err := a.Get(ctx, "count", &n)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, n)

	ok, err = b.Get(ctx, "count", &n)
	require.NoError(t, err)
	assert.False(t, ok)

	// A fresh scope value for the same id sees the same data.
	ok, err = mem.Scope("a").Get(ctx, "count", &n)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemory_ValuesAreCopied(t *testing.T) {
	ctx := context.Background()
	s := NewMemory().Scope("x")

	in := map[string]int{"k": 1}
	require.NoError(t, s.Put(ctx, "m", in))
	in["k"] = 2

	var out map[string]int
	_, err := s.Get(ctx, "m", &out)
	require.NoError(t, err)
	assert.Equal(t, 1, out["k"])
}

func TestMemory_DeleteAndList(t *testing.T) {
	ctx := context.Background()
	s := NewMemory().Scope("x")

	for _, k := range []string{"user:2", "user:1", "order:1"} {
		require.NoError(t, s.Put(ctx, k, true))
	}
	keys, err := s.List(ctx, "user:")
	require.NoError(t, err)
	assert.Equal(t, []string{"user:1", "user:2"}, keys)

	existed, err := s.Delete(ctx, "user:1")
	require.NoError(t, err)
	assert.True(t, existed)
	existed, err = s.Delete(ctx, "user:1")
	require.NoError(t, err)
	assert.False(t, existed)

	keys, err = s.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"order:1", "user:2"}, keys)
}

func TestMemory_Errors(t *testing.T) {
	s := NewMemory().Scope("x")
	assert.ErrorIs(t, s.Put(context.Background(), "", 1), ErrEmptyKey)
	_, err := s.Delete(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyKey)
	assert.Error(t, s.Put(context.Background(), "fn", func() {}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Get(ctx, "k", nil)
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, s.Put(context.Background(), "s", "text"))
	var n int
	ok, err := s.Get(context.Background(), "s", &n)
	assert.True(t, ok)
	assert.Error(t, err)
}

func TestLogEmitter_Emit(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	e := NewLogEmitter(zap.New(core))

	err := e.Emit(context.Background(), "counter", "increment", map[string]int{"value": 2}, EventContext{Actor: "c1", Transport: "http"})
	require.NoError(t, err)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "event", entry.Message)
	fields := entry.ContextMap()
	assert.Equal(t, "counter", fields["kind"])
	assert.Equal(t, "increment", fields["action"])
	assert.Equal(t, "c1", fields["actor"])
}
