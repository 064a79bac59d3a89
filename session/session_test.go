package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/lguibr/rpcactor/rpcerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu     sync.Mutex
	id     Identity
	frames []string
	fail   error
}

func (c *fakeConn) Identity() Identity { return c.id }

func (c *fakeConn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.frames = append(c.frames, string(frame))
	return nil
}

func (c *fakeConn) Frames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.frames...)
}

// echoCaller answers every call with the caller identity and the method.
type echoCaller struct {
	calls int
}

func (e *echoCaller) CallNamed(ctx context.Context, path string, params json.RawMessage) (any, error) {
	e.calls++
	if path == "missing" {
		return nil, rpcerr.NotFound(path)
	}
	id, _ := IdentityFrom(ctx)
	return map[string]any{"caller": string(id), "method": path, "n": e.calls}, nil
}

func TestNewIdentity_Unique(t *testing.T) {
	a, b := NewIdentity(), NewIdentity()
	assert.NotEqual(t, a, b)
	assert.Len(t, string(a), 36)
}

func TestRegistry_RegisterLookupRemove(t *testing.T) {
	r := NewRegistry(&echoCaller{}, nil)
	conn := &fakeConn{id: NewIdentity()}

	tr := r.Register(conn)
	assert.Equal(t, conn.id, tr.Identity())
	assert.Equal(t, Connecting, tr.State())
	assert.Equal(t, 1, r.Len())

	got, ok := r.Lookup(conn.id)
	require.True(t, ok)
	assert.Same(t, tr, got)

	assert.True(t, r.Remove(conn.id))
	assert.False(t, r.Remove(conn.id))
	assert.Equal(t, Closed, tr.State())
	assert.Equal(t, 0, r.Len())

	err := tr.Send([]byte("x"))
	assert.ErrorIs(t, err, rpcerr.ErrTransport)
}

func TestSession_HandleWritesResponse(t *testing.T) {
	r := NewRegistry(&echoCaller{}, nil)
	conn := &fakeConn{id: "conn-1"}
	tr := r.Register(conn)

	require.NoError(t, tr.Session().Handle(context.Background(), []byte(`{"id":"1","method":"ping"}`)))
	assert.Equal(t, Active, tr.State())

	require.NoError(t, tr.Session().Handle(context.Background(), []byte(`[{"id":"2","method":"missing"}]`)))
	require.NoError(t, tr.Session().Handle(context.Background(), []byte(`not json`)))

	frames := conn.Frames()
	require.Len(t, frames, 3)
	assert.JSONEq(t, `{"id":"1","result":{"caller":"conn-1","method":"ping","n":1}}`, frames[0])
	assert.JSONEq(t, `[{"id":"2","error":{"code":-32601,"message":"method not found: missing"}}]`, frames[1])

	var bare map[string]any
	require.NoError(t, json.Unmarshal([]byte(frames[2]), &bare))
	assert.Contains(t, bare, "error")
}

func TestRegistry_RecoverAfterRebuild(t *testing.T) {
	conn := &fakeConn{id: NewIdentity()}

	first := NewRegistry(&echoCaller{}, nil)
	tr := first.Register(conn)
	got, recovered := first.Recover(conn.id, conn)
	assert.True(t, recovered)
	assert.Same(t, tr, got)

	// A reactivated instance starts with an empty registry and new state.
	second := NewRegistry(&echoCaller{}, nil)
	got, recovered = second.Recover(conn.id, conn)
	assert.False(t, recovered)
	assert.Equal(t, conn.id, got.Identity())
	assert.Equal(t, 1, second.Len())

	require.NoError(t, got.Session().Handle(context.Background(), []byte(`{"id":"9","method":"ping"}`)))
	frames := conn.Frames()
	require.Len(t, frames, 1)
	assert.Contains(t, frames[0], string(conn.id))
	assert.Contains(t, frames[0], `"n":1`)
}

func TestTransport_SendFailureIsErrored(t *testing.T) {
	conn := &fakeConn{id: "c", fail: errors.New("broken pipe")}
	tr := NewRegistry(&echoCaller{}, nil).Register(conn)

	err := tr.Session().Handle(context.Background(), []byte(`{"id":"1","method":"ping"}`))
	require.Error(t, err)
	assert.Equal(t, rpcerr.Transport, rpcerr.KindOf(err))
	assert.Equal(t, Errored, tr.State())
}

func TestRegistry_Each(t *testing.T) {
	r := NewRegistry(&echoCaller{}, nil)
	for _, id := range []Identity{"a", "b", "c"} {
		r.Register(&fakeConn{id: id})
	}
	seen := 0
	r.Each(func(*Transport) bool {
		seen++
		return seen < 2
	})
	assert.Equal(t, 2, seen)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "active", Active.String())
	assert.Equal(t, "errored", Errored.String())
	assert.Equal(t, "State(9)", State(9).String())
}
