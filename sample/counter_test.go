package sample

import (
	"context"
	"errors"
	"testing"

	"github.com/lguibr/rpcactor/dispatch"
	"github.com/lguibr/rpcactor/server"
	"github.com/lguibr/rpcactor/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockStorage struct {
	mock.Mock
}

func (m *mockStorage) Get(ctx context.Context, key string, out any) (bool, error) {
	args := m.Called(key)
	if n, ok := out.(*int); ok && args.Bool(0) {
		*n = args.Int(2)
	}
	return args.Bool(0), args.Error(1)
}

func (m *mockStorage) Put(ctx context.Context, key string, value any) error {
	return m.Called(key, value).Error(0)
}

func (m *mockStorage) Delete(ctx context.Context, key string) (bool, error) {
	args := m.Called(key)
	return args.Bool(0), args.Error(1)
}

func (m *mockStorage) List(ctx context.Context, prefix string) ([]string, error) {
	args := m.Called(prefix)
	return args.Get(0).([]string), args.Error(1)
}

type mockEmitter struct {
	mock.Mock
}

func (m *mockEmitter) Emit(ctx context.Context, kind, action string, payload any, meta storage.EventContext) error {
	return m.Called(kind, action, payload, meta.Actor).Error(0)
}

func TestCounter_IncrementWritesThrough(t *testing.T) {
	st := &mockStorage{}
	em := &mockEmitter{}
	st.On("Get", countKey).Return(true, nil, 4).Once()
	st.On("Put", countKey, 6).Return(nil).Once()
	em.On("Emit", "counter", "increment", map[string]int{"value": 6, "by": 2}, "c1").Return(nil).Once()

	c := New("c1").(*Counter)
	require.True(t, server.Bind(c, "c1", st, em))

	got, err := c.Increment(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 6, got)
	st.AssertExpectations(t)
	em.AssertExpectations(t)
}

func TestCounter_IncrementStorageFailure(t *testing.T) {
	st := &mockStorage{}
	st.On("Get", countKey).Return(false, nil, 0)
	st.On("Put", countKey, 1).Return(errors.New("quota exceeded"))

	c := New("c1").(*Counter)
	server.Bind(c, "c1", st, nil)

	_, err := c.Increment(context.Background(), 0)
	assert.EqualError(t, err, "quota exceeded")
}

func TestCounter_DetachedUsesPrivateMemory(t *testing.T) {
	c := New("c1").(*Counter)
	ctx := context.Background()

	_, err := c.Increment(ctx, 3)
	require.NoError(t, err)
	n, err := c.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	existed, err := c.Reset(ctx)
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, 0, c.Presence())
	assert.Equal(t, 0, c.Shout(ctx, "anyone?"))
}

func TestCounter_CallTable(t *testing.T) {
	table, err := dispatch.BuildCallTable(New("c1"), dispatch.WithBase(&server.Base{}))
	require.NoError(t, err)

	names := make([]string, 0)
	for _, m := range table.Methods() {
		names = append(names, m.Name)
	}
	assert.Equal(t, []string{
		"addNumbers", "fail", "get", "getUser", "increment",
		"presence", "reset", "shout", "touch",
	}, names)

	users, ok := table.Entry("users")
	require.True(t, ok)
	assert.Len(t, users.Members(), 4)

	for _, hidden := range []string{"storage", "emitter", "broadcast", "connectionCount", "actorID", "emit", "logger", "rpcParams"} {
		_, ok := table.Entry(hidden)
		assert.False(t, ok, hidden)
	}
}

func TestUserDirectory(t *testing.T) {
	d := NewUserDirectory()
	_, err := d.Create("b", "Bea")
	require.NoError(t, err)
	_, err = d.Create("a", "Al")
	require.NoError(t, err)
	_, err = d.Create("a", "again")
	assert.Error(t, err)
	_, err = d.Create("", "nobody")
	assert.Error(t, err)

	u, err := d.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "Al", u.Profile.Name)
	assert.Equal(t, "hi, Al", u.Profile.Greeting("hi"))

	_, err = d.Get("zed")
	assert.Error(t, err)
	assert.Equal(t, 2, d.Count())
	assert.Equal(t, "a", d.List()[0].ID)
}
