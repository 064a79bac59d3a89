// File: dispatch/reflector_test.go
package dispatch

import (
	"context"
	"testing"

	"github.com/lguibr/rpcactor/rpcerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTestTable(t *testing.T) (*CallTable, *testActor) {
	t.Helper()
	actor := newTestActor()
	table, err := BuildCallTable(actor, WithBase(&hostBase{}))
	require.NoError(t, err)
	return table, actor
}

func entryNames(entries []*Entry) []string {
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names
}

func TestBuildCallTable_PublicSurface(t *testing.T) {
	table, _ := buildTestTable(t)

	assert.Equal(t, []string{
		"addNumbers", "echo", "fail", "getUser", "pair", "panic",
		"register", "subtract", "sum", "whoami",
	}, entryNames(table.Methods()))
	assert.Equal(t, []string{"admins", "helpers", "users"}, entryNames(table.Namespaces()))

	users, ok := table.Entry("users")
	require.True(t, ok)
	assert.Equal(t, KindNamespace, users.Kind)
	assert.Equal(t, []string{"count", "create", "get"}, entryNames(users.Members()))

	helpers, ok := table.Entry("helpers")
	require.True(t, ok)
	assert.Equal(t, []string{"double"}, entryNames(helpers.Members()), "non-callables and _ keys are ignored")
}

func TestBuildCallTable_ArityMatchesDeclarations(t *testing.T) {
	table, _ := buildTestTable(t)

	cases := map[string]int{
		"addNumbers":     2,
		"fail":           0,
		"echo":           1,
		"sum":            1,
		"whoami":         1, // context parameter is not counted
		"users.create":   2,
		"users.count":    0,
		"helpers.double": 1,
	}
	for path, arity := range cases {
		e, err := table.Lookup(path)
		require.NoError(t, err, path)
		assert.Equal(t, arity, e.Arity, path)
		assert.Equal(t, path, e.Path)
	}
}

func TestBuildCallTable_HiddenNamesAreNotInvocable(t *testing.T) {
	table, _ := buildTestTable(t)

	for _, path := range []string{
		"fetch",     // system reserved
		"schema",    // system reserved, even when the actor declares it
		"rpcParams", // visibility marker
		"hello",     // base type method
		"limits",    // pointer without callables
		"hidden",    // rpc:"-"
		"admin",     // renamed by tag
		"secret",    // unexported
		"_secret",
		"helpers._secret",
		"users", // namespace is not itself callable
		"users.missing",
		"addNumbers.x",
		"a.b.c",
		"",
	} {
		_, err := table.Lookup(path)
		assert.ErrorIs(t, err, rpcerr.ErrMethodNotFound, "path %q", path)
	}

	_, err := table.Lookup("admins.count")
	assert.NoError(t, err)
}

func TestBuildCallTable_ExplicitVisibility(t *testing.T) {
	table, err := BuildCallTable(listedActor{})
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha"}, entryNames(table.Methods()))
	assert.Empty(t, table.Namespaces())
}

func TestBuildCallTable_WithReserved(t *testing.T) {
	table, err := BuildCallTable(newTestActor(), WithBase(&hostBase{}), WithReserved("pair", "users"))
	require.NoError(t, err)
	_, ok := table.Entry("pair")
	assert.False(t, ok)
	_, ok = table.Entry("users")
	assert.False(t, ok)
}

func TestBuildCallTable_NilInstance(t *testing.T) {
	_, err := BuildCallTable(nil)
	assert.Error(t, err)

	var actor *testActor
	_, err = BuildCallTable(actor)
	assert.Error(t, err)
}

func TestRPCName(t *testing.T) {
	cases := map[string]string{
		"AddNumbers": "addNumbers",
		"ID":         "id",
		"HTTPStatus": "httpStatus",
		"Get":        "get",
		"already":    "already",
	}
	for in, want := range cases {
		assert.Equal(t, want, RPCName(in), in)
	}
}

func TestBuildCallTable_StructFieldNamespace(t *testing.T) {
	actor := newStoreActor()
	table, err := BuildCallTable(actor)
	require.NoError(t, err)

	store, ok := table.Entry("store")
	require.True(t, ok)
	assert.Equal(t, []string{"add", "total"}, entryNames(store.Members()))

	add, err := table.Lookup("store.add")
	require.NoError(t, err)
	for want := 1; want <= 2; want++ {
		got, err := invoke(context.Background(), add, nil)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, 2, actor.Store.n, "members are bound to the field itself")
}

func TestBuildCallTable_NamespaceMembersAreFiltered(t *testing.T) {
	table, err := BuildCallTable(newStoreActor())
	require.NoError(t, err)

	hooks, ok := table.Entry("hooks")
	require.True(t, ok)
	assert.Equal(t, []string{"ping"}, entryNames(hooks.Members()))

	for _, path := range []string{"hooks.fetch", "store.reset"} {
		_, err := table.Lookup(path)
		assert.ErrorIs(t, err, rpcerr.ErrMethodNotFound, path)
	}
}

func TestBuildCallTable_DeclaredMethodOverridesBase(t *testing.T) {
	table, err := BuildCallTable(&overridingActor{}, WithBase(&hostBase{}))
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, entryNames(table.Methods()))

	hello, err := table.Lookup("hello")
	require.NoError(t, err)
	got, err := invoke(context.Background(), hello, nil)
	require.NoError(t, err)
	assert.Equal(t, "from actor", got)
}
