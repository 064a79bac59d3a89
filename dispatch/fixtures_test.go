package dispatch

import (
	"context"
	"errors"
	"fmt"
)

type hostBase struct{}

func (*hostBase) Hello() string { return "from base" }
func (*hostBase) Fetch() string { return "lifecycle" }

type profile struct {
	Name string `json:"name"`
}

func (p profile) Greeting(prefix string) string { return prefix + " " + p.Name }

type user struct {
	ID      string  `json:"id"`
	Profile profile `json:"profile"`
}

type userDirectory struct {
	users map[string]string
}

func (d *userDirectory) Create(id, name string) int {
	if d.users == nil {
		d.users = make(map[string]string)
	}
	d.users[id] = name
	return len(d.users)
}

func (d *userDirectory) Get(id string) (map[string]string, error) {
	name, ok := d.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s not found", id)
	}
	return map[string]string{"id": id, "name": name}, nil
}

func (d *userDirectory) Count() int { return len(d.users) }

type limits struct {
	Max int
}

type testActor struct {
	hostBase

	Users   *userDirectory
	Limits  *limits
	Helpers map[string]any
	Echo    func(string) string
	Hidden  *userDirectory `rpc:"-"`
	Admin   *userDirectory `rpc:"admins"`

	secret *userDirectory
}

func newTestActor() *testActor {
	return &testActor{
		Users:  &userDirectory{},
		Limits: &limits{Max: 3},
		Helpers: map[string]any{
			"double":  func(x float64) float64 { return x * 2 },
			"_secret": func() string { return "nope" },
			"label":   "not callable",
		},
		Echo:   func(s string) string { return "echo:" + s },
		Hidden: &userDirectory{},
		Admin:  &userDirectory{},
		secret: &userDirectory{},
	}
}

func (a *testActor) AddNumbers(x, y float64) float64 { return x + y }

func (a *testActor) Subtract(x, y float64) float64 { return x - y }

func (a *testActor) Sum(xs ...float64) float64 {
	total := 0.0
	for _, x := range xs {
		total += x
	}
	return total
}

func (a *testActor) Fail() error { return errors.New("kaboom") }

func (a *testActor) Panic() { panic("boom") }

func (a *testActor) GetUser(id string) user {
	return user{ID: id, Profile: profile{Name: id + "-name"}}
}

func (a *testActor) Register(u user) string { return "registered " + u.ID }

func (a *testActor) Pair() (int, string) { return 1, "x" }

func (a *testActor) Whoami(ctx context.Context, suffix string) string {
	return TransportFrom(ctx) + suffix
}

func (a *testActor) Schema() string { return "reserved" }

func (a *testActor) RPCParams() map[string][]string {
	return map[string][]string{"subtract": {"x", "y"}}
}

// listedActor declares its surface explicitly.
type listedActor struct{}

func (listedActor) Alpha() string { return "a" }
func (listedActor) Beta() string  { return "b" }
func (listedActor) Gamma() string { return "c" }

func (listedActor) RPCMethods() []string     { return []string{"alpha", "beta"} }
func (listedActor) HiddenMethods() []string { return []string{"beta"} }

type counterStore struct {
	n int
}

func (c *counterStore) Add() int { c.n++; return c.n }
func (c counterStore) Total() int { return c.n }
func (c counterStore) Reset() error { return errors.New("read-only copy") }

// storeActor holds a struct-valued namespace and a map namespace carrying a
// lifecycle name.
type storeActor struct {
	Store counterStore
	Hooks map[string]any
}

func newStoreActor() *storeActor {
	return &storeActor{
		Hooks: map[string]any{
			"fetch": func() string { return "lifecycle" },
			"ping":  func() string { return "pong" },
		},
	}
}

func (a *storeActor) HiddenMethods() []string { return []string{"store.reset"} }

// overridingActor redeclares a method its base also provides.
type overridingActor struct {
	hostBase
}

func (*overridingActor) Hello() string { return "from actor" }
