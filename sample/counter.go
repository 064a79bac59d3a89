// Package sample provides the demo actor served by the rpcactor binary.
package sample

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/lguibr/rpcactor/server"
	"github.com/lguibr/rpcactor/session"
	"go.uber.org/zap"
)

const countKey = "count"

// Profile is the public part of a User.
type Profile struct {
	Name string `json:"name"`
}

// Greeting is reachable through chains such as getUser("u1").profile.greeting("hi").
func (p Profile) Greeting(prefix string) string {
	return prefix + ", " + p.Name
}

// User is returned by value so that chained expressions can walk it.
type User struct {
	ID      string  `json:"id"`
	Profile Profile `json:"profile"`
}

// Counter keeps a durable count, a namespace of users held in memory, and a
// touch counter that resets on every activation.
type Counter struct {
	server.Base

	Users *UserDirectory

	touches int
}

// New is the host factory for Counter.
func New(actorID string) any {
	return &Counter{Users: NewUserDirectory()}
}

func (c *Counter) RPCParams() map[string][]string {
	return map[string][]string{
		"addNumbers":   {"a", "b"},
		"increment":    {"by"},
		"users.create": {"id", "name"},
	}
}

// AddNumbers returns a + b.
func (c *Counter) AddNumbers(a, b float64) float64 {
	return a + b
}

// Increment adds by (default 1) to the durable count and returns the new
// value.
func (c *Counter) Increment(ctx context.Context, by int) (int, error) {
	if by == 0 {
		by = 1
	}
	current, err := c.Get(ctx)
	if err != nil {
		return 0, err
	}
	next := current + by
	if err := c.Storage().Put(ctx, countKey, next); err != nil {
		return 0, err
	}
	if err := c.Emit(ctx, "counter", "increment", map[string]int{"value": next, "by": by}); err != nil {
		c.Logger().Warn("emit failed", zap.Error(err))
	}
	return next, nil
}

// Get returns the durable count.
func (c *Counter) Get(ctx context.Context) (int, error) {
	var n int
	if _, err := c.Storage().Get(ctx, countKey, &n); err != nil {
		return 0, err
	}
	return n, nil
}

// Reset clears the durable count.
func (c *Counter) Reset(ctx context.Context) (bool, error) {
	return c.Storage().Delete(ctx, countKey)
}

// Touch increments an in-memory counter that does not survive eviction.
func (c *Counter) Touch() int {
	c.touches++
	return c.touches
}

// GetUser returns a synthetic user for id.
func (c *Counter) GetUser(id string) (User, error) {
	if id == "" {
		return User{}, errors.New("id is required")
	}
	return User{ID: id, Profile: Profile{Name: "user " + id}}, nil
}

// Fail always returns an error.
func (c *Counter) Fail(reason string) error {
	if reason == "" {
		reason = "requested failure"
	}
	return errors.New(reason)
}

// Shout broadcasts msg to every other connection of this actor and returns
// how many were reached.
func (c *Counter) Shout(ctx context.Context, msg string) int {
	caller, _ := session.IdentityFrom(ctx)
	return c.Broadcast(map[string]string{"from": string(caller), "msg": msg}, caller)
}

// Presence returns the number of open duplex connections.
func (c *Counter) Presence() int {
	return c.ConnectionCount()
}

// UserDirectory is an in-memory namespace of users.
type UserDirectory struct {
	users map[string]User
}

func NewUserDirectory() *UserDirectory {
	return &UserDirectory{users: make(map[string]User)}
}

func (d *UserDirectory) Create(id, name string) (User, error) {
	if id == "" {
		return User{}, errors.New("id is required")
	}
	if _, exists := d.users[id]; exists {
		return User{}, fmt.Errorf("user %s already exists", id)
	}
	u := User{ID: id, Profile: Profile{Name: name}}
	d.users[id] = u
	return u, nil
}

func (d *UserDirectory) Get(id string) (User, error) {
	u, ok := d.users[id]
	if !ok {
		return User{}, fmt.Errorf("user %s not found", id)
	}
	return u, nil
}

func (d *UserDirectory) Count() int {
	return len(d.users)
}

func (d *UserDirectory) List() []User {
	out := make([]User, 0, len(d.users))
	for _, u := range d.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
