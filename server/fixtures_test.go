package server_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lguibr/rpcactor/server"
	"github.com/lguibr/rpcactor/utils"
)

// sleeper has handlers that outlive short caller deadlines.
type sleeper struct {
	server.Base
}

func (s *sleeper) Slow(ms float64) string {
	time.Sleep(time.Duration(ms) * time.Millisecond)
	return "done"
}

func (s *sleeper) Ping() string { return "pong" }

func (s *sleeper) Save(ctx context.Context) error {
	return s.Storage().Put(ctx, "saved", true)
}

func (s *sleeper) Saved(ctx context.Context) (bool, error) {
	var saved bool
	_, err := s.Storage().Get(ctx, "saved", &saved)
	return saved, err
}

func newSleeperHost(t *testing.T, cfg utils.Config) (*server.Host, *httptest.Server) {
	t.Helper()
	host := server.New(func(string) any { return &sleeper{} }, server.WithConfig(cfg))
	srv := httptest.NewServer(host)
	t.Cleanup(func() {
		srv.Close()
		host.Shutdown(time.Second)
	})
	return host, srv
}
