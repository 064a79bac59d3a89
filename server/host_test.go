package server_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lguibr/rpcactor/dispatch"
	"github.com/lguibr/rpcactor/envelope"
	"github.com/lguibr/rpcactor/rpcerr"
	"github.com/lguibr/rpcactor/sample"
	"github.com/lguibr/rpcactor/server"
	"github.com/lguibr/rpcactor/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally/v4"
)

func testConfig() utils.Config {
	cfg := utils.DefaultConfig()
	cfg.AskTimeout = 2 * time.Second
	return cfg
}

func newTestHost(t *testing.T, opts ...server.Option) (*server.Host, *httptest.Server) {
	t.Helper()
	opts = append([]server.Option{server.WithConfig(testConfig())}, opts...)
	host := server.New(sample.New, opts...)
	srv := httptest.NewServer(host)
	t.Cleanup(func() {
		srv.Close()
		host.Shutdown(time.Second)
	})
	return host, srv
}

func doRequest(t *testing.T, method, url, body string) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, b
}

func get(t *testing.T, url string) (int, []byte) {
	return doRequest(t, http.MethodGet, url, "")
}

func wireError(t *testing.T, body []byte) rpcerr.Wire {
	t.Helper()
	var out struct {
		Error *rpcerr.Wire `json:"error"`
	}
	require.NoError(t, json.Unmarshal(body, &out), string(body))
	require.NotNil(t, out.Error, string(body))
	return *out.Error
}

func TestHost_SchemaIsStable(t *testing.T) {
	_, srv := newTestHost(t)

	status, first := get(t, srv.URL+"/c1/__schema")
	require.Equal(t, http.StatusOK, status)
	_, second := get(t, srv.URL+"/c1/")
	assert.True(t, bytes.Equal(first, second), "schema differs between requests")

	var schema dispatch.Schema
	require.NoError(t, json.Unmarshal(first, &schema))
	assert.Equal(t, dispatch.SchemaVersion, schema.Version)

	names := make([]string, 0, len(schema.Methods))
	for _, m := range schema.Methods {
		names = append(names, m.Name)
	}
	assert.Contains(t, names, "addNumbers")
	assert.NotContains(t, names, "storage")
	require.Len(t, schema.Namespaces, 1)
	assert.Equal(t, "users", schema.Namespaces[0].Name)

	status, _ = doRequest(t, http.MethodPost, srv.URL+"/c1/__schema", "{}")
	assert.Equal(t, http.StatusMethodNotAllowed, status)
}

func TestHost_PathForms(t *testing.T) {
	_, srv := newTestHost(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   string
	}{
		{"call expression", http.MethodGet, "/c1/$/addNumbers(5,3)", "", `{"result":8}`},
		{"rest segments", http.MethodGet, "/c1/$/addNumbers/5/3", "", `{"result":8}`},
		{"query args", http.MethodGet, "/c1/$/addNumbers?arg0=2&arg1=4", "", `{"result":6}`},
		{"body args", http.MethodPost, "/c1/$/addNumbers", "[1, 2]", `{"result":3}`},
		{"chain access", http.MethodGet, "/c1/$/getUser('u1').profile.name", "", `{"result":"user u1"}`},
		{"chain call", http.MethodGet, "/c1/$/getUser('u1').profile.greeting('hi')", "", `{"result":"hi, user u1"}`},
		{"no arguments", http.MethodGet, "/c1/$/presence()", "", `{"result":0}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := doRequest(t, tt.method, srv.URL+tt.path, tt.body)
			assert.Equal(t, http.StatusOK, status, string(body))
			assert.JSONEq(t, tt.want, string(body))
		})
	}
}

func TestHost_NamespaceStateIsShared(t *testing.T) {
	_, srv := newTestHost(t)

	status, body := get(t, srv.URL+"/c1/$/users.create('a','Al')")
	require.Equal(t, http.StatusOK, status, string(body))

	status, body = get(t, srv.URL+"/c1/$/users.get('a')")
	require.Equal(t, http.StatusOK, status, string(body))
	assert.JSONEq(t, `{"result":{"id":"a","profile":{"name":"Al"}}}`, string(body))

	_, body = get(t, srv.URL+"/c2/$/users.count()")
	assert.JSONEq(t, `{"result":0}`, string(body))
}

func TestHost_Errors(t *testing.T) {
	_, srv := newTestHost(t)

	tests := []struct {
		name   string
		path   string
		status int
		code   int
	}{
		{"unknown method", "/c1/$/nope()", http.StatusNotFound, -32601},
		{"base method hidden", "/c1/$/storage()", http.StatusNotFound, -32601},
		{"unexported field hidden", "/c1/$/touches", http.StatusNotFound, -32601},
		{"underscore actor", "/_c1/__schema", http.StatusNotFound, -32601},
		{"unknown route", "/c1/elsewhere", http.StatusNotFound, -32601},
		{"method not called", "/c1/$/getUser('u1').profile.greeting", http.StatusBadRequest, -32600},
		{"bad argument", "/c1/$/addNumbers('x',1)", http.StatusBadRequest, -32602},
		{"handler failure", "/c1/$/fail('broken')", http.StatusInternalServerError, -32000},
		{"unterminated", "/c1/$/addNumbers(1", http.StatusBadRequest, -32600},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := get(t, srv.URL+tt.path)
			assert.Equal(t, tt.status, status, string(body))
			assert.Equal(t, tt.code, wireError(t, body).Code)
		})
	}

	_, body := get(t, srv.URL+"/c1/$/fail('broken')")
	assert.Equal(t, "broken", wireError(t, body).Message)
}

func TestHost_UnknownActor(t *testing.T) {
	host := server.New(func(id string) any {
		if id == "ghost" {
			return nil
		}
		return sample.New(id)
	}, server.WithConfig(testConfig()))
	srv := httptest.NewServer(host)
	defer srv.Close()
	defer host.Shutdown(time.Second)

	status, body := get(t, srv.URL+"/ghost/$/addNumbers(1,2)")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, -32601, wireError(t, body).Code)

	status, _ = get(t, srv.URL+"/real/$/addNumbers(1,2)")
	assert.Equal(t, http.StatusOK, status)
}

func TestHost_EnvelopeBatch(t *testing.T) {
	_, srv := newTestHost(t)

	batch := `[
		{"id": 1, "method": "addNumbers", "params": [1, 2]},
		{"id": "b", "method": "nope"},
		{"id": 3, "method": "addNumbers", "params": {"a": 2, "b": 5}},
		{"id": 4, "method": "users.create", "params": {"id": "a", "name": "Al"}},
		{"id": 5, "method": "users.count"}
	]`
	status, body := doRequest(t, http.MethodPost, srv.URL+"/c1/rpc", batch)
	require.Equal(t, http.StatusOK, status, string(body))

	var resps []envelope.Response
	require.NoError(t, json.Unmarshal(body, &resps))
	require.Len(t, resps, 5)

	assert.Equal(t, envelope.RequestID("1"), resps[0].ID)
	assert.JSONEq(t, `3`, string(resps[0].Result.(json.RawMessage)))

	assert.Equal(t, envelope.RequestID("b"), resps[1].ID)
	require.NotNil(t, resps[1].Error)
	assert.Equal(t, -32601, resps[1].Error.Code)

	assert.JSONEq(t, `7`, string(resps[2].Result.(json.RawMessage)))
	assert.Nil(t, resps[3].Error)
	assert.JSONEq(t, `1`, string(resps[4].Result.(json.RawMessage)))
}

func TestHost_EnvelopeTransportErrors(t *testing.T) {
	_, srv := newTestHost(t)

	resp, err := http.Get(srv.URL + "/c1/rpc")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, http.MethodPost, resp.Header.Get("Allow"))
	assert.Equal(t, "Method Not Allowed\n", string(body))

	status, body := doRequest(t, http.MethodPost, srv.URL+"/c1/rpc", "{not json")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, -32600, wireError(t, body).Code)

	status, _ = doRequest(t, http.MethodPost, srv.URL+"/c1/rpc", "[]")
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = get(t, srv.URL+"/c1/ws")
	assert.Equal(t, http.StatusUpgradeRequired, status)
	assert.Equal(t, -32603, wireError(t, body).Code)
}

func TestHost_DurableStateSurvivesEviction(t *testing.T) {
	host, srv := newTestHost(t)

	for i := 0; i < 2; i++ {
		status, _ := get(t, srv.URL+"/c1/$/increment()")
		require.Equal(t, http.StatusOK, status)
	}
	_, body := get(t, srv.URL+"/c1/$/touch()")
	assert.JSONEq(t, `{"result":1}`, string(body))
	_, body = get(t, srv.URL+"/c1/$/users.create('a','Al')")
	require.NotContains(t, string(body), "error")

	require.True(t, host.IsActive("c1"))
	assert.True(t, host.Evict("c1"))
	assert.False(t, host.IsActive("c1"))
	assert.False(t, host.Evict("c1"))

	_, body = get(t, srv.URL+"/c1/$/get()")
	assert.JSONEq(t, `{"result":2}`, string(body))
	_, body = get(t, srv.URL+"/c1/$/touch()")
	assert.JSONEq(t, `{"result":1}`, string(body))
	_, body = get(t, srv.URL+"/c1/$/users.count()")
	assert.JSONEq(t, `{"result":0}`, string(body))

	// Actors do not share durable state.
	_, body = get(t, srv.URL+"/c2/$/get()")
	assert.JSONEq(t, `{"result":0}`, string(body))
}

func TestHost_Passivation(t *testing.T) {
	cfg := testConfig()
	cfg.PassivateAfter = 50 * time.Millisecond
	scope := tally.NewTestScope("", nil)
	host, srv := newTestHost(t, server.WithConfig(cfg), server.WithScope(scope))

	status, _ := get(t, srv.URL+"/c1/$/touch()")
	require.Equal(t, http.StatusOK, status)

	require.Eventually(t, func() bool { return !host.IsActive("c1") }, 2*time.Second, 10*time.Millisecond)

	_, body := get(t, srv.URL+"/c1/$/touch()")
	assert.JSONEq(t, `{"result":1}`, string(body))

	counters := scope.Snapshot().Counters()
	var activations, passivations int64
	for _, c := range counters {
		switch c.Name() {
		case "activations":
			activations += c.Value()
		case "passivations":
			passivations += c.Value()
		}
	}
	assert.Equal(t, int64(2), activations)
	assert.Equal(t, int64(1), passivations)
}

func TestHost_CallerDisconnectDoesNotCancelBatch(t *testing.T) {
	_, srv := newSleeperHost(t, testConfig())

	impatient := &http.Client{Timeout: 50 * time.Millisecond}
	_, err := impatient.Post(srv.URL+"/s1/rpc", "application/json", strings.NewReader(
		`[{"id":1,"method":"slow","params":[200]},{"id":2,"method":"save"}]`))
	require.Error(t, err)

	require.Eventually(t, func() bool {
		_, body := get(t, srv.URL+"/s1/$/saved()")
		return string(body) == `{"result":true}`
	}, 2*time.Second, 20*time.Millisecond)
}
