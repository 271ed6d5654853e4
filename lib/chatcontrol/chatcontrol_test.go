package chatcontrol

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/niss337/securechat/lib/metrics"
	"github.com/niss337/securechat/lib/room"
	"github.com/niss337/securechat/lib/server"
	"github.com/niss337/securechat/lib/session"
	"github.com/niss337/securechat/lib/session/sessiontest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const password = "hunter2"

type fakeStats struct {
	sessions *session.Registry
	rooms    *room.Registry
}

func (f *fakeStats) Stats() server.Stats {
	return server.Stats{
		Running:            true,
		Uptime:             90 * time.Second,
		Sessions:           f.sessions.Count(),
		AuthenticatedUsers: f.sessions.AuthenticatedCount(),
		Rooms:              f.rooms.Count(),
	}
}
func (f *fakeStats) Sessions() *session.Registry { return f.sessions }
func (f *fakeStats) Rooms() *room.Registry       { return f.rooms }

func newFakeStats(t *testing.T) *fakeStats {
	t.Helper()
	f := &fakeStats{sessions: session.NewRegistry(), rooms: room.NewRegistry()}
	for _, name := range []string{"bob", "alice"} {
		s := session.NewSession(sessiontest.NewConn(name), nil)
		f.sessions.Add(s)
		require.NoError(t, f.sessions.Register(name, s))
		f.rooms.Join("lobby", s)
	}
	f.rooms.GetOrCreate("empty")
	return f
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	collector := metrics.New(metrics.Config{Registry: prometheus.NewRegistry()})
	srv, err := NewServer(Config{Password: password}, newFakeStats(t), collector)
	require.NoError(t, err)
	return srv
}

type rpcResult struct {
	ID     interface{}            `json:"id"`
	Result map[string]interface{} `json:"result"`
	Error  *RPCError              `json:"error"`
}

func call(t *testing.T, h http.Handler, method string, params interface{}) rpcResult {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/jsonrpc", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var out rpcResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func authenticate(t *testing.T, h http.Handler) string {
	t.Helper()
	res := call(t, h, "Authenticate", map[string]interface{}{"API": 1, "Password": password})
	require.Nil(t, res.Error)
	token, ok := res.Result["Token"].(string)
	require.True(t, ok)
	return token
}

func TestAuthenticate(t *testing.T) {
	h := newTestServer(t).Handler()

	res := call(t, h, "Authenticate", map[string]interface{}{"API": 1, "Password": "wrong"})
	require.NotNil(t, res.Error)
	assert.Equal(t, ErrCodeAuthFailed, res.Error.Code)

	res = call(t, h, "Authenticate", map[string]interface{}{"API": 2, "Password": password})
	require.NotNil(t, res.Error)
	assert.Equal(t, ErrCodeInvalidParams, res.Error.Code)

	assert.NotEmpty(t, authenticate(t, h))
}

func TestMethodsRequireToken(t *testing.T) {
	h := newTestServer(t).Handler()

	res := call(t, h, "ListUsers", nil)
	require.NotNil(t, res.Error)
	assert.Equal(t, ErrCodeAuthRequired, res.Error.Code)

	res = call(t, h, "ListUsers", map[string]interface{}{"Token": "forged"})
	require.NotNil(t, res.Error)
	assert.Equal(t, "Invalid or expired authentication token", res.Error.Message)
}

func TestQueries(t *testing.T) {
	h := newTestServer(t).Handler()
	token := authenticate(t, h)

	res := call(t, h, "ListUsers", map[string]interface{}{"Token": token})
	require.Nil(t, res.Error)
	assert.Equal(t, []interface{}{"alice", "bob"}, res.Result["users"])

	res = call(t, h, "RoomMembers", map[string]interface{}{"Token": token, "Room": "lobby"})
	require.Nil(t, res.Error)
	assert.Equal(t, []interface{}{"alice", "bob"}, res.Result["members"])

	res = call(t, h, "RoomMembers", map[string]interface{}{"Token": token, "Room": "nowhere"})
	require.NotNil(t, res.Error)
	assert.Equal(t, ErrCodeNotFound, res.Error.Code)

	res = call(t, h, "RoomMembers", map[string]interface{}{"Token": token})
	require.NotNil(t, res.Error)
	assert.Equal(t, ErrCodeInvalidParams, res.Error.Code)

	res = call(t, h, "ListRooms", map[string]interface{}{"Token": token})
	require.Nil(t, res.Error)
	rooms, ok := res.Result["rooms"].([]interface{})
	require.True(t, ok)
	assert.Len(t, rooms, 2)

	res = call(t, h, "ServerInfo", map[string]interface{}{"Token": token})
	require.Nil(t, res.Error)
	assert.Equal(t, float64(2), res.Result["authenticatedUsers"])
	assert.Equal(t, float64(90), res.Result["uptimeSeconds"])
	assert.Equal(t, "1m30s", res.Result["uptime"])

	res = call(t, h, "Echo", map[string]interface{}{"Token": token, "Echo": "ping"})
	require.Nil(t, res.Error)
	assert.Equal(t, "ping", res.Result["Result"])

	res = call(t, h, "Shutdown", map[string]interface{}{"Token": token})
	require.NotNil(t, res.Error)
	assert.Equal(t, ErrCodeMethodNotFound, res.Error.Code)
}

func TestMalformedRequests(t *testing.T) {
	h := newTestServer(t).Handler()

	send := func(contentType, body string) rpcResult {
		req := httptest.NewRequest(http.MethodPost, "/jsonrpc", strings.NewReader(body))
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		var out rpcResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		return out
	}

	assert.Equal(t, ErrCodeInvalidRequest, send("text/plain", `{}`).Error.Code)
	assert.Equal(t, ErrCodeParseError, send("application/json", `{`).Error.Code)
	assert.Equal(t, ErrCodeInvalidRequest, send("application/json; charset=utf-8", `{"jsonrpc":"1.0","method":"Echo"}`).Error.Code)
	assert.Equal(t, ErrCodeInvalidRequest, send("application/json", `{"jsonrpc":"2.0","id":3}`).Error.Code)
}

func TestNotificationGetsNoBody(t *testing.T) {
	h := newTestServer(t).Handler()
	token := authenticate(t, h)

	body := `{"jsonrpc":"2.0","method":"Echo","params":{"Token":"` + token + `"}}`
	req := httptest.NewRequest(http.MethodPost, "/jsonrpc", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestHealthAndMetrics(t *testing.T) {
	h := newTestServer(t).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "securechat_")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jsonrpc", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStartStop(t *testing.T) {
	srv, err := NewServer(Config{Address: "127.0.0.1:0", Password: password}, newFakeStats(t), nil)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	assert.Error(t, srv.Start())

	resp, err := http.Get("http://" + srv.Addr().String() + "/healthz")
	require.NoError(t, err)
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(data))

	resp, err = http.Get("http://" + srv.Addr().String() + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))
}

func TestNewServerValidation(t *testing.T) {
	_, err := NewServer(Config{}, newFakeStats(t), nil)
	assert.Error(t, err)
	_, err = NewServer(Config{Password: "x"}, nil, nil)
	assert.Error(t, err)
}

func TestAuthManagerExpiry(t *testing.T) {
	am, err := NewAuthManager(password)
	require.NoError(t, err)
	now := time.Unix(1700000000, 0)
	am.now = func() time.Time { return now }

	first, err := am.Authenticate(password, time.Minute)
	require.NoError(t, err)
	second, err := am.Authenticate(password, time.Hour)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.True(t, am.ValidateToken(first))

	now = now.Add(2 * time.Minute)
	assert.False(t, am.ValidateToken(first))
	assert.True(t, am.ValidateToken(second))
	assert.Equal(t, 1, am.TokenCount())

	now = now.Add(2 * time.Hour)
	assert.Equal(t, 1, am.CleanupExpiredTokens())
	assert.Zero(t, am.TokenCount())

	_, err = am.Authenticate("nope", time.Minute)
	assert.ErrorIs(t, err, ErrInvalidPassword)
}

func TestChangePasswordRevokesTokens(t *testing.T) {
	am, err := NewAuthManager(password)
	require.NoError(t, err)
	token, err := am.Authenticate(password, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, 1, am.ChangePassword("new"))
	assert.False(t, am.ValidateToken(token))
	_, err = am.Authenticate(password, time.Minute)
	assert.Error(t, err)
	_, err = am.Authenticate("new", time.Minute)
	assert.NoError(t, err)
}

func TestMethodRegistry(t *testing.T) {
	mr := NewMethodRegistry()
	mr.Register("Fail", RPCHandlerFunc(func(context.Context, json.RawMessage) (interface{}, error) {
		return nil, io.ErrUnexpectedEOF
	}))
	mr.Register("Echo", EchoHandler{})
	assert.Equal(t, []string{"Echo", "Fail"}, mr.ListMethods())
	assert.True(t, mr.IsRegistered("Echo"))

	_, rpcErr := mr.Dispatch(context.Background(), "Fail", nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, ErrCodeInternalError, rpcErr.Code)

	resp := mr.HandleParsedRequest(context.Background(), &Request{JSONRPC: "2.0", ID: "x", Method: "Echo", Params: json.RawMessage(`{"Echo":5}`)})
	require.NotNil(t, resp)
	assert.Equal(t, "x", resp.ID)
	assert.Equal(t, map[string]interface{}{"Result": float64(5)}, resp.Result)
}
