package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strand-ai/strand/internal/core"
	"github.com/strand-ai/strand/internal/provider"
	"github.com/strand-ai/strand/pkg/types"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	c := core.New(types.DefaultConfig(), provider.EchoTransport{}, core.Options{})
	t.Cleanup(c.Shutdown)
	return New(types.ServerConfig{Host: "127.0.0.1", Port: 0}, c)
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestCreateSessionRequiresPrompt(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/session", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(s, http.MethodPost, "/session", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateSessionReturnsInfo(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/session", `{"prompt":"hello"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var info types.SessionInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.NotEmpty(t, info.ID)
	assert.Equal(t, info.ID, info.RootID)
	assert.False(t, info.IsParallel)
}

func TestCreateSessionRejectsUnknownParent(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/session", `{"prompt":"x","parentID":"ghost"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetUnknownSessionIs404(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/session/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, ErrCodeNotFound, errResp.Error.Code)
}

func TestAbortUnknownSessionIs404(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/session/nope/abort", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRespondWithoutPendingAskIs404(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/session/nope/respond", `{"approved":true}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListSessionsIsAlwaysAnArray(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/session", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestAskQueueAndMetricsEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(s, http.MethodGet, "/asks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status types.AskQueueStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Zero(t, status.Size)

	rec = doRequest(s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var metrics types.AskMetrics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &metrics))
	assert.Zero(t, metrics.TotalAsks)
}
