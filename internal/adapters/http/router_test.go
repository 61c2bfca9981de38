package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thespecialone1/sharedrop/internal/app"
	"github.com/thespecialone1/sharedrop/internal/config"
	"github.com/thespecialone1/sharedrop/internal/core"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		Mode:       "release",
		Secret:     "test-secret",
		Password:   "hunter2",
		StaticPath: t.TempDir(),
		HostGrace:  15 * time.Second,
		SendBuffer: 8,
		ICEServers: []config.ICEServer{{URLs: []string{"stun:stun.example.org:3478"}}},
	}
	clock := core.NewClock()
	registry := app.NewRegistry()
	orch := &app.Orchestrator{
		Registry: registry,
		Calls:    app.NewCallManager(registry, registry, clock, cfg.HostGrace),
		Relay:    app.NewRelay(registry, registry),
		Bans:     app.NewBans(nil),
		Clock:    clock,
	}
	return SetupRouter(context.Background(), cfg, orch)
}

func doJSON(r *gin.Engine, method, path, body string, cookies []*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthFlow(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(r, http.MethodPost, "/api/auth", `{"password":"wrong"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(r, http.MethodPost, "/api/auth", `{"password":"hunter2"}`, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("Set-Cookie"))
}

func TestRTCConfigServed(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(r, http.MethodGet, "/api/rtc-config", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		ICEServers []config.ICEServer `json:"iceServers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.ICEServers, 1)
	assert.Equal(t, "stun:stun.example.org:3478", body.ICEServers[0].URLs[0])
}

func TestCallStatusInactive(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(r, http.MethodGet, "/api/call-status?room=main", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, false, body["active"])
	assert.NotContains(t, body, "startedAt")
}

func TestModerationRequiresAuth(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(r, http.MethodGet, "/api/moderation/bans", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(r, http.MethodPost, "/api/moderation/ban", `{"name":"eve"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestModerationBanUnban(t *testing.T) {
	r := newTestRouter(t)

	authed := doJSON(r, http.MethodPost, "/api/auth", `{"password":"hunter2"}`, nil)
	require.Equal(t, http.StatusOK, authed.Code)
	cookie := authed.Result().Cookies()
	require.NotEmpty(t, cookie)

	w := doJSON(r, http.MethodPost, "/api/moderation/ban", `{"name":"Eve"}`, cookie)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodGet, "/api/moderation/bans", "", cookie)
	require.Equal(t, http.StatusOK, w.Code)
	var snap app.BanSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Contains(t, snap.SessionBans, "eve")

	w = doJSON(r, http.MethodPost, "/api/moderation/unban", `{"name":"EVE"}`, cookie)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodGet, "/api/moderation/bans", "", cookie)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.NotContains(t, snap.SessionBans, "eve")

	w = doJSON(r, http.MethodPost, "/api/moderation/kick", `{"conn":"ghost"}`, cookie)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
