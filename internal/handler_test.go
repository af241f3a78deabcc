package internal_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/koopa0/system-design/14-rps-rendezvous/internal"
	"github.com/koopa0/system-design/14-rps-rendezvous/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T, ring *internal.RingSink) (*internal.Handler, *internal.Matchmaker) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	mm := internal.NewMatchmaker(internal.PairingMatched, 0, log)
	t.Cleanup(mm.Stop)
	return internal.NewHandler(mm, nil, nil, ring, log), mm
}

func doRequest(t *testing.T, h http.Handler, url string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, url, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

// TestHandler_Health 測試健康檢查
func TestHandler_Health(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	w, resp := doRequest(t, h.Routes(), "/health")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "healthy", resp["status"])
}

// TestHandler_Stats 測試統計資訊
func TestHandler_Stats(t *testing.T) {
	h, mm := newTestHandler(t, nil)

	_, err := mm.Join("conn_a")
	require.NoError(t, err)
	_, err = mm.Join("conn_b")
	require.NoError(t, err)
	_, err = mm.Join("conn_c")
	require.NoError(t, err)

	w, resp := doRequest(t, h.Routes(), "/stats")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "matched", resp["mode"])
	assert.Equal(t, float64(2), resp["active_matches"])
	assert.Equal(t, float64(3), resp["connections"])
	assert.Equal(t, float64(1), resp["waiting_matches"])
	assert.Contains(t, resp, "uptime_seconds")
	assert.NotContains(t, resp, "tcp_connections")
}

// TestHandler_Logs 測試日誌查詢
func TestHandler_Logs(t *testing.T) {
	ring := internal.NewRingSink(10)
	for _, msg := range []string{"伺服器啟動", "啟動客戶端連線", "收到出拳"} {
		ring.Append(context.Background(), logger.Line{Level: "INFO", Message: msg})
	}
	h, _ := newTestHandler(t, ring)

	tests := []struct {
		name           string
		url            string
		expectedStatus int
		expectedCount  float64
		lastMessage    string
	}{
		{"all lines", "/logs", http.StatusOK, 3, "收到出拳"},
		{"limited", "/logs?limit=2", http.StatusOK, 2, "收到出拳"},
		{"invalid limit", "/logs?limit=abc", http.StatusBadRequest, 0, ""},
		{"limit too large", "/logs?limit=5000", http.StatusBadRequest, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := doRequest(t, h.Routes(), tt.url)
			assert.Equal(t, tt.expectedStatus, w.Code)

			if tt.expectedStatus != http.StatusOK {
				assert.NotEmpty(t, resp["error"])
				return
			}

			assert.Equal(t, tt.expectedCount, resp["count"])
			lines, ok := resp["lines"].([]any)
			require.True(t, ok)
			last, ok := lines[len(lines)-1].(map[string]any)
			require.True(t, ok)
			assert.Equal(t, tt.lastMessage, last["message"])
		})
	}
}

func TestHandler_LogsWithoutSink(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	w, resp := doRequest(t, h.Routes(), "/logs")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), resp["count"])
	assert.Equal(t, []any{}, resp["lines"])
}

// TestHandler_GetMatch 測試對局詳情
func TestHandler_GetMatch(t *testing.T) {
	h, mm := newTestHandler(t, nil)

	match, err := mm.Join("conn_a")
	require.NoError(t, err)

	w, resp := doRequest(t, h.Routes(), "/api/v1/matches/"+match.ID)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, match.ID, resp["match_id"])
	assert.Equal(t, []any{"conn_a"}, resp["players"])

	w, resp = doRequest(t, h.Routes(), "/api/v1/matches/match_missing")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, resp["error"], "對局不存在")
}

func TestHandler_GetConnectionMatch(t *testing.T) {
	h, mm := newTestHandler(t, nil)

	match, err := mm.Join("conn_a")
	require.NoError(t, err)
	_, err = mm.Join("conn_b")
	require.NoError(t, err)

	w, resp := doRequest(t, h.Routes(), "/api/v1/connections/conn_b/match")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, match.ID, resp["match_id"])
	assert.Equal(t, []any{"conn_a", "conn_b"}, resp["players"])

	// 離開後查不到
	mm.Leave("conn_b")
	w, resp = doRequest(t, h.Routes(), "/api/v1/connections/conn_b/match")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, resp["error"], "連線不在對局中")
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/health", nil)
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandler_NoWebSocketRouteWithoutHub(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
