package internal

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/koopa0/system-design/14-rps-rendezvous/pkg/logger"
)

// Handler 管理 API 處理器
//
// 提供給展示層（日誌視窗、監控）使用；遊戲本身走 TCP 或 /ws。
type Handler struct {
	matchmaker *Matchmaker
	server     *Server       // 可為 nil
	hub        *WebSocketHub // 可為 nil，此時不註冊 /ws
	logs       *RingSink     // 可為 nil
	logger     *slog.Logger
	startedAt  time.Time
}

// NewHandler 創建 HTTP 處理器
func NewHandler(matchmaker *Matchmaker, server *Server, hub *WebSocketHub, logs *RingSink, logger *slog.Logger) *Handler {
	return &Handler{
		matchmaker: matchmaker,
		server:     server,
		hub:        hub,
		logs:       logs,
		logger:     logger,
		startedAt:  time.Now(),
	}
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// 中間件鏈
	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.loggerMiddleware(handler))
	}

	mux.HandleFunc("GET /health", wrap(h.health))
	mux.HandleFunc("GET /stats", wrap(h.stats))
	mux.HandleFunc("GET /logs", wrap(h.listLogs))
	mux.HandleFunc("GET /api/v1/matches/{match_id}", wrap(h.getMatch))
	mux.HandleFunc("GET /api/v1/connections/{conn_id}/match", wrap(h.getConnectionMatch))

	// 升級需要 http.Hijacker，不經過包裝 ResponseWriter 的中間件
	if h.hub != nil {
		mux.HandleFunc("GET /ws", h.hub.ServeWS)
	}

	return mux
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]any{
		"status": "healthy",
		"time":   time.Now().Unix(),
	}, http.StatusOK)
}

// stats 統計資訊
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats := h.matchmaker.Stats()
	stats["uptime_seconds"] = int64(time.Since(h.startedAt).Seconds())
	if h.server != nil {
		stats["tcp_connections"] = h.server.ActiveConnections()
	}
	if h.hub != nil {
		stats["ws_connections"] = h.hub.ConnectionCount()
	}
	h.jsonResponse(w, stats, http.StatusOK)
}

// listLogs 最近的伺服器日誌（舊到新）
func (h *Handler) listLogs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		val, err := strconv.Atoi(l)
		if err != nil || val <= 0 || val > 1000 {
			h.errorResponse(w, "limit 必須在 1-1000 之間", http.StatusBadRequest)
			return
		}
		limit = val
	}

	lines := []logger.Line{}
	if h.logs != nil {
		lines = append(lines, h.logs.Lines(limit)...)
	}

	h.jsonResponse(w, map[string]any{
		"lines": lines,
		"count": len(lines),
	}, http.StatusOK)
}

// getMatch 對局詳情
func (h *Handler) getMatch(w http.ResponseWriter, r *http.Request) {
	match, err := h.matchmaker.GetMatch(r.PathValue("match_id"))
	if err != nil {
		h.errorResponse(w, err.Error(), http.StatusNotFound)
		return
	}

	h.jsonResponse(w, matchBody(match), http.StatusOK)
}

// getConnectionMatch 連線目前所在的對局（含等待對手中的對局）
func (h *Handler) getConnectionMatch(w http.ResponseWriter, r *http.Request) {
	connID := r.PathValue("conn_id")
	match, ok := h.matchmaker.MatchOf(connID)
	if !ok {
		h.errorResponse(w, "連線不在對局中: "+connID, http.StatusNotFound)
		return
	}

	h.jsonResponse(w, matchBody(match), http.StatusOK)
}

func matchBody(match *Match) map[string]any {
	return map[string]any{
		"match_id":   match.ID,
		"created_at": match.CreatedAt,
		"players":    match.Players(),
		"stats":      match.Stats(),
	}
}

// jsonResponse 返回 JSON 響應
func (h *Handler) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("編碼 JSON 失敗", "error", err)
	}
}

// errorResponse 返回錯誤響應
func (h *Handler) errorResponse(w http.ResponseWriter, message string, status int) {
	h.jsonResponse(w, map[string]any{
		"error": message,
	}, status)
}

// loggerMiddleware 日誌中間件
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next(ww, r)

		// /logs 的請求日誌會被寫回環形緩衝，降為 Debug 避免洗版
		level := slog.LevelInfo
		if r.URL.Path == "/logs" {
			level = slog.LevelDebug
		}
		h.logger.Log(r.Context(), level, "HTTP 請求",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start))
	}
}

// recoverer panic 恢復中間件
func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.Error("處理請求時發生 panic",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path)

				h.errorResponse(w, "內部伺服器錯誤", http.StatusInternalServerError)
			}
		}()

		next(w, r)
	}
}

// responseWriter 包裝 ResponseWriter 以獲取狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
