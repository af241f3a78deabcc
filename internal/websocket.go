package internal

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	apperrors "github.com/koopa0/system-design/14-rps-rendezvous/pkg/errors"
)

// 系統設計問題：
//   瀏覽器無法直接開 TCP socket，如何讓網頁客戶端參與同一套回合協議？
//
// 設計方案：
//   ✅ WebSocket 連線實作同一個 Conn 介面，回合邏輯完全共用 MatchHandler
//   ✅ Hub 集中管理連線（註冊、註銷、關閉）
//   ✅ Ping/Pong 心跳偵測死連線（54s/60s）
//   ✅ 單一 writePump 負責所有寫入（gorilla/websocket 不允許併發寫）

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
	wsMaxMessage = 512
	wsSendBuffer = 16
)

// 客戶端 → 伺服器
type wsClientMessage struct {
	Type string `json:"type"`
	Move string `json:"move"`
}

// 伺服器 → 客戶端
type wsResultMessage struct {
	Type    string  `json:"type"`
	Round   uint64  `json:"round"`
	Result  string  `json:"result"`
	Winner  Move    `json:"winner,omitempty"`
	Outcome Outcome `json:"outcome"`
}

type wsErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WebSocketHub WebSocket 連接中心
type WebSocketHub struct {
	handler     *MatchHandler
	logger      *slog.Logger
	upgrader    websocket.Upgrader
	ctx         context.Context
	cancel      context.CancelFunc
	connections map[string]*WSConn // connID -> Connection
	mu          sync.RWMutex
	wg          sync.WaitGroup
}

// NewWebSocketHub 創建 WebSocket Hub
func NewWebSocketHub(handler *MatchHandler, logger *slog.Logger) *WebSocketHub {
	ctx, cancel := context.WithCancel(context.Background())
	return &WebSocketHub{
		handler: handler,
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 在生產環境應該檢查來源
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		ctx:         ctx,
		cancel:      cancel,
		connections: make(map[string]*WSConn),
	}
}

// ServeWS 升級連線並交給 MatchHandler
func (hub *WebSocketHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	select {
	case <-hub.ctx.Done():
		http.Error(w, "服務器正在關閉", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	c := newWSConn(conn, hub.logger)
	if !hub.register(c) {
		conn.Close()
		return
	}

	hub.logger.Info("WebSocket 連接建立",
		"conn_id", c.ID(),
		"remote_addr", c.RemoteAddr())

	go func() {
		defer hub.wg.Done()
		c.writePump()
	}()
	go func() {
		defer hub.wg.Done()
		defer hub.unregister(c)
		_ = hub.handler.Serve(hub.ctx, c)
	}()
}

// register 註冊連接；Hub 已停止時返回 false
//
// 檢查與 wg.Add 在同一把鎖內，Stop 的 wg.Wait 不會與 Add 併發。
func (hub *WebSocketHub) register(c *WSConn) bool {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if hub.ctx.Err() != nil {
		return false
	}
	hub.connections[c.ID()] = c
	hub.wg.Add(2)
	return true
}

// unregister 取消註冊連接
func (hub *WebSocketHub) unregister(c *WSConn) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	delete(hub.connections, c.ID())
}

// ConnectionCount 當前連接數
func (hub *WebSocketHub) ConnectionCount() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.connections)
}

// Stop 關閉所有連接並等待 goroutine 結束
func (hub *WebSocketHub) Stop() {
	hub.cancel()

	hub.mu.RLock()
	for _, c := range hub.connections {
		c.Close()
	}
	hub.mu.RUnlock()

	hub.wg.Wait()
	hub.logger.Info("WebSocket Hub 已停止")
}

// WSConn 以 JSON 文字訊息傳輸的 WebSocket 連線
type WSConn struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

func newWSConn(conn *websocket.Conn, logger *slog.Logger) *WSConn {
	c := &WSConn{
		id:     "ws_" + uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, wsSendBuffer),
		closed: make(chan struct{}),
		logger: logger,
	}

	conn.SetReadLimit(wsMaxMessage)
	if err := conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
		logger.Error("設置讀取期限失敗", "error", err)
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	return c
}

func (c *WSConn) ID() string {
	return c.id
}

func (c *WSConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// ReadMove 讀取下一個出拳
//
// 接受 {"type":"move","move":"rock"} 或純文字 "rock"；
// {"type":"ping"} 直接回覆 pong，不算一回合。
func (c *WSConn) ReadMove() (Move, error) {
	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("WebSocket 讀取錯誤", "conn_id", c.id, "error", err)
			}
			return "", apperrors.Wrap(err, apperrors.ErrCodeConnectionClosed, "read move")
		}
		if messageType != websocket.TextMessage {
			continue
		}

		text := strings.TrimSpace(string(message))
		if !strings.HasPrefix(text, "{") {
			return ParseMove(text)
		}

		var msg wsClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return "", apperrors.Wrap(err, apperrors.ErrCodeMalformedInput, "decode message")
		}

		switch msg.Type {
		case "ping":
			if err := c.writeJSON(map[string]string{"type": "pong"}); err != nil {
				return "", err
			}
		case "move", "":
			return ParseMove(msg.Move)
		default:
			return "", apperrors.ErrMalformedInput.WithDetails("unknown message type " + msg.Type)
		}
	}
}

// WriteResult 回傳結果，附上此連線視角的輸贏
func (c *WSConn) WriteResult(result Result, own Move) error {
	return c.writeJSON(wsResultMessage{
		Type:    "result",
		Round:   result.Round,
		Result:  result.String(),
		Winner:  result.Winner,
		Outcome: result.OutcomeFor(own),
	})
}

// WriteError 回傳錯誤訊息
func (c *WSConn) WriteError(err error) error {
	var appErr *apperrors.AppError
	msg := wsErrorMessage{Type: "error", Code: apperrors.ErrCodeInternal, Message: err.Error()}
	if errors.As(err, &appErr) {
		msg.Code = appErr.Code
		msg.Message = appErr.Message
	}
	return c.writeJSON(msg)
}

// Close 通知 writePump 送出剩餘訊息與關閉幀後關閉連線
func (c *WSConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
	return nil
}

// writeJSON 排入發送佇列
func (c *WSConn) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "encode message")
	}

	select {
	case <-c.closed:
		return apperrors.ErrConnectionClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.closed:
		return apperrors.ErrConnectionClosed
	default:
		return apperrors.ErrConnectionClosed.WithDetails("send buffer full")
	}
}

// writePump 唯一的寫入 goroutine
//
// 心跳：每 54 秒送 Ping，讀取端 60 秒內沒收到任何資料（含 Pong）即逾時。
func (c *WSConn) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			if err := c.write(websocket.TextMessage, message); err != nil {
				c.Close()
				return
			}

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.closed:
			// 送出佇列中剩餘的訊息（例如錯誤通知）
			for {
				select {
				case message := <-c.send:
					if err := c.write(websocket.TextMessage, message); err != nil {
						return
					}
					continue
				default:
				}
				break
			}
			_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *WSConn) write(messageType int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}
