package internal

import (
	"errors"
	"net"
	"sync"

	"github.com/google/uuid"
	apperrors "github.com/koopa0/system-design/14-rps-rendezvous/pkg/errors"
	"github.com/koopa0/system-design/14-rps-rendezvous/pkg/frame"
)

// Conn 一位參與者的雙向連線
//
// 參與者沒有身分，只有連線；ID 僅用於日誌與配對。
type Conn interface {
	ID() string
	RemoteAddr() string

	// ReadMove 阻塞讀取下一個出拳
	ReadMove() (Move, error)

	// WriteResult 回傳回合結果；own 為此連線本回合的出拳
	WriteResult(result Result, own Move) error

	// WriteError 通知對端錯誤（協議不支援時為 no-op）
	WriteError(err error) error

	// Close 關閉連線，可重複呼叫
	Close() error
}

// TCPConn 以長度前綴訊框傳輸的 TCP 連線
type TCPConn struct {
	id        string
	conn      net.Conn
	rw        *frame.ReadWriter
	closeOnce sync.Once
	closeErr  error
}

// NewTCPConn 包裝已接受的 socket
func NewTCPConn(conn net.Conn) *TCPConn {
	return &TCPConn{
		id:   "conn_" + uuid.NewString(),
		conn: conn,
		rw:   frame.NewReadWriter(conn),
	}
}

func (c *TCPConn) ID() string {
	return c.id
}

func (c *TCPConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// ReadMove 讀取一個訊框並解析為出拳
func (c *TCPConn) ReadMove() (Move, error) {
	token, err := c.rw.ReadString()
	if err != nil {
		if errors.Is(err, frame.ErrInvalidUTF8) {
			return "", apperrors.Wrap(err, apperrors.ErrCodeMalformedInput, "read move")
		}
		return "", apperrors.Wrap(err, apperrors.ErrCodeConnectionClosed, "read move")
	}
	return ParseMove(token)
}

// WriteResult 寫入結果字串
//
// TCP 協議雙方收到同一個字串，own 不影響內容。
func (c *TCPConn) WriteResult(result Result, _ Move) error {
	if err := c.rw.WriteString(result.String()); err != nil {
		if errors.Is(err, frame.ErrTooLarge) {
			return apperrors.Wrap(err, apperrors.ErrFrameTooLarge.Code, apperrors.ErrFrameTooLarge.Message)
		}
		return apperrors.Wrap(err, apperrors.ErrCodeConnectionClosed, "write result")
	}
	return nil
}

// WriteError TCP 協議沒有錯誤訊框，對端只會看到連線關閉
func (c *TCPConn) WriteError(error) error {
	return nil
}

func (c *TCPConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
