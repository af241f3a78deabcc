package internal

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// ErrServerClosed Serve 在 Shutdown 之後返回
var ErrServerClosed = errors.New("rps: server closed")

// Server 連線接受器
//
// 每個接受的連線啟動一個 MatchHandler goroutine；
// 不限制連線數（matched 模式下多出的連線會進入新對局）。
type Server struct {
	addr    string
	handler *MatchHandler
	logger  *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[string]Conn
	closing  atomic.Bool
	wg       sync.WaitGroup

	clientNumber atomic.Int64
}

// NewServer 創建接受器
func NewServer(addr string, handler *MatchHandler, logger *slog.Logger) *Server {
	return &Server{
		addr:    addr,
		handler: handler,
		logger:  logger,
		conns:   make(map[string]Conn),
	}
}

// ListenAndServe 監聽 addr 並開始接受連線
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve 在既有 listener 上接受連線，直到 ctx 取消、Shutdown 或不可恢復的錯誤
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.closing.Load() {
		s.mu.Unlock()
		ln.Close()
		return ErrServerClosed
	}
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("伺服器啟動",
		"addr", ln.Addr().String(),
		"started_at", time.Now().Format(time.RFC1123))

	stop := context.AfterFunc(ctx, func() {
		ln.Close()
	})
	defer stop()

	var tempDelay time.Duration
	for {
		raw, err := ln.Accept()
		if err != nil {
			if s.closing.Load() || ctx.Err() != nil {
				return ErrServerClosed
			}
			if isTemporaryAcceptError(err) {
				// 與 net/http.Server 相同的退避策略
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if tempDelay > time.Second {
					tempDelay = time.Second
				}
				s.logger.Warn("接受連線失敗，稍後重試",
					"error", err,
					"retry_in", tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			s.logger.Error("接受連線失敗，停止服務", "error", err)
			return err
		}
		tempDelay = 0

		conn := NewTCPConn(raw)
		number := s.clientNumber.Add(1) - 1

		s.logger.Info("啟動客戶端連線",
			"client", number,
			"conn_id", conn.ID(),
			"remote_addr", conn.RemoteAddr(),
			"started_at", time.Now().Format(time.RFC1123))

		if !s.track(conn) {
			conn.Close()
			return ErrServerClosed
		}

		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			_ = s.handler.Serve(ctx, conn)
		}()
	}
}

// Addr 監聽地址（Serve 之前為 nil）
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ActiveConnections 當前連線數
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Shutdown 停止接受新連線、關閉所有連線並等待處理器結束
func (s *Server) Shutdown(ctx context.Context) error {
	s.closing.Store(true)

	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	for _, c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("伺服器已關閉")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// track 記錄連線；關閉中返回 false
func (s *Server) track(c Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing.Load() {
		return false
	}
	s.conns[c.ID()] = c
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c.ID())
}

// isTemporaryAcceptError 可重試的 accept 錯誤
func isTemporaryAcceptError(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EMFILE) ||
		errors.Is(err, syscall.ENFILE)
}
