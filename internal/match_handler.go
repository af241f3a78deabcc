package internal

import (
	"context"
	"log/slog"
	"sync"

	apperrors "github.com/koopa0/system-design/14-rps-rendezvous/pkg/errors"
	"github.com/koopa0/system-design/14-rps-rendezvous/pkg/logger"
)

// MatchHandler 每條連線一個的回合迴圈
//
// 流程（無限循環，直到連線失敗）：
//
//	ReadMove → Match.Submit（會合）→ WriteResult → 下一回合
//
// 清空與重新武裝由同步器在回覆前完成，
// 所以任何一方回到 ReadMove 時，下一回合已就緒。
type MatchHandler struct {
	matchmaker *Matchmaker
	logger     *slog.Logger
}

// NewMatchHandler 創建連線處理器
func NewMatchHandler(matchmaker *Matchmaker, logger *slog.Logger) *MatchHandler {
	return &MatchHandler{
		matchmaker: matchmaker,
		logger:     logger,
	}
}

// Serve 執行連線的回合迴圈，返回結束原因
//
// 錯誤只結束這條連線，不影響其他連線與接受迴圈。
func (h *MatchHandler) Serve(ctx context.Context, conn Conn) error {
	ctx = logger.WithConnID(ctx, conn.ID())

	match, err := h.matchmaker.Join(conn.ID())
	if err != nil {
		h.logger.ErrorContext(ctx, "分配對局失敗", "error", err)
		conn.Close()
		return err
	}
	ctx = logger.WithMatchID(ctx, match.ID)

	defer h.matchmaker.Leave(conn.ID())
	defer conn.Close()

	// 監看 goroutine 與 fail 都可能先發現對局關閉，通知只送一次
	notifyMatchClosed := sync.OnceFunc(func() {
		_ = conn.WriteError(apperrors.ErrMatchClosed)
	})

	// 對局關閉只打斷阻塞中的 ReadMove；已算出的結果照常寫完
	phase := &handlerPhase{}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-match.Done():
			if phase.closeIfReading() {
				notifyMatchClosed()
				conn.Close()
			}
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		if !phase.startReading() {
			return h.fail(ctx, conn, match, notifyMatchClosed, apperrors.ErrMatchClosed)
		}
		move, err := conn.ReadMove()
		phase.stopReading()
		if err != nil {
			return h.fail(ctx, conn, match, notifyMatchClosed, err)
		}

		h.logger.InfoContext(ctx, "收到出拳", "move", move)

		result, err := match.Submit(ctx, move)
		if err != nil {
			return h.fail(ctx, conn, match, notifyMatchClosed, err)
		}

		if err := conn.WriteResult(result, move); err != nil {
			return h.fail(ctx, conn, match, notifyMatchClosed, err)
		}
	}
}

// handlerPhase 處理器是否阻塞在 ReadMove
type handlerPhase struct {
	mu      sync.Mutex
	reading bool
	closed  bool // 對局已關閉，不再讀取下一個出拳
}

// startReading 進入讀取；對局已關閉時返回 false
func (p *handlerPhase) startReading() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.reading = true
	return true
}

func (p *handlerPhase) stopReading() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reading = false
}

// closeIfReading 標記對局關閉；只有阻塞在讀取時才需要由呼叫端關閉連線
func (p *handlerPhase) closeIfReading() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return p.reading
}

// fail 記錄錯誤並通知對端
func (h *MatchHandler) fail(ctx context.Context, conn Conn, match *Match, notifyMatchClosed func(), err error) error {
	// 連線是被對局關閉的，回報真正原因
	matchDone := false
	select {
	case <-match.Done():
		matchDone = true
		if apperrors.IsConnectionClosed(err) {
			err = apperrors.ErrMatchClosed
		}
	default:
	}

	switch {
	case apperrors.IsConnectionClosed(err):
		h.logger.InfoContext(ctx, "連線已關閉", "error", err)
		return err
	case apperrors.IsMatchClosed(err):
		h.logger.InfoContext(ctx, "對局已結束", "error", err)
	default:
		h.logger.WarnContext(ctx, "處理連線請求失敗",
			"error", err,
			"code", apperrors.Code(err))
	}

	if matchDone || apperrors.IsMatchClosed(err) {
		notifyMatchClosed()
		return err
	}
	if werr := conn.WriteError(err); werr != nil {
		h.logger.DebugContext(ctx, "通知錯誤失敗", "error", werr)
	}
	return err
}
