package internal

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/koopa0/system-design/14-rps-rendezvous/pkg/errors"
)

// 系統設計問題：
//   兩個獨立的連線 goroutine 各自送出出拳，如何在「兩人都到齊」時
//   才計算結果，並且安全地重置給下一回合？
//
// 核心挑戰：
//   1. 會合點：先到的一方必須阻塞，直到第二人到達
//   2. 重置時序：清空出拳與重新武裝必須先於任何一方進入下一回合
//   3. 第三者：同一個同步器上若出現第三個出拳，不能污染本回合
//   4. 停滯：對手永遠不出拳時，等待必須可以被取消
//
// 設計方案：
//   ✅ Actor：回合狀態只由一個 goroutine 持有，其他人只能送訊息
//   ✅ 回覆通道：每次提交附帶一個 buffered reply channel
//   ✅ 先重置再回覆：「加入、檢查數量、清空並重新武裝」是同一段迴圈
//   ✅ context + 回合超時：等待可取消，超時以 TIMEOUT 錯誤回報

// SyncConfig 同步器配置
type SyncConfig struct {
	ID           string
	RoundTimeout time.Duration // 0 表示無限等待
	OnRound      func(matchID string, first, second Move, result Result)
}

// SyncStats 同步器統計
type SyncStats struct {
	Rounds  uint64          `json:"rounds"`
	Ties    uint64          `json:"ties"`
	Wins    map[Move]uint64 `json:"wins"`
	Pending int             `json:"pending"`
	Closed  bool            `json:"closed"`
}

// Synchronizer 回合同步器
//
// 狀態（待配對的出拳、回合編號）只存在於 run goroutine 的區域變數中，
// 外部透過 submitCh / withdrawCh 互動。
type Synchronizer struct {
	id           string
	roundTimeout time.Duration
	onRound      func(matchID string, first, second Move, result Result)
	logger       *slog.Logger

	submitCh   chan *submission
	withdrawCh chan withdrawal
	stopCh     chan struct{}
	done       chan struct{}
	closeOnce  sync.Once

	rounds  atomic.Uint64
	ties    atomic.Uint64
	wins    map[Move]*atomic.Uint64
	pending atomic.Int32
}

type submission struct {
	move  Move
	reply chan reply
}

type reply struct {
	result Result
	err    error
}

type withdrawal struct {
	sub     *submission
	removed chan bool
}

// NewSynchronizer 創建並啟動同步器
func NewSynchronizer(cfg SyncConfig, logger *slog.Logger) *Synchronizer {
	s := &Synchronizer{
		id:           cfg.ID,
		roundTimeout: cfg.RoundTimeout,
		onRound:      cfg.OnRound,
		logger:       logger.With("match_id", cfg.ID),
		submitCh:     make(chan *submission),
		withdrawCh:   make(chan withdrawal),
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
		wins: map[Move]*atomic.Uint64{
			Rock:     new(atomic.Uint64),
			Paper:    new(atomic.Uint64),
			Scissors: new(atomic.Uint64),
		},
	}

	go s.run()

	return s
}

// ID 同步器（對局）ID
func (s *Synchronizer) ID() string {
	return s.id
}

// Done 同步器關閉後關閉
func (s *Synchronizer) Done() <-chan struct{} {
	return s.done
}

// Submit 提交本回合出拳，阻塞直到對手也出拳
//
// 錯誤：
//   - MALFORMED_INPUT：出拳不合法
//   - TIMEOUT：回合超時或 ctx 到期
//   - MATCH_CLOSED：同步器已關閉或 ctx 被取消
func (s *Synchronizer) Submit(ctx context.Context, move Move) (Result, error) {
	if !move.Valid() {
		return Result{}, apperrors.ErrMalformedInput.WithDetails(string(move))
	}

	sub := &submission{move: move, reply: make(chan reply, 1)}

	select {
	case s.submitCh <- sub:
	case <-s.done:
		return Result{}, apperrors.ErrMatchClosed
	case <-ctx.Done():
		return Result{}, contextError(ctx)
	}

	var timeout <-chan time.Time
	if s.roundTimeout > 0 {
		timer := time.NewTimer(s.roundTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case r := <-sub.reply:
		return r.result, r.err
	case <-timeout:
		return s.withdraw(sub, apperrors.ErrTimeout.WithDetails(s.roundTimeout.String()))
	case <-ctx.Done():
		return s.withdraw(sub, contextError(ctx))
	}
}

// withdraw 撤回尚未配對的出拳
//
// 撤回與配對由 run 串行處理：若撤回時已經配對成功，
// 結果一定已在 reply 中，直接返回結果而不是錯誤。
func (s *Synchronizer) withdraw(sub *submission, cause error) (Result, error) {
	w := withdrawal{sub: sub, removed: make(chan bool, 1)}

	select {
	case s.withdrawCh <- w:
		if removed := <-w.removed; removed {
			return Result{}, cause
		}
	case <-s.done:
	}

	select {
	case r := <-sub.reply:
		return r.result, r.err
	default:
		return Result{}, cause
	}
}

// Close 關閉同步器，等待中的提交收到 MATCH_CLOSED
func (s *Synchronizer) Close() {
	s.closeOnce.Do(func() {
		close(s.stopCh)
	})
	<-s.done
}

// Stats 獲取統計資訊
func (s *Synchronizer) Stats() SyncStats {
	stats := SyncStats{
		Rounds:  s.rounds.Load(),
		Ties:    s.ties.Load(),
		Wins:    make(map[Move]uint64, len(s.wins)),
		Pending: int(s.pending.Load()),
	}
	for m, n := range s.wins {
		stats.Wins[m] = n.Load()
	}
	select {
	case <-s.done:
		stats.Closed = true
	default:
	}
	return stats
}

// run 持有回合狀態的唯一 goroutine
func (s *Synchronizer) run() {
	defer close(s.done)

	var (
		pending []*submission
		round   uint64
	)

	for {
		select {
		case sub := <-s.submitCh:
			pending = append(pending, sub)

			if len(pending) >= 2 {
				first, second := pending[0], pending[1]

				// 先清空並推進回合，再回覆雙方
				pending = append(pending[:0], pending[2:]...)
				round++

				result := Play(first.move, second.move)
				result.Round = round
				s.record(first.move, second.move, result)

				first.reply <- reply{result: result}
				second.reply <- reply{result: result}
			}
			s.pending.Store(int32(len(pending)))

		case w := <-s.withdrawCh:
			removed := false
			for i, sub := range pending {
				if sub == w.sub {
					pending = append(pending[:i], pending[i+1:]...)
					removed = true
					break
				}
			}
			s.pending.Store(int32(len(pending)))
			w.removed <- removed

		case <-s.stopCh:
			for _, sub := range pending {
				sub.reply <- reply{err: apperrors.ErrMatchClosed}
			}
			s.pending.Store(0)
			s.logger.Debug("同步器已關閉", "rounds", round)
			return
		}
	}
}

// record 更新統計並通知觀察者
func (s *Synchronizer) record(first, second Move, result Result) {
	s.rounds.Add(1)
	if result.Tie {
		s.ties.Add(1)
	} else {
		s.wins[result.Winner].Add(1)
	}

	s.logger.Info("回合結束",
		"round", result.Round,
		"first", first,
		"second", second,
		"result", result.String())

	if s.onRound != nil {
		s.onRound(s.id, first, second, result)
	}
}

// contextError 將 ctx 錯誤轉為應用程式錯誤
func contextError(ctx context.Context) error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Wrap(err, apperrors.ErrCodeTimeout, "submit deadline exceeded")
	}
	return apperrors.Wrap(err, apperrors.ErrCodeMatchClosed, "submit canceled")
}
