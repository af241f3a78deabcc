package internal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// PairingMode 配對模式
//
//	matched：依連線到達順序兩兩配對，每對一個同步器
//	shared ：全部連線共用一個同步器（單一對局部署）
type PairingMode string

const (
	PairingMatched PairingMode = "matched"
	PairingShared  PairingMode = "shared"
)

// Valid 是否為已知模式
func (p PairingMode) Valid() bool {
	return p == PairingMatched || p == PairingShared
}

// Match 一場對局：一個同步器加上參與的連線
type Match struct {
	ID        string    `json:"match_id"`
	CreatedAt time.Time `json:"created_at"`

	syncer  *Synchronizer
	mu      sync.RWMutex
	players []string
}

// Submit 提交出拳並等待本回合結果
func (m *Match) Submit(ctx context.Context, move Move) (Result, error) {
	return m.syncer.Submit(ctx, move)
}

// Done 對局關閉後關閉
func (m *Match) Done() <-chan struct{} {
	return m.syncer.Done()
}

// Players 參與的連線 ID（依加入順序）
func (m *Match) Players() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.players...)
}

// Stats 對局統計
func (m *Match) Stats() SyncStats {
	return m.syncer.Stats()
}

func (m *Match) addPlayer(connID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.players = append(m.players, connID)
	return len(m.players)
}

// Matchmaker 配對器
type Matchmaker struct {
	mode         PairingMode
	roundTimeout time.Duration
	logger       *slog.Logger

	mu        sync.Mutex
	waiting   *Match            // matched 模式下只有一人的對局
	shared    *Match            // shared 模式下唯一的對局
	matches   map[string]*Match // matchID -> Match
	connMatch map[string]*Match // connID -> Match
	stopped   bool

	rounds atomic.Uint64
	ties   atomic.Uint64
}

// NewMatchmaker 創建配對器
func NewMatchmaker(mode PairingMode, roundTimeout time.Duration, logger *slog.Logger) *Matchmaker {
	return &Matchmaker{
		mode:         mode,
		roundTimeout: roundTimeout,
		logger:       logger,
		matches:      make(map[string]*Match),
		connMatch:    make(map[string]*Match),
	}
}

// Mode 配對模式
func (mm *Matchmaker) Mode() PairingMode {
	return mm.mode
}

// Join 為連線分配對局
func (mm *Matchmaker) Join(connID string) (*Match, error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	if mm.stopped {
		return nil, fmt.Errorf("配對器已停止")
	}
	if _, exists := mm.connMatch[connID]; exists {
		return nil, fmt.Errorf("連線已在對局中: %s", connID)
	}

	var match *Match
	switch mm.mode {
	case PairingShared:
		if mm.shared == nil {
			mm.shared = mm.newMatch()
		}
		match = mm.shared

	default:
		if mm.waiting != nil {
			match = mm.waiting
			mm.waiting = nil
		} else {
			match = mm.newMatch()
			mm.waiting = match
		}
	}

	mm.connMatch[connID] = match
	count := match.addPlayer(connID)

	if mm.mode == PairingMatched && count == 2 {
		mm.logger.Info("對局成立",
			"match_id", match.ID,
			"players", match.Players())
	} else {
		mm.logger.Info("等待對手",
			"match_id", match.ID,
			"conn_id", connID,
			"players", count)
	}

	return match, nil
}

// Leave 連線離開
//
// matched 模式下對局隨之關閉，對手等待中的提交收到 MATCH_CLOSED；
// shared 模式下共用對局保持不變。
func (mm *Matchmaker) Leave(connID string) {
	mm.mu.Lock()
	match, exists := mm.connMatch[connID]
	if !exists {
		mm.mu.Unlock()
		return
	}
	delete(mm.connMatch, connID)

	closeMatch := mm.mode == PairingMatched
	if closeMatch {
		if mm.waiting == match {
			mm.waiting = nil
		}
		delete(mm.matches, match.ID)
	}
	mm.mu.Unlock()

	if closeMatch {
		match.syncer.Close()
		mm.logger.Info("對局已關閉",
			"match_id", match.ID,
			"conn_id", connID,
			"rounds", match.Stats().Rounds)
	}
}

// GetMatch 獲取對局
func (mm *Matchmaker) GetMatch(matchID string) (*Match, error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	match, exists := mm.matches[matchID]
	if !exists {
		return nil, fmt.Errorf("對局不存在: %s", matchID)
	}
	return match, nil
}

// MatchOf 連線所在的對局
func (mm *Matchmaker) MatchOf(connID string) (*Match, bool) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	match, exists := mm.connMatch[connID]
	return match, exists
}

// Stop 停止配對器並關閉所有對局
func (mm *Matchmaker) Stop() {
	mm.mu.Lock()
	mm.stopped = true
	matches := make([]*Match, 0, len(mm.matches))
	for _, m := range mm.matches {
		matches = append(matches, m)
	}
	mm.matches = make(map[string]*Match)
	mm.connMatch = make(map[string]*Match)
	mm.waiting = nil
	mm.shared = nil
	mm.mu.Unlock()

	for _, m := range matches {
		m.syncer.Close()
	}

	mm.logger.Info("配對器已停止", "closed_matches", len(matches))
}

// Stats 獲取統計資訊
func (mm *Matchmaker) Stats() map[string]any {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	waiting := 0
	if mm.waiting != nil {
		waiting = 1
	}

	return map[string]any{
		"mode":            mm.mode,
		"active_matches":  len(mm.matches),
		"connections":     len(mm.connMatch),
		"waiting_matches": waiting,
		"rounds":          mm.rounds.Load(),
		"ties":            mm.ties.Load(),
	}
}

// newMatch 創建對局（需持有鎖）
func (mm *Matchmaker) newMatch() *Match {
	id := "match_" + uuid.NewString()
	match := &Match{
		ID:        id,
		CreatedAt: time.Now(),
		syncer: NewSynchronizer(SyncConfig{
			ID:           id,
			RoundTimeout: mm.roundTimeout,
			OnRound:      mm.onRound,
		}, mm.logger),
	}
	mm.matches[id] = match
	return match
}

// onRound 匯總所有對局的回合數
func (mm *Matchmaker) onRound(_ string, _, _ Move, result Result) {
	mm.rounds.Add(1)
	if result.Tie {
		mm.ties.Add(1)
	}
}
