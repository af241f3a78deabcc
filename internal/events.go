package internal

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koopa0/system-design/14-rps-rendezvous/pkg/logger"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

// 系統設計問題：
//   伺服器的日誌視窗只需要「追加一行」這個介面，
//   如何把同一串日誌送到多個接收端，又不讓慢的接收端拖住回合？
//
// 設計方案：
//   ✅ RingSink：記憶體環形緩衝，提供 /logs 查詢
//   ✅ NATSSink / RedisSink：發佈到訊息系統，外部日誌視窗訂閱
//   ✅ AsyncSink：緩衝 channel + 背景 goroutine，滿了就丟棄並計數
//   ✅ MultiSink：扇出

// MultiSink 扇出到多個接收端
type MultiSink []logger.Sink

// Append 依序送到每個接收端
func (m MultiSink) Append(ctx context.Context, line logger.Line) {
	for _, s := range m {
		s.Append(ctx, line)
	}
}

// RingSink 保留最近 N 行
type RingSink struct {
	mu    sync.RWMutex
	lines []logger.Line
	next  int
	full  bool
}

// NewRingSink 創建環形緩衝
func NewRingSink(capacity int) *RingSink {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingSink{lines: make([]logger.Line, capacity)}
}

// Append 追加一行，覆蓋最舊的
func (r *RingSink) Append(_ context.Context, line logger.Line) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lines[r.next] = line
	r.next = (r.next + 1) % len(r.lines)
	if r.next == 0 {
		r.full = true
	}
}

// Lines 最近 limit 行（舊到新），limit <= 0 返回全部
func (r *RingSink) Lines(limit int) []logger.Line {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ordered []logger.Line
	if r.full {
		ordered = append(ordered, r.lines[r.next:]...)
	}
	ordered = append(ordered, r.lines[:r.next]...)

	if limit > 0 && limit < len(ordered) {
		ordered = ordered[len(ordered)-limit:]
	}
	return ordered
}

// Len 目前保存的行數
func (r *RingSink) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.full {
		return len(r.lines)
	}
	return r.next
}

// AsyncSink 非同步包裝，發佈不阻塞呼叫端
type AsyncSink struct {
	next    logger.Sink
	queue   chan logger.Line
	dropped atomic.Uint64
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// NewAsyncSink 啟動背景發送 goroutine
func NewAsyncSink(next logger.Sink, buffer int) *AsyncSink {
	a := &AsyncSink{
		next:    next,
		queue:   make(chan logger.Line, buffer),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go a.loop()
	return a
}

// Append 排入佇列，佇列滿了直接丟棄
func (a *AsyncSink) Append(_ context.Context, line logger.Line) {
	select {
	case <-a.done:
		a.dropped.Add(1)
		return
	default:
	}

	select {
	case a.queue <- line:
	default:
		a.dropped.Add(1)
	}
}

// Dropped 被丟棄的行數
func (a *AsyncSink) Dropped() uint64 {
	return a.dropped.Load()
}

// Close 送完佇列中剩餘的行後停止
func (a *AsyncSink) Close() {
	a.once.Do(func() {
		close(a.done)
	})
	<-a.stopped
}

func (a *AsyncSink) loop() {
	defer close(a.stopped)
	for {
		select {
		case line := <-a.queue:
			a.next.Append(context.Background(), line)
		case <-a.done:
			for {
				select {
				case line := <-a.queue:
					a.next.Append(context.Background(), line)
				default:
					return
				}
			}
		}
	}
}

// natsPublisher *nats.Conn 的發佈子集
type natsPublisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink 發佈到 NATS subject（Core NATS，fire-and-forget）
type NATSSink struct {
	pub     natsPublisher
	conn    *nats.Conn
	subject string
	failed  atomic.Uint64
}

// NewNATSSink 連接 NATS
func NewNATSSink(url, subject string) (*NATSSink, error) {
	conn, err := nats.Connect(url,
		nats.Name("rps-rendezvous"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &NATSSink{pub: conn, conn: conn, subject: subject}, nil
}

// NewNATSSinkWithPublisher 以既有的發佈端創建（測試用）
func NewNATSSinkWithPublisher(pub natsPublisher, subject string) *NATSSink {
	return &NATSSink{pub: pub, subject: subject}
}

// Append 以 JSON 發佈一行
func (n *NATSSink) Append(_ context.Context, line logger.Line) {
	data, err := json.Marshal(line)
	if err != nil {
		n.failed.Add(1)
		return
	}
	if err := n.pub.Publish(n.subject, data); err != nil {
		n.failed.Add(1)
	}
}

// Failed 發佈失敗次數
func (n *NATSSink) Failed() uint64 {
	return n.failed.Load()
}

// Close 清空緩衝並關閉連線
func (n *NATSSink) Close() {
	if n.conn != nil {
		_ = n.conn.Drain()
	}
}

// redisPublisher *redis.Client 的發佈子集
type redisPublisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisSink 發佈到 Redis pub/sub channel
type RedisSink struct {
	pub     redisPublisher
	client  *redis.Client
	channel string
	timeout time.Duration
	failed  atomic.Uint64
}

// NewRedisSink 連接 Redis
func NewRedisSink(ctx context.Context, opts *redis.Options, channel string) (*RedisSink, error) {
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &RedisSink{pub: client, client: client, channel: channel, timeout: time.Second}, nil
}

// NewRedisSinkWithPublisher 以既有的發佈端創建（測試用）
func NewRedisSinkWithPublisher(pub redisPublisher, channel string) *RedisSink {
	return &RedisSink{pub: pub, channel: channel, timeout: time.Second}
}

// Append 以 JSON 發佈一行
func (r *RedisSink) Append(ctx context.Context, line logger.Line) {
	data, err := json.Marshal(line)
	if err != nil {
		r.failed.Add(1)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	if err := r.pub.Publish(ctx, r.channel, data).Err(); err != nil {
		r.failed.Add(1)
	}
}

// Failed 發佈失敗次數
func (r *RedisSink) Failed() uint64 {
	return r.failed.Load()
}

// Close 關閉連線
func (r *RedisSink) Close() {
	if r.client != nil {
		_ = r.client.Close()
	}
}
