package internal_test

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/koopa0/system-design/14-rps-rendezvous/internal"
	"github.com/koopa0/system-design/14-rps-rendezvous/pkg/frame"
	"github.com/koopa0/system-design/14-rps-rendezvous/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	addr       string
	server     *internal.Server
	matchmaker *internal.Matchmaker
	serveErr   chan error
}

func startTestServer(t *testing.T, mode internal.PairingMode, log *slog.Logger) *testServer {
	t.Helper()

	mm := internal.NewMatchmaker(mode, 0, log)
	srv := internal.NewServer("127.0.0.1:0", internal.NewMatchHandler(mm, log), log)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	ts := &testServer{
		addr:       ln.Addr().String(),
		server:     srv,
		matchmaker: mm,
		serveErr:   make(chan error, 1),
	}
	go func() {
		ts.serveErr <- srv.Serve(ctx, ln)
	}()

	t.Cleanup(func() {
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = srv.Shutdown(shutdownCtx)
		mm.Stop()
	})
	return ts
}

type testClient struct {
	conn net.Conn
	rw   *frame.ReadWriter
}

// dial 連線並等待伺服器完成配對登記，保證到達順序
func (ts *testServer) dial(t *testing.T, wantConnections int) *testClient {
	t.Helper()

	conn, err := net.Dial("tcp", ts.addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool {
		return ts.matchmaker.Stats()["connections"] == wantConnections
	}, 2*time.Second, time.Millisecond)

	return &testClient{conn: conn, rw: frame.NewReadWriter(conn)}
}

func (c *testClient) send(t *testing.T, move string) {
	t.Helper()
	require.NoError(t, c.rw.WriteString(move))
}

func (c *testClient) receive(t *testing.T) string {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	msg, err := c.rw.ReadString()
	require.NoError(t, err)
	return msg
}

// expectClosed 伺服器關閉了連線
func (c *testClient) expectClosed(t *testing.T) {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := c.rw.ReadString()
	require.Error(t, err)

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		t.Fatalf("等待關閉逾時: %v", err)
	}
}

// TestServer_TwoClientsPlayRounds 兩個 TCP 客戶端完整對戰
func TestServer_TwoClientsPlayRounds(t *testing.T) {
	ring := internal.NewRingSink(64)
	log := logger.New(logger.Options{Level: "info", Output: discardWriter{}, Sink: ring})
	ts := startTestServer(t, internal.PairingMatched, log)

	a := ts.dial(t, 1)
	b := ts.dial(t, 2)

	// 第一回合：rock vs paper
	a.send(t, "rock")
	b.send(t, "paper")
	assert.Equal(t, "paper won this round", a.receive(t))
	assert.Equal(t, "paper won this round", b.receive(t))

	// 第二回合：先到的變成 b
	b.send(t, "Scissors")
	a.send(t, "scissors")
	assert.Equal(t, "It's a tie!", a.receive(t))
	assert.Equal(t, "It's a tie!", b.receive(t))

	// 第三回合
	a.send(t, "rock")
	b.send(t, "scissors")
	assert.Equal(t, "rock won this round", a.receive(t))
	assert.Equal(t, "rock won this round", b.receive(t))

	assert.Equal(t, 2, ts.server.ActiveConnections())
	assert.Equal(t, uint64(3), ts.matchmaker.Stats()["rounds"])

	var messages []string
	for _, l := range ring.Lines(0) {
		messages = append(messages, l.Message)
	}
	assert.Contains(t, messages, "伺服器啟動")
	assert.Contains(t, messages, "啟動客戶端連線")
	assert.Contains(t, messages, "收到出拳")
	assert.Contains(t, messages, "對局成立")
}

// TestServer_MatchesAreIsolated 不同對局的回合互不干擾
func TestServer_MatchesAreIsolated(t *testing.T) {
	ts := startTestServer(t, internal.PairingMatched, logger.Discard())

	c1 := ts.dial(t, 1)
	c2 := ts.dial(t, 2)
	c3 := ts.dial(t, 3)
	c4 := ts.dial(t, 4)

	c1.send(t, "rock")
	c3.send(t, "paper")
	assert.Equal(t, 2, ts.matchmaker.Stats()["active_matches"])

	c2.send(t, "scissors")
	c4.send(t, "rock")

	assert.Equal(t, "rock won this round", c1.receive(t))
	assert.Equal(t, "rock won this round", c2.receive(t))
	assert.Equal(t, "paper won this round", c3.receive(t))
	assert.Equal(t, "paper won this round", c4.receive(t))
}

// TestServer_SharedMode 單一全域對局
func TestServer_SharedMode(t *testing.T) {
	ts := startTestServer(t, internal.PairingShared, logger.Discard())

	a := ts.dial(t, 1)
	b := ts.dial(t, 2)

	a.send(t, "paper")
	b.send(t, "rock")
	assert.Equal(t, "paper won this round", a.receive(t))
	assert.Equal(t, "paper won this round", b.receive(t))
}

// TestServer_MalformedMoveClosesConnection 無效出拳只結束該連線與其對局
func TestServer_MalformedMoveClosesConnection(t *testing.T) {
	ts := startTestServer(t, internal.PairingMatched, logger.Discard())

	a := ts.dial(t, 1)
	b := ts.dial(t, 2)

	a.send(t, "lizard")

	a.expectClosed(t)
	// 對局關閉，對手也被斷開
	b.expectClosed(t)

	require.Eventually(t, func() bool {
		return ts.server.ActiveConnections() == 0
	}, 2*time.Second, time.Millisecond)

	// 接受迴圈不受影響
	c := ts.dial(t, 1)
	d := ts.dial(t, 2)
	c.send(t, "rock")
	d.send(t, "rock")
	assert.Equal(t, "It's a tie!", c.receive(t))
	assert.Equal(t, "It's a tie!", d.receive(t))
}

// TestServer_PeerDisconnectEndsMatch 對手斷線時等待中的一方結束
func TestServer_PeerDisconnectEndsMatch(t *testing.T) {
	ts := startTestServer(t, internal.PairingMatched, logger.Discard())

	a := ts.dial(t, 1)
	b := ts.dial(t, 2)

	a.send(t, "rock")
	require.NoError(t, b.conn.Close())

	a.expectClosed(t)
}

// TestServer_Shutdown 關閉時斷開所有連線，Serve 返回 ErrServerClosed
func TestServer_Shutdown(t *testing.T) {
	ts := startTestServer(t, internal.PairingMatched, logger.Discard())

	a := ts.dial(t, 1)
	require.NotNil(t, ts.server.Addr())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ts.server.Shutdown(ctx))

	select {
	case err := <-ts.serveErr:
		assert.ErrorIs(t, err, internal.ErrServerClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve 沒有返回")
	}

	a.expectClosed(t)
	assert.Zero(t, ts.server.ActiveConnections())

	_, err := net.DialTimeout("tcp", ts.addr, 200*time.Millisecond)
	assert.Error(t, err)
}

// TestServer_ContextCancelStopsAccepting 取消 ctx 等同關閉
func TestServer_ContextCancelStopsAccepting(t *testing.T) {
	log := logger.Discard()
	mm := internal.NewMatchmaker(internal.PairingMatched, 0, log)
	defer mm.Stop()
	srv := internal.NewServer("127.0.0.1:0", internal.NewMatchHandler(mm, log), log)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx, ln) }()

	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, internal.ErrServerClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve 沒有返回")
	}
}
