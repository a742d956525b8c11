package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu     sync.Mutex
	msgs   []string
	err    error
	block  chan struct{}
	closed bool
}

func (c *fakeConn) Write(msg string) error {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) received() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.msgs...)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func newTestManager(t *testing.T, buffer int) *Manager {
	t.Helper()
	m := New(Options{Bind: "127.0.0.1", ClientBuffer: buffer, WriteTimeout: time.Second, Log: zerolog.Nop()})
	t.Cleanup(func() { _ = m.Close() })
	return m
}

const depth = "$IIDBT,65.6,f,20.0,M,10.9,F*2E\r\n"

func TestBroadcastReachesEveryClient(t *testing.T) {
	m := newTestManager(t, 8)
	a, b := &fakeConn{}, &fakeConn{}
	_, ok := m.Register(TCP, "10.0.0.1:5000", a)
	require.True(t, ok)
	_, ok = m.Register(UDP, "10.0.0.2:5001", b)
	require.True(t, ok)

	m.Broadcast("$IIDBT,65.6,f,20.0,M,10.9,F*2E")

	for _, c := range []*fakeConn{a, b} {
		require.Eventually(t, func() bool { return len(c.received()) == 1 }, time.Second, 5*time.Millisecond)
		assert.Equal(t, depth, c.received()[0])
	}
	assert.Equal(t, Stats{Active: 2, Broadcasts: 1}, m.Stats())
}

func TestRegisterDuplicateKeepsFirst(t *testing.T) {
	m := newTestManager(t, 8)
	id, ok := m.Register(UDP, "10.0.0.2:5001", &fakeConn{})
	require.True(t, ok)
	assert.Equal(t, "udp:10.0.0.2:5001", id)

	id2, ok := m.Register(UDP, "10.0.0.2:5001", &fakeConn{})
	assert.False(t, ok)
	assert.Equal(t, id, id2)
	assert.Len(t, m.Clients(), 1)
}

func TestWriteErrorDropsOnlyThatClient(t *testing.T) {
	m := newTestManager(t, 8)
	var gone []string
	var mu sync.Mutex
	m.OnDisconnect(func(id string) {
		mu.Lock()
		gone = append(gone, id)
		mu.Unlock()
	})
	bad := &fakeConn{err: errors.New("broken pipe")}
	good := &fakeConn{}
	badID, _ := m.Register(TCP, "10.0.0.1:5000", bad)
	goodID, _ := m.Register(TCP, "10.0.0.3:5000", good)

	m.Broadcast(depth)

	require.Eventually(t, func() bool { return bad.isClosed() }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(good.received()) == 1 }, time.Second, 5*time.Millisecond)
	clients := m.Clients()
	require.Len(t, clients, 1)
	assert.Equal(t, goodID, clients[0].ID)
	assert.EqualValues(t, 1, m.Stats().Dropped)
	mu.Lock()
	assert.Equal(t, []string{badID}, gone)
	mu.Unlock()
}

func TestFullQueueDropsClient(t *testing.T) {
	m := newTestManager(t, 1)
	slow := &fakeConn{block: make(chan struct{})}
	defer close(slow.block)
	_, ok := m.Register(WebSocket, "10.0.0.4:6000", slow)
	require.True(t, ok)

	// The writer takes the first message and blocks; the second fills the
	// queue and the third overflows it.
	m.Broadcast(depth)
	require.Eventually(t, func() bool {
		m.Broadcast(depth)
		return len(m.Clients()) == 0
	}, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, m.Stats().Dropped)
}

func TestSendTo(t *testing.T) {
	m := newTestManager(t, 8)
	a, b := &fakeConn{}, &fakeConn{}
	idA, _ := m.Register(TCP, "10.0.0.1:5000", a)
	m.Register(TCP, "10.0.0.3:5000", b)

	require.NoError(t, m.SendTo(idA, depth))
	require.Eventually(t, func() bool { return len(a.received()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, b.received())

	err := m.SendTo("tcp:10.9.9.9:1", depth)
	assert.ErrorIs(t, err, ErrUnknownClient)
}

func TestBroadcastEventOnlyReachesWebSockets(t *testing.T) {
	m := newTestManager(t, 8)
	tcp, ws := &fakeConn{}, &fakeConn{}
	m.Register(TCP, "10.0.0.1:5000", tcp)
	m.Register(WebSocket, "10.0.0.5:7000", ws)

	require.NoError(t, m.BroadcastEvent("autopilot_status", map[string]any{"mode": "auto"}))
	require.Eventually(t, func() bool { return len(ws.received()) == 1 }, time.Second, 5*time.Millisecond)

	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(ws.received()[0]), &env))
	assert.Equal(t, "autopilot_status", env.Type)
	assert.Equal(t, map[string]any{"mode": "auto"}, env.Data)
	assert.NotZero(t, env.Timestamp)
	assert.Empty(t, tcp.received())
}

func TestCloseDisconnectsEveryone(t *testing.T) {
	m := newTestManager(t, 8)
	a := &fakeConn{}
	m.Register(TCP, "10.0.0.1:5000", a)
	require.NoError(t, m.Close())
	assert.True(t, a.isClosed())
	assert.Equal(t, 0, m.Stats().Active)

	// A closed manager refuses new clients and ignores broadcasts.
	b := &fakeConn{}
	_, ok := m.Register(TCP, "10.0.0.3:5000", b)
	assert.False(t, ok)
	assert.True(t, b.isClosed())
	m.Broadcast(depth)
	assert.Zero(t, m.Stats().Broadcasts)
	require.NoError(t, m.Close())
}

func startManager(t *testing.T) *Manager {
	t.Helper()
	m := newTestManager(t, 64)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, m.Start(ctx))
	return m
}

func TestTCPEndToEnd(t *testing.T) {
	m := newTestManager(t, 64)
	lines := make(chan string, 4)
	m.OnInbound(func(id, line string) error {
		if strings.HasPrefix(line, "BAD") {
			return errors.New("rejected")
		}
		lines <- id + " " + line
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx))

	tcpAddr, udpAddr, _ := m.Addrs()
	assert.Equal(t, tcpAddr.(*net.TCPAddr).Port, udpAddr.(*net.UDPAddr).Port)

	conn, err := net.Dial("tcp", tcpAddr.String())
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return m.Stats().Active == 1 }, time.Second, 5*time.Millisecond)

	m.Broadcast("$IIDBT,65.6,f,20.0,M,10.9,F*2E")
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	got, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, depth, got)

	_, err = conn.Write([]byte("$PCDIN,01EF00,00000000,0F,3B9FF08186210102\r\n"))
	require.NoError(t, err)
	select {
	case l := <-lines:
		assert.True(t, strings.HasPrefix(l, "tcp:127.0.0.1:"))
		assert.True(t, strings.HasSuffix(l, " $PCDIN,01EF00,00000000,0F,3B9FF08186210102"))
	case <-time.After(2 * time.Second):
		t.Fatal("inbound line not delivered")
	}

	_, err = conn.Write([]byte("BAD\r\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return m.Stats().Active == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestUDPRegistersOnFirstDatagram(t *testing.T) {
	m := startManager(t)
	_, udpAddr, _ := m.Addrs()

	conn, err := net.Dial("udp", udpAddr.String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("hello\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return m.Stats().Active == 1 }, time.Second, 5*time.Millisecond)

	m.Broadcast(depth)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, depth, string(buf[:n]))
}

func TestWebSocketClient(t *testing.T) {
	m := newTestManager(t, 64)
	srv := httptest.NewServer(m.Router())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()
	require.Eventually(t, func() bool { return m.Stats().Active == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, WebSocket, m.Clients()[0].Transport)

	m.Broadcast(depth)
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, depth, string(data))

	require.NoError(t, ws.Close())
	require.Eventually(t, func() bool { return m.Stats().Active == 0 }, time.Second, 5*time.Millisecond)
}

func TestPlainHTTPOnWebSocketPath(t *testing.T) {
	m := newTestManager(t, 8)
	rec := httptest.NewRecorder()
	m.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/ws", nil))
	assert.Equal(t, 400, rec.Code)
}
