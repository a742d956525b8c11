// Package server fans NMEA sentences out to TCP, UDP and WebSocket clients
// and feeds their inbound lines to a handler.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"nmea-bridge/internal/nmea"
)

type Transport string

const (
	TCP       Transport = "tcp"
	UDP       Transport = "udp"
	WebSocket Transport = "websocket"
)

var ErrUnknownClient = errors.New("server: unknown client")

// Conn is the write side of one client connection.
type Conn interface {
	Write(msg string) error
	Close() error
}

// ClientInfo describes a registered client.
type ClientInfo struct {
	ID          string    `json:"id"`
	Transport   Transport `json:"transport"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
	Sent        uint64    `json:"sent"`
}

// Stats are totals since the manager was created.
type Stats struct {
	Active     int    `json:"active_clients"`
	Broadcasts uint64 `json:"sentences_broadcast"`
	Dropped    uint64 `json:"clients_dropped"`
}

// Envelope frames structured events for WebSocket clients.
type Envelope struct {
	Type      string `json:"type"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

type Options struct {
	Bind         string
	TCPPort      int
	WSPort       int
	WriteTimeout time.Duration
	ClientBuffer int
	Log          zerolog.Logger
}

type client struct {
	info ClientInfo
	conn Conn
	out  chan string
	sent atomic.Uint64
}

// Manager owns the client registry. Every registry access runs as a
// closure on the dispatcher goroutine.
type Manager struct {
	opts Options
	log  zerolog.Logger

	ops  chan func(map[string]*client)
	quit chan struct{}

	router   *mux.Router
	upgrader websocket.Upgrader

	onConnect    func(ClientInfo)
	onDisconnect func(id string)
	inbound      func(id, line string) error

	tcpLn   net.Listener
	udpConn *net.UDPConn
	wsLn    net.Listener
	httpSrv *http.Server

	active     atomic.Int64
	broadcasts atomic.Uint64
	dropped    atomic.Uint64
	metrics    metrics

	wg        sync.WaitGroup
	closeOnce sync.Once
	closed    chan struct{}
}

func New(opts Options) *Manager {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 2 * time.Second
	}
	if opts.ClientBuffer <= 0 {
		opts.ClientBuffer = 256
	}
	m := &Manager{
		opts:   opts,
		log:    opts.Log,
		ops:    make(chan func(map[string]*client)),
		quit:   make(chan struct{}),
		closed: make(chan struct{}),
		router: mux.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		metrics: newMetrics(opts.Log),
	}
	m.router.HandleFunc("/", m.serveWS)
	m.router.HandleFunc("/ws", m.serveWS)
	go m.dispatch()
	return m
}

// Router is the WebSocket port's router; status routes are mounted on it
// before Start.
func (m *Manager) Router() *mux.Router { return m.router }

// OnConnect is called after a client registers. Set before Start.
func (m *Manager) OnConnect(fn func(ClientInfo)) { m.onConnect = fn }

// OnDisconnect is called after a client is removed. Set before Start.
func (m *Manager) OnDisconnect(fn func(id string)) { m.onDisconnect = fn }

// OnInbound receives every non-empty inbound line. An error tears down the
// sending client. Set before Start.
func (m *Manager) OnInbound(fn func(id, line string) error) { m.inbound = fn }

func (m *Manager) dispatch() {
	reg := make(map[string]*client)
	for {
		select {
		case op := <-m.ops:
			op(reg)
		case <-m.quit:
			return
		}
	}
}

// do runs op on the dispatcher and waits for it. It reports false once the
// manager is closed.
func (m *Manager) do(op func(map[string]*client)) bool {
	done := make(chan struct{})
	select {
	case m.ops <- func(reg map[string]*client) { op(reg); close(done) }:
	case <-m.quit:
		return false
	}
	<-done
	return true
}

func clientID(kind Transport, remote string) string {
	host, port, err := net.SplitHostPort(remote)
	if err != nil {
		return fmt.Sprintf("%s:%s", kind, remote)
	}
	return fmt.Sprintf("%s:%s:%s", kind, host, port)
}

// Register adds a client and starts its writer. Registering an id that is
// already present returns it without change.
func (m *Manager) Register(kind Transport, remote string, conn Conn) (string, bool) {
	id := clientID(kind, remote)
	c := &client{
		info: ClientInfo{ID: id, Transport: kind, RemoteAddr: remote, ConnectedAt: time.Now().UTC()},
		conn: conn,
		out:  make(chan string, m.opts.ClientBuffer),
	}
	added := false
	ok := m.do(func(reg map[string]*client) {
		if _, exists := reg[id]; exists {
			return
		}
		reg[id] = c
		added = true
		m.active.Add(1)
		m.wg.Add(1)
	})
	if !ok {
		_ = conn.Close()
		return id, false
	}
	if !added {
		return id, false
	}

	m.metrics.active.Add(context.Background(), 1)
	go m.writeLoop(c)
	m.log.Info().Str("client", id).Msg("client connected")
	if m.onConnect != nil {
		m.onConnect(c.info)
	}
	return id, true
}

func (m *Manager) writeLoop(c *client) {
	defer m.wg.Done()
	for msg := range c.out {
		if err := c.conn.Write(msg); err != nil {
			m.log.Warn().Err(err).Str("client", c.info.ID).Msg("write failed")
			m.drop(c.info.ID)
			// Drain so a concurrent send never blocks before removal lands.
			for range c.out {
			}
			return
		}
		c.sent.Add(1)
	}
}

// Unregister removes a client and closes its connection.
func (m *Manager) Unregister(id string) {
	var removed bool
	m.do(func(reg map[string]*client) { removed = m.remove(reg, id) })
	if removed {
		m.disconnected(id)
	}
}

func (m *Manager) drop(id string) {
	var removed bool
	m.do(func(reg map[string]*client) { removed = m.remove(reg, id) })
	if removed {
		m.dropped.Add(1)
		m.metrics.dropped.Add(context.Background(), 1)
		m.disconnected(id)
	}
}

// remove runs on the dispatcher.
func (m *Manager) remove(reg map[string]*client, id string) bool {
	c, ok := reg[id]
	if !ok {
		return false
	}
	delete(reg, id)
	close(c.out)
	_ = c.conn.Close()
	return true
}

func (m *Manager) disconnected(id string) {
	m.active.Add(-1)
	m.metrics.active.Add(context.Background(), -1)
	m.log.Info().Str("client", id).Msg("client disconnected")
	if m.onDisconnect != nil {
		m.onDisconnect(id)
	}
}

// enqueue runs on the dispatcher; a full queue marks the client for removal.
func enqueue(c *client, msg string) bool {
	select {
	case c.out <- msg:
		return true
	default:
		return false
	}
}

// Broadcast frames sentence once and queues it for every client. A client
// whose queue is full is dropped; the others are unaffected.
func (m *Manager) Broadcast(sentence string) {
	msg := nmea.EnsureFormat(sentence)
	var full []string
	if !m.do(func(reg map[string]*client) {
		for id, c := range reg {
			if !enqueue(c, msg) {
				full = append(full, id)
			}
		}
	}) {
		return
	}
	m.broadcasts.Add(1)
	m.metrics.broadcast.Add(context.Background(), 1)
	for _, id := range full {
		m.log.Warn().Str("client", id).Msg("client queue full")
		m.drop(id)
	}
}

// BroadcastEvent sends a JSON envelope to WebSocket clients only.
func (m *Manager) BroadcastEvent(typ string, data any) error {
	b, err := json.Marshal(Envelope{Type: typ, Data: data, Timestamp: time.Now().UnixMilli()})
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", typ, err)
	}
	msg := string(b)
	var full []string
	m.do(func(reg map[string]*client) {
		for id, c := range reg {
			if c.info.Transport == WebSocket && !enqueue(c, msg) {
				full = append(full, id)
			}
		}
	})
	for _, id := range full {
		m.drop(id)
	}
	return nil
}

// SendTo queues sentence for one client.
func (m *Manager) SendTo(id, sentence string) error {
	msg := nmea.EnsureFormat(sentence)
	var found, queued bool
	m.do(func(reg map[string]*client) {
		c, ok := reg[id]
		if !ok {
			return
		}
		found = true
		queued = enqueue(c, msg)
	})
	if !found {
		return fmt.Errorf("%w: %s", ErrUnknownClient, id)
	}
	if !queued {
		m.drop(id)
		return fmt.Errorf("client %s: queue full", id)
	}
	return nil
}

// Clients returns the registry sorted by id.
func (m *Manager) Clients() []ClientInfo {
	var out []ClientInfo
	m.do(func(reg map[string]*client) {
		out = make([]ClientInfo, 0, len(reg))
		for _, c := range reg {
			info := c.info
			info.Sent = c.sent.Load()
			out = append(out, info)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Manager) Stats() Stats {
	return Stats{
		Active:     int(m.active.Load()),
		Broadcasts: m.broadcasts.Load(),
		Dropped:    m.dropped.Load(),
	}
}

// Close stops the listeners, disconnects every client and waits for the
// connection goroutines. It is safe to call more than once.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.closed)
		if m.tcpLn != nil {
			err = errors.Join(err, m.tcpLn.Close())
		}
		if m.udpConn != nil {
			err = errors.Join(err, m.udpConn.Close())
		}
		if m.httpSrv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			if e := m.httpSrv.Shutdown(ctx); e != nil && !errors.Is(e, http.ErrServerClosed) {
				err = errors.Join(err, e)
			}
			cancel()
		}

		var ids []string
		m.do(func(reg map[string]*client) {
			for id := range reg {
				if m.remove(reg, id) {
					ids = append(ids, id)
				}
			}
		})
		for _, id := range ids {
			m.disconnected(id)
		}
		close(m.quit)
		m.wg.Wait()
	})
	return err
}
