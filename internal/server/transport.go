package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

const maxLine = 64 * 1024

// Start binds the TCP, UDP and WebSocket listeners. UDP uses the port TCP
// bound, so a zero TCP port still yields matching ports. Any bind failure
// closes what was bound and is returned. The listeners stop when ctx is
// done or Close is called.
func (m *Manager) Start(ctx context.Context) error {
	lc := net.ListenConfig{Control: reuseAddr}
	var (
		tcpLn net.Listener
		udpPC net.PacketConn
		wsLn  net.Listener
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ln, err := lc.Listen(gctx, "tcp", hostPort(m.opts.Bind, m.opts.TCPPort))
		if err != nil {
			return fmt.Errorf("listen tcp: %w", err)
		}
		tcpLn = ln
		port := ln.Addr().(*net.TCPAddr).Port
		pc, err := lc.ListenPacket(gctx, "udp", hostPort(m.opts.Bind, port))
		if err != nil {
			return fmt.Errorf("listen udp: %w", err)
		}
		udpPC = pc
		return nil
	})
	g.Go(func() error {
		ln, err := lc.Listen(gctx, "tcp", hostPort(m.opts.Bind, m.opts.WSPort))
		if err != nil {
			return fmt.Errorf("listen websocket: %w", err)
		}
		wsLn = ln
		return nil
	})
	if err := g.Wait(); err != nil {
		for _, c := range []io.Closer{tcpLn, udpPC, wsLn} {
			if c != nil {
				_ = c.Close()
			}
		}
		return err
	}

	m.tcpLn, m.udpConn, m.wsLn = tcpLn, udpPC.(*net.UDPConn), wsLn
	m.httpSrv = &http.Server{
		Handler: handlers.CORS(
			handlers.AllowedOrigins([]string{"*"}),
			handlers.AllowedMethods([]string{http.MethodGet}),
		)(m.router),
		ReadHeaderTimeout: 5 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	m.wg.Add(3)
	go m.acceptTCP()
	go m.readUDP()
	go func() {
		defer m.wg.Done()
		if err := m.httpSrv.Serve(wsLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.log.Error().Err(err).Msg("websocket server stopped")
		}
	}()
	go func() {
		select {
		case <-ctx.Done():
			_ = m.Close()
		case <-m.closed:
		}
	}()

	m.log.Info().
		Str("tcp", m.tcpLn.Addr().String()).
		Str("udp", m.udpConn.LocalAddr().String()).
		Str("websocket", m.wsLn.Addr().String()).
		Msg("listening")
	return nil
}

func hostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Addrs returns the bound TCP, UDP and WebSocket addresses after Start.
func (m *Manager) Addrs() (tcp, udp, ws net.Addr) {
	return m.tcpLn.Addr(), m.udpConn.LocalAddr(), m.wsLn.Addr()
}

func (m *Manager) acceptTCP() {
	defer m.wg.Done()
	for {
		conn, err := m.tcpLn.Accept()
		if err != nil {
			select {
			case <-m.closed:
			default:
				m.log.Error().Err(err).Msg("tcp accept failed")
			}
			return
		}
		id, ok := m.Register(TCP, conn.RemoteAddr().String(), &tcpConn{conn: conn, timeout: m.opts.WriteTimeout})
		if !ok {
			_ = conn.Close()
			continue
		}
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.readLines(id, conn)
		}()
	}
}

// readLines feeds inbound lines until EOF, a read error or a rejected line,
// then unregisters the client.
func (m *Manager) readLines(id string, conn net.Conn) {
	defer m.Unregister(id)
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 4096), maxLine)
	for sc.Scan() {
		if err := m.handleInbound(id, sc.Text()); err != nil {
			return
		}
	}
}

func (m *Manager) handleInbound(id, text string) error {
	if m.inbound == nil {
		return nil
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := m.inbound(id, line); err != nil {
			m.log.Warn().Err(err).Str("client", id).Msg("rejected inbound message")
			return err
		}
	}
	return nil
}

func (m *Manager) readUDP() {
	defer m.wg.Done()
	buf := make([]byte, maxLine)
	for {
		n, addr, err := m.udpConn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-m.closed:
			default:
				m.log.Error().Err(err).Msg("udp read failed")
			}
			return
		}
		id, _ := m.Register(UDP, addr.String(), &udpConn{conn: m.udpConn, addr: addr})
		if err := m.handleInbound(id, string(buf[:n])); err != nil {
			m.Unregister(id)
		}
	}
}

func (m *Manager) serveWS(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusBadRequest)
		return
	}
	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	ws.SetReadLimit(maxLine)
	id, ok := m.Register(WebSocket, r.RemoteAddr, &wsConn{conn: ws, timeout: m.opts.WriteTimeout})
	if !ok {
		_ = ws.Close()
		return
	}
	defer m.Unregister(id)
	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		if err := m.handleInbound(id, string(data)); err != nil {
			return
		}
	}
}

type tcpConn struct {
	conn    net.Conn
	timeout time.Duration
}

func (c *tcpConn) Write(msg string) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	_, err := c.conn.Write([]byte(msg))
	return err
}

func (c *tcpConn) Close() error { return c.conn.Close() }

// udpConn writes to one peer through the shared socket.
type udpConn struct {
	conn *net.UDPConn
	addr *net.UDPAddr
}

func (c *udpConn) Write(msg string) error {
	_, err := c.conn.WriteToUDP([]byte(msg), c.addr)
	return err
}

// Close leaves the shared socket open.
func (c *udpConn) Close() error { return nil }

type wsConn struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	timeout time.Duration
}

func (c *wsConn) Write(msg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	return c.conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(100*time.Millisecond))
	return c.conn.Close()
}
