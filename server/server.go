package server

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"messenger/db"
	"messenger/metrics"
	"messenger/protocol"
	"messenger/session"
)

type Server struct {
	db       *db.DB
	registry *session.Registry
	config   *Config
	log      *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	nextConn atomic.Uint64
}

type Config struct {
	Addr         string
	WriteTimeout time.Duration
}

func New(database *db.DB, registry *session.Registry, config *Config, logger *slog.Logger) *Server {
	return &Server{
		db:       database,
		registry: registry,
		config:   config,
		log:      logger,
	}
}

// Start binds the listen address and accepts connections until Close.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.log.Info("messenger server listening", "addr", listener.Addr().String())

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Error("accept failed", "err", err)
			continue
		}

		go s.handleConnection(conn)
	}
}

// Close stops accepting. Connections already open drain on their own.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

// handleConnection owns one accepted socket: it frames newline-terminated
// messages, preserving a trailing partial across reads, and dispatches each
// complete message in arrival order. On any exit the connection's presence
// entry, if it holds one, is removed from the registry.
func (s *Server) handleConnection(conn net.Conn) {
	c := &client{
		id:      s.nextConn.Add(1),
		conn:    conn,
		timeout: s.config.WriteTimeout,
	}

	remoteAddr := conn.RemoteAddr().String()
	metrics.ConnOpened()
	s.log.Info("client connected", "conn", c.id, "remote", remoteAddr)

	defer func() {
		s.registry.Unregister(c.id)
		conn.Close()
		metrics.ConnClosed()
		s.log.Info("client disconnected", "conn", c.id, "remote", remoteAddr)
	}()

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			// A final unterminated fragment is never dispatched.
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				s.log.Warn("read failed", "conn", c.id, "remote", remoteAddr, "err", err)
			}
			return
		}

		msg, ok := protocol.Parse(line)
		if !ok {
			continue
		}

		s.dispatch(c, msg)
	}
}

// client is one accepted socket plus the id the registry keys it by. Writes
// are serialized so a notification pushed from another connection's handler
// cannot interleave with a response in flight.
type client struct {
	id      uint64
	conn    net.Conn
	writeMu sync.Mutex
	timeout time.Duration
}

func (c *client) ID() uint64 { return c.id }

func (c *client) WriteLine(line string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.timeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	}
	_, err := c.conn.Write([]byte(line + "\n"))
	return err
}
