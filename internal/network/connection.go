// Package network implements the TCP accept loop and the connection wrapper
// shared by every protocol session.
package network

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrConnectionClosed is returned by Write after Close.
var ErrConnectionClosed = errors.New("connection is closed")

// DefaultWriteTimeout bounds a single socket write.
const DefaultWriteTimeout = 10 * time.Second

// Connection wraps a net.Conn. Reads happen on the owning session goroutine;
// writes may come from any goroutine and are serialized.
type Connection struct {
	id     string
	conn   net.Conn
	logger zerolog.Logger

	writeMu      sync.Mutex
	writeTimeout time.Duration

	connectedAt  time.Time
	lastActivity atomic.Int64

	closeOnce sync.Once
	closed    atomic.Bool
}

// NewConnection wraps an existing net.Conn and assigns it a random id.
func NewConnection(conn net.Conn) *Connection {
	id := uuid.NewString()
	now := time.Now()
	c := &Connection{
		id:           id,
		conn:         conn,
		writeTimeout: DefaultWriteTimeout,
		connectedAt:  now,
		logger: log.With().
			Str("component", "connection").
			Str("conn", id).
			Str("remote", remoteString(conn)).
			Logger(),
	}
	c.lastActivity.Store(now.UnixNano())
	return c
}

// SetWriteTimeout changes the per-write deadline. Zero disables it.
func (c *Connection) SetWriteTimeout(d time.Duration) {
	c.writeMu.Lock()
	c.writeTimeout = d
	c.writeMu.Unlock()
}

// ID returns the connection id.
func (c *Connection) ID() string {
	return c.id
}

// Read reads whatever bytes are available into buf, waiting at most timeout.
// A zero timeout waits indefinitely.
func (c *Connection) Read(buf []byte, timeout time.Duration) (int, error) {
	if timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(timeout))
	} else {
		c.conn.SetReadDeadline(time.Time{})
	}

	n, err := c.conn.Read(buf)
	if n > 0 {
		c.lastActivity.Store(time.Now().UnixNano())
	}
	return n, err
}

// Write sends data as one unit. Concurrent writers never interleave.
func (c *Connection) Write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return ErrConnectionClosed
	}

	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("failed to write %d bytes: %w", len(data), err)
	}

	c.lastActivity.Store(time.Now().UnixNano())
	return nil
}

// Close closes the socket. It is safe to call more than once and unblocks a
// pending Read immediately.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.conn.Close()
		c.logger.Debug().Msg("connection closed")
	})
	return err
}

// IsClosed returns whether the connection has been closed.
func (c *Connection) IsClosed() bool {
	return c.closed.Load()
}

// LastActivity returns the time of the last read or write.
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// ConnectedAt returns the time the connection was established.
func (c *Connection) ConnectedAt() time.Time {
	return c.connectedAt
}

// RemoteAddr returns the remote address of the connection.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func remoteString(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return "unknown"
}

// ConnectionRegistry tracks open connections by id.
type ConnectionRegistry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewConnectionRegistry creates a new ConnectionRegistry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		conns: make(map[string]*Connection),
	}
}

// Register adds a connection to the registry.
func (r *ConnectionRegistry) Register(conn *Connection) {
	r.mu.Lock()
	r.conns[conn.ID()] = conn
	r.mu.Unlock()

	log.Debug().Str("conn", conn.ID()).Msg("connection registered")
}

// Unregister removes a connection from the registry without closing it.
func (r *ConnectionRegistry) Unregister(id string) {
	r.mu.Lock()
	_, ok := r.conns[id]
	delete(r.conns, id)
	r.mu.Unlock()

	if ok {
		log.Debug().Str("conn", id).Msg("connection unregistered")
	}
}

// Get returns the connection with the given id.
func (r *ConnectionRegistry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	return conn, ok
}

// Count returns the number of open connections.
func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CloseAll closes every registered connection. Sockets are closed after the
// lock is released.
func (r *ConnectionRegistry) CloseAll() {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.conns))
	for id, conn := range r.conns {
		conns = append(conns, conn)
		delete(r.conns, id)
	}
	r.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
	log.Info().Int("count", len(conns)).Msg("all connections closed")
}

// CleanStale closes connections idle for longer than timeout and returns how
// many were closed. Their owners unregister them when their read loop exits.
func (r *ConnectionRegistry) CleanStale(timeout time.Duration) int {
	cutoff := time.Now().Add(-timeout)

	r.mu.RLock()
	var stale []*Connection
	for _, conn := range r.conns {
		if conn.LastActivity().Before(cutoff) {
			stale = append(stale, conn)
		}
	}
	r.mu.RUnlock()

	for _, conn := range stale {
		log.Warn().
			Str("conn", conn.ID()).
			Time("last_activity", conn.LastActivity()).
			Msg("closing stale connection")
		conn.Close()
	}
	return len(stale)
}
