package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ConnHandler serves one accepted connection. ServeConn runs on the
// connection's own goroutine and returns when the connection is finished.
type ConnHandler interface {
	ServeConn(ctx context.Context, conn *Connection)
}

// ConnHandlerFunc adapts a function to ConnHandler.
type ConnHandlerFunc func(ctx context.Context, conn *Connection)

// ServeConn calls f.
func (f ConnHandlerFunc) ServeConn(ctx context.Context, conn *Connection) {
	f(ctx, conn)
}

// TCPListener accepts protocol clients and hands each one to a ConnHandler.
type TCPListener struct {
	addr         string
	writeTimeout time.Duration
	handler      ConnHandler
	registry     *ConnectionRegistry

	mu       sync.Mutex
	listener net.Listener
	ready    chan struct{}
	wg       sync.WaitGroup
}

// NewTCPListener creates a listener for addr. A nil registry gets a fresh one.
func NewTCPListener(addr string, writeTimeout time.Duration, handler ConnHandler, registry *ConnectionRegistry) *TCPListener {
	if registry == nil {
		registry = NewConnectionRegistry()
	}
	return &TCPListener{
		addr:         addr,
		writeTimeout: writeTimeout,
		handler:      handler,
		registry:     registry,
		ready:        make(chan struct{}),
	}
}

// Registry returns the registry of open connections.
func (l *TCPListener) Registry() *ConnectionRegistry {
	return l.registry
}

// Ready is closed once the socket is bound.
func (l *TCPListener) Ready() <-chan struct{} {
	return l.ready
}

// Addr returns the bound address, or nil before Start has bound the socket.
func (l *TCPListener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

// Start binds the socket and runs the accept loop until ctx is cancelled.
// On return every connection has been closed and its handler has finished.
func (l *TCPListener) Start(ctx context.Context) error {
	lc := ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", l.addr)
	if err != nil {
		return fmt.Errorf("failed to start TCP listener on %s: %w", l.addr, err)
	}

	l.mu.Lock()
	l.listener = ln
	l.mu.Unlock()
	close(l.ready)

	log.Info().Str("addr", ln.Addr().String()).Msg("TCP listener started")

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	defer func() {
		l.registry.CloseAll()
		l.wg.Wait()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				log.Info().Msg("TCP listener stopping")
				return nil
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				log.Warn().Err(err).Msg("temporary accept error")
				time.Sleep(50 * time.Millisecond)
				continue
			}
			return fmt.Errorf("accept failed: %w", err)
		}

		log.Debug().
			Str("remote", conn.RemoteAddr().String()).
			Msg("new client connection")

		l.wg.Add(1)
		go l.handleConnection(ctx, conn)
	}
}

func (l *TCPListener) handleConnection(ctx context.Context, rawConn net.Conn) {
	defer l.wg.Done()

	conn := NewConnection(rawConn)
	conn.SetWriteTimeout(l.writeTimeout)

	l.registry.Register(conn)
	defer func() {
		l.registry.Unregister(conn.ID())
		conn.Close()
	}()

	l.handler.ServeConn(ctx, conn)
}

// Stop closes the listening socket.
func (l *TCPListener) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener != nil {
		return l.listener.Close()
	}
	return nil
}
