// Package session implements the per-connection protocol state machine:
// handshake negotiation, heartbeat liveness, and request/response
// correlation on top of the package and message codecs. One Session type
// serves both the accepting and the connecting side.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/serpent-project/serpent/internal/network"
	"github.com/serpent-project/serpent/internal/protocol"
)

const (
	// gapThreshold is the smallest remaining heartbeat gap worth waiting for.
	gapThreshold = 100 * time.Millisecond

	readBufferSize = 4096
)

// HandshakeFunc decides whether to accept a client. It returns the response
// code and the user object echoed back in the handshake response.
type HandshakeFunc func(s *Session, req protocol.HandshakeRequest) (code int, user map[string]any)

// PushFunc receives Push messages on the client side.
type PushFunc func(route string, body []byte)

// Options configures a Session.
type Options struct {
	Role Role

	// HeartbeatInterval is advertised by a server. A client learns it from
	// the handshake response. Zero disables heartbeats.
	HeartbeatInterval time.Duration

	// ReadTimeout bounds a single socket read. Zero waits forever.
	ReadTimeout time.Duration

	// HandshakeTimeout bounds the time from start to Working. Zero disables it.
	HandshakeTimeout time.Duration

	// MaxBodySize closes the connection on any package header declaring a
	// longer body. Zero allows the protocol maximum.
	MaxBodySize int

	// Server side.
	Dict             *protocol.RouteDict
	MinClientVersion string
	OnHandshake      HandshakeFunc
	Router           *Router
	// MessagesPerSec limits inbound Data messages. Zero disables the limit.
	MessagesPerSec int

	// Client side.
	Handshake protocol.HandshakeRequest
	OnPush    PushFunc

	// OnWorking runs once on the read goroutine when the handshake completes.
	OnWorking func(s *Session)
	// OnClose runs once after the socket is closed.
	OnClose func(s *Session, err error)
}

type pendingResult struct {
	body []byte
}

// Session is one protocol connection.
type Session struct {
	id     string
	conn   *network.Connection
	opts   Options
	logger zerolog.Logger

	state    atomic.Int32
	packages map[protocol.PackageType]packageHandler
	messages map[protocol.MessageType]messageHandler
	framer   *protocol.Framer
	limiter  *rate.Limiter

	dict              atomic.Pointer[protocol.RouteDict]
	heartbeatInterval time.Duration
	lastSeen          atomic.Int64
	handshakeUser     map[string]any

	reqID     atomic.Uint32
	pendingMu sync.Mutex
	pending   map[uint32]chan pendingResult

	served atomic.Int64
	uid    atomic.Uint32
	values sync.Map

	working   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// New creates a session over conn. Call Run to drive it.
func New(conn *network.Connection, opts Options) *Session {
	s := &Session{
		id:                conn.ID(),
		conn:              conn,
		opts:              opts,
		framer:            protocol.NewFramer(),
		heartbeatInterval: opts.HeartbeatInterval,
		pending:           make(map[uint32]chan pendingResult),
		working:           make(chan struct{}),
		done:              make(chan struct{}),
		logger: log.With().
			Str("component", "session").
			Str("role", opts.Role.String()).
			Str("session", conn.ID()).
			Str("remote", addrString(conn.RemoteAddr())).
			Logger(),
	}
	s.framer.SetMaxBody(opts.MaxBodySize)
	s.packages = packageHandlers(opts.Role)
	s.messages = messageHandlers()
	if opts.MessagesPerSec > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.MessagesPerSec), opts.MessagesPerSec)
	}
	if opts.Role == RoleServer && opts.Dict != nil {
		s.dict.Store(opts.Dict)
	}
	s.touch()
	return s
}

// ID returns the session id, which equals the connection id.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Role returns which side of the handshake this session plays.
func (s *Session) Role() Role { return s.opts.Role }

// RemoteAddr returns the peer address.
func (s *Session) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// Dict returns the negotiated route dictionary, nil when none was agreed.
func (s *Session) Dict() *protocol.RouteDict { return s.dict.Load() }

// HeartbeatInterval returns the negotiated heartbeat interval.
func (s *Session) HeartbeatInterval() time.Duration { return s.heartbeatInterval }

// LastSeen returns when the peer last showed activity.
func (s *Session) LastSeen() time.Time { return time.Unix(0, s.lastSeen.Load()) }

// Working is closed when the session reaches StateWorking.
func (s *Session) Working() <-chan struct{} { return s.working }

// Done is closed when the session is closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the close reason once Done is closed.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.closeErr
	default:
		return nil
	}
}

// HandshakeUser returns the user object from the server's handshake response.
// It is only set on the client side.
func (s *Session) HandshakeUser() map[string]any { return s.handshakeUser }

// RequestsServed returns how many Requests this session has dispatched.
func (s *Session) RequestsServed() int64 { return s.served.Load() }

// Bind associates a player id with the session.
func (s *Session) Bind(uid uint32) { s.uid.Store(uid) }

// UID returns the bound player id, zero when unbound.
func (s *Session) UID() uint32 { return s.uid.Load() }

// Set stores an application value on the session.
func (s *Session) Set(key string, value any) { s.values.Store(key, value) }

// Get returns an application value stored with Set.
func (s *Session) Get(key string) (any, bool) { return s.values.Load(key) }

// Run drives the session until it closes and returns the close reason.
// A client session sends its handshake first.
func (s *Session) Run(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			s.closeWith(ErrClosed)
		case <-s.done:
		}
	}()

	if s.opts.HandshakeTimeout > 0 {
		go s.watchHandshake(s.opts.HandshakeTimeout)
	}

	if s.opts.Role == RoleClient {
		if err := s.sendHandshake(); err != nil {
			return s.Err()
		}
	}

	buf := make([]byte, readBufferSize)
	for {
		n, err := s.conn.Read(buf, s.opts.ReadTimeout)
		if n > 0 {
			if ferr := s.framer.Feed(buf[:n], s.dispatch); ferr != nil {
				var frameErr *protocol.FrameError
				if errors.As(ferr, &frameErr) {
					s.logger.Error().Err(frameErr.Reason).Hex("header", frameErr.Header[:]).Msg("rejected package header, closing connection")
				}
				s.closeWith(ferr)
				return s.Err()
			}
		}
		if err != nil {
			s.closeWith(classifyReadError(err))
			return s.Err()
		}
	}
}

func classifyReadError(err error) error {
	var ne net.Error
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		return ErrClosed
	case errors.As(err, &ne) && ne.Timeout():
		return fmt.Errorf("read timeout: %w", err)
	default:
		return fmt.Errorf("read failed: %w", err)
	}
}

// dispatch routes one package through the table for the current state.
// Packages not valid in the current state are dropped.
func (s *Session) dispatch(pkg protocol.Package) error {
	state := s.State()
	h, ok := s.packages[pkg.Type]
	if !ok || !h.states.has(state) {
		s.logger.Debug().
			Str("package", pkg.Type.String()).
			Str("state", state.String()).
			Msg("package not valid in current state, dropped")
		return nil
	}
	return h.handle(s, pkg)
}

// advance moves from one state to the next. It fails if another transition won.
func (s *Session) advance(from, to State) bool {
	if !s.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	s.logger.Debug().Str("from", from.String()).Str("to", to.String()).Msg("state changed")
	return true
}

func (s *Session) enterWorking() {
	if !s.advance(StateWaitAck, StateWorking) {
		return
	}
	s.touch()
	close(s.working)

	if s.heartbeatInterval > 0 {
		go s.heartbeatLoop()
	}
	if s.opts.OnWorking != nil {
		s.opts.OnWorking(s)
	}
}

func (s *Session) watchHandshake(timeout time.Duration) {
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case <-t.C:
		s.logger.Warn().Dur("timeout", timeout).Msg("handshake did not complete")
		s.closeWith(ErrHandshakeTimeout)
	case <-s.working:
	case <-s.done:
	}
}

func (s *Session) touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

// heartbeatLoop owns both heartbeat timers. The client sends a heartbeat
// every interval; both roles close the session when nothing arrives within
// twice the interval. A fired timeout with activity since it was armed is
// rearmed for the remaining gap.
func (s *Session) heartbeatLoop() {
	interval := s.heartbeatInterval
	timeout := 2 * interval

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	var send <-chan time.Time
	if s.opts.Role == RoleClient {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		send = ticker.C
	}

	for {
		select {
		case <-s.done:
			return
		case <-send:
			if err := s.sendPackage(protocol.PackageHeartbeat, nil); err != nil {
				return
			}
		case <-deadline.C:
			gap := time.Until(s.LastSeen().Add(timeout))
			if gap > gapThreshold {
				deadline.Reset(gap)
				continue
			}
			s.logger.Warn().Time("last_seen", s.LastSeen()).Msg("heartbeat timeout")
			s.closeWith(ErrHeartbeatTimeout)
			return
		}
	}
}

// sendPackage frames and writes one package. A write failure closes the session.
func (s *Session) sendPackage(t protocol.PackageType, body []byte) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	data, err := protocol.EncodePackage(t, body)
	if err != nil {
		return err
	}
	if err := s.conn.Write(data); err != nil {
		s.closeWith(err)
		return err
	}
	return nil
}

// sendMessage encodes m, compressing its route when the dictionary knows it.
func (s *Session) sendMessage(m protocol.Message) error {
	s.Dict().Compress(&m)
	data, err := protocol.EncodeMessage(m)
	if err != nil {
		return err
	}
	return s.sendPackage(protocol.PackageData, data)
}

func marshalBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	default:
		return json.Marshal(b)
	}
}

// Request sends a Request and waits for its Response body.
func (s *Session) Request(ctx context.Context, route string, body any) ([]byte, error) {
	if s.State() != StateWorking {
		return nil, ErrNotWorking
	}
	payload, err := marshalBody(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	id := s.reqID.Add(1)
	ch := make(chan pendingResult, 1)
	s.pendingMu.Lock()
	s.pending[id] = ch
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
	}()

	if err := s.sendMessage(protocol.Message{ID: id, Type: protocol.MessageRequest, Route: route, Body: payload}); err != nil {
		return nil, err
	}

	select {
	case res := <-ch:
		return res.body, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, s.Err()
	}
}

// Notify sends a one-way message to the peer.
func (s *Session) Notify(route string, body any) error {
	return s.sendRouted(protocol.MessageNotify, route, body)
}

// Push sends a server-initiated message to the peer.
func (s *Session) Push(route string, body any) error {
	return s.sendRouted(protocol.MessagePush, route, body)
}

func (s *Session) sendRouted(t protocol.MessageType, route string, body any) error {
	if s.State() != StateWorking {
		return ErrNotWorking
	}
	payload, err := marshalBody(body)
	if err != nil {
		return fmt.Errorf("failed to marshal %s body: %w", t, err)
	}
	return s.sendMessage(protocol.Message{Type: t, Route: route, Body: payload})
}

// Kick tells the peer why it is being disconnected and closes the session.
func (s *Session) Kick(reason string) error {
	body, _ := json.Marshal(map[string]string{"reason": reason})
	err := s.sendPackage(protocol.PackageKick, body)
	s.closeWith(&KickError{Reason: reason})
	return err
}

// Close closes the session.
func (s *Session) Close() error {
	s.closeWith(ErrClosed)
	return nil
}

func (s *Session) closeWith(reason error) {
	s.closeOnce.Do(func() {
		s.closeErr = reason
		s.state.Store(int32(StateClosed))
		s.conn.Close()
		close(s.done)

		if reason == nil || errors.Is(reason, ErrClosed) {
			s.logger.Info().Msg("session closed")
		} else {
			s.logger.Warn().Err(reason).Msg("session closed")
		}

		if s.opts.OnClose != nil {
			s.opts.OnClose(s, reason)
		}
	})
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return "unknown"
	}
	return addr.String()
}
