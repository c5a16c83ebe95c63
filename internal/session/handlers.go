package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/serpent-project/serpent/internal/protocol"
)

type packageHandler struct {
	states stateSet
	handle func(s *Session, pkg protocol.Package) error
}

type messageHandler func(s *Session, m protocol.Message) error

// packageHandlers returns the dispatch table for a role. A package type that
// is missing, or whose state set excludes the current state, is dropped.
func packageHandlers(role Role) map[protocol.PackageType]packageHandler {
	if role == RoleClient {
		return map[protocol.PackageType]packageHandler{
			protocol.PackageHandshake: {states: states(StateWaitAck), handle: (*Session).onHandshakeResponse},
			protocol.PackageHeartbeat: {states: states(StateWorking), handle: (*Session).onHeartbeat},
			protocol.PackageData:      {states: states(StateWorking), handle: (*Session).onData},
			protocol.PackageKick:      {states: states(StateWaitAck, StateWorking), handle: (*Session).onKick},
		}
	}
	return map[protocol.PackageType]packageHandler{
		protocol.PackageHandshake:    {states: states(StateInited), handle: (*Session).onHandshakeRequest},
		protocol.PackageHandshakeAck: {states: states(StateWaitAck), handle: (*Session).onHandshakeAck},
		protocol.PackageHeartbeat:    {states: states(StateWorking), handle: (*Session).onHeartbeat},
		protocol.PackageData:         {states: states(StateWorking), handle: (*Session).onData},
		protocol.PackageKick:         {states: states(StateWaitAck, StateWorking), handle: (*Session).onKick},
	}
}

func messageHandlers() map[protocol.MessageType]messageHandler {
	return map[protocol.MessageType]messageHandler{
		protocol.MessageRequest:  (*Session).onRequest,
		protocol.MessageNotify:   (*Session).onNotify,
		protocol.MessageResponse: (*Session).onResponse,
		protocol.MessagePush:     (*Session).onPush,
	}
}

// sendHandshake starts the client side of the handshake.
func (s *Session) sendHandshake() error {
	body, err := json.Marshal(s.opts.Handshake)
	if err != nil {
		s.closeWith(fmt.Errorf("failed to marshal handshake: %w", err))
		return err
	}
	if err := s.sendPackage(protocol.PackageHandshake, body); err != nil {
		return err
	}
	s.advance(StateInited, StateWaitAck)
	return nil
}

// onHandshakeRequest answers a client handshake. Rejected clients get the
// failure code and are disconnected.
func (s *Session) onHandshakeRequest(pkg protocol.Package) error {
	req := protocol.DecodeHandshakeRequest(pkg.Body)

	code, user := protocol.CodeOK, map[string]any{}
	if s.opts.MinClientVersion != "" && protocol.CompareVersions(req.Sys.Version, s.opts.MinClientVersion) < 0 {
		code = protocol.CodeOldClient
	} else if s.opts.OnHandshake != nil {
		code, user = s.opts.OnHandshake(s, req)
	}

	var resp protocol.HandshakeResponse
	if code == protocol.CodeOK {
		resp = protocol.NewHandshakeAccept(int(s.heartbeatInterval/time.Second), s.Dict(), user)
	} else {
		resp = protocol.HandshakeResponse{Code: code}
	}

	body, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal handshake response: %w", err)
	}
	// Enter WaitAck before the peer can see the response.
	if code == protocol.CodeOK {
		s.advance(StateInited, StateWaitAck)
	}
	if err := s.sendPackage(protocol.PackageHandshake, body); err != nil {
		return err
	}

	if code != protocol.CodeOK {
		s.logger.Warn().
			Int("code", code).
			Str("client_type", req.Sys.Type).
			Str("client_version", req.Sys.Version).
			Msg("handshake rejected")
		s.closeWith(&HandshakeError{Code: code})
		return nil
	}

	s.logger.Debug().Str("client_version", req.Sys.Version).Msg("handshake answered, waiting for ack")
	return nil
}

func (s *Session) onHandshakeAck(protocol.Package) error {
	s.enterWorking()
	return nil
}

// onHandshakeResponse completes the client side: it adopts the negotiated
// heartbeat and dictionary, acknowledges, and enters Working.
func (s *Session) onHandshakeResponse(pkg protocol.Package) error {
	resp, err := protocol.DecodeHandshakeResponse(pkg.Body)
	if err != nil {
		s.logger.Warn().Err(err).Msg("unreadable handshake response")
		resp.Code = protocol.CodeFail
	}
	if resp.Code != protocol.CodeOK {
		s.closeWith(&HandshakeError{Code: resp.Code})
		return nil
	}

	if resp.Sys != nil {
		s.heartbeatInterval = time.Duration(resp.Sys.Heartbeat) * time.Second
		dict, err := protocol.NewRouteDict(resp.Sys.Dict)
		if err != nil {
			s.logger.Warn().Err(err).Msg("ignoring inconsistent route dictionary")
		} else if dict != nil {
			s.dict.Store(dict)
		}
	}
	s.handshakeUser = resp.User

	if err := s.sendPackage(protocol.PackageHandshakeAck, nil); err != nil {
		return err
	}
	s.enterWorking()
	return nil
}

// onHeartbeat records liveness. A server echoes the heartbeat back.
func (s *Session) onHeartbeat(protocol.Package) error {
	s.touch()
	if s.opts.Role == RoleServer {
		return s.sendPackage(protocol.PackageHeartbeat, nil)
	}
	return nil
}

func (s *Session) onKick(pkg protocol.Package) error {
	var body struct {
		Reason string `json:"reason"`
	}
	_ = json.Unmarshal(pkg.Body, &body)
	s.closeWith(&KickError{Reason: body.Reason})
	return nil
}

// onData decodes the message and dispatches it by type. A decode failure is
// returned and closes the connection.
func (s *Session) onData(pkg protocol.Package) error {
	s.touch()

	m, err := protocol.DecodeMessage(pkg.Body)
	if err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}
	if !s.Dict().Expand(&m) {
		s.logger.Warn().Uint16("route_code", m.RouteCode).Msg("unknown route code")
	}

	if s.limiter != nil && m.Type != protocol.MessageResponse && !s.limiter.Allow() {
		s.logger.Warn().Str("route", m.Route).Msg("message rate exceeded, dropped")
		if m.Type == protocol.MessageRequest {
			return s.respond(m.ID, map[string]any{"code": 429, "msg": ErrRateLimited.Error()})
		}
		return nil
	}

	return s.messages[m.Type](s, m)
}

func (s *Session) onRequest(m protocol.Message) error {
	s.served.Add(1)

	var result any
	if fn, ok := s.opts.Router.Lookup(m.Route); ok {
		result = fn(s, m.Body)
	} else {
		s.logger.Warn().Str("route", m.Route).Msg("unknown route")
		result = NotFound(m.Route)
	}
	return s.respond(m.ID, result)
}

func (s *Session) respond(id uint32, result any) error {
	body, err := marshalBody(result)
	if err != nil {
		s.logger.Error().Err(err).Uint32("id", id).Msg("failed to marshal response")
		body = []byte(`{"code":500}`)
	}
	err = s.sendMessage(protocol.Message{ID: id, Type: protocol.MessageResponse, Body: body})
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

func (s *Session) onNotify(m protocol.Message) error {
	fn, ok := s.opts.Router.Lookup(m.Route)
	if !ok {
		s.logger.Debug().Str("route", m.Route).Msg("notify for unknown route, dropped")
		return nil
	}
	fn(s, m.Body)
	return nil
}

// onResponse resolves the matching pending request. Unmatched responses are dropped.
func (s *Session) onResponse(m protocol.Message) error {
	s.pendingMu.Lock()
	ch, ok := s.pending[m.ID]
	delete(s.pending, m.ID)
	s.pendingMu.Unlock()

	if !ok {
		s.logger.Debug().Uint32("id", m.ID).Msg("response without pending request, dropped")
		return nil
	}
	ch <- pendingResult{body: m.Body}
	return nil
}

func (s *Session) onPush(m protocol.Message) error {
	if s.opts.OnPush == nil {
		s.logger.Debug().Str("route", m.Route).Msg("push without handler, dropped")
		return nil
	}
	s.opts.OnPush(m.Route, m.Body)
	return nil
}
