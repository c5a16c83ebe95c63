package session

import (
	"errors"
	"fmt"

	"github.com/serpent-project/serpent/internal/protocol"
)

var (
	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("session closed")

	// ErrNotWorking is returned when sending application messages before the handshake completes.
	ErrNotWorking = errors.New("session is not working")

	// ErrHeartbeatTimeout closes a session whose peer stopped sending.
	ErrHeartbeatTimeout = errors.New("heartbeat timeout")

	// ErrHandshakeTimeout closes a session that did not reach Working in time.
	ErrHandshakeTimeout = errors.New("handshake timeout")

	// ErrKicked closes a session that sent or received a Kick package.
	ErrKicked = errors.New("kicked")

	// ErrVersionRejected matches a HandshakeError with code 501. Do not retry.
	ErrVersionRejected = errors.New("client version rejected")

	// ErrHandshakeRejected matches any other non-200 HandshakeError. Retrying may succeed.
	ErrHandshakeRejected = errors.New("handshake rejected")

	// ErrRateLimited is returned to a peer exceeding the inbound message rate.
	ErrRateLimited = errors.New("message rate exceeded")
)

// HandshakeError reports a non-200 handshake response.
type HandshakeError struct {
	Code int
}

func (e *HandshakeError) Error() string {
	if e.Code == protocol.CodeOldClient {
		return fmt.Sprintf("handshake failed: client version too old (code %d)", e.Code)
	}
	return fmt.Sprintf("handshake failed: code %d", e.Code)
}

// Is classifies the error for errors.Is.
func (e *HandshakeError) Is(target error) bool {
	if e.Code == protocol.CodeOldClient {
		return target == ErrVersionRejected
	}
	return target == ErrHandshakeRejected
}

// Retryable reports whether reconnecting with the same client can succeed.
func (e *HandshakeError) Retryable() bool {
	return e.Code != protocol.CodeOldClient
}

// KickError carries the reason sent in a Kick package.
type KickError struct {
	Reason string
}

func (e *KickError) Error() string {
	if e.Reason == "" {
		return "kicked"
	}
	return "kicked: " + e.Reason
}

// Unwrap lets errors.Is match ErrKicked.
func (e *KickError) Unwrap() error {
	return ErrKicked
}
