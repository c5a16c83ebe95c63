package protocol

import (
	"encoding/json"
	"fmt"
)

// Handshake status codes.
const (
	CodeOK        = 200
	CodeFail      = 500
	CodeOldClient = 501
)

// ClientSys identifies the connecting software.
type ClientSys struct {
	Type    string         `json:"type"`
	Version string         `json:"version"`
	RSA     map[string]any `json:"rsa"`
}

// HandshakeRequest is the JSON body of the Handshake package sent by a client.
// Some clients send their display name at the top level instead of under user.
type HandshakeRequest struct {
	Sys  ClientSys      `json:"sys"`
	User map[string]any `json:"user"`
	Name string         `json:"name,omitempty"`
}

// DisplayName returns the name the client asked for, preferring user.name.
func (r HandshakeRequest) DisplayName() string {
	if name, ok := r.User["name"].(string); ok && name != "" {
		return name
	}
	return r.Name
}

// Protos carries the protobuf schema tables. They are always empty here but
// kept on the wire for client compatibility.
type Protos struct {
	Client map[string]any `json:"client"`
	Server map[string]any `json:"server"`
}

// ServerSys carries the parameters negotiated by the server.
type ServerSys struct {
	Heartbeat int               `json:"heartbeat"`
	Dict      map[string]uint16 `json:"dict"`
	Protos    Protos            `json:"protos"`
}

// HandshakeResponse is the JSON body of the Handshake package sent back by a server.
type HandshakeResponse struct {
	Code int            `json:"code"`
	Sys  *ServerSys     `json:"sys,omitempty"`
	User map[string]any `json:"user,omitempty"`
}

// NewHandshakeRequest builds a client handshake with empty rsa and user objects.
func NewHandshakeRequest(clientType, version string, user map[string]any) HandshakeRequest {
	if user == nil {
		user = map[string]any{}
	}
	return HandshakeRequest{
		Sys:  ClientSys{Type: clientType, Version: version, RSA: map[string]any{}},
		User: user,
	}
}

// NewHandshakeAccept builds a 200 response advertising the heartbeat interval
// in seconds and the route dictionary.
func NewHandshakeAccept(heartbeatSec int, dict *RouteDict, user map[string]any) HandshakeResponse {
	if user == nil {
		user = map[string]any{}
	}
	return HandshakeResponse{
		Code: CodeOK,
		Sys: &ServerSys{
			Heartbeat: heartbeatSec,
			Dict:      dict.Map(),
			Protos:    Protos{Client: map[string]any{}, Server: map[string]any{}},
		},
		User: user,
	}
}

// DecodeHandshakeRequest parses a client handshake body. An empty or malformed
// body yields a zero request rather than an error so the server can still
// answer it.
func DecodeHandshakeRequest(body []byte) HandshakeRequest {
	var req HandshakeRequest
	if len(body) > 0 {
		_ = json.Unmarshal(body, &req)
	}
	if req.User == nil {
		req.User = map[string]any{}
	}
	return req
}

// DecodeHandshakeResponse parses a server handshake body.
func DecodeHandshakeResponse(body []byte) (HandshakeResponse, error) {
	var resp HandshakeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return HandshakeResponse{}, fmt.Errorf("failed to parse handshake response: %w", err)
	}
	return resp, nil
}
