package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/serpent-project/serpent/internal/protocol"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validateServer(&cfg.Server, result)
	validateGame(&cfg.Game, result)
	validateAPI(&cfg.API, cfg.Server.Port, result)
	validateMQTT(&cfg.MQTT, result)
	validateLogging(&cfg.Logging, result)
	validateHealth(&cfg.Health, cfg.Server, result)

	return result
}

func validateServer(s *ServerConfig, result *ValidationResult) {
	if net.ParseIP(s.ListenAddr) == nil && s.ListenAddr != "" && s.ListenAddr != "localhost" {
		result.AddWarning("server.listen_addr", fmt.Sprintf("%q is not an IP address, it will be resolved at bind time", s.ListenAddr))
	}
	validatePort(s.Port, "server.port", result)

	if s.HeartbeatIntervalSec < 1 {
		result.AddError("server.heartbeat_interval_sec", "heartbeat interval must be at least 1 second")
	}
	if s.ReadTimeoutSec > 0 && s.ReadTimeoutSec < 2*s.HeartbeatIntervalSec {
		result.AddWarning("server.read_timeout_sec",
			"read timeout is shorter than the heartbeat timeout, idle clients will be dropped early")
	}
	if s.WriteTimeoutSec < 1 {
		result.AddError("server.write_timeout_sec", "write timeout must be at least 1 second")
	}
	if s.HandshakeTimeoutSec < 1 {
		result.AddError("server.handshake_timeout_sec", "handshake timeout must be at least 1 second")
	}
	if strings.TrimSpace(s.MinClientVersion) == "" {
		result.AddWarning("server.min_client_version", "no minimum client version, every client is accepted")
	}
	if _, err := protocol.NewRouteDict(s.RouteDict); err != nil {
		result.AddError("server.route_dict", err.Error())
	}
	for route := range s.RouteDict {
		if len(route) > protocol.MaxRouteLength {
			result.AddError("server.route_dict", fmt.Sprintf("route %q exceeds %d bytes", route, protocol.MaxRouteLength))
		}
	}
	if s.MaxMessagesPerSec < 0 {
		result.AddError("server.max_messages_per_sec", "must not be negative (0 disables the limit)")
	}
	if s.MaxBodyBytes < 0 || s.MaxBodyBytes > protocol.MaxBodyLength {
		result.AddError("server.max_body_bytes", fmt.Sprintf("must be between 0 and %d (0 allows the protocol maximum)", protocol.MaxBodyLength))
	}
}

func validateGame(g *GameConfig, result *ValidationResult) {
	// A spawned body needs x in [2, width-2) and a tail two cells to the left.
	if g.Width < 5 {
		result.AddError("game.width", fmt.Sprintf("board width %d is too small (minimum 5)", g.Width))
	}
	if g.Height < 5 {
		result.AddError("game.height", fmt.Sprintf("board height %d is too small (minimum 5)", g.Height))
	}
	if g.TickMS < 10 {
		result.AddError("game.tick_ms", "tick interval must be at least 10ms")
	}
	if g.MatchSize < 1 {
		result.AddError("game.match_size", "match size must be at least 1")
	}
	if g.MatchSize == 1 {
		result.AddWarning("game.match_size", "single-player rooms end on the first tick")
	}
	if g.FoodTarget < 0 {
		result.AddError("game.food_target", "food target must not be negative")
	}
	if g.FoodTarget >= g.Width*g.Height/2 {
		result.AddWarning("game.food_target", "food target covers half the board or more")
	}
	if g.MatchPollMS < 1 {
		result.AddError("game.match_poll_ms", "match poll interval must be positive")
	}
	if g.CleanupPollMS < 1 {
		result.AddError("game.cleanup_poll_ms", "cleanup poll interval must be positive")
	}
}

func validateAPI(a *APIConfig, gamePort int, result *ValidationResult) {
	if !a.Enabled {
		return
	}
	validatePort(a.Port, "api.port", result)
	if a.Port == gamePort {
		result.AddError("api.port", "port conflict detected: api and game server share a port")
	}
	if a.RateLimitRPS < 1 {
		result.AddWarning("api.rate_limit_rps",
			"rate limit is disabled (0 RPS), this may expose the API to abuse")
	}
}

func validateMQTT(m *MQTTConfig, result *ValidationResult) {
	if !m.Enabled {
		return
	}
	if strings.TrimSpace(m.BrokerURL) == "" {
		result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
	}
	if m.Port < 1 || m.Port > 65535 {
		result.AddError("mqtt.port", "invalid MQTT port")
	}
	if m.UseTLS && (m.CertFile == "") != (m.KeyFile == "") {
		result.AddError("mqtt.cert_file", "client certificate and key must be configured together")
	}
}

func validateLogging(l *LoggingConfig, result *ValidationResult) {
	if l.MaxBackups < 1 {
		result.AddWarning("logging.max_backups", "log files are never pruned")
	}
	if l.CleanupTime != "" {
		if _, err := time.Parse("15:04", l.CleanupTime); err != nil {
			result.AddError("logging.cleanup_time", fmt.Sprintf("%q is not a HH:MM time", l.CleanupTime))
		}
	}
}

func validateHealth(h *HealthConfig, s ServerConfig, result *ValidationResult) {
	if h.GeneralIntervalSec < 0 || h.ResourceIntervalSec < 0 || h.HeartbeatIntervalSec < 0 {
		result.AddError("health", "check intervals must not be negative")
	}
	if h.GeneralIntervalSec > 0 && h.StaleConnectionSec < 2*s.HeartbeatIntervalSec {
		result.AddError("health.stale_connection_sec",
			"stale connection timeout must be at least twice the heartbeat interval")
	}
	if h.CPUWarnPercent <= 0 || h.CPUWarnPercent > 100 || h.MemoryWarnPercent <= 0 || h.MemoryWarnPercent > 100 {
		result.AddWarning("health", "resource warning thresholds should be within (0, 100]")
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}

// IsPortAvailable checks if a port is available for binding.
func IsPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
