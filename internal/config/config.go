// Package config handles configuration loading, validation, and persistence
// for the serpent game server.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultGamePort   = 3010
	DefaultAPIPort    = 5080
)

// Config is the root configuration structure for serpent.
type Config struct {
	mu   sync.RWMutex
	path string

	Server  ServerConfig  `json:"server"`
	Game    GameConfig    `json:"game"`
	API     APIConfig     `json:"api"`
	MQTT    MQTTConfig    `json:"mqtt"`
	Logging LoggingConfig `json:"logging"`
	Health  HealthConfig  `json:"health"`
}

// ServerConfig holds the TCP protocol endpoint settings.
type ServerConfig struct {
	ListenAddr           string            `json:"listen_addr"`
	Port                 int               `json:"port"`
	ReadTimeoutSec       int               `json:"read_timeout_sec"`
	WriteTimeoutSec      int               `json:"write_timeout_sec"`
	HeartbeatIntervalSec int               `json:"heartbeat_interval_sec"`
	HandshakeTimeoutSec  int               `json:"handshake_timeout_sec"`
	MinClientVersion     string            `json:"min_client_version"`
	RouteDict            map[string]uint16 `json:"route_dict"`
	MaxMessagesPerSec    int               `json:"max_messages_per_sec"`
	MaxBodyBytes         int               `json:"max_body_bytes"`
}

// Address returns host:port for the listener.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.ListenAddr, s.Port)
}

// HeartbeatInterval returns the negotiated heartbeat interval.
func (s ServerConfig) HeartbeatInterval() time.Duration {
	return time.Duration(s.HeartbeatIntervalSec) * time.Second
}

// ReadTimeout returns the socket read deadline.
func (s ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutSec) * time.Second
}

// WriteTimeout returns the socket write deadline.
func (s ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutSec) * time.Second
}

// HandshakeTimeout bounds how long a connection may stay before Working.
func (s ServerConfig) HandshakeTimeout() time.Duration {
	return time.Duration(s.HandshakeTimeoutSec) * time.Second
}

// GameConfig holds the snake room and matchmaking settings.
type GameConfig struct {
	Width         int `json:"width"`
	Height        int `json:"height"`
	TickMS        int `json:"tick_ms"`
	MatchSize     int `json:"match_size"`
	FoodTarget    int `json:"food_target"`
	MatchPollMS   int `json:"match_poll_ms"`
	CleanupPollMS int `json:"cleanup_poll_ms"`
}

// TickInterval returns the room simulation step.
func (g GameConfig) TickInterval() time.Duration {
	return time.Duration(g.TickMS) * time.Millisecond
}

// MatchPoll returns the matchmaking loop interval.
func (g GameConfig) MatchPoll() time.Duration {
	return time.Duration(g.MatchPollMS) * time.Millisecond
}

// CleanupPoll returns the room retirement loop interval.
func (g GameConfig) CleanupPoll() time.Duration {
	return time.Duration(g.CleanupPollMS) * time.Millisecond
}

// APIConfig holds the HTTP status API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	CertFile    string `json:"cert_file"`
	KeyFile     string `json:"key_file"`
	CAFile      string `json:"ca_file"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
	// CleanupTime is the daily HH:MM at which old log files are pruned.
	CleanupTime string `json:"cleanup_time"`
}

// HealthConfig holds the periodic health check intervals. An interval of 0
// disables that check.
type HealthConfig struct {
	GeneralIntervalSec   int     `json:"general_interval_sec"`
	ResourceIntervalSec  int     `json:"resource_interval_sec"`
	HeartbeatIntervalSec int     `json:"heartbeat_interval_sec"`
	StaleConnectionSec   int     `json:"stale_connection_sec"`
	CPUWarnPercent       float64 `json:"cpu_warn_percent"`
	MemoryWarnPercent    float64 `json:"memory_warn_percent"`
}

// StaleConnection is the idle time after which a socket is force-closed.
func (h HealthConfig) StaleConnection() time.Duration {
	return time.Duration(h.StaleConnectionSec) * time.Second
}

// DefaultRouteDict is the route compression table advertised at handshake.
func DefaultRouteDict() map[string]uint16 {
	return map[string]uint16{
		"connector.entryHandler.hello": 1,
		"snake.move":                   2,
		"snake.state":                  3,
	}
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:           "0.0.0.0",
			Port:                 DefaultGamePort,
			ReadTimeoutSec:       60,
			WriteTimeoutSec:      10,
			HeartbeatIntervalSec: 10,
			HandshakeTimeoutSec:  10,
			MinClientVersion:     "0.1.0",
			RouteDict:            DefaultRouteDict(),
			MaxMessagesPerSec:    50,
			MaxBodyBytes:         64 * 1024,
		},
		Game: GameConfig{
			Width:         32,
			Height:        18,
			TickMS:        160,
			MatchSize:     2,
			FoodTarget:    1,
			MatchPollMS:   100,
			CleanupPollMS: 200,
		},
		API: APIConfig{
			Enabled:        true,
			Port:           DefaultAPIPort,
			AllowedOrigins: []string{"*"},
			RateLimitRPS:   20,
		},
		MQTT: MQTTConfig{
			Enabled:     false,
			BrokerURL:   "localhost",
			Port:        1883,
			TopicPrefix: "serpent",
		},
		Logging: LoggingConfig{
			Level:       "info",
			Directory:   "logs",
			MaxBackups:  5,
			CleanupTime: "04:00",
		},
		Health: HealthConfig{
			GeneralIntervalSec:   30,
			ResourceIntervalSec:  60,
			HeartbeatIntervalSec: 30,
			StaleConnectionSec:   180,
			CPUWarnPercent:       90,
			MemoryWarnPercent:    90,
		},
	}
}

// Load reads configuration from a JSON file, creating it with defaults when missing.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	// A route_dict present in the file replaces the default table instead of merging into it.
	cfg.Server.RouteDict = nil
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}
	if cfg.Server.RouteDict == nil {
		cfg.Server.RouteDict = DefaultRouteDict()
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save so the file always lists every option known to this build.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetServer returns a copy of the protocol server configuration.
func (c *Config) GetServer() ServerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Server
}

// GetGame returns a copy of the game configuration.
func (c *Config) GetGame() GameConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Game
}

// GetAPI returns a copy of the API configuration.
func (c *Config) GetAPI() APIConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.API
}

// GetMQTT returns a copy of the MQTT configuration.
func (c *Config) GetMQTT() MQTTConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.MQTT
}

// GetLogging returns a copy of the logging configuration.
func (c *Config) GetLogging() LoggingConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Logging
}

// GetHealth returns a copy of the health check configuration.
func (c *Config) GetHealth() HealthConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Health
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}
