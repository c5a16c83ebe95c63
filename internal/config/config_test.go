package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	t.Parallel()

	result := Validate(DefaultConfig())
	if !result.IsValid() {
		t.Errorf("default config has errors: %v", result.Errors)
	}
}

func TestDurations(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	if got := cfg.Server.HeartbeatInterval(); got != 10*time.Second {
		t.Errorf("HeartbeatInterval() = %v", got)
	}
	if got := cfg.Game.TickInterval(); got != 160*time.Millisecond {
		t.Errorf("TickInterval() = %v", got)
	}
	if got := cfg.Server.Address(); got != "0.0.0.0:3010" {
		t.Errorf("Address() = %q", got)
	}
}

func TestLoadCreatesDefault(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.GetGame().Width != 32 {
		t.Errorf("Width = %d, want 32", cfg.GetGame().Width)
	}
	if _, err := os.Stat(filepath.Join(dir, DefaultConfigFile)); err != nil {
		t.Errorf("config file not written: %v", err)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	content := `{"game":{"width":40,"match_size":3},"server":{"route_dict":{"snake.move":9}}}`
	if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	game := cfg.GetGame()
	if game.Width != 40 || game.MatchSize != 3 {
		t.Errorf("game = %+v, want width 40 and match size 3", game)
	}
	if game.Height != 18 || game.TickMS != 160 {
		t.Errorf("defaults not kept: %+v", game)
	}

	dict := cfg.GetServer().RouteDict
	if len(dict) != 1 || dict["snake.move"] != 9 {
		t.Errorf("route_dict = %v, want only snake.move=9", dict)
	}
}

func TestLoadRejectsBadJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err == nil {
		t.Error("Load() accepted malformed JSON")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 0 }, wantField: "server.port"},
		{name: "zero heartbeat", mutate: func(c *Config) { c.Server.HeartbeatIntervalSec = 0 }, wantField: "server.heartbeat_interval_sec"},
		{name: "duplicate route code", mutate: func(c *Config) { c.Server.RouteDict = map[string]uint16{"a": 1, "b": 1} }, wantField: "server.route_dict"},
		{name: "tiny board", mutate: func(c *Config) { c.Game.Width = 3 }, wantField: "game.width"},
		{name: "no match size", mutate: func(c *Config) { c.Game.MatchSize = 0 }, wantField: "game.match_size"},
		{name: "negative food", mutate: func(c *Config) { c.Game.FoodTarget = -1 }, wantField: "game.food_target"},
		{name: "port clash", mutate: func(c *Config) { c.API.Port = c.Server.Port }, wantField: "api.port"},
		{name: "mqtt without broker", mutate: func(c *Config) { c.MQTT.Enabled = true; c.MQTT.BrokerURL = "" }, wantField: "mqtt.broker_url"},
		{name: "bad cleanup time", mutate: func(c *Config) { c.Logging.CleanupTime = "4am" }, wantField: "logging.cleanup_time"},
		{name: "negative body cap", mutate: func(c *Config) { c.Server.MaxBodyBytes = -1 }, wantField: "server.max_body_bytes"},
		{name: "stale below heartbeat", mutate: func(c *Config) { c.Health.StaleConnectionSec = 5 }, wantField: "health.stale_connection_sec"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := DefaultConfig()
			tt.mutate(cfg)
			result := Validate(cfg)

			found := false
			for _, e := range result.Errors {
				if e.Field == tt.wantField {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error on %s, got %v", tt.wantField, result.Errors)
			}
		})
	}
}
