package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Server holds all configuration for the battleship session server.
type Server struct {
	// Network
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`

	// Framing: "line" (newline-delimited text) or "packet"
	// (length-prefixed with additive checksum). One framing per process.
	Framing string `yaml:"framing"`

	// Game flow
	TurnTimeoutSeconds      int `yaml:"turn_timeout_seconds"`
	PlacementTimeoutSeconds int `yaml:"placement_timeout_seconds"` // 0 = 2 × turn timeout
	ReconnectTimeoutSeconds int `yaml:"reconnect_timeout_seconds"`
	MaxTimeouts             int `yaml:"max_timeouts"`
	GameStartCountdown      int `yaml:"game_start_countdown_seconds"`

	// Connection limits
	MaxConnections     int     `yaml:"max_connections"`
	InputRatePerSecond float64 `yaml:"input_rate_per_second"`
	InputQueueSize     int     `yaml:"input_queue_size"`
	SendQueueSize      int     `yaml:"send_queue_size"`
	HandshakeSeconds   int     `yaml:"handshake_seconds"`

	// Logging
	LogLevel string `yaml:"log_level"`

	// Match history persistence. Disabled unless enabled explicitly.
	Database DatabaseConfig `yaml:"database"`

	// Optional listeners. Empty address = disabled.
	MetricsAddress   string `yaml:"metrics_address"`
	SpectateWSAddress string `yaml:"spectate_ws_address"`
}

// DatabaseConfig holds PostgreSQL connection parameters for the match
// history store.
type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// TurnTimeout returns the per-turn inactivity budget.
func (s Server) TurnTimeout() time.Duration {
	return time.Duration(s.TurnTimeoutSeconds) * time.Second
}

// PlacementTimeout returns the per-step placement budget, defaulting to
// twice the turn budget.
func (s Server) PlacementTimeout() time.Duration {
	if s.PlacementTimeoutSeconds > 0 {
		return time.Duration(s.PlacementTimeoutSeconds) * time.Second
	}
	return 2 * s.TurnTimeout()
}

// ReconnectTimeout returns the mid-match reconnect window.
func (s Server) ReconnectTimeout() time.Duration {
	return time.Duration(s.ReconnectTimeoutSeconds) * time.Second
}

// HandshakeTimeout returns the budget for the username handshake frame.
func (s Server) HandshakeTimeout() time.Duration {
	return time.Duration(s.HandshakeSeconds) * time.Second
}

// DefaultServer returns Server config with sensible defaults.
func DefaultServer() Server {
	return Server{
		BindAddress:             "127.0.0.1",
		Port:                    5001,
		Framing:                 "line",
		TurnTimeoutSeconds:      30,
		ReconnectTimeoutSeconds: 30,
		MaxTimeouts:             2,
		GameStartCountdown:      5,
		MaxConnections:          6,
		InputRatePerSecond:      2,
		InputQueueSize:          8,
		SendQueueSize:           64,
		HandshakeSeconds:        10,
		LogLevel:                "info",
		Database: DatabaseConfig{
			Host:    "127.0.0.1",
			Port:    5432,
			User:    "seabattle",
			Password: "seabattle",
			DBName:  "seabattle",
			SSLMode: "disable",
		},
	}
}

// LoadServer loads server config from a YAML file.
// If the file doesn't exist, returns defaults.
func LoadServer(path string) (Server, error) {
	cfg := DefaultServer()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}
