// Package config provides Viper-based configuration loading for the arena server.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds top-level server settings.
type ServerConfig struct {
	// Name identifies this server instance in logs.
	Name string `mapstructure:"name"`
	// Mode is the server operation mode. Only "standalone" is supported.
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	// Enabled turns on match result persistence.
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
	// File, when set, receives a rolling copy of the log.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// GameServerConfig holds the gRPC session transport settings.
type GameServerConfig struct {
	// GRPCHost is the bind address for the gRPC service.
	GRPCHost string `mapstructure:"grpc_host"`
	// GRPCPort is the TCP port for the gRPC service.
	GRPCPort int  `mapstructure:"grpc_port"`
	Enabled  bool `mapstructure:"enabled"`
	// SendBuffer is the per-client outbound queue length.
	SendBuffer int `mapstructure:"send_buffer"`
	// CallTimeout bounds how long one client call may wait for the game loop.
	CallTimeout time.Duration `mapstructure:"call_timeout"`
}

// Addr returns the "host:port" gRPC address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (g GameServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.GRPCHost, g.GRPCPort)
}

// WebSocketConfig holds the WebSocket acceptor settings.
type WebSocketConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Path         string        `mapstructure:"path"`
	Enabled      bool          `mapstructure:"enabled"`
	ReadLimit    int64         `mapstructure:"read_limit"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PongWait     time.Duration `mapstructure:"pong_wait"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	SendBuffer   int           `mapstructure:"send_buffer"`
}

// Addr returns the "host:port" listen address.
func (w WebSocketConfig) Addr() string {
	return fmt.Sprintf("%s:%d", w.Host, w.Port)
}

// AdminConfig holds the admin HTTP endpoint settings.
type AdminConfig struct {
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	Enabled bool   `mapstructure:"enabled"`
	// Username and PasswordHash guard the endpoint with basic auth. An empty
	// PasswordHash leaves the endpoint open.
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
}

// Addr returns the "host:port" listen address.
func (a AdminConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// RoomsConfig holds room creation, matchmaking and cleanup settings.
type RoomsConfig struct {
	DefaultMaxPlayers int           `mapstructure:"default_max_players"`
	DefaultGameMode   string        `mapstructure:"default_game_mode"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
	EmptyGracePeriod  time.Duration `mapstructure:"empty_grace_period"`
	StartCountdown    time.Duration `mapstructure:"start_countdown"`
	// AutoStart starts a WAITING room once every member is ready and at
	// least MinPlayersToStart are present.
	AutoStart         bool `mapstructure:"auto_start"`
	MinPlayersToStart int  `mapstructure:"min_players_to_start"`
	// SimulationRate is the world update frequency in Hz.
	SimulationRate int `mapstructure:"simulation_rate"`
	// PresetsFile optionally names a YAML file of rooms created at startup.
	PresetsFile string `mapstructure:"presets_file"`
	// ScriptsDir optionally names a directory of per-game-mode Lua scripts.
	ScriptsDir string `mapstructure:"scripts_dir"`
}

// RulesConfig holds gameplay and session rules enforced by the RPC handler.
type RulesConfig struct {
	GameVersion             string        `mapstructure:"game_version"`
	MaxHealth               int           `mapstructure:"max_health"`
	KillScore               int           `mapstructure:"kill_score"`
	RespawnDelay            time.Duration `mapstructure:"respawn_delay"`
	StateBroadcastInterval  time.Duration `mapstructure:"state_broadcast_interval"`
	InactivitySweepInterval time.Duration `mapstructure:"inactivity_sweep_interval"`
	InactivityTimeout       time.Duration `mapstructure:"inactivity_timeout"`
	// RateLimit is the sustained calls per second allowed per client. Zero
	// disables limiting.
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
}

// DefaultRules returns the stock gameplay rules.
func DefaultRules() RulesConfig {
	return RulesConfig{
		GameVersion:             "1.0.0",
		MaxHealth:               100,
		KillScore:               100,
		RespawnDelay:            3 * time.Second,
		StateBroadcastInterval:  time.Second,
		InactivitySweepInterval: 30 * time.Second,
		InactivityTimeout:       60 * time.Second,
		RateBurst:               20,
	}
}

// Config is the top-level application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	GameServer GameServerConfig `mapstructure:"gameserver"`
	WebSocket  WebSocketConfig  `mapstructure:"websocket"`
	Admin      AdminConfig      `mapstructure:"admin"`
	Rooms      RoomsConfig      `mapstructure:"rooms"`
	Rules      RulesConfig      `mapstructure:"rules"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	validators := []func() error{
		func() error { return validateServer(c.Server) },
		func() error { return validateDatabase(c.Database) },
		func() error { return validateLogging(c.Logging) },
		func() error { return validateGameServer(c.GameServer) },
		func() error { return validateWebSocket(c.WebSocket) },
		func() error { return validateAdmin(c.Admin) },
		func() error { return validateRooms(c.Rooms) },
		func() error { return validateRules(c.Rules) },
	}
	for _, validate := range validators {
		if err := validate(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if !c.GameServer.Enabled && !c.WebSocket.Enabled {
		errs = append(errs, "at least one of gameserver.enabled or websocket.enabled must be true")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validatePort(field string, port int) string {
	if port < 1 || port > 65535 {
		return fmt.Sprintf("%s must be 1-65535, got %d", field, port)
	}
	return ""
}

func joined(errs []string) error {
	var out []string
	for _, e := range errs {
		if e != "" {
			out = append(out, e)
		}
	}
	if len(out) > 0 {
		return errors.New(strings.Join(out, "; "))
	}
	return nil
}

func validateServer(s ServerConfig) error {
	if s.Mode != "standalone" {
		return fmt.Errorf("server.mode must be one of [standalone], got %q", s.Mode)
	}
	if s.Name == "" {
		return errors.New("server.name must not be empty")
	}
	return nil
}

func validateDatabase(d DatabaseConfig) error {
	if !d.Enabled {
		return nil
	}
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	errs = append(errs, validatePort("database.port", d.Port))
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	return joined(errs)
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	if l.File != "" && (l.MaxSizeMB < 1 || l.MaxBackups < 0 || l.MaxAgeDays < 0) {
		return fmt.Errorf("logging rotation requires max_size_mb >= 1 and non-negative max_backups and max_age_days")
	}
	return nil
}

func validateGameServer(g GameServerConfig) error {
	if !g.Enabled {
		return nil
	}
	var errs []string
	if g.GRPCHost == "" {
		errs = append(errs, "gameserver.grpc_host must not be empty")
	}
	errs = append(errs, validatePort("gameserver.grpc_port", g.GRPCPort))
	if g.SendBuffer < 1 {
		errs = append(errs, fmt.Sprintf("gameserver.send_buffer must be >= 1, got %d", g.SendBuffer))
	}
	if g.CallTimeout <= 0 {
		errs = append(errs, "gameserver.call_timeout must be positive")
	}
	return joined(errs)
}

func validateWebSocket(w WebSocketConfig) error {
	if !w.Enabled {
		return nil
	}
	var errs []string
	errs = append(errs, validatePort("websocket.port", w.Port))
	if !strings.HasPrefix(w.Path, "/") {
		errs = append(errs, fmt.Sprintf("websocket.path must start with /, got %q", w.Path))
	}
	if w.ReadLimit < 1 {
		errs = append(errs, fmt.Sprintf("websocket.read_limit must be >= 1, got %d", w.ReadLimit))
	}
	if w.WriteTimeout <= 0 {
		errs = append(errs, "websocket.write_timeout must be positive")
	}
	if w.PingPeriod <= 0 || w.PingPeriod >= w.PongWait {
		errs = append(errs, "websocket.ping_period must be positive and shorter than websocket.pong_wait")
	}
	if w.SendBuffer < 1 {
		errs = append(errs, fmt.Sprintf("websocket.send_buffer must be >= 1, got %d", w.SendBuffer))
	}
	return joined(errs)
}

func validateAdmin(a AdminConfig) error {
	if !a.Enabled {
		return nil
	}
	var errs []string
	errs = append(errs, validatePort("admin.port", a.Port))
	if a.PasswordHash != "" && a.Username == "" {
		errs = append(errs, "admin.username must be set when admin.password_hash is set")
	}
	return joined(errs)
}

func validateRooms(r RoomsConfig) error {
	var errs []string
	if r.DefaultMaxPlayers < 1 {
		errs = append(errs, fmt.Sprintf("rooms.default_max_players must be >= 1, got %d", r.DefaultMaxPlayers))
	}
	if r.DefaultGameMode == "" {
		errs = append(errs, "rooms.default_game_mode must not be empty")
	}
	if r.CleanupInterval <= 0 {
		errs = append(errs, "rooms.cleanup_interval must be positive")
	}
	if r.EmptyGracePeriod < 0 {
		errs = append(errs, "rooms.empty_grace_period must not be negative")
	}
	if r.StartCountdown <= 0 {
		errs = append(errs, "rooms.start_countdown must be positive")
	}
	if r.MinPlayersToStart < 1 {
		errs = append(errs, fmt.Sprintf("rooms.min_players_to_start must be >= 1, got %d", r.MinPlayersToStart))
	}
	if r.SimulationRate < 1 || r.SimulationRate > 240 {
		errs = append(errs, fmt.Sprintf("rooms.simulation_rate must be 1-240, got %d", r.SimulationRate))
	}
	return joined(errs)
}

func validateRules(r RulesConfig) error {
	var errs []string
	if r.GameVersion == "" {
		errs = append(errs, "rules.game_version must not be empty")
	}
	if r.MaxHealth < 1 {
		errs = append(errs, fmt.Sprintf("rules.max_health must be >= 1, got %d", r.MaxHealth))
	}
	if r.KillScore < 0 {
		errs = append(errs, fmt.Sprintf("rules.kill_score must be >= 0, got %d", r.KillScore))
	}
	if r.RespawnDelay < 0 {
		errs = append(errs, "rules.respawn_delay must not be negative")
	}
	if r.StateBroadcastInterval <= 0 {
		errs = append(errs, "rules.state_broadcast_interval must be positive")
	}
	if r.InactivitySweepInterval <= 0 {
		errs = append(errs, "rules.inactivity_sweep_interval must be positive")
	}
	if r.InactivityTimeout <= 0 {
		errs = append(errs, "rules.inactivity_timeout must be positive")
	}
	if r.RateLimit < 0 {
		errs = append(errs, "rules.rate_limit must not be negative")
	}
	if r.RateLimit > 0 && r.RateBurst < 1 {
		errs = append(errs, fmt.Sprintf("rules.rate_burst must be >= 1 when rate limiting, got %d", r.RateBurst))
	}
	return joined(errs)
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := NewViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	return LoadFromViper(v)
}

// NewViper returns a Viper instance with defaults registered and ARENA_
// environment overrides enabled.
func NewViper() *viper.Viper {
	v := viper.New()

	// Environment variable overrides with ARENA_ prefix
	v.SetEnvPrefix("ARENA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return v
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.name", "arena")
	v.SetDefault("server.mode", "standalone")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "arena")
	v.SetDefault("database.password", "arena")
	v.SetDefault("database.name", "arena")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 14)

	v.SetDefault("gameserver.grpc_host", "127.0.0.1")
	v.SetDefault("gameserver.grpc_port", 50051)
	v.SetDefault("gameserver.enabled", true)
	v.SetDefault("gameserver.send_buffer", 256)
	v.SetDefault("gameserver.call_timeout", "5s")

	v.SetDefault("websocket.host", "0.0.0.0")
	v.SetDefault("websocket.port", 8080)
	v.SetDefault("websocket.path", "/ws")
	v.SetDefault("websocket.enabled", true)
	v.SetDefault("websocket.read_limit", 64*1024)
	v.SetDefault("websocket.write_timeout", "10s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.ping_period", "54s")
	v.SetDefault("websocket.send_buffer", 256)

	v.SetDefault("admin.host", "127.0.0.1")
	v.SetDefault("admin.port", 8081)
	v.SetDefault("admin.enabled", false)
	v.SetDefault("admin.username", "admin")
	v.SetDefault("admin.password_hash", "")

	v.SetDefault("rooms.default_max_players", 4)
	v.SetDefault("rooms.default_game_mode", "default")
	v.SetDefault("rooms.cleanup_interval", "30s")
	v.SetDefault("rooms.empty_grace_period", "5m")
	v.SetDefault("rooms.start_countdown", "3s")
	v.SetDefault("rooms.auto_start", true)
	v.SetDefault("rooms.min_players_to_start", 2)
	v.SetDefault("rooms.simulation_rate", 60)
	v.SetDefault("rooms.presets_file", "")
	v.SetDefault("rooms.scripts_dir", "")

	v.SetDefault("rules.game_version", "1.0.0")
	v.SetDefault("rules.max_health", 100)
	v.SetDefault("rules.kill_score", 100)
	v.SetDefault("rules.respawn_delay", "3s")
	v.SetDefault("rules.state_broadcast_interval", "1s")
	v.SetDefault("rules.inactivity_sweep_interval", "30s")
	v.SetDefault("rules.inactivity_timeout", "60s")
	v.SetDefault("rules.rate_limit", 0)
	v.SetDefault("rules.rate_burst", 20)
}
