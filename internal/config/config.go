// Package config provides Viper-based configuration loading for the LAN lobby.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// NetworkConfig holds the UDP broadcast transport settings.
type NetworkConfig struct {
	// Port is the well-known UDP port every peer binds and sends to.
	Port int `mapstructure:"port"`
	// BindHost is the local address to bind; empty binds all interfaces.
	BindHost string `mapstructure:"bind_host"`
	// BroadcastAddress is the subnet broadcast IPv4 address; empty derives it
	// from the interface that carries the advertise address.
	BroadcastAddress string `mapstructure:"broadcast_address"`
	// AdvertiseAddress is the address announced to peers; empty auto-detects
	// the outbound interface address.
	AdvertiseAddress string `mapstructure:"advertise_address"`
	// MaxDatagram is the receive buffer size and the largest payload sent.
	MaxDatagram int `mapstructure:"max_datagram"`
	// ReuseAddress lets a second process bind the port while the first holds
	// it. Peers are keyed by IP and datagrams from the local IP are dropped,
	// so processes sharing one host do not see each other in the lobby.
	ReuseAddress bool `mapstructure:"reuse_address"`
}

// ListenAddr returns the "host:port" bind address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (n NetworkConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", n.BindHost, n.Port)
}

// LobbyConfig holds matchmaking timing and buffering settings.
type LobbyConfig struct {
	// PlayerName is the display name announced to peers; empty uses the hostname.
	PlayerName string `mapstructure:"player_name"`
	// PresenceInterval is the period of presence broadcasts.
	PresenceInterval time.Duration `mapstructure:"presence_interval"`
	// SweepInterval is the period of the staleness sweep.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// PlayerTimeout is how long a peer stays known without a new announcement.
	PlayerTimeout time.Duration `mapstructure:"player_timeout"`
	// EmptyRoomTimeout is how long a room without a guest may stay idle.
	EmptyRoomTimeout time.Duration `mapstructure:"empty_room_timeout"`
	// InboxSize is the capacity of the queue between the receive loop and the coordinator.
	InboxSize int `mapstructure:"inbox_size"`
	// EventBuffer is the capacity of the event channel offered to the game layer.
	EventBuffer int `mapstructure:"event_buffer"`
	// SequencedSnapshots makes room snapshots carry a sequence number and
	// rejects snapshots older than the last accepted one.
	SequencedSnapshots bool `mapstructure:"sequenced_snapshots"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	Network NetworkConfig `mapstructure:"network"`
	Lobby   LobbyConfig   `mapstructure:"lobby"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateNetwork(c.Network); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLobby(c.Lobby); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateNetwork(n NetworkConfig) error {
	var errs []string
	if n.Port < 1 || n.Port > 65535 {
		errs = append(errs, fmt.Sprintf("network.port must be 1-65535, got %d", n.Port))
	}
	if n.BroadcastAddress != "" {
		if addr, err := netip.ParseAddr(n.BroadcastAddress); err != nil || !addr.Is4() {
			errs = append(errs, fmt.Sprintf("network.broadcast_address must be an IPv4 address, got %q", n.BroadcastAddress))
		}
	}
	if n.AdvertiseAddress != "" {
		if _, err := netip.ParseAddr(n.AdvertiseAddress); err != nil {
			errs = append(errs, fmt.Sprintf("network.advertise_address must be an IP address, got %q", n.AdvertiseAddress))
		}
	}
	if n.MaxDatagram < 512 || n.MaxDatagram > 65507 {
		errs = append(errs, fmt.Sprintf("network.max_datagram must be 512-65507, got %d", n.MaxDatagram))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLobby(l LobbyConfig) error {
	var errs []string
	if l.PresenceInterval <= 0 {
		errs = append(errs, "lobby.presence_interval must be > 0")
	}
	if l.SweepInterval <= 0 {
		errs = append(errs, "lobby.sweep_interval must be > 0")
	}
	if l.PlayerTimeout <= 0 {
		errs = append(errs, "lobby.player_timeout must be > 0")
	}
	if l.EmptyRoomTimeout <= 0 {
		errs = append(errs, "lobby.empty_room_timeout must be > 0")
	}
	if l.PresenceInterval > 0 && l.PlayerTimeout > 0 && l.PresenceInterval >= l.PlayerTimeout {
		errs = append(errs, fmt.Sprintf("lobby.presence_interval (%s) must be shorter than lobby.player_timeout (%s)", l.PresenceInterval, l.PlayerTimeout))
	}
	if l.InboxSize < 1 {
		errs = append(errs, fmt.Sprintf("lobby.inbox_size must be >= 1, got %d", l.InboxSize))
	}
	if l.EventBuffer < 1 {
		errs = append(errs, fmt.Sprintf("lobby.event_buffer must be >= 1, got %d", l.EventBuffer))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
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
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result. An empty path skips the file and uses
// defaults plus environment.
//
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()

	// Environment variable overrides with LANLOBBY_ prefix
	v.SetEnvPrefix("LANLOBBY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	if v == nil {
		return Config{}, errors.New("nil viper instance")
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the built-in configuration without reading any file or
// environment variable.
//
// Postcondition: The returned Config passes Validate.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := LoadFromViper(v)
	if err != nil {
		panic("config: built-in defaults are invalid: " + err.Error())
	}
	return cfg
}

// DefaultPort is the well-known lobby port.
const DefaultPort = 5555

func setDefaults(v *viper.Viper) {
	v.SetDefault("network.port", DefaultPort)
	v.SetDefault("network.bind_host", "")
	v.SetDefault("network.broadcast_address", "")
	v.SetDefault("network.advertise_address", "")
	v.SetDefault("network.max_datagram", 4096)
	v.SetDefault("network.reuse_address", false)

	v.SetDefault("lobby.player_name", "")
	v.SetDefault("lobby.presence_interval", "1s")
	v.SetDefault("lobby.sweep_interval", "2s")
	v.SetDefault("lobby.player_timeout", "5s")
	v.SetDefault("lobby.empty_room_timeout", "30s")
	v.SetDefault("lobby.inbox_size", 256)
	v.SetDefault("lobby.event_buffer", 32)
	v.SetDefault("lobby.sequenced_snapshots", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}
