// Package config loads and persists the small JSON documents that
// configure a peer node and a rendezvous relay: environment-derived
// settings, and the tiny "last bound port" file each process keeps so a
// restart prefers its previous port.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/concord-chat/concord/internal/util"
)

// Default relay settings, overridden by environment variables.
const (
	DefaultWSPort   = 9090
	DefaultHTTPPort = 8080
	// DefaultRelayHostname is a placeholder; real deployments must set
	// RELAY_HOSTNAME so peers receive a dialable public address.
	DefaultRelayHostname = "relay.example.org"
)

// RelayConfig holds the rendezvous relay's runtime settings: defaults
// first, then overridden by whatever the file or environment provides.
type RelayConfig struct {
	WSPort       int    `json:"ws_port"`
	HTTPPort     int    `json:"http_port"`
	HostnameBase string `json:"relay_hostname"`
}

// DefaultRelayConfig returns the relay's zero-configuration defaults.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		WSPort:       DefaultWSPort,
		HTTPPort:     DefaultHTTPPort,
		HostnameBase: DefaultRelayHostname,
	}
}

// RelayConfigFromEnv builds a RelayConfig from WS_PORT, HTTP_PORT and
// RELAY_HOSTNAME, falling back to defaults for anything unset or invalid.
func RelayConfigFromEnv() RelayConfig {
	cfg := DefaultRelayConfig()
	if v := os.Getenv("WS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WSPort = n
		}
	}
	if v := os.Getenv("HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HTTPPort = n
		}
	}
	if v := os.Getenv("RELAY_HOSTNAME"); v != "" {
		cfg.HostnameBase = v
	}
	return cfg
}

// Validate checks the config is in range for binding.
func (c RelayConfig) Validate() error {
	if c.WSPort < 0 || c.WSPort > 65535 {
		return errors.New("ws_port must be 0..65535")
	}
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		return errors.New("http_port must be 0..65535")
	}
	if c.HostnameBase == "" {
		return errors.New("relay_hostname must not be empty")
	}
	return nil
}

// LoadRelayConfig reads a relay.json document at path, starting from
// DefaultRelayConfig so any field the file omits keeps its default, then
// validates the result.
func LoadRelayConfig(path string) (RelayConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return RelayConfig{}, err
	}
	cfg := DefaultRelayConfig()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return RelayConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return RelayConfig{}, err
	}
	return cfg, nil
}

// SaveRelayConfig validates cfg and writes it to path as relay.json.
func SaveRelayConfig(path string, cfg RelayConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return util.WriteJSONFile(path, cfg)
}

// EnsureRelayConfig loads relay.json at path if present; otherwise it
// writes and returns DefaultRelayConfig. Environment variables still take
// precedence over either path — callers apply RelayConfigFromEnv on top of
// the result.
func EnsureRelayConfig(path string) (cfg RelayConfig, createdNew bool, err error) {
	if _, statErr := os.Stat(path); statErr == nil {
		cfg, err = LoadRelayConfig(path)
		return cfg, false, err
	} else if !os.IsNotExist(statErr) {
		return RelayConfig{}, false, statErr
	}

	cfg = DefaultRelayConfig()
	if err := SaveRelayConfig(path, cfg); err != nil {
		return RelayConfig{}, false, fmt.Errorf("create default relay config: %w", err)
	}
	return cfg, true, nil
}

// PeerConfig holds a peer node's runtime settings.
type PeerConfig struct {
	DataDir  string `json:"data_dir"`
	RelayURL string `json:"relay_url"`
}

// DefaultDataDir returns CONCORD_DATA_DIR if set, else "./data".
func DefaultDataDir() string {
	if v := os.Getenv("CONCORD_DATA_DIR"); v != "" {
		return v
	}
	return "data"
}

// DefaultPeerConfig returns a peer's zero-configuration defaults: its
// data directory (honoring CONCORD_DATA_DIR) and no relay configured.
func DefaultPeerConfig() PeerConfig {
	return PeerConfig{DataDir: DefaultDataDir(), RelayURL: ""}
}

// Validate checks the peer config is minimally usable.
func (c PeerConfig) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir must not be empty")
	}
	return nil
}

// LoadPeerConfig reads a concord.json document at path, starting from
// DefaultPeerConfig so omitted fields keep their default.
func LoadPeerConfig(path string) (PeerConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return PeerConfig{}, err
	}
	cfg := DefaultPeerConfig()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return PeerConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return PeerConfig{}, err
	}
	return cfg, nil
}

// SavePeerConfig validates cfg and writes it to path as concord.json.
func SavePeerConfig(path string, cfg PeerConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return util.WriteJSONFile(path, cfg)
}

// EnsurePeerConfig loads concord.json at path if present; otherwise it
// writes and returns DefaultPeerConfig.
func EnsurePeerConfig(path string) (cfg PeerConfig, createdNew bool, err error) {
	if _, statErr := os.Stat(path); statErr == nil {
		cfg, err = LoadPeerConfig(path)
		return cfg, false, err
	} else if !os.IsNotExist(statErr) {
		return PeerConfig{}, false, statErr
	}

	cfg = DefaultPeerConfig()
	if err := SavePeerConfig(path, cfg); err != nil {
		return PeerConfig{}, false, fmt.Errorf("create default peer config: %w", err)
	}
	return cfg, true, nil
}

// portFile is the shape persisted at <dir>/relay-config.json.
type portFile struct {
	Port int `json:"port"`
}

// LoadPersistedPort reads a previously-persisted listen port from path.
// Returns (0, false, nil) if the file doesn't exist; any other read or
// decode error is returned so the caller can fall back to picking a fresh
// port rather than treating corruption as fatal.
func LoadPersistedPort(path string) (int, bool, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	var pf portFile
	if err := json.Unmarshal(b, &pf); err != nil {
		return 0, false, err
	}
	if pf.Port <= 0 || pf.Port > 65535 {
		return 0, false, errors.New("persisted port out of range")
	}
	return pf.Port, true, nil
}

// SavePersistedPort writes the bound port to path so the next run prefers it.
func SavePersistedPort(path string, port int) error {
	return util.WriteJSONFile(path, portFile{Port: port})
}

// DeletePersistedPort removes the port file, used when a bind retry must
// pick a fresh port after an address-in-use failure.
func DeletePersistedPort(path string) error {
	err := os.Remove(path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}
