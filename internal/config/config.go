package config

import (
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Log       LogConfig
	Pairing   PairingConfig
	Broadcast BroadcastConfig
	MCP       MCPConfig
	Client    ClientConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type PairingConfig struct {
	CodeTTL       time.Duration
	ConfirmLimit  int
	ConfirmWindow time.Duration
	PollInterval  time.Duration
}

type BroadcastConfig struct {
	// RedisURL enables the cross-process relay when set.
	RedisURL string
	Shards   int
}

type MCPConfig struct {
	Enabled bool
}

// ClientConfig is read by the CLI when it talks to a running server.
type ClientConfig struct {
	BaseURL string
	Token   string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 4000,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Pairing: PairingConfig{
			CodeTTL:       10 * time.Minute,
			ConfirmLimit:  10,
			ConfirmWindow: 10 * time.Minute,
			PollInterval:  3 * time.Second,
		},
		Broadcast: BroadcastConfig{
			Shards: 16,
		},
		MCP: MCPConfig{
			Enabled: true,
		},
		Client: ClientConfig{
			BaseURL: "http://127.0.0.1:4000",
		},
	}
}

// Load reads configuration from $XDG_CONFIG_HOME/clawkpit/config.toml,
// then applies CLAWKPIT_* environment overrides. The client token, a
// secret, comes from CLAWKPIT_TOKEN or the secrets file written by
// `clawkpit device login`.
func Load() (Config, error) {
	return loadFromPath(configFilePath(), fileSecrets{})
}

// secretStore abstracts the secrets file for testing.
type secretStore interface {
	Get(account string) (string, error)
}

func loadFromPath(path string, sec secretStore) (Config, error) {
	return loadWith(newTOMLBackend(path), sec)
}

func loadWith(b ConfigBackend, sec secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Client.Token == "" {
		if tok, err := sec.Get(tokenAccount); err == nil && tok != "" {
			cfg.Client.Token = strings.TrimSpace(tok)
		}
	}

	return cfg, nil
}
