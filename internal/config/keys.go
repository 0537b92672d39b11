package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "CLAWKPIT_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "CLAWKPIT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "CLAWKPIT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "CLAWKPIT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "pairing.code_ttl", typ: kDuration, env: "CLAWKPIT_PAIRING_CODE_TTL",
		apply:   func(cfg *Config, v any) { cfg.Pairing.CodeTTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Pairing.CodeTTL },
	},
	{
		key: "pairing.confirm_limit", typ: kInt, env: "CLAWKPIT_PAIRING_CONFIRM_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Pairing.ConfirmLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Pairing.ConfirmLimit },
	},
	{
		key: "pairing.confirm_window", typ: kDuration, env: "CLAWKPIT_PAIRING_CONFIRM_WINDOW",
		apply:   func(cfg *Config, v any) { cfg.Pairing.ConfirmWindow = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Pairing.ConfirmWindow },
	},
	{
		key: "pairing.poll_interval", typ: kDuration, env: "CLAWKPIT_PAIRING_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Pairing.PollInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Pairing.PollInterval },
	},
	{
		key: "broadcast.redis_url", typ: kString, env: "CLAWKPIT_BROADCAST_REDIS_URL",
		apply:   func(cfg *Config, v any) { cfg.Broadcast.RedisURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Broadcast.RedisURL },
	},
	{
		key: "broadcast.shards", typ: kInt, env: "CLAWKPIT_BROADCAST_SHARDS",
		apply:   func(cfg *Config, v any) { cfg.Broadcast.Shards = v.(int) },
		extract: func(cfg Config) any { return cfg.Broadcast.Shards },
	},
	{
		key: "mcp.enabled", typ: kBool, env: "CLAWKPIT_MCP_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.MCP.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.MCP.Enabled },
	},
	{
		key: "client.base_url", typ: kString, env: "CLAWKPIT_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Client.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Client.BaseURL },
	},
	{
		key: "client.token", typ: kString, env: "CLAWKPIT_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Client.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Client.Token },
	},
}

// parseValue converts a raw string into the Go type a key expects.
func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kDuration:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, err
		}
		if d <= 0 {
			return nil, fmt.Errorf("duration must be positive")
		}
		return d, nil
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
