package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
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
		key: "server.port", typ: kInt, env: "TRIPD_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.mcp", typ: kBool, env: "TRIPD_SERVER_MCP",
		apply:   func(cfg *Config, v any) { cfg.Server.MCP = v.(bool) },
		extract: func(cfg Config) any { return cfg.Server.MCP },
	},
	{
		key: "log.level", typ: kString, env: "TRIPD_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "ollama.base_url", typ: kString, env: "TRIPD_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.model", typ: kString, env: "TRIPD_OLLAMA_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.Model },
	},
	{
		key: "storage.data_dir", typ: kString, env: "TRIPD_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.checkpoint_backend", typ: kString, env: "TRIPD_STORAGE_CHECKPOINT_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Storage.CheckpointBackend = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.CheckpointBackend },
	},
	{
		key: "storage.redis_url", typ: kString, env: "TRIPD_STORAGE_REDIS_URL",
		apply:   func(cfg *Config, v any) { cfg.Storage.RedisURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.RedisURL },
	},
	{
		key: "storage.redis_ttl_hours", typ: kInt, env: "TRIPD_STORAGE_REDIS_TTL_HOURS",
		apply:   func(cfg *Config, v any) { cfg.Storage.RedisTTLHours = v.(int) },
		extract: func(cfg Config) any { return cfg.Storage.RedisTTLHours },
	},
	{
		key: "providers.base_url", typ: kString, env: "TRIPD_PROVIDERS_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Providers.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Providers.BaseURL },
	},
	{
		key: "providers.api_key", typ: kString, env: "TRIPD_PROVIDERS_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Providers.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Providers.APIKey },
	},
	{
		key: "providers.max_attempts", typ: kInt, env: "TRIPD_PROVIDERS_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Providers.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Providers.MaxAttempts },
	},
	{
		key: "providers.backoff_ms", typ: kInt, env: "TRIPD_PROVIDERS_BACKOFF_MS",
		apply:   func(cfg *Config, v any) { cfg.Providers.BackoffMS = v.(int) },
		extract: func(cfg Config) any { return cfg.Providers.BackoffMS },
	},
	{
		key: "executor.delay_ms", typ: kInt, env: "TRIPD_EXECUTOR_DELAY_MS",
		apply:   func(cfg *Config, v any) { cfg.Executor.DelayMS = v.(int) },
		extract: func(cfg Config) any { return cfg.Executor.DelayMS },
	},
	{
		key: "jobs.workers", typ: kInt, env: "TRIPD_JOBS_WORKERS",
		apply:   func(cfg *Config, v any) { cfg.Jobs.Workers = v.(int) },
		extract: func(cfg Config) any { return cfg.Jobs.Workers },
	},
	{
		key: "jobs.poll_ms", typ: kInt, env: "TRIPD_JOBS_POLL_MS",
		apply:   func(cfg *Config, v any) { cfg.Jobs.PollMS = v.(int) },
		extract: func(cfg Config) any { return cfg.Jobs.PollMS },
	},
	{
		key: "jobs.ceiling_seconds", typ: kInt, env: "TRIPD_JOBS_CEILING_SECONDS",
		apply:   func(cfg *Config, v any) { cfg.Jobs.CeilingSeconds = v.(int) },
		extract: func(cfg Config) any { return cfg.Jobs.CeilingSeconds },
	},
	{
		key: "plan.default_origin", typ: kString, env: "TRIPD_PLAN_DEFAULT_ORIGIN",
		apply:   func(cfg *Config, v any) { cfg.Plan.DefaultOrigin = v.(string) },
		extract: func(cfg Config) any { return cfg.Plan.DefaultOrigin },
	},
	{
		key: "plan.allow_one_way", typ: kBool, env: "TRIPD_PLAN_ALLOW_ONE_WAY",
		apply:   func(cfg *Config, v any) { cfg.Plan.AllowOneWay = v.(bool) },
		extract: func(cfg Config) any { return cfg.Plan.AllowOneWay },
	},
	{
		key: "synthesis.narrator", typ: kString, env: "TRIPD_SYNTHESIS_NARRATOR",
		apply:   func(cfg *Config, v any) { cfg.Synthesis.Narrator = v.(string) },
		extract: func(cfg Config) any { return cfg.Synthesis.Narrator },
	},
	{
		key: "notify.webhook_url", typ: kString, env: "TRIPD_NOTIFY_WEBHOOK_URL",
		apply:   func(cfg *Config, v any) { cfg.Notify.WebhookURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Notify.WebhookURL },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
