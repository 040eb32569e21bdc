// Package config loads tripd settings from defaults, the JSON config file, a
// .env file, TRIPD_* environment variables and the secret store, in that
// order of increasing precedence.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Ollama    OllamaConfig
	Storage   StorageConfig
	Providers ProvidersConfig
	Executor  ExecutorConfig
	Jobs      JobsConfig
	Plan      PlanConfig
	Synthesis SynthesisConfig
	Notify    NotifyConfig
}

type ServerConfig struct {
	Port int
	// MCP serves the MCP tools over stdio next to the HTTP API.
	MCP bool
}

type LogConfig struct {
	Level string
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

type StorageConfig struct {
	DataDir           string
	CheckpointBackend string
	RedisURL          string
	RedisTTLHours     int
}

type ProvidersConfig struct {
	BaseURL     string
	APIKey      string
	MaxAttempts int
	BackoffMS   int
}

type ExecutorConfig struct {
	DelayMS int
}

type JobsConfig struct {
	Workers        int
	PollMS         int
	CeilingSeconds int
}

type PlanConfig struct {
	DefaultOrigin string
	AllowOneWay   bool
}

type SynthesisConfig struct {
	Narrator string
}

type NotifyConfig struct {
	WebhookURL string
}

// Checkpoint backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Narrators.
const (
	NarratorTemplate = "template"
	NarratorLLM      = "llm"
)

func defaults() Config {
	return Config{
		Server:  ServerConfig{Port: 4100},
		Log:     LogConfig{Level: "info"},
		Ollama:  OllamaConfig{BaseURL: "http://localhost:11434", Model: "llama3.2"},
		Storage: StorageConfig{DataDir: defaultDataDir(), CheckpointBackend: BackendSQLite, RedisTTLHours: 72},
		Providers: ProvidersConfig{
			MaxAttempts: 3,
			BackoffMS:   500,
		},
		Executor:  ExecutorConfig{DelayMS: 100},
		Jobs:      JobsConfig{Workers: 4, PollMS: 500, CeilingSeconds: 300},
		Synthesis: SynthesisConfig{Narrator: NarratorTemplate},
	}
}

// Load reads configuration from the JSON config file at
// $XDG_CONFIG_HOME/tripd/config.json, a .env file in the working directory,
// TRIPD_* environment variables and the secret store.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), NewKeychain(), ".env")
}

func loadWith(b ConfigBackend, kc Keychain, envFile string) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	if envFile != "" {
		// godotenv.Load never overrides variables already set.
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "[WARN] could not load %s: %v\n", envFile, err)
		}
	}
	applyEnvOverrides(&cfg)

	if cfg.Providers.APIKey == "" && kc != nil {
		if key, err := kc.Get(secretService, accountProviderKey); err == nil {
			cfg.Providers.APIKey = key
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var problems []string
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	switch c.Storage.CheckpointBackend {
	case BackendSQLite:
	case BackendRedis:
		if c.Storage.RedisURL == "" {
			problems = append(problems, "storage.redis_url is required when storage.checkpoint_backend is redis")
		}
	default:
		problems = append(problems, fmt.Sprintf("storage.checkpoint_backend must be %q or %q, got %q", BackendSQLite, BackendRedis, c.Storage.CheckpointBackend))
	}
	switch c.Synthesis.Narrator {
	case NarratorTemplate, NarratorLLM:
	default:
		problems = append(problems, fmt.Sprintf("synthesis.narrator must be %q or %q, got %q", NarratorTemplate, NarratorLLM, c.Synthesis.Narrator))
	}
	if c.Jobs.Workers < 1 {
		problems = append(problems, "jobs.workers must be at least 1")
	}
	if c.Jobs.CeilingSeconds < 1 {
		problems = append(problems, "jobs.ceiling_seconds must be at least 1")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
