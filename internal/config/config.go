package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Host              string
	Port              string
	RunsDir           string
	MaxPageChars      int
	HTTPTimeout       time.Duration
	FetchUserAgent    string
	MaxSourcesCeiling int
	MaxLinksCeiling   int
	ModelProvider     string
	LLMModel          string
	LLMBaseURL        string
	LLMMaxTokens      int
	LLMTimeout        time.Duration
	Temperature       float64
	OpenAIAPIKey      string
	OpenRouterAPIKey  string
	StoreDriver       string
	SQLitePath        string
	PostgresURL       string
	RunExecutor       string
	TemporalAddress   string
	TemporalTaskQueue string
	LogLevel          string
	LogFormat         string
}

// Keys lists every setting. Config files use the same names in lower case.
var Keys = []string{
	"HOST", "PORT", "RUNS_DIR", "MAX_PAGE_CHARS", "HTTP_TIMEOUT_S", "FETCH_USER_AGENT",
	"MAX_SOURCES_CEILING", "MAX_LINKS_CEILING", "MODEL_PROVIDER", "LLM_MODEL",
	"LLM_BASE_URL", "LLM_MAX_TOKENS", "LLM_TIMEOUT_S", "TEMPERATURE", "OPENAI_API_KEY",
	"OPENROUTER_API_KEY", "STORE_DRIVER", "SQLITE_PATH", "POSTGRES_URL", "POSTGRES_USER",
	"POSTGRES_PASSWORD", "POSTGRES_DB", "POSTGRES_HOST", "POSTGRES_PORT", "RUN_EXECUTOR",
	"TEMPORAL_ADDRESS", "TEMPORAL_TASK_QUEUE", "LOG_LEVEL", "LOG_FORMAT",
}

// Load reads the configuration from the environment.
func Load() Config {
	return load(envLookup)
}

// Resolve loads the TOML file named by CONFIG_FILE when set, else the
// environment alone.
func Resolve() (Config, error) {
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		return LoadFile(path)
	}
	return Load(), nil
}

// LoadFile reads settings from a TOML file. Environment variables take
// precedence over the file.
func LoadFile(path string) (Config, error) {
	var raw map[string]any
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	values := map[string]string{}
	for key, value := range raw {
		name := strings.ToUpper(key)
		if !slices.Contains(Keys, name) {
			return Config{}, fmt.Errorf("parsing config %s: unknown key %q", path, key)
		}
		values[name] = fmt.Sprint(value)
	}
	return load(func(key string) string {
		if value := envLookup(key); value != "" {
			return value
		}
		return strings.TrimSpace(values[key])
	}), nil
}

type lookupFunc func(key string) string

func envLookup(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func load(lookup lookupFunc) Config {
	getEnv := func(key, fallback string) string {
		if value := lookup(key); value != "" {
			return value
		}
		return fallback
	}
	getEnvInt := func(key string, fallback int) int {
		return parseInt(lookup(key), fallback)
	}
	getEnvFloat := func(key string, fallback float64) float64 {
		return parseFloat(lookup(key), fallback)
	}
	getEnvSeconds := func(key string, fallback float64) time.Duration {
		return seconds(getEnvFloat(key, fallback), fallback)
	}

	runsDir := getEnv("RUNS_DIR", "runs")
	postgresURL := getEnv("POSTGRES_URL", "")
	if postgresURL == "" {
		postgresURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
			getEnv("POSTGRES_USER", "research"),
			getEnv("POSTGRES_PASSWORD", "research"),
			getEnv("POSTGRES_HOST", "localhost"),
			getEnv("POSTGRES_PORT", "5432"),
			getEnv("POSTGRES_DB", "research"),
		)
	}
	return Config{
		Host:              getEnv("HOST", "127.0.0.1"),
		Port:              getEnv("PORT", "8000"),
		RunsDir:           runsDir,
		MaxPageChars:      clampInt(getEnvInt("MAX_PAGE_CHARS", 15000), 2000, 50000),
		HTTPTimeout:       getEnvSeconds("HTTP_TIMEOUT_S", 20),
		FetchUserAgent:    getEnv("FETCH_USER_AGENT", "deep-research-agent/0.1"),
		MaxSourcesCeiling: clampInt(getEnvInt("MAX_SOURCES_CEILING", 3), 0, 3),
		MaxLinksCeiling:   clampInt(getEnvInt("MAX_LINKS_CEILING", 10), 0, 10),
		ModelProvider:     strings.ToLower(getEnv("MODEL_PROVIDER", "scripted")),
		LLMModel:          getEnv("LLM_MODEL", "gpt-5-mini"),
		LLMBaseURL:        getEnv("LLM_BASE_URL", ""),
		LLMMaxTokens:      clampInt(getEnvInt("LLM_MAX_TOKENS", 350), 50, 800),
		LLMTimeout:        getEnvSeconds("LLM_TIMEOUT_S", 60),
		Temperature:       getEnvFloat("TEMPERATURE", 0.2),
		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		OpenRouterAPIKey:  getEnv("OPENROUTER_API_KEY", ""),
		StoreDriver:       strings.ToLower(getEnv("STORE_DRIVER", "sqlite")),
		SQLitePath:        getEnv("SQLITE_PATH", filepath.Join(runsDir, "checkpoints.sqlite")),
		PostgresURL:       postgresURL,
		RunExecutor:       strings.ToLower(getEnv("RUN_EXECUTOR", "inline")),
		TemporalAddress:   getEnv("TEMPORAL_ADDRESS", "localhost:7233"),
		TemporalTaskQueue: getEnv("TEMPORAL_TASK_QUEUE", "research-runs"),
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:         strings.ToLower(getEnv("LOG_FORMAT", "json")),
	}
}

func (c Config) ListenAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

func parseInt(value string, fallback int) int {
	if value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func parseFloat(value string, fallback float64) float64 {
	if value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

// seconds converts a fractional number of seconds. Non-positive values fall
// back to the default so a fetch can never run without a timeout.
func seconds(value float64, fallback float64) time.Duration {
	if value <= 0 {
		value = fallback
	}
	return time.Duration(value * float64(time.Second))
}

func clampInt(value, lo, hi int) int {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}
