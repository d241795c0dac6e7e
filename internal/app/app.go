// Package app wires configuration into the components shared by the research
// server, the Temporal worker and researchctl.
package app

import (
	"fmt"
	"log/slog"

	"github.com/waqasraza123/deep-research-agent/internal/agent"
	"github.com/waqasraza123/deep-research-agent/internal/artifacts"
	"github.com/waqasraza123/deep-research-agent/internal/config"
	"github.com/waqasraza123/deep-research-agent/internal/fetch"
	"github.com/waqasraza123/deep-research-agent/internal/llm"
	"github.com/waqasraza123/deep-research-agent/internal/store"
	"github.com/waqasraza123/deep-research-agent/internal/store/memory"
	"github.com/waqasraza123/deep-research-agent/internal/store/postgres"
	"github.com/waqasraza123/deep-research-agent/internal/store/sqlite"
)

type Components struct {
	Files   *artifacts.Store
	Fetcher *fetch.Fetcher
	Agent   agent.Agent
	Bounds  fetch.Bounds
}

var (
	openSQLite   = func(path string) (*sqlite.SQLiteStore, error) { return sqlite.New(path) }
	openPostgres = func(conn string) (*postgres.PostgresStore, error) { return postgres.New(conn) }
)

func NewComponents(cfg config.Config, logger *slog.Logger) (*Components, error) {
	files, err := artifacts.New(cfg.RunsDir)
	if err != nil {
		return nil, err
	}
	a, err := NewAgent(cfg, logger)
	if err != nil {
		return nil, err
	}
	fetcher := fetch.NewFetcher(files, fetch.Options{
		MaxPageChars: cfg.MaxPageChars,
		Timeout:      cfg.HTTPTimeout,
		UserAgent:    cfg.FetchUserAgent,
		Logger:       logger,
	})
	return &Components{Files: files, Fetcher: fetcher, Agent: a, Bounds: Bounds(cfg)}, nil
}

func Bounds(cfg config.Config) fetch.Bounds {
	return fetch.Bounds{MaxSources: cfg.MaxSourcesCeiling, MaxLinksPerSource: cfg.MaxLinksCeiling}
}

// NewAgent returns the rule-based agent for the "scripted" provider and a
// model-backed agent for every other provider.
func NewAgent(cfg config.Config, logger *slog.Logger) (agent.Agent, error) {
	if cfg.ModelProvider == "" || cfg.ModelProvider == "scripted" {
		return agent.NewScripted(logger), nil
	}
	provider, err := llm.NewProvider(llm.Config{
		Provider:         cfg.ModelProvider,
		Model:            cfg.LLMModel,
		BaseURL:          cfg.LLMBaseURL,
		OpenAIAPIKey:     cfg.OpenAIAPIKey,
		OpenRouterAPIKey: cfg.OpenRouterAPIKey,
		MaxTokens:        cfg.LLMMaxTokens,
		Temperature:      cfg.Temperature,
		Timeout:          cfg.LLMTimeout,
	})
	if err != nil {
		return nil, err
	}
	return agent.NewModel(provider, logger), nil
}

// OpenStore opens the checkpoint store selected by STORE_DRIVER. The returned
// close function is never nil.
func OpenStore(cfg config.Config) (store.Store, func() error, error) {
	switch cfg.StoreDriver {
	case "memory":
		return memory.New(), func() error { return nil }, nil
	case "", "sqlite":
		st, err := openSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return st, st.Close, nil
	case "postgres":
		st, err := openPostgres(cfg.PostgresURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres store: %w", err)
		}
		return st, st.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}
