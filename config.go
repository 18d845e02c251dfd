// Package leadsai assembles the chat stack: the Gemini provider behind
// the rate-limited gateway, the message store, and the session that
// drives the agentic loop.
package leadsai

import (
	"context"
	"fmt"

	"github.com/robsonrrr/leads-100-sub007/gateway"
	"github.com/robsonrrr/leads-100-sub007/models/gemini"
	"github.com/robsonrrr/leads-100-sub007/sessions"
	"github.com/robsonrrr/leads-100-sub007/stores"
	"github.com/robsonrrr/leads-100-sub007/tools"
)

// Config holds the settings for one chat stack.
type Config struct {
	ModelName   string
	MaxTurns    int
	Temperature float64
	MaxTokens   int
	Gateway     gateway.Config
	Store       stores.MessageStore
}

// NewConfig creates a configuration with default values and a default
// SQLite store.
func NewConfig() *Config {
	defaultStore, err := stores.NewSQLiteStoreDefault()
	if err != nil {
		panic("Failed to create default SQLite store: " + err.Error())
	}

	return &Config{
		ModelName:   "gemini-2.0-flash",
		MaxTurns:    5,
		Temperature: 0.2,
		MaxTokens:   2048,
		Gateway:     gateway.DefaultConfig(),
		Store:       defaultStore,
	}
}

// WithModelName sets the model name for the configuration
func (c *Config) WithModelName(modelName string) *Config {
	c.ModelName = modelName
	return c
}

// WithMaxTurns sets the agentic turn ceiling
func (c *Config) WithMaxTurns(n int) *Config {
	c.MaxTurns = n
	return c
}

// WithTemperature sets the sampling temperature
func (c *Config) WithTemperature(t float64) *Config {
	c.Temperature = t
	return c
}

// WithMaxTokens sets the response token ceiling
func (c *Config) WithMaxTokens(n int) *Config {
	c.MaxTokens = n
	return c
}

// WithGateway sets the gateway configuration
func (c *Config) WithGateway(cfg gateway.Config) *Config {
	c.Gateway = cfg
	return c
}

// WithStore sets the message store for the configuration
func (c *Config) WithStore(store stores.MessageStore) *Config {
	c.Store = store
	return c
}

// WithSQLiteStore sets a SQLite store with the specified database path
func (c *Config) WithSQLiteStore(dbPath string) *Config {
	store, err := stores.NewSQLiteStoreSimple(dbPath)
	if err != nil {
		panic("Failed to create SQLite store: " + err.Error())
	}
	c.Store = store
	return c
}

// WithPostgresStore sets a PostgreSQL store with the specified connection parameters
func (c *Config) WithPostgresStore(host, user, password, dbname string, port int) *Config {
	store, err := stores.NewPostgresStoreDefault(host, user, password, dbname, port)
	if err != nil {
		panic("Failed to create PostgreSQL store: " + err.Error())
	}
	c.Store = store
	return c
}

// BuildSession wires the provider, gateway and session together. The
// returned gateway must be closed on shutdown to stop its refill
// schedule.
func (c *Config) BuildSession(ctx context.Context, catalog *tools.Catalog) (*sessions.ChatSession, *gateway.Gateway, error) {
	provider, err := gemini.New(ctx, c.ModelName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create provider: %w", err)
	}

	gw, err := gateway.New(provider, c.Gateway)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create gateway: %w", err)
	}

	session := sessions.NewChatSession(gw, catalog, c.Store).
		WithModelName(c.ModelName).
		WithMaxTurns(c.MaxTurns)
	session.Temperature = c.Temperature
	session.MaxTokens = c.MaxTokens

	return session, gw, nil
}
