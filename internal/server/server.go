// Package server provides a factory for creating the bridge from
// configuration.
package server

import (
	"fmt"

	"github.com/txn2/mcp-tool-bridge/pkg/bridge"
	"github.com/txn2/mcp-tool-bridge/pkg/dispatch"
)

// Version is set at build time.
var Version = "dev"

// NewWithConfig builds a bridge from a config file, wiring the HTTP
// backend executor. Library embedders use bridge.New directly to supply
// their own executor.
func NewWithConfig(path string) (*bridge.Bridge, error) {
	cfg, err := bridge.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if cfg.Backend.URL == "" {
		return nil, fmt.Errorf("backend.url is required")
	}

	executor, err := dispatch.NewHTTPExecutor(dispatch.HTTPExecutorConfig{
		BaseURL: cfg.Backend.URL,
		Timeout: cfg.Backend.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("creating backend executor: %w", err)
	}

	b, err := bridge.New(
		bridge.WithConfig(cfg),
		bridge.WithExecutor(executor),
	)
	if err != nil {
		return nil, fmt.Errorf("creating bridge: %w", err)
	}
	return b, nil
}
