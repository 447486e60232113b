package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/mcp-tool-bridge/pkg/bridge"
	"github.com/txn2/mcp-tool-bridge/pkg/dispatch"
	"github.com/txn2/mcp-tool-bridge/pkg/gate"
)

type noopExecutor struct{}

func (noopExecutor) Execute(context.Context, string, map[string]any, *gate.Credential) (any, error) {
	return nil, nil
}

var _ dispatch.Executor = noopExecutor{}

func newTestBridge(t *testing.T, cfg *bridge.Config) *bridge.Bridge {
	t.Helper()
	b, err := bridge.New(bridge.WithConfig(cfg), bridge.WithExecutor(noopExecutor{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestApplyConfigOverrides(t *testing.T) {
	b := newTestBridge(t, &bridge.Config{
		Server: bridge.ServerConfig{Transport: "http", Address: ":9090"},
	})

	opts := serverOptions{transport: "stdio", address: ":8080"}
	applyConfigOverrides(b, &opts)

	assert.Equal(t, "http", opts.transport)
	assert.Equal(t, ":9090", opts.address)
}

func TestApplyConfigOverrides_KeepsFlagsWhenConfigSilent(t *testing.T) {
	b := newTestBridge(t, &bridge.Config{})

	opts := serverOptions{transport: "http", address: ":9000"}
	applyConfigOverrides(b, &opts)

	// applyDefaults fills transport with "stdio"; the address flag survives.
	assert.Equal(t, "stdio", opts.transport)
	assert.Equal(t, ":9000", opts.address)
}

func TestServe_UnknownTransport(t *testing.T) {
	b := newTestBridge(t, &bridge.Config{})

	err := serve(context.Background(), b, serverOptions{transport: "carrier-pigeon"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown transport")
}
