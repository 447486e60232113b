// Package main provides the entry point for the mcp-tool-bridge server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	mcpserver "github.com/txn2/mcp-tool-bridge/internal/server"
	"github.com/txn2/mcp-tool-bridge/pkg/bridge"
	bridgehttp "github.com/txn2/mcp-tool-bridge/pkg/http"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type serverOptions struct {
	configPath  string
	transport   string
	address     string
	showVersion bool
}

func parseFlags() serverOptions {
	opts := serverOptions{}
	flag.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	flag.StringVar(&opts.transport, "transport", "stdio", "Transport type: stdio, http")
	flag.StringVar(&opts.address, "address", ":8080", "Server address for HTTP transport")
	flag.BoolVar(&opts.showVersion, "version", false, "Show version and exit")
	flag.Parse()
	return opts
}

func setupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx
}

func run() error {
	opts := parseFlags()

	if opts.showVersion {
		fmt.Printf("mcp-tool-bridge version %s\n", mcpserver.Version)
		return nil
	}
	if opts.configPath == "" {
		return fmt.Errorf("-config is required")
	}

	ctx := setupSignalHandler()

	b, err := mcpserver.NewWithConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer func() { _ = b.Close() }()

	applyConfigOverrides(b, &opts)

	b.Start(ctx)
	return serve(ctx, b, opts)
}

// applyConfigOverrides lets the config file override transport flags.
func applyConfigOverrides(b *bridge.Bridge, opts *serverOptions) {
	if b.Config().Server.Transport != "" {
		opts.transport = b.Config().Server.Transport
	}
	if b.Config().Server.Address != "" {
		opts.address = b.Config().Server.Address
	}
}

func serve(ctx context.Context, b *bridge.Bridge, opts serverOptions) error {
	switch opts.transport {
	case "stdio":
		return b.Server().Run(ctx, &mcp.StdioTransport{})
	case "http":
		return serveHTTP(ctx, b, opts.address)
	default:
		return fmt.Errorf("unknown transport: %s", opts.transport)
	}
}

// serveHTTP serves the streamable HTTP transport with health probes.
func serveHTTP(ctx context.Context, b *bridge.Bridge, address string) error {
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return b.Server() }, nil)

	mux := http.NewServeMux()
	mux.Handle("/", bridgehttp.TokenExtractor()(handler))
	b.Checker().Mount(mux)

	srv := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
