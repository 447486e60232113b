package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/txn2/mcp-tool-bridge/pkg/assoc"
	"github.com/txn2/mcp-tool-bridge/pkg/authsession"
	"github.com/txn2/mcp-tool-bridge/pkg/dispatch"
	"github.com/txn2/mcp-tool-bridge/pkg/gate"
	"github.com/txn2/mcp-tool-bridge/pkg/health"
	"github.com/txn2/mcp-tool-bridge/pkg/identity"
	"github.com/txn2/mcp-tool-bridge/pkg/middleware"
	"github.com/txn2/mcp-tool-bridge/pkg/router"
)

// Bridge is the main bridge facade: it owns the credential store, the
// association index, the gate, the dispatcher, and the MCP server built on
// top of them.
type Bridge struct {
	config *Config

	store      authsession.Store
	index      *assoc.Index
	provider   identity.Provider
	gate       *gate.Gate
	dispatcher *dispatch.Dispatcher
	router     *router.Router
	exchanger  *identity.KeyExchanger

	mcpServer *mcp.Server
	checker   *health.Checker

	cancel context.CancelFunc
	group  *errgroup.Group
}

// New creates a new bridge instance.
func New(opts ...Option) (*Bridge, error) {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}

	if options.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	applyDefaults(options.Config)
	if err := options.Config.Validate(); err != nil {
		return nil, err
	}
	if options.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}

	b := &Bridge{
		config:  options.Config,
		index:   assoc.NewIndex(),
		checker: health.NewChecker(),
	}

	if err := b.initComponents(options); err != nil {
		return nil, fmt.Errorf("initializing components: %w", err)
	}
	b.initMCPServer()

	return b, nil
}

// initComponents wires the store, provider, gate, dispatcher, and router.
func (b *Bridge) initComponents(opts *Options) error {
	cfg := b.config

	if opts.Store != nil {
		b.store = opts.Store
	} else {
		var storeOpts []authsession.MemoryStoreOption
		if len(cfg.Auth.AutomationMarkers) > 0 {
			markers := cfg.Auth.AutomationMarkers
			storeOpts = append(storeOpts,
				authsession.WithAutomationPredicate(authsession.MarkerPredicate(markers)))
		}
		b.store = authsession.NewMemoryStore(storeOpts...)
	}

	if opts.Provider != nil {
		b.provider = opts.Provider
	} else if cfg.Auth.Enabled {
		provider, err := b.createProvider()
		if err != nil {
			return fmt.Errorf("creating identity provider: %w", err)
		}
		b.provider = provider
	}

	gated := make(map[string]string)
	for _, op := range cfg.Operations {
		if op.Gated {
			gated[op.Name] = op.RequiredScope
		}
	}
	b.gate = gate.New(gate.Config{
		Enabled:         cfg.Auth.Enabled,
		GatedOperations: gated,
		DefaultTTL:      cfg.Sessions.TTL,
	}, b.store, b.index, b.provider)

	b.dispatcher = dispatch.New(b.gate, b.index, opts.Executor)
	for _, op := range cfg.Operations {
		err := b.dispatcher.Register(dispatch.OperationSpec{
			Name:          op.Name,
			Description:   op.Description,
			Gated:         op.Gated,
			RequiredScope: op.RequiredScope,
			KeyProperties: op.KeyProperties,
		})
		if err != nil {
			return fmt.Errorf("registering operation: %w", err)
		}
	}

	classifier := opts.Classifier
	if classifier == nil {
		rules := make([]router.KeywordRule, 0, len(cfg.Operations))
		for _, op := range cfg.Operations {
			if len(op.Keywords) == 0 {
				continue
			}
			rules = append(rules, router.KeywordRule{
				Operation:     op.Name,
				Keywords:      op.Keywords,
				RequiredScope: op.RequiredScope,
			})
		}
		classifier = router.NewKeywordClassifier(rules, cfg.Routing.Fallback)
	}
	b.router = router.New(classifier, b.gate)

	if len(cfg.Auth.ServiceKeys) > 0 {
		keys := make([]identity.ServiceKey, 0, len(cfg.Auth.ServiceKeys))
		for _, def := range cfg.Auth.ServiceKeys {
			keys = append(keys, identity.ServiceKey{
				Name:     def.Name,
				Identity: def.Identity,
				Hash:     def.Hash,
				Scopes:   def.Scopes,
				TTL:      def.TTL,
			})
		}
		b.exchanger = identity.NewKeyExchanger(b.store, keys)
	}

	return nil
}

// createProvider builds the identity provider selected by config.
func (b *Bridge) createProvider() (identity.Provider, error) {
	cfg := b.config.Auth
	switch cfg.Provider {
	case "oidc":
		return identity.NewHTTPProvider(identity.HTTPConfig{
			Issuer:                cfg.OIDC.Issuer,
			IntrospectionEndpoint: cfg.OIDC.IntrospectionEndpoint,
			AuthorizationEndpoint: cfg.OIDC.AuthorizationEndpoint,
			ClientID:              cfg.OIDC.ClientID,
			ClientSecret:          cfg.OIDC.ClientSecret,
			RemediationTemplate:   cfg.OIDC.RemediationTemplate,
			Timeout:               cfg.OIDC.Timeout,
		})
	case "jwt":
		return identity.NewJWTProvider(identity.JWTConfig{
			Issuer:         cfg.JWT.Issuer,
			SigningKey:     []byte(cfg.JWT.SigningKey),
			RemediationURL: cfg.JWT.RemediationURL,
		})
	default:
		return nil, fmt.Errorf("unsupported auth provider %q", cfg.Provider)
	}
}

// initMCPServer creates the MCP server, attaches middleware, and registers
// the bridge tools.
func (b *Bridge) initMCPServer() {
	b.mcpServer = mcp.NewServer(&mcp.Implementation{
		Name:    b.config.Server.Name,
		Version: b.config.Server.Version,
	}, nil)

	b.mcpServer.AddReceivingMiddleware(
		middleware.MCPToolCallMiddleware(b.dispatcher),
		middleware.MCPCallLoggingMiddleware(),
	)

	b.registerOperationTools()
	b.registerRouteTool()
	b.registerSessionStatusTool()
	b.registerStatsTool()
	b.registerAuthenticateTool()
}

// Config returns the bridge configuration.
func (b *Bridge) Config() *Config {
	return b.config
}

// Server returns the underlying MCP server for transport binding.
func (b *Bridge) Server() *mcp.Server {
	return b.mcpServer
}

// Checker returns the bridge's readiness checker.
func (b *Bridge) Checker() *health.Checker {
	return b.checker
}

// Start launches the background maintenance tasks: the expired-session
// sweep and the idle transport-session reaper. Both stop when Close is
// called.
func (b *Bridge) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)
	b.group, ctx = errgroup.WithContext(ctx)

	sweepEvery := b.config.Sessions.SweepInterval
	reapEvery := b.config.Sessions.ReapInterval
	maxIdle := b.config.Sessions.IdleTimeout

	b.group.Go(func() error {
		ticker := time.NewTicker(sweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := b.store.SweepExpired(ctx); err != nil {
					slog.Warn("bridge: session sweep failed", "error", err)
				}
			}
		}
	})

	b.group.Go(func() error {
		ticker := time.NewTicker(reapEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				b.dispatcher.ReapIdle(maxIdle)
			}
		}
	})

	b.checker.SetReady()
	slog.Info("bridge: started",
		"name", b.config.Server.Name,
		"version", b.config.Server.Version,
		"operations", len(b.config.Operations),
		"auth_enabled", b.config.Auth.Enabled,
	)
}

// Close stops background tasks and releases all session state.
func (b *Bridge) Close() error {
	b.checker.SetDraining()

	if b.cancel != nil {
		b.cancel()
		if err := b.group.Wait(); err != nil {
			slog.Warn("bridge: background task error on shutdown", "error", err)
		}
		b.cancel = nil
	}

	if err := b.dispatcher.Close(); err != nil {
		return fmt.Errorf("closing dispatcher: %w", err)
	}
	if err := b.store.Close(); err != nil {
		return fmt.Errorf("closing session store: %w", err)
	}
	slog.Info("bridge: stopped")
	return nil
}
