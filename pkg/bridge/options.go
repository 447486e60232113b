package bridge

import (
	"github.com/txn2/mcp-tool-bridge/pkg/authsession"
	"github.com/txn2/mcp-tool-bridge/pkg/dispatch"
	"github.com/txn2/mcp-tool-bridge/pkg/identity"
	"github.com/txn2/mcp-tool-bridge/pkg/router"
)

// Options configures the bridge.
type Options struct {
	// Config is the bridge configuration.
	Config *Config

	// Executor runs operations against the backend. Required.
	Executor dispatch.Executor

	// Store (optional, an in-memory store is created from config if not
	// provided).
	Store authsession.Store

	// Provider (optional, will be created from config if not provided).
	Provider identity.Provider

	// Classifier (optional, a keyword classifier is built from the
	// operation declarations if not provided).
	Classifier router.Classifier
}

// Option is a functional option for configuring the bridge.
type Option func(*Options)

// WithConfig sets the configuration.
func WithConfig(cfg *Config) Option {
	return func(o *Options) {
		o.Config = cfg
	}
}

// WithExecutor sets the operation executor.
func WithExecutor(executor dispatch.Executor) Option {
	return func(o *Options) {
		o.Executor = executor
	}
}

// WithStore sets the authentication-session store.
func WithStore(store authsession.Store) Option {
	return func(o *Options) {
		o.Store = store
	}
}

// WithProvider sets the identity provider.
func WithProvider(provider identity.Provider) Option {
	return func(o *Options) {
		o.Provider = provider
	}
}

// WithClassifier sets the request classifier.
func WithClassifier(classifier router.Classifier) Option {
	return func(o *Options) {
		o.Classifier = classifier
	}
}
