package factory

import (
	"context"
	"fmt"

	"github.com/lychee-technology/orcall"
	"github.com/lychee-technology/orcall/internal"
	"github.com/lychee-technology/orcall/internal/journal"
	"github.com/lychee-technology/orcall/internal/loopback"
	"github.com/lychee-technology/orcall/internal/pgsession"
	"github.com/lychee-technology/orcall/internal/snapshot"
	"go.uber.org/zap"
)

// Dependencies lets callers supply collaborators that would otherwise be
// built from the configuration. Every field is optional.
type Dependencies struct {
	// Registry backs the loopback backend. Defaults to loopback.DemoRegistry().
	Registry *loopback.Registry
	// Pool backs the postgres backend instead of a pool opened from Config.Postgres.
	Pool pgsession.Pool
	// Snapshots replaces the S3 store configured by Config.Snapshot.
	Snapshots internal.SnapshotStore
	Hook      internal.CallHook
	Logger    *zap.Logger
}

// NewDispatcher connects to the configured application and returns a
// dispatcher over it.
//
// Usage:
//
//	cfg := orcall.DefaultConfig()
//	cfg.Session.Image = "comtest"
//	d, err := factory.NewDispatcher(ctx, cfg)
//	if err != nil {
//	    // handle error
//	}
//	defer d.Close(ctx)
//	out, err := d.Call(ctx, "helloworld", orcall.Record{"counter": orcall.Integer(1)})
func NewDispatcher(ctx context.Context, cfg *orcall.Config) (orcall.Dispatcher, error) {
	return NewDispatcherWith(ctx, cfg, Dependencies{})
}

// NewDispatcherWith is NewDispatcher with caller supplied collaborators.
func NewDispatcherWith(ctx context.Context, cfg *orcall.Config, deps Dependencies) (orcall.Dispatcher, error) {
	if cfg == nil {
		cfg = orcall.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mode, err := orcall.ParseConnectionMode(string(cfg.Session.Mode))
	if err != nil {
		return nil, err
	}

	session, err := newSession(ctx, cfg, deps)
	if err != nil {
		return nil, err
	}

	connectCtx := ctx
	if cfg.Session.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, cfg.Session.ConnectTimeout)
		defer cancel()
	}
	if err := session.Connect(connectCtx, cfg.Session.Image, cfg.Session.Host, mode); err != nil {
		_ = session.Disconnect(ctx)
		return nil, err
	}

	opts := internal.DispatcherOptions{
		Session:   session,
		Config:    cfg,
		Snapshots: deps.Snapshots,
		Hook:      deps.Hook,
		Logger:    deps.Logger,
	}
	if opts.Snapshots == nil && cfg.Snapshot.Bucket != "" {
		store, err := snapshot.New(ctx, cfg.Snapshot)
		if err != nil {
			_ = session.Disconnect(ctx)
			return nil, fmt.Errorf("failed to create snapshot store: %w", err)
		}
		opts.Snapshots = store
	}
	if opts.Hook == nil && cfg.Telemetry.Enabled {
		opts.Hook = internal.NewOtelCallHook(internal.OtelConfig{Application: cfg.Session.Image})
	}
	if cfg.Journal.Path != "" {
		j, err := journal.Open(ctx, cfg.Journal)
		if err != nil {
			_ = session.Disconnect(ctx)
			return nil, fmt.Errorf("failed to open call journal: %w", err)
		}
		opts.Journal = j
	}

	zap.S().Infow("dispatcher ready", "backend", string(cfg.Session.Backend), "image", cfg.Session.Image,
		"lookup_metadata", cfg.Call.LookupMetadata, "journal", cfg.Journal.Path != "",
		"snapshots", opts.Snapshots != nil, "telemetry", cfg.Telemetry.Enabled)
	return internal.NewDispatcher(opts), nil
}

func newSession(ctx context.Context, cfg *orcall.Config, deps Dependencies) (orcall.Session, error) {
	switch cfg.Session.Backend {
	case orcall.BackendLoopback:
		registry := deps.Registry
		if registry == nil {
			registry = loopback.DemoRegistry()
		}
		s := loopback.NewSession(registry)
		if cfg.Catalogue.Procedure != "" && cfg.Catalogue.InterfaceParam != "" {
			s.WithMetadataProcedure(cfg.Catalogue.Procedure, cfg.Catalogue.InterfaceParam)
		}
		return s, nil
	case orcall.BackendPostgres:
		if deps.Pool != nil {
			return pgsession.New(deps.Pool, nil), nil
		}
		pool, err := pgsession.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		return pgsession.New(pool, pool.Close), nil
	}
	return nil, fmt.Errorf("unsupported backend %q", cfg.Session.Backend)
}
