package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/MikeSquared-Agency/LeadRouter/internal/broker"
	"github.com/MikeSquared-Agency/LeadRouter/internal/capacity"
	"github.com/MikeSquared-Agency/LeadRouter/internal/config"
	"github.com/MikeSquared-Agency/LeadRouter/internal/crm"
	"github.com/MikeSquared-Agency/LeadRouter/internal/hermes"
	"github.com/MikeSquared-Agency/LeadRouter/internal/proposal"
	"github.com/MikeSquared-Agency/LeadRouter/internal/store"
)

// connector is what the engine needs from the CRM.
type connector interface {
	crm.SnapshotProvider
	crm.WriteBackSink
}

// app holds the wired components and their cleanup.
type app struct {
	store   store.Store
	hermes  hermes.Client
	broker  *broker.Broker
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// buildApp wires storage, counters, events and the CRM from config. Empty
// database or redis URLs fall back to in-memory implementations; events
// are optional.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, memory bool) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	// Store
	if cfg.Database.URL == "" || memory {
		a.store = store.NewMemoryStore()
		logger.Info("using in-memory proposal store")
	} else {
		db, err := store.NewPostgresStore(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		a.closers = append(a.closers, func() { db.Close() })
		if err := db.Migrate(ctx); err != nil {
			return nil, err
		}
		a.store = db
		logger.Info("connected to database")
	}

	// Capacity counters
	var counters capacity.CounterStore
	if cfg.Redis.URL == "" || memory {
		counters = capacity.NewMemoryCounterStore()
	} else {
		rdb, err := capacity.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { rdb.Close() })
		counters = capacity.NewRedisCounterStore(rdb)
		logger.Info("connected to redis")
	}
	tracker := capacity.NewTracker(counters, logger.With("component", "capacity"))

	// Hermes (optional)
	a.hermes = hermes.NopClient{}
	if cfg.Hermes.URL != "" {
		hc, err := hermes.NewNATSClient(ctx, cfg.Hermes.URL, logger)
		if err != nil {
			logger.Warn("failed to connect to hermes, running without events", "error", err)
		} else {
			a.hermes = hc
			a.closers = append(a.closers, hc.Close)
			logger.Info("connected to hermes")
		}
	}

	// CRM
	conn, err := newConnector(cfg)
	if err != nil {
		return nil, err
	}

	mgr := proposal.NewManager(a.store, conn, tracker, a.hermes, cfg.WriteBackTimeout(), logger)
	a.broker = broker.New(a.store, conn, mgr, tracker, a.hermes, cfg, logger)
	ok = true
	return a, nil
}

func newConnector(cfg *config.Config) (connector, error) {
	if cfg.CRM.SnapshotPath != "" {
		f, err := os.Open(cfg.CRM.SnapshotPath)
		if err != nil {
			return nil, fmt.Errorf("open snapshot: %w", err)
		}
		defer f.Close()
		snap, err := crm.LoadSnapshot(f)
		if err != nil {
			return nil, err
		}
		provider := crm.NewMemoryProvider()
		for _, tenant := range cfg.Routing.Tenants {
			provider.Load(tenant, snap)
		}
		return provider, nil
	}
	if cfg.CRM.URL == "" {
		return nil, fmt.Errorf("crm.url or crm.snapshot_path is required")
	}
	return crm.NewHTTPClient(cfg.CRM.URL, cfg.CRM.Token, cfg.CRMTimeout()), nil
}
