package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opentalon/tutorflow/internal/api"
	"github.com/opentalon/tutorflow/internal/audit"
	"github.com/opentalon/tutorflow/internal/catalog"
	"github.com/opentalon/tutorflow/internal/config"
	"github.com/opentalon/tutorflow/internal/extractor"
	"github.com/opentalon/tutorflow/internal/failover"
	"github.com/opentalon/tutorflow/internal/metrics"
	"github.com/opentalon/tutorflow/internal/oracle"
	"github.com/opentalon/tutorflow/internal/provider"
	"github.com/opentalon/tutorflow/internal/router"
	"github.com/opentalon/tutorflow/internal/version"
	"github.com/opentalon/tutorflow/internal/workflow"
)

// app holds the wired components of one process.
type app struct {
	catalog  *catalog.Catalog
	workflow *workflow.Workflow
	metrics  *metrics.Metrics
	history  *audit.Store
	closers  []func()
}

// close releases resources in reverse acquisition order.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *app) router(cfg *config.Config, logger *slog.Logger) http.Handler {
	opts := api.Options{
		Catalog:        a.catalog,
		RequestTimeout: cfg.Server.RequestTimeout,
		Version:        version.Get().Version,
		Logger:         logger,
	}
	if a.metrics != nil {
		opts.Metrics = a.metrics.Handler()
	}
	if a.history != nil {
		opts.History = a.history
	}
	return api.NewRouter(a.workflow, opts)
}

func build(cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{}
	ready := false
	defer func() {
		if !ready {
			a.close()
		}
	}()

	a.catalog = catalog.Default()
	if cfg.Catalog.Path != "" {
		cat, err := catalog.Load(cfg.Catalog.Path)
		if err != nil {
			return nil, err
		}
		a.catalog = cat
	}

	var recorder oracle.Recorder
	if cfg.Metrics.On() {
		a.metrics = metrics.New()
		recorder = a.metrics
	}

	completer, err := buildFailover(cfg, logger)
	if err != nil {
		return nil, err
	}
	var orc oracle.Oracle = oracle.NewLLM(completer, oracle.Options{
		Temperature: cfg.Oracle.Temperature,
		Timeout:     cfg.Oracle.Timeout,
		MaxTokens:   cfg.Oracle.MaxTokens,
		Recorder:    recorder,
		Logger:      logger,
	})
	if cfg.Cache.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.Cache.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("cache.redis_url: %w", err)
		}
		rdb := redis.NewClient(opt)
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, oracle cache will be bypassed until it recovers", "err", err)
		}
		cancel()
		orc = oracle.NewCached(orc, rdb, cfg.Cache.TTL, recorder, logger)
	}

	ext, err := extractor.New(a.catalog, orc, extractor.Options{
		Profile: cfg.Profile,
		Rules:   cfg.Extractor.Rules,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	rt := router.New(a.catalog, orc, router.Options{
		FilterUnknown: cfg.Router.FilterUnknown,
		Rules:         cfg.Router.Rules,
		Logger:        logger,
	})

	var observers []workflow.Observer
	if a.metrics != nil {
		observers = append(observers, a.metrics)
	}
	if cfg.Audit.Driver != "" {
		db, err := audit.Open(cfg.Audit.Driver, cfg.Audit.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = db.Close() })
		a.history = audit.NewStore(db)
		observers = append(observers, audit.NewRecorder(a.history, logger))

		ret, err := audit.NewRetention(a.history, cfg.Audit.Retention, cfg.Audit.PruneSchedule, logger)
		if err != nil {
			return nil, err
		}
		ret.Start()
		a.closers = append(a.closers, ret.Stop)
	}

	a.workflow = workflow.New(rt, ext, workflow.Options{
		MaxTools:  cfg.Workflow.MaxTools,
		Observers: observers,
		Logger:    logger,
	})
	logger.Info("orchestrator ready",
		"tools", a.catalog.Len(),
		"primary", cfg.Oracle.Primary,
		"fallbacks", cfg.Oracle.Fallbacks,
		"cache", cfg.Cache.RedisURL != "",
		"audit", cfg.Audit.Driver,
	)
	ready = true
	return a, nil
}

func buildFailover(cfg *config.Config, logger *slog.Logger) (*failover.Controller, error) {
	registry := provider.NewRegistry()
	names := make([]string, 0, len(cfg.Oracle.Providers))
	for name := range cfg.Oracle.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		pc := cfg.Oracle.Providers[name]
		models := make([]provider.ModelInfo, len(pc.Models))
		for i, m := range pc.Models {
			models[i] = provider.ModelInfo{ID: m.ID, Name: m.Name, ProviderID: name, MaxTokens: m.MaxTokens}
		}
		p, err := provider.FromConfig(provider.ProviderConfig{
			ID:        name,
			BaseURL:   pc.BaseURL,
			APIKey:    pc.APIKey,
			API:       pc.API,
			Models:    models,
			UserAgent: version.Get().UserAgent(),
		})
		if err != nil {
			return nil, err
		}
		if err := registry.Register(p); err != nil {
			return nil, err
		}
	}

	primary, err := provider.ParseModelRef(cfg.Oracle.Primary)
	if err != nil {
		return nil, fmt.Errorf("oracle.primary: %w", err)
	}
	fallbacks := make([]provider.ModelRef, 0, len(cfg.Oracle.Fallbacks))
	for _, f := range cfg.Oracle.Fallbacks {
		ref, err := provider.ParseModelRef(f)
		if err != nil {
			return nil, fmt.Errorf("oracle.fallbacks: %w", err)
		}
		fallbacks = append(fallbacks, ref)
	}
	cooldowns := failover.NewCooldowns(failover.CooldownConfig{
		Initial:    cfg.Oracle.Cooldown.Initial,
		Max:        cfg.Oracle.Cooldown.Max,
		Multiplier: cfg.Oracle.Cooldown.Multiplier,
	})
	return failover.NewController(registry, cooldowns, primary, fallbacks, logger), nil
}
