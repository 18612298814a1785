// Package server wires the HTTP trigger/review surface and the scheduler.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/prospector-io/prospector/config"
	"github.com/prospector-io/prospector/internal/ads"
	"github.com/prospector-io/prospector/internal/adsplatform"
	"github.com/prospector-io/prospector/internal/agent"
	"github.com/prospector-io/prospector/internal/guardrails"
	"github.com/prospector-io/prospector/internal/keywords"
	"github.com/prospector-io/prospector/internal/orchestrator"
	"github.com/prospector-io/prospector/internal/ratelimit"
	"github.com/prospector-io/prospector/internal/reddit"
	"github.com/prospector-io/prospector/internal/signals"
	"github.com/prospector-io/prospector/internal/store"
	"github.com/prospector-io/prospector/internal/telemetry"
	"github.com/prospector-io/prospector/internal/trends"
)

// App carries the wired components behind the HTTP surface.
type App struct {
	cfg     *config.Config
	store   *store.Store
	orch    *orchestrator.Orchestrator
	recs    *ads.Recommender
	sync    *ads.Syncer
	trends  *trends.Detector
	ads     *adsplatform.Client
	bus     *signals.Bus
	tracker *telemetry.Tracker
	limiter *ratelimit.Limiter
	logger  *log.Logger
}

// Run builds the full dependency graph, starts the scheduler and serves
// until the listener fails.
func Run(cfg *config.Config) error {
	ctx := context.Background()
	logger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)

	dsn, err := cfg.Databases.Postgres.DSN()
	if err != nil {
		return err
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}

	var rdb *redis.Client
	if cfg.Databases.Redis.Host != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Databases.Redis.Addr(),
			Password: cfg.Databases.Redis.Password,
			DB:       cfg.Databases.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed (%s): %w", cfg.Databases.Redis.Addr(), err)
		}
	}

	// One limiter for every outbound platform call in the process.
	limiter := ratelimit.NewDefault()
	creds := reddit.NewTokenSource(cfg.Reddit, st)
	reader := reddit.NewClient(cfg.Reddit, limiter, creds)
	adsClient := adsplatform.NewClient(cfg.Ads, limiter, creds)

	bus := signals.New(st, rdb, cfg.General.AgentName)
	engine := guardrails.NewEngine(st, st, cfg.Guardrails, cfg.General.BrandName)
	kwCache := keywords.NewCache(st, cfg.Guardrails.CacheTTL)
	tracker := telemetry.NewTracker(cfg.LLM.CostPer1KInput, cfg.LLM.CostPer1KOutput, cfg.Telemetry.CostTracking)

	provider := agent.NewOpenAIProvider(cfg.LLM)
	registry := agent.NewInvestigationRegistry(agent.ToolDeps{
		Reader:      reader,
		Store:       st,
		Validator:   engine,
		Competitors: cfg.General.Competitors,
	})
	loop := agent.NewLoop(provider, registry, agent.Budget{
		MaxToolCalls: cfg.Agent.MaxToolCalls,
		MaxWallClock: cfg.Agent.MaxWallClock,
	}, nil, tracker)

	app := &App{
		cfg:   cfg,
		store: st,
		orch: orchestrator.New(reader, st, kwCache, engine, loop, bus, cfg.Scan,
			log.New(log.Writer(), "[ORCH] ", log.LstdFlags)),
		recs: ads.NewRecommender(provider, st, engine, bus, agent.Budget{
			MaxToolCalls: cfg.Agent.AdsMaxToolCalls,
			MaxWallClock: cfg.Agent.AdsMaxWallClock,
		}, nil),
		sync:    ads.NewSyncer(st, adsClient, engine, bus, nil),
		trends:  trends.NewDetector(st, bus, nil),
		ads:     adsClient,
		bus:     bus,
		tracker: tracker,
		limiter: limiter,
		logger:  logger,
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	app.registerRoutes(e)

	sched := &Scheduler{
		App:    app,
		Rdb:    rdb,
		Stop:   make(chan struct{}),
		Logger: log.New(log.Writer(), "[SCHED] ", log.LstdFlags),
	}
	sched.Start()

	addr := cfg.Server.Listen
	logger.Printf("listening on %s", addr)
	return e.Start(addr)
}

func (a *App) registerRoutes(e *echo.Echo) {
	api := e.Group("/api")

	jobs := api.Group("/jobs")
	jobs.Use(a.jobAuth)
	jobs.POST("/scan", a.handleScanJob)
	jobs.POST("/ads-sync", a.handleAdsSyncJob)
	jobs.POST("/trends", a.handleTrendsJob)

	decisions := api.Group("/decisions")
	decisions.Use(a.jwtAuth)
	decisions.GET("", a.handleListDecisions)
	decisions.POST("/:id/approve", a.handleApprove)
	decisions.POST("/:id/reject", a.handleReject)

	diag := api.Group("/diagnostics")
	diag.Use(a.jwtAuth)
	diag.GET("/usage", a.handleUsage)
	diag.GET("/audit", a.handleAudit)
	diag.GET("/signals", a.handleSignals)
}

// handleUsage reports LLM token/cost totals and the limiter snapshot.
func (a *App) handleUsage(c echo.Context) error {
	in, out, cost := a.tracker.Totals()
	resp := map[string]interface{}{
		"llm_input_tokens":  in,
		"llm_output_tokens": out,
		"llm_cost_usd":      cost,
	}
	if a.limiter != nil {
		remaining, used, resetAt := a.limiter.Snapshot()
		resp["rate_limit"] = map[string]interface{}{
			"remaining": remaining,
			"used":      used,
			"reset_at":  resetAt,
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// handleSignals tails the signal bus for operators: last 24 hours, optional
// topic substring filter.
func (a *App) handleSignals(c echo.Context) error {
	events, err := a.bus.Recent(c.Request().Context(), c.QueryParam("topic"), 24*time.Hour, 100)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"events": events})
}

func (a *App) handleAudit(c echo.Context) error {
	entries, err := a.store.RecentAudit(c.Request().Context(), 100)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"entries": entries})
}

// jobTimeout bounds a single triggered job run.
const jobTimeout = 10 * time.Minute

func (a *App) handleScanJob(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), jobTimeout)
	defer cancel()
	res, err := a.orch.RunScan(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}

func (a *App) handleAdsSyncJob(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), jobTimeout)
	defer cancel()
	syncRes, err := a.sync.Run(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	recRes, err := a.recs.Run(ctx)
	if err != nil {
		a.logger.Printf("recommendation cycle failed: %v", err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"sync":            syncRes,
		"recommendations": recRes,
	})
}

func (a *App) handleTrendsJob(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), jobTimeout)
	defer cancel()
	digest, err := a.trends.Run(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, digest)
}
