package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quorumhq/quorum/config"
	"github.com/quorumhq/quorum/internal/debate"
	"github.com/quorumhq/quorum/internal/embedding"
	"github.com/quorumhq/quorum/internal/llm"
	"github.com/quorumhq/quorum/internal/memory"
	"github.com/quorumhq/quorum/internal/persona"
	"github.com/quorumhq/quorum/internal/retrieval"
	"github.com/quorumhq/quorum/internal/store"
	"github.com/quorumhq/quorum/internal/synthesis"
	"github.com/quorumhq/quorum/internal/telemetry"
)

// Run wires all dependencies and serves the HTTP API until the listener
// fails or the process exits.
func Run(cfg *config.Config, addr string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
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
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx := context.Background()
	dsn := cfg.Storage.Postgres.DSN()
	_ = Migrate("file://migrations", dsn, "up", 0)

	st, err := store.New(ctx, dsn)
	if err != nil {
		return err
	}

	provider, err := llm.NewOpenAIProvider(cfg.LLM)
	if err != nil {
		return err
	}
	gateway := embedding.NewGateway(provider)
	retriever := retrieval.NewRetriever(st, gateway, cfg.Retrieval.TopK, cfg.Retrieval.SimilarityThreshold)

	var cache *memory.SummaryCache
	if cfg.Storage.Redis.Enabled() {
		cache, err = memory.NewSummaryCache(ctx,
			cfg.Storage.Redis.Host, cfg.Storage.Redis.Port,
			cfg.Storage.Redis.Password, cfg.Storage.Redis.DB,
			cfg.Memory.SummaryCacheTTL)
		if err != nil {
			return fmt.Errorf("redis connection failed (%s:%s): %w",
				cfg.Storage.Redis.Host, cfg.Storage.Redis.Port, err)
		}
	}

	memLogger := log.New(log.Writer(), "[MEMORY] ", log.LstdFlags)
	memSvc := memory.NewService(st, gateway, provider, cache, cfg.Memory, embedding.CosineSimilarity, memLogger)

	synth := synthesis.NewSynthesizer(provider, log.New(log.Writer(), "[SYNTH] ", log.LstdFlags))
	engine := persona.NewEngine(st, retriever, provider, cfg.Agents,
		log.New(log.Writer(), "[PERSONA] ", log.LstdFlags))
	coordinator := debate.NewCoordinator(engine, provider, cfg.Agents,
		log.New(log.Writer(), "[DEBATE] ", log.LstdFlags))
	tele := telemetry.New(cfg.Telemetry)
	engine.SetTelemetry(tele)

	secret := cfg.Server.JWTSecret
	if secret == "" {
		return fmt.Errorf("jwt secret not configured (server.jwt_secret)")
	}

	api := e.Group("/api")
	ask := &AskHandler{Engine: engine, Retriever: retriever, Synthesizer: synth, Memory: memSvc, Telemetry: tele}
	ask.Register(api.Group("/ask"), []byte(secret))
	deb := &DebateHandler{Coordinator: coordinator, Memory: memSvc, Telemetry: tele}
	deb.Register(api.Group("/debate"), []byte(secret))
	ag := &AgentsHandler{Store: st}
	ag.Register(api.Group("/agents"), []byte(secret))
	sess := &SessionsHandler{Memory: memSvc}
	sess.Register(api.Group("/sessions"), []byte(secret))
	ops := &OpsHandler{Telemetry: tele}
	ops.Register(api.Group("/ops"), []byte(secret))

	if addr == "" {
		addr = cfg.Server.Address
		if addr != "" && addr[0] != ':' {
			addr = ":" + addr
		}
		if addr == "" {
			addr = ":10001"
		}
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}
