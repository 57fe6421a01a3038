// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


// Package orchestrator provides the IndoClimate orchestrator service.
//
// This package contains the Service type that wires every component: the
// session store, query router, retrieval assembler, chat pipeline, messaging
// gateway, maintenance sweeps, HTTP routing and observability.
//
// # Usage
//
//	cfg, err := config.Load(config.Options{File: "orchestrator.yaml"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := orchestrator.New(*cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//	if err := svc.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Lightweight Mode
//
// Without a Weaviate URL the service runs every turn on the general path.
// Without a gateway URL the inbound webhook is not registered.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/AleutianAI/IndoClimate/services/llm"
	"github.com/AleutianAI/IndoClimate/services/orchestrator/config"
	"github.com/AleutianAI/IndoClimate/services/orchestrator/datatypes"
	"github.com/AleutianAI/IndoClimate/services/orchestrator/gateway"
	"github.com/AleutianAI/IndoClimate/services/orchestrator/middleware"
	"github.com/AleutianAI/IndoClimate/services/orchestrator/observability"
	"github.com/AleutianAI/IndoClimate/services/orchestrator/retrieval"
	"github.com/AleutianAI/IndoClimate/services/orchestrator/routes"
	"github.com/AleutianAI/IndoClimate/services/orchestrator/routing"
	"github.com/AleutianAI/IndoClimate/services/orchestrator/services"
	"github.com/AleutianAI/IndoClimate/services/orchestrator/sessions"
	"github.com/AleutianAI/IndoClimate/services/orchestrator/ttl"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service is the orchestrator lifecycle.
//
// # Thread Safety
//
// Run is called at most once. Router and Store are safe to call at any time.
type Service interface {
	// Run starts the sweeps and the HTTP server, blocking until ctx is
	// cancelled or the server fails. On cancellation the server drains for
	// up to server.shutdown_timeout before Run returns.
	Run(ctx context.Context) error

	// Router returns the configured Gin engine, for tests.
	Router() *gin.Engine

	// Store returns the session store.
	Store() *sessions.Store
}

// Dependencies overrides components New would otherwise build from the
// configuration. Nil fields are built from config.
//
// # Fields
//
//   - Classification, LongForm, ShortForm: Model clients per profile.
//   - VectorStore: Enables retrieval without a Weaviate URL.
//   - Sender: Enables the gateway webhook without a gateway URL.
//   - Registry: Metrics registry. Default: a fresh registry with the Go
//     and process collectors.
type Dependencies struct {
	Classification llm.Client
	LongForm       llm.Client
	ShortForm      llm.Client
	VectorStore    retrieval.VectorStore
	Sender         gateway.Sender
	Registry       *prometheus.Registry
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service.
//
// # Fields
//
//   - cfg: Validated configuration.
//   - store: Session store shared by every component.
//   - chat: Chat pipeline.
//   - gatewayTurns: Gateway pipeline, nil without a sender.
//   - scheduler: Maintenance sweeps, nil when disabled.
//   - metrics, registry: Nil when metrics are disabled.
//   - tracerCleanup: Flushes spans, nil without an OTLP endpoint.
type service struct {
	cfg           config.Config
	router        *gin.Engine
	store         *sessions.Store
	chat          *services.ChatRAGService
	gatewayTurns  *services.GatewayTurnService
	scheduler     ttl.Scheduler
	metrics       *observability.Metrics
	registry      *prometheus.Registry
	retrieval     bool
	tracerCleanup func(context.Context)
}

// =============================================================================
// Constructor
// =============================================================================

// New builds the service.
//
// # Description
//
// Initialization order:
//  1. OpenTelemetry tracing, when an endpoint is configured
//  2. Prometheus metrics, when enabled
//  3. Model clients for the three profiles
//  4. Session store and query router
//  5. Vector store and retrieval assembler (optional)
//  6. Chat pipeline
//  7. Messaging gateway (optional)
//  8. Maintenance scheduler
//  9. HTTP router
//
// A vector-store failure is not fatal; the service runs in lightweight
// mode.
//
// # Inputs
//
//   - cfg: Configuration. Validated again here.
//   - deps: Optional overrides. May be nil.
func New(cfg config.Config, deps *Dependencies) (Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps == nil {
		deps = &Dependencies{}
	}
	s := &service{cfg: cfg}

	if endpoint := cfg.Observability.OTelEndpoint; endpoint != "" {
		cleanup, err := observability.InitTracer(context.Background(), endpoint, cfg.Observability.ServiceName)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
		s.tracerCleanup = cleanup
	}

	if cfg.Observability.MetricsEnabled {
		s.registry = deps.Registry
		if s.registry == nil {
			s.registry = prometheus.NewRegistry()
			s.registry.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		}
		s.metrics = observability.NewMetrics(s.registry)
	}

	clients, err := s.initLLMClients(deps)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize LLM clients: %w", err)
	}

	s.store = sessions.NewStore(sessions.Config{WindowSize: cfg.Sessions.WindowSize})
	if s.metrics != nil {
		s.metrics.TrackSessions(s.store.Len)
	}

	router, err := routing.NewRouter(clients.classification, routing.Config{
		Timeout:    cfg.Retrieval.RouterTimeout,
		OnDecision: s.onDecision(),
	})
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to create router: %w", err)
	}

	var assembler services.Assembler
	if a := s.initAssembler(deps, clients.classification); a != nil {
		assembler = a
		s.retrieval = true
	}

	chatCfg := services.Config{TopK: cfg.Retrieval.TopK}
	if s.metrics != nil {
		chatCfg.OnTurnCommitted = func(action datatypes.RouteAction) {
			s.metrics.TurnCommitted(string(action))
		}
	}
	s.chat, err = services.NewChatRAGService(s.store, router, assembler, clients.longForm, clients.shortForm, chatCfg)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to create chat service: %w", err)
	}

	if err := s.initGateway(deps); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize gateway: %w", err)
	}

	if cfg.Maintenance.Enabled {
		if err := s.initScheduler(); err != nil {
			s.cleanup()
			return nil, fmt.Errorf("failed to initialize maintenance scheduler: %w", err)
		}
	}

	s.initRouter()
	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run implements Service.
func (s *service) Run(ctx context.Context) error {
	defer s.cleanup()

	if s.scheduler != nil {
		if err := s.scheduler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start maintenance scheduler: %w", err)
		}
	}

	server := &http.Server{
		Addr:    s.cfg.Server.Addr(),
		Handler: s.router,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Starting orchestrator server",
			"port", s.cfg.Server.Port,
			"retrieval", s.retrieval,
			"gateway", s.gatewayTurns != nil)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Shutting down orchestrator server", "grace", s.cfg.Server.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// Router implements Service.
func (s *service) Router() *gin.Engine {
	return s.router
}

// Store implements Service.
func (s *service) Store() *sessions.Store {
	return s.store
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

type profileClients struct {
	classification llm.Client
	longForm       llm.Client
	shortForm      llm.Client
}

// initLLMClients builds one client per profile, each reporting to the
// metrics observer under its profile name.
func (s *service) initLLMClients(deps *Dependencies) (profileClients, error) {
	var obs llm.Observer
	if s.metrics != nil {
		obs = s.metrics.LLMCall
	}

	build := func(override llm.Client, profile llm.Profile, model string) (llm.Client, error) {
		if override != nil {
			return llm.WithObserver(override, profile.Name, obs), nil
		}
		backend := LLMBackend(s.cfg.LLM)
		if model != "" {
			backend.Model = model
		}
		c, err := llm.NewClient(backend, profile)
		if err != nil {
			return nil, fmt.Errorf("%s profile: %w", profile.Name, err)
		}
		return llm.WithObserver(c, profile.Name, obs), nil
	}

	tokens := s.cfg.LLM.MaxTokens
	classification := llm.ProfileClassification
	classification.MaxTokens = tokens.Classification
	longForm := llm.ProfileLongForm
	longForm.MaxTokens = tokens.LongForm
	shortForm := llm.ProfileShortForm
	shortForm.MaxTokens = tokens.ShortForm

	var (
		out profileClients
		err error
	)
	if out.classification, err = build(deps.Classification, classification, s.cfg.LLM.ClassificationModel); err != nil {
		return out, err
	}
	if out.longForm, err = build(deps.LongForm, longForm, ""); err != nil {
		return out, err
	}
	if out.shortForm, err = build(deps.ShortForm, shortForm, ""); err != nil {
		return out, err
	}

	slog.Info("LLM clients initialized",
		"backend", s.cfg.LLM.Backend,
		"model", s.cfg.LLM.Model)
	return out, nil
}

// initAssembler returns nil when no vector store is available.
func (s *service) initAssembler(deps *Dependencies, classification llm.Client) *retrieval.Assembler {
	store := deps.VectorStore
	if store == nil {
		if !s.cfg.Weaviate.Enabled() {
			slog.Info("Weaviate URL not configured, running in lightweight mode")
			return nil
		}
		ws, err := s.initWeaviate()
		if err != nil {
			slog.Warn("Weaviate initialization failed, running in lightweight mode", "error", err)
			return nil
		}
		store = ws
	}

	rc := retrieval.Config{
		TopK:              s.cfg.Retrieval.TopK,
		ExpandConcurrency: s.cfg.Retrieval.ExpandConcurrency,
		LookupTimeout:     s.cfg.Retrieval.LookupTimeout,
	}
	if s.metrics != nil {
		rc.OnFragments = s.metrics.FragmentsRetrieved
		rc.OnSelectionFallback = s.metrics.SelectionFellBack
	}
	evaluator := retrieval.NewEvaluator(classification, s.cfg.Retrieval.EvaluatorTimeout)
	assembler, err := retrieval.NewAssembler(store, evaluator, rc)
	if err != nil {
		slog.Warn("Retrieval assembler unavailable, running in lightweight mode", "error", err)
		return nil
	}
	return assembler
}

// initWeaviate connects to Weaviate and makes sure the schema exists.
func (s *service) initWeaviate() (*retrieval.WeaviateStore, error) {
	client, err := NewWeaviateClient(s.cfg.Weaviate)
	if err != nil {
		return nil, err
	}
	if err := datatypes.EnsureWeaviateSchema(context.Background(), client); err != nil {
		return nil, err
	}
	embedder, err := llm.NewEmbedder(EmbeddingBackend(s.cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	slog.Info("Weaviate client initialized", "url", s.cfg.Weaviate.URL)
	return retrieval.NewWeaviateStore(client, embedder)
}

// initGateway leaves gatewayTurns nil when no sender is available.
func (s *service) initGateway(deps *Dependencies) error {
	gc := s.cfg.Gateway
	sender := deps.Sender
	if sender == nil {
		if !gc.Enabled() {
			slog.Info("Gateway URL not configured, inbound webhook disabled")
			return nil
		}
		hs, err := gateway.NewHTTPSender(gateway.HTTPConfig{
			URL:           gc.URL,
			Token:         gc.Token,
			Timeout:       gc.SendTimeout,
			RatePerSecond: gc.RatePerSecond,
			Burst:         gc.Burst,
		})
		if err != nil {
			return err
		}
		sender = hs
	}

	turnCfg := services.GatewayConfig{
		SessionPrefix:  s.cfg.Sessions.GatewayPrefix,
		Timeout:        gc.Timeout,
		TimeoutApology: gc.TimeoutApology,
		FailureApology: gc.FailureApology,
	}
	if s.metrics != nil {
		turnCfg.OnOutcome = func(o services.GatewayOutcome) {
			s.metrics.GatewayTurn(string(o))
		}
	}

	deliverer := gateway.NewDeliverer(sender, gc.FailureApology)
	turns, err := services.NewGatewayTurnService(s.chat, deliverer, turnCfg)
	if err != nil {
		return err
	}
	s.gatewayTurns = turns
	return nil
}

func (s *service) initScheduler() error {
	mc := s.cfg.Maintenance
	sc := ttl.SchedulerConfig{
		Interval:            mc.Interval,
		GatewayPrefix:       s.cfg.Sessions.GatewayPrefix,
		InactivityThreshold: mc.InactivityThreshold,
		DisableInactivity:   !mc.InactivityEnabled,
	}
	if s.metrics != nil {
		sc.OnSweep = s.metrics.SweepCompleted
	}
	scheduler, err := ttl.NewScheduler(s.store, sc)
	if err != nil {
		return err
	}
	s.scheduler = scheduler
	return nil
}

// initRouter creates the Gin engine, applies middleware and registers
// routes.
func (s *service) initRouter() {
	gin.SetMode(s.cfg.Server.GinMode)
	s.router = gin.New()
	s.router.Use(
		gin.Recovery(),
		otelgin.Middleware(s.cfg.Observability.ServiceName),
		middleware.RequestContext(),
		middleware.AccessLog(),
	)

	deps := routes.Dependencies{
		Chat:             s.chat,
		RetrievalEnabled: s.retrieval,
	}
	if s.gatewayTurns != nil {
		deps.Gateway = s.gatewayTurns
	}
	if s.registry != nil {
		deps.Metrics = s.registry
	}
	routes.SetupRoutes(s.router, deps)
}

func (s *service) onDecision() routing.DecisionObserver {
	if s.metrics == nil {
		return nil
	}
	return func(d datatypes.RouteDecision) {
		s.metrics.RouteDecided(string(d.Action), d.Fallback)
	}
}

// cleanup stops the sweeps and flushes spans. Safe to call more than once.
func (s *service) cleanup() {
	if s.scheduler != nil {
		if err := s.scheduler.Stop(); err != nil {
			slog.Warn("Maintenance scheduler stop error", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
		s.tracerCleanup = nil
	}
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
