// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gateway provides the HTTP review service for MisraFix.
//
// This package contains the main Service type that coordinates all
// components of the gateway: HTTP routing, the cppcheck analyzer, the
// LLM inference lane, the remediation pipeline, the embedded review UI,
// and observability infrastructure.
//
// # Usage
//
//	cfg := gateway.Config{Port: 7860, LLMBackend: "llamacpp"}
//	svc, err := gateway.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
//
// The same constructor backs both the standalone gateway binary and
// `misrafix serve`.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/MisraFix/services/analyzer"
	"github.com/AleutianAI/MisraFix/services/fixer/patch"
	"github.com/AleutianAI/MisraFix/services/fixer/pipeline"
	"github.com/AleutianAI/MisraFix/services/fixer/prompt"
	"github.com/AleutianAI/MisraFix/services/fixer/task"
	"github.com/AleutianAI/MisraFix/services/fixer/window"
	"github.com/AleutianAI/MisraFix/services/gateway/observability"
	"github.com/AleutianAI/MisraFix/services/gateway/routes"
	"github.com/AleutianAI/MisraFix/services/llm"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the gateway service.
//
// # Description
//
// Service abstracts the gateway lifecycle, enabling testing and
// alternative implementations. The interface follows the minimal surface
// area principle - only essential lifecycle methods are exposed.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and should
// only be called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	Run() error

	// Router returns the underlying Gin engine for testing.
	//
	// # Limitations
	//
	//   - Should not be used to modify routes after construction
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds gateway configuration options.
//
// # Description
//
// Config centralizes all configuration for the gateway service.
// Values can be populated from environment variables, the misrafix
// config file, or programmatically for testing.
//
// # Required Fields
//
// None - all fields have sensible defaults.
//
// # Examples
//
//	// Minimal config (uses all defaults)
//	cfg := Config{}
//
//	// Custom port and LLM backend
//	cfg := Config{
//	    Port:       8080,
//	    LLMBackend: "ollama",
//	    Model:      "codellama:7b-instruct",
//	}
type Config struct {
	// Port is the HTTP server port. Default: 7860 (the port the
	// original review UI served on).
	Port int

	// GinMode sets the Gin framework mode.
	// Valid values: "debug", "release", "test"
	// Default: uses GIN_MODE env var or "debug"
	GinMode string

	// LLMBackend specifies the inference provider.
	// Valid values: "llamacpp", "openai", "ollama"
	// Default: "llamacpp"
	LLMBackend string

	// LLMBaseURL is the inference server base URL. Empty falls back to
	// the backend's own default (LLM_SERVICE_URL_BASE for llamacpp,
	// localhost:11434 for ollama).
	LLMBaseURL string

	// Model names the model for the ollama and openai backends.
	Model string

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "localhost:4317"
	OTelEndpoint string

	// TraceStdout prints spans to stdout instead of exporting over
	// OTLP. For local debugging without a collector.
	TraceStdout bool

	// DisableMetrics turns off the Prometheus /metrics endpoint.
	DisableMetrics bool

	// UploadLimitKB caps uploaded file size. Default: 512.
	UploadLimitKB int

	// RateLimitRPS is the per-client API rate limit. Default: 20.
	// Negative disables limiting.
	RateLimitRPS float64

	// CppcheckBinary overrides the cppcheck executable path.
	CppcheckBinary string

	// AnalyzerTimeout bounds a single cppcheck run.
	AnalyzerTimeout time.Duration

	// MaxRetries is the per-task retry bound. Zero uses the pipeline
	// default.
	MaxRetries int

	// WidenStep is how many lines each retry adds to the context
	// window. Zero uses the pipeline default.
	WidenStep int

	// ContextRadius is the fallback window radius in lines. Zero uses
	// the window default.
	ContextRadius int

	// TokenBudget caps the context window token estimate. Zero uses
	// the window default.
	TokenBudget int

	// MaxConcurrentTasks bounds tasks in flight per session. Zero uses
	// the pipeline default.
	MaxConcurrentTasks int

	// RequestTimeout bounds a single generation call. Zero uses the
	// lane default.
	RequestTimeout time.Duration

	// CacheSize is the completion cache capacity in entries. Zero uses
	// the cache default.
	CacheSize int

	// WorkspaceRoot is where per-session upload dirs are created.
	// Empty uses the system temp dir.
	WorkspaceRoot string
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// # Description
//
// service is the main implementation that coordinates:
//   - HTTP routing via Gin
//   - cppcheck extraction
//   - LLM client and the serialized inference lane
//   - The remediation pipeline (coordinator, aggregator, manager)
//   - OpenTelemetry tracing
//   - Prometheus metrics
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New()
// returns.
type service struct {
	config        Config
	router        *gin.Engine
	analyzer      *analyzer.Runner
	llmClient     llm.LLMClient
	llmClose      func()
	lane          *llm.Lane
	manager       *pipeline.Manager
	store         *pipeline.Store
	metrics       http.Handler
	tracerCleanup func(context.Context)
}

var _ Service = (*service)(nil)

// =============================================================================
// Constructor
// =============================================================================

// New creates a new gateway Service with the given configuration.
//
// # Description
//
// New initializes all gateway components:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry tracing
//  3. Initializes Prometheus metrics and the OTel bridge
//  4. Creates the cppcheck runner and verifies the installation
//  5. Creates the LLM client, completion cache, and inference lane
//  6. Builds the remediation pipeline and session manager
//  7. Sets up HTTP routes
//
// # Outputs
//
//   - Service: Ready-to-run gateway service
//   - error: Non-nil if initialization fails
//
// # Limitations
//
//   - An unsupported cppcheck is a warning, not an error; uploads fail
//     with an analyzer error until it is installed.
//
// # Assumptions
//
//   - Environment variables are set for the chosen LLM provider
//     (API keys, URLs) when the config leaves them empty.
func New(cfg Config) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
	}

	// Initialize OpenTelemetry tracer
	cleanup, err := observability.InitTracer(observability.TracerConfig{
		ServiceName: "misrafix-gateway",
		Endpoint:    s.config.OTelEndpoint,
		Stdout:      s.config.TraceStdout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	// Initialize Prometheus metrics and the OTel bridge
	if !s.config.DisableMetrics {
		if observability.DefaultMetrics == nil {
			observability.InitMetrics()
		}
		handler, err := observability.MetricsHandler()
		if err != nil {
			s.cleanup()
			return nil, fmt.Errorf("failed to initialize metrics: %w", err)
		}
		s.metrics = handler
		slog.Info("Initialized Prometheus metrics for the gateway")
	}

	// Initialize the analyzer
	s.initAnalyzer()

	// Initialize LLM client and inference lane
	if err := s.initLLMClient(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	// Build the remediation pipeline
	s.initManager()

	// Setup HTTP router
	s.initRouter()

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until shutdown or error.
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting gateway server", "port", s.config.Port)

	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 7860
	}
	if cfg.LLMBackend == "" {
		cfg.LLMBackend = "llamacpp"
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "localhost:4317"
	}
	if cfg.UploadLimitKB == 0 {
		cfg.UploadLimitKB = 512
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 20
	}
	return cfg
}

// initAnalyzer creates the cppcheck runner and checks the installation.
//
// A missing or outdated cppcheck does not fail startup: the gateway can
// still serve its UI and report the problem on each upload. CI setups
// that need a hard failure run `misrafix check` first.
func (s *service) initAnalyzer() {
	var opts []analyzer.Option
	if s.config.CppcheckBinary != "" {
		opts = append(opts, analyzer.WithBinary(s.config.CppcheckBinary))
	}
	if s.config.AnalyzerTimeout > 0 {
		opts = append(opts, analyzer.WithTimeout(s.config.AnalyzerTimeout))
	}
	s.analyzer = analyzer.NewRunner(opts...)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.analyzer.EnsureSupported(ctx); err != nil {
		slog.Warn("cppcheck check failed; uploads will fail until it is fixed",
			"error", err)
		return
	}
	if v, err := s.analyzer.Version(ctx); err == nil {
		slog.Info("cppcheck available", "version", v)
	}
}

// initLLMClient initializes the inference provider client.
//
// # Description
//
// Creates the appropriate LLM client based on the configured backend
// type, wraps it in the completion cache, and parks it behind the
// serialized inference lane.
//
// # Limitations
//
//   - Only supports: llamacpp, openai, ollama
//
// # Assumptions
//
//   - Required environment variables are set for the chosen provider
func (s *service) initLLMClient() error {
	var (
		client llm.LLMClient
		err    error
	)

	switch s.config.LLMBackend {
	case "llamacpp":
		client, err = llm.NewLocalLlamaCppClient(s.config.LLMBaseURL)
		slog.Info("Using llama.cpp LLM backend")
	case "openai":
		oc, ocErr := llm.NewOpenAICompatClient(
			s.config.LLMBaseURL, s.config.Model, llm.KeyEnclaveFromEnv())
		if ocErr == nil {
			s.llmClose = oc.Close
		}
		client, err = oc, ocErr
		slog.Info("Using OpenAI-compatible LLM backend", "model", s.config.Model)
	case "ollama":
		client, err = llm.NewOllamaClient(s.config.LLMBaseURL, s.config.Model)
		slog.Info("Using Ollama LLM backend", "model", s.config.Model)
	default:
		slog.Warn("Unknown LLM backend, defaulting to llamacpp",
			"backend", s.config.LLMBackend)
		client, err = llm.NewLocalLlamaCppClient(s.config.LLMBaseURL)
	}
	if err != nil {
		return err
	}

	cached, err := llm.NewCachedClient(client, prompt.TemplateVersion, s.config.CacheSize)
	if err != nil {
		return err
	}
	s.llmClient = cached

	var laneOpts []llm.LaneOption
	if s.config.RequestTimeout > 0 {
		laneOpts = append(laneOpts, llm.WithRequestTimeout(s.config.RequestTimeout))
	}
	s.lane = llm.NewLane(cached, laneOpts...)

	return nil
}

// initManager builds the remediation pipeline and session manager.
//
// The coordinator publishes every task transition into the shared
// session store, which is what the events websocket subscribes to.
func (s *service) initManager() {
	var windowOpts []window.Option
	if s.config.ContextRadius > 0 {
		windowOpts = append(windowOpts, window.WithRadius(s.config.ContextRadius))
	}
	if s.config.TokenBudget > 0 {
		windowOpts = append(windowOpts, window.WithTokenBudget(s.config.TokenBudget))
	}

	s.store = pipeline.NewStore()

	coordOpts := []pipeline.CoordinatorOption{
		pipeline.WithTransitionHook(func(t *task.Task) {
			if sess, _, ok := s.store.FindTask(t.ID); ok {
				sess.Publish(t)
			}
		}),
	}
	if s.config.MaxRetries > 0 {
		coordOpts = append(coordOpts, pipeline.WithMaxRetries(s.config.MaxRetries))
	}
	if s.config.WidenStep > 0 {
		coordOpts = append(coordOpts, pipeline.WithWidenStep(s.config.WidenStep))
	}

	coordinator := pipeline.NewCoordinator(
		window.NewBuilder(windowOpts...),
		prompt.NewComposer(),
		s.lane,
		patch.NewValidator(s.analyzer),
		coordOpts...,
	)

	managerOpts := []pipeline.ManagerOption{
		pipeline.WithStore(s.store),
	}
	if s.config.MaxConcurrentTasks > 0 {
		managerOpts = append(managerOpts,
			pipeline.WithMaxConcurrentTasks(s.config.MaxConcurrentTasks))
	}
	if s.config.WorkspaceRoot != "" {
		managerOpts = append(managerOpts,
			pipeline.WithWorkspaceRoot(s.config.WorkspaceRoot))
	}

	s.manager = pipeline.NewManager(
		s.analyzer, coordinator, pipeline.NewAggregator(), managerOpts...)
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("misrafix-gateway"))

	routes.SetupRoutes(s.router, s.manager, s.metrics,
		s.config.UploadLimitKB*1024, s.config.RateLimitRPS)
}

// cleanup releases all resources held by the service.
//
// Called when Run() exits or on initialization failure. Shuts down the
// session manager (stopping watchers and removing session workspaces),
// closes the LLM client, and flushes the tracer.
func (s *service) cleanup() {
	if s.manager != nil {
		s.manager.Shutdown()
	}

	if s.llmClose != nil {
		s.llmClose()
	}

	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}
