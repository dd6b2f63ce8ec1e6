// Command jarvisd wires the core's subsystems together: episodic and
// working-state storage, the tool sandbox and executor, the privacy
// wrapper, the hybrid retriever, the compiled workflow nodes, and the
// Controller FSM. Grounded on the teacher's root main.go for the overall
// shape (zap logger, health manager on an admin HTTP mux, Prometheus
// metrics endpoint, fsnotify-backed config hot-reload, graceful shutdown
// on SIGINT/SIGTERM) with every Shannon-specific piece (gRPC server,
// Temporal worker, Postgres, auth, vector DB) dropped: spec.md's
// Non-goals exclude HTTP/CLI/UI transport from this core, so jarvisd
// exposes no task-submission endpoint of its own — embedding programs
// call internal/controller.Controller.Run directly. What jarvisd does
// bring up is the ambient stack a real deployment still needs: health
// checks, metrics, and live policy/config reload.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	jarviscache "github.com/bentman/JARVISv5/internal/cache"
	"github.com/bentman/JARVISv5/internal/circuitbreaker"
	jarvisconfig "github.com/bentman/JARVISv5/internal/config"
	"github.com/bentman/JARVISv5/internal/controller"
	"github.com/bentman/JARVISv5/internal/episodic"
	"github.com/bentman/JARVISv5/internal/health"
	"github.com/bentman/JARVISv5/internal/memmgr"
	"github.com/bentman/JARVISv5/internal/policy"
	"github.com/bentman/JARVISv5/internal/retrieval"
	"github.com/bentman/JARVISv5/internal/sandbox"
	"github.com/bentman/JARVISv5/internal/security"
	"github.com/bentman/JARVISv5/internal/tools"
	"github.com/bentman/JARVISv5/internal/tracing"
	"github.com/bentman/JARVISv5/internal/workflow"
	"github.com/bentman/JARVISv5/internal/workingstate"
)

func main() {
	cfg, err := jarvisconfig.Load(getEnvOrDefault("ENV_FILE", ".env"))
	if err != nil {
		panic(err)
	}

	var logger *zap.Logger
	if cfg.Debug == jarvisconfig.DebugDev {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	tracingCfg := tracing.Config{
		Enabled:      os.Getenv("TRACING_ENABLED") == "true",
		ServiceName:  getEnvOrDefault("TRACING_SERVICE_NAME", "jarvisv5-core"),
		OTLPEndpoint: getEnvOrDefault("TRACING_OTLP_ENDPOINT", ""),
	}
	if err := tracing.Initialize(tracingCfg, logger); err != nil {
		logger.Warn("tracing initialization failed; continuing with a no-op tracer", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dataDir := getEnvOrDefault("DATA_DIR", "./data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		logger.Fatal("create data directory", zap.Error(err))
	}

	ep, err := episodic.Open(dataDir+"/episodic.db", logger)
	if err != nil {
		logger.Fatal("open episodic store", zap.Error(err))
	}
	defer ep.Close()

	ws, err := workingstate.Open(dataDir+"/working", dataDir+"/archive")
	if err != nil {
		logger.Fatal("open working-state store", zap.Error(err))
	}

	// The Semantic Store needs an injected embedder; the embedding model
	// itself is out of scope for this core (spec.md Non-goals), so this
	// process runs without one unless an embedding side-car is wired in
	// later. Retrieval and memory degrade to working-state + episodic only.
	mem := memmgr.New(ep, ws, nil)

	hm := health.NewManager(logger)
	adminMux := http.NewServeMux()
	health.NewHTTPHandler(hm, logger).RegisterRoutes(adminMux)
	adminMux.Handle("/metrics", promhttp.Handler())

	adminPort := getEnvOrDefaultInt("ADMIN_PORT", 8081)
	adminServer := &http.Server{
		Addr:         ":" + strconv.Itoa(adminPort),
		Handler:      adminMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("admin HTTP server listening", zap.Int("port", adminPort))
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin HTTP server failed", zap.Error(err))
		}
	}()
	go func() { _ = hm.Start(ctx) }()

	sb, err := sandbox.New(sandbox.Config{
		AllowedRoots:   []string{getEnvOrDefault("SANDBOX_ROOT", dataDir+"/sandbox")},
		AllowWrite:     true,
		AllowDelete:    false,
		MaxReadBytes:   10 << 20,
		MaxWriteBytes:  10 << 20,
		MaxListEntries: 1000,
		MaxVisited:     sandbox.DefaultMaxVisited,
	})
	if err != nil {
		logger.Fatal("construct sandbox", zap.Error(err))
	}

	registry := tools.NewRegistry()
	if err := tools.RegisterCoreFileTools(registry, sb); err != nil {
		logger.Fatal("register core file tools", zap.Error(err))
	}

	executorOpts := []tools.ExecutorOption{}

	var cache *jarviscache.Cache
	if cfg.Cache.Enabled {
		if addr := os.Getenv("REDIS_ADDR"); addr != "" {
			redisClient := redis.NewClient(&redis.Options{Addr: addr})
			cache = jarviscache.New(redisClient, logger, true)
			_ = hm.RegisterChecker(health.NewRedisHealthChecker(redisClient, cache.CircuitBreaker(), logger))
		} else {
			cache = jarviscache.New(nil, logger, false)
			logger.Warn("CACHE_ENABLED is true but REDIS_ADDR is unset; running cache-disabled")
		}
	}

	episodicCB := circuitbreaker.NewDatabaseWrapper(ep.DB(), logger, "episodic")
	_ = hm.RegisterChecker(health.NewDatabaseHealthChecker("episodic", ep.DB(), episodicCB, logger))

	if cfg.Security.EnablePIIDetection || cfg.Security.EnablePIIRedaction || cfg.Security.EnableSecurityAudit {
		audit, err := security.OpenAuditLog(dataDir + "/security_audit.jsonl")
		if err != nil {
			logger.Fatal("open security audit log", zap.Error(err))
		}
		wrapper := security.NewPrivacyWrapper(security.New(), audit)
		executorOpts = append(executorOpts, tools.WithPrivacyWrapper(wrapper))
	}

	var policyCfg *policy.Config
	if policyCfg = policy.LoadConfig(); policyCfg.Mode != policy.ModeOff {
		engine, err := policy.NewOPAEngine(policyCfg, logger)
		if err != nil {
			logger.Warn("policy engine init failed; continuing without it", zap.Error(err))
		} else {
			executorOpts = append(executorOpts, tools.WithPolicyEngine(engine))
		}
	}

	if cache != nil {
		executorOpts = append(executorOpts, tools.WithCache(cache, cfg.Cache.Enabled))
		executorOpts = append(executorOpts, tools.WithCacheTTL(time.Duration(cfg.Cache.ToolTTLSeconds)*time.Second))
	}

	externalRPS := getEnvOrDefaultFloat("EXTERNAL_TOOL_RATE_LIMIT_RPS", 2.0)
	externalBurst := getEnvOrDefaultInt("EXTERNAL_TOOL_RATE_LIMIT_BURST", 4)
	executorOpts = append(executorOpts, tools.WithExternalRateLimit(externalRPS, externalBurst))

	executor := tools.NewExecutor(registry, logger, executorOpts...)

	if policyCfg != nil && policyCfg.Mode != policy.ModeOff {
		if policyMgr, err := jarvisconfig.NewConfigManager(policyCfg.Path, logger); err != nil {
			logger.Warn("policy bundle watcher init failed; policy changes require a restart", zap.Error(err))
		} else {
			policyMgr.RegisterPolicyHandler(func() error {
				engine, err := policy.NewOPAEngine(policyCfg, logger)
				if err != nil {
					return err
				}
				executor.SetPolicyEngine(engine)
				logger.Info("policy bundle reloaded", zap.String("path", policyCfg.Path))
				return nil
			})
			if err := policyMgr.Start(ctx); err != nil {
				logger.Warn("policy bundle watcher failed to start; policy changes require a restart", zap.Error(err))
			} else {
				defer policyMgr.Stop()
			}
		}
	}

	var retriever *retrieval.Retriever
	if cfg.EnableHybridRetrieval {
		r, rerr := retrieval.New(mem, cfg.Retrieval)
		if rerr != nil {
			logger.Warn("hybrid retriever init failed; running without retrieval", zap.String("code", string(rerr.Code)))
		} else {
			retriever = r
		}
	}

	router := workflow.NewRouterNode()

	cb := workflow.NewContextBuilderNode(mem)
	cb.CacheEnabled = cfg.Cache.Enabled && cache != nil
	cb.Cache = cache
	cb.CacheTTL = time.Duration(cfg.Cache.ContextTTLSeconds) * time.Second
	cb.Retriever = retriever
	cb.RetrievalEnabled = cfg.EnableHybridRetrieval && retriever != nil

	toolCall := workflow.NewToolCallNode(executor)
	toolCall.AllowWriteSafe = true
	toolCall.AllowExternal = false

	var llmWorker *workflow.LLMWorkerNode
	if base := os.Getenv("LLM_SERVICE_URL"); base != "" {
		llmWorker = workflow.NewLLMWorkerNode(newHTTPLLMClient(base, logger), mem)
		hc := health.NewLLMServiceHealthChecker(base, logger)
		_ = hm.RegisterChecker(hc)
	} else {
		llmWorker = workflow.NewLLMWorkerNode(nil, mem)
		logger.Warn("LLM_SERVICE_URL not set; llm_worker will fail closed with llm_unavailable")
	}

	validator := workflow.NewValidatorNode()

	ctrl := controller.New(mem, router, cb, toolCall, llmWorker, validator)
	ctrl.Logger = logger

	_ = hm.RegisterChecker(health.NewCustomHealthChecker("controller", true, time.Second,
		func(context.Context) health.CheckResult {
			return health.CheckResult{Component: "controller", Status: health.StatusHealthy, Critical: true}
		}))
	logger.Info("controller wired and ready; task submission is driven by embedding code via controller.Controller.Run")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = adminServer.Shutdown(shutdownCtx)
	_ = hm.Stop()
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvOrDefaultFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
