// Command ceneca runs the cross-data-source query orchestration service: the
// auth endpoints, the query endpoints, and the workflow engine behind them.
//
// Configuration comes from a YAML file (see package config). A few
// deployment concerns are wired from the environment:
//
//	CENECA_REDIS_ADDR      Redis address; enables the Redis session store
//	                       and the Pulse event sink
//	CENECA_REGISTRY_DSN    Postgres DSN; enables the relational registry
//	ANTHROPIC_API_KEY      enables the Anthropic completion provider
//	OPENAI_API_KEY         enables the OpenAI completion provider
//
// Without Redis and Postgres the service runs fully in-memory, which is the
// development default. Without any API key the model-assisted phases fall
// back to their heuristics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"goa.design/clue/log"

	"github.com/cenecahq/ceneca/adapter"
	"github.com/cenecahq/ceneca/auth/gate"
	authapi "github.com/cenecahq/ceneca/auth/httpapi"
	"github.com/cenecahq/ceneca/auth/oidc"
	"github.com/cenecahq/ceneca/auth/session"
	sessioninmem "github.com/cenecahq/ceneca/auth/session/inmem"
	sessionredis "github.com/cenecahq/ceneca/auth/session/redis"
	"github.com/cenecahq/ceneca/completion"
	"github.com/cenecahq/ceneca/completion/anthropic"
	"github.com/cenecahq/ceneca/completion/middleware"
	"github.com/cenecahq/ceneca/completion/openai"
	"github.com/cenecahq/ceneca/config"
	pulsesink "github.com/cenecahq/ceneca/features/stream/pulse"
	clientspulse "github.com/cenecahq/ceneca/features/stream/pulse/clients/pulse"
	"github.com/cenecahq/ceneca/registry"
	registryinmem "github.com/cenecahq/ceneca/registry/inmem"
	registrypg "github.com/cenecahq/ceneca/registry/postgres"
	"github.com/cenecahq/ceneca/telemetry"
	queryapi "github.com/cenecahq/ceneca/workflow/httpapi"
	"github.com/cenecahq/ceneca/workflow/nodes"
	"github.com/cenecahq/ceneca/workflow/orchestrator"
	"github.com/cenecahq/ceneca/workflow/output"
	"github.com/cenecahq/ceneca/workflow/router"
	"github.com/cenecahq/ceneca/workflow/scheduler"
	"github.com/cenecahq/ceneca/workflow/state"
	"github.com/cenecahq/ceneca/workflow/stream"
)

func main() {
	var (
		configPath = flag.String("config", "ceneca.yaml", "path to the configuration file")
		debug      = flag.Bool("debug", false, "enable debug logging and disable hybrid fallback")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *debug {
		ctx = log.Context(ctx, log.WithDebug())
	}

	if err := run(ctx, *configPath, *debug); err != nil {
		log.Error(ctx, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := telemetry.NewClueLogger()
	metrics := telemetry.NewClueMetrics()

	// Session store: Redis when an address is configured, in-memory
	// otherwise. The observable contract is identical.
	var (
		sessionStore session.Store
		rdb          *redis.Client
	)
	if addr := os.Getenv("CENECA_REDIS_ADDR"); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis %s: %w", addr, err)
		}
		defer rdb.Close()
		sessionStore, err = sessionredis.New(rdb)
		if err != nil {
			return err
		}
		log.Infof(ctx, "session store: redis at %s", addr)
	} else {
		sessionStore = sessioninmem.New()
		log.Infof(ctx, "session store: in-memory")
	}

	sessions, err := session.NewManager(sessionStore, cfg.SessionTimeout, cfg.RoleMappings,
		session.WithLogger(logger))
	if err != nil {
		return err
	}

	// Schema registry: Postgres when a DSN is configured.
	var catalog registry.Store
	if dsn := os.Getenv("CENECA_REGISTRY_DSN"); dsn != "" {
		db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
		if err != nil {
			return fmt.Errorf("connect registry database: %w", err)
		}
		defer db.Close()
		catalog = registrypg.New(db)
		log.Infof(ctx, "schema registry: postgres")
	} else {
		catalog = registryinmem.New()
		log.Infof(ctx, "schema registry: in-memory")
	}

	completions := buildCompletions(ctx, logger)

	var oidcHandler *oidc.Handler
	if cfg.SSO.Enabled {
		oidcHandler, err = oidc.New(cfg.SSO.OIDC, sessions, oidc.WithLogger(logger))
		if err != nil {
			return err
		}
	}
	authGate := gate.New(sessions, cfg.SSO.Enabled, "/auth/login", gate.WithLogger(logger))

	authSvc, err := authapi.New(authapi.Options{
		OIDC:           oidcHandler,
		Sessions:       sessions,
		Gate:           authGate,
		FrontendURL:    cfg.Server.FrontendURL,
		SSOEnabled:     cfg.SSO.Enabled,
		Provider:       cfg.SSO.OIDC.Provider,
		SessionTimeout: cfg.SessionTimeout,
		Production:     cfg.Server.Production,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	// Data-source drivers register here at startup. The binary ships none;
	// deployments link their drivers and register them before Answer runs.
	adapters := adapter.NewRegistry()

	orch, coordinator, err := buildOrchestrator(ctx, cfg, catalog, adapters, completions, rdb, debug, logger, metrics)
	if err != nil {
		return err
	}
	defer func() {
		if err := coordinator.Close(context.Background()); err != nil {
			log.Warnf(ctx, "close stream coordinator: %v", err)
		}
	}()

	querySvc, err := queryapi.New(orch, queryapi.WithLogger(logger))
	if err != nil {
		return err
	}

	r := chi.NewRouter()
	r.Use(authGate.Middleware())
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintln(w, `{"status":"healthy"}`)
	})
	authSvc.Mount(r)
	querySvc.Mount(r)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		log.Infof(ctx, "listening on %s", cfg.Server.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Infof(ctx, "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// buildCompletions assembles the provider failover chain from the API keys
// present in the environment. Each provider client is wrapped in an adaptive
// rate limiter. Returns nil when no provider is configured.
func buildCompletions(ctx context.Context, logger telemetry.Logger) *completion.Service {
	var providers []completion.Provider
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		client, err := anthropic.NewFromAPIKey(key, "")
		if err != nil {
			log.Warnf(ctx, "anthropic provider disabled: %v", err)
		} else {
			limited := middleware.NewAdaptiveRateLimiter(0, 0).Middleware()(client)
			providers = append(providers, completion.Provider{Name: "anthropic", Client: limited})
		}
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		client, err := openai.NewFromAPIKey(key, "")
		if err != nil {
			log.Warnf(ctx, "openai provider disabled: %v", err)
		} else {
			limited := middleware.NewAdaptiveRateLimiter(0, 0).Middleware()(client)
			providers = append(providers, completion.Provider{Name: "openai", Client: limited})
		}
	}
	if len(providers) == 0 {
		log.Infof(ctx, "no completion providers configured; heuristic routing only")
		return nil
	}
	svc, err := completion.NewService(providers, completion.BreakerConfig{}, completion.WithLogger(logger))
	if err != nil {
		log.Warnf(ctx, "completion service disabled: %v", err)
		return nil
	}
	log.Infof(ctx, "completion providers: %d", len(providers))
	return svc
}

// buildOrchestrator wires the workflow engine: phase nodes, scheduler,
// output aggregation, streaming, and routing.
func buildOrchestrator(
	ctx context.Context,
	cfg *config.Config,
	catalog registry.Store,
	adapters *adapter.Registry,
	completions *completion.Service,
	rdb *redis.Client,
	debug bool,
	logger telemetry.Logger,
	metrics telemetry.Metrics,
) (*orchestrator.Orchestrator, *stream.Coordinator, error) {
	var coordOpts []stream.CoordinatorOption
	if rdb != nil {
		client, err := clientspulse.New(clientspulse.Options{Redis: rdb})
		if err != nil {
			return nil, nil, err
		}
		sink, err := pulsesink.NewSink(pulsesink.Options{Client: client})
		if err != nil {
			return nil, nil, err
		}
		coordOpts = append(coordOpts, stream.WithSinks(sink))
		log.Infof(ctx, "workflow events published to pulse streams")
	}
	coordinator := stream.NewCoordinator(coordOpts...)

	states := state.NewManager(state.WithLogger(logger), state.WithMetrics(metrics))
	runner, err := nodes.NewRunner(states, nodes.WithRunnerLogger(logger), nodes.WithRunnerMetrics(metrics))
	if err != nil {
		return nil, nil, err
	}

	classifierOpts := []nodes.ClassifierOption{nodes.WithClassifierLogger(logger)}
	plannerOpts := []nodes.PlannerOption{nodes.WithPlannerLogger(logger)}
	if completions != nil {
		classifierOpts = append(classifierOpts, nodes.WithClassifierCompleter(completions))
		plannerOpts = append(plannerOpts, nodes.WithPlannerCompleter(completions))
	}
	classifier, err := nodes.NewClassifier(catalog, classifierOpts...)
	if err != nil {
		return nil, nil, err
	}
	metadata, err := nodes.NewMetadata(adapters, nodes.WithMetadataLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	planner, err := nodes.NewPlanner(adapters, plannerOpts...)
	if err != nil {
		return nil, nil, err
	}

	sched, err := scheduler.New(adapters, scheduler.WithLogger(logger), scheduler.WithMetrics(metrics))
	if err != nil {
		return nil, nil, err
	}
	outputs := output.NewIntegrator(cfg.DataDir, output.WithIntegratorLogger(logger))
	execution, err := nodes.NewExecution(sched,
		nodes.WithExecutionOutputs(outputs), nodes.WithExecutionLogger(logger))
	if err != nil {
		return nil, nil, err
	}

	opts := orchestrator.Options{
		States:         states,
		Coordinator:    coordinator,
		Runner:         runner,
		Classification: classifier,
		Metadata:       metadata,
		Planning:       planner,
		Execution:      execution,
		Visualization:  nodes.NewVisualization(),
		Outputs:        outputs,
		Debug:          debug,
		Logger:         logger,
		Metrics:        metrics,
	}
	if completions != nil {
		opts.Completions = completions
		opts.Router = router.New(completions, router.WithLogger(logger), router.WithMetrics(metrics))
	}
	orch, err := orchestrator.New(opts)
	if err != nil {
		return nil, nil, err
	}
	return orch, coordinator, nil
}
