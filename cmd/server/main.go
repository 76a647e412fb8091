/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the waqf distribution server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse flags, load config (YAML file, .env, WAQF_* variables)
  2. Open the SQLite store
  3. Load the policy document, if configured
  4. Build the approval engine with the configured escalation policy
  5. Wire notifications (NATS when configured, the log otherwise)
  6. Restore persisted approvals, post any missed payouts
  7. Start the HTTP server, the notification dispatcher and the scanner

COMMAND-LINE FLAGS:
  --config     YAML config file
  --env-file   dotenv file (default: .env, missing is fine)
  --port       HTTP server port, overrides config
  --db         SQLite database path, overrides config
  --scenarios  enable the demo scenario endpoints

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests (server.shutdown_timeout)
  3. Stop the scanner, drain the dispatcher
  4. Close NATS, Redis and the database

EXAMPLES:
  ./server --config=waqf.yaml
  ./server --db=":memory:" --scenarios
  WAQF_NATS_URL=nats://localhost:4222 ./server

SEE ALSO:
  - config/config.go: every setting and its variable
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/warp/waqf-engine/api"
	"github.com/warp/waqf-engine/approval"
	"github.com/warp/waqf-engine/config"
	"github.com/warp/waqf-engine/factory"
	"github.com/warp/waqf-engine/logging"
	"github.com/warp/waqf-engine/notify"
	"github.com/warp/waqf-engine/store/sqlite"
	"github.com/warp/waqf-engine/waqf"
)

func main() {
	configPath := pflag.String("config", "", "YAML config file")
	envFile := pflag.String("env-file", ".env", "dotenv file")
	port := pflag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := pflag.String("db", "", "SQLite database path (overrides config)")
	scenarios := pflag.Bool("scenarios", false, "enable demo scenario endpoints")
	pflag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, *scenarios, log); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("server stopped")
}

func run(cfg *config.Config, scenarios bool, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	// Terms
	var catalog *factory.Catalog
	if cfg.Policies.File != "" {
		catalog, err = factory.NewPolicyFactory().LoadFile(cfg.Policies.File)
		if err != nil {
			return err
		}
		log.Info().Str("file", cfg.Policies.File).Strs("terms", catalog.TermIDs()).Msg("policy document loaded")
	}

	// Approvals
	escalation, err := escalationPolicy(cfg.Escalation)
	if err != nil {
		return err
	}
	engine := approval.NewEngine(store, approval.Options{Escalation: escalation, Logger: log})

	// Notifications
	publisher, closeNATS, err := newPublisher(cfg.NATS, log)
	if err != nil {
		return err
	}
	defer closeNATS()
	dispatcher := notify.NewDispatcher(publisher, log, notify.DispatcherConfig{
		QueueSize:   cfg.Notify.QueueSize,
		MaxAttempts: cfg.Notify.MaxAttempts,
		Backoff:     cfg.Notify.Backoff,
	})
	engine.Observe(dispatcher)

	// Service
	service, err := waqf.NewService(waqf.Deps{
		Roster:    store,
		Plans:     store,
		Instances: store,
		Payouts:   store,
		Engine:    engine,
		Logger:    log,
	})
	if err != nil {
		return err
	}
	restored, err := service.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore approvals: %w", err)
	}
	log.Info().Int("instances", restored).Msg("approvals restored")

	// Escalation scanner
	scanner := approval.NewScanner(engine, log)
	scanner.CheckInterval = cfg.Escalation.Interval
	scanner.Enabled = cfg.Escalation.Enabled
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
		}
		scanner.Lease = approval.NewRedisLease(client, cfg.Escalation.LeaseKey, cfg.Escalation.LeaseTTL)
	}

	// HTTP
	deps := api.Deps{
		Service:      service,
		Engine:       engine,
		Roster:       store,
		Audit:        store,
		DefaultTerms: cfg.Policies.Terms,
		Scanner:      scanner,
		Ping:         store.Ping,
		Logger:       log,
	}
	if catalog != nil {
		deps.Terms = catalog
	}
	handler, err := api.NewHandler(deps)
	if err != nil {
		return err
	}
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		EnableScenarios: scenarios,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Int("port", cfg.Server.Port).Str("env", string(cfg.Environment)).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return dispatcher.Run(gctx)
	})
	g.Go(func() error {
		scanner.Start()
		<-gctx.Done()
		scanner.Stop()
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	drained := dispatcher.DispatchOnce(drainCtx)
	stats := dispatcher.Stats()
	log.Info().
		Int("drained", drained).
		Int("published", stats.Published).
		Int("failed", stats.Failed).
		Msg("notifications drained")
	return nil
}

func escalationPolicy(cfg config.EscalationConfig) (approval.EscalationPolicy, error) {
	switch cfg.Policy {
	case "rotation":
		dir := approval.StaticDirectory{}
		for name, ids := range cfg.Approvers {
			role, err := approval.ParseRole(name)
			if err != nil {
				return nil, fmt.Errorf("escalation approvers: %w", err)
			}
			dir[role] = ids
		}
		return approval.SameRoleRotation{Directory: dir}, nil
	default:
		policy := approval.FallbackRole{Fallbacks: map[approval.Role]approval.Role{}, Default: approval.RoleAdmin}
		for from, to := range cfg.FallbackRoles {
			fromRole, err := approval.ParseRole(from)
			if err != nil {
				return nil, fmt.Errorf("escalation fallback: %w", err)
			}
			toRole, err := approval.ParseRole(to)
			if err != nil {
				return nil, fmt.Errorf("escalation fallback: %w", err)
			}
			policy.Fallbacks[fromRole] = toRole
		}
		return policy, nil
	}
}

func newPublisher(cfg config.NATSConfig, log zerolog.Logger) (notify.Publisher, func(), error) {
	if cfg.URL == "" {
		return notify.LogPublisher{Log: log}, func() {}, nil
	}
	conn, err := nats.Connect(cfg.URL,
		nats.Name("waqf-engine"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}
	return notify.NewNATSPublisher(conn, cfg.SubjectPrefix, log), conn.Close, nil
}
