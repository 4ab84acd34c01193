package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	internalserver "github.com/iota-uz/roster/internal/server"
	"github.com/iota-uz/roster/modules/roster"
	"github.com/iota-uz/roster/modules/roster/infrastructure/locking"
	"github.com/iota-uz/roster/modules/roster/infrastructure/persistence"
	"github.com/iota-uz/roster/pkg/application"
	"github.com/iota-uz/roster/pkg/authz"
	"github.com/iota-uz/roster/pkg/configuration"
	"github.com/iota-uz/roster/pkg/eventbus"
	"github.com/iota-uz/roster/pkg/tracing"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			log.Println(r)
			debug.PrintStack()
			os.Exit(1)
		}
	}()

	conf := configuration.Use()
	logger := conf.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, conf.OpenTelemetry, logger)
	if err != nil {
		log.Fatalf("failed to set up tracing: %v", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	pool, err := pgxpool.New(connectCtx, conf.Database.Opts)
	cancel()
	if err != nil {
		panic(err)
	}
	defer pool.Close()

	if conf.Roster.AutoMigrate {
		applied, err := persistence.Migrate(ctx, pool)
		if err != nil {
			log.Fatalf("failed to migrate: %v", err)
		}
		logger.WithField("applied", applied).Info("roster migrations applied")
	}

	policy, err := configuration.LoadPolicy(conf.Roster.PolicyPath)
	if err != nil {
		log.Fatalf("failed to load roster policy: %v", err)
	}
	authzSvc, err := authz.NewService(authz.ConfigFrom(conf))
	if err != nil {
		log.Fatalf("failed to initialize authz: %v", err)
	}
	logger.WithField("mode", authzSvc.Mode()).Info("authz enforcer ready")

	moduleOpts := roster.ModuleOptions{Config: conf, Policy: policy, Authz: authzSvc}
	if conf.Roster.ImportLock == configuration.LockBackendRedis {
		client, err := locking.NewClient(conf.RedisURL)
		if err != nil {
			log.Fatalf("failed to configure redis: %v", err)
		}
		defer func() { _ = client.Close() }()
		moduleOpts.Redis = client
	}

	app := application.New(&application.ApplicationOptions{
		Pool:     pool,
		EventBus: eventbus.NewEventPublisher(logger),
		Logger:   logger,
	})
	if err := application.LoadModules(app, roster.NewModule(moduleOpts)); err != nil {
		log.Fatalf("failed to load modules: %v", err)
	}

	srv, err := internalserver.Default(&internalserver.DefaultOptions{
		Logger:        logger,
		Configuration: conf,
		Application:   app,
		Pool:          pool,
	})
	if err != nil {
		log.Fatalf("failed to assemble server: %v", err)
	}

	logger.Infof("Listening on: %s", conf.SocketAddress)
	if err := srv.Start(ctx, conf.SocketAddress); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}
}
