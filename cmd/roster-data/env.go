package main

import (
	"context"
	"io"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/iota-uz/roster/modules/roster"
	"github.com/iota-uz/roster/modules/roster/infrastructure/locking"
	"github.com/iota-uz/roster/pkg/application"
	"github.com/iota-uz/roster/pkg/composables"
	"github.com/iota-uz/roster/pkg/configuration"
)

// cliEnv is a wired roster application backed by a database pool.
type cliEnv struct {
	conf *configuration.Configuration
	pool *pgxpool.Pool
	app  application.Application
	// redis is set when imports lock through redis.
	redis io.Closer
}

func (e *cliEnv) Close() {
	if e.redis != nil {
		_ = e.redis.Close()
	}
	e.pool.Close()
}

// ctx returns a context carrying the pool and a logger tagged with the
// command name.
func (e *cliEnv) ctx(ctx context.Context, command string) context.Context {
	ctx = composables.WithPool(ctx, e.pool)
	return composables.WithLogger(ctx, e.conf.Logger().WithField("command", command))
}

func loadConfig() (*configuration.Configuration, error) {
	conf, err := configuration.Load(".env", ".env.local")
	if err != nil {
		return nil, withCode(exitUsage, errors.Wrap(err, "load configuration"))
	}
	// stdout is reserved for JSON results.
	conf.Logger().SetOutput(os.Stderr)
	return conf, nil
}

func openPool(ctx context.Context, conf *configuration.Configuration) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, conf.Database.Opts)
	if err != nil {
		return nil, withCode(exitDB, errors.Wrap(err, "connect db"))
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, withCode(exitDB, errors.Wrap(err, "ping db"))
	}
	return pool, nil
}

func openEnv(ctx context.Context) (*cliEnv, error) {
	conf, err := loadConfig()
	if err != nil {
		return nil, err
	}
	policy, err := configuration.LoadPolicy(conf.Roster.PolicyPath)
	if err != nil {
		return nil, withCode(exitUsage, err)
	}
	env := &cliEnv{conf: conf}
	opts := roster.ModuleOptions{Config: conf, Policy: policy}
	if conf.Roster.ImportLock == configuration.LockBackendRedis {
		client, err := locking.NewClient(conf.RedisURL)
		if err != nil {
			return nil, withCode(exitUsage, err)
		}
		opts.Redis = client
		env.redis = client
	}

	env.pool, err = openPool(ctx, conf)
	if err != nil {
		if env.redis != nil {
			_ = env.redis.Close()
		}
		return nil, err
	}
	env.app = application.New(&application.ApplicationOptions{Pool: env.pool, Logger: conf.Logger()})
	if err := application.LoadModules(env.app, roster.NewModule(opts)); err != nil {
		env.Close()
		return nil, withCode(exitUsage, err)
	}
	return env, nil
}
