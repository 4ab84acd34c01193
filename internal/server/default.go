package server

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/roster/pkg/application"
	"github.com/iota-uz/roster/pkg/configuration"
	"github.com/iota-uz/roster/pkg/httpapi"
	"github.com/iota-uz/roster/pkg/metrics"
	"github.com/iota-uz/roster/pkg/middleware"
	"github.com/iota-uz/roster/pkg/server"
)

type DefaultOptions struct {
	Logger        *logrus.Logger
	Configuration *configuration.Configuration
	Application   application.Application
	Pool          *pgxpool.Pool
}

// Default assembles the HTTP server around an application whose modules are
// already loaded.
func Default(options *DefaultOptions) (*server.HTTPServer, error) {
	if options == nil || options.Application == nil || options.Configuration == nil {
		return nil, errors.New("server: application and configuration are required")
	}
	app := options.Application
	conf := options.Configuration
	logger := options.Logger
	if logger == nil {
		logger = app.Logger()
	}

	middlewares := []mux.MiddlewareFunc{
		middleware.WithLogger(logger, LoggerOptions(conf)),
	}
	if options.Pool != nil {
		middlewares = append(middlewares, middleware.WithPool(options.Pool))
	}
	app.RegisterMiddleware(middlewares...)

	if conf.Prometheus.Enabled {
		app.RegisterControllers(metrics.NewPrometheusController(conf.Prometheus.Path))
	}

	serverInstance := server.NewHTTPServer(
		app,
		httpapi.StatusHandler(http.StatusNotFound, "ROSTER_ROUTE_NOT_FOUND"),
		httpapi.StatusHandler(http.StatusMethodNotAllowed, "ROSTER_METHOD_NOT_ALLOWED"),
	)
	serverInstance.AllowedOrigins = conf.Roster.Origins()
	return serverInstance, nil
}

func LoggerOptions(conf *configuration.Configuration) middleware.LoggerOptions {
	opts := middleware.DefaultLoggerOptions()
	if conf.Roster.RequestIDHeader != "" {
		opts.RequestIDHeader = conf.Roster.RequestIDHeader
	}
	opts.LogRequestBody = conf.GoAppEnvironment != configuration.Production
	return opts
}
