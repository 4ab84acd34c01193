package routinggates

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	internalserver "github.com/iota-uz/roster/internal/server"
	"github.com/iota-uz/roster/modules/roster"
	"github.com/iota-uz/roster/pkg/application"
	"github.com/iota-uz/roster/pkg/configuration"
	"github.com/iota-uz/roster/pkg/httpapi"
	"github.com/iota-uz/roster/pkg/middleware"
	pkgserver "github.com/iota-uz/roster/pkg/server"
)

func testConfig() *configuration.Configuration {
	conf := &configuration.Configuration{}
	conf.GoAppEnvironment = configuration.Production
	conf.Roster.ImportLock = configuration.LockBackendPostgres
	conf.Roster.APIPrefix = "/roster/api"
	conf.Roster.DefaultScope = "global"
	conf.Roster.MaxImportRows = 100
	conf.Prometheus.Path = "/debug/prometheus"
	return conf
}

func buildServer(t *testing.T, conf *configuration.Configuration) *pkgserver.HTTPServer {
	t.Helper()

	logger := logrus.New()
	app := application.New(&application.ApplicationOptions{Logger: logger})
	require.NoError(t, application.LoadModules(app, roster.NewModule(roster.ModuleOptions{
		Config: conf,
		Policy: &configuration.Policy{},
	})))
	srv, err := internalserver.Default(&internalserver.DefaultOptions{
		Logger:        logger,
		Configuration: conf,
		Application:   app,
	})
	require.NoError(t, err)
	return srv
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) httpapi.ErrorEnvelope {
	t.Helper()
	require.True(t, strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json"))
	var payload httpapi.ErrorEnvelope
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&payload))
	return payload
}

func TestAPIErrorContracts_JSONOnly_For404And405(t *testing.T) {
	router := buildServer(t, testConfig()).Router()

	t.Run("404_is_json", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "http://example.com/roster/api/__nonexistent__", nil)
		req.Header.Set("X-Request-ID", "req-404")
		router.ServeHTTP(rr, req)

		require.Equal(t, http.StatusNotFound, rr.Code)
		require.Equal(t, "req-404", rr.Header().Get("X-Request-Id"))
		payload := decodeEnvelope(t, rr)
		require.Equal(t, "ROSTER_ROUTE_NOT_FOUND", payload.Code)
		require.Equal(t, "Not Found", payload.Message)
	})

	t.Run("404_outside_prefix_is_json", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "http://example.com/", nil))

		require.Equal(t, http.StatusNotFound, rr.Code)
		require.Equal(t, "ROSTER_ROUTE_NOT_FOUND", decodeEnvelope(t, rr).Code)
	})

	t.Run("405_is_json", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodDelete, "http://example.com/roster/api/scope", nil)
		router.ServeHTTP(rr, req)

		require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
		payload := decodeEnvelope(t, rr)
		require.Equal(t, "ROSTER_METHOD_NOT_ALLOWED", payload.Code)
		require.Equal(t, "Method Not Allowed", payload.Message)
	})
}

func TestAPIErrorContracts_PanicRecovery_IsJSON(t *testing.T) {
	logger := logrus.New()
	h := middleware.WithLogger(logger, internalserver.LoggerOptions(testConfig()))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "http://example.com/roster/api/panic", nil)
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	payload := decodeEnvelope(t, rr)
	require.Equal(t, "ROSTER_INTERNAL", payload.Code)
	require.Equal(t, "internal server error", payload.Message)
	require.NotEmpty(t, payload.Meta["request_id"])
}

func TestExposureBaseline_OnlyRosterAPIRoutes(t *testing.T) {
	paths := collectRoutePaths(t, buildServer(t, testConfig()).Router())
	require.NotEmpty(t, paths)

	for _, p := range paths {
		require.True(t, strings.HasPrefix(p, "/roster/api"), "unexpected route %s", p)
	}
}

func TestExposureBaseline_MetricsOnlyWhenEnabled(t *testing.T) {
	conf := testConfig()
	require.NotContains(t, collectRoutePaths(t, buildServer(t, conf).Router()), "/debug/prometheus")

	conf = testConfig()
	conf.Prometheus.Enabled = true
	require.Contains(t, collectRoutePaths(t, buildServer(t, conf).Router()), "/debug/prometheus")
}

// collectRoutePaths returns the full templates of routes that carry a
// handler. Subrouter prefixes are skipped.
func collectRoutePaths(t *testing.T, router *mux.Router) []string {
	t.Helper()

	var paths []string
	err := router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		if route.GetHandler() == nil {
			return nil
		}
		tpl, err := route.GetPathTemplate()
		if err != nil {
			return nil
		}
		paths = append(paths, tpl)
		return nil
	})
	require.NoError(t, err)
	return paths
}
