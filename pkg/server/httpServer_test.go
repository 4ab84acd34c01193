package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/roster/pkg/application"
)

type prefixedController struct{}

func (prefixedController) Key() string { return "/api" }

func (prefixedController) Register(r *mux.Router) {
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodGet)
}

func statusHandler(status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	})
}

func TestRouter_SubrouterUsesServerHandlers(t *testing.T) {
	t.Parallel()

	app := application.New(&application.ApplicationOptions{})
	app.RegisterControllers(prefixedController{})
	app.RegisterMiddleware(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Wrapped", "1")
			next.ServeHTTP(w, r)
		})
	})
	router := NewHTTPServer(app, statusHandler(http.StatusNotFound), statusHandler(http.StatusMethodNotAllowed)).Router()

	cases := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/api/ping", http.StatusNoContent},
		{http.MethodDelete, "/api/ping", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/missing", http.StatusNotFound},
		{http.MethodGet, "/elsewhere", http.StatusNotFound},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(tc.method, tc.path, nil))
		require.Equal(t, tc.want, rr.Code, "%s %s", tc.method, tc.path)
		require.Equal(t, "1", rr.Header().Get("X-Wrapped"), "%s %s", tc.method, tc.path)
	}
}
