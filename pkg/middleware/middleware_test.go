package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/roster/pkg/composables"
)

func TestIdentityFromHeaders(t *testing.T) {
	t.Parallel()

	h := http.Header{}
	_, ok := IdentityFromHeaders(h)
	require.False(t, ok)

	h.Set(HeaderUserID, " 42 ")
	h.Set(HeaderUserRoles, "command, ,auditor")
	h.Set(HeaderUserRank, "5")
	h.Set(HeaderHomeRegional, "r-1")
	h.Set(HeaderSuperAdmin, "true")
	id, ok := IdentityFromHeaders(h)
	require.True(t, ok)
	require.Equal(t, "42", id.UserID)
	require.Equal(t, []string{"command", "auditor"}, id.Roles)
	require.Equal(t, 5, id.Rank)
	require.Equal(t, "r-1", id.HomeRegionalID)
	require.True(t, id.SuperAdmin)

	h.Set(HeaderUserRank, "V")
	id, _ = IdentityFromHeaders(h)
	require.Zero(t, id.Rank)
}

func TestProvideIdentity(t *testing.T) {
	t.Parallel()

	var got composables.Identity
	var present bool
	h := ProvideIdentity()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, present = composables.UseIdentity(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/roster/api/scope", nil)
	req.Header.Set(HeaderUserID, "u-1")
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.True(t, present)
	require.Equal(t, "u-1", got.UserID)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.False(t, present)
}

func TestWithLogger_RequestIDAndRecovery(t *testing.T) {
	t.Parallel()

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	opts := DefaultLoggerOptions()

	var seenID string
	ok := WithLogger(logger, opts)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = composables.UseRequestID(r.Context())
		composables.UseLogger(r.Context()).Info("inside")
		w.WriteHeader(http.StatusAccepted)
	}))
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-ID", "req-1")
	rec := httptest.NewRecorder()
	ok.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, "req-1", seenID)
	require.Equal(t, "req-1", rec.Header().Get("X-Request-Id"))

	var inside *logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Message == "inside" {
			inside = e
		}
	}
	require.NotNil(t, inside)
	require.Equal(t, "req-1", inside.Data["request-id"])

	panicking := WithLogger(logger, opts)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec = httptest.NewRecorder()
	panicking.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/y", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "ROSTER_INTERNAL")
}
