package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/iota-uz/roster/pkg/composables"
)

// Headers set by the trusted gateway in front of the service.
const (
	HeaderUserID       = "X-User-ID"
	HeaderUserRoles    = "X-User-Roles"
	HeaderUserRank     = "X-User-Rank"
	HeaderHomeRegional = "X-Home-Regional"
	HeaderHomeDivision = "X-Home-Division"
	HeaderSuperAdmin   = "X-Super-Admin"
)

// ProvideIdentity reads the caller identity from gateway headers. Requests
// without a user id pass through anonymous; handlers decide what that means.
func ProvideIdentity() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromHeaders(r.Header)
			if ok {
				r = r.WithContext(composables.WithIdentity(r.Context(), id))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func IdentityFromHeaders(h http.Header) (composables.Identity, bool) {
	userID := strings.TrimSpace(h.Get(HeaderUserID))
	if userID == "" {
		return composables.Identity{}, false
	}
	id := composables.Identity{
		UserID:         userID,
		HomeRegionalID: strings.TrimSpace(h.Get(HeaderHomeRegional)),
		HomeDivisionID: strings.TrimSpace(h.Get(HeaderHomeDivision)),
	}
	for _, role := range strings.Split(h.Get(HeaderUserRoles), ",") {
		if role = strings.TrimSpace(role); role != "" {
			id.Roles = append(id.Roles, role)
		}
	}
	if rank, err := strconv.Atoi(strings.TrimSpace(h.Get(HeaderUserRank))); err == nil && rank > 0 {
		id.Rank = rank
	}
	id.SuperAdmin, _ = strconv.ParseBool(strings.TrimSpace(h.Get(HeaderSuperAdmin)))
	return id, true
}
