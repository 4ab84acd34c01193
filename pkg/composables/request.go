package composables

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
)

// Identity is the caller as asserted by the trusted gateway in front of the
// service. Authentication itself happens upstream.
type Identity struct {
	UserID         string
	Roles          []string
	Rank           int
	HomeRegionalID string
	HomeDivisionID string
	SuperAdmin     bool
}

func (i Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if strings.EqualFold(strings.TrimSpace(r), role) {
			return true
		}
	}
	return false
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// UseIdentity returns the caller identity. The second return value is false
// when the request carried none.
func UseIdentity(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

func WithLogger(ctx context.Context, logger *logrus.Entry) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// UseLogger returns the logger from the context, or a standard logger entry
// when none was attached.
func UseLogger(ctx context.Context) *logrus.Entry {
	switch v := ctx.Value(loggerKey).(type) {
	case *logrus.Entry:
		return v
	case *logrus.Logger:
		return logrus.NewEntry(v)
	default:
		return logrus.NewEntry(logrus.StandardLogger())
	}
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestKey, id)
}

func UseRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestKey).(string)
	return id
}
