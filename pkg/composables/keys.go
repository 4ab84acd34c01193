package composables

type contextKey string

const (
	txKey       contextKey = "tx"
	poolKey     contextKey = "pool"
	loggerKey   contextKey = "logger"
	identityKey contextKey = "identity"
	requestKey  contextKey = "request_id"
)

// LoggerKey is exported for packages that read the logger without importing
// composables helpers.
const LoggerKey = loggerKey
