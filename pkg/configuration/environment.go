package configuration

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const Production = "production"

const (
	LockBackendPostgres = "postgres"
	LockBackendRedis    = "redis"
)

var singleton = sync.OnceValue(func() *Configuration {
	c := &Configuration{}
	if err := c.load([]string{".env", ".env.local"}); err != nil {
		panic(err)
	}
	return c
})

// LoadEnv loads the given env files from the working directory. When none
// exists there, the nearest ancestor directory holding go.mod is tried.
func LoadEnv(envFiles []string) (int, error) {
	existing := existingFiles("", envFiles)
	if len(existing) == 0 {
		if root, ok := moduleRoot(); ok {
			existing = existingFiles(root, envFiles)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

func existingFiles(dir string, files []string) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		p := f
		if dir != "" {
			p = filepath.Join(dir, f)
		}
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			out = append(out, p)
		}
	}
	return out
}

func moduleRoot() (string, bool) {
	dir, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

type DatabaseOptions struct {
	Opts     string `env:"-"`
	Name     string `env:"DB_NAME" envDefault:"roster"`
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD" envDefault:"postgres"`
	MaxConns int32  `env:"DB_MAX_CONNS" envDefault:"10"`
}

func (d *DatabaseOptions) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s dbname=%s password=%s sslmode=disable",
		d.Host, d.Port, d.User, d.Name, d.Password,
	)
}

type OpenTelemetryOptions struct {
	Enabled     bool   `env:"OTEL_ENABLED" envDefault:"false"`
	TempoURL    string `env:"OTEL_TEMPO_URL" envDefault:"localhost:4318"`
	ServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"roster"`
}

type PrometheusOptions struct {
	Enabled bool   `env:"PROMETHEUS_METRICS_ENABLED" envDefault:"false"`
	Path    string `env:"PROMETHEUS_METRICS_PATH" envDefault:"/debug/prometheus"`
}

type AuthzOptions struct {
	ModelPath      string `env:"AUTHZ_MODEL_PATH" envDefault:"config/access/model.conf"`
	PolicyPath     string `env:"AUTHZ_POLICY_PATH" envDefault:"config/access/policy.csv"`
	FlagConfigPath string `env:"AUTHZ_FLAG_CONFIG" envDefault:"config/access/authz_flags.yaml"`
	Mode           string `env:"AUTHZ_MODE" envDefault:"shadow"`
}

type RosterOptions struct {
	PolicyPath      string        `env:"ROSTER_POLICY_PATH" envDefault:"config/roster/policy.yaml"`
	RelationWindow  time.Duration `env:"ROSTER_RELATION_WINDOW" envDefault:"24h"`
	BulkPreviewTTL  time.Duration `env:"ROSTER_BULK_PREVIEW_TTL" envDefault:"15m"`
	ImportLock      string        `env:"ROSTER_IMPORT_LOCK_BACKEND" envDefault:"postgres"`
	ImportLockTTL   time.Duration `env:"ROSTER_IMPORT_LOCK_TTL" envDefault:"2m"`
	DefaultScope    string        `env:"ROSTER_SCOPE_DEFAULT" envDefault:"global"`
	AutoMigrate     bool          `env:"ROSTER_AUTO_MIGRATE" envDefault:"false"`
	MaxImportRows   int           `env:"ROSTER_MAX_IMPORT_ROWS" envDefault:"50000"`
	APIPrefix       string        `env:"ROSTER_API_PREFIX" envDefault:"/roster/api"`
	CORSOrigins     string        `env:"ROSTER_CORS_ORIGINS" envDefault:""`
	RequestIDHeader string        `env:"REQUEST_ID_HEADER" envDefault:"X-Request-ID"`
}

// Validate checks the roster options for errors.
func (r *RosterOptions) Validate(redisURL string) error {
	backend := strings.ToLower(strings.TrimSpace(r.ImportLock))
	switch backend {
	case LockBackendPostgres, LockBackendRedis:
	default:
		return fmt.Errorf("invalid ROSTER_IMPORT_LOCK_BACKEND=%q (expected postgres|redis)", r.ImportLock)
	}
	if backend == LockBackendRedis && strings.TrimSpace(redisURL) == "" {
		return fmt.Errorf("ROSTER_IMPORT_LOCK_BACKEND=redis requires REDIS_URL")
	}
	r.ImportLock = backend

	if r.RelationWindow <= 0 {
		return fmt.Errorf("ROSTER_RELATION_WINDOW must be positive, got %s", r.RelationWindow)
	}
	if r.BulkPreviewTTL < 0 {
		return fmt.Errorf("ROSTER_BULK_PREVIEW_TTL must be non-negative, got %s", r.BulkPreviewTTL)
	}
	if r.ImportLockTTL <= 0 {
		return fmt.Errorf("ROSTER_IMPORT_LOCK_TTL must be positive, got %s", r.ImportLockTTL)
	}
	if r.MaxImportRows <= 0 {
		return fmt.Errorf("ROSTER_MAX_IMPORT_ROWS must be positive, got %d", r.MaxImportRows)
	}
	if strings.TrimSpace(r.DefaultScope) == "" {
		r.DefaultScope = "global"
	}
	return nil
}

// Origins splits the comma separated CORS allow list.
func (r *RosterOptions) Origins() []string {
	var out []string
	for _, o := range strings.Split(r.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

type Configuration struct {
	Database      DatabaseOptions
	OpenTelemetry OpenTelemetryOptions
	Prometheus    PrometheusOptions
	Authz         AuthzOptions
	Roster        RosterOptions

	RedisURL         string `env:"REDIS_URL"`
	ServerPort       int    `env:"PORT" envDefault:"3200"`
	GoAppEnvironment string `env:"GO_APP_ENV" envDefault:"development"`
	SocketAddress    string `env:"-"`
	LogLevel         string `env:"LOG_LEVEL" envDefault:"error"`

	logger *logrus.Logger
}

func (c *Configuration) Logger() *logrus.Logger {
	return c.logger
}

func (c *Configuration) LogrusLogLevel() logrus.Level {
	switch c.LogLevel {
	case "silent":
		return logrus.PanicLevel
	case "error":
		return logrus.ErrorLevel
	case "warn":
		return logrus.WarnLevel
	case "info":
		return logrus.InfoLevel
	case "debug":
		return logrus.DebugLevel
	default:
		return logrus.ErrorLevel
	}
}

func Use() *Configuration {
	return singleton()
}

// Load builds a configuration outside the process-wide singleton. Tools and
// tests use it to read the environment without panicking.
func Load(envFiles ...string) (*Configuration, error) {
	c := &Configuration{}
	if err := c.load(envFiles); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Configuration) load(envFiles []string) error {
	n, err := LoadEnv(envFiles)
	if err != nil {
		return err
	}
	if n == 0 && len(envFiles) > 0 {
		wd, _ := os.Getwd()
		log.Println("No .env files found. Tried:")
		for _, file := range envFiles {
			log.Println(filepath.Join(wd, file))
		}
	}
	if err := env.Parse(c); err != nil {
		return err
	}

	if err := c.Roster.Validate(c.RedisURL); err != nil {
		return fmt.Errorf("roster configuration error: %w", err)
	}

	c.logger = NewLogger(c.LogrusLogLevel(), c.GoAppEnvironment == Production)
	c.Database.Opts = c.Database.ConnectionString()
	if c.GoAppEnvironment == Production {
		c.SocketAddress = fmt.Sprintf(":%d", c.ServerPort)
	} else {
		c.SocketAddress = fmt.Sprintf("localhost:%d", c.ServerPort)
	}
	return nil
}

// NewLogger returns a logger writing to stdout, JSON formatted in
// production.
func NewLogger(level logrus.Level, production bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetLevel(level)
	if production {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}
