package configuration

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestLoadEnv_FallsBackToGoModRoot(t *testing.T) {
	tmp := t.TempDir()

	requireWriteFile(t, filepath.Join(tmp, "go.mod"), "module example.com/test\n\ngo 1.22\n")
	requireWriteFile(t, filepath.Join(tmp, ".env.local"), "ROSTER_TEST_ENV_LOAD=ok\n")

	sub := filepath.Join(tmp, "modules", "roster")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	origWd, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Chdir(origWd) })
	require.NoError(t, os.Chdir(sub))

	_ = os.Unsetenv("ROSTER_TEST_ENV_LOAD")

	n, err := LoadEnv([]string{".env", ".env.local"})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, "ok", os.Getenv("ROSTER_TEST_ENV_LOAD"))
}

func TestRosterOptionsValidate(t *testing.T) {
	t.Parallel()

	valid := func() RosterOptions {
		return RosterOptions{
			ImportLock:     " Postgres ",
			RelationWindow: 24 * time.Hour,
			BulkPreviewTTL: 15 * time.Minute,
			ImportLockTTL:  2 * time.Minute,
			MaxImportRows:  10,
		}
	}

	opts := valid()
	require.NoError(t, opts.Validate(""))
	require.Equal(t, LockBackendPostgres, opts.ImportLock)
	require.Equal(t, "global", opts.DefaultScope)

	opts = valid()
	opts.ImportLock = "redis"
	require.Error(t, opts.Validate(""))
	require.NoError(t, opts.Validate("redis://localhost:6379/0"))

	opts = valid()
	opts.ImportLock = "etcd"
	require.Error(t, opts.Validate(""))

	opts = valid()
	opts.RelationWindow = 0
	require.Error(t, opts.Validate(""))

	opts = valid()
	opts.MaxImportRows = 0
	require.Error(t, opts.Validate(""))
}

func TestRosterOptionsOrigins(t *testing.T) {
	t.Parallel()

	opts := RosterOptions{CORSOrigins: " https://a.example , ,https://b.example"}
	require.Equal(t, []string{"https://a.example", "https://b.example"}, opts.Origins())
	require.Empty(t, (&RosterOptions{}).Origins())
}

func TestLogrusLogLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]logrus.Level{
		"silent":  logrus.PanicLevel,
		"error":   logrus.ErrorLevel,
		"warn":    logrus.WarnLevel,
		"info":    logrus.InfoLevel,
		"debug":   logrus.DebugLevel,
		"verbose": logrus.ErrorLevel,
	}
	for in, want := range cases {
		c := &Configuration{LogLevel: in}
		require.Equal(t, want, c.LogrusLogLevel(), in)
	}
}

func TestLoadPolicy(t *testing.T) {
	t.Parallel()

	p, err := LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Empty(t, p.Scope.Tiers)

	path := filepath.Join(t.TempDir(), "policy.yaml")
	requireWriteFile(t, path, `
scope:
  tiers:
    - max_rank: 4
      level: organization
    - max_rank: 5
      level: regional
  fallback: division
  command_roles: [command]
  super_admin_roles: [super_admin]
abbreviations:
  SJC: SAO JOSE DOS CAMPOS
`)
	p, err = LoadPolicy(path)
	require.NoError(t, err)
	require.Len(t, p.Scope.Tiers, 2)
	require.Equal(t, "regional", p.Scope.Tiers[1].Level)
	require.Equal(t, "SAO JOSE DOS CAMPOS", p.Abbreviations["SJC"])

	requireWriteFile(t, path, "scope:\n  unknown_key: 1\n")
	_, err = LoadPolicy(path)
	require.Error(t, err)
}

func requireWriteFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
