package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := NewLoader(WithFlags(map[string]any{"data_dir": dir})).Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, DefaultLogDirs, cfg.LogDirs)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 2*time.Hour, cfg.CSRFTTL)
	assert.Equal(t, 5, cfg.Login.MaxAttempts)
	assert.Equal(t, 30*time.Minute, cfg.Login.Lockout)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, 100, cfg.RateLimit.MaxRequests)
	assert.Equal(t, 1000, cfg.Audit.MaxRecords)
	assert.True(t, cfg.FilterSensitive)
	assert.Equal(t, "docker", cfg.Docker.Binary)
	assert.Equal(t, filepath.Join(dir, ".password"), cfg.PasswordFile())
	assert.Equal(t, filepath.Join(dir, "audit.log"), cfg.AuditFile())
}

func TestLoadFileFromDataDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	body := `{"log_dirs": ["/srv/logs", "/var/log/apps"], "login": {"max_attempts": 3}, "session_ttl": "1h"}`
	require.NoError(t, os.WriteFile(ConfigFile(dir), []byte(body), 0o600))

	t.Setenv("LOGMANAGER_DATA_DIR", dir)
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"/srv/logs", "/var/log/apps"}, cfg.LogDirs)
	assert.Equal(t, 3, cfg.Login.MaxAttempts)
	assert.Equal(t, time.Hour, cfg.SessionTTL)
	assert.Equal(t, 30*time.Minute, cfg.Login.Lockout, "unset keys keep defaults")
}

func TestPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9000\nlog_level: debug\n"), 0o600))

	t.Setenv("PORT", "9100")
	cfg, err := NewLoader(WithConfigFile(path), WithFlags(map[string]any{"data_dir": dir})).Load()
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Port, "PORT overrides the file")
	assert.Equal(t, "debug", cfg.LogLevel)

	t.Setenv("LOGMANAGER_PORT", "9200")
	t.Setenv("LOGMANAGER_RATE_LIMIT__MAX_REQUESTS", "7")
	t.Setenv("LOGMANAGER_TRUSTED_PROXIES", "10.0.0.0/8,192.168.1.1")
	cfg, err = NewLoader(WithConfigFile(path), WithFlags(map[string]any{"data_dir": dir})).Load()
	require.NoError(t, err)
	assert.Equal(t, 9200, cfg.Port, "prefixed variable beats bare PORT")
	assert.Equal(t, 7, cfg.RateLimit.MaxRequests)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.1"}, cfg.TrustedProxies)

	cfg, err = NewLoader(WithConfigFile(path), WithFlags(map[string]any{"data_dir": dir, "port": 9300})).Load()
	require.NoError(t, err)
	assert.Equal(t, 9300, cfg.Port, "flags win")
}

func TestExplicitFileMustExist(t *testing.T) {
	_, err := NewLoader(WithConfigFile(filepath.Join(t.TempDir(), "nope.json"))).Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]map[string]any{
		"port":     {"port": 70000},
		"relative": {"log_dirs": []string{"logs"}},
		"lockout":  {"login.lockout": time.Duration(0)},
		"format":   {"log_format": "xml"},
		"level":    {"log_level": "loud"},
		"tls":      {"tls.cert": "/etc/cert.pem"},
		"attempts": {"login.max_attempts": 0},
		"audit":    {"audit.max_records": 0},
	}
	for name, flags := range cases {
		t.Run(name, func(t *testing.T) {
			flags["data_dir"] = dir
			_, err := NewLoader(WithFlags(flags)).Load()
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "data_dir", envKey("LOGMANAGER_DATA_DIR"))
	assert.Equal(t, "login.idle_ttl", envKey("LOGMANAGER_LOGIN__IDLE_TTL"))
}
