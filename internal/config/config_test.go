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
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8351, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 5, cfg.Security.MaxRedeemAttempts)
	assert.Equal(t, 30*time.Second, cfg.Security.EntitlementCacheTTL)
	assert.True(t, cfg.Security.RateLimit.Enabled)
	assert.False(t, cfg.Production)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ARCA_SERVER_PORT", "9000")
	t.Setenv("ARCA_PRODUCTION", "true")
	t.Setenv("ARCA_LOGGING_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.True(t, cfg.Production)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	t.Setenv("ARCA_SERVER_PORT", "70000")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port")
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arca-gate.yaml")
	yaml := []byte(`
server:
  port: 9500
production: true
paths:
  data_dir: /var/lib/arca
`)
	require.NoError(t, os.WriteFile(path, yaml, 0o644))

	cfg, err := loadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9500, cfg.Server.Port)
	assert.True(t, cfg.Production)
	assert.Equal(t, "/var/lib/arca", cfg.Paths.DataDir)
}

func TestMergeConfigsEnvWins(t *testing.T) {
	fileCfg := Config{}
	fileCfg.Server.Port = 9500
	fileCfg.Paths.DataDir = "/from/file"

	envCfg := Config{}
	envCfg.Server.Port = 9000

	merged := mergeConfigs(fileCfg, envCfg)
	assert.Equal(t, 9000, merged.Server.Port, "env value wins")
	assert.Equal(t, "/from/file", merged.Paths.DataDir, "file fills gaps")
}

func TestMergeConfigsProductionIsSticky(t *testing.T) {
	fileCfg := Config{Production: true}
	envCfg := Config{Production: false}
	merged := mergeConfigs(fileCfg, envCfg)
	assert.True(t, merged.Production, "either source can force production, neither can unset it")
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Server:   ServerConfig{Host: "127.0.0.1", Port: 8351},
			Security: SecurityConfig{MaxRedeemAttempts: 5},
		}
	}

	cfg := base()
	assert.NoError(t, cfg.validate())

	cfg = base()
	cfg.Server.Host = "0.0.0.0"
	assert.Error(t, cfg.validate(), "binding beyond loopback is refused")

	cfg = base()
	cfg.Security.MaxRedeemAttempts = 0
	assert.Error(t, cfg.validate())

	cfg = base()
	cfg.Security.EntitlementCacheTTL = -time.Second
	assert.Error(t, cfg.validate())

	cfg = base()
	cfg.Logging.Output = "syslog"
	assert.Error(t, cfg.validate())
}
