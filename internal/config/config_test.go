package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"rulekeeper/internal/config"
	"rulekeeper/pkg/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewConfig_Defaults 默认配置可以通过校验
func TestNewConfig_Defaults(t *testing.T) {
	cfg := config.NewConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, config.EngineMemory, cfg.Engine.Kind)
	assert.Equal(t, []string{"file", "console"}, cfg.Log.Writer)
	assert.Greater(t, cfg.Sync.Workers, 0)
	assert.Equal(t, int64(5000), cfg.Sync.Timeout().Milliseconds())
}

// TestLoad_File 配置文件覆盖默认值，未出现的键保留默认
func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
engine:
  kind: sqlite
sync:
  workers: 4
  retries: 1
http:
  addr: ":9000"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, config.EngineSQLite, cfg.Engine.Kind)
	assert.Equal(t, 4, cfg.Sync.Workers)
	assert.Equal(t, 1, cfg.Sync.Retries)
	assert.Equal(t, ":9000", cfg.HTTP.Addr)
	assert.Equal(t, config.NewConfig().Sync.QueueCap, cfg.Sync.QueueCap, "未配置的键应保留默认值")
	assert.Equal(t, "rulekeeper_", cfg.Sqlite.Prefix)
}

// TestLoad_Env 环境变量覆盖默认值
func TestLoad_Env(t *testing.T) {
	t.Setenv("RULEKEEPER_ENGINE_KIND", "none")
	t.Setenv("RULEKEEPER_LOG_LEVEL", "warn")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.EngineNone, cfg.Engine.Kind)
	assert.Equal(t, "warn", cfg.Log.Level)
}

// TestLoad_MissingFile 配置文件不存在时报错
func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

// TestValidate 非法配置
func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *config.Config)
	}{
		{"未知引擎", func(c *config.Config) { c.Engine.Kind = "chrome" }},
		{"devtools 缺少扩展 ID", func(c *config.Config) { c.Engine.Kind = config.EngineDevTools }},
		{"worker 为 0", func(c *config.Config) { c.Sync.Workers = 0 }},
		{"队列容量为 0", func(c *config.Config) { c.Sync.QueueCap = 0 }},
		{"负重试次数", func(c *config.Config) { c.Sync.Retries = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.NewConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrInvalidConfig))
		})
	}
}
