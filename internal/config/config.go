// Package config 定义应用配置及其加载方式
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"rulekeeper/pkg/domain"

	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，例如 RULEKEEPER_ENGINE_KIND
const EnvPrefix = "RULEKEEPER"

// 规则引擎类型
const (
	EngineNone     = "none"     // 不连接引擎，同步调用全部跳过
	EngineMemory   = "memory"   // 进程内引擎
	EngineSQLite   = "sqlite"   // 持久化到 sqlite 的引擎
	EngineDevTools = "devtools" // 通过 DevTools 协议连接浏览器扩展
)

// Config 配置文件结构体
type Config struct {
	Version string       `yaml:"version" mapstructure:"version"`
	Sqlite  SqliteConfig `yaml:"sqlite" mapstructure:"sqlite"`
	Log     LogConfig    `yaml:"log" mapstructure:"log"`
	Engine  EngineConfig `yaml:"engine" mapstructure:"engine"`
	Sync    SyncConfig   `yaml:"sync" mapstructure:"sync"`
	HTTP    HTTPConfig   `yaml:"http" mapstructure:"http"`
}

// SqliteConfig 数据库配置
type SqliteConfig struct {
	Db     string `yaml:"db" mapstructure:"db"`
	Prefix string `yaml:"prefix" mapstructure:"prefix"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string   `yaml:"level" mapstructure:"level"`
	Writer []string `yaml:"writer" mapstructure:"writer"`
	File   string   `yaml:"file" mapstructure:"file"` // 为空时使用系统应用数据目录
}

// EngineConfig 规则引擎配置
type EngineConfig struct {
	Kind        string `yaml:"kind" mapstructure:"kind"`
	DevToolsURL string `yaml:"devToolsURL" mapstructure:"devToolsURL"`
	ExtensionID string `yaml:"extensionID" mapstructure:"extensionID"`
}

// SyncConfig 同步调度配置
type SyncConfig struct {
	Workers       int     `yaml:"workers" mapstructure:"workers"`
	QueueCap      int     `yaml:"queueCap" mapstructure:"queueCap"`
	Retries       int     `yaml:"retries" mapstructure:"retries"`
	RatePerSecond float64 `yaml:"ratePerSecond" mapstructure:"ratePerSecond"` // 0 表示不限速
	Burst         int     `yaml:"burst" mapstructure:"burst"`
	TimeoutMS     int     `yaml:"timeoutMS" mapstructure:"timeoutMS"` // 单次调用超时，0 表示不限制
}

// Timeout 单次同步调用超时
func (s SyncConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMS) * time.Millisecond
}

// HTTPConfig HTTP 服务配置
type HTTPConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		Version: "1.0.0",
		Sqlite: SqliteConfig{
			Db:     "rulekeeper.db",
			Prefix: "rulekeeper_",
		},
		Log: LogConfig{
			Level: "info",
			// file需要在console之前，控制台不可写时不影响文件日志
			Writer: []string{"file", "console"},
		},
		Engine: EngineConfig{
			Kind:        EngineMemory,
			DevToolsURL: "http://localhost:9222",
		},
		Sync: SyncConfig{
			Workers:       2,
			QueueCap:      64,
			Retries:       3,
			RatePerSecond: 20,
			Burst:         5,
			TimeoutMS:     5000,
		},
		HTTP: HTTPConfig{
			Addr: "127.0.0.1:8787",
		},
	}
}

// Load 在默认配置之上叠加配置文件与环境变量，path 为空时只读取环境变量
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, NewConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults 注册默认值，AutomaticEnv 只对已知键生效
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("version", d.Version)
	v.SetDefault("sqlite.db", d.Sqlite.Db)
	v.SetDefault("sqlite.prefix", d.Sqlite.Prefix)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.writer", d.Log.Writer)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("engine.kind", d.Engine.Kind)
	v.SetDefault("engine.devToolsURL", d.Engine.DevToolsURL)
	v.SetDefault("engine.extensionID", d.Engine.ExtensionID)
	v.SetDefault("sync.workers", d.Sync.Workers)
	v.SetDefault("sync.queueCap", d.Sync.QueueCap)
	v.SetDefault("sync.retries", d.Sync.Retries)
	v.SetDefault("sync.ratePerSecond", d.Sync.RatePerSecond)
	v.SetDefault("sync.burst", d.Sync.Burst)
	v.SetDefault("sync.timeoutMS", d.Sync.TimeoutMS)
	v.SetDefault("http.addr", d.HTTP.Addr)
}

// Validate 校验配置取值
func (c *Config) Validate() error {
	var errs []error
	switch c.Engine.Kind {
	case EngineNone, EngineMemory, EngineSQLite:
	case EngineDevTools:
		if c.Engine.ExtensionID == "" {
			errs = append(errs, errors.New("devtools 引擎需要 engine.extensionID"))
		}
	default:
		errs = append(errs, fmt.Errorf("未知的引擎类型: %q", c.Engine.Kind))
	}
	if c.Sync.Workers <= 0 {
		errs = append(errs, fmt.Errorf("sync.workers 必须大于 0: %d", c.Sync.Workers))
	}
	if c.Sync.QueueCap <= 0 {
		errs = append(errs, fmt.Errorf("sync.queueCap 必须大于 0: %d", c.Sync.QueueCap))
	}
	if c.Sync.Retries < 0 || c.Sync.RatePerSecond < 0 || c.Sync.TimeoutMS < 0 {
		errs = append(errs, errors.New("sync 配置不能为负数"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
