package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"rulekeeper/internal/config"
	"rulekeeper/internal/logger"
	"rulekeeper/pkg/api"

	"github.com/spf13/cobra"
)

var (
	cfgFile      string
	engineFlag   string
	dbFlag       string
	logLevelFlag string
)

var rootCmd = &cobra.Command{
	Use:   "rulekeeper",
	Short: "管理浏览器扩展的 declarativeNetRequest 动态规则",
	Long: `rulekeeper 维护一份规范化的动态规则列表，并把每次变更同步到规则引擎。

规则引擎由 engine.kind 决定：
  memory    进程内引擎，仅在 serve 模式下有意义
  sqlite    持久化到本地数据库，命令行模式下推荐使用
  devtools  通过 DevTools 协议写入浏览器扩展
  none      只维护本地状态`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute 执行根命令
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件路径（yaml）")
	rootCmd.PersistentFlags().StringVar(&engineFlag, "engine", "", "规则引擎类型：none / memory / sqlite / devtools")
	rootCmd.PersistentFlags().StringVar(&dbFlag, "db", "", "sqlite 数据库路径")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "日志级别：debug / info / warn / error / none")
}

// loadConfig 读取配置并叠加命令行参数
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if engineFlag != "" {
		cfg.Engine.Kind = engineFlag
	}
	if dbFlag != "" {
		cfg.Sqlite.Db = dbFlag
	}
	if logLevelFlag != "" {
		cfg.Log.Level = logLevelFlag
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withService 创建服务并执行 fn，返回前等待已派发的同步完成
func withService(cmd *cobra.Command, fn func(ctx context.Context, svc api.Service) error) (err error) {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	l := logger.New(cfg)
	ctx := cmd.Context()

	svc, err := api.NewService(ctx, cfg, l)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := svc.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if err := fn(ctx, svc); err != nil {
		return err
	}
	return svc.WaitSync(ctx)
}

// printJSON 以缩进 JSON 输出
func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
