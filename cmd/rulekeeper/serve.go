package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rulekeeper/internal/httpapi"
	"rulekeeper/internal/logger"
	"rulekeeper/pkg/api"

	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动 HTTP 接口服务",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if serveAddr != "" {
			cfg.HTTP.Addr = serveAddr
		}
		l := logger.New(cfg)

		// 同步调度不随信号取消
		svc, err := api.NewService(cmd.Context(), cfg, l)
		if err != nil {
			return err
		}
		defer func() {
			if err := svc.Close(); err != nil {
				l.Err(err, "关闭服务失败")
			}
		}()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv := httpapi.NewServer(svc, l)
		if err := srv.ListenAndServe(ctx, cfg.HTTP.Addr); err != nil {
			return err
		}

		// 退出前尽量把已派发的变更同步完
		waitCtx, cancel := context.WithTimeout(context.Background(), cfg.Sync.Timeout()+time.Second)
		defer cancel()
		return svc.WaitSync(waitCtx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "监听地址（默认取配置 http.addr）")
	rootCmd.AddCommand(serveCmd)
}
