package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"rulekeeper/internal/storage/repo"
	"rulekeeper/pkg/api"

	"github.com/spf13/cobra"
)

var eventOpts struct {
	ruleID int
	status string
	limit  int
	days   int
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "查看同步事件历史",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc api.Service) error {
			events, total, err := svc.QueryEvents(ctx, repo.QueryOptions{
				RuleID: eventOpts.ruleID,
				Status: eventOpts.status,
				Limit:  eventOpts.limit,
			})
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tRULE\tOP\tSTATUS\tATTEMPT\tERROR")
			for _, e := range events {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%d\t%s\n",
					time.UnixMilli(e.Timestamp).Format(time.DateTime), e.RuleID, e.Op, e.Status, e.Attempt, e.Error)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "共 %d 条\n", total)
			return nil
		})
	},
}

var eventsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "清理旧的同步事件",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc api.Service) error {
			n, err := svc.CleanupEvents(ctx, eventOpts.days)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "已清理 %d 条事件\n", n)
			return nil
		})
	},
}

func init() {
	eventsCmd.Flags().IntVar(&eventOpts.ruleID, "rule", 0, "按规则 ID 过滤")
	eventsCmd.Flags().StringVar(&eventOpts.status, "status", "", "按状态过滤：pending / synced / failed")
	eventsCmd.Flags().IntVar(&eventOpts.limit, "limit", 50, "最多显示条数")
	eventsCleanupCmd.Flags().IntVar(&eventOpts.days, "days", 7, "保留天数")

	eventsCmd.AddCommand(eventsCleanupCmd)
	rootCmd.AddCommand(eventsCmd)
}
