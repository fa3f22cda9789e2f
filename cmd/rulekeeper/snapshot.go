package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"rulekeeper/pkg/api"

	"github.com/spf13/cobra"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "管理规则集快照",
}

var snapshotSaveCmd = &cobra.Command{
	Use:   "save <name>",
	Short: "把当前规则保存为快照，同名快照会被覆盖",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc api.Service) error {
			record, err := svc.SaveSnapshot(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "已保存快照 %s（%d 条规则）\n", record.Name, record.RuleCount)
			return nil
		})
	},
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出快照",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc api.Service) error {
			list, err := svc.ListSnapshots(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tRULES\tACTIVE\tUPDATED")
			for _, r := range list {
				active := ""
				if r.IsActive {
					active = "*"
				}
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", r.Name, r.RuleCount, active, r.UpdatedAt.Format(time.DateTime))
			}
			return w.Flush()
		})
	},
}

var snapshotRestoreCmd = &cobra.Command{
	Use:   "restore <name>",
	Short: "用快照替换当前全部规则",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc api.Service) error {
			rules, err := svc.RestoreSnapshot(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "已恢复快照 %s（%d 条规则）\n", args[0], len(rules))
			return nil
		})
	},
}

var snapshotDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "删除快照",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc api.Service) error {
			return svc.DeleteSnapshot(ctx, args[0])
		})
	},
}

func init() {
	snapshotCmd.AddCommand(snapshotSaveCmd, snapshotListCmd, snapshotRestoreCmd, snapshotDeleteCmd)
	rootCmd.AddCommand(snapshotCmd)
}
