package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"rulekeeper/pkg/api"
	"rulekeeper/pkg/domain"
	"rulekeeper/pkg/rulespec"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "列出规则",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc api.Service) error {
			rules := svc.ListRules(ctx)
			if len(rules) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "暂无规则")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPRIORITY\tACTION\tFILTER")
			for _, r := range rules {
				fmt.Fprintf(w, "%d\t%d\t%s\t%s\n", r.ID, r.Priority, r.Action.Type, describeFilter(r.Condition))
			}
			return w.Flush()
		})
	},
}

// describeFilter 规则过滤器的简短描述
func describeFilter(c rulespec.Condition) string {
	switch {
	case c.URLFilter != "":
		return c.URLFilter
	case c.RegexFilter != "":
		return "/" + c.RegexFilter + "/"
	default:
		return "*"
	}
}

var addOpts struct {
	filter        string
	regex         string
	caseSensitive bool
	action        string
	redirect      string
	priority      int
	types         []string
	methods       []string
	domains       []string
	initiators    []string
	headers       []string
}

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "新建规则",
	Example: `  rulekeeper add --filter "||ads.example.com^" --action block
  rulekeeper add --regex "^http://(.*)" --action redirect --redirect "https://\1"
  rulekeeper add --filter "example.com" --action modifyHeaders --header "set:X-Debug:1"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cond := rulespec.Condition{
			URLFilter:                addOpts.filter,
			RegexFilter:              addOpts.regex,
			IsURLFilterCaseSensitive: addOpts.caseSensitive,
			RequestMethods:           addOpts.methods,
			RequestDomains:           addOpts.domains,
			InitiatorDomains:         addOpts.initiators,
		}
		for _, t := range addOpts.types {
			cond.ResourceTypes = append(cond.ResourceTypes, rulespec.ResourceType(t))
		}

		action := rulespec.Action{Type: rulespec.ActionType(addOpts.action)}
		if addOpts.redirect != "" {
			action.Redirect = &rulespec.Redirect{URL: addOpts.redirect}
			if addOpts.regex != "" {
				action.Redirect = &rulespec.Redirect{RegexSubstitution: addOpts.redirect}
			}
		}
		for _, h := range addOpts.headers {
			info, err := parseHeader(h)
			if err != nil {
				return err
			}
			action.RequestHeaders = append(action.RequestHeaders, info)
		}

		return withService(cmd, func(ctx context.Context, svc api.Service) error {
			rule, err := svc.AddRule(ctx, cond, action, addOpts.priority)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rule)
		})
	},
}

// parseHeader 解析 operation:header[:value] 形式的请求头修改
func parseHeader(s string) (rulespec.ModifyHeaderInfo, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) < 2 {
		return rulespec.ModifyHeaderInfo{}, fmt.Errorf("请求头格式应为 operation:header[:value]: %q", s)
	}
	info := rulespec.ModifyHeaderInfo{
		Operation: rulespec.HeaderOperation(parts[0]),
		Header:    parts[1],
	}
	if len(parts) == 3 {
		info.Value = parts[2]
	}
	return info, nil
}

var removeCmd = &cobra.Command{
	Use:   "remove <id>...",
	Short: "删除规则",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids := make([]domain.RuleID, 0, len(args))
		for _, a := range args {
			id, err := strconv.Atoi(a)
			if err != nil {
				return fmt.Errorf("规则 ID 无效: %q", a)
			}
			ids = append(ids, domain.RuleID(id))
		}

		return withService(cmd, func(ctx context.Context, svc api.Service) error {
			for _, id := range ids {
				if svc.RemoveRule(ctx, id) {
					fmt.Fprintf(cmd.OutOrStdout(), "已删除规则 %d\n", id)
				} else {
					fmt.Fprintf(cmd.ErrOrStderr(), "规则 %d 不存在\n", id)
				}
			}
			return nil
		})
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "从 JSON 或 YAML 文件导入规则，规则 ID 重新分配",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("读取规则文件失败: %w", err)
		}
		return withService(cmd, func(ctx context.Context, svc api.Service) error {
			rules, err := svc.ImportRules(ctx, data)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "已导入 %d 条规则\n", len(rules))
			return nil
		})
	},
}

var exportOpts struct {
	format string
	name   string
	output string
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "导出规则集",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc api.Service) error {
			data, err := svc.ExportRules(ctx, exportOpts.name, rulespec.Format(exportOpts.format))
			if err != nil {
				return err
			}
			if exportOpts.output == "" {
				_, err = cmd.OutOrStdout().Write(append(data, '\n'))
				return err
			}
			return os.WriteFile(exportOpts.output, data, 0o644)
		})
	},
}

var matchOpts struct {
	method       string
	resourceType string
	initiator    string
	headers      []string
}

var matchCmd = &cobra.Command{
	Use:   "match <url>",
	Short: "用当前规则试匹配一个请求",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var headers map[string]string
		for _, h := range matchOpts.headers {
			name, value, ok := strings.Cut(h, ":")
			if !ok {
				return fmt.Errorf("请求头格式应为 name:value: %q", h)
			}
			if headers == nil {
				headers = make(map[string]string)
			}
			headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
		}

		return withService(cmd, func(ctx context.Context, svc api.Service) error {
			out := svc.Match(ctx, domain.MatchRequest{
				URL:          args[0],
				Method:       matchOpts.method,
				ResourceType: matchOpts.resourceType,
				Initiator:    matchOpts.initiator,
				Headers:      headers,
			})
			return printJSON(cmd.OutOrStdout(), out)
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "查看运行状态与各规则的同步状态",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc api.Service) error {
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"status": svc.Status(ctx),
				"sync":   svc.SyncStates(ctx),
			})
		})
	},
}

func init() {
	f := addCmd.Flags()
	f.StringVar(&addOpts.filter, "filter", "", "urlFilter 过滤器")
	f.StringVar(&addOpts.regex, "regex", "", "regexFilter 正则过滤器")
	f.BoolVar(&addOpts.caseSensitive, "case-sensitive", false, "过滤器区分大小写")
	f.StringVar(&addOpts.action, "action", string(rulespec.ActionBlock), "行为类型：block / allow / upgradeScheme / redirect / modifyHeaders")
	f.StringVar(&addOpts.redirect, "redirect", "", "重定向目标，配合 --regex 时作为 regexSubstitution")
	f.IntVar(&addOpts.priority, "priority", rulespec.DefaultPriority, "优先级")
	f.StringSliceVar(&addOpts.types, "type", nil, "资源类型，可重复")
	f.StringSliceVar(&addOpts.methods, "method", nil, "请求方法，可重复")
	f.StringSliceVar(&addOpts.domains, "domain", nil, "请求域名，可重复")
	f.StringSliceVar(&addOpts.initiators, "initiator", nil, "发起方域名，可重复")
	f.StringArrayVar(&addOpts.headers, "header", nil, "请求头修改 operation:header[:value]，可重复")

	exportCmd.Flags().StringVar(&exportOpts.format, "format", string(rulespec.FormatJSON), "导出格式：json / yaml / chrome")
	exportCmd.Flags().StringVar(&exportOpts.name, "name", "", "规则集名称")
	exportCmd.Flags().StringVarP(&exportOpts.output, "output", "o", "", "输出文件，默认写到标准输出")

	matchCmd.Flags().StringVar(&matchOpts.method, "method", "", "请求方法，默认 GET")
	matchCmd.Flags().StringVar(&matchOpts.resourceType, "type", "", "资源类型，缺省时按 URL 推断")
	matchCmd.Flags().StringVar(&matchOpts.initiator, "initiator", "", "发起方 URL 或域名")
	matchCmd.Flags().StringArrayVar(&matchOpts.headers, "header", nil, "原始请求头 name:value，可重复")

	rootCmd.AddCommand(listCmd, addCmd, removeCmd, importCmd, exportCmd, matchCmd, statusCmd)
}
