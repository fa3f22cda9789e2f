// Package devtools 通过 Chrome DevTools Protocol 驱动扩展的 declarativeNetRequest 规则引擎
package devtools

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"rulekeeper/internal/logger"
	"rulekeeper/pkg/domain"
	"rulekeeper/pkg/rulespec"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/runtime"
	"github.com/mafredri/cdp/rpcc"
)

// Gateway 附着到扩展 service worker 的规则引擎
type Gateway struct {
	devtoolsURL string
	extensionID string
	log         logger.Logger

	mu     sync.Mutex
	conn   *rpcc.Conn
	client *cdp.Client
}

// New 创建 devtools 网关，连接在首次调用时建立
// extensionID 为空时使用找到的第一个扩展 service worker
func New(devtoolsURL, extensionID string, l logger.Logger) *Gateway {
	if l == nil {
		l = logger.Nop()
	}
	return &Gateway{
		devtoolsURL: devtoolsURL,
		extensionID: extensionID,
		log:         l.With("component", "devtools"),
	}
}

// PushRule 实现 gateway.Gateway
func (g *Gateway) PushRule(ctx context.Context, rule rulespec.Rule) error {
	expr, err := UpdateExpression([]int{rule.ID}, []rulespec.Rule{rule})
	if err != nil {
		return err
	}
	_, err = g.evaluate(ctx, expr)
	return err
}

// RetractRule 实现 gateway.Gateway
func (g *Gateway) RetractRule(ctx context.Context, id domain.RuleID) error {
	expr, err := UpdateExpression([]int{int(id)}, nil)
	if err != nil {
		return err
	}
	_, err = g.evaluate(ctx, expr)
	return err
}

// ListRules 实现 gateway.Gateway
func (g *Gateway) ListRules(ctx context.Context) ([]rulespec.Rule, error) {
	raw, err := g.evaluate(ctx, listExpression)
	if err != nil {
		return nil, err
	}
	return DecodeRules(raw)
}

// Close 断开与浏览器的连接
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.resetLocked()
}

// evaluate 在扩展上下文中执行表达式并返回结果值
func (g *Gateway) evaluate(ctx context.Context, expr string) ([]byte, error) {
	client, err := g.attach(ctx)
	if err != nil {
		return nil, err
	}

	args := runtime.NewEvaluateArgs(expr).SetAwaitPromise(true).SetReturnByValue(true)
	reply, err := client.Runtime.Evaluate(ctx, args)
	if err != nil {
		// 连接可能已失效，下次调用重新附着
		g.mu.Lock()
		_ = g.resetLocked()
		g.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", domain.ErrEngineUnavailable, err)
	}
	if reply.ExceptionDetails != nil {
		return nil, fmt.Errorf("devtools: 执行失败: %s", exceptionText(reply.ExceptionDetails))
	}
	return reply.Result.Value, nil
}

// attach 返回已有客户端，不存在时查找扩展目标并建立连接
func (g *Gateway) attach(ctx context.Context) (*cdp.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil {
		return g.client, nil
	}

	targets, err := devtool.New(g.devtoolsURL).List(ctx)
	if err != nil {
		g.log.Err(err, "获取 Target 列表失败", "url", g.devtoolsURL)
		return nil, fmt.Errorf("%w: %v", domain.ErrEngineUnavailable, err)
	}
	target := g.pickTarget(targets)
	if target == nil {
		g.log.Warn("未找到扩展 service worker", "extensionId", g.extensionID)
		return nil, fmt.Errorf("%w: %s", domain.ErrTargetNotFound, g.extensionID)
	}

	conn, err := rpcc.DialContext(ctx, target.WebSocketDebuggerURL)
	if err != nil {
		g.log.Err(err, "CDP 连接建立失败", "wsURL", target.WebSocketDebuggerURL)
		return nil, fmt.Errorf("%w: %v", domain.ErrEngineUnavailable, err)
	}
	g.conn = conn
	g.client = cdp.NewClient(conn)
	g.log.Info("已附着扩展", "targetId", target.ID, "url", target.URL)
	return g.client, nil
}

// pickTarget 选择扩展的 service worker 或后台页
func (g *Gateway) pickTarget(targets []*devtool.Target) *devtool.Target {
	prefix := "chrome-extension://"
	if g.extensionID != "" {
		prefix += g.extensionID + "/"
	}
	for _, t := range targets {
		if t == nil {
			continue
		}
		if t.Type != "service_worker" && t.Type != "background_page" {
			continue
		}
		if strings.HasPrefix(t.URL, prefix) {
			return t
		}
	}
	return nil
}

func (g *Gateway) resetLocked() error {
	g.client = nil
	if g.conn == nil {
		return nil
	}
	err := g.conn.Close()
	g.conn = nil
	return err
}

func exceptionText(d *runtime.ExceptionDetails) string {
	if d.Exception != nil && d.Exception.Description != nil {
		return *d.Exception.Description
	}
	return d.Text
}
