package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"rulekeeper/internal/config"
	"rulekeeper/internal/editor"
	"rulekeeper/internal/gateway"
	"rulekeeper/internal/logger"
	"rulekeeper/internal/service"
	"rulekeeper/internal/storage/db"
	"rulekeeper/internal/storage/model"
	"rulekeeper/internal/storage/repo"
	"rulekeeper/pkg/api"
	"rulekeeper/pkg/domain"
	"rulekeeper/pkg/errx"
	"rulekeeper/pkg/rulespec"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func testConfig(engine string) *config.Config {
	cfg := config.NewConfig()
	cfg.Sqlite.Db = db.MemoryPath
	cfg.Engine.Kind = engine
	cfg.Sync.RatePerSecond = 0
	return cfg
}

// newService 创建服务并在测试结束时关闭
func newService(t *testing.T, cfg *config.Config, opts ...service.Option) api.Service {
	t.Helper()
	s, err := api.NewService(context.Background(), cfg, logger.Nop(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var blockAds = rulespec.Condition{URLFilter: "||ads.example.com^"}

// TestService_SyncToEngine 变更被同步到规则引擎并记录状态与事件
func TestService_SyncToEngine(t *testing.T) {
	gw := gateway.NewMemory()
	s := newService(t, testConfig(config.EngineMemory), service.WithGateway(gw))
	ctx := context.Background()

	rule, err := s.AddRule(ctx, blockAds, rulespec.Action{Type: rulespec.ActionBlock}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, rule.ID)
	assert.Equal(t, rulespec.DefaultPriority, rule.Priority)

	require.NoError(t, s.WaitSync(ctx))
	installed, err := gw.ListRules(ctx)
	require.NoError(t, err)
	assert.Equal(t, []rulespec.Rule{rule}, installed)

	states := s.SyncStates(ctx)
	require.Len(t, states, 1)
	assert.Equal(t, domain.SyncSynced, states[0].Status)
	assert.Equal(t, config.NewConfig().Sync.Workers, s.Status(ctx).Workers)

	records, total, err := s.QueryEvents(ctx, repo.QueryOptions{RuleID: rule.ID, Status: string(domain.SyncSynced)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "push", records[0].Op)

	assert.True(t, s.RemoveRule(ctx, domain.RuleID(rule.ID)))
	assert.False(t, s.RemoveRule(ctx, domain.RuleID(rule.ID)))
	require.NoError(t, s.WaitSync(ctx))
	installed, err = gw.ListRules(ctx)
	require.NoError(t, err)
	assert.Empty(t, installed)
	assert.Empty(t, s.SyncStates(ctx), "成功移除后不再保留同步状态")
}

// TestService_EngineFailureKeepsLocalState 引擎失败不影响本地规则
func TestService_EngineFailureKeepsLocalState(t *testing.T) {
	gw := gateway.NewMemory()
	gw.FailWith(func(domain.SyncOp, domain.RuleID) error { return gateway.ErrInjected })
	cfg := testConfig(config.EngineMemory)
	cfg.Sync.Retries = 1
	s := newService(t, cfg, service.WithGateway(gw))
	ctx := context.Background()

	rule, err := s.AddRule(ctx, blockAds, rulespec.Action{Type: rulespec.ActionBlock}, 1)
	require.NoError(t, err)
	require.NoError(t, s.WaitSync(ctx))

	assert.Len(t, s.ListRules(ctx), 1)
	states := s.SyncStates(ctx)
	require.Len(t, states, 1)
	assert.Equal(t, domain.SyncFailed, states[0].Status)
	assert.Equal(t, domain.RuleID(rule.ID), states[0].RuleID)
	assert.Equal(t, 1, s.Status(ctx).Failed)
}

// TestService_Bootstrap 启动时用引擎中的规则重建本地镜像
func TestService_Bootstrap(t *testing.T) {
	gw := gateway.NewMemory()
	ctx := context.Background()
	existing := rulespec.Rule{
		ID:       9,
		Priority: 2,
		Action:   rulespec.Action{Type: rulespec.ActionBlock},
		Condition: rulespec.Condition{
			URLFilter:     "tracker",
			ResourceTypes: rulespec.AllResourceTypes(),
		},
	}
	require.NoError(t, gw.PushRule(ctx, existing))

	s := newService(t, testConfig(config.EngineMemory), service.WithGateway(gw))
	rules := s.ListRules(ctx)
	require.Len(t, rules, 1)
	assert.Nil(t, rules[0].Condition.ResourceTypes, "完整资源类型集合被折叠")

	added, err := s.AddRule(ctx, blockAds, rulespec.Action{Type: rulespec.ActionBlock}, 1)
	require.NoError(t, err)
	assert.Equal(t, 10, added.ID)
}

// TestService_SQLiteEngine 规则持久化后可被新实例读取
func TestService_SQLiteEngine(t *testing.T) {
	gdb, err := db.New(db.Options{FullPath: db.MemoryPath})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb, model.All()...))
	defer db.Close(gdb)
	ctx := context.Background()

	first, err := api.NewService(ctx, testConfig(config.EngineSQLite), logger.Nop(), service.WithDB(gdb))
	require.NoError(t, err)
	_, err = first.AddRule(ctx, blockAds, rulespec.Action{Type: rulespec.ActionBlock}, 3)
	require.NoError(t, err)
	require.NoError(t, first.WaitSync(ctx))
	require.NoError(t, first.Close())

	second := newService(t, testConfig(config.EngineSQLite), service.WithDB(gdb))
	rules := second.ListRules(ctx)
	require.Len(t, rules, 1)
	assert.Equal(t, 3, rules[0].Priority)
}

// TestService_NoEngine 没有规则引擎时变更照常生效
func TestService_NoEngine(t *testing.T) {
	s := newService(t, testConfig(config.EngineNone))
	ctx := context.Background()

	_, err := s.AddRule(ctx, blockAds, rulespec.Action{Type: rulespec.ActionBlock}, 1)
	require.NoError(t, err)
	require.NoError(t, s.WaitSync(ctx))

	assert.Empty(t, s.SyncStates(ctx))
	status := s.Status(ctx)
	assert.False(t, status.HasEngine)
	assert.Equal(t, 1, status.Rules)
	assert.Zero(t, status.Workers)
}

// TestService_Edits 字段编辑与当前编辑状态
func TestService_Edits(t *testing.T) {
	s := newService(t, testConfig(config.EngineNone))
	ctx := context.Background()

	rule, err := s.AddRule(ctx, blockAds, rulespec.Action{Type: rulespec.ActionBlock}, 1)
	require.NoError(t, err)
	id := domain.RuleID(rule.ID)

	updated, err := s.ApplyEdit(ctx, id, editor.RequestMethodsEdit{Mode: editor.ModeExclude, Methods: []string{"POST"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"POST"}, updated.Condition.ExcludedRequestMethods)

	current, err := s.CurrentEdit(ctx, id, editor.KindRequestMethods)
	require.NoError(t, err)
	assert.Equal(t, editor.RequestMethodsEdit{Mode: editor.ModeExclude, Methods: []string{"POST"}}, current)

	_, err = s.ApplyEdit(ctx, id, editor.DomainsEdit{Field: editor.KindRequestDomains, Domains: []string{"bad_domain!"}})
	assert.True(t, errors.Is(err, domain.ErrInvalidRule))
	got, err := s.GetRule(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, updated, got, "校验失败时规则保持不变")

	_, err = s.CurrentEdit(ctx, 99, editor.KindPriority)
	assert.True(t, errors.Is(err, domain.ErrRuleNotFound))
}

// TestService_ImportExport 导入全部成功或全部失败，导出可再次导入
func TestService_ImportExport(t *testing.T) {
	s := newService(t, testConfig(config.EngineNone))
	ctx := context.Background()

	_, err := s.ImportRules(ctx, []byte(`[
		{"id": 1, "priority": 1, "action": {"type": "block"}, "condition": {"urlFilter": "ads"}},
		{"id": 2, "priority": 1, "action": {"type": "redirect"}, "condition": {"urlFilter": "x"}}
	]`))
	require.Error(t, err)
	assert.True(t, errx.Is(err, errx.CodeInvalidRedirect))
	assert.Empty(t, s.ListRules(ctx), "任一规则非法时不导入")

	added, err := s.ImportRules(ctx, []byte(`[
		{"id": 7, "priority": 2, "action": {"type": "block"}, "condition": {"urlFilter": "ads", "requestMethods": ["get", "GET"]}},
		{"id": 8, "priority": 1, "action": {"type": "upgradeScheme"}, "condition": {"requestDomains": ["example.com"]}}
	]`))
	require.NoError(t, err)
	require.Len(t, added, 2)
	assert.Equal(t, 1, added[0].ID, "导入时重新分配 ID")
	assert.Equal(t, []string{"GET"}, added[0].Condition.RequestMethods, "规则数组按浏览器格式读取，方法还原为大写")

	data, err := s.ExportRules(ctx, "导出", rulespec.FormatYAML)
	require.NoError(t, err)
	var rs rulespec.RuleSet
	require.NoError(t, yaml.Unmarshal(data, &rs))
	assert.Equal(t, "导出", rs.Name)
	assert.Equal(t, s.ListRules(ctx), rs.Rules)
}

// TestService_Snapshots 保存、恢复与删除快照
func TestService_Snapshots(t *testing.T) {
	s := newService(t, testConfig(config.EngineNone))
	ctx := context.Background()

	_, err := s.AddRule(ctx, blockAds, rulespec.Action{Type: rulespec.ActionBlock}, 1)
	require.NoError(t, err)
	record, err := s.SaveSnapshot(ctx, "基线")
	require.NoError(t, err)
	assert.Equal(t, 1, record.RuleCount)

	_, err = s.AddRule(ctx, rulespec.Condition{URLFilter: "tracker"}, rulespec.Action{Type: rulespec.ActionAllow}, 5)
	require.NoError(t, err)
	require.Len(t, s.ListRules(ctx), 2)

	restored, err := s.RestoreSnapshot(ctx, "基线")
	require.NoError(t, err)
	require.Len(t, restored, 1)
	assert.Equal(t, restored, s.ListRules(ctx))
	assert.Equal(t, blockAds, restored[0].Condition)

	list, err := s.ListSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].IsActive)

	_, err = s.RestoreSnapshot(ctx, "不存在")
	assert.True(t, errors.Is(err, domain.ErrSnapshotNotFound))

	require.NoError(t, s.DeleteSnapshot(ctx, "基线"))
	list, err = s.ListSnapshots(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

// TestService_Match 试匹配使用当前规则
func TestService_Match(t *testing.T) {
	s := newService(t, testConfig(config.EngineNone))
	ctx := context.Background()

	rule, err := s.AddRule(ctx, blockAds, rulespec.Action{Type: rulespec.ActionBlock}, 1)
	require.NoError(t, err)

	outcome := s.Match(ctx, domain.MatchRequest{URL: "https://ads.example.com/a.js"})
	require.NotNil(t, outcome.Winner)
	assert.Equal(t, domain.RuleID(rule.ID), outcome.Winner.RuleID)
	assert.Equal(t, "script", outcome.ResourceType)

	outcome = s.Match(ctx, domain.MatchRequest{URL: "https://example.org/"})
	assert.Nil(t, outcome.Winner)

	stats := s.MatchStats(ctx)
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(1), stats.Matched)
}

// TestService_InvalidConfig 非法配置无法创建服务
func TestService_InvalidConfig(t *testing.T) {
	cfg := testConfig("nope")
	_, err := api.NewService(context.Background(), cfg, nil)
	assert.True(t, errors.Is(err, domain.ErrInvalidConfig))
}

// TestService_ConstructorContextCancelled 构造时的 ctx 取消后同步仍能完成，Close 不会阻塞
func TestService_ConstructorContextCancelled(t *testing.T) {
	gw := gateway.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	s, err := api.NewService(ctx, testConfig(config.EngineMemory), logger.Nop(), service.WithGateway(gw))
	require.NoError(t, err)
	cancel()

	bg := context.Background()
	for i := 0; i < 3; i++ {
		_, err := s.AddRule(bg, blockAds, rulespec.Action{Type: rulespec.ActionBlock}, 0)
		require.NoError(t, err)
	}

	waitCtx, stop := context.WithTimeout(bg, 2*time.Second)
	defer stop()
	require.NoError(t, s.WaitSync(waitCtx), "同步未完成: %+v", s.SyncStates(bg))
	for _, st := range s.SyncStates(bg) {
		assert.Equal(t, domain.SyncSynced, st.Status, "规则 %d", st.RuleID)
	}
	installed, err := gw.ListRules(bg)
	require.NoError(t, err)
	assert.Len(t, installed, 3)

	closed := make(chan error, 1)
	go func() { closed <- s.Close() }()
	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close 未返回")
	}
}

// TestService_DomainsCanonicalized 下发到规则引擎的域名为小写 punycode
func TestService_DomainsCanonicalized(t *testing.T) {
	gw := gateway.NewMemory()
	s := newService(t, testConfig(config.EngineMemory), service.WithGateway(gw))
	ctx := context.Background()

	rule, err := s.AddRule(ctx, rulespec.Condition{
		URLFilter:        "||ads.",
		InitiatorDomains: []string{"Example.COM", "bücher.de", "example.com"},
	}, rulespec.Action{Type: rulespec.ActionBlock}, 1)
	require.NoError(t, err)
	want := []string{"example.com", "xn--bcher-kva.de"}
	assert.Equal(t, want, rule.Condition.InitiatorDomains)

	require.NoError(t, s.WaitSync(ctx))
	installed, err := gw.ListRules(ctx)
	require.NoError(t, err)
	require.Len(t, installed, 1)
	assert.Equal(t, want, installed[0].Condition.InitiatorDomains)
}

// TestService_SubscribeEvents 订阅者收到同步事件，取消或关闭后通道关闭
func TestService_SubscribeEvents(t *testing.T) {
	s, err := api.NewService(context.Background(), testConfig(config.EngineMemory), logger.Nop())
	require.NoError(t, err)
	bg := context.Background()

	ctx, cancel := context.WithCancel(bg)
	events := s.SubscribeEvents(ctx)
	kept := s.SubscribeEvents(bg)

	_, err = s.AddRule(bg, blockAds, rulespec.Action{Type: rulespec.ActionBlock}, 1)
	require.NoError(t, err)
	require.NoError(t, s.WaitSync(bg))

	select {
	case evt := <-events:
		assert.Equal(t, domain.RuleID(1), evt.RuleID)
		assert.Equal(t, domain.SyncSynced, evt.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("未收到同步事件")
	}

	cancel()
	assertClosed(t, events, "ctx 取消后通道应关闭")

	require.NoError(t, s.Close())
	<-kept // 关闭前已收到的同步事件
	assertClosed(t, kept, "服务关闭后通道应关闭")
}

func assertClosed(t *testing.T, events <-chan domain.SyncEvent, msg string) {
	t.Helper()
	select {
	case _, open := <-events:
		assert.False(t, open, msg)
	case <-time.After(time.Second):
		t.Fatal(msg)
	}
}

// TestService_ResetMatchStats 清零试匹配统计
func TestService_ResetMatchStats(t *testing.T) {
	s := newService(t, testConfig(config.EngineNone))
	ctx := context.Background()
	_, err := s.AddRule(ctx, blockAds, rulespec.Action{Type: rulespec.ActionBlock}, 1)
	require.NoError(t, err)

	s.Match(ctx, domain.MatchRequest{URL: "https://ads.example.com/x.js"})
	prev := s.ResetMatchStats(ctx)
	assert.Equal(t, int64(1), prev.Total)
	assert.Equal(t, int64(1), prev.Matched)
	assert.Zero(t, s.MatchStats(ctx).Total)
}
