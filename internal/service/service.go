// Package service 组装规则存储、同步调度、规则引擎与持久化，对外提供统一的服务入口
package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"rulekeeper/internal/audit"
	"rulekeeper/internal/config"
	"rulekeeper/internal/editor"
	"rulekeeper/internal/gateway"
	"rulekeeper/internal/gateway/devtools"
	"rulekeeper/internal/gateway/persist"
	"rulekeeper/internal/logger"
	"rulekeeper/internal/matcher"
	"rulekeeper/internal/normalize"
	"rulekeeper/internal/pool"
	"rulekeeper/internal/storage/db"
	"rulekeeper/internal/storage/model"
	"rulekeeper/internal/storage/repo"
	"rulekeeper/internal/store"
	"rulekeeper/internal/syncer"
	"rulekeeper/pkg/domain"
	"rulekeeper/pkg/rulespec"

	"gorm.io/gorm"
	gl "gorm.io/gorm/logger"
)

// eventBuffer 每个同步事件订阅通道的容量
const eventBuffer = 256

type svc struct {
	cfg *config.Config
	log logger.Logger

	gdb       *gorm.DB
	ownsDB    bool
	eventRepo *repo.EventRepo
	ruleSets  *repo.RuleSetRepo

	gw      gateway.Gateway
	pool    *pool.Pool
	syncer  *syncer.Syncer
	store   *store.Store
	matcher *matcher.Engine
	auditor *audit.Auditor

	closeOnce sync.Once
}

// Option 服务构造选项
type Option func(*svc)

// WithGateway 使用指定的规则引擎，忽略配置中的引擎类型
func WithGateway(gw gateway.Gateway) Option {
	return func(s *svc) { s.gw = gw }
}

// WithDB 使用已打开的数据库连接，服务关闭时不会关闭该连接
func WithDB(gdb *gorm.DB) Option {
	return func(s *svc) { s.gdb = gdb }
}

// New 创建服务实例
// 存在规则引擎时启动同步调度，并用引擎中已安装的规则重建本地镜像
func New(ctx context.Context, cfg *config.Config, l logger.Logger, opts ...Option) (*svc, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if l == nil {
		l = logger.Nop()
	}

	s := &svc{
		cfg:     cfg,
		log:     l,
		matcher: matcher.New(nil),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.gdb == nil {
		gdb, err := openDB(cfg, l)
		if err != nil {
			return nil, err
		}
		s.gdb = gdb
		s.ownsDB = true
	}
	s.eventRepo = repo.NewEventRepo(s.gdb, l, repo.EventRepoOptions{})
	s.auditor = audit.New(s.eventRepo, l)
	s.ruleSets = repo.NewRuleSetRepo(s.gdb)

	if s.gw == nil {
		s.gw = newGateway(cfg, s.gdb, l)
	}

	var dispatcher store.Dispatcher
	if s.gw != nil {
		s.pool = pool.New(cfg.Sync.Workers, cfg.Sync.QueueCap, l)
		// 同步任务的生命周期由 Close 控制，不随构造时的 ctx 取消
		s.pool.Start(context.WithoutCancel(ctx))
		s.syncer = syncer.New(s.gw, s.pool, s.auditor, syncer.Options{
			Retries:       cfg.Sync.Retries,
			RatePerSecond: cfg.Sync.RatePerSecond,
			Burst:         cfg.Sync.Burst,
			Timeout:       cfg.Sync.Timeout(),
		}, l)
		dispatcher = s.syncer
	}
	s.store = store.New(dispatcher, l)

	s.bootstrap(ctx)
	l.Info("服务已启动", "engine", cfg.Engine.Kind, "rules", s.store.Len())
	return s, nil
}

// openDB 打开并迁移数据库，Db 为内存路径或绝对路径时直接使用
func openDB(cfg *config.Config, l logger.Logger) (*gorm.DB, error) {
	opts := db.Options{
		Prefix: cfg.Sqlite.Prefix,
		Logger: db.NewLogger(l).LogMode(gl.Warn),
	}
	if cfg.Sqlite.Db == db.MemoryPath || filepath.IsAbs(cfg.Sqlite.Db) {
		opts.FullPath = cfg.Sqlite.Db
	} else {
		opts.Name = cfg.Sqlite.Db
	}

	gdb, err := db.New(opts)
	if err != nil {
		l.Err(err, "数据库初始化失败")
		return nil, fmt.Errorf("%w: %v", domain.ErrDatabaseNotInitialized, err)
	}
	if err := db.Migrate(gdb, model.All()...); err != nil {
		l.Err(err, "数据库迁移失败")
		_ = db.Close(gdb)
		return nil, fmt.Errorf("%w: %v", domain.ErrDatabaseNotInitialized, err)
	}
	return gdb, nil
}

// newGateway 按配置创建规则引擎，none 返回 nil
func newGateway(cfg *config.Config, gdb *gorm.DB, l logger.Logger) gateway.Gateway {
	switch cfg.Engine.Kind {
	case config.EngineMemory:
		return gateway.NewMemory()
	case config.EngineSQLite:
		return persist.New(repo.NewRuleRepo(gdb))
	case config.EngineDevTools:
		return devtools.New(cfg.Engine.DevToolsURL, cfg.Engine.ExtensionID, l)
	default:
		return nil
	}
}

// bootstrap 从规则引擎读取已安装规则，失败时以空镜像继续运行
func (s *svc) bootstrap(ctx context.Context) {
	if s.gw == nil {
		return
	}
	timeout := s.cfg.Sync.Timeout()
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	loadCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rules, err := s.gw.ListRules(loadCtx)
	if err != nil {
		s.log.Err(err, "读取引擎规则失败，以空规则启动")
		return
	}
	if err := s.store.Load(rules); err != nil {
		s.log.Err(err, "重建规则镜像失败，以空规则启动")
	}
}

// ListRules 按插入顺序返回全部规则
func (s *svc) ListRules(ctx context.Context) []rulespec.Rule {
	return s.store.List()
}

// GetRule 获取单条规则
func (s *svc) GetRule(ctx context.Context, id domain.RuleID) (rulespec.Rule, error) {
	return s.store.Get(id)
}

// AddRule 新建规则
func (s *svc) AddRule(ctx context.Context, cond rulespec.Condition, action rulespec.Action, priority int) (rulespec.Rule, error) {
	return s.store.Add(cond, action, priority)
}

// UpdateRule 局部修改规则
func (s *svc) UpdateRule(ctx context.Context, id domain.RuleID, patch rulespec.RulePatch) (rulespec.Rule, error) {
	return s.store.Update(id, patch)
}

// ApplyEdit 应用单个字段的编辑
func (s *svc) ApplyEdit(ctx context.Context, id domain.RuleID, e editor.Edit) (rulespec.Rule, error) {
	patch, err := e.Patch()
	if err != nil {
		return rulespec.Rule{}, err
	}
	return s.store.Update(id, patch)
}

// CurrentEdit 返回规则某个字段当前的编辑状态
func (s *svc) CurrentEdit(ctx context.Context, id domain.RuleID, kind editor.Kind) (editor.Edit, error) {
	rule, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	return editor.Current(rule, kind)
}

// RemoveRule 删除规则，返回规则是否存在
func (s *svc) RemoveRule(ctx context.Context, id domain.RuleID) bool {
	return s.store.Remove(id)
}

// ImportRules 导入规则集文件，规则按顺序追加并重新分配 ID
// 任一规则非法时不导入任何规则
func (s *svc) ImportRules(ctx context.Context, data []byte) ([]rulespec.Rule, error) {
	rs, err := rulespec.ParseRuleSet(data)
	if err != nil {
		return nil, err
	}
	return s.addAll(rs.Rules)
}

// ExportRules 按指定格式导出全部规则
func (s *svc) ExportRules(ctx context.Context, name string, format rulespec.Format) ([]byte, error) {
	return rulespec.NewRuleSet(name, s.store.List()).Encode(format)
}

// addAll 先整体校验再逐条添加
func (s *svc) addAll(rules []rulespec.Rule) ([]rulespec.Rule, error) {
	for i, r := range rules {
		if _, err := normalize.NewRule(r); err != nil {
			return nil, fmt.Errorf("第 %d 条规则: %w", i+1, err)
		}
	}

	added := make([]rulespec.Rule, 0, len(rules))
	for _, r := range rules {
		rule, err := s.store.Add(r.Condition, r.Action, r.Priority)
		if err != nil {
			return added, err
		}
		added = append(added, rule)
	}
	s.log.Info("规则已导入", "count", len(added))
	return added, nil
}

// Match 用当前规则对请求做试匹配
func (s *svc) Match(ctx context.Context, req domain.MatchRequest) domain.MatchOutcome {
	s.matcher.Update(s.store.List())
	return s.matcher.Match(req)
}

// MatchStats 返回试匹配统计
func (s *svc) MatchStats(ctx context.Context) domain.EngineStats {
	return s.matcher.Stats()
}

// ResetMatchStats 清零试匹配统计
func (s *svc) ResetMatchStats(ctx context.Context) domain.EngineStats {
	stats := s.matcher.ResetStats()
	s.log.Info("试匹配统计已清零", "total", stats.Total, "matched", stats.Matched)
	return stats
}

// SyncStates 返回全部规则的同步状态
func (s *svc) SyncStates(ctx context.Context) []domain.SyncState {
	if s.syncer == nil {
		return []domain.SyncState{}
	}
	return s.syncer.States()
}

// WaitSync 等待已派发的同步任务执行完毕
func (s *svc) WaitSync(ctx context.Context) error {
	if s.syncer == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.syncer.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubscribeEvents 订阅同步事件直到 ctx 取消或服务关闭，届时通道被关闭
// 通道满时新事件被丢弃
func (s *svc) SubscribeEvents(ctx context.Context) <-chan domain.SyncEvent {
	events, cancel := s.auditor.Subscribe(eventBuffer)
	context.AfterFunc(ctx, cancel)
	return events
}

// QueryEvents 查询同步事件历史
func (s *svc) QueryEvents(ctx context.Context, opts repo.QueryOptions) ([]model.SyncEventRecord, int64, error) {
	s.eventRepo.Flush()
	return s.eventRepo.Query(ctx, opts)
}

// CleanupEvents 清理超过保留天数的同步事件
func (s *svc) CleanupEvents(ctx context.Context, retentionDays int) (int64, error) {
	return s.eventRepo.CleanupOldEvents(ctx, retentionDays)
}

// SaveSnapshot 以当前规则保存快照，同名快照被覆盖
func (s *svc) SaveSnapshot(ctx context.Context, name string) (*model.RuleSetRecord, error) {
	record, err := s.ruleSets.Upsert(ctx, rulespec.NewRuleSet(name, s.store.List()))
	if err != nil {
		return nil, err
	}
	s.log.Info("快照已保存", "name", name, "rules", record.RuleCount)
	return record, nil
}

// ListSnapshots 列出全部快照
func (s *svc) ListSnapshots(ctx context.Context) ([]model.RuleSetRecord, error) {
	return s.ruleSets.List(ctx)
}

// DeleteSnapshot 删除快照
func (s *svc) DeleteSnapshot(ctx context.Context, name string) error {
	return s.ruleSets.DeleteByName(ctx, name)
}

// RestoreSnapshot 用快照内容替换当前全部规则
// 快照规则整体校验通过后才会移除现有规则
func (s *svc) RestoreSnapshot(ctx context.Context, name string) ([]rulespec.Rule, error) {
	record, err := s.ruleSets.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrSnapshotNotFound, name)
	}
	rs, err := repo.ToRuleSet(record)
	if err != nil {
		return nil, err
	}
	for i, r := range rs.Rules {
		if _, err := normalize.NewRule(r); err != nil {
			return nil, fmt.Errorf("第 %d 条规则: %w", i+1, err)
		}
	}

	for _, r := range s.store.List() {
		s.store.Remove(domain.RuleID(r.ID))
	}
	added, err := s.addAll(rs.Rules)
	if err != nil {
		return added, err
	}
	if err := s.ruleSets.SetActive(ctx, name); err != nil {
		s.log.Err(err, "标记活跃快照失败", "name", name)
	}
	return added, nil
}

// Status 返回服务运行状态
func (s *svc) Status(ctx context.Context) domain.ServiceStatus {
	st := domain.ServiceStatus{
		Version:   s.cfg.Version,
		Engine:    s.cfg.Engine.Kind,
		HasEngine: s.store.HasEngine(),
		Rules:     s.store.Len(),
	}
	for _, state := range s.SyncStates(ctx) {
		switch state.Status {
		case domain.SyncPending:
			st.Pending++
		case domain.SyncFailed:
			st.Failed++
		}
	}
	if s.pool != nil {
		st.QueueLen = s.pool.Stats().QueueLen
		st.Workers = s.pool.Size()
	}
	return st
}

// Close 停止同步调度并释放资源，可重复调用
func (s *svc) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		if s.syncer != nil {
			s.syncer.Stop()
		}
		if s.pool != nil {
			s.pool.Stop()
		}
		s.auditor.Close()
		if err := gateway.Close(s.gw); err != nil {
			errs = append(errs, err)
		}
		s.eventRepo.Stop()
		if s.ownsDB {
			if err := db.Close(s.gdb); err != nil {
				errs = append(errs, err)
			}
		}
		s.log.Info("服务已关闭")
	})
	return errors.Join(errs...)
}
