package repo

import (
	"context"
	"sync"
	"time"

	"rulekeeper/internal/logger"
	"rulekeeper/internal/storage/model"
	"rulekeeper/pkg/domain"

	"gorm.io/gorm"
)

// EventRepoOptions 事件仓库配置
type EventRepoOptions struct {
	BatchSize     int           // 缓冲达到该数量时触发写入
	FlushInterval time.Duration // 定时写入间隔
	MaxBufferSize int           // 缓冲上限，超出时丢弃新事件
}

// EventRepo 同步事件仓库，事件先进入缓冲区再异步批量写入
type EventRepo struct {
	BaseRepository[model.SyncEventRecord]
	opts     EventRepoOptions
	log      logger.Logger
	buffer   []model.SyncEventRecord
	bufferMu sync.Mutex
	dropped  int64
	flushCh  chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewEventRepo 创建事件仓库并启动异步写入协程
func NewEventRepo(db *gorm.DB, l logger.Logger, opts EventRepoOptions) *EventRepo {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 5 * time.Second
	}
	if opts.MaxBufferSize <= 0 {
		opts.MaxBufferSize = 10000
	}
	if l == nil {
		l = logger.Nop()
	}

	r := &EventRepo{
		BaseRepository: *NewBaseRepository[model.SyncEventRecord](db),
		opts:           opts,
		log:            l.With("component", "eventRepo"),
		buffer:         make([]model.SyncEventRecord, 0, opts.BatchSize),
		flushCh:        make(chan struct{}, 1),
		stopCh:         make(chan struct{}),
	}
	r.wg.Add(1)
	go r.asyncWriter()
	return r
}

// asyncWriter 异步批量写入协程
func (r *EventRepo) asyncWriter() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.Flush()
			return
		case <-ticker.C:
			r.Flush()
		case <-r.flushCh:
			r.Flush()
		}
	}
}

// Flush 立即把缓冲区写入数据库
func (r *EventRepo) Flush() {
	r.bufferMu.Lock()
	if len(r.buffer) == 0 {
		r.bufferMu.Unlock()
		return
	}
	toWrite := r.buffer
	r.buffer = make([]model.SyncEventRecord, 0, r.opts.BatchSize)
	r.bufferMu.Unlock()

	if err := r.CreateBatch(context.Background(), toWrite, WithCreateBatchSize(r.opts.BatchSize)); err != nil {
		r.log.Err(err, "写入同步事件失败", "count", len(toWrite))
	}
}

// Stop 停止异步写入，退出前写入剩余事件
func (r *EventRepo) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
	r.wg.Wait()
}

// Dropped 返回因缓冲区已满而丢弃的事件数量
func (r *EventRepo) Dropped() int64 {
	r.bufferMu.Lock()
	defer r.bufferMu.Unlock()
	return r.dropped
}

// Record 记录同步事件，不阻塞调用方
func (r *EventRepo) Record(evt domain.SyncEvent) {
	record := model.SyncEventRecord{
		TraceID:   evt.TraceID,
		RuleID:    int(evt.RuleID),
		Op:        string(evt.Op),
		Status:    string(evt.Status),
		Attempt:   evt.Attempt,
		Error:     evt.Error,
		Timestamp: evt.Timestamp,
	}
	if record.Timestamp == 0 {
		record.Timestamp = time.Now().UnixMilli()
	}

	r.bufferMu.Lock()
	if len(r.buffer) >= r.opts.MaxBufferSize {
		r.dropped++
		r.bufferMu.Unlock()
		r.log.Warn("同步事件缓冲区已满，丢弃事件", "traceId", evt.TraceID, "ruleId", evt.RuleID)
		return
	}
	r.buffer = append(r.buffer, record)
	needFlush := len(r.buffer) >= r.opts.BatchSize
	r.bufferMu.Unlock()

	if needFlush {
		select {
		case r.flushCh <- struct{}{}:
		default:
		}
	}
}

// QueryOptions 查询选项
type QueryOptions struct {
	RuleID    int
	Status    string // pending / synced / failed
	Op        string // push / retract
	TraceID   string
	StartTime int64
	EndTime   int64
	Offset    int
	Limit     int
}

// Query 查询同步事件历史，按时间倒序
func (r *EventRepo) Query(ctx context.Context, opts QueryOptions) ([]model.SyncEventRecord, int64, error) {
	filter := FilterFunc(func(db *gorm.DB) *gorm.DB {
		if opts.RuleID > 0 {
			db = db.Where("rule_id = ?", opts.RuleID)
		}
		if opts.Status != "" {
			db = db.Where("status = ?", opts.Status)
		}
		if opts.Op != "" {
			db = db.Where("op = ?", opts.Op)
		}
		if opts.TraceID != "" {
			db = db.Where("trace_id = ?", opts.TraceID)
		}
		if opts.StartTime > 0 {
			db = db.Where("timestamp >= ?", opts.StartTime)
		}
		if opts.EndTime > 0 {
			db = db.Where("timestamp <= ?", opts.EndTime)
		}
		return db
	})

	total, err := r.Count(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	if opts.Limit <= 0 {
		opts.Limit = 100
	}
	if opts.Limit > 1000 {
		opts.Limit = 1000
	}

	records, err := r.FindAll(ctx, filter,
		&Pagination{Offset: opts.Offset, Limit: opts.Limit},
		Orders{{Field: "timestamp", Sort: "DESC"}, {Field: "id", Sort: "DESC"}},
	)
	return records, total, err
}

// DeleteOldEvents 删除指定时间戳之前的事件
func (r *EventRepo) DeleteOldEvents(ctx context.Context, beforeTimestamp int64) (int64, error) {
	result := r.Db.WithContext(ctx).Where("timestamp < ?", beforeTimestamp).Delete(&model.SyncEventRecord{})
	return result.RowsAffected, result.Error
}

// CleanupOldEvents 根据保留天数清理旧事件
func (r *EventRepo) CleanupOldEvents(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		retentionDays = 7
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays).UnixMilli()
	return r.DeleteOldEvents(ctx, cutoff)
}

// ClearAll 清空所有事件
func (r *EventRepo) ClearAll(ctx context.Context) error {
	return r.Db.WithContext(ctx).Where("1 = 1").Delete(&model.SyncEventRecord{}).Error
}
