package service

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/joeczar/vacay-photo-map-sub003/internal/repository"
	"github.com/joeczar/vacay-photo-map-sub003/pkg/log"
)

// 单个上传任务的终态。
const (
	TaskStatePending   = "pending"
	TaskStateUploading = "uploading"
	TaskStateSucceeded = "succeeded"
	TaskStateFailed    = "failed"
)

// ProgressRecord 是一个文件在批次中的进度视图。
type ProgressRecord struct {
	Index    int    `json:"index"`
	FileName string `json:"fileName"`
	Percent  int    `json:"percent"`
	State    string `json:"state"`
}

// BatchSnapshot 是一个批次进度的只读快照，供轮询接口和
// WebSocket 推送使用。
type BatchSnapshot struct {
	BatchID string           `json:"batchId"`
	TripID  uint             `json:"tripId"`
	Overall int              `json:"overall"`
	Done    bool             `json:"done"`
	Records []ProgressRecord `json:"records"`
}

// batchSession 持有一个批次的全部可变状态。它只被编排循环这个
// 单一写者修改，外部只能通过快照读取。归一化后的缓冲在会话中
// 保留，重试时直接复用而不会重新压缩。
type batchSession struct {
	id      string
	tripID  uint
	ownerID uint
	records []ProgressRecord
	overall int
	done    bool
	tasks   []UploadTask
	errs    []UploadError
	touched time.Time
}

// ProgressTracker 按批次维护上传进度。内存中的状态是权威数据，
// 每次更新同时镜像到 Redis，断线的客户端可以继续轮询。
type ProgressTracker struct {
	mu           sync.RWMutex
	batches      map[string]*batchSession
	progressRepo repository.ProgressRepository // 可为 nil（测试场景）
	ttl          time.Duration
}

// NewProgressTracker 创建一个新的 ProgressTracker。
func NewProgressTracker(progressRepo repository.ProgressRepository, ttl time.Duration) *ProgressTracker {
	return &ProgressTracker{
		batches:      make(map[string]*batchSession),
		progressRepo: progressRepo,
		ttl:          ttl,
	}
}

// Start 为一次批量上传创建会话，返回批次 ID。每次创建新会话时顺带
// 清理超过 TTL 未活动的旧会话，保留的归一化缓冲随之释放。
func (t *ProgressTracker) Start(tripID, ownerID uint, fileNames []string) string {
	id := uuid.NewString()
	records := make([]ProgressRecord, len(fileNames))
	for i, name := range fileNames {
		records[i] = ProgressRecord{Index: i, FileName: name, State: TaskStatePending}
	}

	now := time.Now()
	t.mu.Lock()
	t.sweepLocked(now)
	t.batches[id] = &batchSession{id: id, tripID: tripID, ownerID: ownerID, records: records, touched: now}
	t.mu.Unlock()
	return id
}

// sweepLocked 移除超过 TTL 未活动的会话。Redis 镜像带有自己的过期
// 时间，这里只需回收内存。调用方必须持有写锁。
func (t *ProgressTracker) sweepLocked(now time.Time) {
	if t.ttl <= 0 {
		return
	}
	for id, session := range t.batches {
		if now.Sub(session.touched) > t.ttl {
			delete(t.batches, id)
		}
	}
}

// Update 更新单个文件的进度并重新计算批次总进度。
// 总进度是“已终结文件数 + 在途文件自身进度”的加权混合，在一次
// 尝试内单调不减。
func (t *ProgressTracker) Update(ctx context.Context, batchID string, index, percent int, state string) {
	t.mu.Lock()
	session, ok := t.batches[batchID]
	if !ok || index < 0 || index >= len(session.records) {
		t.mu.Unlock()
		return
	}

	session.touched = time.Now()
	rec := &session.records[index]
	if percent > rec.Percent {
		rec.Percent = percent
	}
	if state != "" {
		rec.State = state
	}
	if rec.State == TaskStateSucceeded || rec.State == TaskStateFailed {
		rec.Percent = 100
	}

	overall := computeOverall(session.records)
	if overall > session.overall {
		session.overall = overall
	}
	snapshot := session.snapshot()
	t.mu.Unlock()

	t.mirror(ctx, snapshot)
}

// BeginRetry 把指定下标的记录重置为待上传并重新计算总进度。
// 重试是一次新的尝试，总进度允许从头低于上一次的终值。
func (t *ProgressTracker) BeginRetry(batchID string, indices []int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	session, ok := t.batches[batchID]
	if !ok {
		return
	}
	session.touched = time.Now()
	for _, idx := range indices {
		if idx >= 0 && idx < len(session.records) {
			session.records[idx].Percent = 0
			session.records[idx].State = TaskStatePending
		}
	}
	session.done = false
	session.overall = computeOverall(session.records)
}

// Finish 标记批次结束并保存任务与错误列表供后续重试使用。
// 没有失败的批次不会再被重试，其归一化缓冲当场释放。
func (t *ProgressTracker) Finish(ctx context.Context, batchID string, tasks []UploadTask, errs []UploadError) {
	if len(errs) == 0 {
		for i := range tasks {
			tasks[i].File.Data = nil
		}
	}

	t.mu.Lock()
	session, ok := t.batches[batchID]
	if !ok {
		t.mu.Unlock()
		return
	}
	session.touched = time.Now()
	session.done = true
	session.tasks = tasks
	session.errs = errs
	session.overall = 100
	snapshot := session.snapshot()
	t.mu.Unlock()

	t.mirror(ctx, snapshot)
}

// Snapshot 返回批次进度的只读快照。
func (t *ProgressTracker) Snapshot(batchID string) (BatchSnapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	session, ok := t.batches[batchID]
	if !ok {
		return BatchSnapshot{}, false
	}
	return session.snapshot(), true
}

// Session 返回批次保留的任务与错误列表，供重试编排使用。
func (t *ProgressTracker) Session(batchID string) (tripID uint, ownerID uint, tasks []UploadTask, errs []UploadError, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	session, found := t.batches[batchID]
	if !found {
		return 0, 0, nil, nil, false
	}
	tasksCopy := make([]UploadTask, len(session.tasks))
	copy(tasksCopy, session.tasks)
	errsCopy := make([]UploadError, len(session.errs))
	copy(errsCopy, session.errs)
	return session.tripID, session.ownerID, tasksCopy, errsCopy, true
}

// Owner 返回批次所属的用户 ID，进度读取路径据此做归属校验。
func (t *ProgressTracker) Owner(batchID string) (uint, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	session, ok := t.batches[batchID]
	if !ok {
		return 0, false
	}
	return session.ownerID, true
}

// Drop 移除一个批次的会话与 Redis 镜像。
func (t *ProgressTracker) Drop(ctx context.Context, batchID string) {
	t.mu.Lock()
	delete(t.batches, batchID)
	t.mu.Unlock()

	if t.progressRepo != nil {
		if err := t.progressRepo.ClearProgress(ctx, batchID); err != nil {
			log.Warnf("[ProgressTracker] 清理 Redis 进度镜像失败, batchID: %s, error: %v", batchID, err)
		}
	}
}

// snapshot 在持锁状态下构造会话快照。
func (s *batchSession) snapshot() BatchSnapshot {
	records := make([]ProgressRecord, len(s.records))
	copy(records, s.records)
	return BatchSnapshot{
		BatchID: s.id,
		TripID:  s.tripID,
		Overall: s.overall,
		Done:    s.done,
		Records: records,
	}
}

// computeOverall 计算批次总进度：终结的文件计 100，在途文件计其
// 自身百分比，归一化为单个 0-100 的值。
func computeOverall(records []ProgressRecord) int {
	if len(records) == 0 {
		return 0
	}
	sum := 0
	for _, rec := range records {
		switch rec.State {
		case TaskStateSucceeded, TaskStateFailed:
			sum += 100
		default:
			sum += rec.Percent
		}
	}
	return sum / len(records)
}

// mirror 将快照写入 Redis，失败只记日志不影响上传流程。
func (t *ProgressTracker) mirror(ctx context.Context, snapshot BatchSnapshot) {
	if t.progressRepo == nil {
		return
	}
	fields := map[string]interface{}{
		"tripId":  strconv.FormatUint(uint64(snapshot.TripID), 10),
		"overall": strconv.Itoa(snapshot.Overall),
		"done":    strconv.FormatBool(snapshot.Done),
	}
	for _, rec := range snapshot.Records {
		fields["file:"+strconv.Itoa(rec.Index)] = rec.State + ":" + strconv.Itoa(rec.Percent)
	}
	if err := t.progressRepo.MirrorProgress(ctx, snapshot.BatchID, fields, t.ttl); err != nil {
		log.Warnf("[ProgressTracker] 镜像进度到 Redis 失败, batchID: %s, error: %v", snapshot.BatchID, err)
	}
}
