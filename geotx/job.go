package geotx

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// JobStatus 导入任务状态
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobRunning    JobStatus = "running"
	JobCommitted  JobStatus = "committed"
	JobRolledBack JobStatus = "rolledback"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// Terminal 是否已到终态, 终态不再变化
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCommitted, JobRolledBack, JobFailed, JobCancelled:
		return true
	}
	return false
}

// Job 一次导入任务的运行期状态, 只由持有它的管道修改
type Job struct {
	ID         string
	Collection string

	ctx    context.Context
	cancel context.CancelFunc

	processed atomic.Int64

	mu        sync.RWMutex
	status    JobStatus
	total     int64
	err       *EditError
	createdAt time.Time
	startedAt time.Time
	endedAt   time.Time
}

// NewJob 构造未注册的独立任务, 测试和库内使用
func NewJob(parent context.Context, collection string) *Job {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Job{
		ID:         uuid.New().String(),
		Collection: collection,
		ctx:        ctx,
		cancel:     cancel,
		status:     JobPending,
		total:      -1,
		createdAt:  time.Now(),
	}
}

// Context 任务生命周期上下文, 取消即请求中止导入
func (j *Job) Context() context.Context {
	return j.ctx
}

// Cancel 请求取消, 尚未启动的任务直接进入取消终态
func (j *Job) Cancel() {
	j.cancel()
	j.mu.Lock()
	if j.status == JobPending {
		j.status = JobCancelled
		j.endedAt = time.Now()
	}
	j.mu.Unlock()
}

// Status 当前状态
func (j *Job) Status() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

func (j *Job) start(total int64) {
	j.mu.Lock()
	if j.status == JobPending {
		j.status = JobRunning
		j.total = total
		j.startedAt = time.Now()
	}
	j.mu.Unlock()
}

func (j *Job) advance(n int64) {
	j.processed.Add(n)
}

// finish 进入终态, 只有第一次生效
func (j *Job) finish(status JobStatus, processed int64, err *EditError) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return
	}
	j.status = status
	j.err = err
	j.endedAt = time.Now()
	j.processed.Store(processed)
}

// JobSnapshot 对外暴露的任务快照
type JobSnapshot struct {
	ID         string    `json:"job_id"`
	Collection string    `json:"collection"`
	Status     JobStatus `json:"status"`
	Processed  int64     `json:"processed"`
	Total      int64     `json:"total"`
	Percent    float64   `json:"percent"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	EndedAt    time.Time `json:"ended_at,omitempty"`
}

// Snapshot 当前快照, 任意并发读取安全
func (j *Job) Snapshot() JobSnapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()
	snap := JobSnapshot{
		ID:         j.ID,
		Collection: j.Collection,
		Status:     j.status,
		Processed:  j.processed.Load(),
		Total:      j.total,
		CreatedAt:  j.createdAt,
		StartedAt:  j.startedAt,
		EndedAt:    j.endedAt,
	}
	if j.err != nil {
		snap.Error = j.err.Error()
	}
	if snap.Total > 0 {
		snap.Percent = float64(snap.Processed) / float64(snap.Total) * 100
	}
	if snap.Status == JobCommitted {
		snap.Percent = 100
	}
	return snap
}

// JobManager 任务注册表, 按任务 id 索引
// 作为显式依赖注入到接入层, 不做包级全局状态
type JobManager struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

func NewJobManager() *JobManager {
	return &JobManager{jobs: make(map[string]*Job)}
}

// NewJob 创建并注册任务
func (m *JobManager) NewJob(parent context.Context, collection string) *Job {
	j := NewJob(parent, collection)
	m.mu.Lock()
	m.jobs[j.ID] = j
	m.mu.Unlock()
	return j
}

func (m *JobManager) Get(id string) (*Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	return j, ok
}

// Cancel 取消指定任务, 不存在返回 false
func (m *JobManager) Cancel(id string) bool {
	m.mu.RLock()
	j, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	j.Cancel()
	return true
}

func (m *JobManager) Remove(id string) {
	m.mu.Lock()
	delete(m.jobs, id)
	m.mu.Unlock()
}

// Snapshots 全部任务快照
func (m *JobManager) Snapshots() []JobSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]JobSnapshot, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j.Snapshot())
	}
	return out
}

// CleanupLoop 周期清理超龄的终态任务, 随 ctx 结束退出
func (m *JobManager) CleanupLoop(ctx context.Context, maxAge time.Duration) {
	interval := maxAge / 2
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.cleanup(maxAge)
		}
	}
}

func (m *JobManager) cleanup(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, j := range m.jobs {
		snap := j.Snapshot()
		if snap.Status.Terminal() && !snap.EndedAt.IsZero() && snap.EndedAt.Before(cutoff) {
			delete(m.jobs, id)
		}
	}
}
