package geotx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hookSource 在返回第 i 个要素之前先调用 hook, 用于注入取消和故障
type hookSource struct {
	feats []*Feature
	idx   int
	hook  func(i int) error
}

func (s *hookSource) Next() (*Feature, error) {
	if s.hook != nil {
		if err := s.hook(s.idx); err != nil {
			return nil, err
		}
	}
	if s.idx >= len(s.feats) {
		return nil, io.EOF
	}
	f := s.feats[s.idx]
	s.idx++
	return f, nil
}

func (s *hookSource) Total() int64 { return int64(len(s.feats)) }
func (s *hookSource) Close() error { return nil }

func makeFeatures(n int) []*Feature {
	fs := make([]*Feature, n)
	for i := 0; i < n; i++ {
		fs[i] = testFeature(fmt.Sprintf("f-%d", i))
	}
	return fs
}

type progressLog struct {
	mu    sync.Mutex
	calls [][2]int64
}

func (p *progressLog) record(processed, total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, [2]int64{processed, total})
}

func (p *progressLog) last() [2]int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.calls) == 0 {
		return [2]int64{-1, -1}
	}
	return p.calls[len(p.calls)-1]
}

func TestImportBulkCommits(t *testing.T) {
	store := NewMemStore()
	cfg := DefaultConfig()
	cfg.BatchSize = 4
	im := NewImporter(store, cfg, nil)

	progress := &progressLog{}
	summary, err := im.Import(context.Background(), NewSliceSource(makeFeatures(10)), "parcel", nil, progress.record)
	require.NoError(t, err)

	assert.Equal(t, JobCommitted, summary.Status)
	assert.Equal(t, int64(10), summary.Processed)
	assert.Equal(t, int64(10), summary.Total)
	assert.Equal(t, 10, store.Count("parcel"))
	// 最终一次进度上报必须反映全部已落库的要素
	assert.Equal(t, [2]int64{10, 10}, progress.last())
}

func TestImportIndividualWhenBulkUnsupported(t *testing.T) {
	store := NewMemStore(WithoutBulk())
	cfg := DefaultConfig()
	cfg.ProgressInterval = 3
	im := NewImporter(store, cfg, nil)

	progress := &progressLog{}
	summary, err := im.Import(context.Background(), NewSliceSource(makeFeatures(7)), "parcel", nil, progress.record)
	require.NoError(t, err)

	assert.Equal(t, JobCommitted, summary.Status)
	assert.Equal(t, int64(7), summary.Processed)
	assert.Equal(t, 7, store.Count("parcel"))
	assert.Equal(t, [2]int64{7, 7}, progress.last())
}

func TestImportSourceFailureRollsBack(t *testing.T) {
	store := NewMemStore()
	im := NewImporter(store, DefaultConfig(), nil)

	src := &hookSource{feats: makeFeatures(20), hook: func(i int) error {
		if i == 12 {
			return errors.New("corrupt record")
		}
		return nil
	}}
	summary, err := im.Import(context.Background(), src, "parcel", nil, nil)
	require.Error(t, err)

	assert.Equal(t, JobFailed, summary.Status)
	require.NotNil(t, summary.Err)
	assert.Equal(t, KindStoreUnavailable, summary.Err.Kind)
	// 事务回滚后没有任何要素落库
	assert.Equal(t, int64(0), summary.Processed)
	assert.Equal(t, 0, store.Count("parcel"))
}

func TestImportSourceFailureWithoutTransactionKeepsPartial(t *testing.T) {
	store := NewMemStore(WithoutTransactions())
	cfg := DefaultConfig()
	cfg.PreferBulk = false
	im := NewImporter(store, cfg, nil)

	src := &hookSource{feats: makeFeatures(20), hook: func(i int) error {
		if i == 5 {
			return errors.New("corrupt record")
		}
		return nil
	}}
	summary, err := im.Import(context.Background(), src, "parcel", nil, nil)
	require.Error(t, err)

	// 无事务可回滚, 已写入的部分保持持久并如实上报
	assert.Equal(t, JobFailed, summary.Status)
	assert.Equal(t, int64(5), summary.Processed)
	assert.Equal(t, 5, store.Count("parcel"))
}

func TestImportCancelRollsBack(t *testing.T) {
	store := NewMemStore()
	cfg := DefaultConfig()
	cfg.PreferBulk = false
	im := NewImporter(store, cfg, nil)

	job := NewJob(context.Background(), "parcel")
	src := &hookSource{feats: makeFeatures(20), hook: func(i int) error {
		if i == 5 {
			job.Cancel()
		}
		return nil
	}}
	summary, err := im.Import(context.Background(), src, "parcel", job, nil)
	require.Error(t, err)

	assert.Equal(t, JobCancelled, summary.Status)
	require.NotNil(t, summary.Err)
	assert.Equal(t, KindCancelled, summary.Err.Kind)
	assert.Equal(t, int64(0), summary.Processed)
	assert.Equal(t, 0, store.Count("parcel"))
	assert.Equal(t, JobCancelled, job.Status())
}

func TestImportCancelWithoutTransactionKeepsDurable(t *testing.T) {
	store := NewMemStore(WithoutTransactions())
	cfg := DefaultConfig()
	cfg.PreferBulk = false
	im := NewImporter(store, cfg, nil)

	job := NewJob(context.Background(), "parcel")
	src := &hookSource{feats: makeFeatures(20), hook: func(i int) error {
		if i == 5 {
			job.Cancel()
		}
		return nil
	}}
	summary, err := im.Import(context.Background(), src, "parcel", job, nil)
	require.Error(t, err)

	// 取消只在要素之间生效, 第 5 个要素已经发出所以一并落库
	assert.Equal(t, JobCancelled, summary.Status)
	assert.Equal(t, int64(6), summary.Processed)
	assert.Equal(t, 6, store.Count("parcel"))
}

func TestImportTimeoutReportsTimeout(t *testing.T) {
	store := NewMemStore()
	cfg := DefaultConfig()
	cfg.TxTimeout = 30 * time.Millisecond
	im := NewImporter(store, cfg, nil)

	src := &hookSource{feats: makeFeatures(200), hook: func(i int) error {
		time.Sleep(2 * time.Millisecond)
		return nil
	}}
	summary, err := im.Import(context.Background(), src, "parcel", nil, nil)
	require.Error(t, err)

	assert.Equal(t, JobCancelled, summary.Status)
	require.NotNil(t, summary.Err)
	assert.Equal(t, KindTimeout, summary.Err.Kind)
	assert.Equal(t, int64(0), summary.Processed)
	assert.Equal(t, 0, store.Count("parcel"))
}

func TestImportCommitFailure(t *testing.T) {
	store := NewMemStore(WithCommitError(errors.New("disk full")))
	im := NewImporter(store, DefaultConfig(), nil)

	summary, err := im.Import(context.Background(), NewSliceSource(makeFeatures(3)), "parcel", nil, nil)
	require.Error(t, err)

	assert.Equal(t, JobFailed, summary.Status)
	require.NotNil(t, summary.Err)
	assert.Equal(t, KindCommitFailed, summary.Err.Kind)
	assert.Equal(t, int64(0), summary.Processed)
	assert.Equal(t, 0, store.Count("parcel"))
}

func TestImportBeginFailure(t *testing.T) {
	store := NewMemStore(WithBeginError(errors.New("connection refused")))
	im := NewImporter(store, DefaultConfig(), nil)

	summary, err := im.Import(context.Background(), NewSliceSource(makeFeatures(3)), "parcel", nil, nil)
	require.Error(t, err)
	assert.Equal(t, JobFailed, summary.Status)
	assert.Equal(t, KindStoreUnavailable, summary.Err.Kind)
}

func TestImportEmptySource(t *testing.T) {
	store := NewMemStore()
	im := NewImporter(store, DefaultConfig(), nil)

	summary, err := im.Import(context.Background(), NewSliceSource(nil), "parcel", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, JobCommitted, summary.Status)
	assert.Equal(t, int64(0), summary.Processed)
}

func TestImportSlowProgressDoesNotBlock(t *testing.T) {
	store := NewMemStore()
	cfg := DefaultConfig()
	cfg.PreferBulk = false
	cfg.ProgressInterval = 1
	im := NewImporter(store, cfg, nil)

	// 回调故意拖慢, 导入耗时不应随回调次数线性放大
	slow := func(processed, total int64) { time.Sleep(20 * time.Millisecond) }
	start := time.Now()
	summary, err := im.Import(context.Background(), NewSliceSource(makeFeatures(50)), "parcel", nil, slow)
	require.NoError(t, err)

	assert.Equal(t, JobCommitted, summary.Status)
	assert.Equal(t, 50, store.Count("parcel"))
	// 50 次慢回调串行执行要 1 秒, 解耦后导入远快于此
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestJobLifecycle(t *testing.T) {
	jm := NewJobManager()
	job := jm.NewJob(context.Background(), "parcel")
	assert.Equal(t, JobPending, job.Status())

	got, ok := jm.Get(job.ID)
	require.True(t, ok)
	assert.Same(t, job, got)

	store := NewMemStore()
	im := NewImporter(store, DefaultConfig(), nil)
	summary, err := im.Import(context.Background(), NewSliceSource(makeFeatures(4)), "parcel", job, nil)
	require.NoError(t, err)
	assert.Equal(t, JobCommitted, summary.Status)

	snap := job.Snapshot()
	assert.Equal(t, JobCommitted, snap.Status)
	assert.Equal(t, int64(4), snap.Processed)
	assert.Equal(t, int64(4), snap.Total)
	assert.Equal(t, float64(100), snap.Percent)
	assert.False(t, snap.EndedAt.IsZero())
}

func TestJobCancelBeforeStart(t *testing.T) {
	jm := NewJobManager()
	job := jm.NewJob(context.Background(), "parcel")
	require.True(t, jm.Cancel(job.ID))
	assert.Equal(t, JobCancelled, job.Status())
	assert.False(t, jm.Cancel("no-such-job"))
}

func TestJobManagerCleanup(t *testing.T) {
	jm := NewJobManager()
	done := jm.NewJob(context.Background(), "a")
	done.finish(JobCommitted, 1, nil)
	live := jm.NewJob(context.Background(), "b")

	time.Sleep(10 * time.Millisecond)
	jm.cleanup(time.Millisecond)

	_, ok := jm.Get(done.ID)
	assert.False(t, ok, "terminal job past max age must be removed")
	_, ok = jm.Get(live.ID)
	assert.True(t, ok, "running job must survive cleanup")
}
