package geotx

import (
	"context"
	"io"

	"go.uber.org/zap"
)

// ProgressFunc 进度回调, 仅作通知, 不允许反向中止导入
type ProgressFunc func(processed, total int64)

// JobSummary 一次导入的最终汇总
// Processed 只统计最终落库的要素数, 回滚后为 0
type JobSummary struct {
	JobID     string
	Status    JobStatus
	Processed int64
	Total     int64
	Err       *EditError
}

// Importer 数据导入管道: 整个导入跑在一个长事务里,
// 按存储端能力在批量插入与逐条插入之间选择执行策略
type Importer struct {
	store Store
	cfg   Config
	log   *zap.Logger
}

func NewImporter(store Store, cfg Config, log *zap.Logger) *Importer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Importer{store: store, cfg: cfg.normalize(), log: log}
}

// Import 消费 source 全部要素写入 collection
// job 可为 nil(库内/测试直调), 传入时其取消信号会联动中止导入
// 取消只在批次间生效, 回滚使用不受取消影响的 teardown 上下文
func (im *Importer) Import(ctx context.Context, src FeatureSource, collection string, job *Job, progress ProgressFunc) (*JobSummary, error) {
	if job == nil {
		job = NewJob(ctx, collection)
	}
	cfg := im.cfg
	total := src.Total()
	job.start(total)

	if cfg.TxTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.TxTimeout)
		defer cancel()
	}
	opCtx, opCancel := context.WithCancel(ctx)
	defer opCancel()
	go func() {
		select {
		case <-job.Context().Done():
			opCancel()
		case <-opCtx.Done():
		}
	}()

	// 取消与超时的归因: 先看调用方上下文(含超时), 再看任务取消
	cancelCause := func() *EditError {
		if err := ctx.Err(); err != nil {
			return fromContextErr(err)
		}
		if err := job.Context().Err(); err != nil {
			return WrapError(KindCancelled, "import cancelled", err)
		}
		return nil
	}

	caps := im.store.Capabilities()
	useTx := cfg.UseTransaction && caps.Transactions
	if cfg.UseTransaction && !caps.Transactions {
		im.log.Warn("store lacks transaction support, import proceeds without atomicity",
			zap.String("store", im.store.Name()),
			zap.String("collection", collection))
	}
	useBulk := cfg.PreferBulk && caps.BulkOperations

	var h *Handle
	if useTx {
		tx, err := im.store.Begin(opCtx, cfg.txOptions())
		if err != nil {
			ee := asEdit(err, KindStoreUnavailable, "begin import transaction")
			im.log.Error("begin import transaction failed", zap.Error(err))
			job.finish(JobFailed, 0, ee)
			return &JobSummary{JobID: job.ID, Status: JobFailed, Total: total, Err: ee}, ee
		}
		h = newHandle(tx, true)
	} else {
		h = newHandle(im.store.AutoCommit(), false)
	}

	notifier := newProgressNotifier(progress)
	defer notifier.Close()

	var processed int64
	batch := make([]*Feature, 0, cfg.BatchSize)

	fail := func(status JobStatus, ee *EditError) (*JobSummary, error) {
		// 写入中途被取消/超时打断时按取消归档
		if status == JobFailed && (ee.Kind == KindCancelled || ee.Kind == KindTimeout) {
			status = JobCancelled
		}
		if h.Transactional() {
			teardown := context.WithoutCancel(ctx)
			if rbErr := h.Rollback(teardown); rbErr != nil {
				// 回滚失败要暴露给运维, 但不能掩盖原始错误
				im.log.Error("rollback failed after import failure",
					zap.String("collection", collection), zap.Error(rbErr))
				ee.WithDetail("rollback_error", rbErr.Error())
			}
		}
		durable := int64(0)
		if !h.Transactional() {
			durable = processed
		}
		job.finish(status, durable, ee)
		notifier.Notify(durable, total)
		return &JobSummary{JobID: job.ID, Status: status, Processed: durable, Total: total, Err: ee}, ee
	}

	flush := func() *EditError {
		if len(batch) == 0 {
			return nil
		}
		n, err := h.BulkInsert(opCtx, collection, batch)
		if err != nil {
			return asEdit(err, KindStoreUnavailable, "bulk insert batch")
		}
		processed += n
		job.advance(n)
		batch = batch[:0]
		notifier.Notify(processed, total)
		return nil
	}

	for {
		// 批次之间检查取消, 不在批次中途打断
		if ee := cancelCause(); ee != nil {
			im.log.Warn("import cancelled",
				zap.String("collection", collection),
				zap.Int64("streamed", processed))
			return fail(JobCancelled, ee)
		}

		f, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fail(JobFailed, asEdit(err, KindStoreUnavailable, "read feature source"))
		}

		if useBulk {
			batch = append(batch, f)
			if len(batch) >= cfg.BatchSize {
				if ee := flush(); ee != nil {
					return fail(JobFailed, ee)
				}
			}
			continue
		}

		if _, _, err := h.Create(opCtx, collection, f); err != nil {
			return fail(JobFailed, asEdit(err, KindStoreUnavailable, "insert feature"))
		}
		processed++
		job.advance(1)
		if processed%int64(cfg.ProgressInterval) == 0 {
			notifier.Notify(processed, total)
		}
	}

	if useBulk {
		if ee := flush(); ee != nil {
			return fail(JobFailed, ee)
		}
	}

	if err := h.Commit(opCtx); err != nil {
		ee := asEdit(err, KindCommitFailed, "commit import")
		im.log.Error("commit import failed", zap.String("collection", collection), zap.Error(err))
		job.finish(JobFailed, 0, ee)
		notifier.Notify(0, total)
		return &JobSummary{JobID: job.ID, Status: JobFailed, Total: total, Err: ee}, ee
	}

	job.finish(JobCommitted, processed, nil)
	notifier.Notify(processed, total)
	im.log.Info("import committed",
		zap.String("collection", collection),
		zap.Int64("features", processed),
		zap.Bool("bulk", useBulk),
		zap.Bool("transactional", h.Transactional()))
	return &JobSummary{JobID: job.ID, Status: JobCommitted, Processed: processed, Total: total}, nil
}

// progressNotifier 把进度投递解耦到单独协程,
// 容量 1 的通道只保留最新值, 慢回调永远阻塞不了导入
type progressNotifier struct {
	fn   ProgressFunc
	ch   chan [2]int64
	done chan struct{}
}

func newProgressNotifier(fn ProgressFunc) *progressNotifier {
	if fn == nil {
		return nil
	}
	n := &progressNotifier{fn: fn, ch: make(chan [2]int64, 1), done: make(chan struct{})}
	go n.loop()
	return n
}

func (n *progressNotifier) loop() {
	defer close(n.done)
	for pair := range n.ch {
		n.fn(pair[0], pair[1])
	}
}

// Notify 非阻塞投递, 旧值未被消费时先丢弃旧值
func (n *progressNotifier) Notify(processed, total int64) {
	if n == nil {
		return
	}
	select {
	case n.ch <- [2]int64{processed, total}:
	default:
		select {
		case <-n.ch:
		default:
		}
		select {
		case n.ch <- [2]int64{processed, total}:
		default:
		}
	}
}

// Close 结束投递协程并等待已入队的最终值送达
func (n *progressNotifier) Close() {
	if n == nil {
		return
	}
	close(n.ch)
	<-n.done
}
