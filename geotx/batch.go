package geotx

import (
	"context"

	"go.uber.org/zap"
)

// Orchestrator 批量编辑编排器
// 一次 ApplyBatch 对应恰好一次事务开启和恰好一次提交或回滚
type Orchestrator struct {
	store Store
	cfg   Config
	log   *zap.Logger
}

func NewOrchestrator(store Store, cfg Config, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{store: store, cfg: cfg.normalize(), log: log}
}

// ApplyBatch 按提交顺序执行命令, 返回等长同序的结果
// rollbackOnFailure 为 true 时首个失败立即回滚整批,
// 未执行的命令标记 batch_aborted, 已成功的命令因效果被撤销同样降级
func (o *Orchestrator) ApplyBatch(ctx context.Context, commands []EditCommand, rollbackOnFailure bool) []EditResult {
	results := make([]EditResult, len(commands))
	if len(commands) == 0 {
		return results
	}

	cfg := o.cfg
	if cfg.TxTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.TxTimeout)
		defer cancel()
	}

	caps := o.store.Capabilities()
	useTx := cfg.UseTransaction && caps.Transactions
	if cfg.UseTransaction && !caps.Transactions {
		o.log.Warn("store lacks transaction support, batch degrades to per-command atomicity",
			zap.String("store", o.store.Name()))
	}

	var h *Handle
	if useTx {
		tx, err := o.store.Begin(ctx, cfg.txOptions())
		if err != nil {
			ee := asEdit(err, KindStoreUnavailable, "begin transaction")
			o.log.Error("begin transaction failed", zap.String("store", o.store.Name()), zap.Error(err))
			for i, cmd := range commands {
				results[i] = failResult(cmd.ID, ee)
			}
			return results
		}
		h = newHandle(tx, true)
	} else {
		h = newHandle(o.store.AutoCommit(), false)
	}

	for i := range commands {
		cmd := &commands[i]
		var ee *EditError
		if ctxErr := ctx.Err(); ctxErr != nil {
			ee = fromContextErr(ctxErr)
		} else {
			var id string
			var ver *VersionToken
			id, ver, ee = o.applyOne(ctx, h, cmd)
			if ee == nil {
				results[i] = EditResult{Success: true, ID: id, NewVersion: ver}
				continue
			}
		}

		results[i] = failResult(cmd.ID, ee)
		if !rollbackOnFailure {
			continue
		}

		// 中止: 未执行的命令不再发往存储端
		aborted := NewError(KindBatchAborted, "skipped after earlier failure in batch").
			WithDetail("failed_index", i)
		for j := i + 1; j < len(commands); j++ {
			results[j] = failResult(commands[j].ID, aborted)
		}
		o.abort(ctx, h, results, i, ee)
		return results
	}

	if err := h.Commit(ctx); err != nil {
		commitErr := asEdit(err, KindCommitFailed, "commit batch")
		o.log.Error("commit failed, batch downgraded", zap.String("store", o.store.Name()), zap.Error(err))
		for i, cmd := range commands {
			id := results[i].ID
			if id == "" {
				id = cmd.ID
			}
			results[i] = failResult(id, commitErr)
		}
	}
	return results
}

// abort 回滚并降级先前成功的结果
// 降级通道上没有可回滚的事务, 已生效的命令保持成功标记
func (o *Orchestrator) abort(ctx context.Context, h *Handle, results []EditResult, failedIdx int, cause *EditError) {
	if !h.Transactional() {
		o.log.Warn("batch aborted without transaction, applied commands remain durable",
			zap.String("store", o.store.Name()),
			zap.Int("failed_index", failedIdx))
		return
	}

	teardown := context.WithoutCancel(ctx)
	if err := h.Rollback(teardown); err != nil {
		// 回滚失败单独记录, 不覆盖触发错误
		o.log.Error("rollback failed after batch failure",
			zap.String("store", o.store.Name()), zap.Error(err))
		cause.WithDetail("rollback_error", err.Error())
	}

	undone := NewError(KindBatchAborted, "rolled back after later failure in batch").
		WithDetail("failed_index", failedIdx)
	for j := 0; j < failedIdx; j++ {
		if results[j].Success {
			results[j] = failResult(results[j].ID, undone)
		}
	}
}

func (o *Orchestrator) applyOne(ctx context.Context, h *Handle, cmd *EditCommand) (string, *VersionToken, *EditError) {
	switch cmd.Op {
	case OpAdd:
		if cmd.Feature == nil {
			return "", nil, NewError(KindMissingIdentifier, "add command has no feature payload").
				WithDetail("op", string(cmd.Op))
		}
		id, ver, err := h.Create(ctx, cmd.Collection, cmd.Feature)
		if err != nil {
			return "", nil, asEdit(err, KindStoreUnavailable, "create feature")
		}
		return id, &ver, nil

	case OpUpdate:
		if cmd.ID == "" {
			return "", nil, NewError(KindMissingIdentifier, "update command has no feature id").
				WithDetail("op", string(cmd.Op))
		}
		if cmd.Feature == nil {
			return "", nil, NewError(KindMissingIdentifier, "update command has no feature payload").
				WithDetail("id", cmd.ID)
		}
		if ee := o.checkExpected(ctx, h, cmd); ee != nil {
			return "", nil, ee
		}
		ver, err := h.Update(ctx, cmd.Collection, cmd.ID, cmd.Feature, cmd.Expected)
		if err != nil {
			return "", nil, asEdit(err, KindStoreUnavailable, "update feature")
		}
		return cmd.ID, &ver, nil

	case OpDelete:
		if cmd.ID == "" {
			return "", nil, NewError(KindMissingIdentifier, "delete command has no feature id").
				WithDetail("op", string(cmd.Op))
		}
		if ee := o.checkExpected(ctx, h, cmd); ee != nil {
			return "", nil, ee
		}
		if err := h.Delete(ctx, cmd.Collection, cmd.ID, cmd.Expected); err != nil {
			return "", nil, asEdit(err, KindStoreUnavailable, "delete feature")
		}
		return cmd.ID, nil, nil

	default:
		return "", nil, NewError(KindNotImplemented, "unsupported edit operation").
			WithDetail("op", string(cmd.Op))
	}
}

// checkExpected 条件写前置校验: 读当前版本并做精确比较
// 无条件写(expected 为 nil)永远通过, 不会产生版本冲突
func (o *Orchestrator) checkExpected(ctx context.Context, h *Handle, cmd *EditCommand) *EditError {
	if cmd.Expected == nil {
		return nil
	}
	cur, err := h.Get(ctx, cmd.Collection, cmd.ID)
	if err != nil {
		return asEdit(err, KindStoreUnavailable, "read current version")
	}
	if ee := CheckVersion(cmd.Expected, cur.Version); ee != nil {
		return ee.WithDetail("id", cmd.ID)
	}
	return nil
}
