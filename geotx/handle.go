package geotx

import (
	"context"
	"sync"
)

type txState int

const (
	txOpen txState = iota
	txCommitted
	txRolledBack
)

func (s txState) String() string {
	switch s {
	case txCommitted:
		return "committed"
	case txRolledBack:
		return "rolledback"
	default:
		return "open"
	}
}

// Handle 事务句柄, 包装存储事务并保证状态机约束:
// Open -> {Committed, RolledBack} 且终态只进入一次,
// 离开 Open 后任何操作都不再触达存储端
// 由创建它的那一次批次/任务独占, 不跨批次复用
type Handle struct {
	mu            sync.Mutex
	state         txState
	tx            StoreTx
	transactional bool
}

func newHandle(tx StoreTx, transactional bool) *Handle {
	return &Handle{tx: tx, transactional: transactional}
}

// Transactional 是否是真实事务(而非逐条立即生效的降级通道)
func (h *Handle) Transactional() bool {
	return h.transactional
}

// State 当前状态名, 用于日志
func (h *Handle) State() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.String()
}

func (h *Handle) guard() *EditError {
	if h.state != txOpen {
		return NewError(KindStoreUnavailable, "transaction already finished").
			WithDetail("state", h.state.String())
	}
	return nil
}

func (h *Handle) Create(ctx context.Context, collection string, f *Feature) (string, VersionToken, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.guard(); err != nil {
		return "", VersionToken{}, err
	}
	return h.tx.Create(ctx, collection, f)
}

func (h *Handle) Update(ctx context.Context, collection, id string, f *Feature, expected *VersionToken) (VersionToken, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.guard(); err != nil {
		return VersionToken{}, err
	}
	return h.tx.Update(ctx, collection, id, f, expected)
}

func (h *Handle) Delete(ctx context.Context, collection, id string, expected *VersionToken) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.guard(); err != nil {
		return err
	}
	return h.tx.Delete(ctx, collection, id, expected)
}

func (h *Handle) Get(ctx context.Context, collection, id string) (*Feature, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.guard(); err != nil {
		return nil, err
	}
	return h.tx.Get(ctx, collection, id)
}

func (h *Handle) BulkInsert(ctx context.Context, collection string, fs []*Feature) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.guard(); err != nil {
		return 0, err
	}
	return h.tx.BulkInsert(ctx, collection, fs)
}

// Commit 提交, 失败时句柄仍转入终态, 不允许重试
func (h *Handle) Commit(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.guard(); err != nil {
		return err
	}
	h.state = txCommitted
	if err := h.tx.Commit(ctx); err != nil {
		return asEdit(err, KindCommitFailed, "commit transaction")
	}
	return nil
}

// Rollback 回滚, 调用方需传入不可取消的 teardown 上下文
func (h *Handle) Rollback(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.guard(); err != nil {
		return err
	}
	h.state = txRolledBack
	if err := h.tx.Rollback(ctx); err != nil {
		return asEdit(err, KindRollbackFailed, "rollback transaction")
	}
	return nil
}
