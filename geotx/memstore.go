package geotx

import (
	"context"
	"database/sql"
	"sync"

	"github.com/google/uuid"
)

// MemStore 内存存储, 作为参考实现和测试后端
// 事务采用叠加缓冲, 提交时一次性落到主表;
// 条件写在提交时会按基线版本复核, 并发竞争只允许一方成功
type MemStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]*memRecord

	txEnabled   bool
	bulkEnabled bool
	beginErr    error
	commitErr   error
	rollbackErr error
}

type memRecord struct {
	feature *Feature
	version int64
}

// MemOption 构造选项, 用于关闭能力或注入故障
type MemOption func(*MemStore)

// WithoutTransactions 声明不支持事务, Begin 返回 not_implemented
func WithoutTransactions() MemOption {
	return func(s *MemStore) { s.txEnabled = false }
}

// WithoutBulk 声明不支持批量插入
func WithoutBulk() MemOption {
	return func(s *MemStore) { s.bulkEnabled = false }
}

// WithBeginError 注入开启事务失败
func WithBeginError(err error) MemOption {
	return func(s *MemStore) { s.beginErr = err }
}

// WithCommitError 注入提交失败
func WithCommitError(err error) MemOption {
	return func(s *MemStore) { s.commitErr = err }
}

// WithRollbackError 注入回滚失败
func WithRollbackError(err error) MemOption {
	return func(s *MemStore) { s.rollbackErr = err }
}

func NewMemStore(opts ...MemOption) *MemStore {
	s := &MemStore{
		collections: make(map[string]map[string]*memRecord),
		txEnabled:   true,
		bulkEnabled: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemStore) Name() string {
	return "memory"
}

func (s *MemStore) Capabilities() Capabilities {
	return Capabilities{Transactions: s.txEnabled, BulkOperations: s.bulkEnabled}
}

func (s *MemStore) Begin(ctx context.Context, opts *sql.TxOptions) (StoreTx, error) {
	if !s.txEnabled {
		return nil, NewError(KindNotImplemented, "memory store configured without transaction support")
	}
	if s.beginErr != nil {
		return nil, WrapError(KindStoreUnavailable, "begin transaction", s.beginErr)
	}
	return &memTx{store: s, overlay: make(map[string]map[string]*memOverlay)}, nil
}

func (s *MemStore) AutoCommit() StoreTx {
	return &memAutoTx{store: s}
}

// Count 集合内已提交的要素数
func (s *MemStore) Count(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[collection])
}

func (s *MemStore) bucket(collection string) map[string]*memRecord {
	if s.collections[collection] == nil {
		s.collections[collection] = make(map[string]*memRecord)
	}
	return s.collections[collection]
}

// committedGet 调用方需持有读锁
func (s *MemStore) committedGet(collection, id string) (*memRecord, bool) {
	rec, ok := s.collections[collection][id]
	return rec, ok
}

func notFoundErr(collection, id string) *EditError {
	return NewError(KindNotFound, "feature does not exist").
		WithDetail("collection", collection).
		WithDetail("id", id)
}

// checkNumericExpected 内存存储的版本是数值型, 字符串型 expected 直接按冲突处理
func checkNumericExpected(expected *VersionToken, actual int64) *EditError {
	if expected == nil {
		return nil
	}
	return CheckVersion(expected, NumericVersion(actual))
}

// memOverlay 事务内对单个要素的未提交改动
type memOverlay struct {
	feature     *Feature
	version     int64
	deleted     bool
	created     bool
	baseVersion int64
	conditional bool
}

type memTx struct {
	store   *MemStore
	overlay map[string]map[string]*memOverlay
	done    bool
}

func (t *memTx) entry(collection, id string) *memOverlay {
	if t.overlay[collection] == nil {
		return nil
	}
	return t.overlay[collection][id]
}

func (t *memTx) put(collection, id string, e *memOverlay) {
	if t.overlay[collection] == nil {
		t.overlay[collection] = make(map[string]*memOverlay)
	}
	t.overlay[collection][id] = e
}

// resolve 合并视图: 叠加层优先, 其次已提交数据
func (t *memTx) resolve(collection, id string) (feature *Feature, version int64, base int64, created bool, ok bool) {
	if e := t.entry(collection, id); e != nil {
		if e.deleted {
			return nil, 0, 0, false, false
		}
		return e.feature, e.version, e.baseVersion, e.created, true
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	if rec, exists := t.store.committedGet(collection, id); exists {
		return rec.feature, rec.version, rec.version, false, true
	}
	return nil, 0, 0, false, false
}

func (t *memTx) Create(ctx context.Context, collection string, f *Feature) (string, VersionToken, error) {
	if t.done {
		return "", VersionToken{}, NewError(KindStoreUnavailable, "transaction already finished")
	}
	id := f.ID
	if id == "" {
		id = uuid.New().String()
	}
	if _, _, _, _, exists := t.resolve(collection, id); exists {
		return "", VersionToken{}, NewError(KindStoreUnavailable, "feature id already exists").
			WithDetail("collection", collection).
			WithDetail("id", id)
	}
	nf := f.Clone()
	nf.ID = id
	t.put(collection, id, &memOverlay{feature: nf, version: 1, created: true})
	return id, NumericVersion(1), nil
}

func (t *memTx) Update(ctx context.Context, collection, id string, f *Feature, expected *VersionToken) (VersionToken, error) {
	if t.done {
		return VersionToken{}, NewError(KindStoreUnavailable, "transaction already finished")
	}
	_, version, base, created, ok := t.resolve(collection, id)
	if !ok {
		return VersionToken{}, notFoundErr(collection, id)
	}
	if ee := checkNumericExpected(expected, version); ee != nil {
		return VersionToken{}, ee.WithDetail("id", id)
	}
	prev := t.entry(collection, id)
	next := &memOverlay{
		feature:     f.Clone(),
		version:     version + 1,
		created:     created,
		baseVersion: base,
		conditional: expected != nil || (prev != nil && prev.conditional),
	}
	next.feature.ID = id
	t.put(collection, id, next)
	return NumericVersion(next.version), nil
}

func (t *memTx) Delete(ctx context.Context, collection, id string, expected *VersionToken) error {
	if t.done {
		return NewError(KindStoreUnavailable, "transaction already finished")
	}
	_, version, base, created, ok := t.resolve(collection, id)
	if !ok {
		return notFoundErr(collection, id)
	}
	if ee := checkNumericExpected(expected, version); ee != nil {
		return ee.WithDetail("id", id)
	}
	prev := t.entry(collection, id)
	if created {
		// 事务内新建又删除, 直接抹掉叠加层
		delete(t.overlay[collection], id)
		return nil
	}
	t.put(collection, id, &memOverlay{
		deleted:     true,
		baseVersion: base,
		conditional: expected != nil || (prev != nil && prev.conditional),
	})
	return nil
}

func (t *memTx) Get(ctx context.Context, collection, id string) (*Feature, error) {
	if t.done {
		return nil, NewError(KindStoreUnavailable, "transaction already finished")
	}
	feature, version, _, _, ok := t.resolve(collection, id)
	if !ok {
		return nil, notFoundErr(collection, id)
	}
	out := feature.Clone()
	out.Version = NumericVersion(version)
	return out, nil
}

func (t *memTx) BulkInsert(ctx context.Context, collection string, fs []*Feature) (int64, error) {
	if t.done {
		return 0, NewError(KindStoreUnavailable, "transaction already finished")
	}
	if !t.store.bulkEnabled {
		return 0, NewError(KindNotImplemented, "memory store configured without bulk support")
	}
	var n int64
	for _, f := range fs {
		if _, _, err := t.Create(ctx, collection, f); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (t *memTx) Commit(ctx context.Context) error {
	if t.done {
		return NewError(KindStoreUnavailable, "transaction already finished")
	}
	t.done = true
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commitErr != nil {
		return WrapError(KindCommitFailed, "commit transaction", s.commitErr)
	}
	// 条件写按基线版本复核, 输掉并发竞争的一方在提交时失败
	for collection, entries := range t.overlay {
		for id, e := range entries {
			if !e.conditional || e.created {
				continue
			}
			rec, exists := s.committedGet(collection, id)
			if !exists || rec.version != e.baseVersion {
				actual := int64(0)
				if exists {
					actual = rec.version
				}
				return NewError(KindCommitFailed, "conditional write lost concurrent race").
					WithDetail("collection", collection).
					WithDetail("id", id).
					WithDetail("base", e.baseVersion).
					WithDetail("actual", actual)
			}
		}
	}
	for collection, entries := range t.overlay {
		bucket := s.bucket(collection)
		for id, e := range entries {
			if e.deleted {
				delete(bucket, id)
				continue
			}
			bucket[id] = &memRecord{feature: e.feature, version: e.version}
		}
	}
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	if t.done {
		return NewError(KindStoreUnavailable, "transaction already finished")
	}
	t.done = true
	t.overlay = nil
	if t.store.rollbackErr != nil {
		return WrapError(KindRollbackFailed, "rollback transaction", t.store.rollbackErr)
	}
	return nil
}

// memAutoTx 逐条立即生效的降级通道, Commit/Rollback 为空操作
type memAutoTx struct {
	store *MemStore
}

func (t *memAutoTx) Create(ctx context.Context, collection string, f *Feature) (string, VersionToken, error) {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	id := f.ID
	if id == "" {
		id = uuid.New().String()
	}
	bucket := s.bucket(collection)
	if _, exists := bucket[id]; exists {
		return "", VersionToken{}, NewError(KindStoreUnavailable, "feature id already exists").
			WithDetail("collection", collection).
			WithDetail("id", id)
	}
	nf := f.Clone()
	nf.ID = id
	bucket[id] = &memRecord{feature: nf, version: 1}
	return id, NumericVersion(1), nil
}

func (t *memAutoTx) Update(ctx context.Context, collection, id string, f *Feature, expected *VersionToken) (VersionToken, error) {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.committedGet(collection, id)
	if !ok {
		return VersionToken{}, notFoundErr(collection, id)
	}
	if ee := checkNumericExpected(expected, rec.version); ee != nil {
		return VersionToken{}, ee.WithDetail("id", id)
	}
	nf := f.Clone()
	nf.ID = id
	s.bucket(collection)[id] = &memRecord{feature: nf, version: rec.version + 1}
	return NumericVersion(rec.version + 1), nil
}

func (t *memAutoTx) Delete(ctx context.Context, collection, id string, expected *VersionToken) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.committedGet(collection, id)
	if !ok {
		return notFoundErr(collection, id)
	}
	if ee := checkNumericExpected(expected, rec.version); ee != nil {
		return ee.WithDetail("id", id)
	}
	delete(s.collections[collection], id)
	return nil
}

func (t *memAutoTx) Get(ctx context.Context, collection, id string) (*Feature, error) {
	s := t.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.committedGet(collection, id)
	if !ok {
		return nil, notFoundErr(collection, id)
	}
	out := rec.feature.Clone()
	out.Version = NumericVersion(rec.version)
	return out, nil
}

func (t *memAutoTx) BulkInsert(ctx context.Context, collection string, fs []*Feature) (int64, error) {
	if !t.store.bulkEnabled {
		return 0, NewError(KindNotImplemented, "memory store configured without bulk support")
	}
	var n int64
	for _, f := range fs {
		if _, _, err := t.Create(ctx, collection, f); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (t *memAutoTx) Commit(ctx context.Context) error {
	return nil
}

func (t *memAutoTx) Rollback(ctx context.Context) error {
	return nil
}
