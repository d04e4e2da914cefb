package geotx

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemTxStagingInvisibleUntilCommit(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	tx, err := store.Begin(ctx, nil)
	require.NoError(t, err)
	id, ver, err := tx.Create(ctx, "parcel", testFeature("staged"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), ver.Int64())

	// 事务内可读到自己的未提交写入
	got, err := tx.Get(ctx, "parcel", id)
	require.NoError(t, err)
	assert.Equal(t, "staged", got.Properties["name"])

	// 事务外看不到
	_, err = store.AutoCommit().Get(ctx, "parcel", id)
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Equal(t, 0, store.Count("parcel"))

	require.NoError(t, tx.Commit(ctx))
	assert.Equal(t, 1, store.Count("parcel"))
}

func TestMemTxRollbackDiscardsAll(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	seeded, _ := seedFeature(t, store, "parcel", testFeature("keep"))

	tx, err := store.Begin(ctx, nil)
	require.NoError(t, err)
	_, _, err = tx.Create(ctx, "parcel", testFeature("new"))
	require.NoError(t, err)
	require.NoError(t, tx.Delete(ctx, "parcel", seeded, nil))
	require.NoError(t, tx.Rollback(ctx))

	assert.Equal(t, 1, store.Count("parcel"))
	_, err = store.AutoCommit().Get(ctx, "parcel", seeded)
	assert.NoError(t, err)
}

func TestMemTxUpdateChainsVersions(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	id, _ := seedFeature(t, store, "parcel", testFeature("v1"))

	tx, err := store.Begin(ctx, nil)
	require.NoError(t, err)

	exp := NumericVersion(1)
	ver, err := tx.Update(ctx, "parcel", id, testFeature("v2"), &exp)
	require.NoError(t, err)
	assert.Equal(t, int64(2), ver.Int64())

	// 同一事务内第二次条件更新要基于事务内的新版本
	exp2 := NumericVersion(2)
	ver, err = tx.Update(ctx, "parcel", id, testFeature("v3"), &exp2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), ver.Int64())

	require.NoError(t, tx.Commit(ctx))
	got, err := store.AutoCommit().Get(ctx, "parcel", id)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Version.Int64())
}

func TestMemTxConditionalWriteLosesRace(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	id, _ := seedFeature(t, store, "parcel", testFeature("base"))

	tx, err := store.Begin(ctx, nil)
	require.NoError(t, err)
	exp := NumericVersion(1)
	_, err = tx.Update(ctx, "parcel", id, testFeature("mine"), &exp)
	require.NoError(t, err)

	// 提交之前另一条通道抢先改掉同一要素
	_, err = store.AutoCommit().Update(ctx, "parcel", id, testFeature("theirs"), nil)
	require.NoError(t, err)

	err = tx.Commit(ctx)
	require.Error(t, err)
	assert.Equal(t, KindCommitFailed, KindOf(err))

	got, err := store.AutoCommit().Get(ctx, "parcel", id)
	require.NoError(t, err)
	assert.Equal(t, "theirs", got.Properties["name"])
}

func TestMemTxUnconditionalWriteWinsRace(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	id, _ := seedFeature(t, store, "parcel", testFeature("base"))

	tx, err := store.Begin(ctx, nil)
	require.NoError(t, err)
	_, err = tx.Update(ctx, "parcel", id, testFeature("mine"), nil)
	require.NoError(t, err)

	_, err = store.AutoCommit().Update(ctx, "parcel", id, testFeature("theirs"), nil)
	require.NoError(t, err)

	// 无条件写不做提交期复核, 后提交者覆盖
	require.NoError(t, tx.Commit(ctx))
	got, err := store.AutoCommit().Get(ctx, "parcel", id)
	require.NoError(t, err)
	assert.Equal(t, "mine", got.Properties["name"])
}

func TestMemTxCreateThenDelete(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	tx, err := store.Begin(ctx, nil)
	require.NoError(t, err)
	id, _, err := tx.Create(ctx, "parcel", testFeature("ephemeral"))
	require.NoError(t, err)
	require.NoError(t, tx.Delete(ctx, "parcel", id, nil))
	require.NoError(t, tx.Commit(ctx))

	assert.Equal(t, 0, store.Count("parcel"))
}

func TestMemTxDuplicateCreate(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	f := testFeature("dup")
	f.ID = "fixed-id"
	seedFeature(t, store, "parcel", f)

	tx, err := store.Begin(ctx, nil)
	require.NoError(t, err)
	_, _, err = tx.Create(ctx, "parcel", f)
	require.Error(t, err)
	assert.Equal(t, KindStoreUnavailable, KindOf(err))
}

func TestMemStoreCapabilityToggles(t *testing.T) {
	ctx := context.Background()

	noTx := NewMemStore(WithoutTransactions())
	assert.False(t, noTx.Capabilities().Transactions)
	_, err := noTx.Begin(ctx, nil)
	require.Error(t, err)
	assert.Equal(t, KindNotImplemented, KindOf(err))

	noBulk := NewMemStore(WithoutBulk())
	assert.False(t, noBulk.Capabilities().BulkOperations)
	_, err = noBulk.AutoCommit().BulkInsert(ctx, "parcel", makeFeatures(2))
	require.Error(t, err)
	assert.Equal(t, KindNotImplemented, KindOf(err))
}

func TestMemTxInjectedRollbackError(t *testing.T) {
	store := NewMemStore(WithRollbackError(errors.New("socket closed")))
	ctx := context.Background()
	tx, err := store.Begin(ctx, nil)
	require.NoError(t, err)
	err = tx.Rollback(ctx)
	require.Error(t, err)
	assert.Equal(t, KindRollbackFailed, KindOf(err))
}

func TestMemTxFinishedGuards(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	tx, err := store.Begin(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	_, _, err = tx.Create(ctx, "parcel", testFeature("late"))
	assert.Equal(t, KindStoreUnavailable, KindOf(err))
	assert.Equal(t, KindStoreUnavailable, KindOf(tx.Commit(ctx)))
	assert.Equal(t, KindStoreUnavailable, KindOf(tx.Rollback(ctx)))
}
