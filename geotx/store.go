package geotx

import (
	"context"
	"database/sql"

	"github.com/paulmach/orb"
)

// Feature 一条要素: 几何 + 属性
// Version 只在读取结果中有意义, 作为写入载荷时由存储端忽略
type Feature struct {
	ID         string
	Geometry   orb.Geometry
	Properties map[string]interface{}
	Version    VersionToken
}

// Clone 浅拷贝几何, 深拷贝属性表
func (f *Feature) Clone() *Feature {
	if f == nil {
		return nil
	}
	nf := &Feature{ID: f.ID, Geometry: f.Geometry, Version: f.Version}
	if f.Properties != nil {
		nf.Properties = make(map[string]interface{}, len(f.Properties))
		for k, v := range f.Properties {
			nf.Properties[k] = v
		}
	}
	return nf
}

// Capabilities 存储端能力声明, 决定编排层的执行策略
type Capabilities struct {
	Transactions   bool
	BulkOperations bool
}

// Store 存储适配器
// Begin 在不支持事务的存储上返回 not_implemented 错误,
// 调用方应先检查能力标记, 降级时改用 AutoCommit
type Store interface {
	Name() string
	Capabilities() Capabilities
	Begin(ctx context.Context, opts *sql.TxOptions) (StoreTx, error)
	// AutoCommit 返回逐条立即生效的写入通道, Commit/Rollback 为空操作
	AutoCommit() StoreTx
}

// StoreTx 一个写入单元内的存储操作集合
// 条件更新/删除在 expected 不匹配时返回 version_conflict,
// 目标不存在时返回 not_found
type StoreTx interface {
	Create(ctx context.Context, collection string, f *Feature) (string, VersionToken, error)
	Update(ctx context.Context, collection, id string, f *Feature, expected *VersionToken) (VersionToken, error)
	Delete(ctx context.Context, collection, id string, expected *VersionToken) error
	Get(ctx context.Context, collection, id string) (*Feature, error)
	BulkInsert(ctx context.Context, collection string, fs []*Feature) (int64, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// CollectionEnsurer 可按需建表的存储实现
type CollectionEnsurer interface {
	EnsureCollection(ctx context.Context, collection string, srid int) error
}
