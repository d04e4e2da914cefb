package geotx

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore 关系库存储, 每个集合一张要素表
// 表结构: id 主键, geom 几何(postgres 为 geometry, 其余方言为 WKB 二进制),
// properties JSON 属性, version 乐观锁版本, updated_at 更新时间
type GormStore struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewGormStore(db *gorm.DB, log *zap.Logger) *GormStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &GormStore{db: db, log: log}
}

func (s *GormStore) Name() string {
	return "gorm:" + s.db.Dialector.Name()
}

func (s *GormStore) Capabilities() Capabilities {
	return Capabilities{Transactions: true, BulkOperations: true}
}

func (s *GormStore) Begin(ctx context.Context, opts *sql.TxOptions) (StoreTx, error) {
	var tx *gorm.DB
	if opts != nil {
		tx = s.db.WithContext(ctx).Begin(opts)
	} else {
		tx = s.db.WithContext(ctx).Begin()
	}
	if tx.Error != nil {
		return nil, WrapError(KindStoreUnavailable, "begin transaction", tx.Error)
	}
	return &gormTx{db: tx, dialect: s.db.Dialector.Name()}, nil
}

func (s *GormStore) AutoCommit() StoreTx {
	return &gormTx{db: s.db, dialect: s.db.Dialector.Name(), auto: true}
}

// EnsureCollection 集合表不存在时建表
// postgres 使用无类型修饰的 geometry 列, 原始坐标系由目录层记录
func (s *GormStore) EnsureCollection(ctx context.Context, collection string, srid int) error {
	var ddl string
	switch s.db.Dialector.Name() {
	case "postgres":
		ddl = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id text PRIMARY KEY,
			geom geometry,
			properties jsonb,
			version bigint NOT NULL DEFAULT 1,
			updated_at timestamptz
		)`, collection)
	case "mysql":
		ddl = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id varchar(64) PRIMARY KEY,
			geom longblob,
			properties json,
			version bigint NOT NULL DEFAULT 1,
			updated_at datetime
		)`, collection)
	default:
		ddl = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id text PRIMARY KEY,
			geom blob,
			properties text,
			version integer NOT NULL DEFAULT 1,
			updated_at datetime
		)`, collection)
	}
	if err := s.db.WithContext(ctx).Exec(ddl).Error; err != nil {
		return WrapError(KindStoreUnavailable, "ensure collection table", err).
			WithDetail("collection", collection)
	}
	return nil
}

type gormTx struct {
	db      *gorm.DB
	dialect string
	auto    bool
}

func (t *gormTx) geomValue(g orb.Geometry) (interface{}, error) {
	if g == nil {
		return nil, nil
	}
	data, err := wkb.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("encode geometry to wkb: %w", err)
	}
	if t.dialect == "postgres" {
		return clause.Expr{
			SQL:  "ST_GeomFromWKB(decode(?, 'hex'))",
			Vars: []interface{}{hex.EncodeToString(data)},
		}, nil
	}
	return data, nil
}

func (t *gormTx) featureRow(f *Feature, version int64) (map[string]interface{}, error) {
	props := f.Properties
	if props == nil {
		props = map[string]interface{}{}
	}
	propJSON, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("encode properties: %w", err)
	}
	geom, err := t.geomValue(f.Geometry)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"geom":       geom,
		"properties": datatypes.JSON(propJSON),
		"version":    version,
		"updated_at": time.Now(),
	}, nil
}

func (t *gormTx) Create(ctx context.Context, collection string, f *Feature) (string, VersionToken, error) {
	id := f.ID
	if id == "" {
		id = uuid.New().String()
	}
	row, err := t.featureRow(f, 1)
	if err != nil {
		return "", VersionToken{}, WrapError(KindStoreUnavailable, "build feature row", err)
	}
	row["id"] = id
	if err := t.db.WithContext(ctx).Table(collection).Create(row).Error; err != nil {
		return "", VersionToken{}, WrapError(KindStoreUnavailable, "insert feature", err).
			WithDetail("collection", collection).
			WithDetail("id", id)
	}
	return id, NumericVersion(1), nil
}

func (t *gormTx) Update(ctx context.Context, collection, id string, f *Feature, expected *VersionToken) (VersionToken, error) {
	row, err := t.featureRow(f, 0)
	if err != nil {
		return VersionToken{}, WrapError(KindStoreUnavailable, "build feature row", err)
	}
	row["version"] = gorm.Expr("version + 1")

	if expected != nil && !expected.IsNumeric() {
		// 本存储的版本是数值型, 其他表示形态一律按冲突处理
		actual, ee := t.currentVersion(ctx, collection, id)
		if ee != nil {
			return VersionToken{}, ee
		}
		return VersionToken{}, CheckVersion(expected, NumericVersion(actual)).WithDetail("id", id)
	}

	q := t.db.WithContext(ctx).Table(collection).Where("id = ?", id)
	if expected != nil {
		q = q.Where("version = ?", expected.Int64())
	}
	res := q.Updates(row)
	if res.Error != nil {
		return VersionToken{}, WrapError(KindStoreUnavailable, "update feature", res.Error).
			WithDetail("collection", collection).
			WithDetail("id", id)
	}
	if res.RowsAffected == 0 {
		actual, ee := t.currentVersion(ctx, collection, id)
		if ee != nil {
			return VersionToken{}, ee
		}
		return VersionToken{}, staleWriteErr(expected, actual, id)
	}
	ver, ee := t.currentVersion(ctx, collection, id)
	if ee != nil {
		return VersionToken{}, ee
	}
	return NumericVersion(ver), nil
}

// staleWriteErr 条件写没有命中任何行时的冲突归因
func staleWriteErr(expected *VersionToken, actual int64, id string) *EditError {
	if ee := CheckVersion(expected, NumericVersion(actual)); ee != nil {
		return ee.WithDetail("id", id)
	}
	return NewError(KindVersionConflict, "conditional write affected no rows").
		WithDetail("actual", actual).
		WithDetail("id", id)
}

func (t *gormTx) Delete(ctx context.Context, collection, id string, expected *VersionToken) error {
	if expected != nil && !expected.IsNumeric() {
		actual, ee := t.currentVersion(ctx, collection, id)
		if ee != nil {
			return ee
		}
		return CheckVersion(expected, NumericVersion(actual)).WithDetail("id", id)
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", collection)
	args := []interface{}{id}
	if expected != nil {
		query += " AND version = ?"
		args = append(args, expected.Int64())
	}
	res := t.db.WithContext(ctx).Exec(query, args...)
	if res.Error != nil {
		return WrapError(KindStoreUnavailable, "delete feature", res.Error).
			WithDetail("collection", collection).
			WithDetail("id", id)
	}
	if res.RowsAffected == 0 {
		actual, ee := t.currentVersion(ctx, collection, id)
		if ee != nil {
			return ee
		}
		return staleWriteErr(expected, actual, id)
	}
	return nil
}

// currentVersion 读取当前版本, 记录不存在返回 not_found
func (t *gormTx) currentVersion(ctx context.Context, collection, id string) (int64, *EditError) {
	var version int64
	err := t.db.WithContext(ctx).Table(collection).
		Select("version").Where("id = ?", id).Take(&version).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, notFoundErr(collection, id)
	}
	if err != nil {
		return 0, WrapError(KindStoreUnavailable, "read feature version", err).
			WithDetail("collection", collection).
			WithDetail("id", id)
	}
	return version, nil
}

func (t *gormTx) Get(ctx context.Context, collection, id string) (*Feature, error) {
	sel := "id, geom, properties, version"
	if t.dialect == "postgres" {
		sel = "id, ST_AsBinary(geom) AS geom, properties, version"
	}
	var row struct {
		ID         string
		Geom       []byte
		Properties datatypes.JSON
		Version    int64
	}
	err := t.db.WithContext(ctx).Table(collection).
		Select(sel).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFoundErr(collection, id)
	}
	if err != nil {
		return nil, WrapError(KindStoreUnavailable, "read feature", err).
			WithDetail("collection", collection).
			WithDetail("id", id)
	}

	f := &Feature{ID: row.ID, Version: NumericVersion(row.Version)}
	if len(row.Geom) > 0 {
		geom, err := wkb.Unmarshal(row.Geom)
		if err != nil {
			return nil, WrapError(KindStoreUnavailable, "decode feature geometry", err).
				WithDetail("id", id)
		}
		f.Geometry = geom
	}
	if len(row.Properties) > 0 {
		if err := json.Unmarshal(row.Properties, &f.Properties); err != nil {
			return nil, WrapError(KindStoreUnavailable, "decode feature properties", err).
				WithDetail("id", id)
		}
	}
	return f, nil
}

func (t *gormTx) BulkInsert(ctx context.Context, collection string, fs []*Feature) (int64, error) {
	if len(fs) == 0 {
		return 0, nil
	}
	rows := make([]map[string]interface{}, 0, len(fs))
	for _, f := range fs {
		row, err := t.featureRow(f, 1)
		if err != nil {
			return 0, WrapError(KindStoreUnavailable, "build feature row", err)
		}
		id := f.ID
		if id == "" {
			id = uuid.New().String()
		}
		row["id"] = id
		rows = append(rows, row)
	}
	// 单条 INSERT 的占位符数量受方言上限约束, 超限时分片
	if err := t.db.WithContext(ctx).Table(collection).
		CreateInBatches(rows, bulkChunkSize(len(rows[0]))).Error; err != nil {
		return 0, WrapError(KindStoreUnavailable, "bulk insert features", err).
			WithDetail("collection", collection).
			WithDetail("count", len(rows))
	}
	return int64(len(rows)), nil
}

func (t *gormTx) Commit(ctx context.Context) error {
	if t.auto {
		return nil
	}
	if err := t.db.Commit().Error; err != nil {
		return WrapError(KindCommitFailed, "commit transaction", err)
	}
	return nil
}

func (t *gormTx) Rollback(ctx context.Context) error {
	if t.auto {
		return nil
	}
	if err := t.db.Rollback().Error; err != nil {
		return WrapError(KindRollbackFailed, "rollback transaction", err)
	}
	return nil
}

func bulkChunkSize(columns int) int {
	const maxParams = 60000
	if columns <= 0 {
		return DefaultBatchSize
	}
	n := maxParams / columns
	if n < 1 {
		n = 1
	}
	if n > 10000 {
		n = 10000
	}
	return n
}
