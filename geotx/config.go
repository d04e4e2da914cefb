package geotx

import (
	"database/sql"
	"time"
)

const (
	// DefaultBatchSize 批量写入的默认批次大小
	DefaultBatchSize = 1000
	// DefaultProgressInterval 进度回调的默认间隔(要素数)
	DefaultProgressInterval = 200
)

// Config 一次批量编辑或导入任务的运行配置
type Config struct {
	// UseTransaction 关闭后每条写入独立生效, 仅用于兼容旧链路
	UseTransaction bool
	// TxTimeout 事务最长保持时间, 0 表示不限制
	TxTimeout time.Duration
	// Isolation 透传给存储端的隔离级别
	Isolation sql.IsolationLevel
	// BatchSize 批量插入时单批要素数
	BatchSize int
	// PreferBulk 存储端支持时优先走批量插入
	PreferBulk bool
	// ProgressInterval 每处理多少条要素上报一次进度
	ProgressInterval int
}

// DefaultConfig 默认配置: 开事务, 批量优先
func DefaultConfig() Config {
	return Config{
		UseTransaction:   true,
		BatchSize:        DefaultBatchSize,
		PreferBulk:       true,
		ProgressInterval: DefaultProgressInterval,
	}
}

func (c Config) normalize() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = DefaultProgressInterval
	}
	return c
}

func (c Config) txOptions() *sql.TxOptions {
	if c.Isolation == sql.LevelDefault {
		return nil
	}
	return &sql.TxOptions{Isolation: c.Isolation}
}
