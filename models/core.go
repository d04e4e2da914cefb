package models

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/GrainArc/GeoEdit/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

var DB *gorm.DB

// InitDB 按配置打开主数据库并迁移业务表
func InitDB() error {
	dialector, err := openDialector(config.MainConfig.DBType, config.DSN)
	if err != nil {
		return err
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
	})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	if err := migrateAllTables(db); err != nil {
		return fmt.Errorf("migrate tables: %w", err)
	}
	DB = db
	return nil
}

func openDialector(dbType, dsn string) (gorm.Dialector, error) {
	switch dbType {
	case "", "postgres":
		return postgres.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(dsn), os.ModePerm); err != nil {
			return nil, err
		}
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported dbtype %q", dbType)
	}
}

// migrateAllTables 批量迁移所有表
func migrateAllTables(db *gorm.DB) error {
	models := []interface{}{
		&GeoCollection{},
		&GeoRecord{},
		&EditSession{},
		&ImportJob{},
	}
	return db.AutoMigrate(models...)
}
