package models

import (
	"gorm.io/datatypes"
)

// GeoCollection 要素集合目录
// CN 为原始图层名, EN 为落库后的物理表名
type GeoCollection struct {
	ID          int64  `gorm:"primary_key;autoIncrement"`
	CN          string `gorm:"type:varchar(255)"`
	EN          string `gorm:"type:varchar(255);uniqueIndex"`
	Type        string `gorm:"type:varchar(255)"`
	SRID        int    `gorm:"default:0"`
	FeatureNum  int64
	UpdatedDate string `gorm:"type:varchar(255)"`
	Source      datatypes.JSON
}
