package models

import "gorm.io/datatypes"

// GeoRecord 要素变更审计记录, 批量编辑提交成功后逐条落库
type GeoRecord struct {
	ID         int64  `gorm:"primary_key;autoIncrement"`
	TableName  string `gorm:"type:varchar(255);index"`
	Username   string `gorm:"type:varchar(255)"`
	Type       string `gorm:"type:varchar(255)"`
	Date       string `gorm:"type:varchar(255)"`
	BZ         string `gorm:"type:varchar(255)"`
	FeatureID  string `gorm:"type:varchar(64);index"`
	SessionID  int64  `gorm:"index;default:0"`
	OldGeojson datatypes.JSON
	NewGeojson datatypes.JSON
}
