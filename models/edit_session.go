package models

// EditSession 编辑会话, 把一组关联的批量编辑关到同一个可整体撤销的范围里
type EditSession struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	TableName string `gorm:"type:varchar(255);index"`
	Username  string `gorm:"type:varchar(255)"`
	CreatedAt string `gorm:"type:varchar(255)"`
	ClosedAt  string `gorm:"type:varchar(255)"`
	Status    string `gorm:"type:varchar(50)"` // active / committed / rolledback
}
