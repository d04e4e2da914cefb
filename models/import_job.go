package models

// ImportJob 导入任务归档, 任务离开内存注册表后仍可查询最终结果
type ImportJob struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	JobID      string `gorm:"type:varchar(64);uniqueIndex"`
	TableName  string `gorm:"type:varchar(255);index"`
	Username   string `gorm:"type:varchar(255)"`
	Status     string `gorm:"type:varchar(50)"` // committed / failed / cancelled
	Processed  int64
	Total      int64
	ErrMsg     string `gorm:"type:varchar(1024)"`
	SourceFile string `gorm:"type:varchar(512)"`
	CreatedAt  string `gorm:"type:varchar(255)"`
	EndedAt    string `gorm:"type:varchar(255)"`
}
