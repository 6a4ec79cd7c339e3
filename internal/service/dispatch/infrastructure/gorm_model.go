package infrastructure

import (
	"database/sql"
	"time"

	"dispatch/internal/service/dispatch/domain"
)

// BatchRunModel 对应数据库中的 batch_run 表
type BatchRunModel struct {
	ID         string              `gorm:"primaryKey;type:varchar(36)"`
	Trigger    domain.BatchTrigger `gorm:"type:varchar(16);index"`
	Signature  string              `gorm:"type:text"`
	Groups     int                 `gorm:"column:group_count"`
	Created    int
	Failed     int
	Error      sql.NullString `gorm:"type:text"`
	StartedAt  time.Time      `gorm:"index"`
	FinishedAt time.Time
}

// TableName 指定 GORM 应该使用的表名
func (BatchRunModel) TableName() string {
	return "batch_run"
}
