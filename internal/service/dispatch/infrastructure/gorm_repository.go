package infrastructure

import (
	"context"
	"time"

	"dispatch/internal/service/dispatch/domain"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// OpenMySQL 打开连接池并迁移 batch_run 表；DSN 中的时间解析参数会被强制为 UTC
func OpenMySQL(dsn string) (*gorm.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "parse mysql dsn")
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	db, err := gorm.Open(gormmysql.Open(cfg.FormatDSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open mysql")
	}
	if err := db.AutoMigrate(&BatchRunModel{}); err != nil {
		return nil, errors.Wrap(err, "migrate batch_run")
	}
	return db, nil
}

// GormBatchRunRepository 是 BatchRunRepository 的 GORM 实现
type GormBatchRunRepository struct {
	db *gorm.DB
}

// NewGormBatchRunRepository 创建一个新的 GORM 仓储实例
func NewGormBatchRunRepository(db *gorm.DB) *GormBatchRunRepository {
	return &GormBatchRunRepository{db: db}
}

var _ domain.BatchRunRepository = (*GormBatchRunRepository)(nil)

// Save 插入一条分批记录；流水只追加
func (r *GormBatchRunRepository) Save(ctx context.Context, run *domain.BatchRun) error {
	return r.db.WithContext(ctx).Create(FromDomainBatchRun(run)).Error
}

// ListRecent 按开始时间倒序读取
func (r *GormBatchRunRepository) ListRecent(ctx context.Context, limit int) ([]*domain.BatchRun, error) {
	var models []BatchRunModel
	err := r.db.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&models).Error
	if err != nil {
		return nil, err
	}
	runs := make([]*domain.BatchRun, 0, len(models))
	for i := range models {
		runs = append(runs, ToDomainBatchRun(&models[i]))
	}
	return runs, nil
}
