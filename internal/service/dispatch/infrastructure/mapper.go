package infrastructure

import (
	"database/sql"

	"dispatch/internal/service/dispatch/domain"
)

// ToDomainBatchRun 将数据库模型转换为领域模型
func ToDomainBatchRun(model *BatchRunModel) *domain.BatchRun {
	if model == nil {
		return nil
	}
	return &domain.BatchRun{
		ID:         model.ID,
		Trigger:    model.Trigger,
		Signature:  model.Signature,
		Groups:     model.Groups,
		Created:    model.Created,
		Failed:     model.Failed,
		Error:      model.Error.String,
		StartedAt:  model.StartedAt,
		FinishedAt: model.FinishedAt,
	}
}

// FromDomainBatchRun 将领域模型转换为数据库模型
func FromDomainBatchRun(run *domain.BatchRun) *BatchRunModel {
	if run == nil {
		return nil
	}
	return &BatchRunModel{
		ID:         run.ID,
		Trigger:    run.Trigger,
		Signature:  run.Signature,
		Groups:     run.Groups,
		Created:    run.Created,
		Failed:     run.Failed,
		Error:      sql.NullString{String: run.Error, Valid: run.Error != ""},
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
	}
}
