package application

import (
	"context"
	"time"

	"dispatch/internal/pkg/logger"
	"dispatch/internal/service/dispatch/domain"
	"dispatch/internal/service/dispatch/domain/port"

	"github.com/google/uuid"
)

func newNotice(kind domain.NoticeKind, message string, created, attempted int) domain.Notice {
	return domain.Notice{
		ID:        uuid.New().String(),
		Kind:      kind,
		Message:   message,
		Created:   created,
		Attempted: attempted,
		At:        time.Now().UTC(),
	}
}

// publishNotice 发送提示；提示失败只记录日志，不影响业务结果
func publishNotice(ctx context.Context, publisher port.NoticePublisher, notice domain.Notice) {
	if publisher == nil {
		return
	}
	if err := publisher.Publish(ctx, notice); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("kind", string(notice.Kind)).Msg("failed to publish notice")
	}
}

// recordRun 写入分批流水；同样是尽力而为
func recordRun(ctx context.Context, runs domain.BatchRunRepository, run *domain.BatchRun) {
	if runs == nil {
		return
	}
	if err := runs.Save(ctx, run); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("run_id", run.ID).Msg("failed to record batch run")
	}
}

func newRun(trigger domain.BatchTrigger, signature string, started time.Time, result domain.BatchResult, err error) *domain.BatchRun {
	run := &domain.BatchRun{
		ID:         uuid.New().String(),
		Trigger:    trigger,
		Signature:  signature,
		Groups:     result.Groups,
		Created:    result.Created,
		Failed:     result.Failed(),
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
	}
	if err != nil {
		run.Error = err.Error()
	}
	return run
}
