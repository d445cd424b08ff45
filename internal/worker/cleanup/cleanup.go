// Package cleanup は保持期間を過ぎたジョブ実行記録を削除するジョブを提供する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/feedline/internal/job"
)

// JobName はジョブ実行記録の削除ジョブの名前。
const JobName = "job-runs-cleanup"

// JobRunCleaner は指定日数より前に開始したジョブ実行記録を削除する。
type JobRunCleaner interface {
	CleanupOlderThan(ctx context.Context, days int) (int64, error)
}

// CleanupJob はジョブ実行記録の保持期間を管理する定期ジョブ。
// 削除対象がなくてもエラーにならないため、何度実行してもよい。
type CleanupJob struct {
	cleaner       JobRunCleaner
	logger        *slog.Logger
	RetentionDays int // 保持日数（0以下は job.DefaultRetentionDays）
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(cleaner JobRunCleaner, logger *slog.Logger, retentionDays int) *CleanupJob {
	if retentionDays <= 0 {
		retentionDays = job.DefaultRetentionDays
	}
	return &CleanupJob{
		cleaner:       cleaner,
		logger:        logger,
		RetentionDays: retentionDays,
	}
}

// Run はjob.Operationとして実行される。
func (j *CleanupJob) Run(ctx context.Context, jobID string) (job.Outcome, error) {
	start := time.Now()

	deleted, err := j.cleaner.CleanupOlderThan(ctx, j.RetentionDays)
	if err != nil {
		j.logger.Error("ジョブ実行記録のクリーンアップに失敗しました",
			slog.String("job_id", jobID),
			slog.Int("retention_days", j.RetentionDays),
			slog.String("error", err.Error()),
		)
		return job.Outcome{}, err
	}

	j.logger.Info("ジョブ実行記録のクリーンアップが完了しました",
		slog.String("job_id", jobID),
		slog.Int64("deleted_count", deleted),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return job.OK(fmt.Sprintf("Deleted %d job runs older than %d days.", deleted, j.RetentionDays)), nil
}
