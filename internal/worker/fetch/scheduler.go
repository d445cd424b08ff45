// Package fetch はフィードの取得と、定期実行されるジョブのスケジューリングを提供する。
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hitoshi/feedline/internal/job"
	"github.com/hitoshi/feedline/internal/model"
)

// GuardedRunner は重複実行を防止してジョブを実行する。
type GuardedRunner interface {
	Run(ctx context.Context, jobName string, op job.Operation) (job.Outcome, string, error)
}

// Scheduler はcron式に従ってガード付きジョブを起動する。
// HTTPトリガーと同じGuardを使うため、両者は互いに排他される。
type Scheduler struct {
	cron   *cron.Cron
	runner GuardedRunner
	logger *slog.Logger
	ctx    context.Context
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。locがnilの場合はUTCを使う。
func NewScheduler(runner GuardedRunner, logger *slog.Logger, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	cl := cronLogger{logger}
	// Guardはpanicを記録後に再送出するため、ここで回収してワーカーを継続させる
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
	return &Scheduler{
		cron:   c,
		runner: runner,
		logger: logger,
		ctx:    context.Background(),
	}
}

// Register はspec（標準5フィールドまたは@daily等の記述子）でジョブを登録する。
// 不正なspecはエラーになる。
func (s *Scheduler) Register(spec, jobName string, op job.Operation) error {
	if jobName == "" || op == nil {
		return errors.New("ジョブ名と処理は必須です")
	}
	if _, err := s.cron.AddFunc(spec, func() { s.Trigger(s.ctx, jobName, op) }); err != nil {
		return fmt.Errorf("ジョブのスケジュール登録に失敗しました (%s, %q): %w", jobName, spec, err)
	}
	s.logger.Info("ジョブをスケジュールに登録しました",
		slog.String("job_name", jobName),
		slog.String("spec", spec),
	)
	return nil
}

// Start はスケジューラを起動し、ctxがキャンセルされるまでブロックする。
// 停止時は実行中のジョブの終了を待つ。
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	s.logger.Info("ジョブスケジューラを開始しました", slog.Int("job_count", len(s.cron.Entries())))

	<-ctx.Done()

	stopped := s.cron.Stop()
	<-stopped.Done()
	s.logger.Info("ジョブスケジューラを停止しました")
}

// Trigger はジョブを1回ガード付きで実行する。
// 実行中のため拒否された場合はスキップとして記録するのみで、エラーにはしない。
func (s *Scheduler) Trigger(ctx context.Context, jobName string, op job.Operation) {
	outcome, jobID, err := s.runner.Run(ctx, jobName, op)
	switch {
	case errors.Is(err, model.ErrJobAlreadyRunning):
		s.logger.Info("ジョブが実行中のため今回の起動をスキップしました",
			slog.String("job_name", jobName),
		)
	case err != nil:
		s.logger.Error("スケジュール実行されたジョブが失敗しました",
			slog.String("job_name", jobName),
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	case !outcome.Succeeded():
		s.logger.Warn("スケジュール実行されたジョブが失敗結果を返しました",
			slog.String("job_name", jobName),
			slog.String("job_id", jobID),
			slog.Int("status_code", outcome.StatusCode()),
			slog.String("message", outcome.Message()),
		)
	default:
		s.logger.Info("スケジュール実行されたジョブが完了しました",
			slog.String("job_name", jobName),
			slog.String("job_id", jobID),
			slog.String("message", outcome.Message()),
		)
	}
}

// cronLogger はcronの内部ログをslogに流す。
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err.Error())...)
}
