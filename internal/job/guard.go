package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/feedline/internal/metrics"
	"github.com/hitoshi/feedline/internal/model"
)

// Operation はガード下で実行される処理。
// jobIDは開始済みの実行記録のID。
// 処理としての失敗はFailで返し、継続不能なエラーはerrorで返す。
type Operation func(ctx context.Context, jobID string) (Outcome, error)

// Lifecycle はGuardが利用する実行記録の操作。
type Lifecycle interface {
	IsRunning(ctx context.Context, jobName string) (bool, error)
	Start(ctx context.Context, jobName string) (string, error)
	Complete(ctx context.Context, jobID, message string) (*model.JobRun, error)
	Fail(ctx context.Context, jobID, errorMessage string) (*model.JobRun, error)
}

// Guard は同名ジョブの重複実行を防ぎつつ処理を実行し、
// どの終了経路でも実行記録を終了状態に遷移させる。
type Guard struct {
	lifecycle Lifecycle
	recorder  metrics.JobRecorder
	logger    *slog.Logger
}

// NewGuard はGuardの新しいインスタンスを生成する。recorderはnilでもよい。
func NewGuard(lifecycle Lifecycle, recorder metrics.JobRecorder, logger *slog.Logger) *Guard {
	return &Guard{
		lifecycle: lifecycle,
		recorder:  recorder,
		logger:    logger,
	}
}

// Run はjobNameのジョブとしてopを実行し、結果と実行記録IDを返す。
//
// 同名ジョブが実行中の場合はopを呼ばず、model.ErrJobAlreadyRunning を返す（実行記録は作成しない）。
// opの結果がOKなら完了、Failなら失敗として記録する。
// opがerrorを返した場合やpanicした場合も失敗として記録した上で、エラーやpanicを呼び出し元に伝える。
// 完了の記録自体に失敗した場合も、runningのまま残さないよう失敗として記録し直す。
// 終了処理は呼び出し元のcontextがキャンセルされていても実行する。
func (g *Guard) Run(ctx context.Context, jobName string, op Operation) (outcome Outcome, jobID string, err error) {
	running, err := g.lifecycle.IsRunning(ctx, jobName)
	if err != nil {
		return Outcome{}, "", err
	}
	if running {
		g.recordConflict(jobName)
		return Outcome{}, "", fmt.Errorf("%s: %w", jobName, model.ErrJobAlreadyRunning)
	}

	jobID, err = g.lifecycle.Start(ctx, jobName)
	if err != nil {
		if errors.Is(err, model.ErrJobAlreadyRunning) {
			g.recordConflict(jobName)
		}
		return Outcome{}, "", err
	}

	started := time.Now()
	bookkeeping := context.WithoutCancel(ctx)

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		message := fmt.Sprintf("%s panicked: %v", jobName, r)
		if _, failErr := g.lifecycle.Fail(bookkeeping, jobID, message); failErr != nil {
			g.logger.Error("panic後のジョブ失敗記録に失敗しました",
				slog.String("job_name", jobName),
				slog.String("job_id", jobID),
				slog.String("error", failErr.Error()),
			)
		}
		g.recordRun(jobName, model.JobStatusFailed, started)
		panic(r)
	}()

	outcome, opErr := op(ctx, jobID)
	if opErr != nil {
		g.recordRun(jobName, model.JobStatusFailed, started)
		if _, failErr := g.lifecycle.Fail(bookkeeping, jobID, opErr.Error()); failErr != nil {
			return Outcome{}, jobID, errors.Join(opErr, failErr)
		}
		return Outcome{}, jobID, opErr
	}

	if outcome.Succeeded() {
		message := outcome.Message()
		if message == "" {
			message = fmt.Sprintf("%s completed successfully", jobName)
		}
		outcome = outcome.withMessage(message)
		if _, err := g.lifecycle.Complete(bookkeeping, jobID, message); err != nil {
			return outcome, jobID, g.failAfterCompleteError(bookkeeping, jobName, jobID, started, err)
		}
		g.recordRun(jobName, model.JobStatusCompleted, started)
		return outcome, jobID, nil
	}

	message := outcome.Message()
	if message == "" {
		message = fmt.Sprintf("%s failed with status %d", jobName, outcome.StatusCode())
	}
	outcome = outcome.withMessage(message)
	g.recordRun(jobName, model.JobStatusFailed, started)
	if _, err := g.lifecycle.Fail(bookkeeping, jobID, message); err != nil {
		return outcome, jobID, err
	}
	return outcome, jobID, nil
}

// failAfterCompleteError は完了記録に失敗した実行を失敗として記録し直す。
// running のまま残ると以降の同名ジョブの起動がすべて拒否されるため、1回だけ試みる。
// 既に終了状態（運用者による中止など）の場合は何もしない。
func (g *Guard) failAfterCompleteError(ctx context.Context, jobName, jobID string, started time.Time, completeErr error) error {
	if errors.Is(completeErr, model.ErrJobRunNotRunning) {
		return completeErr
	}
	g.recordRun(jobName, model.JobStatusFailed, started)
	message := fmt.Sprintf("%s: failed to record completion: %v", jobName, completeErr)
	if _, failErr := g.lifecycle.Fail(ctx, jobID, message); failErr != nil {
		g.logger.Error("完了記録の失敗後、ジョブ失敗の記録にも失敗しました",
			slog.String("job_name", jobName),
			slog.String("job_id", jobID),
			slog.String("error", failErr.Error()),
		)
		return errors.Join(completeErr, failErr)
	}
	return completeErr
}

func (g *Guard) recordConflict(jobName string) {
	g.logger.Warn("ジョブは既に実行中のため起動を拒否しました",
		slog.String("job_name", jobName),
	)
	if g.recorder != nil {
		g.recorder.RecordJobConflict(jobName)
	}
}

func (g *Guard) recordRun(jobName string, status model.JobStatus, started time.Time) {
	if g.recorder != nil {
		g.recorder.RecordJobRun(jobName, string(status), time.Since(started))
	}
}

// compile-time interface check
var _ Lifecycle = (*Tracker)(nil)
