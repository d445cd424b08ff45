package model

import "time"

// JobStatus はジョブ実行の状態を表す。
// running から completed / failed / cancelled のいずれかへ1回だけ遷移する。
type JobStatus string

const (
	// JobStatusRunning は実行中。
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted は正常終了。
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed は異常終了。
	JobStatusFailed JobStatus = "failed"
	// JobStatusCancelled はオペレーターによる中止。
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal は終了状態かどうかを返す。
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// JobRun は1回のジョブ実行の記録を表す。
// CompletedAtとDurationは終了状態のときのみ設定される。
type JobRun struct {
	ID          string
	JobName     string
	Status      JobStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	Duration    string
	Message     string
}

// JobStats はステータス別のジョブ実行件数。
type JobStats struct {
	Total     int
	Running   int
	Completed int
	Failed    int
	Cancelled int
}
