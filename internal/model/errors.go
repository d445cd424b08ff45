// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ジョブ実行に関するセンチネルエラー。errors.Is で判定する。
var (
	// ErrJobAlreadyRunning は同名のジョブが実行中であることを示す。
	ErrJobAlreadyRunning = errors.New("job is already running")
	// ErrJobRunNotFound は指定されたジョブ実行記録が存在しないことを示す。
	ErrJobRunNotFound = errors.New("job run not found")
	// ErrJobRunNotRunning はジョブ実行が既に終了状態であることを示す。
	ErrJobRunNotRunning = errors.New("job run is not running")
)

// APIError は統一エラーフォーマットを表す。
// クライアントに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, feed, job, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeInvalidAPIKey     = "INVALID_API_KEY"
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodeNoActiveFeeds     = "NO_ACTIVE_FEEDS"
	ErrCodeJobFailed         = "JOB_FAILED"
	ErrCodeJobAlreadyRunning = "JOB_ALREADY_RUNNING"
	ErrCodeJobRunNotFound    = "JOB_RUN_NOT_FOUND"
	ErrCodeJobNotRunning     = "JOB_NOT_RUNNING"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewInvalidAPIKeyError はAPIキー不正エラーを生成する。
// reasonにはキー未指定か不一致かを渡す。
func NewInvalidAPIKeyError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidAPIKey,
		Message:  reason,
		Category: "auth",
		Action:   "X-API-Keyヘッダーに正しいAPIキーを指定してください。",
	}
}

// NewInvalidRequestError はリクエストパラメータ不正エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "パラメータを確認してください。",
	}
}

// NewJobAlreadyRunningError はジョブ重複実行エラーを生成する。
func NewJobAlreadyRunningError(jobName string) *APIError {
	return &APIError{
		Code:     ErrCodeJobAlreadyRunning,
		Message:  fmt.Sprintf("%s job is already running", jobName),
		Category: "job",
		Action:   "実行中のジョブが完了するまでお待ちください。",
	}
}

// NewJobFailedError はジョブが失敗結果を返した場合のエラーを生成する。
// codeが空の場合はJOB_FAILEDを使用する。
func NewJobFailedError(code, message string) *APIError {
	if code == "" {
		code = ErrCodeJobFailed
	}
	return &APIError{
		Code:     code,
		Message:  message,
		Category: "job",
		Action:   "ジョブ履歴で詳細を確認してください。",
	}
}

// NewJobRunNotFoundError はジョブ実行記録未検出エラーを生成する。
func NewJobRunNotFoundError(jobID string) *APIError {
	return &APIError{
		Code:     ErrCodeJobRunNotFound,
		Message:  fmt.Sprintf("指定されたジョブ実行記録が見つかりません: %s", jobID),
		Category: "job",
		Action:   "ジョブIDを確認してください。",
	}
}

// NewJobNotRunningError はジョブが既に終了している場合のエラーを生成する。
func NewJobNotRunningError(jobID string) *APIError {
	return &APIError{
		Code:     ErrCodeJobNotRunning,
		Message:  fmt.Sprintf("ジョブは実行中ではありません: %s", jobID),
		Category: "job",
		Action:   "中止できるのは実行中のジョブのみです。",
	}
}
