package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/feedline/internal/middleware"
	"github.com/hitoshi/feedline/internal/model"
)

// JobRunService はジョブ実行記録の参照と操作を行う。job.Trackerが実装する。
type JobRunService interface {
	Get(ctx context.Context, jobID string) (*model.JobRun, error)
	RecentRuns(ctx context.Context, jobName string, limit int) ([]*model.JobRun, error)
	RunsInLastNDays(ctx context.Context, days int, jobName string) ([]*model.JobRun, error)
	RunningRuns(ctx context.Context) ([]*model.JobRun, error)
	Stats(ctx context.Context, jobName string) (*model.JobStats, error)
	Cancel(ctx context.Context, jobID, reason string) (*model.JobRun, error)
	CleanupOlderThan(ctx context.Context, days int) (int64, error)
}

// JobHandler はジョブ実行記録を扱うオペレーター向けHTTPハンドラー。
type JobHandler struct {
	service JobRunService
	logger  *slog.Logger
}

// NewJobHandler はJobHandlerを生成する。
func NewJobHandler(service JobRunService, logger *slog.Logger) *JobHandler {
	return &JobHandler{
		service: service,
		logger:  logger,
	}
}

// --- リクエスト/レスポンス型 ---

// jobRunResponse はジョブ実行記録のレスポンス。
type jobRunResponse struct {
	ID          string     `json:"id"`
	JobName     string     `json:"job_name"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Duration    string     `json:"duration,omitempty"`
	Message     string     `json:"message,omitempty"`
}

// jobRunListResponse はジョブ実行記録一覧のレスポンス。
type jobRunListResponse struct {
	Runs  []jobRunResponse `json:"runs"`
	Count int              `json:"count"`
}

// jobStatsResponse はステータス別件数のレスポンス。
type jobStatsResponse struct {
	JobName   string `json:"job_name,omitempty"`
	Total     int    `json:"total"`
	Running   int    `json:"running"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Cancelled int    `json:"cancelled"`
}

// cancelRequest はジョブ中止リクエストのボディ。
type cancelRequest struct {
	Reason string `json:"reason"`
}

// cleanupResponse は古い実行記録の削除結果。
type cleanupResponse struct {
	Deleted       int64 `json:"deleted"`
	OlderThanDays int   `json:"older_than_days"`
}

// Running は実行中のジョブ一覧を返す。
// GET /api/jobs/runs/running
func (h *JobHandler) Running(w http.ResponseWriter, r *http.Request) {
	runs, err := h.service.RunningRuns(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, toJobRunList(runs))
}

// Recent は指定ジョブの直近の実行記録を返す。
// GET /api/jobs/runs/recent?job_name=xxx&limit=N
func (h *JobHandler) Recent(w http.ResponseWriter, r *http.Request) {
	jobName := r.URL.Query().Get("job_name")
	if jobName == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("job_name を指定してください"))
		return
	}
	limit, ok := positiveIntQuery(w, r, "limit")
	if !ok {
		return
	}

	runs, err := h.service.RecentRuns(r.Context(), jobName, limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, toJobRunList(runs))
}

// History は直近N日に開始した実行記録を返す。job_name未指定時は全ジョブが対象。
// GET /api/jobs/runs/history?days=N&job_name=xxx
func (h *JobHandler) History(w http.ResponseWriter, r *http.Request) {
	days, ok := positiveIntQuery(w, r, "days")
	if !ok {
		return
	}

	runs, err := h.service.RunsInLastNDays(r.Context(), days, r.URL.Query().Get("job_name"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, toJobRunList(runs))
}

// Get は指定IDの実行記録を返す。
// GET /api/jobs/runs/{id}
func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	run, err := h.service.Get(r.Context(), jobID)
	if err != nil {
		h.writeServiceError(w, err, jobID)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, toJobRunResponse(run))
}

// Cancel は実行中のジョブ記録を中止状態にする。
// POST /api/jobs/runs/{id}/cancel
//
// ボディは省略可能で、reason未指定時は既定の理由が記録される。
func (h *JobHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("リクエストボディのJSONが不正です"))
		return
	}

	run, err := h.service.Cancel(r.Context(), jobID, req.Reason)
	if err != nil {
		h.writeServiceError(w, err, jobID)
		return
	}

	h.logger.Info("ジョブを中止しました",
		slog.String("job_id", run.ID),
		slog.String("job_name", run.JobName),
		slog.String("reason", run.Message),
	)
	middleware.WriteJSON(w, http.StatusOK, toJobRunResponse(run))
}

// Cleanup は指定日数より前に開始した実行記録を削除する。
// DELETE /api/jobs/runs?older_than_days=N
func (h *JobHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	days, ok := positiveIntQuery(w, r, "older_than_days")
	if !ok {
		return
	}

	deleted, err := h.service.CleanupOlderThan(r.Context(), days)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, cleanupResponse{Deleted: deleted, OlderThanDays: days})
}

// Stats はステータス別の実行件数を返す。job_name未指定時は全ジョブが対象。
// GET /api/jobs/stats?job_name=xxx
func (h *JobHandler) Stats(w http.ResponseWriter, r *http.Request) {
	jobName := r.URL.Query().Get("job_name")

	stats, err := h.service.Stats(r.Context(), jobName)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, jobStatsResponse{
		JobName:   jobName,
		Total:     stats.Total,
		Running:   stats.Running,
		Completed: stats.Completed,
		Failed:    stats.Failed,
		Cancelled: stats.Cancelled,
	})
}

// writeServiceError はサービス層のエラーを適切なHTTPレスポンスに変換する。
// jobIDは対象の実行記録がある操作でのみ渡す。
func (h *JobHandler) writeServiceError(w http.ResponseWriter, err error, jobID ...string) {
	id := ""
	if len(jobID) > 0 {
		id = jobID[0]
	}

	switch {
	case errors.Is(err, model.ErrJobRunNotFound):
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewJobRunNotFoundError(id))
	case errors.Is(err, model.ErrJobRunNotRunning):
		middleware.WriteErrorResponse(w, http.StatusConflict, model.NewJobNotRunningError(id))
	default:
		h.logger.Error("ジョブ実行記録の操作に失敗しました",
			slog.String("job_id", id),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
	}
}

// positiveIntQuery はクエリパラメータを正の整数として読み取る。
// 未指定の場合は0を返し、既定値の適用はサービス層に任せる。
// 不正な値の場合は400を書き込みfalseを返す。
func positiveIntQuery(w http.ResponseWriter, r *http.Request, key string) (int, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError(key+" は正の整数で指定してください"))
		return 0, false
	}
	return n, true
}

func toJobRunResponse(run *model.JobRun) jobRunResponse {
	return jobRunResponse{
		ID:          run.ID,
		JobName:     run.JobName,
		Status:      string(run.Status),
		StartedAt:   run.StartedAt,
		CompletedAt: run.CompletedAt,
		Duration:    run.Duration,
		Message:     run.Message,
	}
}

func toJobRunList(runs []*model.JobRun) jobRunListResponse {
	resp := jobRunListResponse{
		Runs:  make([]jobRunResponse, 0, len(runs)),
		Count: len(runs),
	}
	for _, run := range runs {
		resp.Runs = append(resp.Runs, toJobRunResponse(run))
	}
	return resp
}
