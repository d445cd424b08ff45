package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/feedline/internal/job"
	"github.com/hitoshi/feedline/internal/middleware"
	"github.com/hitoshi/feedline/internal/model"
	"github.com/hitoshi/feedline/internal/worker/fetch"
)

// JobRunner はジョブを重複実行ガード付きで実行する。job.Guardが実装する。
type JobRunner interface {
	Run(ctx context.Context, jobName string, op job.Operation) (job.Outcome, string, error)
}

// EntryLister は購読中フィードの記事一覧を返す。
type EntryLister interface {
	ListSubscribed(ctx context.Context, userID string, limit int) ([]model.EntryWithFeed, error)
}

// RSSHandler はフィード取得ジョブの起動と記事一覧のHTTPハンドラー。
type RSSHandler struct {
	runner    JobRunner
	fetchAll  job.Operation
	entries   EntryLister
	pageLimit int
	logger    *slog.Logger
}

// NewRSSHandler はRSSHandlerを生成する。pageLimitは記事一覧のlimit未指定時の件数。
func NewRSSHandler(runner JobRunner, fetchAll job.Operation, entries EntryLister, pageLimit int, logger *slog.Logger) *RSSHandler {
	return &RSSHandler{
		runner:    runner,
		fetchAll:  fetchAll,
		entries:   entries,
		pageLimit: pageLimit,
		logger:    logger,
	}
}

// --- レスポンス型 ---

// jobTriggerResponse はジョブ起動成功時のレスポンス。
type jobTriggerResponse struct {
	Message string `json:"message"`
	JobID   string `json:"job_id"`
}

// feedResponse は記事に埋め込むフィード情報。
type feedResponse struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	SiteURL     string     `json:"site_url,omitempty"`
	FaviconURL  string     `json:"favicon_url,omitempty"`
	LastFetched *time.Time `json:"last_fetched,omitempty"`
}

// entryResponse は購読中フィードの記事レスポンス。
type entryResponse struct {
	ID                string       `json:"id"`
	FeedID            string       `json:"feed_id"`
	Title             string       `json:"title"`
	Link              string       `json:"link"`
	Description       string       `json:"description,omitempty"`
	IsDescriptionHTML bool         `json:"is_description_html"`
	Author            string       `json:"author,omitempty"`
	GUID              string       `json:"guid"`
	PubDate           *time.Time   `json:"pub_date,omitempty"`
	IsRead            bool         `json:"is_read"`
	IsBookmarked      bool         `json:"is_bookmarked"`
	CreatedAt         time.Time    `json:"created_at"`
	Feed              feedResponse `json:"feed"`
}

// entryListResponse は記事一覧のレスポンス。
type entryListResponse struct {
	Entries []entryResponse `json:"entries"`
	Count   int             `json:"count"`
}

// FetchAll は有効な全フィードの取得ジョブを実行する。
// GET|POST /api/rss/fetch-all
//
// 実行中の同名ジョブがある場合は409、有効なフィードがない場合は404を返す。
// 取得や保存に失敗した場合は実行記録を失敗にした上で500を返す。
func (h *RSSHandler) FetchAll(w http.ResponseWriter, r *http.Request) {
	outcome, jobID, err := h.runner.Run(r.Context(), fetch.JobName, h.fetchAll)
	if err != nil {
		h.writeRunError(w, fetch.JobName, jobID, err)
		return
	}

	if !outcome.Succeeded() {
		code := model.ErrCodeJobFailed
		if outcome.StatusCode() == http.StatusNotFound {
			code = model.ErrCodeNoActiveFeeds
		}
		middleware.WriteErrorResponse(w, outcome.StatusCode(), model.NewJobFailedError(code, outcome.Message()))
		return
	}

	middleware.WriteJSON(w, http.StatusOK, jobTriggerResponse{
		Message: outcome.Message(),
		JobID:   jobID,
	})
}

// writeRunError はガード付き実行のエラーをHTTPレスポンスに変換する。
func (h *RSSHandler) writeRunError(w http.ResponseWriter, jobName, jobID string, err error) {
	if errors.Is(err, model.ErrJobAlreadyRunning) {
		middleware.WriteErrorResponse(w, http.StatusConflict, model.NewJobAlreadyRunningError(jobName))
		return
	}

	h.logger.Error("ジョブの実行に失敗しました",
		slog.String("job_name", jobName),
		slog.String("job_id", jobID),
		slog.String("error", err.Error()),
	)

	// フィード取得の失敗は実行記録と同じメッセージを返す
	var fetchErr *fetch.FetchError
	if errors.As(err, &fetchErr) {
		middleware.WriteErrorResponse(w, http.StatusInternalServerError,
			model.NewJobFailedError(model.ErrCodeJobFailed, fetchErr.Error()))
		return
	}
	middleware.WriteInternalServerError(w)
}

// SubscribedEntries はログインユーザーが購読中のフィードの記事一覧を返す。
// GET /api/rss/subscribed/entries?limit=N
func (h *RSSHandler) SubscribedEntries(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	limit := h.pageLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			middleware.WriteErrorResponse(w, http.StatusBadRequest,
				model.NewInvalidRequestError("limit は正の整数で指定してください"))
			return
		}
		limit = n
	}

	entries, err := h.entries.ListSubscribed(r.Context(), userID, limit)
	if err != nil {
		h.logger.Error("記事一覧の取得に失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	resp := entryListResponse{
		Entries: make([]entryResponse, 0, len(entries)),
		Count:   len(entries),
	}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, toEntryResponse(e))
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

func toEntryResponse(e model.EntryWithFeed) entryResponse {
	return entryResponse{
		ID:                e.ID,
		FeedID:            e.FeedID,
		Title:             e.Title,
		Link:              e.Link,
		Description:       e.Description,
		IsDescriptionHTML: e.IsDescriptionHTML,
		Author:            e.Author,
		GUID:              e.GUID,
		PubDate:           e.PubDate,
		IsRead:            e.IsRead,
		IsBookmarked:      e.IsBookmarked,
		CreatedAt:         e.CreatedAt,
		Feed: feedResponse{
			ID:          e.Feed.ID,
			Title:       e.Feed.Title,
			URL:         e.Feed.URL,
			SiteURL:     e.Feed.SiteURL,
			FaviconURL:  e.Feed.FaviconURL,
			LastFetched: e.Feed.LastFetched,
		},
	}
}
