package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/feedline/internal/job"
	"github.com/hitoshi/feedline/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ヘルスチェック・メトリクス
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// オペレーター向けAPI（X-API-Key認証）
	APIKey         string
	TriggerLimiter *middleware.RateLimiter
	JobRunner      JobRunner
	FetchAll       job.Operation
	JobRuns        JobRunService

	// 利用者向けAPI（セッション認証）
	SessionFinder    middleware.SessionFinder
	ReaderLimiter    *middleware.RateLimiter
	Entries          EntryLister
	EntriesPageLimit int
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Recovery → SecurityHeaders → Logging
//
// /api/rss/fetch-all と /api/jobs/* はAPIキー認証とクライアントIP単位のレート制限、
// /api/rss/subscribed/* はセッション認証とユーザー単位のレート制限を通る。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	healthHandler := NewHealthHandler(deps.HealthChecker, deps.Logger)
	rssHandler := NewRSSHandler(deps.JobRunner, deps.FetchAll, deps.Entries, deps.EntriesPageLimit, deps.Logger)
	jobHandler := NewJobHandler(deps.JobRuns, deps.Logger)

	// --- 認証不要のルート ---
	r.Get("/health", healthHandler.Check)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- オペレーター向けルート ---
	// ミドルウェアスタック: APIKey → RateLimit(ClientIP)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAPIKeyMiddleware(deps.APIKey, deps.Logger))
		if deps.TriggerLimiter != nil {
			r.Use(deps.TriggerLimiter.Middleware())
		}

		// cronサービスからの呼び出しを想定しGETも受け付ける
		r.Get("/api/rss/fetch-all", rssHandler.FetchAll)
		r.Post("/api/rss/fetch-all", rssHandler.FetchAll)

		r.Route("/api/jobs", func(r chi.Router) {
			r.Get("/stats", jobHandler.Stats)

			r.Route("/runs", func(r chi.Router) {
				r.Delete("/", jobHandler.Cleanup)
				r.Get("/running", jobHandler.Running)
				r.Get("/recent", jobHandler.Recent)
				r.Get("/history", jobHandler.History)
				r.Get("/{id}", jobHandler.Get)
				r.Post("/{id}/cancel", jobHandler.Cancel)
			})
		})
	})

	// --- 利用者向けルート ---
	// ミドルウェアスタック: Session → RateLimit(UserID)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder, deps.Logger))
		if deps.ReaderLimiter != nil {
			r.Use(deps.ReaderLimiter.Middleware())
		}

		r.Get("/api/rss/subscribed/entries", rssHandler.SubscribedEntries)
	})

	return r
}
