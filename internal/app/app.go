package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/feedline/internal/config"
	"github.com/hitoshi/feedline/internal/database"
	"github.com/hitoshi/feedline/internal/entry"
	"github.com/hitoshi/feedline/internal/feed"
	"github.com/hitoshi/feedline/internal/handler"
	"github.com/hitoshi/feedline/internal/job"
	"github.com/hitoshi/feedline/internal/logger"
	"github.com/hitoshi/feedline/internal/metrics"
	"github.com/hitoshi/feedline/internal/middleware"
	"github.com/hitoshi/feedline/internal/repository"
	"github.com/hitoshi/feedline/internal/security"
	"github.com/hitoshi/feedline/internal/worker/cleanup"
	fetchpkg "github.com/hitoshi/feedline/internal/worker/fetch"
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップしてから環境変数を読み込み、LOG_LEVELをロガーに反映する。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	level := new(slog.LevelVar)
	logger.SetupDefault(w, level)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. ログレベルの反映
	lvl, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		slog.Warn("LOG_LEVELが不正なためinfoで出力します", slog.String("log_level", cfg.LogLevel))
	}
	level.Set(lvl)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg, migrateArgs(args))
	default:
		return runServe(ctx, cfg)
	}
}

// pipeline はAPIサーバーとワーカーで共有するジョブ実行の構成要素。
type pipeline struct {
	tracker    *job.Tracker
	guard      *job.Guard
	fetchAll   *fetchpkg.FetchAllJob
	cleanup    *cleanup.CleanupJob
	entries    *entry.Service
	sessions   *repository.PostgresSessionRepo
	registry   *prometheus.Registry
	dbPingable handler.HealthChecker
}

// newPipeline はリポジトリからジョブまでの依存関係をワイヤリングする。
// メトリクスはプロセスごとのレジストリに登録する。
func newPipeline(cfg *config.Config, db *sql.DB, log *slog.Logger) *pipeline {
	// 1. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 2. リポジトリの初期化
	feedRepo := repository.NewPostgresFeedRepo(db)
	entryRepo := repository.NewPostgresEntryRepo(db)
	jobRunRepo := repository.NewPostgresJobRunRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)

	// 3. セキュリティサービスの初期化
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewSanitizer()

	// 4. ジョブ実行記録とガード
	tracker := job.NewTracker(jobRunRepo, log)
	guard := job.NewGuard(tracker, collector, log)

	// 5. フェッチパイプライン
	fetcher := fetchpkg.NewFetcher(ssrfGuard, feed.NewNormalizer(log), collector, log, fetchpkg.Options{
		Timeout:     cfg.FetchTimeout,
		MaxBodySize: cfg.FetchMaxSize,
		UserAgent:   cfg.FetchUserAgent,
	})
	entryService := entry.NewService(entryRepo, sanitizer, collector, log)

	return &pipeline{
		tracker:    tracker,
		guard:      guard,
		fetchAll:   fetchpkg.NewFetchAllJob(feedRepo, fetcher, entryService, log),
		cleanup:    cleanup.NewCleanupJob(tracker, log, cfg.JobRetentionDays),
		entries:    entryService,
		sessions:   sessionRepo,
		registry:   registry,
		dbPingable: db,
	}
}

// openDB はDB接続を開き、疎通を確認する。
func openDB(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := database.Open(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	log := slog.Default()

	// 1. DB接続
	db, err := openDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	log.Info("database connection established")

	// 2. ジョブ実行の構成要素
	p := newPipeline(cfg, db, log)

	// 3. レート制限
	triggerLimiter := middleware.NewRateLimiter("trigger",
		middleware.PerMinute(cfg.RateLimitTrigger), middleware.KeyByClientIP, log)
	defer triggerLimiter.Stop()
	readerLimiter := middleware.NewRateLimiter("general",
		middleware.PerMinute(cfg.RateLimitGeneral), middleware.KeyByUserID, log)
	defer readerLimiter.Stop()

	// 4. ルーターの構築
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:           log,
		HealthChecker:    p.dbPingable,
		MetricsHandler:   metrics.Handler(p.registry),
		APIKey:           cfg.CronAPIKey,
		TriggerLimiter:   triggerLimiter,
		JobRunner:        p.guard,
		FetchAll:         p.fetchAll.Run,
		JobRuns:          p.tracker,
		SessionFinder:    p.sessions,
		ReaderLimiter:    readerLimiter,
		Entries:          p.entries,
		EntriesPageLimit: cfg.EntriesPageLimit,
	})

	// 5. HTTPサーバーの起動
	return serveHTTP(ctx, &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // fetch-allは全フィードの取得を待って応答する
		IdleTimeout:  60 * time.Second,
	}, "API server")
}

// runWorker はワーカーモードで起動する。
// フィード取得と実行記録の削除をcron式に従ってガード付きで実行する。
// /health と /metrics のみを公開する補助HTTPサーバーも起動する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	log := slog.Default()

	// 1. DB接続
	db, err := openDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	log.Info("database connection established (worker)")

	// 2. ジョブ実行の構成要素
	p := newPipeline(cfg, db, log)

	// 3. スケジューラへの登録
	scheduler := fetchpkg.NewScheduler(p.guard, log, cfg.ScheduleLocation)
	if err := scheduler.Register(cfg.FetchSchedule, fetchpkg.JobName, p.fetchAll.Run); err != nil {
		return err
	}
	if err := scheduler.Register(cfg.CleanupSchedule, cleanup.JobName, p.cleanup.Run); err != nil {
		return err
	}

	// 4. 補助HTTPサーバー
	r := chi.NewRouter()
	r.Get("/health", handler.NewHealthHandler(p.dbPingable, log).Check)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(p.registry))
	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- serveHTTP(ctx, srv, "worker status server") }()

	log.Info("worker starting",
		slog.String("fetch_schedule", cfg.FetchSchedule),
		slog.String("cleanup_schedule", cfg.CleanupSchedule),
		slog.String("timezone", cfg.ScheduleTimezone),
	)

	// スケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx)

	if err := <-serveErr; err != nil {
		return err
	}
	log.Info("worker stopped gracefully")
	return nil
}

// serveHTTP はsrvを起動し、ctxがキャンセルされたらグレースフルシャットダウンする。
func serveHTTP(ctx context.Context, srv *http.Server, name string) error {
	listenErr := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
		close(listenErr)
	}()

	select {
	case err, ok := <-listenErr:
		if ok {
			return fmt.Errorf("%s listen failed: %w", name, err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down " + name + "...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", name, err)
	}
	slog.Info(name + " stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
//
//	migrate            未適用のマイグレーションをすべて適用する
//	migrate down [N]   N件（既定1件）ロールバックする
//	migrate version    現在のバージョンを表示する
func runMigrate(cfg *config.Config, args []string) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	action := ""
	if len(args) > 0 {
		action = args[0]
	}

	switch action {
	case "", "up":
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		slog.Info("database migrations completed successfully")
	case "down":
		steps := 1
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid rollback steps: %q", args[1])
			}
			steps = n
		}
		if err := database.RollbackMigrations(cfg.DatabaseURL, steps); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		slog.Info("database migrations rolled back", slog.Int("steps", steps))
	case "version":
		version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to read migration version: %w", err)
		}
		slog.Info("database migration version",
			slog.Uint64("version", uint64(version)),
			slog.Bool("dirty", dirty),
		)
	default:
		return fmt.Errorf("unknown migrate action: %q", action)
	}
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
