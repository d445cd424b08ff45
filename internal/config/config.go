package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Operator API
	CronAPIKey string

	// Server
	ServerPort string

	// Logging
	LogLevel string

	// Fetch
	FetchTimeout   time.Duration
	FetchMaxSize   int64
	FetchUserAgent string

	// Schedule
	FetchSchedule    string
	CleanupSchedule  string
	ScheduleTimezone string
	ScheduleLocation *time.Location

	// Job runs
	JobRetentionDays int

	// Rate Limit（req/min）
	RateLimitTrigger int
	RateLimitGeneral int

	// Entries
	EntriesPageLimit int
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合やタイムゾーンが不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.CronAPIKey = os.Getenv("CRON_API_KEY")
	if cfg.CronAPIKey == "" {
		missing = append(missing, "CRON_API_KEY")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.FetchUserAgent = getEnvString("FETCH_USER_AGENT", "")
	cfg.FetchSchedule = getEnvString("FETCH_SCHEDULE", "*/30 * * * *")
	cfg.CleanupSchedule = getEnvString("CLEANUP_SCHEDULE", "@daily")
	cfg.ScheduleTimezone = getEnvString("SCHEDULE_TIMEZONE", "UTC")
	cfg.JobRetentionDays = getEnvInt("JOB_RETENTION_DAYS", 30)
	cfg.RateLimitTrigger = getEnvInt("RATE_LIMIT_TRIGGER", 6)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.EntriesPageLimit = getEnvInt("ENTRIES_PAGE_LIMIT", 100)

	loc, err := time.LoadLocation(cfg.ScheduleTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULE_TIMEZONE %q: %w", cfg.ScheduleTimezone, err)
	}
	cfg.ScheduleLocation = loc

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
