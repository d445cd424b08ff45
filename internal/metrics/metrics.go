// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// FetchRecorder はフィードフェッチに関するメトリクス記録のインターフェース。
type FetchRecorder interface {
	RecordFetchSuccess(feedID string)
	RecordFetchFailure(feedID string, reason string)
	RecordHTTPStatus(statusCode int)
	RecordFetchLatency(duration time.Duration)
	RecordEntriesInserted(count int)
}

// JobRecorder はジョブ実行に関するメトリクス記録のインターフェース。
type JobRecorder interface {
	RecordJobRun(jobName, status string, duration time.Duration)
	RecordJobConflict(jobName string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	fetchSuccess    prometheus.Counter
	fetchFail       *prometheus.CounterVec
	httpStatus      *prometheus.CounterVec
	fetchLatency    prometheus.Histogram
	entriesInserted prometheus.Counter
	jobRuns         *prometheus.CounterVec
	jobConflicts    *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		fetchSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedline_fetch_success_total",
			Help: "フィードフェッチ成功の合計数",
		}),
		fetchFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedline_fetch_fail_total",
			Help: "理由別のフィードフェッチ失敗数",
		}, []string{"reason"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedline_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "feedline_fetch_latency_seconds",
			Help:    "フィードフェッチのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		entriesInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedline_entries_inserted_total",
			Help: "新規保存された記事の合計数",
		}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedline_job_runs_total",
			Help: "ジョブ名・終了ステータス別のジョブ実行数",
		}, []string{"job_name", "status"}),
		jobConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedline_job_conflicts_total",
			Help: "実行中のため拒否されたジョブ起動の数",
		}, []string{"job_name"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "feedline_job_duration_seconds",
			Help:    "ジョブ実行時間（秒）",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"job_name"}),
	}

	reg.MustRegister(
		c.fetchSuccess,
		c.fetchFail,
		c.httpStatus,
		c.fetchLatency,
		c.entriesInserted,
		c.jobRuns,
		c.jobConflicts,
		c.jobDuration,
	)

	return c
}

// RecordFetchSuccess はフェッチ成功を記録する。
func (c *Collector) RecordFetchSuccess(feedID string) {
	c.fetchSuccess.Inc()
}

// RecordFetchFailure はフェッチ失敗を記録する。
// reasonはラベルの濃度を抑えるため ssrf / transport / read / status のいずれかとする。
func (c *Collector) RecordFetchFailure(feedID string, reason string) {
	c.fetchFail.WithLabelValues(reason).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordFetchLatency はフェッチのレイテンシを記録する。
func (c *Collector) RecordFetchLatency(duration time.Duration) {
	c.fetchLatency.Observe(duration.Seconds())
}

// RecordEntriesInserted は新規保存された記事数を記録する。
func (c *Collector) RecordEntriesInserted(count int) {
	c.entriesInserted.Add(float64(count))
}

// RecordJobRun はジョブの終了を記録する。
func (c *Collector) RecordJobRun(jobName, status string, duration time.Duration) {
	c.jobRuns.WithLabelValues(jobName, status).Inc()
	c.jobDuration.WithLabelValues(jobName).Observe(duration.Seconds())
}

// RecordJobConflict は重複起動の拒否を記録する。
func (c *Collector) RecordJobConflict(jobName string) {
	c.jobConflicts.WithLabelValues(jobName).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var (
	_ FetchRecorder = (*Collector)(nil)
	_ JobRecorder   = (*Collector)(nil)
)
