package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/feedline/internal/middleware"
)

// healthCheckTimeout はDB疎通確認の上限時間。
const healthCheckTimeout = 3 * time.Second

// HealthChecker はDB接続の疎通確認を行う。*sql.DBが実装する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// HealthHandler はヘルスチェックのHTTPハンドラー。
type HealthHandler struct {
	checker HealthChecker
	logger  *slog.Logger
}

// NewHealthHandler はHealthHandlerを生成する。
func NewHealthHandler(checker HealthChecker, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{checker: checker, logger: logger}
}

type healthResponse struct {
	Status string `json:"status"`
}

// Check はDBに疎通できれば200、できなければ503を返す。
// GET /health
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := h.checker.PingContext(ctx); err != nil {
		h.logger.Error("ヘルスチェックでDB疎通に失敗しました", slog.String("error", err.Error()))
		middleware.WriteJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
		return
	}
	middleware.WriteJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}
