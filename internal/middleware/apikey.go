package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/hitoshi/feedline/internal/model"
)

// APIKeyHeader はジョブ起動などの運用APIで使うAPIキーのヘッダー名。
const APIKeyHeader = "X-API-Key"

// NewAPIKeyMiddleware は X-API-Key ヘッダーを固定のキーと定数時間で比較するミドルウェアを返す。
// キーが未設定の場合はすべてのリクエストを拒否する。
func NewAPIKeyMiddleware(apiKey string, logger *slog.Logger) func(next http.Handler) http.Handler {
	expected := []byte(apiKey)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get(APIKeyHeader)
			if provided == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewInvalidAPIKeyError("API key is required"))
				return
			}

			if len(expected) == 0 || subtle.ConstantTimeCompare([]byte(provided), expected) != 1 {
				logger.Warn("不正なAPIキーによるリクエストを拒否しました",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewInvalidAPIKeyError("Invalid API key"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
