package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"crosschain-transfer/internal/observability/metrics"
	"crosschain-transfer/pkg/logger"
)

// auditWriter 捕获响应状态码以及请求 ID。
type auditWriter struct {
	http.ResponseWriter
	status    int
	requestID string
}

// WriteHeader 捕获响应状态码并调用底层的 WriteHeader 方法。
func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// instrument 为每个请求记录指标并写一行审计日志。
func (s *Server) instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(aw, r)
		duration := time.Since(start)
		metrics.ObserveHTTPRequest(name, r.Method, aw.status, duration)
		logger.Audit().Info("api_request",
			slog.String("event", name),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", aw.status),
			slog.Int64("duration_ms", duration.Milliseconds()),
			slog.String("request_id", aw.requestID),
			slog.String("remote", r.RemoteAddr),
		)
	})
}

// requireToken 对写请求校验 Bearer token，未配置 token 时放行。
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.tokens) == 0 || r.Method == http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}
		presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || !s.validToken(strings.TrimSpace(presented)) {
			logger.Audit().Warn("access_denied",
				slog.String("path", r.URL.Path),
				slog.String("method", r.Method),
				slog.String("remote", r.RemoteAddr),
			)
			writeJSON(w, http.StatusUnauthorized, failureResponse{Success: false, Error: http.StatusText(http.StatusUnauthorized), Code: "UNAUTHORIZED"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) validToken(presented string) bool {
	if presented == "" {
		return false
	}
	matched := 0
	for _, token := range s.tokens {
		matched |= subtle.ConstantTimeCompare([]byte(presented), []byte(token))
	}
	return matched == 1
}
