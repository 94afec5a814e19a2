package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"crosschain-transfer/internal/chain"
	"crosschain-transfer/internal/journal"
	"crosschain-transfer/internal/observability/metrics"
	"crosschain-transfer/internal/transfer"
	"crosschain-transfer/internal/web3"
	"crosschain-transfer/pkg/logger"
)

// TransferService 是 API 依赖的转账服务能力。
type TransferService interface {
	Submit(ctx context.Context, req transfer.Request) (transfer.Receipt, error)
	Get(ctx context.Context, id string) (*journal.Entry, error)
	List(ctx context.Context, opts ...journal.ListOption) ([]*journal.Entry, error)
}

// ChainProber 用于深度健康检查。
type ChainProber interface {
	Snapshot(ctx context.Context, chainID string) (web3.ChainSnapshot, error)
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr     string
	service  TransferService
	chains   *chain.Registry
	prober   ChainProber
	tokens   []string
	logger   *slog.Logger
	shutdown time.Duration
}

// Option 配置 Server。
type Option func(*Server)

// WithProber 启用 /healthz?deep=1 的链头探测。
func WithProber(p ChainProber) Option {
	return func(s *Server) { s.prober = p }
}

// WithAPITokens 要求写接口携带其中一个 Bearer token，为空时不鉴权。
func WithAPITokens(tokens ...string) Option {
	return func(s *Server) {
		for _, token := range tokens {
			if token != "" {
				s.tokens = append(s.tokens, token)
			}
		}
	}
}

// WithShutdownTimeout 指定优雅关闭的等待时间。
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdown = d
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, svc TransferService, chains *chain.Registry, opts ...Option) *Server {
	s := &Server{
		addr:     addr,
		service:  svc,
		chains:   chains,
		logger:   logger.Named("api"),
		shutdown: 10 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回挂载了全部路由的处理器。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/v1/transfers", s.instrument("transfers", s.requireToken(http.HandlerFunc(s.handleTransfers))))
	mux.Handle("/api/v1/transfers/", s.instrument("transfer_detail", http.HandlerFunc(s.handleTransferDetail)))
	mux.Handle("/api/v1/intents", s.instrument("intents", s.requireToken(http.HandlerFunc(s.handleIntents))))
	mux.Handle("/api/v1/chains", s.instrument("chains", http.HandlerFunc(s.handleChains)))
	mux.Handle("/healthz", s.instrument("healthz", http.HandlerFunc(s.handleHealth)))
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
		// 跨链提交需要等待授权回执，写超时保持宽松。
		WriteTimeout: 10 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API 服务启动", slog.String("addr", s.addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdown)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
