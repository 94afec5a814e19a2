package transfer

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	xerrors "crosschain-transfer/internal/errors"
	"crosschain-transfer/internal/events"
	"crosschain-transfer/internal/journal"
	"crosschain-transfer/internal/observability/alerting"
	"crosschain-transfer/internal/observability/metrics"
	"crosschain-transfer/pkg/logger"
)

// Executor 执行单次转账，Orchestrator 是默认实现。
type Executor interface {
	Execute(ctx context.Context, req Request) (Outcome, error)
}

// Receipt 是 Service.Submit 的返回值，失败时同样携带请求 ID。
type Receipt struct {
	RequestID string
	Outcome   Outcome
}

// Service 在编排器外层记录流水、发布事件、上报指标与告警。
type Service struct {
	exec      Executor
	journal   journal.Store
	publisher events.Publisher
	alerts    alerting.Dispatcher
	newID     func() string
	logger    *slog.Logger
}

// ServiceOption 配置 Service。
type ServiceOption func(*Service)

// WithJournal 指定流水存储。
func WithJournal(store journal.Store) ServiceOption {
	return func(s *Service) {
		if store != nil {
			s.journal = store
		}
	}
}

// WithPublisher 指定事件发布器。
func WithPublisher(p events.Publisher) ServiceOption {
	return func(s *Service) { s.publisher = p }
}

// WithAlerts 指定告警分发器。
func WithAlerts(d alerting.Dispatcher) ServiceOption {
	return func(s *Service) { s.alerts = d }
}

// WithServiceLogger 指定日志记录器。
func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService 构造转账服务，未指定流水存储时使用内存实现。
func NewService(exec Executor, opts ...ServiceOption) (*Service, error) {
	if exec == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "转账编排器未初始化")
	}
	s := &Service{
		exec:    exec,
		journal: journal.NewMemoryStore(),
		newID:   uuid.NewString,
		logger:  logger.Named("transfer.service"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Submit 记录请求、执行转账并登记结果。流水写入失败时不会发起任何链上调用。
func (s *Service) Submit(ctx context.Context, req Request) (Receipt, error) {
	req = req.Normalize()
	receipt := Receipt{RequestID: s.newID()}
	log := s.logger.With(slog.String("request_id", receipt.RequestID))

	entry := &journal.Entry{
		ID:          receipt.RequestID,
		Token:       req.Token,
		Destination: req.ChainDestination,
		Recipient:   req.Recipient,
		Amount:      req.Amount,
		Status:      journal.StatusPending,
	}
	if err := s.journal.Create(ctx, entry); err != nil {
		log.Error("写入转账流水失败", slog.Any("error", err))
		return receipt, xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入转账流水失败")
	}

	outcome, err := s.exec.Execute(ctx, req)
	// 请求可能已被取消，链上结果仍需落库。
	bookkeeping := context.WithoutCancel(ctx)
	if err != nil {
		s.fail(bookkeeping, log, entry, err)
		return receipt, err
	}
	receipt.Outcome = outcome
	s.succeed(bookkeeping, log, entry, outcome)
	return receipt, nil
}

func (s *Service) succeed(ctx context.Context, log *slog.Logger, entry *journal.Entry, outcome Outcome) {
	result := journal.Result{
		Method:      string(outcome.Method),
		SourceChain: outcome.SourceChain,
		TxHash:      outcome.TxHash,
		MessageID:   outcome.MessageID,
	}
	if outcome.Fee != nil {
		result.Fee = outcome.Fee.String()
	}
	if err := s.journal.MarkSucceeded(ctx, entry.ID, result); err != nil {
		// 交易已经上链，只记录日志而不改变响应。
		log.Error("登记转账结果失败", slog.Any("error", err), slog.String("tx_hash", outcome.TxHash))
	}
	metrics.ObserveTransferOutcome(string(outcome.Method), outcome.SourceChain)
	s.publish(ctx, log, events.Event{
		Type:             events.TypeTransferSucceeded,
		RequestID:        entry.ID,
		Token:            entry.Token,
		Amount:           entry.Amount,
		Recipient:        entry.Recipient,
		DestinationChain: outcome.DestinationChain,
		Method:           result.Method,
		SourceChain:      result.SourceChain,
		TxHash:           result.TxHash,
		MessageID:        result.MessageID,
		Fee:              result.Fee,
	})
	logger.Audit().Info("转账完成",
		slog.String("request_id", entry.ID),
		slog.String("method", result.Method),
		slog.String("source", result.SourceChain),
		slog.String("destination", outcome.DestinationChain),
		slog.String("tx_hash", result.TxHash),
	)
}

func (s *Service) fail(ctx context.Context, log *slog.Logger, entry *journal.Entry, cause error) {
	code := xerrors.CodeOf(cause)
	failure := journal.Failure{
		Code:    string(code),
		Message: ErrorDetail(cause),
		Chain:   FailedChain(cause),
	}
	if err := s.journal.MarkFailed(ctx, entry.ID, failure); err != nil {
		log.Error("登记转账失败原因失败", slog.Any("error", err))
	}
	metrics.ObserveTransferOutcome(strings.ToLower(string(code)), "")
	s.publish(ctx, log, events.Event{
		Type:             events.TypeTransferFailed,
		RequestID:        entry.ID,
		Token:            entry.Token,
		Amount:           entry.Amount,
		Recipient:        entry.Recipient,
		DestinationChain: entry.Destination,
		ErrorCode:        failure.Code,
		ErrorMessage:     failure.Message,
	})
	if s.alerts != nil {
		if event, ok := alerting.FromError(entry.ID, cause); ok {
			if err := s.alerts.Notify(ctx, event); err != nil {
				log.Warn("发送告警失败", slog.Any("error", err))
			}
		}
	}
	logger.Audit().Warn("转账失败",
		slog.String("request_id", entry.ID),
		slog.String("code", failure.Code),
		slog.String("chain", failure.Chain),
		slog.Bool("retryable", xerrors.RetryableError(cause)),
	)
}

func (s *Service) publish(ctx context.Context, log *slog.Logger, event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		log.Warn("发布转账事件失败", slog.Any("error", err), slog.String("type", string(event.Type)))
	}
}

// Get 返回指定请求的流水。
func (s *Service) Get(ctx context.Context, id string) (*journal.Entry, error) {
	return s.journal.Get(ctx, strings.TrimSpace(id))
}

// List 返回最近的流水。
func (s *Service) List(ctx context.Context, opts ...journal.ListOption) ([]*journal.Entry, error) {
	return s.journal.List(ctx, journal.BuildListOptions(opts...))
}

// Close 释放流水存储与事件发布器。
func (s *Service) Close() error {
	var errs []error
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.journal.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return xerrors.Wrap(xerrors.CodeInternal, stdErrors.Join(errs...), "关闭转账服务失败")
	}
	return nil
}

// ErrorDetail 返回面向调用方的错误描述，不带错误码前缀。
func ErrorDetail(err error) string {
	if err == nil {
		return ""
	}
	if coded, ok := xerrors.From(err); ok {
		return coded.Detail()
	}
	return err.Error()
}
