package journal

import (
	"context"

	xerrors "crosschain-transfer/internal/errors"
)

// Status 表示转账记录所处的阶段。
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// IsValidStatus 判断状态值是否合法。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}

// Result 保存成功执行的链上结果。
type Result struct {
	Method      string `json:"method"`
	SourceChain string `json:"source_chain"`
	TxHash      string `json:"tx_hash"`
	MessageID   string `json:"message_id,omitempty"`
	Fee         string `json:"fee,omitempty"`
}

// Failure 描述失败原因，不包含任何凭据。
type Failure struct {
	Code    string
	Message string
	Chain   string
}

// Entry 是一次转账请求的流水记录。
type Entry struct {
	ID           string  `json:"id"`
	Token        string  `json:"token"`
	Destination  string  `json:"destination"`
	Recipient    string  `json:"recipient"`
	Amount       string  `json:"amount"`
	Status       Status  `json:"status"`
	Result       *Result `json:"result,omitempty"`
	ErrorCode    string  `json:"error_code,omitempty"`
	ErrorMessage string  `json:"error_message,omitempty"`
	FailedChain  string  `json:"failed_chain,omitempty"`
	CreatedAt    int64   `json:"created_at"`
	UpdatedAt    int64   `json:"updated_at"`
}

// Store 抽象转账流水的持久化。
type Store interface {
	Create(ctx context.Context, entry *Entry) error
	MarkSucceeded(ctx context.Context, id string, result Result) error
	MarkFailed(ctx context.Context, id string, failure Failure) error
	Get(ctx context.Context, id string) (*Entry, error)
	List(ctx context.Context, opts ListOptions) ([]*Entry, error)
	Close() error
}

const (
	CodeEntryNotFound xerrors.Code = "TRANSFER_NOT_FOUND"
	CodeEntryConflict xerrors.Code = "TRANSFER_CONFLICT"
)

func init() {
	xerrors.Register(CodeEntryNotFound, xerrors.Attributes{Message: "transfer not found", Severity: xerrors.SeverityInfo, HTTPStatus: 404})
	xerrors.Register(CodeEntryConflict, xerrors.Attributes{Message: "transfer already recorded", Severity: xerrors.SeverityWarning, HTTPStatus: 409})
}

var (
	// ErrNotFound 表示记录不存在。
	ErrNotFound = xerrors.New(CodeEntryNotFound, "transfer not found")
	// ErrConflict 表示同一 ID 已被记录。
	ErrConflict = xerrors.New(CodeEntryConflict, "transfer already recorded", xerrors.WithSeverity(xerrors.SeverityWarning))
)

func validateEntry(entry *Entry) error {
	if entry == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "entry 不能为空")
	}
	if entry.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "记录 ID 不能为空")
	}
	return nil
}

func cloneEntry(entry *Entry) *Entry {
	clone := *entry
	if entry.Result != nil {
		result := *entry.Result
		clone.Result = &result
	}
	return &clone
}
