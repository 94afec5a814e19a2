package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Type 标识事件类型。
type Type string

const (
	TypeTransferSucceeded Type = "transfer.succeeded"
	TypeTransferFailed    Type = "transfer.failed"
)

// Event 是对外广播的转账结果，不包含签名凭据。
type Event struct {
	ID               string    `json:"id"`
	Type             Type      `json:"type"`
	RequestID        string    `json:"request_id"`
	Token            string    `json:"token"`
	Amount           string    `json:"amount"`
	Recipient        string    `json:"recipient"`
	DestinationChain string    `json:"destination_chain"`
	Method           string    `json:"method,omitempty"`
	SourceChain      string    `json:"source_chain,omitempty"`
	TxHash           string    `json:"tx_hash,omitempty"`
	MessageID        string    `json:"message_id,omitempty"`
	Fee              string    `json:"fee,omitempty"`
	ErrorCode        string    `json:"error_code,omitempty"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// Publisher 负责投递事件。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Stamp 为缺失 ID 与时间的事件补齐字段。
func Stamp(event Event) Event {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	return event
}

func encode(event Event) ([]byte, error) {
	return json.Marshal(Stamp(event))
}

// Multi 将事件广播给多个 Publisher，任一失败都会返回合并后的错误。
type Multi []Publisher

// Publish 实现 Publisher 接口。
func (m Multi) Publish(ctx context.Context, event Event) error {
	event = Stamp(event)
	var errs []error
	for _, publisher := range m {
		if publisher == nil {
			continue
		}
		if err := publisher.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close 关闭全部 Publisher。
func (m Multi) Close() error {
	var errs []error
	for _, publisher := range m {
		if publisher == nil {
			continue
		}
		if err := publisher.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
