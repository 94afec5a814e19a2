package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	xerrors "crosschain-transfer/internal/errors"
	"crosschain-transfer/pkg/logger"
)

// Channel 表示通知渠道。
type Channel string

// 支持的通知渠道
const (
	ChannelLog      Channel = "log"
	ChannelWebhook  Channel = "webhook"
	ChannelDingTalk Channel = "dingtalk"
	ChannelSlack    Channel = "slack"
)

// Event 描述一次需要告警的事件。
type Event struct {
	Code       xerrors.Code
	Message    string
	Severity   xerrors.Severity
	RequestID  string
	ChainID    string
	Step       string
	Metadata   map[string]string
	OccurredAt time.Time
}

// FromError 根据错误码属性构造告警事件，错误不需要告警时返回 false。
func FromError(requestID string, err error) (Event, bool) {
	if err == nil || !xerrors.ShouldAlert(err) {
		return Event{}, false
	}
	meta := xerrors.MetadataOf(err)
	message := err.Error()
	if coded, ok := xerrors.From(err); ok {
		message = coded.Detail()
	}
	return Event{
		Code:       xerrors.CodeOf(err),
		Message:    message,
		Severity:   xerrors.SeverityOf(err),
		RequestID:  requestID,
		ChainID:    meta["chain_id"],
		Step:       meta["step"],
		Metadata:   meta,
		OccurredAt: time.Now().UTC(),
	}, true
}

// Notifier 负责将事件发送到指定渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个通知器。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 实现将事件投递到多个通知器的逻辑。
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout 创建一个新的 FanoutDispatcher。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// Channels 返回已注册的渠道。
func (d *FanoutDispatcher) Channels() []Channel {
	if d == nil {
		return nil
	}
	channels := make([]Channel, 0, len(d.notifiers))
	for ch := range d.notifiers {
		channels = append(channels, ch)
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i] < channels[j] })
	return channels
}

// Notify 将事件广播至所有注册渠道。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// LogNotifier 将告警写入日志。
type LogNotifier struct {
	Logger *slog.Logger
}

// Channel 返回日志渠道。
func (n *LogNotifier) Channel() Channel { return ChannelLog }

// Notify 输出一条 ERROR 级别日志。
func (n *LogNotifier) Notify(ctx context.Context, event Event) error {
	log := logger.Named("alerting")
	if n != nil && n.Logger != nil {
		log = n.Logger
	}
	log.ErrorContext(ctx, "转账告警",
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("request_id", event.RequestID),
		slog.String("chain_id", event.ChainID),
		slog.String("step", event.Step),
		slog.String("message", event.Message),
	)
	return nil
}

func summary(event Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s\n请求: %s\n", event.Severity, event.Code, event.RequestID)
	if event.ChainID != "" {
		fmt.Fprintf(&b, "链: %s", event.ChainID)
		if event.Step != "" {
			fmt.Fprintf(&b, " (%s)", event.Step)
		}
		b.WriteString("\n")
	}
	b.WriteString(event.Message)
	return b.String()
}
