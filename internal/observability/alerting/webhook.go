package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"crosschain-transfer/pkg/logger"
)

// WebhookNotifier 通过 HTTP 回调发送告警，Format 决定消息体格式。
type WebhookNotifier struct {
	URL    string
	Format Channel
	Client *http.Client
}

// Channel 返回 webhook 所代表的渠道。
func (n *WebhookNotifier) Channel() Channel {
	if n == nil {
		return ChannelWebhook
	}
	switch n.Format {
	case ChannelSlack, ChannelDingTalk:
		return n.Format
	default:
		return ChannelWebhook
	}
}

// Notify 以 JSON POST 发送告警。
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.URL == "" {
		logger.L().Warn("WebhookNotifier 未正确配置，跳过发送", slog.String("request_id", event.RequestID))
		return nil
	}
	body, err := json.Marshal(n.payload(event))
	if err != nil {
		return fmt.Errorf("序列化告警失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("构造告警请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := n.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("发送告警失败: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 300 {
		return errors.New("告警回调返回状态 " + resp.Status)
	}
	return nil
}

func (n *WebhookNotifier) payload(event Event) any {
	switch n.Channel() {
	case ChannelSlack:
		return map[string]string{"text": summary(event)}
	case ChannelDingTalk:
		return map[string]any{
			"msgtype": "text",
			"text":    map[string]string{"content": summary(event)},
		}
	default:
		return map[string]any{
			"code":        event.Code,
			"severity":    event.Severity,
			"message":     event.Message,
			"request_id":  event.RequestID,
			"chain_id":    event.ChainID,
			"step":        event.Step,
			"metadata":    event.Metadata,
			"occurred_at": event.OccurredAt.Format(time.RFC3339),
		}
	}
}
