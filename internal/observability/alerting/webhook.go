package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// defaultWebhookTimeout 是 Webhook 请求的默认超时。
const defaultWebhookTimeout = 10 * time.Second

// WebhookSlackSender 通过 Incoming Webhook 向 Slack 发送消息，实现 SlackSender。
type WebhookSlackSender struct {
	WebhookURL string
	HTTPClient *http.Client
}

// Send 实现 SlackSender。
func (s *WebhookSlackSender) Send(ctx context.Context, channel, content string) error {
	if s == nil || s.WebhookURL == "" {
		return errors.New("slack webhook url 未配置")
	}

	payload, err := json.Marshal(map[string]string{
		"channel": channel,
		"text":    content,
	})
	if err != nil {
		return fmt.Errorf("编码 slack 消息失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("构造 slack 请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := s.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("发送 slack 消息失败: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack webhook 返回状态 %d", resp.StatusCode)
	}
	return nil
}
