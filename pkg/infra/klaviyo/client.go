package klaviyo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client Klaviyo Events API 客户端（只写）
type Client struct {
	baseURL    string
	apiKey     string
	revision   string // API 版本头
	httpClient *http.Client
}

// NewClient 创建 Klaviyo 客户端
func NewClient(baseURL, apiKey, revision string, timeout time.Duration) *Client {
	return &Client{
		baseURL:  baseURL,
		apiKey:   apiKey,
		revision: revision,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SendEvent 投递单个事件
// 传输层错误返回 error；HTTP 非 2xx 返回 Success=false 的结果，由调用方决定重试
func (c *Client) SendEvent(ctx context.Context, payload *EventPayload) (*SendResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/events", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build event request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("revision", c.revision)
	req.Header.Set("Authorization", "Klaviyo-API-Key "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("klaviyo event request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read klaviyo response failed: %w", err)
	}

	return &SendResult{
		Success:    resp.StatusCode >= 200 && resp.StatusCode < 300,
		StatusCode: resp.StatusCode,
		Body:       string(respBody),
	}, nil
}
