package squarespace

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/timmyforddigitals-cell/sqsp-klaviyo/internal/entity"
	"github.com/timmyforddigitals-cell/sqsp-klaviyo/pkg/errorutil"
)

// Client Squarespace Commerce API 客户端（只读）
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// ordersResponse 订单列表响应
type ordersResponse struct {
	Result []entity.Order `json:"result"`
}

// NewClient 创建 Squarespace 客户端
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ListOrders 拉取订单全量快照
// 空结果不是错误；HTTP 非 2xx 或网络错误对整次运行是致命的
func (c *Client) ListOrders(ctx context.Context) ([]entity.Order, error) {
	url := c.baseURL + "/1.0/commerce/orders"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build orders request failed: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errorutil.RetriableWithDetails("squarespace orders fetch failed", err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errorutil.RetriableWithDetails("read orders response failed", err.Error())
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("squarespace orders fetch failed: %d", resp.StatusCode)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, errorutil.RetriableWithDetails(msg, truncate(body, 300))
		}
		return nil, errorutil.NonRetriableWithDetails(msg, truncate(body, 300))
	}

	var parsed ordersResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, errorutil.NonRetriableWithDetails("decode orders response failed", err.Error())
	}

	return parsed.Result, nil
}

// truncate 截断响应体，避免日志爆炸
func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n])
}
