package githubfs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/timmyforddigitals-cell/sqsp-klaviyo/internal/ledger"
)

// Client GitHub Contents API 台账后端
// 把台账存成仓库里的一个 JSON 文件，blob sha 即版本令牌
type Client struct {
	baseURL        string
	repo           string // owner/repo
	token          string
	path           string
	committerName  string
	committerEmail string
	httpClient     *http.Client
}

// Option 客户端选项
type Option func(*Client)

// WithBaseURL 覆盖 API 地址（测试用）
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// NewClient 创建 GitHub Contents 后端
func NewClient(repo, token, path, committerName, committerEmail string, opts ...Option) *Client {
	c := &Client{
		baseURL:        "https://api.github.com",
		repo:           repo,
		token:          token,
		path:           path,
		committerName:  committerName,
		committerEmail: committerEmail,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// contentsResponse GET contents 响应
type contentsResponse struct {
	Content string `json:"content"`
	SHA     string `json:"sha"`
}

// putRequest PUT contents 请求
type putRequest struct {
	Message   string    `json:"message"`
	Content   string    `json:"content"`
	SHA       string    `json:"sha,omitempty"`
	Committer committer `json:"committer"`
}

type committer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// putResponse PUT contents 响应
type putResponse struct {
	Content struct {
		SHA string `json:"sha"`
	} `json:"content"`
}

func (c *Client) contentsURL() string {
	return fmt.Sprintf("%s/repos/%s/contents/%s", c.baseURL, c.repo, url.PathEscape(c.path))
}

// Read 读取台账文件，返回解码内容和 sha
func (c *Client) Read(ctx context.Context) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.contentsURL(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("build contents request failed: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("github get contents failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read contents response failed: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, "", ledger.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("github get contents failed: %d %s", resp.StatusCode, truncate(body, 300))
	}

	var parsed contentsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, "", fmt.Errorf("decode contents response failed: %w", err)
	}

	decoded, err := base64.StdEncoding.DecodeString(parsed.Content)
	if err != nil {
		// GitHub 的 base64 带换行
		decoded, err = base64.StdEncoding.DecodeString(stripNewlines(parsed.Content))
		if err != nil {
			return nil, "", fmt.Errorf("decode contents base64 failed: %w", err)
		}
	}

	return decoded, parsed.SHA, nil
}

// Write 提交台账文件
// expectedRevision 即上次读到的 sha；sha 过期时 GitHub 返回 409/422，映射为版本冲突
func (c *Client) Write(ctx context.Context, content []byte, expectedRevision string) (string, error) {
	reqBody := putRequest{
		Message: fmt.Sprintf("Update processed orders @ %s", time.Now().UTC().Format(time.RFC3339)),
		Content: base64.StdEncoding.EncodeToString(content),
		SHA:     expectedRevision,
		Committer: committer{
			Name:  c.committerName,
			Email: c.committerEmail,
		},
	}

	encoded, err := json.Marshal(&reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal put request failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.contentsURL(), bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("build put request failed: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("github put contents failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read put response failed: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
	case http.StatusConflict, http.StatusUnprocessableEntity:
		return "", fmt.Errorf("%w: %d %s", ledger.ErrRevisionConflict, resp.StatusCode, truncate(body, 300))
	default:
		return "", fmt.Errorf("github put contents failed: %d %s", resp.StatusCode, truncate(body, 300))
	}

	var parsed putResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode put response failed: %w", err)
	}

	return parsed.Content.SHA, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "token "+c.token)
	req.Header.Set("Accept", "application/vnd.github.v3+json")
}

func stripNewlines(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' || s[i] == '\r' {
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n])
}
