package localfs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/timmyforddigitals-cell/sqsp-klaviyo/internal/ledger"
)

// Store 本地文件台账后端
// 单机部署场景使用，不提供版本校验（expectedRevision 被忽略）
type Store struct {
	path string
}

// NewStore 创建本地文件后端
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Read 读取台账文件
func (s *Store) Read(ctx context.Context) ([]byte, string, error) {
	content, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", ledger.ErrNotFound
		}
		return nil, "", fmt.Errorf("read ledger file failed: %w", err)
	}
	return content, "", nil
}

// Write 写入台账文件（临时文件 + rename，避免写一半的文件被下次加载）
func (s *Store) Write(ctx context.Context, content []byte, expectedRevision string) (string, error) {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create ledger dir failed: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".processed-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp ledger file failed: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write temp ledger file failed: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close temp ledger file failed: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("replace ledger file failed: %w", err)
	}
	return "", nil
}
