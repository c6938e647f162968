package ledger

import (
	"context"
	"errors"
)

var (
	// ErrNotFound 后端尚无台账数据
	ErrNotFound = errors.New("ledger not found")
	// ErrRevisionConflict 乐观并发冲突（他方已更新台账）
	ErrRevisionConflict = errors.New("ledger revision conflict")
)

// Backend 台账持久化后端接口
// Read 返回当前内容和版本令牌；Write 在后端支持时校验版本令牌（CAS 语义）
type Backend interface {
	Read(ctx context.Context) (content []byte, revision string, err error)
	Write(ctx context.Context, content []byte, expectedRevision string) (newRevision string, err error)
}
