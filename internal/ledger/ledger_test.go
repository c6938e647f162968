package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmyforddigitals-cell/sqsp-klaviyo/pkg/logger"
)

// memBackend 内存后端（测试用），revision 为写入次数
type memBackend struct {
	content  []byte
	revision string
	readErr  error
	writeErr error
	writes   int
}

func (b *memBackend) Read(ctx context.Context) ([]byte, string, error) {
	if b.readErr != nil {
		return nil, "", b.readErr
	}
	if b.content == nil {
		return nil, "", ErrNotFound
	}
	return b.content, b.revision, nil
}

func (b *memBackend) Write(ctx context.Context, content []byte, expectedRevision string) (string, error) {
	if b.writeErr != nil {
		return "", b.writeErr
	}
	if expectedRevision != b.revision {
		return "", ErrRevisionConflict
	}
	b.content = append([]byte(nil), content...)
	b.writes++
	b.revision = string(rune('a' + b.writes))
	return b.revision, nil
}

func newTestLedger(backend Backend, capacity int) *Ledger {
	return New(backend, capacity, logger.NopLogger{})
}

func TestLoadMissingLedgerIsEmpty(t *testing.T) {
	l := newTestLedger(&memBackend{}, 500)
	l.Load(context.Background())

	assert.Equal(t, 0, l.Len())
	assert.Empty(t, l.Delivered("any"))
	assert.False(t, l.Dirty())
}

func TestLoadFailsOpenOnReadError(t *testing.T) {
	l := newTestLedger(&memBackend{readErr: errors.New("boom")}, 500)
	l.Load(context.Background())

	assert.Equal(t, 0, l.Len())
}

func TestLoadFailsOpenOnCorruptContent(t *testing.T) {
	l := newTestLedger(&memBackend{content: []byte("{not json")}, 500)
	l.Load(context.Background())

	assert.Equal(t, 0, l.Len())
}

func TestLoadLegacyFormat(t *testing.T) {
	// 旧版：纯订单 ID 数组，视为已投递购买事件
	l := newTestLedger(&memBackend{content: []byte(`["order1","order2"]`)}, 500)
	l.Load(context.Background())

	require.Equal(t, 2, l.Len())
	assert.True(t, l.Has("order1", "Product-Purchased"))
	assert.True(t, l.Has("order2", "Product-Purchased"))
	assert.False(t, l.Has("order1", "Order-Refunded"))
}

func TestRecordIsIdempotent(t *testing.T) {
	l := newTestLedger(&memBackend{}, 500)
	l.Load(context.Background())

	assert.True(t, l.Record("o1", "Product-Purchased"))
	assert.False(t, l.Record("o1", "Product-Purchased"))
	assert.True(t, l.Record("o1", "Order-Refunded"))

	delivered := l.Delivered("o1")
	assert.Len(t, delivered, 2)
	assert.Contains(t, delivered, "Product-Purchased")
	assert.Contains(t, delivered, "Order-Refunded")
}

func TestEnsureCreatesEmptyEntry(t *testing.T) {
	l := newTestLedger(&memBackend{}, 500)
	l.Load(context.Background())

	l.Ensure("test-order")
	assert.Equal(t, 1, l.Len())
	assert.Empty(t, l.Delivered("test-order"))
	assert.True(t, l.Dirty())

	// 重复 Ensure 不覆盖已有记录
	l.Record("test-order", "Product-Purchased")
	l.Ensure("test-order")
	assert.True(t, l.Has("test-order", "Product-Purchased"))
}

func TestSavePrunesToCapacity(t *testing.T) {
	backend := &memBackend{}
	l := newTestLedger(backend, 2)
	l.Load(context.Background())

	l.Record("A", "Product-Purchased")
	l.Record("B", "Product-Purchased")
	l.Record("C", "Product-Purchased")

	require.NoError(t, l.Save(context.Background()))

	// 容量 2：只保留最近触达的 B、C
	reloaded := newTestLedger(backend, 2)
	reloaded.Load(context.Background())
	assert.Equal(t, 2, reloaded.Len())
	assert.False(t, reloaded.Has("A", "Product-Purchased"))
	assert.True(t, reloaded.Has("B", "Product-Purchased"))
	assert.True(t, reloaded.Has("C", "Product-Purchased"))
}

func TestSaveRoundTripPreservesTouchOrder(t *testing.T) {
	backend := &memBackend{}
	l := newTestLedger(backend, 500)
	l.Load(context.Background())

	l.Record("first", "Product-Purchased")
	l.Record("second", "Course-Purchased")
	l.Record("first", "Order-Refunded") // first 被重新触达，移到尾部

	require.NoError(t, l.Save(context.Background()))

	var snap struct {
		Version int `json:"version"`
		Entries []struct {
			ID     string   `json:"id"`
			Events []string `json:"events"`
		} `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(backend.content, &snap))
	require.Len(t, snap.Entries, 2)
	assert.Equal(t, "second", snap.Entries[0].ID)
	assert.Equal(t, "first", snap.Entries[1].ID)
	assert.Equal(t, []string{"Order-Refunded", "Product-Purchased"}, snap.Entries[1].Events)
}

func TestSaveClearsDirtyAndAdvancesRevision(t *testing.T) {
	backend := &memBackend{}
	l := newTestLedger(backend, 500)
	l.Load(context.Background())

	l.Record("o1", "Product-Purchased")
	require.True(t, l.Dirty())
	require.NoError(t, l.Save(context.Background()))
	assert.False(t, l.Dirty())

	// 第二次保存使用新 revision，不应冲突
	l.Record("o2", "Product-Purchased")
	require.NoError(t, l.Save(context.Background()))
	assert.Equal(t, 2, backend.writes)
}

func TestSaveSurfacesRevisionConflict(t *testing.T) {
	backend := &memBackend{}
	l := newTestLedger(backend, 500)
	l.Load(context.Background())
	l.Record("o1", "Product-Purchased")

	// 他方抢先写入，revision 前移
	backend.revision = "z"

	err := l.Save(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRevisionConflict)
	// 内存状态不回滚
	assert.True(t, l.Has("o1", "Product-Purchased"))
}

func TestForget(t *testing.T) {
	l := newTestLedger(&memBackend{}, 500)
	l.Load(context.Background())

	l.Record("o1", "Product-Purchased")
	l.Record("o2", "Product-Purchased")
	l.Forget("o1")

	assert.False(t, l.Has("o1", "Product-Purchased"))
	assert.True(t, l.Has("o2", "Product-Purchased"))
	assert.Equal(t, 1, l.Len())
}
