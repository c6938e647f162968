package errorutil

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(Retriable("transient")))
	assert.False(t, IsRetryable(NonRetriable("permanent")))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(nil))

	// 包装后仍可判断
	wrapped := fmt.Errorf("orders fetch failed: %w", Retriable("timeout"))
	assert.True(t, IsRetryable(wrapped))
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil))

	orig := RetriableWithDetails("transient", "dial tcp: timeout")
	assert.Same(t, orig, Wrap(orig))
	assert.Same(t, orig, Wrap(fmt.Errorf("outer: %w", orig)))

	plain := Wrap(errors.New("boom"))
	assert.Equal(t, "boom", plain.Message)
	assert.False(t, plain.Retryable)
}
