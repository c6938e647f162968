package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmyforddigitals-cell/sqsp-klaviyo/internal/business"
	"github.com/timmyforddigitals-cell/sqsp-klaviyo/internal/entity"
	"github.com/timmyforddigitals-cell/sqsp-klaviyo/internal/ledger"
	"github.com/timmyforddigitals-cell/sqsp-klaviyo/pkg/errorutil"
	"github.com/timmyforddigitals-cell/sqsp-klaviyo/pkg/infra/klaviyo"
	"github.com/timmyforddigitals-cell/sqsp-klaviyo/pkg/lmstfy"
	"github.com/timmyforddigitals-cell/sqsp-klaviyo/pkg/logger"
)

type fakeMessageSource struct {
	acked []string
}

func (s *fakeMessageSource) Consume(queue string, timeout, ttr time.Duration) (*lmstfy.Message, error) {
	return nil, nil
}

func (s *fakeMessageSource) Ack(queue string, jobID string) error {
	s.acked = append(s.acked, jobID)
	return nil
}

type stubSource struct {
	orders []entity.Order
	err    error
}

func (s *stubSource) ListOrders(ctx context.Context) ([]entity.Order, error) {
	return s.orders, s.err
}

type stubSink struct{ calls int }

func (s *stubSink) SendEvent(ctx context.Context, p *klaviyo.EventPayload) (*klaviyo.SendResult, error) {
	s.calls++
	return &klaviyo.SendResult{Success: true, StatusCode: 202}, nil
}

type memBackend struct{ content []byte }

func (b *memBackend) Read(ctx context.Context) ([]byte, string, error) {
	if b.content == nil {
		return nil, "", ledger.ErrNotFound
	}
	return b.content, "", nil
}

func (b *memBackend) Write(ctx context.Context, content []byte, expectedRevision string) (string, error) {
	b.content = content
	return "", nil
}

func newWorker(src business.OrderSource, msgSrc MessageSource) (*Worker, *stubSink) {
	sink := &stubSink{}
	led := ledger.New(&memBackend{}, 500, logger.NopLogger{})
	engine := business.NewEngine(src, sink, led, nil, business.EngineOptions{}, logger.NopLogger{})
	w := NewWorker(engine, msgSrc, &Config{
		QueueName: "order_sync",
		Timeout:   time.Second,
		TTR:       time.Minute,
	}, logger.NopLogger{})
	return w, sink
}

func msg(id, data string) *lmstfy.Message {
	return &lmstfy.Message{ID: id, Queue: "order_sync", Data: []byte(data)}
}

func TestHandleMessageRunsAndAcks(t *testing.T) {
	msgSrc := &fakeMessageSource{}
	order := entity.Order{
		ID: "o1", CreatedOn: time.Now(), FinancialStatus: "paid",
		CustomerEmail: "buyer@example.com",
		LineItems:     []entity.LineItem{{ProductName: "Item", LineItemType: "PHYSICAL_PRODUCT"}},
	}
	w, sink := newWorker(&stubSource{orders: []entity.Order{order}}, msgSrc)

	w.handleMessage(context.Background(), msg("j1", `{"trigger":"webhook"}`))

	assert.Equal(t, 1, sink.calls)
	assert.Equal(t, []string{"j1"}, msgSrc.acked)
}

func TestHandleMessageMalformedJobIsDropped(t *testing.T) {
	msgSrc := &fakeMessageSource{}
	w, sink := newWorker(&stubSource{}, msgSrc)

	w.handleMessage(context.Background(), msg("j1", `{not json`))

	// 不触发运行，直接确认丢弃
	assert.Equal(t, 0, sink.calls)
	assert.Equal(t, []string{"j1"}, msgSrc.acked)
}

func TestHandleMessageRetryableFailureIsNotAcked(t *testing.T) {
	msgSrc := &fakeMessageSource{}
	w, _ := newWorker(&stubSource{err: errorutil.Retriable("squarespace down")}, msgSrc)

	w.handleMessage(context.Background(), msg("j1", `{"trigger":"schedule"}`))

	// 不 Ack，等 TTR 到期重投
	assert.Empty(t, msgSrc.acked)
}

func TestHandleMessageNonRetryableFailureIsDropped(t *testing.T) {
	msgSrc := &fakeMessageSource{}
	w, _ := newWorker(&stubSource{err: errorutil.NonRetriable("bad credentials")}, msgSrc)

	w.handleMessage(context.Background(), msg("j1", `{}`))

	assert.Equal(t, []string{"j1"}, msgSrc.acked)
}

func TestShutdownStopsLoop(t *testing.T) {
	msgSrc := &fakeMessageSource{}
	w, _ := newWorker(&stubSource{}, msgSrc)
	w.Shutdown()

	done := make(chan error, 1)
	go func() { done <- w.Start(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit after Shutdown")
	}
}
