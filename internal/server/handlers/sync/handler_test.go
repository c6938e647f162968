package sync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmyforddigitals-cell/sqsp-klaviyo/internal/business"
	"github.com/timmyforddigitals-cell/sqsp-klaviyo/internal/entity"
	"github.com/timmyforddigitals-cell/sqsp-klaviyo/internal/ledger"
	"github.com/timmyforddigitals-cell/sqsp-klaviyo/internal/model"
	"github.com/timmyforddigitals-cell/sqsp-klaviyo/pkg/ginx"
	"github.com/timmyforddigitals-cell/sqsp-klaviyo/pkg/infra/klaviyo"
	"github.com/timmyforddigitals-cell/sqsp-klaviyo/pkg/logger"
)

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

type stubPublisher struct {
	queue string
	data  []byte
	err   error
}

func (p *stubPublisher) Publish(queue string, data []byte, ttl, delay uint32) error {
	p.queue = queue
	p.data = data
	return p.err
}

func testOrder(id string) entity.Order {
	return entity.Order{
		ID: id, OrderNumber: "n-" + id, CreatedOn: time.Now(),
		FinancialStatus: "paid", CustomerEmail: "buyer@example.com",
		LineItems: []entity.LineItem{{ProductName: "Item", LineItemType: "PHYSICAL_PRODUCT"}},
	}
}

func newTestRouter(src business.OrderSource, sink business.EventSink, publisher JobPublisher) (*gin.Engine, *SyncHandler) {
	gin.SetMode(gin.TestMode)
	led := ledger.New(&memBackend{}, 500, logger.NopLogger{})
	engine := business.NewEngine(src, sink, led, nil, business.EngineOptions{}, logger.NopLogger{})
	h := NewSyncHandler(engine, publisher, "order_sync", logger.NopLogger{})

	r := gin.New()
	v1 := r.Group("/api/v1")
	v1.POST("/sync/run", h.Run)
	v1.POST("/sync/orders/:id", h.RunOrder)
	v1.POST("/webhooks/orders", h.Webhook)
	return r, h
}

func doRequest(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) ginx.Response {
	t.Helper()
	var resp ginx.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestRunEndpoint(t *testing.T) {
	sink := &stubSink{}
	r, _ := newTestRouter(&stubSource{orders: []entity.Order{testOrder("o1")}}, sink, nil)

	w := doRequest(r, http.MethodPost, "/api/v1/sync/run", "")

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	assert.Equal(t, 200, resp.Meta.Code)
	assert.Equal(t, 1, sink.calls)

	summary := resp.Data.(map[string]interface{})
	assert.Equal(t, float64(1), summary["sent"])
	assert.Equal(t, "manual", summary["trigger"])
}

func TestRunEndpointDryRunQuery(t *testing.T) {
	sink := &stubSink{}
	r, _ := newTestRouter(&stubSource{orders: []entity.Order{testOrder("o1")}}, sink, nil)

	w := doRequest(r, http.MethodPost, "/api/v1/sync/run?dry_run=true", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, sink.calls)

	summary := decodeResponse(t, w).Data.(map[string]interface{})
	assert.Equal(t, true, summary["dry_run"])
	assert.Equal(t, float64(1), summary["sent"])
}

func TestRunEndpointFetchFailure(t *testing.T) {
	r, _ := newTestRouter(&stubSource{err: assertErr("squarespace down")}, &stubSink{}, nil)

	w := doRequest(r, http.MethodPost, "/api/v1/sync/run", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRunOrderEndpoint(t *testing.T) {
	sink := &stubSink{}
	r, _ := newTestRouter(&stubSource{orders: []entity.Order{testOrder("o1")}}, sink, nil)

	w := doRequest(r, http.MethodPost, "/api/v1/sync/orders/o1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, sink.calls)
}

func TestRunOrderEndpointNotFound(t *testing.T) {
	r, _ := newTestRouter(&stubSource{}, &stubSink{}, nil)

	w := doRequest(r, http.MethodPost, "/api/v1/sync/orders/missing", "")
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 404, decodeResponse(t, w).Meta.Code)
}

func TestWebhookEnqueuesJob(t *testing.T) {
	publisher := &stubPublisher{}
	sink := &stubSink{}
	r, _ := newTestRouter(&stubSource{orders: []entity.Order{testOrder("o1")}}, sink, publisher)

	w := doRequest(r, http.MethodPost, "/api/v1/webhooks/orders", `{"id":"o1"}`)

	require.Equal(t, http.StatusAccepted, w.Code)
	// 入队而非内联运行
	assert.Equal(t, 0, sink.calls)
	assert.Equal(t, "order_sync", publisher.queue)

	var job model.SyncJob
	require.NoError(t, json.Unmarshal(publisher.data, &job))
	assert.Equal(t, business.TriggerWebhook, job.Trigger)
	assert.Equal(t, "o1", job.OrderID)
}

func TestWebhookInlineWithoutPublisher(t *testing.T) {
	sink := &stubSink{}
	r, _ := newTestRouter(&stubSource{orders: []entity.Order{testOrder("o1")}}, sink, nil)

	w := doRequest(r, http.MethodPost, "/api/v1/webhooks/orders", `{"id":"o1"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, sink.calls)
}

func TestWebhookToleratesMalformedBody(t *testing.T) {
	publisher := &stubPublisher{}
	r, _ := newTestRouter(&stubSource{}, &stubSink{}, publisher)

	// 载荷形态不受我方控制，解析失败也要入队
	w := doRequest(r, http.MethodPost, "/api/v1/webhooks/orders", `not json at all`)
	assert.Equal(t, http.StatusAccepted, w.Code)
}

// assertErr 最小 error 实现
type assertErr string

func (e assertErr) Error() string { return string(e) }
