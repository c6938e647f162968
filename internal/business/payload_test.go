package business

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmyforddigitals-cell/sqsp-klaviyo/internal/entity"
)

func paidOrder() *entity.Order {
	return &entity.Order{
		ID:            "ord-100",
		OrderNumber:   "100",
		CreatedOn:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		GrandTotal:    entity.Money{Value: "59.90", Currency: "USD"},
		CustomerEmail: "buyer@example.com",
		BillingAddress: &entity.Address{
			FirstName: "Ada",
			LastName:  "Lovelace",
		},
		LineItems: []entity.LineItem{
			{
				ProductName:   "T-Shirt",
				SKU:           "TS-1",
				Quantity:      2,
				UnitPricePaid: &entity.Money{Value: "29.95"},
				LineItemType:  "PHYSICAL_PRODUCT",
			},
		},
	}
}

func TestBuildEventPayloadBase(t *testing.T) {
	now := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	p := BuildEventPayload(paidOrder(), entity.EventProductPurchased, now)

	assert.Equal(t, "event", p.Data.Type)
	assert.Equal(t, "2026-03-01T10:00:00Z", p.Data.Attributes.Time)
	assert.Equal(t, "Product-Purchased", p.Data.Attributes.Metric.Data.Attributes.Name)

	props := p.Data.Attributes.Properties
	assert.Equal(t, "ord-100", props.OrderID)
	assert.Equal(t, "100", props.OrderNumber)
	assert.Equal(t, "59.90", props.Total)
	assert.Equal(t, "USD", props.Currency)
	require.Len(t, props.Items, 1)
	assert.Equal(t, "T-Shirt", props.Items[0].Name)
	assert.Equal(t, "TS-1", props.Items[0].SKU)
	assert.Equal(t, 2, props.Items[0].Qty)
	assert.Equal(t, "29.95", props.Items[0].Price)
	assert.Equal(t, "PHYSICAL_PRODUCT", props.Items[0].Type)

	profile := p.Data.Attributes.Profile.Data.Attributes
	assert.Equal(t, "buyer@example.com", profile.Email)
	assert.Equal(t, "Ada", profile.FirstName)
	assert.Equal(t, "Lovelace", profile.LastName)

	// 非退款事件不带补充字段
	assert.Empty(t, props.RefundAmount)
	assert.Empty(t, props.RefundReason)
	assert.Empty(t, props.Status)
}

func TestBuildEventPayloadTimeFallsBackToNow(t *testing.T) {
	order := paidOrder()
	order.CreatedOn = time.Time{}
	now := time.Date(2026, 3, 2, 12, 30, 0, 0, time.UTC)

	p := BuildEventPayload(order, entity.EventProductPurchased, now)
	assert.Equal(t, "2026-03-02T12:30:00Z", p.Data.Attributes.Time)
}

func TestBuildEventPayloadRefundEnrichment(t *testing.T) {
	order := paidOrder()
	order.Refunds = []entity.Refund{
		{Amount: entity.Money{Value: "10.00"}, Reason: "damaged item"},
	}

	p := BuildEventPayload(order, entity.EventOrderRefunded, time.Now())
	props := p.Data.Attributes.Properties
	assert.Equal(t, "10.00", props.RefundAmount)
	assert.Equal(t, "damaged item", props.RefundReason)
	assert.Equal(t, "refunded", props.Status)
}

func TestBuildEventPayloadRefundFallbacks(t *testing.T) {
	// 无退款记录：金额回退订单总额，原因回退取消原因
	order := paidOrder()
	order.CancellationReason = "customer request"

	p := BuildEventPayload(order, entity.EventOrderRefunded, time.Now())
	props := p.Data.Attributes.Properties
	assert.Equal(t, "59.90", props.RefundAmount)
	assert.Equal(t, "customer request", props.RefundReason)

	// 取消原因也没有：占位文案
	order.CancellationReason = ""
	p = BuildEventPayload(order, entity.EventOrderRefunded, time.Now())
	assert.Equal(t, "not available", p.Data.Attributes.Properties.RefundReason)
}

func TestBuildEventPayloadStatusFields(t *testing.T) {
	p := BuildEventPayload(paidOrder(), entity.EventOrderFulfilled, time.Now())
	assert.Equal(t, "fulfilled", p.Data.Attributes.Properties.Status)

	p = BuildEventPayload(paidOrder(), entity.EventOrderCancelled, time.Now())
	assert.Equal(t, "cancelled", p.Data.Attributes.Properties.Status)
}

func TestBuildEventPayloadLineItemFallbacks(t *testing.T) {
	order := paidOrder()
	order.LineItems = []entity.LineItem{
		{Name: "Legacy Name", SKU: "L-1", Quantity: 1, Price: "5.00", LineItemType: "PHYSICAL_PRODUCT"},
	}

	p := BuildEventPayload(order, entity.EventProductPurchased, time.Now())
	require.Len(t, p.Data.Attributes.Properties.Items, 1)
	assert.Equal(t, "Legacy Name", p.Data.Attributes.Properties.Items[0].Name)
	assert.Equal(t, "5.00", p.Data.Attributes.Properties.Items[0].Price)
}

func TestBuildEventPayloadWithoutBillingAddress(t *testing.T) {
	order := paidOrder()
	order.BillingAddress = nil

	p := BuildEventPayload(order, entity.EventProductPurchased, time.Now())
	profile := p.Data.Attributes.Profile.Data.Attributes
	assert.Equal(t, "buyer@example.com", profile.Email)
	assert.Empty(t, profile.FirstName)
}
