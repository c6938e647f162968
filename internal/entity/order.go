package entity

import (
	"bytes"
	"time"
)

// 课程类商品的行项目类型标记（Squarespace 会员墙商品）
const LineItemTypePaywall = "PAYWALL_PRODUCT"

// Order Squarespace 订单（只读快照）
type Order struct {
	ID                 string     `json:"id"`
	OrderNumber        string     `json:"orderNumber"`
	CreatedOn          time.Time  `json:"createdOn"`
	FinancialStatus    string     `json:"financialStatus"`
	FulfillmentStatus  string     `json:"fulfillmentStatus"`
	TestMode           FlexBool   `json:"testmode"`
	GrandTotal         Money      `json:"grandTotal"`
	LineItems          []LineItem `json:"lineItems"`
	CustomerEmail      string     `json:"customerEmail"`
	BillingAddress     *Address   `json:"billingAddress,omitempty"`
	Refunds            []Refund   `json:"refunds,omitempty"`
	CancellationReason string     `json:"cancellationReason,omitempty"`
}

// Money 金额（Squarespace 以字符串表示数值）
type Money struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

// LineItem 订单行项目
type LineItem struct {
	ProductName   string `json:"productName"`
	Name          string `json:"name"`
	SKU           string `json:"sku"`
	Quantity      int    `json:"quantity"`
	UnitPricePaid *Money `json:"unitPricePaid,omitempty"`
	Price         string `json:"price,omitempty"`
	LineItemType  string `json:"lineItemType"`
}

// Address 账单地址（只取姓名字段）
type Address struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// Refund 退款记录
type Refund struct {
	Amount Money  `json:"amount"`
	Reason string `json:"reason"`
}

// DisplayName 商品展示名（productName 优先）
func (li *LineItem) DisplayName() string {
	if li.ProductName != "" {
		return li.ProductName
	}
	return li.Name
}

// UnitPrice 成交单价（unitPricePaid 优先，回退 price）
func (li *LineItem) UnitPrice() string {
	if li.UnitPricePaid != nil && li.UnitPricePaid.Value != "" {
		return li.UnitPricePaid.Value
	}
	return li.Price
}

// HasCourseItem 是否包含课程类（会员墙）商品
func (o *Order) HasCourseItem() bool {
	for _, li := range o.LineItems {
		if li.LineItemType == LineItemTypePaywall {
			return true
		}
	}
	return false
}

// FlexBool 兼容布尔/字符串两种写法的布尔值
// Squarespace 返回过 testmode: true 和 testmode: "true" 两种形态
type FlexBool bool

// UnmarshalJSON 实现 json.Unmarshaler
func (b *FlexBool) UnmarshalJSON(data []byte) error {
	switch {
	case bytes.Equal(data, []byte("true")), bytes.Equal(data, []byte(`"true"`)):
		*b = true
	default:
		*b = false
	}
	return nil
}

// Bool 转换为原生布尔值
func (b FlexBool) Bool() bool {
	return bool(b)
}
