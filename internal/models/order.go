package models

import "time"

// PaymentMethod is how the customer pays for an order.
type PaymentMethod string

const (
	PaymentOnline PaymentMethod = "online"
	PaymentCOD    PaymentMethod = "cod"
)

// PaymentStatus tracks whether funds were collected.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusFailed  PaymentStatus = "failed"
)

// RefundStatus tracks the lifecycle of a refund attached to a cancellation.
type RefundStatus string

const (
	RefundPending       RefundStatus = "pending"
	RefundFailed        RefundStatus = "failed"
	RefundNotApplicable RefundStatus = "not_applicable"
)

// OrderStatus is the order's position in its lifecycle.
type OrderStatus string

const (
	StatusCreated           OrderStatus = "created"
	StatusPaymentPending    OrderStatus = "payment_pending"
	StatusPaymentConfirmed  OrderStatus = "payment_confirmed"
	StatusShipmentRequested OrderStatus = "shipment_requested"
	StatusShipmentConfirmed OrderStatus = "shipment_confirmed"
	StatusShipped           OrderStatus = "shipped"
	StatusOutForDelivery    OrderStatus = "out_for_delivery"
	StatusDelivered         OrderStatus = "delivered"
	StatusReturnInitiated   OrderStatus = "return_initiated"
	StatusReturned          OrderStatus = "returned"
	StatusCancelled         OrderStatus = "cancelled"
)

// statusOrdinals orders the statuses along the forward shipping branch.
// Cancellation sits outside the branch and is handled explicitly.
var statusOrdinals = map[OrderStatus]int{
	StatusCreated:           1,
	StatusPaymentPending:    1,
	StatusPaymentConfirmed:  2,
	StatusShipmentRequested: 3,
	StatusShipmentConfirmed: 4,
	StatusShipped:           5,
	StatusOutForDelivery:    6,
	StatusDelivered:         7,
	StatusReturnInitiated:   8,
	StatusReturned:          9,
	StatusCancelled:         100,
}

// KnownStatus reports whether s is a status this system understands.
func KnownStatus(s OrderStatus) bool {
	_, ok := statusOrdinals[s]
	return ok
}

// StatusOrdinal returns the forward-progression ordinal for s, or 0 if s is
// unknown.
func StatusOrdinal(s OrderStatus) int {
	return statusOrdinals[s]
}

// Cancellable reports whether an order in status s may still be cancelled by
// the customer. Only orders the carrier has not yet dispatched qualify.
func Cancellable(s OrderStatus) bool {
	ord := statusOrdinals[s]
	return ord > 0 && ord < statusOrdinals[StatusShipped]
}

// OrderItem is a single line item. Prices are in minor currency units (paise).
type OrderItem struct {
	ProductID      string `json:"product_id"`
	Name           string `json:"name"`
	Quantity       int    `json:"quantity"`
	UnitPriceMinor int64  `json:"unit_price_minor"`
}

// ShippingAddress is where the carrier delivers the order.
type ShippingAddress struct {
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
}

// StatusHistoryEntry records one status transition. History is append-only;
// entries are never rewritten.
type StatusHistoryEntry struct {
	Status OrderStatus `json:"status"`
	Note   string      `json:"note"`
	At     time.Time   `json:"at"`
}

// Order is the aggregate root for the order lifecycle. ID is the
// storage-internal key; OrderID is the externally-facing, human-traceable
// identifier. Monetary amounts are int64 minor units throughout.
type Order struct {
	ID      string `json:"-" gorm:"primaryKey;type:varchar(36)"`
	OrderID string `json:"order_id" gorm:"uniqueIndex;type:varchar(64)"`
	UserID  string `json:"user_id" gorm:"index;type:varchar(36)"`

	Items   []OrderItem     `json:"items" gorm:"serializer:json"`
	Address ShippingAddress `json:"address" gorm:"embedded;embeddedPrefix:addr_"`

	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency" gorm:"type:varchar(8)"`

	PaymentMethod  PaymentMethod `json:"payment_method" gorm:"type:varchar(16)"`
	PaymentStatus  PaymentStatus `json:"payment_status" gorm:"type:varchar(16)"`
	GatewayOrderID string        `json:"gateway_order_id,omitempty" gorm:"type:varchar(64)"`
	// Unique per gateway payment: a duplicate verify call must find the
	// existing order instead of creating a second one. Partial index so COD
	// orders (empty payment id) do not collide.
	PaymentID string `json:"payment_id,omitempty" gorm:"type:varchar(64);index:idx_orders_payment_id,unique,where:payment_id <> ''"`

	Status  OrderStatus          `json:"status" gorm:"index;type:varchar(32)"`
	History []StatusHistoryEntry `json:"history" gorm:"serializer:json"`

	CarrierName    string `json:"carrier_name,omitempty" gorm:"type:varchar(64)"`
	CarrierOrderID string `json:"carrier_order_id,omitempty" gorm:"index;type:varchar(64)"`
	ShipmentID     string `json:"shipment_id,omitempty" gorm:"type:varchar(64)"`
	WaybillCode    string `json:"waybill_code,omitempty" gorm:"index;type:varchar(64)"`

	EstimatedDelivery *time.Time `json:"estimated_delivery,omitempty"`

	RefundID          string       `json:"refund_id,omitempty" gorm:"type:varchar(64)"`
	RefundStatus      RefundStatus `json:"refund_status,omitempty" gorm:"type:varchar(16)"`
	RefundAmountMinor *int64       `json:"refund_amount_minor,omitempty"`

	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	CancelReason string     `json:"cancel_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SetStatus overwrites the order's status and appends one history entry.
// Every transition goes through here so the append-exactly-once invariant
// holds.
func (o *Order) SetStatus(status OrderStatus, note string) {
	o.Status = status
	o.AppendHistory(status, note)
}

// AppendHistory appends a history entry without touching the current status.
func (o *Order) AppendHistory(status OrderStatus, note string) {
	o.History = append(o.History, StatusHistoryEntry{
		Status: status,
		Note:   note,
		At:     time.Now().UTC(),
	})
}
