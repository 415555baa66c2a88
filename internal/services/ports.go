package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"kirana/pkg/carrier"
	"kirana/pkg/gateway"
)

// PaymentGateway is the slice of the payment collaborator the lifecycle
// services depend on. *gateway.Client satisfies it.
type PaymentGateway interface {
	CreateIntent(ctx context.Context, amountMinor int64, currency, receipt string) (*gateway.Intent, error)
	IssueRefund(ctx context.Context, paymentID string, amountMinor int64) (*gateway.Refund, error)
	VerifySignature(gatewayOrderID, paymentID, signature string) bool
}

// ShippingCarrier is the slice of the shipping collaborator the lifecycle
// services depend on. *carrier.Client satisfies it.
type ShippingCarrier interface {
	Configured() bool
	PickupLocation() string
	CreateShipment(ctx context.Context, req carrier.ShipmentRequest) (*carrier.ShipmentResult, error)
	AssignWaybill(ctx context.Context, shipmentID string) (*carrier.WaybillResult, error)
	GeneratePickup(ctx context.Context, shipmentID string) error
	CancelShipment(ctx context.Context, carrierOrderID string) error
	Track(ctx context.Context, waybill string) (json.RawMessage, error)
}

// EventPublisher publishes order lifecycle events. *events.Client satisfies
// it. A nil publisher is tolerated everywhere: event delivery is best-effort.
type EventPublisher interface {
	Publish(eventType string, payload any) error
}

// OrderIDGenerator mints externally-facing order identifiers of the form
// ORD-<unix-seconds>-<6 digits>. The suffix is an atomic counter seeded
// randomly at startup, so concurrent checkouts in the same second cannot
// collide the way a pure timestamp+random suffix can.
type OrderIDGenerator struct {
	counter uint64
}

// NewOrderIDGenerator seeds the counter.
func NewOrderIDGenerator() *OrderIDGenerator {
	return &OrderIDGenerator{counter: rand.Uint64()}
}

// Next returns a fresh order identifier.
func (g *OrderIDGenerator) Next() string {
	n := atomic.AddUint64(&g.counter, 1) % 1_000_000
	return fmt.Sprintf("ORD-%d-%06d", time.Now().Unix(), n)
}
