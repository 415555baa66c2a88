package services_test

import (
	"context"
	"encoding/json"
	"sync"

	"kirana/pkg/carrier"
	"kirana/pkg/gateway"
)

// stubGateway implements services.PaymentGateway. Signature verification is
// the real HMAC against the stub's secret; refunds and intents are recorded.
type stubGateway struct {
	secret string

	mu          sync.Mutex
	intentErr   error
	refundErr   error
	refundCalls []refundCall
	intents     []intentCall
}

type refundCall struct {
	paymentID   string
	amountMinor int64
}

type intentCall struct {
	amountMinor int64
	currency    string
	receipt     string
}

func (g *stubGateway) CreateIntent(ctx context.Context, amountMinor int64, currency, receipt string) (*gateway.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.intentErr != nil {
		return nil, g.intentErr
	}
	g.intents = append(g.intents, intentCall{amountMinor, currency, receipt})
	return &gateway.Intent{ID: "intent_1", AmountMinor: amountMinor, Currency: currency, Receipt: receipt, Status: "created"}, nil
}

func (g *stubGateway) IssueRefund(ctx context.Context, paymentID string, amountMinor int64) (*gateway.Refund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refundCalls = append(g.refundCalls, refundCall{paymentID, amountMinor})
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	return &gateway.Refund{ID: "rfnd_1", PaymentID: paymentID, AmountMinor: amountMinor, Status: "pending"}, nil
}

func (g *stubGateway) VerifySignature(gatewayOrderID, paymentID, signature string) bool {
	return gateway.VerifySignature(gatewayOrderID, paymentID, signature, g.secret)
}

// stubCarrier implements services.ShippingCarrier with scriptable failures.
type stubCarrier struct {
	unconfigured bool

	createErr error
	awbErr    error
	pickupErr error
	cancelErr error
	trackErr  error

	mu          sync.Mutex
	created     []carrier.ShipmentRequest
	awbCalls    []string
	pickupCalls []string
	cancelCalls []string
}

func (c *stubCarrier) Configured() bool       { return !c.unconfigured }
func (c *stubCarrier) PickupLocation() string { return "Primary" }

func (c *stubCarrier) CreateShipment(ctx context.Context, req carrier.ShipmentRequest) (*carrier.ShipmentResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.createErr != nil {
		return nil, c.createErr
	}
	c.created = append(c.created, req)
	return &carrier.ShipmentResult{CarrierOrderID: "CO-1", ShipmentID: "SHIP-1"}, nil
}

func (c *stubCarrier) AssignWaybill(ctx context.Context, shipmentID string) (*carrier.WaybillResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.awbErr != nil {
		return nil, c.awbErr
	}
	c.awbCalls = append(c.awbCalls, shipmentID)
	return &carrier.WaybillResult{WaybillCode: "AWB123", CourierName: "FastShip"}, nil
}

func (c *stubCarrier) GeneratePickup(ctx context.Context, shipmentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pickupErr != nil {
		return c.pickupErr
	}
	c.pickupCalls = append(c.pickupCalls, shipmentID)
	return nil
}

func (c *stubCarrier) CancelShipment(ctx context.Context, carrierOrderID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelCalls = append(c.cancelCalls, carrierOrderID)
	return c.cancelErr
}

func (c *stubCarrier) Track(ctx context.Context, waybill string) (json.RawMessage, error) {
	if c.trackErr != nil {
		return nil, c.trackErr
	}
	return json.RawMessage(`{"current_status":"In Transit"}`), nil
}
