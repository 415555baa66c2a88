// Package carrier is the outbound client for the third-party shipping
// provider: authentication, shipment creation, waybill assignment, pickup
// scheduling, cancellation, and live tracking.
package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultTimeout = 10 * time.Second

	// Carrier tokens are valid for roughly ten days; we treat them as good
	// for nine and refresh well before that so concurrent callers never see
	// an expired token mid-request.
	tokenValidity = 9 * 24 * time.Hour
	refreshMargin = 6 * time.Hour
)

// Config holds carrier credentials and endpoint details. Empty credentials
// mean the carrier integration is disabled, which is a valid production mode.
type Config struct {
	BaseURL        string
	Email          string
	Password       string
	PickupLocation string
	Timeout        time.Duration
}

// Client talks to the shipping carrier. The bearer token is shared process
// state with a refresh lifecycle; the mutex is held across a refresh so
// concurrent sagas cannot race to re-authenticate.
type Client struct {
	cfg  Config
	http *http.Client
	log  *zap.Logger

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

// NewClient creates a carrier client with a bounded request timeout.
func NewClient(cfg Config, log *zap.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
	}
}

// Configured reports whether carrier credentials are present. When false the
// shipment saga skips carrier work entirely.
func (c *Client) Configured() bool {
	return c.cfg.Email != "" && c.cfg.Password != ""
}

// PickupLocation returns the configured pickup location name.
func (c *Client) PickupLocation() string {
	return c.cfg.PickupLocation
}

// ShipmentItem is one line item of a shipment request.
type ShipmentItem struct {
	Name         string `json:"name"`
	SKU          string `json:"sku"`
	Units        int    `json:"units"`
	SellingPrice int64  `json:"selling_price"`
}

// ShipmentRequest is the carrier's shipment-creation payload.
type ShipmentRequest struct {
	OrderID        string         `json:"order_id"`
	OrderDate      string         `json:"order_date"`
	PickupLocation string         `json:"pickup_location"`
	BillingName    string         `json:"billing_customer_name"`
	BillingPhone   string         `json:"billing_phone"`
	BillingAddress string         `json:"billing_address"`
	BillingCity    string         `json:"billing_city"`
	BillingState   string         `json:"billing_state"`
	BillingPincode string         `json:"billing_pincode"`
	PaymentMethod  string         `json:"payment_method"`
	SubTotal       int64          `json:"sub_total"`
	Items          []ShipmentItem `json:"order_items"`
}

// ShipmentResult is the carrier's reference pair for a created shipment.
type ShipmentResult struct {
	CarrierOrderID string `json:"order_id"`
	ShipmentID     string `json:"shipment_id"`
}

// WaybillResult carries the assigned tracking number and the courier that
// will handle the shipment.
type WaybillResult struct {
	WaybillCode string `json:"awb_code"`
	CourierName string `json:"courier_name"`
}

// CreateShipment submits a new shipment and returns the carrier's references.
func (c *Client) CreateShipment(ctx context.Context, req ShipmentRequest) (*ShipmentResult, error) {
	var res ShipmentResult
	if err := c.call(ctx, http.MethodPost, "/v1/external/orders/create/adhoc", req, &res); err != nil {
		return nil, fmt.Errorf("create shipment for order %s: %w", req.OrderID, err)
	}
	return &res, nil
}

// AssignWaybill requests a tracking number for a shipment.
func (c *Client) AssignWaybill(ctx context.Context, shipmentID string) (*WaybillResult, error) {
	payload := map[string]any{"shipment_id": shipmentID}
	var wrapped struct {
		Response struct {
			Data WaybillResult `json:"data"`
		} `json:"response"`
	}
	if err := c.call(ctx, http.MethodPost, "/v1/external/courier/assign/awb", payload, &wrapped); err != nil {
		return nil, fmt.Errorf("assign waybill for shipment %s: %w", shipmentID, err)
	}
	return &wrapped.Response.Data, nil
}

// GeneratePickup schedules carrier pickup for a shipment.
func (c *Client) GeneratePickup(ctx context.Context, shipmentID string) error {
	payload := map[string]any{"shipment_id": []string{shipmentID}}
	if err := c.call(ctx, http.MethodPost, "/v1/external/courier/generate/pickup", payload, nil); err != nil {
		return fmt.Errorf("generate pickup for shipment %s: %w", shipmentID, err)
	}
	return nil
}

// CancelShipment asks the carrier to cancel a shipment it has not yet
// dispatched.
func (c *Client) CancelShipment(ctx context.Context, carrierOrderID string) error {
	payload := map[string]any{"ids": []string{carrierOrderID}}
	if err := c.call(ctx, http.MethodPost, "/v1/external/orders/cancel", payload, nil); err != nil {
		return fmt.Errorf("cancel carrier order %s: %w", carrierOrderID, err)
	}
	return nil
}

// Track fetches the live tracking payload for a waybill. The shape is
// carrier-owned, so it is passed through raw.
func (c *Client) Track(ctx context.Context, waybill string) (json.RawMessage, error) {
	var raw json.RawMessage
	path := fmt.Sprintf("/v1/external/courier/track/awb/%s", waybill)
	if err := c.call(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, fmt.Errorf("track waybill %s: %w", waybill, err)
	}
	return raw, nil
}

// authToken returns a valid bearer token, re-authenticating when the current
// one is inside the refresh margin. The lock is held for the whole refresh:
// callers queued behind an in-flight refresh reuse its result.
func (c *Client) authToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExp.Add(-refreshMargin)) {
		return c.token, nil
	}

	body, err := json.Marshal(map[string]string{
		"email":    c.cfg.Email,
		"password": c.cfg.Password,
	})
	if err != nil {
		return "", fmt.Errorf("marshal auth request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/external/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("carrier auth request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("carrier auth returned %d: %s", resp.StatusCode, string(data))
	}

	var auth struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return "", fmt.Errorf("decode carrier auth response: %w", err)
	}
	if auth.Token == "" {
		return "", fmt.Errorf("carrier auth response carried no token")
	}

	c.token = auth.Token
	c.tokenExp = time.Now().Add(tokenValidity)
	c.log.Info("carrier token refreshed", zap.Time("expires", c.tokenExp))
	return c.token, nil
}

func (c *Client) call(ctx context.Context, method, path string, payload, out any) error {
	token, err := c.authToken(ctx)
	if err != nil {
		return err
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("carrier request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("carrier returned %d: %s", resp.StatusCode, string(data))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode carrier response: %w", err)
		}
	}
	return nil
}
