// Package gateway is the outbound client for the third-party payment
// gateway: payment-intent creation, refunds, and callback signature
// verification.
package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultTimeout = 10 * time.Second

// Config holds gateway credentials and endpoint details.
type Config struct {
	BaseURL   string
	KeyID     string
	KeySecret string
	Timeout   time.Duration
}

// Client talks to the payment gateway over signed HTTPS calls.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient creates a gateway client with a bounded request timeout so a slow
// gateway cannot hold a request handler indefinitely.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// Configured reports whether gateway credentials are present.
func (c *Client) Configured() bool {
	return c.cfg.KeyID != "" && c.cfg.KeySecret != ""
}

// Intent is a gateway-created payment intent awaiting capture.
type Intent struct {
	ID          string `json:"id"`
	AmountMinor int64  `json:"amount"`
	Currency    string `json:"currency"`
	Receipt     string `json:"receipt"`
	Status      string `json:"status"`
}

// Refund is a gateway-issued refund record.
type Refund struct {
	ID          string `json:"id"`
	PaymentID   string `json:"payment_id"`
	AmountMinor int64  `json:"amount"`
	Status      string `json:"status"`
}

// CreateIntent asks the gateway to create a payment intent for the given
// amount in minor currency units.
func (c *Client) CreateIntent(ctx context.Context, amountMinor int64, currency, receipt string) (*Intent, error) {
	payload := map[string]any{
		"amount":   amountMinor,
		"currency": currency,
		"receipt":  receipt,
	}
	var intent Intent
	if err := c.post(ctx, "/v1/orders", payload, &intent); err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	return &intent, nil
}

// IssueRefund requests a full or partial refund against a captured payment.
func (c *Client) IssueRefund(ctx context.Context, paymentID string, amountMinor int64) (*Refund, error) {
	payload := map[string]any{
		"amount": amountMinor,
	}
	var refund Refund
	path := fmt.Sprintf("/v1/payments/%s/refund", paymentID)
	if err := c.post(ctx, path, payload, &refund); err != nil {
		return nil, fmt.Errorf("refund payment %s: %w", paymentID, err)
	}
	return &refund, nil
}

// VerifySignature checks that signature is the hex HMAC-SHA256 of
// "<gatewayOrderID>|<paymentID>" keyed by the shared secret. The comparison
// is constant-time.
func (c *Client) VerifySignature(gatewayOrderID, paymentID, signature string) bool {
	return VerifySignature(gatewayOrderID, paymentID, signature, c.cfg.KeySecret)
}

// VerifySignature is the secret-explicit form, used directly by tests.
func VerifySignature(gatewayOrderID, paymentID, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(gatewayOrderID + "|" + paymentID))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.cfg.KeyID, c.cfg.KeySecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, string(data))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode gateway response: %w", err)
		}
	}
	return nil
}
