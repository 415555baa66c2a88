package services

import (
	"context"

	"kirana/internal/apperrors"
	"kirana/internal/models"
	"kirana/internal/repositories"
	"kirana/pkg/events"
	"kirana/pkg/gateway"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PaymentService establishes that a claimed payment is authentic before any
// order is persisted, and owns the checkout paths (online and COD).
type PaymentService struct {
	orders   repositories.OrderRepository
	gateway  PaymentGateway
	shipping *ShippingService
	events   EventPublisher
	ids      *OrderIDGenerator
	log      *zap.Logger
}

// NewPaymentService creates a new PaymentService.
func NewPaymentService(orders repositories.OrderRepository, gw PaymentGateway, shipping *ShippingService, events EventPublisher, log *zap.Logger) *PaymentService {
	if log == nil {
		log = zap.NewNop()
	}
	return &PaymentService{
		orders:   orders,
		gateway:  gw,
		shipping: shipping,
		events:   events,
		ids:      NewOrderIDGenerator(),
		log:      log,
	}
}

// CheckoutPayload is the client-supplied order content. Amounts are minor
// currency units.
type CheckoutPayload struct {
	UserID      string
	Items       []models.OrderItem
	Address     models.ShippingAddress
	AmountMinor int64
	Currency    string
}

// CreatePaymentIntent asks the gateway for a payment intent. The amount
// arrives in major currency units from the client and is converted to minor
// units exactly once, here at the boundary.
func (s *PaymentService) CreatePaymentIntent(ctx context.Context, amountMajor int64, currency, receipt string) (*gateway.Intent, error) {
	if currency == "" {
		currency = "INR"
	}
	intent, err := s.gateway.CreateIntent(ctx, amountMajor*100, currency, receipt)
	if err != nil {
		return nil, apperrors.External("payment gateway", err)
	}
	return intent, nil
}

// VerifyAndPlace checks the gateway callback signature and, on success,
// persists the order and fires shipment provisioning. Calling it twice for
// the same gateway payment is safe: the second call finds the existing order
// and returns it, because "payment already verified" is success to the
// caller, not failure.
func (s *PaymentService) VerifyAndPlace(ctx context.Context, gatewayOrderID, paymentID, signature string, payload CheckoutPayload) (*models.Order, error) {
	if !s.gateway.VerifySignature(gatewayOrderID, paymentID, signature) {
		s.log.Warn("payment signature mismatch",
			zap.String("gateway_order_id", gatewayOrderID),
			zap.String("payment_id", paymentID))
		return nil, &apperrors.SignatureMismatchError{GatewayOrderID: gatewayOrderID}
	}

	existing, err := s.orders.FindByPaymentID(paymentID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.log.Info("duplicate payment verification, returning existing order",
			zap.String("payment_id", paymentID),
			zap.String("order_id", existing.OrderID))
		return existing, nil
	}

	order := s.newOrder(payload, models.PaymentOnline)
	order.GatewayOrderID = gatewayOrderID
	order.PaymentID = paymentID
	order.PaymentStatus = models.PaymentStatusPaid
	order.SetStatus(models.StatusPaymentConfirmed, "payment verified")

	if err := s.orders.Create(order); err != nil {
		// Payment is verified but the order is not saved: surface the
		// persistence failure so the client can follow up manually.
		return nil, err
	}

	s.publishCreated(order)
	s.provisionAsync(order.OrderID)
	return order, nil
}

// PlaceCODOrder persists a cash-on-delivery order. No signature is involved
// and payment stays pending until collection.
func (s *PaymentService) PlaceCODOrder(ctx context.Context, payload CheckoutPayload) (*models.Order, error) {
	order := s.newOrder(payload, models.PaymentCOD)
	order.PaymentStatus = models.PaymentStatusPending
	order.SetStatus(models.StatusCreated, "order placed, payment on delivery")

	if err := s.orders.Create(order); err != nil {
		return nil, err
	}

	s.publishCreated(order)
	s.provisionAsync(order.OrderID)
	return order, nil
}

func (s *PaymentService) newOrder(payload CheckoutPayload, method models.PaymentMethod) *models.Order {
	currency := payload.Currency
	if currency == "" {
		currency = "INR"
	}
	return &models.Order{
		ID:            uuid.New().String(),
		OrderID:       s.ids.Next(),
		UserID:        payload.UserID,
		Items:         payload.Items,
		Address:       payload.Address,
		AmountMinor:   payload.AmountMinor,
		Currency:      currency,
		PaymentMethod: method,
	}
}

func (s *PaymentService) publishCreated(order *models.Order) {
	if s.events == nil {
		return
	}
	err := s.events.Publish(events.OrderCreated, map[string]any{
		"order_id":       order.OrderID,
		"user_id":        order.UserID,
		"status":         order.Status,
		"amount_minor":   order.AmountMinor,
		"payment_method": order.PaymentMethod,
	})
	if err != nil {
		s.log.Warn("failed to publish order created event",
			zap.String("order_id", order.OrderID), zap.Error(err))
	}
}

// provisionAsync kicks the shipment saga without blocking the checkout
// response. Carrier unavailability must never fail a checkout.
func (s *PaymentService) provisionAsync(orderID string) {
	if s.shipping == nil {
		return
	}
	go func() {
		if err := s.shipping.Provision(context.Background(), orderID); err != nil {
			s.log.Error("shipment provisioning failed",
				zap.String("order_id", orderID), zap.Error(err))
		}
	}()
}
