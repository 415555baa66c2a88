package services

import (
	"context"
	"time"

	"kirana/internal/apperrors"
	"kirana/internal/models"
	"kirana/internal/repositories"
	"kirana/pkg/events"
	"kirana/pkg/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultCancelReason = "cancelled at customer request"

// OrderService serves order queries and coordinates cancellation across the
// local store, the shipping carrier, and the payment gateway. The three
// systems share no transaction: carrier and gateway steps are best-effort,
// and only the local persistence step decides the operation's outcome.
type OrderService struct {
	orders  repositories.OrderRepository
	returns repositories.ReturnRepository
	carrier ShippingCarrier
	gateway PaymentGateway
	events  EventPublisher
	metrics *metrics.Metrics
	log     *zap.Logger
}

// NewOrderService creates a new OrderService.
func NewOrderService(orders repositories.OrderRepository, returns repositories.ReturnRepository, sc ShippingCarrier, gw PaymentGateway, ev EventPublisher, m *metrics.Metrics, log *zap.Logger) *OrderService {
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.New()
	}
	return &OrderService{
		orders:  orders,
		returns: returns,
		carrier: sc,
		gateway: gw,
		events:  ev,
		metrics: m,
		log:     log,
	}
}

// GetOrder retrieves a single order by its external identifier.
func (s *OrderService) GetOrder(orderID string) (*models.Order, error) {
	return s.orders.GetByOrderID(orderID)
}

// ListOrders retrieves a user's orders, newest first.
func (s *OrderService) ListOrders(userID string) ([]models.Order, error) {
	return s.orders.ListByUser(userID)
}

// RefundSummary reports whether a refund was initiated as part of a
// cancellation, and with what result.
type RefundSummary struct {
	Initiated   bool                `json:"initiated"`
	RefundID    string              `json:"refund_id,omitempty"`
	Status      models.RefundStatus `json:"status"`
	AmountMinor *int64              `json:"amount_minor,omitempty"`
}

// CancellationSummary reports which cancellation sub-steps succeeded, so the
// caller or support staff can see what still needs manual reconciliation.
type CancellationSummary struct {
	OrderID         string             `json:"order_id"`
	Status          models.OrderStatus `json:"status"`
	CarrierNotified bool               `json:"carrier_notified"`
	Refund          RefundSummary      `json:"refund"`
}

// CancelOrder cancels an order the carrier has not yet dispatched. Once the
// status guard passes, the carrier and refund steps are attempted
// unconditionally and their individual failure never prevents the local
// cancellation from committing — that is the central failure-handling
// contract of this path.
func (s *OrderService) CancelOrder(ctx context.Context, orderID, reason string) (*CancellationSummary, error) {
	order, err := s.orders.GetByOrderID(orderID)
	if err != nil {
		return nil, err
	}

	if order.Status == models.StatusCancelled {
		s.metrics.Cancellations.WithLabelValues("rejected").Inc()
		return nil, apperrors.Conflictf("order %s is already cancelled", orderID)
	}
	if !models.Cancellable(order.Status) {
		s.metrics.Cancellations.WithLabelValues("rejected").Inc()
		return nil, apperrors.Conflictf("order %s cannot be cancelled in status %s", orderID, order.Status)
	}

	if reason == "" {
		reason = defaultCancelReason
	}

	// Best-effort carrier cancellation. Local cancellation takes priority
	// over carrier consistency; a miss here is reconciled manually.
	carrierNotified := false
	if order.CarrierOrderID != "" && s.carrier != nil && s.carrier.Configured() {
		if err := s.carrier.CancelShipment(ctx, order.CarrierOrderID); err != nil {
			s.log.Error("carrier cancellation failed",
				zap.String("order_id", orderID),
				zap.String("carrier_order_id", order.CarrierOrderID),
				zap.Error(err))
		} else {
			carrierNotified = true
		}
	}

	// Best-effort refund. Full amount, no partial-refund policy. A failed
	// refund request is recorded and retried manually; it never blocks the
	// cancellation itself.
	refund := RefundSummary{Status: models.RefundNotApplicable}
	if order.PaymentMethod == models.PaymentOnline && order.PaymentStatus == models.PaymentStatusPaid {
		amount := order.AmountMinor
		res, err := s.gateway.IssueRefund(ctx, order.PaymentID, amount)
		if err != nil {
			s.log.Error("refund request failed",
				zap.String("order_id", orderID),
				zap.String("payment_id", order.PaymentID),
				zap.Error(err))
			refund = RefundSummary{Status: models.RefundFailed, AmountMinor: &amount}
		} else {
			refund = RefundSummary{
				Initiated:   true,
				RefundID:    res.ID,
				Status:      models.RefundPending,
				AmountMinor: &amount,
			}
		}
	}

	now := time.Now().UTC()
	err = s.orders.Update(orderID, func(o *models.Order) error {
		// Re-check under the store's transaction: a racing webhook may have
		// moved the order past the cancellable window.
		if o.Status == models.StatusCancelled {
			return apperrors.Conflictf("order %s is already cancelled", orderID)
		}
		if !models.Cancellable(o.Status) {
			return apperrors.Conflictf("order %s cannot be cancelled in status %s", orderID, o.Status)
		}
		o.CancelledAt = &now
		o.CancelReason = reason
		o.RefundID = refund.RefundID
		o.RefundStatus = refund.Status
		o.RefundAmountMinor = refund.AmountMinor
		o.SetStatus(models.StatusCancelled, cancelNote(reason, carrierNotified, refund))
		return nil
	})
	if err != nil {
		s.metrics.Cancellations.WithLabelValues("error").Inc()
		return nil, err
	}
	s.metrics.Cancellations.WithLabelValues("ok").Inc()

	if s.events != nil {
		if err := s.events.Publish(events.OrderCancelled, map[string]any{
			"order_id":         orderID,
			"reason":           reason,
			"carrier_notified": carrierNotified,
			"refund_status":    refund.Status,
		}); err != nil {
			s.log.Warn("failed to publish order cancelled event",
				zap.String("order_id", orderID), zap.Error(err))
		}
	}

	return &CancellationSummary{
		OrderID:         orderID,
		Status:          models.StatusCancelled,
		CarrierNotified: carrierNotified,
		Refund:          refund,
	}, nil
}

func cancelNote(reason string, carrierNotified bool, refund RefundSummary) string {
	note := "order cancelled: " + reason
	if carrierNotified {
		note += "; carrier notified"
	} else {
		note += "; carrier not notified"
	}
	note += "; refund " + string(refund.Status)
	return note
}

// UpdateOrderStatus is the admin override: it overwrites the status and
// appends a history entry, with no forward-only guard.
func (s *OrderService) UpdateOrderStatus(orderID string, status models.OrderStatus, note string) error {
	if !models.KnownStatus(status) {
		return apperrors.Validationf("invalid order status: %s", status)
	}
	if note == "" {
		note = "status updated by admin"
	}
	return s.orders.Update(orderID, func(o *models.Order) error {
		o.SetStatus(status, note)
		return nil
	})
}

// InitiateReturn opens a return request for a shipped or delivered order.
// The request starts Pending and the order is untouched until an admin
// approves it.
func (s *OrderService) InitiateReturn(orderID, userID, reason string) (*models.Return, error) {
	order, err := s.orders.GetByOrderID(orderID)
	if err != nil {
		return nil, err
	}
	if models.StatusOrdinal(order.Status) < models.StatusOrdinal(models.StatusShipped) ||
		order.Status == models.StatusCancelled {
		return nil, apperrors.Conflictf("order %s cannot be returned in status %s", orderID, order.Status)
	}
	ret := &models.Return{
		ID:      uuid.New().String(),
		OrderID: order.OrderID,
		UserID:  userID,
		Reason:  reason,
		Status:  models.ReturnPending,
	}
	if err := s.returns.Create(ret); err != nil {
		return nil, err
	}
	return ret, nil
}

// ResolveReturn approves or rejects a pending return. Approval moves the
// order onto the return branch.
func (s *OrderService) ResolveReturn(returnID string, approve bool) (*models.Return, error) {
	ret, err := s.returns.GetByID(returnID)
	if err != nil {
		return nil, err
	}
	if ret.Status != models.ReturnPending {
		return nil, apperrors.Conflictf("return %s already resolved as %s", returnID, ret.Status)
	}
	if approve {
		ret.Status = models.ReturnApproved
	} else {
		ret.Status = models.ReturnRejected
	}
	if err := s.returns.Update(ret); err != nil {
		return nil, err
	}
	if approve {
		err := s.orders.Update(ret.OrderID, func(o *models.Order) error {
			o.SetStatus(models.StatusReturnInitiated, "return request approved")
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return ret, nil
}
