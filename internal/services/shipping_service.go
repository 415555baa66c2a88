package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"kirana/internal/apperrors"
	"kirana/internal/models"
	"kirana/internal/repositories"
	"kirana/pkg/carrier"
	"kirana/pkg/events"
	"kirana/pkg/metrics"

	"go.uber.org/zap"
)

// carrierStatusMap translates the carrier's status vocabulary into internal
// statuses. Unrecognized tokens are ignored rather than treated as errors:
// carrier vocabularies evolve and a new token must never break delivery of
// legitimate events.
var carrierStatusMap = map[string]models.OrderStatus{
	"PICKED UP":        models.StatusShipped,
	"SHIPPED":          models.StatusShipped,
	"IN TRANSIT":       models.StatusShipped,
	"OUT FOR DELIVERY": models.StatusOutForDelivery,
	"DELIVERED":        models.StatusDelivered,
	"RTO INITIATED":    models.StatusReturnInitiated,
	"RTO DELIVERED":    models.StatusReturned,
	"CANCELED":         models.StatusCancelled,
	"CANCELLED":        models.StatusCancelled,
}

// ShippingService owns the carrier-facing half of the order lifecycle: the
// shipment provisioning saga, live tracking, and webhook reconciliation.
type ShippingService struct {
	orders  repositories.OrderRepository
	carrier ShippingCarrier
	events  EventPublisher
	metrics *metrics.Metrics
	log     *zap.Logger
}

// NewShippingService creates a new ShippingService.
func NewShippingService(orders repositories.OrderRepository, sc ShippingCarrier, ev EventPublisher, m *metrics.Metrics, log *zap.Logger) *ShippingService {
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.New()
	}
	return &ShippingService{
		orders:  orders,
		carrier: sc,
		events:  ev,
		metrics: m,
		log:     log,
	}
}

// Provision runs the shipment saga for a persisted order: create shipment,
// assign waybill, generate pickup. Each step commits its result before the
// next runs, so a crash mid-saga leaves recoverable partial state. Nothing is
// rolled back: a stray carrier-side shipment costs less than a blocked
// checkout.
func (s *ShippingService) Provision(ctx context.Context, orderID string) error {
	if s.carrier == nil || !s.carrier.Configured() {
		// Running without carrier credentials is a supported mode.
		s.metrics.SagaSteps.WithLabelValues("create_shipment", "skipped").Inc()
		s.log.Info("carrier not configured, skipping shipment provisioning",
			zap.String("order_id", orderID))
		return nil
	}

	order, err := s.orders.GetByOrderID(orderID)
	if err != nil {
		return err
	}

	// Step 1: create the shipment. On failure the order stays valid and
	// unshipped, to be retried out of band.
	res, err := s.carrier.CreateShipment(ctx, s.shipmentRequest(order))
	if err != nil {
		s.metrics.SagaSteps.WithLabelValues("create_shipment", "error").Inc()
		s.log.Error("carrier shipment creation failed",
			zap.String("order_id", orderID), zap.Error(err))
		return nil
	}
	s.metrics.SagaSteps.WithLabelValues("create_shipment", "ok").Inc()

	err = s.orders.Update(orderID, func(o *models.Order) error {
		o.CarrierOrderID = res.CarrierOrderID
		o.ShipmentID = res.ShipmentID
		o.SetStatus(models.StatusShipmentRequested, fmt.Sprintf("shipment %s created with carrier", res.ShipmentID))
		return nil
	})
	if err != nil {
		return err
	}

	// Step 2: assign a waybill. The linkage from step 1 is already
	// committed, so a failure here leaves partial but recoverable state.
	wb, err := s.carrier.AssignWaybill(ctx, res.ShipmentID)
	if err != nil {
		s.metrics.SagaSteps.WithLabelValues("assign_waybill", "error").Inc()
		s.log.Error("waybill assignment failed",
			zap.String("order_id", orderID),
			zap.String("shipment_id", res.ShipmentID), zap.Error(err))
		return nil
	}
	s.metrics.SagaSteps.WithLabelValues("assign_waybill", "ok").Inc()

	err = s.orders.Update(orderID, func(o *models.Order) error {
		o.WaybillCode = wb.WaybillCode
		o.CarrierName = wb.CourierName
		o.AppendHistory(o.Status, fmt.Sprintf("waybill %s assigned by %s", wb.WaybillCode, wb.CourierName))
		return nil
	})
	if err != nil {
		return err
	}

	// Step 3: schedule pickup.
	if err := s.carrier.GeneratePickup(ctx, res.ShipmentID); err != nil {
		s.metrics.SagaSteps.WithLabelValues("generate_pickup", "error").Inc()
		s.log.Error("pickup generation failed",
			zap.String("order_id", orderID),
			zap.String("shipment_id", res.ShipmentID), zap.Error(err))
		return nil
	}
	s.metrics.SagaSteps.WithLabelValues("generate_pickup", "ok").Inc()

	return s.orders.Update(orderID, func(o *models.Order) error {
		o.SetStatus(models.StatusShipmentConfirmed, "carrier pickup scheduled")
		return nil
	})
}

// CarrierEvent is an asynchronous carrier status callback, delivered
// at-least-once and possibly out of order.
type CarrierEvent struct {
	Waybill           string
	CarrierOrderID    string
	Status            string
	Remark            string
	EstimatedDelivery *time.Time
}

// HandleCarrierEvent folds a webhook event into order state. Events for
// unknown orders and unknown status tokens are accepted and discarded so the
// carrier never retries indefinitely. Status only moves forward along the
// lifecycle: a delayed earlier event cannot regress a later status, though
// its remark still lands in history. Only a persistence failure propagates,
// producing the 5xx that makes the carrier retry.
func (s *ShippingService) HandleCarrierEvent(ctx context.Context, evt CarrierEvent) error {
	order, err := s.orders.FindByCarrierRef(evt.Waybill, evt.CarrierOrderID)
	if err != nil {
		s.metrics.WebhookEvents.WithLabelValues("error").Inc()
		return err
	}
	if order == nil {
		s.metrics.WebhookEvents.WithLabelValues("unknown_order").Inc()
		s.log.Info("carrier event for unknown order, discarding",
			zap.String("waybill", evt.Waybill),
			zap.String("carrier_order_id", evt.CarrierOrderID))
		return nil
	}

	mapped, ok := carrierStatusMap[strings.ToUpper(strings.TrimSpace(evt.Status))]
	if !ok {
		s.metrics.WebhookEvents.WithLabelValues("unknown_status").Inc()
		s.log.Info("unrecognized carrier status token, ignoring",
			zap.String("order_id", order.OrderID),
			zap.String("status", evt.Status))
		return nil
	}

	note := evt.Remark
	if note == "" {
		note = evt.Status
	}

	applied := false
	err = s.orders.Update(order.OrderID, func(o *models.Order) error {
		if models.StatusOrdinal(mapped) >= models.StatusOrdinal(o.Status) {
			o.Status = mapped
			applied = true
		}
		o.AppendHistory(mapped, note)
		if evt.EstimatedDelivery != nil {
			o.EstimatedDelivery = evt.EstimatedDelivery
		}
		return nil
	})
	if err != nil {
		s.metrics.WebhookEvents.WithLabelValues("error").Inc()
		return err
	}

	if applied {
		s.metrics.WebhookEvents.WithLabelValues("applied").Inc()
	} else {
		s.metrics.WebhookEvents.WithLabelValues("history_only").Inc()
	}

	if s.events != nil && applied {
		if err := s.events.Publish(events.OrderStatusUpdated, map[string]any{
			"order_id": order.OrderID,
			"status":   mapped,
			"remark":   note,
		}); err != nil {
			s.log.Warn("failed to publish status update event",
				zap.String("order_id", order.OrderID), zap.Error(err))
		}
	}
	return nil
}

// Track fetches the live carrier tracking payload for an order.
func (s *ShippingService) Track(ctx context.Context, orderID string) (json.RawMessage, error) {
	order, err := s.orders.GetByOrderID(orderID)
	if err != nil {
		return nil, err
	}
	if order.WaybillCode == "" {
		return nil, apperrors.Validationf("order %s has no waybill assigned yet", orderID)
	}
	if s.carrier == nil || !s.carrier.Configured() {
		return nil, apperrors.External("shipping carrier", fmt.Errorf("carrier not configured"))
	}
	payload, err := s.carrier.Track(ctx, order.WaybillCode)
	if err != nil {
		return nil, apperrors.External("shipping carrier", err)
	}
	return payload, nil
}

func (s *ShippingService) shipmentRequest(order *models.Order) carrier.ShipmentRequest {
	items := make([]carrier.ShipmentItem, 0, len(order.Items))
	for _, it := range order.Items {
		items = append(items, carrier.ShipmentItem{
			Name:         it.Name,
			SKU:          it.ProductID,
			Units:        it.Quantity,
			SellingPrice: it.UnitPriceMinor,
		})
	}
	method := "Prepaid"
	if order.PaymentMethod == models.PaymentCOD {
		method = "COD"
	}
	return carrier.ShipmentRequest{
		OrderID:        order.OrderID,
		OrderDate:      order.CreatedAt.Format("2006-01-02 15:04"),
		PickupLocation: s.carrier.PickupLocation(),
		BillingName:    order.Address.Name,
		BillingPhone:   order.Address.Phone,
		BillingAddress: order.Address.Street,
		BillingCity:    order.Address.City,
		BillingState:   order.Address.State,
		BillingPincode: order.Address.PostalCode,
		PaymentMethod:  method,
		SubTotal:       order.AmountMinor,
		Items:          items,
	}
}
