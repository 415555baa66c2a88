package handlers

import (
	"time"

	"kirana/internal/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// ShipmentHandler receives asynchronous status webhooks from the shipping
// carrier. The route is unauthenticated: the carrier is the caller.
type ShipmentHandler struct {
	shipping *services.ShippingService
	log      *zap.Logger
}

// NewShipmentHandler creates a new ShipmentHandler.
func NewShipmentHandler(shipping *services.ShippingService, log *zap.Logger) *ShipmentHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &ShipmentHandler{
		shipping: shipping,
		log:      log,
	}
}

// RegisterRoutes registers the shipment routes with the Fiber app.
func (h *ShipmentHandler) RegisterRoutes(router fiber.Router) {
	router.Post("/shipments/webhook", h.HandleWebhook)
}

// webhookRequest is the carrier's callback payload.
type webhookRequest struct {
	AWB               string `json:"awb"`
	CarrierOrderID    string `json:"order_id"`
	CurrentStatus     string `json:"current_status"`
	Remark            string `json:"remark"`
	EstimatedDelivery string `json:"etd"`
}

// HandleWebhook folds a carrier event into order state. Everything except a
// local persistence failure answers 200: the carrier retries any non-2xx
// response and must not be allowed to retry indefinitely for events this
// system cannot use.
func (h *ShipmentHandler) HandleWebhook(c *fiber.Ctx) error {
	var req webhookRequest
	if err := c.BodyParser(&req); err != nil {
		h.log.Warn("unparsable carrier webhook, discarding", zap.Error(err))
		return c.SendStatus(fiber.StatusOK)
	}

	evt := services.CarrierEvent{
		Waybill:        req.AWB,
		CarrierOrderID: req.CarrierOrderID,
		Status:         req.CurrentStatus,
		Remark:         req.Remark,
	}
	if req.EstimatedDelivery != "" {
		if etd, err := time.Parse("2006-01-02 15:04:05", req.EstimatedDelivery); err == nil {
			evt.EstimatedDelivery = &etd
		}
	}

	if err := h.shipping.HandleCarrierEvent(c.Context(), evt); err != nil {
		h.log.Error("carrier webhook persistence failed",
			zap.String("awb", req.AWB), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"message": "Could not persist carrier event",
		})
	}
	return c.SendStatus(fiber.StatusOK)
}
