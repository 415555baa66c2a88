package handlers

import (
	"kirana/internal/apperrors"
	"kirana/internal/models"
	"kirana/internal/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// OrderHandler handles HTTP requests for orders: queries, cancellation,
// tracking, returns, and the admin status override.
type OrderHandler struct {
	orders   *services.OrderService
	shipping *services.ShippingService
	log      *zap.Logger
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(orders *services.OrderService, shipping *services.ShippingService, log *zap.Logger) *OrderHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &OrderHandler{
		orders:   orders,
		shipping: shipping,
		log:      log,
	}
}

// RegisterRoutes registers the order routes with the Fiber app.
func (h *OrderHandler) RegisterRoutes(router fiber.Router, adminOnly fiber.Handler) {
	orderRoutes := router.Group("/orders")
	orderRoutes.Get("/", h.HandleListOrders)
	orderRoutes.Get("/:orderId", h.HandleGetOrder)
	orderRoutes.Post("/:orderId/cancel", h.HandleCancelOrder)
	orderRoutes.Get("/:orderId/tracking", h.HandleTracking)
	orderRoutes.Post("/:orderId/return", h.HandleInitiateReturn)
	orderRoutes.Patch("/:orderId/status", adminOnly, h.HandleUpdateStatus)

	router.Patch("/returns/:id", adminOnly, h.HandleResolveReturn)
}

// HandleListOrders lists the authenticated user's orders, newest first.
func (h *OrderHandler) HandleListOrders(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	orders, err := h.orders.ListOrders(userID)
	if err != nil {
		h.log.Error("order listing failed", zap.Error(err))
		return errorResponse(c, err, "Could not retrieve orders")
	}
	return c.JSON(orders)
}

// HandleGetOrder retrieves a single order by its external identifier.
func (h *OrderHandler) HandleGetOrder(c *fiber.Ctx) error {
	orderID := c.Params("orderId")
	order, err := h.orders.GetOrder(orderID)
	if err != nil {
		return errorResponse(c, err, "Could not retrieve order")
	}
	return c.JSON(order)
}

// HandleCancelOrder cancels an order that has not shipped yet. The response
// reports which sub-steps succeeded rather than a single pass/fail.
func (h *OrderHandler) HandleCancelOrder(c *fiber.Ctx) error {
	orderID := c.Params("orderId")
	var req struct {
		Reason string `json:"reason"`
	}
	// The body is optional; a missing or unparsable one means no reason given.
	_ = c.BodyParser(&req)

	summary, err := h.orders.CancelOrder(c.Context(), orderID, req.Reason)
	if err != nil {
		h.log.Warn("cancellation rejected",
			zap.String("order_id", orderID), zap.Error(err))
		return errorResponse(c, err, "Could not cancel order")
	}
	return c.JSON(summary)
}

// HandleTracking proxies the live carrier tracking payload for an order.
func (h *OrderHandler) HandleTracking(c *fiber.Ctx) error {
	orderID := c.Params("orderId")
	payload, err := h.shipping.Track(c.Context(), orderID)
	if err != nil {
		return errorResponse(c, err, "Could not fetch tracking")
	}
	c.Set("Content-Type", "application/json")
	return c.Send(payload)
}

// HandleInitiateReturn opens a return request for a delivered order.
func (h *OrderHandler) HandleInitiateReturn(c *fiber.Ctx) error {
	orderID := c.Params("orderId")
	userID, _ := c.Locals("user_id").(string)
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.BodyParser(&req)

	ret, err := h.orders.InitiateReturn(orderID, userID, req.Reason)
	if err != nil {
		return errorResponse(c, err, "Could not initiate return")
	}
	return c.Status(fiber.StatusCreated).JSON(ret)
}

// HandleResolveReturn approves or rejects a pending return (admin only).
func (h *OrderHandler) HandleResolveReturn(c *fiber.Ctx) error {
	returnID := c.Params("id")
	var req struct {
		Approve bool `json:"approve"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Invalid request body",
			"error":   err.Error(),
		})
	}

	ret, err := h.orders.ResolveReturn(returnID, req.Approve)
	if err != nil {
		return errorResponse(c, err, "Could not resolve return")
	}
	return c.JSON(ret)
}

// HandleUpdateStatus is the admin status override.
func (h *OrderHandler) HandleUpdateStatus(c *fiber.Ctx) error {
	orderID := c.Params("orderId")
	var req struct {
		Status string `json:"status"`
		Note   string `json:"note"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Invalid request body",
			"error":   err.Error(),
		})
	}
	if req.Status == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Status is required for order status update.",
		})
	}

	if err := h.orders.UpdateOrderStatus(orderID, models.OrderStatus(req.Status), req.Note); err != nil {
		return errorResponse(c, err, "Could not update order status")
	}
	return c.JSON(fiber.Map{
		"message": "Order status updated",
		"orderId": orderID,
		"status":  req.Status,
	})
}

// errorResponse maps a service error to its HTTP status with a stable JSON
// envelope.
func errorResponse(c *fiber.Ctx, err error, message string) error {
	return c.Status(apperrors.HTTPStatus(err)).JSON(fiber.Map{
		"message": message,
		"error":   err.Error(),
	})
}
