package handlers

import (
	"fmt"

	"kirana/internal/apperrors"
	"kirana/internal/models"
	"kirana/internal/services"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// PaymentHandler handles HTTP requests for checkout and payment verification.
type PaymentHandler struct {
	service  *services.PaymentService
	validate *validator.Validate
	log      *zap.Logger
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(service *services.PaymentService, log *zap.Logger) *PaymentHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &PaymentHandler{
		service:  service,
		validate: validator.New(),
		log:      log,
	}
}

// RegisterRoutes registers the payment routes with the Fiber app.
func (h *PaymentHandler) RegisterRoutes(router fiber.Router) {
	paymentRoutes := router.Group("/payments")
	paymentRoutes.Post("/order", h.HandleCreateIntent)
	paymentRoutes.Post("/verify", h.HandleVerify)
	paymentRoutes.Post("/cod", h.HandleCOD)
}

// CreateIntentRequest is the body for payment-intent creation. Amount is in
// major currency units; it is converted to minor units at the service
// boundary.
type CreateIntentRequest struct {
	Amount   int64  `json:"amount" validate:"required,gt=0"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

// ItemPayload is one checkout line item.
type ItemPayload struct {
	ProductID      string `json:"product_id" validate:"required"`
	Name           string `json:"name" validate:"required"`
	Quantity       int    `json:"quantity" validate:"required,gt=0"`
	UnitPriceMinor int64  `json:"unit_price_minor" validate:"required,gt=0"`
}

// AddressPayload is the checkout shipping address.
type AddressPayload struct {
	Name       string `json:"name" validate:"required"`
	Phone      string `json:"phone" validate:"required"`
	Street     string `json:"street" validate:"required"`
	City       string `json:"city" validate:"required"`
	State      string `json:"state" validate:"required"`
	PostalCode string `json:"postal_code" validate:"required"`
}

// OrderPayload is the full client-supplied order content.
type OrderPayload struct {
	Items       []ItemPayload  `json:"items" validate:"required,min=1,dive"`
	Address     AddressPayload `json:"address" validate:"required"`
	AmountMinor int64          `json:"amount_minor" validate:"required,gt=0"`
	Currency    string         `json:"currency"`
}

// VerifyRequest is the body for online payment verification.
type VerifyRequest struct {
	GatewayOrderID string       `json:"gateway_order_id" validate:"required"`
	PaymentID      string       `json:"payment_id" validate:"required"`
	Signature      string       `json:"signature" validate:"required"`
	Order          OrderPayload `json:"order" validate:"required"`
}

// HandleCreateIntent creates a payment intent with the gateway.
func (h *PaymentHandler) HandleCreateIntent(c *fiber.Ctx) error {
	var req CreateIntentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Invalid request body",
			"error":   err.Error(),
		})
	}
	if err := h.validate.Struct(req); err != nil {
		return validationResponse(c, err)
	}

	intent, err := h.service.CreatePaymentIntent(c.Context(), req.Amount, req.Currency, req.Receipt)
	if err != nil {
		h.log.Error("payment intent creation failed", zap.Error(err))
		return c.Status(apperrors.HTTPStatus(err)).JSON(fiber.Map{
			"message": "Could not create payment intent",
			"error":   err.Error(),
		})
	}
	return c.JSON(intent)
}

// HandleVerify verifies an online payment and places the order.
func (h *PaymentHandler) HandleVerify(c *fiber.Ctx) error {
	var req VerifyRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Invalid request body",
			"error":   err.Error(),
		})
	}
	if err := h.validate.Struct(req); err != nil {
		return validationResponse(c, err)
	}

	userID, _ := c.Locals("user_id").(string)
	order, err := h.service.VerifyAndPlace(c.Context(), req.GatewayOrderID, req.PaymentID, req.Signature, checkoutPayload(userID, req.Order))
	if err != nil {
		h.log.Warn("payment verification failed",
			zap.String("gateway_order_id", req.GatewayOrderID), zap.Error(err))
		return c.Status(apperrors.HTTPStatus(err)).JSON(fiber.Map{
			"message": "Payment verification failed",
			"error":   err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"orderId": order.OrderID,
	})
}

// HandleCOD places a cash-on-delivery order. No signature is involved.
func (h *PaymentHandler) HandleCOD(c *fiber.Ctx) error {
	var req OrderPayload
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Invalid request body",
			"error":   err.Error(),
		})
	}
	if err := h.validate.Struct(req); err != nil {
		return validationResponse(c, err)
	}

	userID, _ := c.Locals("user_id").(string)
	order, err := h.service.PlaceCODOrder(c.Context(), checkoutPayload(userID, req))
	if err != nil {
		h.log.Error("cod order placement failed", zap.Error(err))
		return c.Status(apperrors.HTTPStatus(err)).JSON(fiber.Map{
			"message": "Could not place order",
			"error":   err.Error(),
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"orderId": order.OrderID,
	})
}

func checkoutPayload(userID string, p OrderPayload) services.CheckoutPayload {
	items := make([]models.OrderItem, 0, len(p.Items))
	for _, it := range p.Items {
		items = append(items, models.OrderItem{
			ProductID:      it.ProductID,
			Name:           it.Name,
			Quantity:       it.Quantity,
			UnitPriceMinor: it.UnitPriceMinor,
		})
	}
	return services.CheckoutPayload{
		UserID: userID,
		Items:  items,
		Address: models.ShippingAddress{
			Name:       p.Address.Name,
			Phone:      p.Address.Phone,
			Street:     p.Address.Street,
			City:       p.Address.City,
			State:      p.Address.State,
			PostalCode: p.Address.PostalCode,
		},
		AmountMinor: p.AmountMinor,
		Currency:    p.Currency,
	}
}

// validationResponse renders validator errors the same way across handlers.
func validationResponse(c *fiber.Ctx, err error) error {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Validation failed",
			"error":   err.Error(),
		})
	}
	errorMessages := make(map[string]string)
	for _, e := range validationErrors {
		errorMessages[e.Field()] = fmt.Sprintf("Field '%s' failed on the '%s' tag", e.Field(), e.Tag())
	}
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"message": "Validation failed",
		"errors":  errorMessages,
	})
}
