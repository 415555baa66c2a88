package handlers

import (
	"kirana/internal/models"
	"kirana/internal/services"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

// ProductHandler handles HTTP requests for the catalog.
type ProductHandler struct {
	service  *services.ProductService
	validate *validator.Validate
}

// NewProductHandler creates a new ProductHandler.
func NewProductHandler(service *services.ProductService) *ProductHandler {
	return &ProductHandler{
		service:  service,
		validate: validator.New(),
	}
}

// RegisterRoutes registers the product routes with the Fiber app. Writes are
// admin-only.
func (h *ProductHandler) RegisterRoutes(router fiber.Router, adminOnly fiber.Handler) {
	productRoutes := router.Group("/products")
	productRoutes.Get("/", h.HandleGetProducts)
	productRoutes.Get("/:id", h.HandleGetProductByID)
	productRoutes.Post("/", adminOnly, h.HandleCreateProduct)
	productRoutes.Put("/:id", adminOnly, h.HandleUpdateProduct)
	productRoutes.Delete("/:id", adminOnly, h.HandleDeleteProduct)
}

// HandleGetProducts retrieves all products.
func (h *ProductHandler) HandleGetProducts(c *fiber.Ctx) error {
	products, err := h.service.GetAllProducts()
	if err != nil {
		return errorResponse(c, err, "Could not retrieve products")
	}
	return c.JSON(products)
}

// HandleGetProductByID retrieves a single product by its ID.
func (h *ProductHandler) HandleGetProductByID(c *fiber.Ctx) error {
	product, err := h.service.GetProductByID(c.Params("id"))
	if err != nil {
		return errorResponse(c, err, "Could not retrieve product")
	}
	return c.JSON(product)
}

// HandleCreateProduct creates a new catalog item.
func (h *ProductHandler) HandleCreateProduct(c *fiber.Ctx) error {
	var product models.Product
	if err := c.BodyParser(&product); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Invalid request body",
			"error":   err.Error(),
		})
	}
	if err := h.validate.Struct(product); err != nil {
		return validationResponse(c, err)
	}

	if err := h.service.CreateProduct(&product); err != nil {
		return errorResponse(c, err, "Could not create product")
	}
	return c.Status(fiber.StatusCreated).JSON(product)
}

// HandleUpdateProduct updates an existing catalog item.
func (h *ProductHandler) HandleUpdateProduct(c *fiber.Ctx) error {
	var product models.Product
	if err := c.BodyParser(&product); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Invalid request body",
			"error":   err.Error(),
		})
	}
	product.ID = c.Params("id")
	if err := h.validate.Struct(product); err != nil {
		return validationResponse(c, err)
	}

	if err := h.service.UpdateProduct(&product); err != nil {
		return errorResponse(c, err, "Could not update product")
	}
	return c.JSON(product)
}

// HandleDeleteProduct deletes a catalog item.
func (h *ProductHandler) HandleDeleteProduct(c *fiber.Ctx) error {
	if err := h.service.DeleteProduct(c.Params("id")); err != nil {
		return errorResponse(c, err, "Could not delete product")
	}
	return c.JSON(fiber.Map{
		"message": "Product deleted",
	})
}
