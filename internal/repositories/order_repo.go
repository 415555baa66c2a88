package repositories

import (
	"kirana/internal/models"
)

// OrderRepository is the durable store for the Order aggregate — the single
// source of truth for order state.
//
// Find* methods return (nil, nil) when no order matches; GetByOrderID returns
// an apperrors.NotFoundError. Update applies mutate inside a single
// transaction keyed by the external order id, so concurrent writers (a
// cancellation racing a carrier webhook) cannot lose updates within one
// logical mutation.
type OrderRepository interface {
	Create(order *models.Order) error
	GetByOrderID(orderID string) (*models.Order, error)
	ListByUser(userID string) ([]models.Order, error)
	FindByPaymentID(paymentID string) (*models.Order, error)
	FindByCarrierRef(waybill, carrierOrderID string) (*models.Order, error)
	Update(orderID string, mutate func(*models.Order) error) error
}

// ReturnRepository stores return requests, which live independently of the
// orders they reference.
type ReturnRepository interface {
	Create(ret *models.Return) error
	GetByID(id string) (*models.Return, error)
	ListByUser(userID string) ([]models.Return, error)
	Update(ret *models.Return) error
}
