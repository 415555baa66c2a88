package repositories

import (
	"sync"
	"time"

	"kirana/internal/apperrors"
	"kirana/internal/models"

	"github.com/google/uuid"
)

// MockOrderRepository is an in-memory implementation of OrderRepository.
// Mutations hold the write lock for the whole read-modify-write, mirroring
// the transactional behavior of the GORM implementation.
type MockOrderRepository struct {
	orders map[string]models.Order // keyed by external order id
	mu     sync.RWMutex
}

// NewMockOrderRepository creates a new instance of MockOrderRepository.
func NewMockOrderRepository() *MockOrderRepository {
	return &MockOrderRepository{
		orders: make(map[string]models.Order),
	}
}

// Create adds a new order, enforcing payment-id uniqueness like the partial
// index in the GORM implementation.
func (r *MockOrderRepository) Create(order *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	if order.PaymentID != "" {
		for _, o := range r.orders {
			if o.PaymentID == order.PaymentID {
				return apperrors.Conflictf("payment %s already has an order", order.PaymentID)
			}
		}
	}
	order.CreatedAt = time.Now()
	order.UpdatedAt = time.Now()
	r.orders[order.OrderID] = *order
	return nil
}

// GetByOrderID returns an order by its external identifier.
func (r *MockOrderRepository) GetByOrderID(orderID string) (*models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[orderID]
	if !ok {
		return nil, apperrors.NotFound("order", orderID)
	}
	return &order, nil
}

// ListByUser returns a user's orders, newest first.
func (r *MockOrderRepository) ListByUser(userID string) ([]models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.Order
	for _, o := range r.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].CreatedAt.After(out[i].CreatedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

// FindByPaymentID returns the order for a gateway payment id, or (nil, nil).
func (r *MockOrderRepository) FindByPaymentID(paymentID string) (*models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if paymentID == "" {
		return nil, nil
	}
	for _, o := range r.orders {
		if o.PaymentID == paymentID {
			order := o
			return &order, nil
		}
	}
	return nil, nil
}

// FindByCarrierRef returns the order matching a waybill code or carrier order
// id, or (nil, nil).
func (r *MockOrderRepository) FindByCarrierRef(waybill, carrierOrderID string) (*models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, o := range r.orders {
		if (waybill != "" && o.WaybillCode == waybill) ||
			(carrierOrderID != "" && o.CarrierOrderID == carrierOrderID) {
			order := o
			return &order, nil
		}
	}
	return nil, nil
}

// Update applies mutate to the stored order under the write lock.
func (r *MockOrderRepository) Update(orderID string, mutate func(*models.Order) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[orderID]
	if !ok {
		return apperrors.NotFound("order", orderID)
	}
	if err := mutate(&order); err != nil {
		return err
	}
	order.UpdatedAt = time.Now()
	r.orders[orderID] = order
	return nil
}
