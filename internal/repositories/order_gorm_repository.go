package repositories

import (
	"errors"
	"fmt"

	"kirana/internal/apperrors"
	"kirana/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GORMOrderRepository is a GORM implementation of OrderRepository.
type GORMOrderRepository struct {
	db *gorm.DB
}

// NewGORMOrderRepository creates a new instance of GORMOrderRepository.
func NewGORMOrderRepository(db *gorm.DB) *GORMOrderRepository {
	return &GORMOrderRepository{
		db: db,
	}
}

// Create persists a new order. The partial unique index on payment_id makes
// a duplicate gateway payment fail here even if two verify calls race past
// the lookup.
func (r *GORMOrderRepository) Create(order *models.Order) error {
	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	if err := r.db.Create(order).Error; err != nil {
		return apperrors.Persistence("order create", err)
	}
	return nil
}

// GetByOrderID retrieves an order by its external identifier.
func (r *GORMOrderRepository) GetByOrderID(orderID string) (*models.Order, error) {
	var order models.Order
	if err := r.db.First(&order, "order_id = ?", orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("order", orderID)
		}
		return nil, apperrors.Persistence("order lookup", err)
	}
	return &order, nil
}

// ListByUser retrieves a user's orders, newest first.
func (r *GORMOrderRepository) ListByUser(userID string) ([]models.Order, error) {
	var orders []models.Order
	if err := r.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&orders).Error; err != nil {
		return nil, apperrors.Persistence("order list", err)
	}
	return orders, nil
}

// FindByPaymentID looks an order up by gateway payment id. Returns (nil, nil)
// when no order matches, which is how the verify path asks "seen before?".
func (r *GORMOrderRepository) FindByPaymentID(paymentID string) (*models.Order, error) {
	if paymentID == "" {
		return nil, nil
	}
	var order models.Order
	err := r.db.First(&order, "payment_id = ?", paymentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Persistence("order lookup by payment", err)
	}
	return &order, nil
}

// FindByCarrierRef looks an order up by waybill code or carrier order id.
// Returns (nil, nil) when neither matches; webhook delivery treats that as
// accept-and-discard.
func (r *GORMOrderRepository) FindByCarrierRef(waybill, carrierOrderID string) (*models.Order, error) {
	var order models.Order
	q := r.db
	switch {
	case waybill != "" && carrierOrderID != "":
		q = q.Where("waybill_code = ? OR carrier_order_id = ?", waybill, carrierOrderID)
	case waybill != "":
		q = q.Where("waybill_code = ?", waybill)
	case carrierOrderID != "":
		q = q.Where("carrier_order_id = ?", carrierOrderID)
	default:
		return nil, nil
	}
	err := q.First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Persistence("order lookup by carrier ref", err)
	}
	return &order, nil
}

// Update loads the order, applies mutate, and saves it, all inside one
// transaction so the whole read-modify-write commits as a single document
// update. A mutate error aborts the transaction and is returned as-is.
func (r *GORMOrderRepository) Update(orderID string, mutate func(*models.Order) error) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var order models.Order
		if err := tx.First(&order, "order_id = ?", orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.NotFound("order", orderID)
			}
			return fmt.Errorf("load order %s: %w", orderID, err)
		}
		if err := mutate(&order); err != nil {
			return err
		}
		if err := tx.Save(&order).Error; err != nil {
			return fmt.Errorf("save order %s: %w", orderID, err)
		}
		return nil
	})
	if err == nil {
		return nil
	}
	var nf *apperrors.NotFoundError
	var conflict *apperrors.ConflictError
	if errors.As(err, &nf) || errors.As(err, &conflict) {
		return err
	}
	return apperrors.Persistence("order update", err)
}

// GORMReturnRepository is a GORM implementation of ReturnRepository.
type GORMReturnRepository struct {
	db *gorm.DB
}

// NewGORMReturnRepository creates a new instance of GORMReturnRepository.
func NewGORMReturnRepository(db *gorm.DB) *GORMReturnRepository {
	return &GORMReturnRepository{
		db: db,
	}
}

// Create persists a new return request.
func (r *GORMReturnRepository) Create(ret *models.Return) error {
	if ret.ID == "" {
		ret.ID = uuid.New().String()
	}
	if err := r.db.Create(ret).Error; err != nil {
		return apperrors.Persistence("return create", err)
	}
	return nil
}

// GetByID retrieves a return request by its ID.
func (r *GORMReturnRepository) GetByID(id string) (*models.Return, error) {
	var ret models.Return
	if err := r.db.First(&ret, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("return", id)
		}
		return nil, apperrors.Persistence("return lookup", err)
	}
	return &ret, nil
}

// ListByUser retrieves a user's return requests, newest first.
func (r *GORMReturnRepository) ListByUser(userID string) ([]models.Return, error) {
	var rets []models.Return
	if err := r.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&rets).Error; err != nil {
		return nil, apperrors.Persistence("return list", err)
	}
	return rets, nil
}

// Update saves a modified return request.
func (r *GORMReturnRepository) Update(ret *models.Return) error {
	res := r.db.Save(ret)
	if res.Error != nil {
		return apperrors.Persistence("return update", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFound("return", ret.ID)
	}
	return nil
}
