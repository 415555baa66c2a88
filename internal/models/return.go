package models

import "time"

// ReturnStatus is the state of a return request, independent of the order's
// own lifecycle.
type ReturnStatus string

const (
	ReturnPending  ReturnStatus = "Pending"
	ReturnApproved ReturnStatus = "Approved"
	ReturnRejected ReturnStatus = "Rejected"
)

// Return is a customer's request to send an order back. It references the
// order by its external identifier and carries its own status.
type Return struct {
	ID        string       `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OrderID   string       `json:"order_id" gorm:"index;type:varchar(64)"`
	UserID    string       `json:"user_id" gorm:"index;type:varchar(36)"`
	Reason    string       `json:"reason" gorm:"type:varchar(500)"`
	Status    ReturnStatus `json:"status" gorm:"type:varchar(16)"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}
