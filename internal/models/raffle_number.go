package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type NumberStatus string

const (
	NumberAvailable NumberStatus = "available"
	NumberReserved  NumberStatus = "reserved"
	NumberSold      NumberStatus = "sold"
)

// RaffleNumber is one sellable numbered ticket of a product. UserID and
// OrderID are set while the number is reserved or sold and cleared when it
// returns to available.
type RaffleNumber struct {
	ID        uuid.UUID    `gorm:"type:uuid;primary_key" json:"id"`
	ProductID uuid.UUID    `gorm:"type:uuid;not null;uniqueIndex:idx_product_value" json:"product_id"`
	Value     int          `gorm:"not null;uniqueIndex:idx_product_value" json:"value"`
	Status    NumberStatus `gorm:"not null;default:'available';index" json:"status"`

	UserID     *uuid.UUID `gorm:"type:uuid;index" json:"user_id,omitempty"`
	OrderID    *uuid.UUID `gorm:"type:uuid;index" json:"order_id,omitempty"`
	ReservedAt *time.Time `json:"reserved_at,omitempty"`

	Product *Product `json:"-"`

	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

func (number *RaffleNumber) BeforeCreate(tx *gorm.DB) (err error) {
	if number.ID == uuid.Nil {
		number.ID = uuid.New()
	}
	return
}

// AvailableFor reports whether the number can be claimed by the given order.
// A number the order already holds counts as available so re-running a
// selection is idempotent.
func (n *RaffleNumber) AvailableFor(orderID uuid.UUID) bool {
	if n.Status == NumberAvailable {
		return true
	}
	return n.Status == NumberReserved && n.OrderID != nil && *n.OrderID == orderID
}
