package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ProductStatus string

const (
	ProductUpcoming  ProductStatus = "upcoming"
	ProductActive    ProductStatus = "active"
	ProductDrawn     ProductStatus = "drawn"
	ProductCancelled ProductStatus = "cancelled"
)

type Product struct {
	ID             uuid.UUID     `gorm:"type:uuid;primary_key" json:"id"`
	Name           string        `gorm:"not null" json:"name"`
	Description    string        `json:"description"`
	PricePerNumber float64       `gorm:"not null" json:"price_per_number"`
	TotalNumbers   int           `gorm:"not null" json:"total_numbers"`
	Status         ProductStatus `gorm:"not null;default:'upcoming'" json:"status"`
	BannerPath     string        `json:"banner_path,omitempty"`

	WinningNumber *int       `json:"winning_number,omitempty"`
	WinnerUserID  *uuid.UUID `gorm:"type:uuid" json:"winner_user_id,omitempty"`

	DiscountMinQuantity *int     `json:"discount_min_quantity,omitempty"`
	DiscountPercentage  *float64 `json:"discount_percentage,omitempty"`

	Numbers []RaffleNumber `json:"-"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (product *Product) BeforeCreate(tx *gorm.DB) (err error) {
	if product.ID == uuid.Nil {
		product.ID = uuid.New()
	}
	return
}

// NumberCount is the amount of sellable numbers. The valid range is
// 0..TotalNumbers inclusive.
func (p *Product) NumberCount() int {
	return p.TotalNumbers + 1
}

func (p *Product) InRange(value int) bool {
	return value >= 0 && value <= p.TotalNumbers
}

// Total prices a selection of count numbers, applying the volume
// discount when the selection qualifies.
func (p *Product) Total(count int) float64 {
	total := float64(count) * p.PricePerNumber
	if p.DiscountMinQuantity != nil && p.DiscountPercentage != nil && count >= *p.DiscountMinQuantity {
		total *= 1 - *p.DiscountPercentage/100
	}
	return total
}
