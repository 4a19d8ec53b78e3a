package models

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderCompleted OrderStatus = "completed"
	OrderFailed    OrderStatus = "failed"
	OrderCancelled OrderStatus = "cancelled"
)

// Terminal reports whether an order can no longer change status.
func (s OrderStatus) Terminal() bool {
	return s == OrderCompleted || s == OrderFailed || s == OrderCancelled
}

// CanTransitionTo implements the order state machine: pending may move to any
// terminal state, terminal states never move again. A same-state transition
// is allowed so duplicate gateway callbacks stay harmless.
func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	if s == target {
		return true
	}
	return s == OrderPending && target.Terminal()
}

type Order struct {
	ID        uuid.UUID   `gorm:"type:uuid;primary_key" json:"id"`
	UserID    uuid.UUID   `gorm:"type:uuid;not null;index" json:"user_id"`
	ProductID uuid.UUID   `gorm:"type:uuid;not null;index" json:"product_id"`
	Status    OrderStatus `gorm:"not null;default:'pending'" json:"status"`

	TotalAmount float64 `gorm:"not null" json:"total_amount"`

	// PendingSelectedNumbers snapshots the selection before the gateway
	// preference exists, serialized as a comma-joined list.
	PendingSelectedNumbers string `json:"pending_selected_numbers,omitempty"`

	// PaymentDetails is an append-only audit trail; every external event
	// adds a line and nothing ever overwrites it.
	PaymentDetails string  `json:"payment_details,omitempty"`
	PreferenceID   *string `json:"preference_id,omitempty"`

	User    *User    `json:"user,omitempty"`
	Product *Product `json:"product,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (order *Order) BeforeCreate(tx *gorm.DB) (err error) {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	return
}

func (o *Order) SetSelectedNumbers(numbers []int) {
	parts := make([]string, 0, len(numbers))
	for _, n := range numbers {
		parts = append(parts, strconv.Itoa(n))
	}
	o.PendingSelectedNumbers = strings.Join(parts, ",")
}

func (o *Order) SelectedNumbers() []int {
	if o.PendingSelectedNumbers == "" {
		return nil
	}
	parts := strings.Split(o.PendingSelectedNumbers, ",")
	numbers := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			continue
		}
		numbers = append(numbers, n)
	}
	return numbers
}

func (o *Order) AppendPaymentDetail(line string) {
	if o.PaymentDetails == "" {
		o.PaymentDetails = line
		return
	}
	o.PaymentDetails += "\n" + line
}
