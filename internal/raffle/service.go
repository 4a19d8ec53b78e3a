package raffle

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/gmartinezc/sorteapp/internal/models"
)

// Notifier delivers a user-facing message. Implementations must be
// best-effort: the service only calls it after a transaction commits and
// never checks for failure.
type Notifier interface {
	Notify(userID uuid.UUID, message, link string)
}

// Service owns the raffle inventory and order lifecycle. All mutations run
// inside a transaction that also validates the precondition they depend on,
// with row locks on the contended rows.
type Service struct {
	db             *gorm.DB
	notifier       Notifier
	reservationTTL time.Duration
}

func NewService(db *gorm.DB, notifier Notifier, reservationTTL time.Duration) *Service {
	return &Service{db: db, notifier: notifier, reservationTTL: reservationTTL}
}

// lockForUpdate adds SELECT ... FOR UPDATE on dialects that support it.
// sqlite (used in tests) has a single writer and needs no row lock.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

type event struct {
	userID  uuid.UUID
	message string
	link    string
}

func (s *Service) dispatch(events []event) {
	if s.notifier == nil {
		return
	}
	for _, e := range events {
		s.notifier.Notify(e.userID, e.message, e.link)
	}
}

// CreateProduct stores a new raffle and bulk-creates its numbers, all
// available, covering the inclusive range 0..TotalNumbers.
func (s *Service) CreateProduct(product *models.Product) error {
	if product.TotalNumbers < 0 {
		return &ValidationError{Message: "total_numbers must not be negative"}
	}
	if product.PricePerNumber <= 0 {
		return &ValidationError{Message: "price_per_number must be positive"}
	}
	if product.DiscountPercentage != nil && (*product.DiscountPercentage < 0 || *product.DiscountPercentage > 100) {
		return &ValidationError{Message: "discount_percentage must be between 0 and 100"}
	}
	if product.Status == "" {
		product.Status = models.ProductUpcoming
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(product).Error; err != nil {
			return err
		}
		numbers := make([]models.RaffleNumber, 0, product.NumberCount())
		for v := 0; v <= product.TotalNumbers; v++ {
			numbers = append(numbers, models.RaffleNumber{
				ProductID: product.ID,
				Value:     v,
				Status:    models.NumberAvailable,
			})
		}
		return tx.CreateInBatches(numbers, 500).Error
	})
}

func (s *Service) ActivateProduct(productID uuid.UUID) (*models.Product, error) {
	var product models.Product
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := lockForUpdate(tx).Where("id = ?", productID).First(&product).Error; err != nil {
			return err
		}
		if product.Status != models.ProductUpcoming {
			return &ConflictError{
				Message: fmt.Sprintf("product cannot be activated while %s", product.Status),
				Status:  string(product.Status),
			}
		}
		product.Status = models.ProductActive
		return tx.Model(&models.Product{}).Where("id = ?", productID).
			Update("status", models.ProductActive).Error
	})
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// CancelProduct retires a raffle: pending orders are cancelled and their
// reserved numbers released. Completed orders are left untouched.
func (s *Service) CancelProduct(productID uuid.UUID) error {
	var events []event
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var product models.Product
		if err := lockForUpdate(tx).Where("id = ?", productID).First(&product).Error; err != nil {
			return err
		}
		if product.Status == models.ProductDrawn || product.Status == models.ProductCancelled {
			return &ConflictError{
				Message: fmt.Sprintf("product is already %s", product.Status),
				Status:  string(product.Status),
			}
		}
		var pending []models.Order
		if err := lockForUpdate(tx).
			Where("product_id = ? AND status = ?", productID, models.OrderPending).
			Find(&pending).Error; err != nil {
			return err
		}
		for i := range pending {
			order := &pending[i]
			order.AppendPaymentDetail("product cancelled by admin")
			if err := tx.Model(&models.Order{}).Where("id = ?", order.ID).Updates(map[string]interface{}{
				"status":          models.OrderCancelled,
				"payment_details": order.PaymentDetails,
			}).Error; err != nil {
				return err
			}
			events = append(events, event{
				userID:  order.UserID,
				message: fmt.Sprintf("The raffle %q was cancelled and your reservation was released.", product.Name),
				link:    "/orders/" + order.ID.String(),
			})
		}
		if err := tx.Model(&models.RaffleNumber{}).
			Where("product_id = ? AND status = ?", productID, models.NumberReserved).
			Updates(releaseColumns()).Error; err != nil {
			return err
		}
		return tx.Model(&models.Product{}).Where("id = ?", productID).
			Update("status", models.ProductCancelled).Error
	})
	if err != nil {
		return err
	}
	s.dispatch(events)
	return nil
}

func releaseColumns() map[string]interface{} {
	return map[string]interface{}{
		"status":      models.NumberAvailable,
		"user_id":     nil,
		"order_id":    nil,
		"reserved_at": nil,
	}
}

type ReserveResult struct {
	OrderID uuid.UUID `json:"order_id"`
	Total   float64   `json:"total"`
	Numbers []int     `json:"numbers"`
}

// Reserve locks the requested numbers to a pending order. Either every
// number is reserved or none is: any sold number or number held by another
// order rolls the transaction back with the exact conflicting values.
// Supplying an existing pending order releases its previous selection first,
// inside the same transaction.
func (s *Service) Reserve(userID, productID uuid.UUID, requested []int, existingOrderID *uuid.UUID) (*ReserveResult, error) {
	if len(requested) == 0 {
		return nil, &ValidationError{Message: "no numbers selected"}
	}
	numbers := dedupe(requested)

	var result ReserveResult
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var product models.Product
		if err := tx.Where("id = ?", productID).First(&product).Error; err != nil {
			return err
		}
		if product.Status != models.ProductActive {
			return &ConflictError{
				Message: "product is not open for sale",
				Status:  string(product.Status),
			}
		}
		for _, n := range numbers {
			if !product.InRange(n) {
				return &ValidationError{
					Message: fmt.Sprintf("number %d is outside the valid range 0..%d", n, product.TotalNumbers),
				}
			}
		}

		var order models.Order
		reusing := existingOrderID != nil
		if reusing {
			if err := lockForUpdate(tx).Where("id = ?", *existingOrderID).First(&order).Error; err != nil {
				if err == gorm.ErrRecordNotFound {
					return &ValidationError{Message: "order not found"}
				}
				return err
			}
			if order.UserID != userID {
				return &AuthError{Message: "order belongs to another user"}
			}
			if order.ProductID != productID {
				return &ValidationError{Message: "order belongs to another product"}
			}
			if order.Status != models.OrderPending {
				return &ConflictError{
					Message: fmt.Sprintf("order is already %s", order.Status),
					Status:  string(order.Status),
				}
			}
			// Release the previous selection before locking the new one so
			// re-selecting a number the order already holds is never a
			// conflict.
			if err := tx.Model(&models.RaffleNumber{}).
				Where("order_id = ? AND status = ?", order.ID, models.NumberReserved).
				Updates(releaseColumns()).Error; err != nil {
				return err
			}
		}

		var rows []models.RaffleNumber
		if err := lockForUpdate(tx).
			Where("product_id = ? AND value IN ?", productID, numbers).
			Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) != len(numbers) {
			return &ValidationError{Message: "one or more numbers do not exist for this product"}
		}

		var conflicts []int
		for _, row := range rows {
			if !row.AvailableFor(order.ID) {
				conflicts = append(conflicts, row.Value)
			}
		}
		if len(conflicts) > 0 {
			return newConflict("numbers are not available", conflicts)
		}

		total := product.Total(len(numbers))
		if reusing {
			order.TotalAmount = total
			order.SetSelectedNumbers(numbers)
			if err := tx.Model(&models.Order{}).Where("id = ?", order.ID).Updates(map[string]interface{}{
				"total_amount":             total,
				"pending_selected_numbers": order.PendingSelectedNumbers,
			}).Error; err != nil {
				return err
			}
		} else {
			order = models.Order{
				UserID:      userID,
				ProductID:   productID,
				Status:      models.OrderPending,
				TotalAmount: total,
			}
			order.SetSelectedNumbers(numbers)
			if err := tx.Create(&order).Error; err != nil {
				return err
			}
		}

		now := time.Now()
		if err := tx.Model(&models.RaffleNumber{}).
			Where("product_id = ? AND value IN ?", productID, numbers).
			Updates(map[string]interface{}{
				"status":      models.NumberReserved,
				"user_id":     userID,
				"order_id":    order.ID,
				"reserved_at": now,
			}).Error; err != nil {
			return err
		}

		result = ReserveResult{OrderID: order.ID, Total: total, Numbers: numbers}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// AttachPreference records the gateway checkout preference on a pending
// order's audit trail.
func (s *Service) AttachPreference(orderID uuid.UUID, preferenceID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var order models.Order
		if err := lockForUpdate(tx).Where("id = ?", orderID).First(&order).Error; err != nil {
			return err
		}
		if order.Status != models.OrderPending {
			return &ConflictError{
				Message: fmt.Sprintf("order is already %s", order.Status),
				Status:  string(order.Status),
			}
		}
		order.AppendPaymentDetail("gateway preference created: " + preferenceID)
		return tx.Model(&models.Order{}).Where("id = ?", order.ID).Updates(map[string]interface{}{
			"preference_id":   preferenceID,
			"payment_details": order.PaymentDetails,
		}).Error
	})
}

// TransitionOrder applies one step of the order state machine under a row
// lock on the order. Moving into completed flips the order's reserved
// numbers to sold; failed and cancelled release them. Re-applying the state
// the order is already in is a no-op, so duplicate webhook deliveries and a
// racing user finalize never re-run side effects.
func (s *Service) TransitionOrder(orderID uuid.UUID, target models.OrderStatus, detail string) error {
	var events []event
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var order models.Order
		if err := lockForUpdate(tx).Where("id = ?", orderID).First(&order).Error; err != nil {
			return err
		}
		if order.Status == target {
			return nil
		}
		if !order.Status.CanTransitionTo(target) {
			return &ConflictError{
				Message: fmt.Sprintf("order is already %s", order.Status),
				Status:  string(order.Status),
			}
		}
		if target == models.OrderPending {
			return nil
		}

		var values []int
		if err := tx.Model(&models.RaffleNumber{}).
			Where("order_id = ? AND status = ?", order.ID, models.NumberReserved).
			Order("value").
			Pluck("value", &values).Error; err != nil {
			return err
		}

		order.AppendPaymentDetail(detail)
		if err := tx.Model(&models.Order{}).Where("id = ?", order.ID).Updates(map[string]interface{}{
			"status":          target,
			"payment_details": order.PaymentDetails,
		}).Error; err != nil {
			return err
		}

		switch target {
		case models.OrderCompleted:
			if err := tx.Model(&models.RaffleNumber{}).
				Where("order_id = ? AND status = ?", order.ID, models.NumberReserved).
				Update("status", models.NumberSold).Error; err != nil {
				return err
			}
			events = append(events, event{
				userID:  order.UserID,
				message: fmt.Sprintf("Payment confirmed. Numbers %v are yours.", values),
				link:    "/orders/" + order.ID.String(),
			})
		case models.OrderFailed, models.OrderCancelled:
			if err := tx.Model(&models.RaffleNumber{}).
				Where("order_id = ? AND status = ?", order.ID, models.NumberReserved).
				Updates(releaseColumns()).Error; err != nil {
				return err
			}
			events = append(events, event{
				userID:  order.UserID,
				message: fmt.Sprintf("Your order was %s and numbers %v were released.", target, values),
				link:    "/orders/" + order.ID.String(),
			})
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.dispatch(events)
	return nil
}

// PaymentLookup is the slice of the payment provider the finalize path
// needs: resolve a payment id into its status and external reference.
type PaymentLookup interface {
	GetPayment(id string) (*ProviderPayment, error)
}

// ProviderPayment is the provider's view of a payment. ExternalReference
// carries the internal order id the payment was created for.
type ProviderPayment struct {
	ID                string
	Status            string
	ExternalReference string
}

// FinalizeAsUser reconciles an order after the buyer returns from the
// gateway redirect. It reaches the same outcome as the webhook: the
// provider's status is authoritative and an order that is already completed
// is a harmless no-op.
func (s *Service) FinalizeAsUser(userID, orderID uuid.UUID, paymentID string, provider PaymentLookup) (models.OrderStatus, error) {
	var order models.Order
	if err := s.db.Where("id = ?", orderID).First(&order).Error; err != nil {
		return "", err
	}
	if order.UserID != userID {
		return "", &AuthError{Message: "order belongs to another user"}
	}
	if order.Status == models.OrderCompleted {
		return order.Status, nil
	}
	if order.Status != models.OrderPending {
		return "", &ConflictError{
			Message: fmt.Sprintf("order is already %s", order.Status),
			Status:  string(order.Status),
		}
	}

	p, err := provider.GetPayment(paymentID)
	if err != nil {
		return "", fmt.Errorf("looking up payment %s: %w", paymentID, err)
	}
	if p.ExternalReference != orderID.String() {
		return "", &ValidationError{Message: "payment does not reference this order"}
	}
	target, known := MapProviderStatus(p.Status)
	if !known || target == models.OrderPending {
		return models.OrderPending, nil
	}
	detail := fmt.Sprintf("user finalize: gateway payment %s reported %s", p.ID, p.Status)
	if err := s.TransitionOrder(orderID, target, detail); err != nil {
		return "", err
	}
	return target, nil
}

// MapProviderStatus maps a gateway payment status onto the order state
// machine. Unknown statuses are treated like pending and applied as no-ops.
func MapProviderStatus(providerStatus string) (models.OrderStatus, bool) {
	switch providerStatus {
	case "approved":
		return models.OrderCompleted, true
	case "rejected", "cancelled", "refunded", "charged_back":
		return models.OrderFailed, true
	case "pending", "in_process", "authorized":
		return models.OrderPending, true
	default:
		return "", false
	}
}

type DrawResult struct {
	WinningNumber int       `json:"winning_number"`
	WinnerUserID  uuid.UUID `json:"winner_user_id"`
}

// Draw picks the winning number once every number of the product is sold.
// The product row stays locked from the precondition checks through the
// status flip, so a draw can never run twice.
func (s *Service) Draw(productID uuid.UUID) (*DrawResult, error) {
	var result DrawResult
	var events []event
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var product models.Product
		if err := lockForUpdate(tx).Where("id = ?", productID).First(&product).Error; err != nil {
			return err
		}
		if product.Status != models.ProductActive {
			return &ConflictError{
				Message: fmt.Sprintf("product is %s, not active", product.Status),
				Status:  string(product.Status),
			}
		}
		var sold []models.RaffleNumber
		if err := tx.
			Where("product_id = ? AND status = ?", productID, models.NumberSold).
			Find(&sold).Error; err != nil {
			return err
		}
		if len(sold) != product.NumberCount() {
			return &ConflictError{
				Message: fmt.Sprintf("only %d of %d numbers sold", len(sold), product.NumberCount()),
			}
		}

		winner := sold[rand.Intn(len(sold))]
		if err := tx.Model(&models.Product{}).Where("id = ?", productID).Updates(map[string]interface{}{
			"status":         models.ProductDrawn,
			"winning_number": winner.Value,
			"winner_user_id": *winner.UserID,
		}).Error; err != nil {
			return err
		}
		result = DrawResult{WinningNumber: winner.Value, WinnerUserID: *winner.UserID}
		events = append(events, event{
			userID:  *winner.UserID,
			message: fmt.Sprintf("Congratulations! Number %d won the raffle %q.", winner.Value, product.Name),
			link:    "/products/" + productID.String(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.dispatch(events)
	return &result, nil
}

// ReleaseExpiredReservations cancels pending orders whose reservations are
// older than the configured window, freeing their numbers through the same
// release path as an explicit failure. Returns how many orders were
// cancelled.
func (s *Service) ReleaseExpiredReservations(now time.Time) (int, error) {
	cutoff := now.Add(-s.reservationTTL)
	var orderIDs []uuid.UUID
	if err := s.db.Model(&models.RaffleNumber{}).
		Distinct("order_id").
		Where("status = ? AND reserved_at < ?", models.NumberReserved, cutoff).
		Pluck("order_id", &orderIDs).Error; err != nil {
		return 0, err
	}
	released := 0
	for _, id := range orderIDs {
		detail := "reservation expired at " + now.UTC().Format(time.RFC3339)
		if err := s.TransitionOrder(id, models.OrderCancelled, detail); err != nil {
			// A webhook may have completed the order between the scan and
			// the lock; that is not a sweep failure.
			if _, ok := err.(*ConflictError); ok {
				continue
			}
			return released, err
		}
		released++
	}
	return released, nil
}

func dedupe(values []int) []int {
	seen := make(map[int]struct{}, len(values))
	out := make([]int, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
