package raffle

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/gmartinezc/sorteapp/internal/models"
	"github.com/gmartinezc/sorteapp/internal/notify"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Role{},
		&models.User{},
		&models.Product{},
		&models.RaffleNumber{},
		&models.Order{},
		&models.Notification{},
	))
	return db
}

func newTestService(t *testing.T, db *gorm.DB) *Service {
	t.Helper()
	return NewService(db, notify.NewNotifier(db, nil, ""), 30*time.Minute)
}

func createTestUser(t *testing.T, db *gorm.DB, email string) models.User {
	t.Helper()
	user := models.User{Name: "Test User", Email: email, Password: "hashed"}
	require.NoError(t, db.Create(&user).Error)
	return user
}

func createActiveProduct(t *testing.T, svc *Service, totalNumbers int, price float64) models.Product {
	t.Helper()
	product := models.Product{
		Name:           "Test Raffle",
		PricePerNumber: price,
		TotalNumbers:   totalNumbers,
	}
	require.NoError(t, svc.CreateProduct(&product))
	activated, err := svc.ActivateProduct(product.ID)
	require.NoError(t, err)
	return *activated
}

func numberByValue(t *testing.T, db *gorm.DB, productID uuid.UUID, value int) models.RaffleNumber {
	t.Helper()
	var number models.RaffleNumber
	require.NoError(t, db.Where("product_id = ? AND value = ?", productID, value).First(&number).Error)
	return number
}

func TestCreateProductSeedsInclusiveRange(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)

	product := models.Product{Name: "Raffle", PricePerNumber: 10, TotalNumbers: 9}
	require.NoError(t, svc.CreateProduct(&product))

	var count int64
	require.NoError(t, db.Model(&models.RaffleNumber{}).Where("product_id = ?", product.ID).Count(&count).Error)
	assert.EqualValues(t, 10, count)

	first := numberByValue(t, db, product.ID, 0)
	last := numberByValue(t, db, product.ID, 9)
	assert.Equal(t, models.NumberAvailable, first.Status)
	assert.Equal(t, models.NumberAvailable, last.Status)
	assert.Nil(t, first.UserID)
}

func TestReserveRequiresActiveProduct(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	user := createTestUser(t, db, "buyer@example.com")

	product := models.Product{Name: "Raffle", PricePerNumber: 10, TotalNumbers: 9}
	require.NoError(t, svc.CreateProduct(&product))

	_, err := svc.Reserve(user.ID, product.ID, []int{1}, nil)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, string(models.ProductUpcoming), conflict.Status)
}

func TestReserveRejectsOutOfRangeNumbers(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	user := createTestUser(t, db, "buyer@example.com")
	product := createActiveProduct(t, svc, 9, 10)

	_, err := svc.Reserve(user.ID, product.ID, []int{1, 10}, nil)
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)

	// Nothing was locked.
	number := numberByValue(t, db, product.ID, 1)
	assert.Equal(t, models.NumberAvailable, number.Status)
}

func TestReserveLocksNumbersToPendingOrder(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	user := createTestUser(t, db, "buyer@example.com")
	product := createActiveProduct(t, svc, 9, 10)

	result, err := svc.Reserve(user.ID, product.ID, []int{1, 2, 3}, nil)
	require.NoError(t, err)
	assert.InDelta(t, 30.0, result.Total, 1e-9)
	assert.Equal(t, []int{1, 2, 3}, result.Numbers)

	var order models.Order
	require.NoError(t, db.Where("id = ?", result.OrderID).First(&order).Error)
	assert.Equal(t, models.OrderPending, order.Status)
	assert.Equal(t, []int{1, 2, 3}, order.SelectedNumbers())

	number := numberByValue(t, db, product.ID, 2)
	assert.Equal(t, models.NumberReserved, number.Status)
	require.NotNil(t, number.UserID)
	assert.Equal(t, user.ID, *number.UserID)
	require.NotNil(t, number.OrderID)
	assert.Equal(t, order.ID, *number.OrderID)
	assert.NotNil(t, number.ReservedAt)
}

func TestReserveAppliesVolumeDiscount(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	user := createTestUser(t, db, "buyer@example.com")

	minQty := 5
	percentage := 10.0
	product := models.Product{
		Name:                "Discounted Raffle",
		PricePerNumber:      10,
		TotalNumbers:        99,
		DiscountMinQuantity: &minQty,
		DiscountPercentage:  &percentage,
	}
	require.NoError(t, svc.CreateProduct(&product))
	_, err := svc.ActivateProduct(product.ID)
	require.NoError(t, err)

	below, err := svc.Reserve(user.ID, product.ID, []int{1, 2, 3, 4}, nil)
	require.NoError(t, err)
	assert.InDelta(t, 40.0, below.Total, 1e-9)

	other := createTestUser(t, db, "other@example.com")
	qualifying, err := svc.Reserve(other.ID, product.ID, []int{10, 11, 12, 13, 14}, nil)
	require.NoError(t, err)
	assert.InDelta(t, 45.0, qualifying.Total, 1e-9)
}

func TestReserveReportsExactConflicts(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	alice := createTestUser(t, db, "alice@example.com")
	bob := createTestUser(t, db, "bob@example.com")
	product := createActiveProduct(t, svc, 9, 10)

	// Alice buys number 2 outright.
	aliceOrder, err := svc.Reserve(alice.ID, product.ID, []int{2}, nil)
	require.NoError(t, err)
	require.NoError(t, svc.TransitionOrder(aliceOrder.OrderID, models.OrderCompleted, "test"))

	_, err = svc.Reserve(bob.ID, product.ID, []int{1, 2, 3}, nil)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []int{2}, conflict.Numbers)

	// The non-conflicting numbers were not partially reserved.
	assert.Equal(t, models.NumberAvailable, numberByValue(t, db, product.ID, 1).Status)
	assert.Equal(t, models.NumberAvailable, numberByValue(t, db, product.ID, 3).Status)
}

func TestReserveConflictsWithOtherReservation(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	alice := createTestUser(t, db, "alice@example.com")
	bob := createTestUser(t, db, "bob@example.com")
	product := createActiveProduct(t, svc, 9, 10)

	_, err := svc.Reserve(alice.ID, product.ID, []int{5}, nil)
	require.NoError(t, err)

	_, err = svc.Reserve(bob.ID, product.ID, []int{5}, nil)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []int{5}, conflict.Numbers)
}

func TestReserveReusesPendingOrder(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	user := createTestUser(t, db, "buyer@example.com")
	product := createActiveProduct(t, svc, 9, 10)

	first, err := svc.Reserve(user.ID, product.ID, []int{1, 2}, nil)
	require.NoError(t, err)

	// Revised selection keeps 2, drops 1, adds 3. Re-selecting 2 must not
	// conflict with the order's own reservation.
	second, err := svc.Reserve(user.ID, product.ID, []int{2, 3}, &first.OrderID)
	require.NoError(t, err)
	assert.Equal(t, first.OrderID, second.OrderID)

	assert.Equal(t, models.NumberAvailable, numberByValue(t, db, product.ID, 1).Status)
	assert.Equal(t, models.NumberReserved, numberByValue(t, db, product.ID, 2).Status)
	assert.Equal(t, models.NumberReserved, numberByValue(t, db, product.ID, 3).Status)

	var order models.Order
	require.NoError(t, db.Where("id = ?", first.OrderID).First(&order).Error)
	assert.Equal(t, []int{2, 3}, order.SelectedNumbers())
}

func TestReserveRejectsForeignOrder(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	alice := createTestUser(t, db, "alice@example.com")
	bob := createTestUser(t, db, "bob@example.com")
	product := createActiveProduct(t, svc, 9, 10)

	aliceOrder, err := svc.Reserve(alice.ID, product.ID, []int{1}, nil)
	require.NoError(t, err)

	_, err = svc.Reserve(bob.ID, product.ID, []int{2}, &aliceOrder.OrderID)
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
}

func TestCompletedTransitionSellsExactlyOnce(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	user := createTestUser(t, db, "buyer@example.com")
	product := createActiveProduct(t, svc, 9, 10)

	result, err := svc.Reserve(user.ID, product.ID, []int{4, 5}, nil)
	require.NoError(t, err)

	require.NoError(t, svc.TransitionOrder(result.OrderID, models.OrderCompleted, "gateway payment 111 reported approved"))

	var order models.Order
	require.NoError(t, db.Where("id = ?", result.OrderID).First(&order).Error)
	assert.Equal(t, models.OrderCompleted, order.Status)
	assert.Contains(t, order.PaymentDetails, "approved")

	number := numberByValue(t, db, product.ID, 4)
	assert.Equal(t, models.NumberSold, number.Status)
	require.NotNil(t, number.UserID)
	assert.Equal(t, user.ID, *number.UserID)

	// Duplicate delivery of the same transition is a no-op: no second
	// notification, no audit growth, numbers still sold once.
	detailsBefore := order.PaymentDetails
	require.NoError(t, svc.TransitionOrder(result.OrderID, models.OrderCompleted, "gateway payment 111 reported approved"))

	require.NoError(t, db.Where("id = ?", result.OrderID).First(&order).Error)
	assert.Equal(t, detailsBefore, order.PaymentDetails)

	var notifications int64
	require.NoError(t, db.Model(&models.Notification{}).Where("user_id = ?", user.ID).Count(&notifications).Error)
	assert.EqualValues(t, 1, notifications)
}

func TestFailedTransitionReleasesExactlyTheOrdersNumbers(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	user := createTestUser(t, db, "buyer@example.com")
	other := createTestUser(t, db, "other@example.com")
	product := createActiveProduct(t, svc, 9, 10)

	target, err := svc.Reserve(user.ID, product.ID, []int{3, 7, 9}, nil)
	require.NoError(t, err)
	bystander, err := svc.Reserve(other.ID, product.ID, []int{1}, nil)
	require.NoError(t, err)

	require.NoError(t, svc.TransitionOrder(target.OrderID, models.OrderFailed, "gateway payment 222 reported rejected"))

	for _, v := range []int{3, 7, 9} {
		number := numberByValue(t, db, product.ID, v)
		assert.Equal(t, models.NumberAvailable, number.Status)
		assert.Nil(t, number.UserID)
		assert.Nil(t, number.OrderID)
		assert.Nil(t, number.ReservedAt)
	}

	// The other order's reservation is untouched.
	untouched := numberByValue(t, db, product.ID, 1)
	assert.Equal(t, models.NumberReserved, untouched.Status)
	require.NotNil(t, untouched.OrderID)
	assert.Equal(t, bystander.OrderID, *untouched.OrderID)
}

func TestTerminalOrdersNeverMoveAgain(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	user := createTestUser(t, db, "buyer@example.com")
	product := createActiveProduct(t, svc, 9, 10)

	result, err := svc.Reserve(user.ID, product.ID, []int{1}, nil)
	require.NoError(t, err)
	require.NoError(t, svc.TransitionOrder(result.OrderID, models.OrderCompleted, "test"))

	err = svc.TransitionOrder(result.OrderID, models.OrderFailed, "late rejection")
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, string(models.OrderCompleted), conflict.Status)

	// The sold numbers were not released by the rejected transition.
	assert.Equal(t, models.NumberSold, numberByValue(t, db, product.ID, 1).Status)
}

func TestPendingTransitionIsNoOp(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	user := createTestUser(t, db, "buyer@example.com")
	product := createActiveProduct(t, svc, 9, 10)

	result, err := svc.Reserve(user.ID, product.ID, []int{1}, nil)
	require.NoError(t, err)

	require.NoError(t, svc.TransitionOrder(result.OrderID, models.OrderPending, "gateway payment 333 reported in_process"))
	assert.Equal(t, models.NumberReserved, numberByValue(t, db, product.ID, 1).Status)
}

func sellOut(t *testing.T, db *gorm.DB, svc *Service, product models.Product, users []models.User) {
	t.Helper()
	perUser := product.NumberCount() / len(users)
	value := 0
	for i, user := range users {
		count := perUser
		if i == len(users)-1 {
			count = product.NumberCount() - value
		}
		numbers := make([]int, 0, count)
		for j := 0; j < count; j++ {
			numbers = append(numbers, value)
			value++
		}
		result, err := svc.Reserve(user.ID, product.ID, numbers, nil)
		require.NoError(t, err)
		require.NoError(t, svc.TransitionOrder(result.OrderID, models.OrderCompleted, "test"))
	}
}

func TestDrawRequiresFullSellout(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	user := createTestUser(t, db, "buyer@example.com")
	product := createActiveProduct(t, svc, 9, 10)

	// 9 of 10 numbers sold.
	result, err := svc.Reserve(user.ID, product.ID, []int{0, 1, 2, 3, 4, 5, 6, 7, 8}, nil)
	require.NoError(t, err)
	require.NoError(t, svc.TransitionOrder(result.OrderID, models.OrderCompleted, "test"))

	_, err = svc.Draw(product.ID)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Contains(t, conflict.Message, "9 of 10")

	var reloaded models.Product
	require.NoError(t, db.Where("id = ?", product.ID).First(&reloaded).Error)
	assert.Equal(t, models.ProductActive, reloaded.Status)
	assert.Nil(t, reloaded.WinningNumber)
	assert.Nil(t, reloaded.WinnerUserID)
}

func TestDrawPicksWinnerAmongSoldAndRunsOnce(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	alice := createTestUser(t, db, "alice@example.com")
	bob := createTestUser(t, db, "bob@example.com")
	product := createActiveProduct(t, svc, 9, 10)

	sellOut(t, db, svc, product, []models.User{alice, bob})

	result, err := svc.Draw(product.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, result.WinningNumber, 0)
	assert.LessOrEqual(t, result.WinningNumber, product.TotalNumbers)

	winning := numberByValue(t, db, product.ID, result.WinningNumber)
	assert.Equal(t, models.NumberSold, winning.Status)
	require.NotNil(t, winning.UserID)
	assert.Equal(t, *winning.UserID, result.WinnerUserID)

	var reloaded models.Product
	require.NoError(t, db.Where("id = ?", product.ID).First(&reloaded).Error)
	assert.Equal(t, models.ProductDrawn, reloaded.Status)
	require.NotNil(t, reloaded.WinningNumber)
	assert.Equal(t, result.WinningNumber, *reloaded.WinningNumber)
	require.NotNil(t, reloaded.WinnerUserID)
	assert.Equal(t, result.WinnerUserID, *reloaded.WinnerUserID)

	// A second draw conflicts: the product is no longer active.
	_, err = svc.Draw(product.ID)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, string(models.ProductDrawn), conflict.Status)

	// The winner was notified exactly once.
	var notifications int64
	require.NoError(t, db.Model(&models.Notification{}).
		Where("user_id = ? AND message LIKE ?", result.WinnerUserID, "%won%").
		Count(&notifications).Error)
	assert.EqualValues(t, 1, notifications)
}

func TestReleaseExpiredReservations(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	stale := createTestUser(t, db, "stale@example.com")
	fresh := createTestUser(t, db, "fresh@example.com")
	product := createActiveProduct(t, svc, 9, 10)

	staleOrder, err := svc.Reserve(stale.ID, product.ID, []int{1, 2}, nil)
	require.NoError(t, err)
	freshOrder, err := svc.Reserve(fresh.ID, product.ID, []int{3}, nil)
	require.NoError(t, err)

	expired := time.Now().Add(-2 * time.Hour)
	require.NoError(t, db.Model(&models.RaffleNumber{}).
		Where("order_id = ?", staleOrder.OrderID).
		Update("reserved_at", expired).Error)

	released, err := svc.ReleaseExpiredReservations(time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	var cancelled models.Order
	require.NoError(t, db.Where("id = ?", staleOrder.OrderID).First(&cancelled).Error)
	assert.Equal(t, models.OrderCancelled, cancelled.Status)
	assert.Contains(t, cancelled.PaymentDetails, "reservation expired")

	assert.Equal(t, models.NumberAvailable, numberByValue(t, db, product.ID, 1).Status)
	assert.Equal(t, models.NumberAvailable, numberByValue(t, db, product.ID, 2).Status)

	var pending models.Order
	require.NoError(t, db.Where("id = ?", freshOrder.OrderID).First(&pending).Error)
	assert.Equal(t, models.OrderPending, pending.Status)
	assert.Equal(t, models.NumberReserved, numberByValue(t, db, product.ID, 3).Status)
}

func TestCancelProductReleasesPendingOrders(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	buyer := createTestUser(t, db, "buyer@example.com")
	owner := createTestUser(t, db, "owner@example.com")
	product := createActiveProduct(t, svc, 9, 10)

	soldOrder, err := svc.Reserve(owner.ID, product.ID, []int{9}, nil)
	require.NoError(t, err)
	require.NoError(t, svc.TransitionOrder(soldOrder.OrderID, models.OrderCompleted, "test"))

	pendingOrder, err := svc.Reserve(buyer.ID, product.ID, []int{1, 2}, nil)
	require.NoError(t, err)

	require.NoError(t, svc.CancelProduct(product.ID))

	var reloaded models.Product
	require.NoError(t, db.Where("id = ?", product.ID).First(&reloaded).Error)
	assert.Equal(t, models.ProductCancelled, reloaded.Status)

	var order models.Order
	require.NoError(t, db.Where("id = ?", pendingOrder.OrderID).First(&order).Error)
	assert.Equal(t, models.OrderCancelled, order.Status)

	assert.Equal(t, models.NumberAvailable, numberByValue(t, db, product.ID, 1).Status)
	// Sold numbers and completed orders are left untouched.
	assert.Equal(t, models.NumberSold, numberByValue(t, db, product.ID, 9).Status)
	var completed models.Order
	require.NoError(t, db.Where("id = ?", soldOrder.OrderID).First(&completed).Error)
	assert.Equal(t, models.OrderCompleted, completed.Status)
}

type stubLookup struct {
	payment ProviderPayment
	err     error
}

func (s *stubLookup) GetPayment(id string) (*ProviderPayment, error) {
	if s.err != nil {
		return nil, s.err
	}
	p := s.payment
	p.ID = id
	return &p, nil
}

func TestFinalizeAsUserAppliesApprovedPayment(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	user := createTestUser(t, db, "buyer@example.com")
	product := createActiveProduct(t, svc, 9, 10)

	result, err := svc.Reserve(user.ID, product.ID, []int{6}, nil)
	require.NoError(t, err)

	lookup := &stubLookup{payment: ProviderPayment{
		Status:            "approved",
		ExternalReference: result.OrderID.String(),
	}}

	status, err := svc.FinalizeAsUser(user.ID, result.OrderID, "pay-1", lookup)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCompleted, status)
	assert.Equal(t, models.NumberSold, numberByValue(t, db, product.ID, 6).Status)

	// Finalizing an already completed order is a harmless no-op.
	status, err = svc.FinalizeAsUser(user.ID, result.OrderID, "pay-1", lookup)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCompleted, status)
}

func TestFinalizeAsUserRejectsForeignOrder(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	alice := createTestUser(t, db, "alice@example.com")
	bob := createTestUser(t, db, "bob@example.com")
	product := createActiveProduct(t, svc, 9, 10)

	result, err := svc.Reserve(alice.ID, product.ID, []int{1}, nil)
	require.NoError(t, err)

	lookup := &stubLookup{payment: ProviderPayment{
		Status:            "approved",
		ExternalReference: result.OrderID.String(),
	}}
	_, err = svc.FinalizeAsUser(bob.ID, result.OrderID, "pay-1", lookup)
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, models.NumberReserved, numberByValue(t, db, product.ID, 1).Status)
}

func TestFinalizeAsUserRejectsForeignReference(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db)
	user := createTestUser(t, db, "buyer@example.com")
	product := createActiveProduct(t, svc, 9, 10)

	result, err := svc.Reserve(user.ID, product.ID, []int{1}, nil)
	require.NoError(t, err)

	lookup := &stubLookup{payment: ProviderPayment{
		Status:            "approved",
		ExternalReference: uuid.New().String(),
	}}
	_, err = svc.FinalizeAsUser(user.ID, result.OrderID, "pay-1", lookup)
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
}

func TestMapProviderStatus(t *testing.T) {
	cases := []struct {
		provider string
		internal models.OrderStatus
		known    bool
	}{
		{"approved", models.OrderCompleted, true},
		{"rejected", models.OrderFailed, true},
		{"cancelled", models.OrderFailed, true},
		{"refunded", models.OrderFailed, true},
		{"charged_back", models.OrderFailed, true},
		{"pending", models.OrderPending, true},
		{"in_process", models.OrderPending, true},
		{"authorized", models.OrderPending, true},
		{"weird_future_status", "", false},
	}
	for _, tc := range cases {
		status, known := MapProviderStatus(tc.provider)
		assert.Equal(t, tc.known, known, tc.provider)
		assert.Equal(t, tc.internal, status, tc.provider)
	}
}
