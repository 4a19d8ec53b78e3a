package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"
	"gorm.io/gorm"

	"github.com/gmartinezc/sorteapp/internal/helpers"
	"github.com/gmartinezc/sorteapp/internal/middleware"
	"github.com/gmartinezc/sorteapp/internal/models"
)

type ReserveRequest struct {
	ProductID uuid.UUID  `json:"product_id" binding:"required"`
	Numbers   []int      `json:"numbers" binding:"required,min=1,dive,gte=0"`
	OrderID   *uuid.UUID `json:"order_id"`
}

type FinalizeRequest struct {
	PaymentID string `json:"payment_id" binding:"required"`
}

func ReserveNumbers(c *gin.Context) {
	var req ReserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid input. Please check your fields.")
		return
	}

	userID, exists := c.Get("user_id")
	if !exists {
		helpers.RespondWithError(c, http.StatusUnauthorized, "User ID not found in token.")
		return
	}
	userUUID, ok := userID.(uuid.UUID)
	if !ok {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Invalid user ID type.")
		return
	}

	svc := middleware.GetRaffleService(c)
	result, err := svc.Reserve(userUUID, req.ProductID, req.Numbers, req.OrderID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":  "Numbers reserved.",
		"order_id": result.OrderID,
		"total":    result.Total,
		"numbers":  result.Numbers,
	})
}

// CheckoutOrder opens a gateway checkout session for a pending order and
// returns the redirect target.
func CheckoutOrder(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid order ID.")
		return
	}

	userID, exists := c.Get("user_id")
	if !exists {
		helpers.RespondWithError(c, http.StatusUnauthorized, "User ID not found in token.")
		return
	}

	db, exists := c.Get("db")
	if !exists {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Database connection not found.")
		return
	}
	gormDB := db.(*gorm.DB)

	var order models.Order
	if err := gormDB.Preload("Product").Preload("User").Where("id = ?", orderID).First(&order).Error; err != nil {
		helpers.RespondWithError(c, http.StatusNotFound, "Order not found.")
		return
	}
	if order.UserID != userID {
		helpers.RespondWithError(c, http.StatusForbidden, "You don't have permission to pay this order.")
		return
	}
	if order.Status != models.OrderPending {
		helpers.RespondWithError(c, http.StatusConflict, fmt.Sprintf("Order is already %s.", order.Status))
		return
	}

	client := middleware.GetPaymentClient(c)
	if client == nil {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Payment client not configured.")
		return
	}
	preference, err := client.CreatePreference(&order, order.Product, order.User.Email)
	if err != nil {
		helpers.RespondWithError(c, http.StatusBadGateway, "Payment link generation failed.")
		return
	}

	svc := middleware.GetRaffleService(c)
	if err := svc.AttachPreference(order.ID, preference.ID); err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"payment_url":   preference.RedirectURL,
		"preference_id": preference.ID,
	})
}

// FinalizeOrder is called after the buyer returns from the gateway redirect.
// It is idempotent against the webhook applying the same transition first.
func FinalizeOrder(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid order ID.")
		return
	}

	var req FinalizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid input. payment_id is required.")
		return
	}

	userID, exists := c.Get("user_id")
	if !exists {
		helpers.RespondWithError(c, http.StatusUnauthorized, "User ID not found in token.")
		return
	}
	userUUID, ok := userID.(uuid.UUID)
	if !ok {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Invalid user ID type.")
		return
	}

	client := middleware.GetPaymentClient(c)
	if client == nil {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Payment client not configured.")
		return
	}

	svc := middleware.GetRaffleService(c)
	status, err := svc.FinalizeAsUser(userUUID, orderID, req.PaymentID, client)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Order reconciled.",
		"status":  status,
	})
}

func ListMyOrders(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		helpers.RespondWithError(c, http.StatusUnauthorized, "User ID not found in token.")
		return
	}

	db, exists := c.Get("db")
	if !exists {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Database connection not found.")
		return
	}
	gormDB := db.(*gorm.DB)

	var orders []models.Order
	if err := gormDB.Preload("Product").Where("user_id = ?", userID).Order("created_at desc").Find(&orders).Error; err != nil {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Error retrieving orders.")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": orders, "count": len(orders)})
}

func GetMyOrder(c *gin.Context) {
	orderID := c.Param("id")

	userID, exists := c.Get("user_id")
	if !exists {
		helpers.RespondWithError(c, http.StatusUnauthorized, "User ID not found in token.")
		return
	}

	db, exists := c.Get("db")
	if !exists {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Database connection not found.")
		return
	}
	gormDB := db.(*gorm.DB)

	var order models.Order
	if err := gormDB.Preload("Product").Where("id = ?", orderID).First(&order).Error; err != nil {
		helpers.RespondWithError(c, http.StatusNotFound, "Order not found.")
		return
	}
	if order.UserID != userID {
		helpers.RespondWithError(c, http.StatusForbidden, "You don't have permission to view this order.")
		return
	}

	var numbers []int
	gormDB.Model(&models.RaffleNumber{}).
		Where("order_id = ?", order.ID).
		Order("value").
		Pluck("value", &numbers)

	c.JSON(http.StatusOK, gin.H{"order": order, "numbers": numbers})
}

func generateReceiptData(order *models.Order) string {
	secretKey := os.Getenv("JWT_SECRET")
	signature := generateReceiptSignature(order.ID, order.ProductID, order.UserID, secretKey)
	return fmt.Sprintf("order:%s;product:%s;signature:%s",
		order.ID.String(),
		order.ProductID.String(),
		signature,
	)
}

func generateReceiptSignature(orderID, productID, userID uuid.UUID, secretKey string) string {
	data := fmt.Sprintf("%s:%s:%s", orderID.String(), productID.String(), userID.String())
	h := hmac.New(sha256.New, []byte(secretKey))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// OrderReceiptQR renders a signed receipt for a completed order as a QR
// image so the buyer can prove ownership of the numbers.
func OrderReceiptQR(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid order ID.")
		return
	}

	userID, exists := c.Get("user_id")
	if !exists {
		helpers.RespondWithError(c, http.StatusUnauthorized, "User ID not found in token.")
		return
	}

	db, exists := c.Get("db")
	if !exists {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Database connection not found.")
		return
	}
	gormDB := db.(*gorm.DB)

	var order models.Order
	if err := gormDB.Where("id = ?", orderID).First(&order).Error; err != nil {
		helpers.RespondWithError(c, http.StatusNotFound, "Order not found.")
		return
	}
	if order.UserID != userID {
		helpers.RespondWithError(c, http.StatusForbidden, "You don't have permission to view this order.")
		return
	}
	if order.Status != models.OrderCompleted {
		helpers.RespondWithError(c, http.StatusConflict, "Receipt is only available for completed orders.")
		return
	}

	qrImage, err := qrcode.Encode(generateReceiptData(&order), qrcode.Medium, 256)
	if err != nil {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Failed to generate QR code.")
		return
	}

	c.Data(http.StatusOK, "image/png", qrImage)
}
