package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gmartinezc/sorteapp/internal/helpers"
	"github.com/gmartinezc/sorteapp/internal/middleware"
	"github.com/gmartinezc/sorteapp/internal/models"
)

func AdminListOrders(c *gin.Context) {
	db, exists := c.Get("db")
	if !exists {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Database connection not found.")
		return
	}
	gormDB := db.(*gorm.DB)

	limit := helpers.ParseLimit(c.Query("limit"), 50, 200)
	query := gormDB.Model(&models.Order{}).
		Preload("User").
		Preload("Product").
		Order("created_at desc").
		Limit(limit)
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if productID := c.Query("product_id"); productID != "" {
		query = query.Where("product_id = ?", productID)
	}

	var orders []models.Order
	if err := query.Find(&orders).Error; err != nil {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Error retrieving orders.")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": orders, "count": len(orders)})
}

func adminTransitionOrder(c *gin.Context, target models.OrderStatus, detail string) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid order ID.")
		return
	}

	svc := middleware.GetRaffleService(c)
	if err := svc.TransitionOrder(orderID, target, detail); err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Order updated.",
		"status":  target,
	})
}

// Admin overrides go through the exact same transition path as the gateway,
// so the inventory side effects stay consistent.
func AdminCompleteOrder(c *gin.Context) {
	adminTransitionOrder(c, models.OrderCompleted, "admin override: marked completed")
}

func AdminFailOrder(c *gin.Context) {
	adminTransitionOrder(c, models.OrderFailed, "admin override: marked failed")
}

func AdminCancelOrder(c *gin.Context) {
	adminTransitionOrder(c, models.OrderCancelled, "admin override: cancelled")
}

func AdminListUsers(c *gin.Context) {
	db, exists := c.Get("db")
	if !exists {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Database connection not found.")
		return
	}
	gormDB := db.(*gorm.DB)

	limit := helpers.ParseLimit(c.Query("limit"), 50, 200)
	var users []models.User
	if err := gormDB.Preload("Role").Order("created_at desc").Limit(limit).Find(&users).Error; err != nil {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Error retrieving users.")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": users, "count": len(users)})
}
