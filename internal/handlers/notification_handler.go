package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gmartinezc/sorteapp/internal/helpers"
	"github.com/gmartinezc/sorteapp/internal/models"
)

func ListNotifications(c *gin.Context) {
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

	var notifications []models.Notification
	query := gormDB.Where("user_id = ?", userID).Order("created_at desc")
	if c.Query("unread") == "true" {
		query = query.Where("is_read = ?", false)
	}
	if err := query.Find(&notifications).Error; err != nil {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Error retrieving notifications.")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": notifications, "count": len(notifications)})
}

func MarkNotificationRead(c *gin.Context) {
	notificationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid notification ID.")
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

	var notification models.Notification
	if err := gormDB.Where("id = ?", notificationID).First(&notification).Error; err != nil {
		helpers.RespondWithError(c, http.StatusNotFound, "Notification not found.")
		return
	}
	if notification.UserID != userID {
		helpers.RespondWithError(c, http.StatusForbidden, "You don't have permission to update this notification.")
		return
	}

	if err := gormDB.Model(&notification).Update("is_read", true).Error; err != nil {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Failed to update notification.")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Notification marked as read."})
}
