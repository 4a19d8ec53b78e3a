package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/gmartinezc/sorteapp/internal/helpers"
	"github.com/gmartinezc/sorteapp/internal/raffle"
)

// respondServiceError maps core errors onto HTTP responses. Conflicts keep
// their precise payload (unavailable numbers, current status) so the client
// can react; anything unexpected is logged and hidden behind a generic
// message.
func respondServiceError(c *gin.Context, err error) {
	var validationErr *raffle.ValidationError
	if errors.As(err, &validationErr) {
		helpers.RespondWithError(c, http.StatusBadRequest, validationErr.Message)
		return
	}

	var conflictErr *raffle.ConflictError
	if errors.As(err, &conflictErr) {
		body := gin.H{
			"error":   http.StatusText(http.StatusConflict),
			"message": conflictErr.Message,
		}
		if len(conflictErr.Numbers) > 0 {
			body["unavailable_numbers"] = conflictErr.Numbers
		}
		if conflictErr.Status != "" {
			body["current_status"] = conflictErr.Status
		}
		c.JSON(http.StatusConflict, body)
		return
	}

	var authErr *raffle.AuthError
	if errors.As(err, &authErr) {
		helpers.RespondWithError(c, http.StatusForbidden, authErr.Message)
		return
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		helpers.RespondWithError(c, http.StatusNotFound, "Not found.")
		return
	}

	log.Printf("Unexpected error: %s\n", err.Error())
	helpers.RespondWithError(c, http.StatusInternalServerError, "Something went wrong. Please try again.")
}
