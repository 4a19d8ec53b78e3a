package handlers

import (
	"log"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/gmartinezc/sorteapp/internal/helpers"
	"github.com/gmartinezc/sorteapp/internal/middleware"
	"github.com/gmartinezc/sorteapp/internal/models"
	"github.com/gmartinezc/sorteapp/internal/payment"
	"github.com/gmartinezc/sorteapp/internal/raffle"
)

// PaymentWebhook consumes gateway callbacks. The signature is verified
// before anything else; an invalid one is logged and rejected with no state
// change. The payment is then fetched back from the provider so the status
// applied is the authoritative one, never the payload's word.
func PaymentWebhook(c *gin.Context) {
	dataID := c.Query("data.id")
	if dataID == "" {
		dataID = c.Query("id")
	}
	topic := c.Query("type")
	if topic == "" {
		topic = c.Query("topic")
	}
	if dataID == "" || topic != "payment" {
		c.Status(http.StatusOK)
		return
	}

	secret := os.Getenv("PAYMENT_WEBHOOK_SECRET")
	signature := c.GetHeader("x-signature")
	requestID := c.GetHeader("x-request-id")
	if !payment.VerifyWebhookSignature(signature, requestID, dataID, secret) {
		log.Printf("Rejected webhook with invalid signature (request-id %s)\n", requestID)
		helpers.RespondWithError(c, http.StatusUnauthorized, "Invalid signature.")
		return
	}

	client := middleware.GetPaymentClient(c)
	if client == nil {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Payment client not configured.")
		return
	}
	p, err := client.GetPayment(dataID)
	if err != nil {
		log.Printf("Could not fetch payment %s: %s\n", dataID, err.Error())
		c.Status(http.StatusServiceUnavailable)
		return
	}

	orderID, err := uuid.Parse(p.ExternalReference)
	if err != nil {
		log.Printf("Webhook payment %s carries invalid external reference %q\n", p.ID, p.ExternalReference)
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid external reference.")
		return
	}

	target, known := raffle.MapProviderStatus(p.Status)
	if !known {
		log.Printf("Webhook payment %s has unknown status %q, ignoring\n", p.ID, p.Status)
		c.Status(http.StatusOK)
		return
	}
	if target == models.OrderPending {
		c.Status(http.StatusOK)
		return
	}

	svc := middleware.GetRaffleService(c)
	detail := "webhook: gateway payment " + p.ID + " reported " + p.Status
	if err := svc.TransitionOrder(orderID, target, detail); err != nil {
		if conflict, ok := err.(*raffle.ConflictError); ok {
			// The order already reached a different terminal state; ack so
			// the gateway stops retrying, but keep the trace.
			log.Printf("Webhook for order %s ignored: %s\n", orderID, conflict.Message)
			c.Status(http.StatusOK)
			return
		}
		log.Printf("Webhook for order %s failed: %s\n", orderID, err.Error())
		c.Status(http.StatusServiceUnavailable)
		return
	}

	c.Status(http.StatusOK)
}
