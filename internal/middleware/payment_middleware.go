package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/gmartinezc/sorteapp/internal/payment"
	"github.com/gmartinezc/sorteapp/internal/raffle"
)

func PaymentMiddleware(client *payment.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("payment_client", client)
		c.Next()
	}
}

func GetPaymentClient(c *gin.Context) *payment.Client {
	client, exists := c.Get("payment_client")
	if !exists {
		return nil
	}
	return client.(*payment.Client)
}

func RaffleMiddleware(service *raffle.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("raffle_service", service)
		c.Next()
	}
}

func GetRaffleService(c *gin.Context) *raffle.Service {
	service, exists := c.Get("raffle_service")
	if !exists {
		return nil
	}
	return service.(*raffle.Service)
}
