package server

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/gmartinezc/sorteapp/config"
	"github.com/gmartinezc/sorteapp/internal/handlers"
	"github.com/gmartinezc/sorteapp/internal/jobs"
	"github.com/gmartinezc/sorteapp/internal/middleware"
	"github.com/gmartinezc/sorteapp/internal/notify"
	"github.com/gmartinezc/sorteapp/internal/payment"
	"github.com/gmartinezc/sorteapp/internal/raffle"
)

func Start() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}

	db, err := config.InitDatabase(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %v", err)
	}

	smtpCfg := config.LoadSMTPConfig()
	var notifier *notify.Notifier
	if smtpCfg.Host != "" {
		mailClient, err := notify.NewMailClient(smtpCfg.Host, smtpCfg.Username, smtpCfg.Password)
		if err != nil {
			log.Printf("Could not initialize smtp client, emails disabled: %s\n", err.Error())
			notifier = notify.NewNotifier(db, nil, smtpCfg.From)
		} else {
			notifier = notify.NewNotifier(db, mailClient, smtpCfg.From)
		}
	} else {
		notifier = notify.NewNotifier(db, nil, smtpCfg.From)
	}

	paymentClient := payment.NewClient(config.LoadPaymentConfig())
	raffleService := raffle.NewService(db, notifier, config.ReservationTTL())

	sweeper, err := jobs.StartReservationSweeper(raffleService, time.Minute)
	if err != nil {
		return fmt.Errorf("failed to start reservation sweeper: %v", err)
	}
	defer func() {
		if err := sweeper.Shutdown(); err != nil {
			log.Printf("Error shutting down sweeper: %s\n", err.Error())
		}
	}()

	r := gin.Default()

	setupRoutes(r, db, raffleService, paymentClient)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	return r.Run(":" + port)
}

func setupRoutes(r *gin.Engine, db *gorm.DB, svc *raffle.Service, paymentClient *payment.Client) {
	r.Use(middleware.DatabaseMiddleware(db))
	r.Use(middleware.RaffleMiddleware(svc))
	r.Use(middleware.PaymentMiddleware(paymentClient))

	public := r.Group("/v1")
	{
		public.POST("/register", handlers.Register)
		public.POST("/login", handlers.Login)
		public.POST("/payments/webhook", handlers.PaymentWebhook)

		productPublic := public.Group("/products")
		{
			productPublic.GET("", handlers.ListProducts)
			productPublic.GET("/:id", handlers.GetProduct)
			productPublic.GET("/:id/numbers", handlers.ListProductNumbers)
		}
	}

	protected := r.Group("/v1")
	protected.Use(middleware.JWTAuthMiddleware())
	{
		protected.GET("/profile", handlers.GetProfile)

		orders := protected.Group("/orders")
		{
			orders.POST("/reserve", handlers.ReserveNumbers)
			orders.GET("", handlers.ListMyOrders)
			orders.GET("/:id", handlers.GetMyOrder)
			orders.POST("/:id/checkout", handlers.CheckoutOrder)
			orders.POST("/:id/finalize", handlers.FinalizeOrder)
			orders.GET("/:id/receipt-qr", handlers.OrderReceiptQR)
		}

		notifications := protected.Group("/notifications")
		{
			notifications.GET("", handlers.ListNotifications)
			notifications.PUT("/:id/read", handlers.MarkNotificationRead)
		}
	}

	admin := r.Group("/v1/admin")
	admin.Use(middleware.JWTAuthMiddleware(), middleware.AdminMiddleware())
	{
		admin.POST("/products", handlers.CreateProduct)
		admin.PUT("/products/:id/activate", handlers.ActivateProduct)
		admin.PUT("/products/:id/cancel", handlers.CancelProduct)
		admin.POST("/products/:id/draw", handlers.DrawProduct)

		admin.GET("/orders", handlers.AdminListOrders)
		admin.PUT("/orders/:id/complete", handlers.AdminCompleteOrder)
		admin.PUT("/orders/:id/fail", handlers.AdminFailOrder)
		admin.PUT("/orders/:id/cancel", handlers.AdminCancelOrder)

		admin.GET("/users", handlers.AdminListUsers)
	}
}
