package config

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/gmartinezc/sorteapp/internal/models"
	"github.com/gmartinezc/sorteapp/internal/payment"
)

type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
}

func LoadConfig() (*Config, error) {
	return &Config{
		DBHost:     os.Getenv("DB_HOST"),
		DBPort:     os.Getenv("DB_PORT"),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     os.Getenv("DB_NAME"),
	}, nil
}

func LoadPaymentConfig() payment.Config {
	return payment.Config{
		BaseURL:         os.Getenv("PAYMENT_BASE_URL"),
		ClientID:        os.Getenv("PAYMENT_CLIENT_ID"),
		SecretKey:       os.Getenv("PAYMENT_SECRET_KEY"),
		WebhookSecret:   os.Getenv("PAYMENT_WEBHOOK_SECRET"),
		NotificationURL: os.Getenv("PAYMENT_NOTIFICATION_URL"),
		BackURL:         os.Getenv("PAYMENT_BACK_URL"),
	}
}

type SMTPConfig struct {
	Host     string
	Username string
	Password string
	From     string
}

func LoadSMTPConfig() SMTPConfig {
	return SMTPConfig{
		Host:     os.Getenv("SMTP_HOST"),
		Username: os.Getenv("SMTP_USERNAME"),
		Password: os.Getenv("SMTP_PASSWORD"),
		From:     os.Getenv("SMTP_FROM"),
	}
}

// ReservationTTL is how long a reservation may sit unpaid before the sweep
// cancels its order.
func ReservationTTL() time.Duration {
	if v := os.Getenv("RESERVATION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return 30 * time.Minute
}

func enableUUIDExtension(db *gorm.DB) error {
	return db.Exec("CREATE EXTENSION IF NOT EXISTS \"uuid-ossp\"").Error
}

func InitDatabase(cfg *Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort,
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := enableUUIDExtension(db); err != nil {
		return nil, err
	}

	err = db.AutoMigrate(
		&models.Role{},
		&models.User{},
		&models.Product{},
		&models.RaffleNumber{},
		&models.Order{},
		&models.Notification{},
	)
	if err != nil {
		return nil, err
	}

	seedRoles(db)
	seedAdmin(db)

	return db, nil
}

func seedRoles(db *gorm.DB) {
	roles := []models.Role{
		{Name: "user"},
		{Name: "admin"},
	}

	for _, role := range roles {
		var existingRole models.Role
		result := db.Where("name = ?", role.Name).First(&existingRole)
		if result.Error != nil {
			db.Create(&role)
		}
	}
}

// seedAdmin bootstraps the first admin account from the environment so the
// panel is reachable on a fresh database.
func seedAdmin(db *gorm.DB) {
	email := os.Getenv("ADMIN_EMAIL")
	password := os.Getenv("ADMIN_PASSWORD")
	if email == "" || password == "" {
		return
	}

	var existing models.User
	if result := db.Where("email = ?", email).First(&existing); result.Error == nil {
		return
	}

	var role models.Role
	if err := db.Where("name = ?", "admin").First(&role).Error; err != nil {
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return
	}
	db.Create(&models.User{
		Name:     "Administrator",
		Email:    email,
		Password: string(hashed),
		RoleID:   role.ID,
	})
}
