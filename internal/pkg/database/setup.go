package database

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/ManuelReschke/Plan5/app/models"
	"github.com/ManuelReschke/Plan5/internal/pkg/env"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

var DB *gorm.DB

// GetDB returns the process wide connection opened by SetupDatabase.
func GetDB() *gorm.DB {
	return DB
}

// Models lists every table owned by the service, in dependency order.
func Models() []any {
	return []any{
		&models.Order{},
		&models.OrderItem{},
		&models.PaymentTransaction{},
		&models.PaymentRefund{},
		&models.WebhookEvent{},
		&models.SumUpSession{},
		&models.IdempotencyRecord{},
		&models.AuditLog{},
		&models.VatSetting{},
		&models.Invoice{},
		&models.InvoiceItem{},
		&models.InvoiceArchive{},
		&models.Profile{},
		&models.Appointment{},
		&models.Consent{},
		&models.ComplianceRequest{},
		&models.Reminder{},
	}
}

// Migrate creates or updates the schema for all service tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}

func SetupDatabase() {
	var err error
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		env.GetEnv("DB_USER", ""),
		env.GetEnv("DB_PASSWORD", ""),
		env.GetEnv("DB_HOST", "127.0.0.1"),
		env.GetEnv("DB_PORT", "3306"),
		env.GetEnv("DB_NAME", ""),
	)

	for i := 0; i < maxRetries; i++ {
		DB, err = gorm.Open(mysql.New(mysql.Config{
			DSN:                       dsn,
			DefaultStringSize:         256,
			DontSupportRenameIndex:    true,
			DontSupportRenameColumn:   true,
			SkipInitializeWithVersion: false,
		}), &gorm.Config{
			// unique violations surface as gorm.ErrDuplicatedKey
			TranslateError: true,
			NowFunc: func() time.Time {
				return time.Now().UTC()
			},
		})
		if err == nil {
			if env.IsDev() {
				if err := Migrate(DB); err != nil {
					log.Errorf("[Database] AutoMigrate failed: %v", err)
				}
			}
			return
		}

		log.Warnf("[Database] Failed to connect (try %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}

	if err != nil {
		panic(err)
	}
}
