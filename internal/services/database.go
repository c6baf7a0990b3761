package services

import (
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"membership_checkout/internal/models"
)

// InitDB opens the Postgres connection and configures the pool.
// SQL statements are logged only outside production.
func InitDB(dsn string, production bool, log *zap.Logger) (*gorm.DB, error) {
	level := logger.Info
	if production {
		level = logger.Warn
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Info("Database connection established")
	return db, nil
}

// AutoMigrate runs database migrations for all models
func AutoMigrate(db *gorm.DB, log *zap.Logger) error {
	log.Info("Running database migrations...")

	err := db.AutoMigrate(
		&models.Package{},
		&models.PaymentOrder{},
		&models.Entitlement{},
		&models.PaymentCallbackHistory{},
		&models.ScheduledTask{},
		&models.ScheduledTaskHistory{},
	)
	if err != nil {
		return err
	}

	log.Info("Database migrations completed")
	return nil
}
