package db

import (
	"fmt"

	"github.com/pixfusion/pixfusion/internal/models"
	"gorm.io/gorm"
)

// Migrate runs database migrations for the current dialect.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	if errAutoMigrate := conn.AutoMigrate(
		&models.User{},
		&models.Generation{},
		&models.PaymentEvent{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: auto migrate: %w", errAutoMigrate)
	}
	return nil
}
