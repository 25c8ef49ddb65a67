package models

import (
	"time"

	"gorm.io/datatypes"
)

// PaymentEvent records one webhook delivery from the payment provider.
type PaymentEvent struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID *string `gorm:"type:uuid;index"` // Matched user ID, nil when no user matched.

	Email       string `gorm:"type:text"` // Buyer email reported by the provider.
	Status      string `gorm:"type:text"` // Order status reported by the provider.
	ProductName string `gorm:"type:text"` // Product name reported by the provider.
	Units       int64  `gorm:"not null;default:0"` // Credits applied, zero when nothing was credited.

	Payload datatypes.JSON `gorm:"type:json"` // Raw callback payload for auditing.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Receipt timestamp.
}
