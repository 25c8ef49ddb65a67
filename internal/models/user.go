package models

import "time"

// User represents an account created from a Google sign-in.
type User struct {
	ID string `gorm:"type:uuid;primaryKey"` // Primary key (UUID).

	GoogleID string  `gorm:"type:text;not null;uniqueIndex"` // Google account ID.
	Email    string  `gorm:"type:text;not null;uniqueIndex"` // Email address.
	Name     string  `gorm:"type:text;not null"`             // Display name.
	Picture  *string `gorm:"type:text"`                      // Avatar URL.

	Credits int64 `gorm:"not null;default:0"` // Remaining generation credits.

	Generations []Generation `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"` // Owned generations.

	CreatedAt time.Time  `gorm:"not null;autoCreateTime"` // Creation timestamp.
	LastLogin *time.Time // Last successful sign-in.
}
