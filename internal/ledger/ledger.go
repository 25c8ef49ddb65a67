// Package ledger owns the per-user credit balance and its atomic
// debit/credit operations.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/pixfusion/pixfusion/internal/db"
	"github.com/pixfusion/pixfusion/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Ledger errors.
var (
	// ErrUserNotFound indicates the user row does not exist.
	ErrUserNotFound = errors.New("ledger: user not found")
	// ErrInsufficientCredits indicates a debit would drive the balance negative.
	ErrInsufficientCredits = errors.New("ledger: insufficient credits")
)

// Debit subtracts amount from the user's balance. The read-check-write is
// serialized per user with a row lock, so concurrent debits cannot both
// pass the balance check against a stale value. Call inside the same
// transaction as any state that must commit atomically with the debit.
func Debit(ctx context.Context, tx *gorm.DB, userID string, amount int64) error {
	if tx == nil {
		return errors.New("ledger: nil tx")
	}
	if amount <= 0 {
		return fmt.Errorf("ledger: invalid debit amount %d", amount)
	}

	// SQLite has no SELECT ... FOR UPDATE and serializes writers anyway;
	// on PostgreSQL the row lock keeps concurrent debits from passing the
	// balance check against a stale value.
	query := tx.WithContext(ctx)
	if !db.IsSQLite(tx) {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var user models.User
	errFind := query.
		Where("id = ?", userID).
		First(&user).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return ErrUserNotFound
	}
	if errFind != nil {
		return fmt.Errorf("ledger: load user: %w", errFind)
	}

	if user.Credits < amount {
		return ErrInsufficientCredits
	}

	res := tx.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Update("credits", gorm.Expr("credits - ?", amount))
	if res.Error != nil {
		return fmt.Errorf("ledger: debit: %w", res.Error)
	}
	return nil
}

// Credit adds amount to the user's balance.
func Credit(ctx context.Context, tx *gorm.DB, userID string, amount int64) error {
	if tx == nil {
		return errors.New("ledger: nil tx")
	}
	if amount <= 0 {
		return fmt.Errorf("ledger: invalid credit amount %d", amount)
	}

	res := tx.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Update("credits", gorm.Expr("credits + ?", amount))
	if res.Error != nil {
		return fmt.Errorf("ledger: credit: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Balance returns the user's current balance with a plain point-read.
func Balance(ctx context.Context, conn *gorm.DB, userID string) (int64, error) {
	var user models.User
	errFind := conn.WithContext(ctx).Where("id = ?", userID).First(&user).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return 0, ErrUserNotFound
	}
	if errFind != nil {
		return 0, fmt.Errorf("ledger: load user: %w", errFind)
	}
	return user.Credits, nil
}
