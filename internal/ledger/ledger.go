// Package ledger owns real-user credit balances. Every mutation is a single
// conditional UPDATE so a balance can never go negative under concurrent
// spending, and every mutation appends a CreditTransaction row in the same
// transaction.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/switchboard/internal/apperr"
	"github.com/zulandar/switchboard/internal/clock"
	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// Entry describes one balance mutation.
type Entry struct {
	UserID    string
	Amount    int
	Reason    string
	MessageID *string
	At        time.Time
}

func (e Entry) validate() error {
	if e.UserID == "" {
		return fmt.Errorf("ledger: userID is required: %w", apperr.ErrInvalidInput)
	}
	if e.Amount < 1 {
		return fmt.Errorf("ledger: amount must be positive (got %d): %w", e.Amount, apperr.ErrInvalidInput)
	}
	if e.Reason == "" {
		return fmt.Errorf("ledger: reason is required: %w", apperr.ErrInvalidInput)
	}
	return nil
}

// Debit removes e.Amount credits inside tx. The sufficiency check and the
// decrement are one statement. Returns the new balance.
func Debit(tx *gorm.DB, e Entry) (int, error) {
	if err := e.validate(); err != nil {
		return 0, err
	}
	result := tx.Model(&models.RealUser{}).
		Where("id = ? AND credits >= ?", e.UserID, e.Amount).
		Update("credits", gorm.Expr("credits - ?", e.Amount))
	if result.Error != nil {
		return 0, fmt.Errorf("ledger: debit %s: %w", e.UserID, apperr.Internal(result.Error))
	}
	if result.RowsAffected == 0 {
		if _, err := balance(tx, e.UserID); err != nil {
			return 0, err
		}
		return 0, fmt.Errorf("ledger: debit %d from %s: %w", e.Amount, e.UserID, apperr.ErrInsufficientCredits)
	}
	return record(tx, e, -e.Amount)
}

// Credit adds e.Amount credits inside tx. Returns the new balance.
func Credit(tx *gorm.DB, e Entry) (int, error) {
	if err := e.validate(); err != nil {
		return 0, err
	}
	result := tx.Model(&models.RealUser{}).
		Where("id = ?", e.UserID).
		Update("credits", gorm.Expr("credits + ?", e.Amount))
	if result.Error != nil {
		return 0, fmt.Errorf("ledger: credit %s: %w", e.UserID, apperr.Internal(result.Error))
	}
	if result.RowsAffected == 0 {
		return 0, fmt.Errorf("ledger: user %s: %w", e.UserID, apperr.ErrNotFound)
	}
	return record(tx, e, e.Amount)
}

func record(tx *gorm.DB, e Entry, delta int) (int, error) {
	bal, err := balance(tx, e.UserID)
	if err != nil {
		return 0, err
	}
	row := models.CreditTransaction{
		UserID:       e.UserID,
		Delta:        delta,
		BalanceAfter: bal,
		Reason:       e.Reason,
		MessageID:    e.MessageID,
		CreatedAt:    e.At,
	}
	if err := tx.Create(&row).Error; err != nil {
		return 0, fmt.Errorf("ledger: record %s: %w", e.UserID, apperr.Internal(err))
	}
	return bal, nil
}

func balance(db *gorm.DB, userID string) (int, error) {
	var u models.RealUser
	err := db.Select("id", "credits").Where("id = ?", userID).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, fmt.Errorf("ledger: user %s: %w", userID, apperr.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("ledger: load %s: %w", userID, apperr.Internal(err))
	}
	return u.Credits, nil
}

// Ledger runs standalone balance operations, each in its own transaction.
type Ledger struct {
	db    *gorm.DB
	clock clock.Clock
}

// New returns a Ledger. A nil clock uses the wall clock.
func New(db *gorm.DB, clk clock.Clock) *Ledger {
	return &Ledger{db: db, clock: clock.Or(clk)}
}

// Debit removes n credits from userID.
func (l *Ledger) Debit(ctx context.Context, userID string, n int, reason string) (int, error) {
	var bal int
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		bal, err = Debit(tx, Entry{UserID: userID, Amount: n, Reason: reason, At: l.clock.Now()})
		return err
	})
	return bal, err
}

// Credit adds n credits to userID.
func (l *Ledger) Credit(ctx context.Context, userID string, n int, reason string) (int, error) {
	var bal int
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		bal, err = Credit(tx, Entry{UserID: userID, Amount: n, Reason: reason, At: l.clock.Now()})
		return err
	})
	return bal, err
}

// Balance returns userID's current balance.
func (l *Ledger) Balance(ctx context.Context, userID string) (int, error) {
	return balance(l.db.WithContext(ctx), userID)
}

// Transactions returns userID's balance history, newest first.
func (l *Ledger) Transactions(ctx context.Context, userID string, limit int) ([]models.CreditTransaction, error) {
	q := l.db.WithContext(ctx).Where("user_id = ?", userID).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []models.CreditTransaction
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("ledger: transactions of %s: %w", userID, apperr.Internal(err))
	}
	return rows, nil
}
