// Package history is the append-only assignment log. Every bind of an
// operator to a chat appends a record; every release closes it with a
// reason. The idle-recovery policy counts closed records to decide when a
// chat has bounced too often.
package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/switchboard/internal/apperr"
	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// Reason builds a release reason tag. A non-empty detail is appended after
// a colon, e.g. "manual_unassign:shift_over".
func Reason(base, detail string) string {
	detail = strings.TrimSpace(detail)
	if detail == "" {
		return base
	}
	return base + ":" + detail
}

// IsIdle reports whether reason is an idle-timeout release.
func IsIdle(reason string) bool {
	return reason == models.ReasonIdleTimeout || strings.HasPrefix(reason, models.ReasonIdleTimeout+":")
}

// IsManual reports whether reason is an operator or admin release. Manual
// releases reset the idle-release count.
func IsManual(reason string) bool {
	return strings.HasPrefix(reason, "manual_")
}

// Append records a new assignment. db is normally the caller's transaction.
// An empty reason means the scheduler made the assignment.
func Append(db *gorm.DB, chatID, operatorID, reason string, at time.Time) (*models.AssignmentRecord, error) {
	if reason == "" {
		reason = models.AssignScheduler
	}
	rec := &models.AssignmentRecord{ChatID: chatID, OperatorID: operatorID, AssignReason: reason, AssignedAt: at}
	if err := db.Create(rec).Error; err != nil {
		return nil, fmt.Errorf("history: append %s/%s: %w", chatID, operatorID, apperr.Internal(err))
	}
	return rec, nil
}

// Close stamps the open record for (chat, operator) as released. It returns
// the number of records closed, which is 0 when the assignment was already
// released.
func Close(db *gorm.DB, chatID, operatorID, reason string, at time.Time) (int64, error) {
	result := db.Model(&models.AssignmentRecord{}).
		Where("chat_id = ? AND operator_id = ? AND released_at IS NULL", chatID, operatorID).
		Updates(map[string]interface{}{
			"released_at":    at,
			"release_reason": reason,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("history: close %s/%s: %w", chatID, operatorID, apperr.Internal(result.Error))
	}
	return result.RowsAffected, nil
}

// CountIdleReleases counts idle-timeout releases of chatID since the most
// recent manual intervention: a manual release or an admin-directed
// assignment. A non-zero since further bounds the count to releases at or
// after that time.
func CountIdleReleases(db *gorm.DB, chatID string, since time.Time) (int, error) {
	reset, err := lastManual(db, chatID)
	if err != nil {
		return 0, err
	}

	q := db.Model(&models.AssignmentRecord{}).
		Where("chat_id = ? AND released_at IS NOT NULL", chatID).
		Where("release_reason = ? OR release_reason LIKE ?", models.ReasonIdleTimeout, models.ReasonIdleTimeout+":%")
	if !reset.IsZero() {
		q = q.Where("released_at > ?", reset)
	}
	if !since.IsZero() {
		q = q.Where("released_at >= ?", since)
	}

	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, fmt.Errorf("history: count idle releases of %s: %w", chatID, apperr.Internal(err))
	}
	return int(n), nil
}

// lastManual returns the time of the latest manual release or manual
// assignment of chatID, or the zero time.
func lastManual(db *gorm.DB, chatID string) (time.Time, error) {
	var released, assigned []models.AssignmentRecord
	if err := db.Where("chat_id = ? AND released_at IS NOT NULL AND release_reason LIKE ?", chatID, "manual_%").
		Order("released_at DESC").Limit(1).Find(&released).Error; err != nil {
		return time.Time{}, fmt.Errorf("history: last manual release of %s: %w", chatID, apperr.Internal(err))
	}
	if err := db.Where("chat_id = ? AND assign_reason LIKE ?", chatID, "manual_%").
		Order("assigned_at DESC").Limit(1).Find(&assigned).Error; err != nil {
		return time.Time{}, fmt.Errorf("history: last manual assignment of %s: %w", chatID, apperr.Internal(err))
	}

	var last time.Time
	if len(released) > 0 && released[0].ReleasedAt != nil {
		last = *released[0].ReleasedAt
	}
	if len(assigned) > 0 && assigned[0].AssignedAt.After(last) {
		last = assigned[0].AssignedAt
	}
	return last, nil
}

// Open returns the unreleased record for chatID, or nil when the chat is
// not assigned.
func Open(ctx context.Context, db *gorm.DB, chatID string) (*models.AssignmentRecord, error) {
	var rec models.AssignmentRecord
	err := db.WithContext(ctx).
		Where("chat_id = ? AND released_at IS NULL", chatID).
		Order("assigned_at DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history: open record of %s: %w", chatID, apperr.Internal(err))
	}
	return &rec, nil
}

// ForChat returns every record for chatID, oldest first.
func ForChat(ctx context.Context, db *gorm.DB, chatID string) ([]models.AssignmentRecord, error) {
	var recs []models.AssignmentRecord
	if err := db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("assigned_at ASC, id ASC").
		Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("history: records of %s: %w", chatID, apperr.Internal(err))
	}
	return recs, nil
}
