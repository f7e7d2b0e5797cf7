package operator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/switchboard/internal/apperr"
	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultHeartbeatInterval is how often clients are expected to send heartbeats.
const DefaultHeartbeatInterval = 30 * time.Second

// Status is the idle state of an assignment as clients render it.
type Status string

// Idle states.
const (
	StatusActive  Status = "active"
	StatusWarning Status = "warning"
	StatusIdle    Status = "idle"
)

// IdleStatus classifies an assignment by how long ago its last activity was.
func IdleStatus(lastActivity, now time.Time, p config.Platform) Status {
	idle := now.Sub(lastActivity)
	switch {
	case idle >= p.IdleTimeout():
		return StatusIdle
	case idle >= p.WarningAfter():
		return StatusWarning
	default:
		return StatusActive
	}
}

// Beat is the state recorded by a heartbeat.
type Beat struct {
	LastActivity time.Time
	Status       Status
	WarningAt    time.Time
	IdleAt       time.Time
}

// Heartbeat records that operatorID is still working on chatID. The client
// may report when it last saw activity; the value is clamped to the
// assignment window and never moves the recorded time backwards. A zero
// lastActivity means now. The chat row stays locked until the activity is
// written so a concurrent release cannot leave a stray activity row.
func (r *Registry) Heartbeat(ctx context.Context, chatID, operatorID string, lastActivity time.Time) (*Beat, error) {
	now := r.clock.Now()
	policy := r.settings.Current()

	var recorded time.Time
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var chat models.Chat
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", chatID).First(&chat).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("operator: chat %s: %w", chatID, apperr.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("operator: load chat %s: %w", chatID, apperr.Internal(err))
		}
		if !chat.IsActive || !chat.HeldBy(operatorID) {
			return fmt.Errorf("operator: %s is not assigned to chat %s: %w", operatorID, chatID, apperr.ErrForbidden)
		}

		at := lastActivity
		if at.IsZero() || at.After(now) {
			at = now
		}
		if chat.AssignmentTime != nil && at.Before(*chat.AssignmentTime) {
			at = *chat.AssignmentTime
		}

		var existing []models.OperatorActivity
		if err := tx.Where("chat_id = ? AND operator_id = ?", chatID, operatorID).Limit(1).Find(&existing).Error; err != nil {
			return fmt.Errorf("operator: load activity %s/%s: %w", chatID, operatorID, apperr.Internal(err))
		}
		if len(existing) > 0 && existing[0].LastActivity.After(at) {
			recorded = existing[0].LastActivity
			return nil
		}

		row := models.OperatorActivity{ChatID: chatID, OperatorID: operatorID, LastActivity: at.UTC()}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chat_id"}, {Name: "operator_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_activity"}),
		}).Create(&row).Error; err != nil {
			return fmt.Errorf("operator: heartbeat %s/%s: %w", chatID, operatorID, apperr.Internal(err))
		}
		recorded = row.LastActivity
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Beat{
		LastActivity: recorded,
		Status:       IdleStatus(recorded, now, policy),
		WarningAt:    recorded.Add(policy.WarningAfter()),
		IdleAt:       recorded.Add(policy.IdleTimeout()),
	}, nil
}
