package operator

import (
	"context"
	"errors"
	"fmt"

	"github.com/zulandar/switchboard/internal/apperr"
	"github.com/zulandar/switchboard/internal/assign"
	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Availability is the result of an availability change.
type Availability struct {
	Available bool
	Chat      *models.Chat // chat held after the change, if any
}

// SetAvailability opts operatorID in or out of the claim pool. Going
// unavailable keeps any held chat. Going available tries to claim a chat
// straight away; failing to find one is not an error.
func (r *Registry) SetAvailability(ctx context.Context, operatorID string, available bool) (*Availability, error) {
	now := r.clock.Now()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var op models.Operator
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", operatorID).First(&op).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("operator: %s: %w", operatorID, apperr.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("operator: load %s: %w", operatorID, apperr.Internal(err))
		}
		if !op.IsActive {
			return fmt.Errorf("operator: %s is deactivated: %w", operatorID, apperr.ErrForbidden)
		}
		if err := tx.Model(&models.Operator{}).Where("id = ?", operatorID).Updates(map[string]interface{}{
			"is_available":  available,
			"last_activity": now,
		}).Error; err != nil {
			return fmt.Errorf("operator: set availability %s: %w", operatorID, apperr.Internal(err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.log.Info().Str("operator_id", operatorID).Bool("available", available).Msg("availability changed")
	r.publishStatus(ctx, operatorID, available)

	if available {
		if _, err := r.scheduler.TryAssign(ctx, operatorID); err != nil && !errors.Is(err, apperr.ErrConflict) {
			r.log.Warn().Err(err).Str("operator_id", operatorID).Msg("claim on availability failed")
		}
	}

	held, err := assign.Held(ctx, r.db, operatorID)
	if err != nil {
		return nil, err
	}
	return &Availability{Available: available, Chat: held}, nil
}

// RequestAssignment asks the scheduler for work. A nil chat means nothing
// is waiting.
func (r *Registry) RequestAssignment(ctx context.Context, operatorID string) (*models.Chat, error) {
	return r.scheduler.TryAssign(ctx, operatorID)
}
