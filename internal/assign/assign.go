// Package assign matches waiting chats to available operators.
package assign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/zulandar/switchboard/internal/apperr"
	"github.com/zulandar/switchboard/internal/clock"
	"github.com/zulandar/switchboard/internal/events"
	"github.com/zulandar/switchboard/internal/history"
	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNoWork means no waiting chat could be claimed. TryAssign reports it as
// a nil chat, not an error.
var ErrNoWork = errors.New("assign: no waiting chats")

// DefaultCandidates is how many waiting chats one claim attempt considers
// before giving up.
const DefaultCandidates = 5

// Scheduler claims waiting chats for operators.
type Scheduler struct {
	db         *gorm.DB
	clock      clock.Clock
	events     events.Publisher
	log        zerolog.Logger
	candidates int
}

// Opts holds parameters for creating a Scheduler.
type Opts struct {
	DB         *gorm.DB
	Clock      clock.Clock
	Events     events.Publisher
	Log        zerolog.Logger
	Candidates int // default: DefaultCandidates
}

// New creates a Scheduler.
func New(opts Opts) (*Scheduler, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("assign: db is required")
	}
	n := opts.Candidates
	if n <= 0 {
		n = DefaultCandidates
	}
	return &Scheduler{
		db:         opts.DB,
		clock:      clock.Or(opts.Clock),
		events:     events.Or(opts.Events),
		log:        opts.Log,
		candidates: n,
	}, nil
}

// TryAssign binds the oldest eligible waiting chat to operatorID. Chats
// the operator held last are considered only after every other waiting
// chat. It returns (nil, nil) when there is nothing to claim.
//
// The operator row is locked for the whole claim so two requests from the
// same operator cannot each bind a chat. Each candidate is bound with a
// conditional UPDATE; losing a race to another operator moves on to the
// next candidate.
func (s *Scheduler) TryAssign(ctx context.Context, operatorID string) (*models.Chat, error) {
	if operatorID == "" {
		return nil, fmt.Errorf("assign: operatorID is required: %w", apperr.ErrInvalidInput)
	}
	now := s.clock.Now()

	var claimed *models.Chat
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		op, err := lockOperator(tx, operatorID)
		if err != nil {
			return err
		}
		if !op.IsActive {
			return fmt.Errorf("assign: operator %s is deactivated: %w", operatorID, apperr.ErrForbidden)
		}
		if !op.IsAvailable {
			return fmt.Errorf("assign: operator %s is not available: %w", operatorID, apperr.ErrInvalidInput)
		}

		held, err := heldBy(tx, operatorID)
		if err != nil {
			return err
		}
		if held != nil {
			return fmt.Errorf("assign: operator %s already holds chat %s: %w", operatorID, held.ID, apperr.ErrConflict)
		}

		claimed, err = s.claim(tx, operatorID, now)
		return err
	})
	if errors.Is(err, ErrNoWork) {
		s.log.Debug().Str("operator_id", operatorID).Msg("no waiting chats")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("chat_id", claimed.ID).
		Str("operator_id", operatorID).
		Msg("chat assigned")
	s.events.Publish(ctx, events.Event{
		Type:       events.AssignmentCreated,
		ChatID:     claimed.ID,
		OperatorID: operatorID,
		UserID:     claimed.RealUserID,
		At:         now,
	})
	return claimed, nil
}

// claim walks the candidate list until one conditional bind succeeds.
func (s *Scheduler) claim(tx *gorm.DB, operatorID string, now time.Time) (*models.Chat, error) {
	var candidates []models.Chat
	result := tx.Where("is_active = ? AND assigned_operator_id IS NULL AND needs_attention = ?", true, false).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Order(clause.OrderBy{Expression: clause.Expr{
			SQL:                "CASE WHEN last_operator_id = ? THEN 1 ELSE 0 END, created_at ASC, id ASC",
			Vars:               []interface{}{operatorID},
			WithoutParentheses: true,
		}}).
		Limit(s.candidates).
		Find(&candidates)
	if result.Error != nil {
		return nil, fmt.Errorf("assign: find waiting chats: %w", apperr.Internal(result.Error))
	}

	for i := range candidates {
		c := &candidates[i]
		ok, err := Bind(tx, c.ID, operatorID, now)
		if err != nil {
			return nil, err
		}
		if !ok {
			s.log.Debug().Str("chat_id", c.ID).Str("operator_id", operatorID).Msg("lost claim race")
			continue
		}
		opID := operatorID
		at := now
		c.AssignedOperatorID = &opID
		c.AssignmentTime = &at
		c.LastOperatorID = &opID
		c.UpdatedAt = now
		return c, nil
	}
	return nil, ErrNoWork
}

// Bind assigns chatID to operatorID inside tx if the chat is active,
// unassigned and not escalated. It reports false when the chat was not
// claimable. On success it opens the history record, creates the heartbeat
// row and stamps the operator's activity.
func Bind(tx *gorm.DB, chatID, operatorID string, now time.Time) (bool, error) {
	return bind(tx, chatID, operatorID, "", now, false)
}

// Override is Bind for admins: escalated chats are accepted too, the
// escalation flag is cleared and reason is stored on the history record.
func Override(tx *gorm.DB, chatID, operatorID, reason string, now time.Time) (bool, error) {
	return bind(tx, chatID, operatorID, reason, now, true)
}

func bind(tx *gorm.DB, chatID, operatorID, reason string, now time.Time, includeEscalated bool) (bool, error) {
	q := tx.Model(&models.Chat{}).Where("id = ? AND is_active = ? AND assigned_operator_id IS NULL", chatID, true)
	if !includeEscalated {
		q = q.Where("needs_attention = ?", false)
	}
	result := q.Updates(map[string]interface{}{
		"assigned_operator_id": operatorID,
		"assignment_time":      now,
		"last_operator_id":     operatorID,
		"needs_attention":      false,
		"escalated_at":         nil,
		"updated_at":           now,
	})
	if result.Error != nil {
		return false, fmt.Errorf("assign: bind %s to %s: %w", chatID, operatorID, apperr.Internal(result.Error))
	}
	if result.RowsAffected != 1 {
		return false, nil
	}

	if _, err := history.Append(tx, chatID, operatorID, reason, now); err != nil {
		return false, err
	}
	activity := models.OperatorActivity{ChatID: chatID, OperatorID: operatorID, LastActivity: now}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chat_id"}, {Name: "operator_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_activity"}),
	}).Create(&activity).Error; err != nil {
		return false, fmt.Errorf("assign: create activity %s/%s: %w", chatID, operatorID, apperr.Internal(err))
	}
	if err := tx.Model(&models.Operator{}).Where("id = ?", operatorID).
		Update("last_activity", now).Error; err != nil {
		return false, fmt.Errorf("assign: stamp operator %s: %w", operatorID, apperr.Internal(err))
	}
	return true, nil
}

// Held returns the active chat operatorID holds, or nil.
func Held(ctx context.Context, db *gorm.DB, operatorID string) (*models.Chat, error) {
	return heldBy(db.WithContext(ctx), operatorID)
}

func heldBy(db *gorm.DB, operatorID string) (*models.Chat, error) {
	var chats []models.Chat
	if err := db.Where("assigned_operator_id = ? AND is_active = ?", operatorID, true).
		Order("assignment_time ASC").
		Limit(1).
		Find(&chats).Error; err != nil {
		return nil, fmt.Errorf("assign: chat held by %s: %w", operatorID, apperr.Internal(err))
	}
	if len(chats) == 0 {
		return nil, nil
	}
	return &chats[0], nil
}

func lockOperator(tx *gorm.DB, operatorID string) (*models.Operator, error) {
	var op models.Operator
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", operatorID).First(&op).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("assign: operator %s: %w", operatorID, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("assign: load operator %s: %w", operatorID, apperr.Internal(err))
	}
	return &op, nil
}

// Waiting returns the claimable queue in the order TryAssign would consider
// it for an operator with no history.
func Waiting(ctx context.Context, db *gorm.DB, limit int) ([]models.Chat, error) {
	q := db.WithContext(ctx).
		Where("is_active = ? AND assigned_operator_id IS NULL AND needs_attention = ?", true, false).
		Order("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var chats []models.Chat
	if err := q.Find(&chats).Error; err != nil {
		return nil, fmt.Errorf("assign: waiting chats: %w", apperr.Internal(err))
	}
	return chats, nil
}
