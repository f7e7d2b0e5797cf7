// Package recovery takes chats away from operators. The periodic sweep
// releases chats whose operator stopped sending heartbeats; a chat that
// keeps bouncing is escalated for an admin instead of re-queued. Manual
// unassignment and admin reassignment share the same release mechanics.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/zulandar/switchboard/internal/alert"
	"github.com/zulandar/switchboard/internal/apperr"
	"github.com/zulandar/switchboard/internal/assign"
	"github.com/zulandar/switchboard/internal/clock"
	"github.com/zulandar/switchboard/internal/events"
	"github.com/zulandar/switchboard/internal/history"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/settings"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Outcome is what a release did to the chat.
type Outcome string

// Release outcomes.
const (
	Reassigned Outcome = "reassigned" // back in the waiting pool
	Escalated  Outcome = "escalated"  // out of the pool until an admin acts
	Rebound    Outcome = "rebound"    // handed straight to another operator
	Skipped    Outcome = "skipped"    // nothing to release
)

// Release describes one completed release.
type Release struct {
	ChatID        string
	OperatorID    string
	Reason        string
	Outcome       Outcome
	PriorReleases int
	NewOperatorID string
	At            time.Time
}

// SweepResult summarises one idle sweep.
type SweepResult struct {
	Scanned    int
	Reassigned int
	Escalated  int
	Skipped    int
	Failed     int
	Releases   []Release
}

// Policy applies the idle-recovery rules.
type Policy struct {
	db          *gorm.DB
	clock       clock.Clock
	settings    settings.Source
	events      events.Publisher
	alerts      alert.Notifier
	log         zerolog.Logger
	countWindow time.Duration
}

// Opts holds parameters for creating a Policy.
type Opts struct {
	DB       *gorm.DB
	Clock    clock.Clock
	Settings settings.Source
	Events   events.Publisher
	Alerts   alert.Notifier // optional
	Log      zerolog.Logger
	// CountWindow bounds which idle releases count toward escalation.
	// Zero counts every release since the last manual intervention.
	CountWindow time.Duration
}

// New creates a Policy.
func New(opts Opts) (*Policy, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("recovery: db is required")
	}
	if opts.Settings == nil {
		return nil, fmt.Errorf("recovery: settings source is required")
	}
	if opts.CountWindow < 0 {
		return nil, fmt.Errorf("recovery: count window must not be negative")
	}
	return &Policy{
		db:          opts.DB,
		clock:       clock.Or(opts.Clock),
		settings:    opts.Settings,
		events:      events.Or(opts.Events),
		alerts:      opts.Alerts,
		log:         opts.Log,
		countWindow: opts.CountWindow,
	}, nil
}

// ReleaseTx clears operatorID's hold on chatID inside tx. The chat update is
// conditional on operatorID still holding it; false means someone else
// already released it and nothing was changed. escalate flags the chat for
// admin attention instead of returning it to the pool. A hold without an open
// assignment record is an internal error and the caller's tx must roll back.
func ReleaseTx(tx *gorm.DB, chatID, operatorID, reason string, now time.Time, escalate bool) (bool, error) {
	var escalatedAt interface{}
	if escalate {
		escalatedAt = now
	}
	result := tx.Model(&models.Chat{}).
		Where("id = ? AND assigned_operator_id = ?", chatID, operatorID).
		Updates(map[string]interface{}{
			"assigned_operator_id": nil,
			"assignment_time":      nil,
			"needs_attention":      escalate,
			"escalated_at":         escalatedAt,
			"updated_at":           now,
		})
	if result.Error != nil {
		return false, fmt.Errorf("recovery: release %s from %s: %w", chatID, operatorID, apperr.Internal(result.Error))
	}
	if result.RowsAffected != 1 {
		return false, nil
	}

	closed, err := history.Close(tx, chatID, operatorID, reason, now)
	if err != nil {
		return false, err
	}
	if closed == 0 {
		return false, apperr.Internal(fmt.Errorf("recovery: chat %s has no open assignment record for %s", chatID, operatorID))
	}
	if err := tx.Where("chat_id = ? AND operator_id = ?", chatID, operatorID).
		Delete(&models.OperatorActivity{}).Error; err != nil {
		return false, fmt.Errorf("recovery: delete activity %s/%s: %w", chatID, operatorID, apperr.Internal(err))
	}
	return true, nil
}

// Sweep releases every assigned chat whose operator has been silent for
// longer than the idle timeout. Failures on one chat are logged and
// counted; the sweep carries on with the rest. Running it twice in a row
// releases nothing the second time.
func (p *Policy) Sweep(ctx context.Context) (*SweepResult, error) {
	policy := p.settings.Current()
	now := p.clock.Now()
	cutoff := now.Add(-policy.IdleTimeout())

	var due []models.Chat
	if err := p.db.WithContext(ctx).Model(&models.Chat{}).
		Select("chats.*").
		Joins("LEFT JOIN operator_activities oa ON oa.chat_id = chats.id AND oa.operator_id = chats.assigned_operator_id").
		Where("chats.is_active = ? AND chats.assigned_operator_id IS NOT NULL AND chats.assignment_time < ?", true, cutoff).
		Where("oa.chat_id IS NULL OR oa.last_activity < ?", cutoff).
		Order("chats.assignment_time ASC").
		Find(&due).Error; err != nil {
		return nil, fmt.Errorf("recovery: find idle chats: %w", apperr.Internal(err))
	}

	res := &SweepResult{Scanned: len(due)}
	for _, c := range due {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		opID := *c.AssignedOperatorID
		rel, err := p.releaseIdle(ctx, c.ID, opID, policy.MaxReassignments, cutoff, now)
		if err != nil {
			res.Failed++
			p.log.Error().Err(err).Str("chat_id", c.ID).Str("operator_id", opID).Msg("idle release failed")
			continue
		}
		switch rel.Outcome {
		case Reassigned:
			res.Reassigned++
		case Escalated:
			res.Escalated++
		default:
			res.Skipped++
			continue
		}
		res.Releases = append(res.Releases, *rel)
		p.announce(ctx, rel)
	}

	if res.Scanned > 0 {
		p.log.Info().
			Int("scanned", res.Scanned).
			Int("reassigned", res.Reassigned).
			Int("escalated", res.Escalated).
			Int("skipped", res.Skipped).
			Int("failed", res.Failed).
			Msg("idle sweep")
	}
	return res, nil
}

// releaseIdle re-checks idleness under the chat lock, counts prior idle
// releases and releases the chat.
func (p *Policy) releaseIdle(ctx context.Context, chatID, operatorID string, maxReassignments int, cutoff, now time.Time) (*Release, error) {
	rel := &Release{ChatID: chatID, OperatorID: operatorID, Reason: models.ReasonIdleTimeout, Outcome: Skipped, At: now}
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		chat, err := lockChat(tx, chatID)
		if err != nil {
			return err
		}
		if !chat.IsActive || !chat.HeldBy(operatorID) || chat.AssignmentTime == nil || !chat.AssignmentTime.Before(cutoff) {
			return nil
		}

		var acts []models.OperatorActivity
		if err := tx.Where("chat_id = ? AND operator_id = ?", chatID, operatorID).Limit(1).Find(&acts).Error; err != nil {
			return fmt.Errorf("recovery: load activity %s/%s: %w", chatID, operatorID, apperr.Internal(err))
		}
		if len(acts) > 0 && !acts[0].LastActivity.Before(cutoff) {
			return nil
		}

		var since time.Time
		if p.countWindow > 0 {
			since = now.Add(-p.countWindow)
		}
		prior, err := history.CountIdleReleases(tx, chatID, since)
		if err != nil {
			return err
		}
		escalate := prior >= maxReassignments

		ok, err := ReleaseTx(tx, chatID, operatorID, models.ReasonIdleTimeout, now, escalate)
		if err != nil || !ok {
			return err
		}
		rel.PriorReleases = prior
		rel.Outcome = Reassigned
		if escalate {
			rel.Outcome = Escalated
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rel, nil
}

// Unassign returns chatID to the waiting pool. actorID must hold the chat
// or be an admin. Manual releases reset the idle-release count, so an
// escalation flag is cleared too.
func (p *Policy) Unassign(ctx context.Context, chatID, actorID, detail string) (*Release, error) {
	now := p.clock.Now()
	reason := history.Reason(models.ReasonManualUnassign, detail)
	rel := &Release{ChatID: chatID, Reason: reason, Outcome: Reassigned, At: now}

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		actor, err := loadActor(tx, actorID)
		if err != nil {
			return err
		}
		chat, err := lockChat(tx, chatID)
		if err != nil {
			return err
		}
		if chat.AssignedOperatorID == nil {
			return fmt.Errorf("recovery: chat %s is not assigned: %w", chatID, apperr.ErrConflict)
		}
		holder := *chat.AssignedOperatorID
		if holder != actor.ID && actor.Role != models.RoleAdmin {
			return fmt.Errorf("recovery: %s may not unassign chat %s: %w", actorID, chatID, apperr.ErrForbidden)
		}
		ok, err := ReleaseTx(tx, chatID, holder, reason, now, false)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("recovery: chat %s was released concurrently: %w", chatID, apperr.ErrConflict)
		}
		rel.OperatorID = holder
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.log.Info().Str("chat_id", chatID).Str("operator_id", rel.OperatorID).Str("actor_id", actorID).Str("reason", reason).Msg("chat unassigned")
	p.announce(ctx, rel)
	return rel, nil
}

// ReleaseOperator releases whatever chat operatorID holds, for example when
// the account is deactivated. It returns nil when nothing was held.
func (p *Policy) ReleaseOperator(ctx context.Context, operatorID, detail string) (*Release, error) {
	now := p.clock.Now()
	reason := history.Reason(models.ReasonManualUnassign, detail)

	var rel *Release
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var held []models.Chat
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("assigned_operator_id = ?", operatorID).
			Find(&held).Error; err != nil {
			return fmt.Errorf("recovery: chats held by %s: %w", operatorID, apperr.Internal(err))
		}
		for _, c := range held {
			ok, err := ReleaseTx(tx, c.ID, operatorID, reason, now, false)
			if err != nil {
				return err
			}
			if ok {
				rel = &Release{ChatID: c.ID, OperatorID: operatorID, Reason: reason, Outcome: Reassigned, At: now}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if rel != nil {
		p.log.Info().Str("chat_id", rel.ChatID).Str("operator_id", operatorID).Str("reason", reason).Msg("chat released")
		p.announce(ctx, rel)
	}
	return rel, nil
}

// AdminReassign moves chatID to newOperatorID in one transaction. The
// current holder, if any, is released first. Escalated chats are accepted
// and their flag is cleared.
func (p *Policy) AdminReassign(ctx context.Context, chatID, adminID, newOperatorID, detail string) (*Release, error) {
	now := p.clock.Now()
	reason := history.Reason(models.ReasonAdminReassign, detail)
	rel := &Release{ChatID: chatID, Reason: reason, Outcome: Rebound, NewOperatorID: newOperatorID, At: now}

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		admin, err := loadActor(tx, adminID)
		if err != nil {
			return err
		}
		if admin.Role != models.RoleAdmin {
			return fmt.Errorf("recovery: %s is not an admin: %w", adminID, apperr.ErrForbidden)
		}

		var target models.Operator
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", newOperatorID).First(&target).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("recovery: operator %s: %w", newOperatorID, apperr.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("recovery: load operator %s: %w", newOperatorID, apperr.Internal(err))
		}
		if !target.IsActive {
			return fmt.Errorf("recovery: operator %s is deactivated: %w", newOperatorID, apperr.ErrInvalidInput)
		}

		chat, err := lockChat(tx, chatID)
		if err != nil {
			return err
		}
		if !chat.IsActive {
			return fmt.Errorf("recovery: chat %s is closed: %w", chatID, apperr.ErrInvalidInput)
		}
		if chat.HeldBy(newOperatorID) {
			return fmt.Errorf("recovery: operator %s already holds chat %s: %w", newOperatorID, chatID, apperr.ErrInvalidInput)
		}

		var busy int64
		if err := tx.Model(&models.Chat{}).
			Where("assigned_operator_id = ? AND is_active = ?", newOperatorID, true).
			Count(&busy).Error; err != nil {
			return fmt.Errorf("recovery: chats held by %s: %w", newOperatorID, apperr.Internal(err))
		}
		if busy > 0 {
			return fmt.Errorf("recovery: operator %s already holds a chat: %w", newOperatorID, apperr.ErrConflict)
		}

		if chat.AssignedOperatorID != nil {
			holder := *chat.AssignedOperatorID
			ok, err := ReleaseTx(tx, chatID, holder, reason, now, false)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("recovery: chat %s was released concurrently: %w", chatID, apperr.ErrConflict)
			}
			rel.OperatorID = holder
		}

		ok, err := assign.Override(tx, chatID, newOperatorID, reason, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("recovery: chat %s could not be bound to %s: %w", chatID, newOperatorID, apperr.ErrConflict)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.log.Info().
		Str("chat_id", chatID).
		Str("from_operator_id", rel.OperatorID).
		Str("to_operator_id", newOperatorID).
		Str("admin_id", adminID).
		Msg("chat reassigned by admin")
	if rel.OperatorID != "" {
		p.announce(ctx, rel)
	}
	p.events.Publish(ctx, events.Event{
		Type:       events.AssignmentCreated,
		ChatID:     chatID,
		OperatorID: newOperatorID,
		Reason:     reason,
		At:         now,
	})
	return rel, nil
}

// Escalated lists chats waiting for an admin, oldest escalation first.
func (p *Policy) Escalated(ctx context.Context) ([]models.Chat, error) {
	var chats []models.Chat
	if err := p.db.WithContext(ctx).
		Where("is_active = ? AND needs_attention = ? AND assigned_operator_id IS NULL", true, true).
		Order("escalated_at ASC, id ASC").
		Find(&chats).Error; err != nil {
		return nil, fmt.Errorf("recovery: escalated chats: %w", apperr.Internal(err))
	}
	return chats, nil
}

// announce publishes the release and, for escalations, alerts admins.
// Neither can fail the release.
func (p *Policy) announce(ctx context.Context, rel *Release) {
	if rel.OperatorID != "" {
		p.events.Publish(ctx, events.Event{
			Type:       events.AssignmentReleased,
			ChatID:     rel.ChatID,
			OperatorID: rel.OperatorID,
			Reason:     rel.Reason,
			At:         rel.At,
		})
	}
	if rel.Outcome != Escalated {
		return
	}

	p.log.Warn().Str("chat_id", rel.ChatID).Str("operator_id", rel.OperatorID).Int("prior_releases", rel.PriorReleases).Msg("chat escalated")
	p.events.Publish(ctx, events.Event{
		Type:       events.ChatEscalated,
		ChatID:     rel.ChatID,
		OperatorID: rel.OperatorID,
		Reason:     rel.Reason,
		At:         rel.At,
	})
	if p.alerts == nil {
		return
	}
	if err := p.alerts.Notify(ctx, alert.Alert{
		ChatID:     rel.ChatID,
		OperatorID: rel.OperatorID,
		Releases:   rel.PriorReleases + 1,
		Reason:     rel.Reason,
		At:         rel.At,
	}); err != nil {
		p.log.Warn().Err(err).Str("chat_id", rel.ChatID).Msg("escalation alert failed")
	}
}

func lockChat(tx *gorm.DB, chatID string) (*models.Chat, error) {
	var chat models.Chat
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", chatID).First(&chat).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("recovery: chat %s: %w", chatID, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("recovery: load chat %s: %w", chatID, apperr.Internal(err))
	}
	return &chat, nil
}

func loadActor(tx *gorm.DB, actorID string) (*models.Operator, error) {
	if actorID == "" {
		return nil, fmt.Errorf("recovery: actor is required: %w", apperr.ErrUnauthorized)
	}
	var actor models.Operator
	err := tx.Where("id = ?", actorID).First(&actor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("recovery: unknown actor %s: %w", actorID, apperr.ErrUnauthorized)
	}
	if err != nil {
		return nil, fmt.Errorf("recovery: load actor %s: %w", actorID, apperr.Internal(err))
	}
	if !actor.IsActive {
		return nil, fmt.Errorf("recovery: actor %s is deactivated: %w", actorID, apperr.ErrForbidden)
	}
	return &actor, nil
}
