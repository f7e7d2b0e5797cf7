// Package operator tracks operators: registration, availability and the
// per-chat heartbeat that tells the idle sweep an operator is still there.
package operator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/zulandar/switchboard/internal/apperr"
	"github.com/zulandar/switchboard/internal/assign"
	"github.com/zulandar/switchboard/internal/clock"
	"github.com/zulandar/switchboard/internal/events"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/recovery"
	"github.com/zulandar/switchboard/internal/settings"
	"gorm.io/gorm"
)

// DeactivatedReason is appended to the manual unassign reason when a
// deactivated operator's chat is released.
const DeactivatedReason = "operator_deactivated"

// Registry manages operators.
type Registry struct {
	db        *gorm.DB
	clock     clock.Clock
	scheduler *assign.Scheduler
	recovery  *recovery.Policy
	settings  settings.Source
	events    events.Publisher
	log       zerolog.Logger
}

// Opts holds parameters for creating a Registry.
type Opts struct {
	DB        *gorm.DB
	Clock     clock.Clock
	Scheduler *assign.Scheduler
	Recovery  *recovery.Policy
	Settings  settings.Source
	Events    events.Publisher
	Log       zerolog.Logger
}

// New creates a Registry.
func New(opts Opts) (*Registry, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("operator: db is required")
	}
	if opts.Scheduler == nil {
		return nil, fmt.Errorf("operator: scheduler is required")
	}
	if opts.Recovery == nil {
		return nil, fmt.Errorf("operator: recovery policy is required")
	}
	if opts.Settings == nil {
		return nil, fmt.Errorf("operator: settings source is required")
	}
	return &Registry{
		db:        opts.DB,
		clock:     clock.Or(opts.Clock),
		scheduler: opts.Scheduler,
		recovery:  opts.Recovery,
		settings:  opts.Settings,
		events:    events.Or(opts.Events),
		log:       opts.Log,
	}, nil
}

// RegisterOpts holds parameters for registering an operator.
type RegisterOpts struct {
	ID   string // optional; generated when empty
	Name string
	Role string // default: operator
}

// GenerateID creates an operator ID in op-xxxxxxxx format (8-char hex).
func GenerateID() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("operator: generate ID: %w", err)
	}
	return "op-" + hex.EncodeToString(b), nil
}

// generateUniqueID generates an ID and retries once on collision.
func generateUniqueID(db *gorm.DB) (string, error) {
	for range 2 {
		id, err := GenerateID()
		if err != nil {
			return "", err
		}
		var count int64
		if err := db.Model(&models.Operator{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return "", fmt.Errorf("operator: check ID uniqueness: %w", apperr.Internal(err))
		}
		if count == 0 {
			return id, nil
		}
	}
	return "", fmt.Errorf("operator: failed to generate unique ID after retries")
}

// Register creates an active, unavailable operator.
func (r *Registry) Register(ctx context.Context, opts RegisterOpts) (*models.Operator, error) {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return nil, fmt.Errorf("operator: name is required: %w", apperr.ErrInvalidInput)
	}
	role := opts.Role
	if role == "" {
		role = models.RoleOperator
	}
	if role != models.RoleOperator && role != models.RoleAdmin {
		return nil, fmt.Errorf("operator: unknown role %q: %w", role, apperr.ErrInvalidInput)
	}

	db := r.db.WithContext(ctx)
	id := opts.ID
	if id == "" {
		var err error
		if id, err = generateUniqueID(db); err != nil {
			return nil, err
		}
	} else {
		var count int64
		if err := db.Model(&models.Operator{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return nil, fmt.Errorf("operator: check %s: %w", id, apperr.Internal(err))
		}
		if count > 0 {
			return nil, fmt.Errorf("operator: %s already exists: %w", id, apperr.ErrConflict)
		}
	}

	now := r.clock.Now()
	op := models.Operator{
		ID:           id,
		Name:         name,
		Role:         role,
		IsActive:     true,
		LastActivity: now,
		CreatedAt:    now,
	}
	if err := db.Create(&op).Error; err != nil {
		return nil, fmt.Errorf("operator: register: %w", apperr.Internal(err))
	}
	r.log.Info().Str("operator_id", id).Str("role", role).Msg("operator registered")
	return &op, nil
}

// Get retrieves an operator by ID.
func (r *Registry) Get(ctx context.Context, operatorID string) (*models.Operator, error) {
	var op models.Operator
	if err := r.db.WithContext(ctx).Where("id = ?", operatorID).First(&op).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("operator: %s: %w", operatorID, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("operator: get %s: %w", operatorID, apperr.Internal(err))
	}
	return &op, nil
}

// ListFilter narrows List.
type ListFilter struct {
	ActiveOnly    bool
	AvailableOnly bool
}

// List returns operators ordered by name.
func (r *Registry) List(ctx context.Context, f ListFilter) ([]models.Operator, error) {
	q := r.db.WithContext(ctx).Order("name ASC, id ASC")
	if f.ActiveOnly {
		q = q.Where("is_active = ?", true)
	}
	if f.AvailableOnly {
		q = q.Where("is_available = ?", true)
	}
	var ops []models.Operator
	if err := q.Find(&ops).Error; err != nil {
		return nil, fmt.Errorf("operator: list: %w", apperr.Internal(err))
	}
	return ops, nil
}

// Deactivate disables the account and releases any chat it holds back to
// the waiting pool. Deactivating twice is not an error.
func (r *Registry) Deactivate(ctx context.Context, operatorID string) (*recovery.Release, error) {
	result := r.db.WithContext(ctx).Model(&models.Operator{}).
		Where("id = ?", operatorID).
		Updates(map[string]interface{}{
			"is_active":     false,
			"is_available":  false,
			"last_activity": r.clock.Now(),
		})
	if result.Error != nil {
		return nil, fmt.Errorf("operator: deactivate %s: %w", operatorID, apperr.Internal(result.Error))
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("operator: %s: %w", operatorID, apperr.ErrNotFound)
	}

	rel, err := r.recovery.ReleaseOperator(ctx, operatorID, DeactivatedReason)
	if err != nil {
		return nil, err
	}
	r.log.Info().Str("operator_id", operatorID).Msg("operator deactivated")
	r.publishStatus(ctx, operatorID, false)
	return rel, nil
}

func (r *Registry) publishStatus(ctx context.Context, operatorID string, available bool) {
	r.events.Publish(ctx, events.Event{
		Type:       events.OperatorStatusChanged,
		OperatorID: operatorID,
		Available:  &available,
		At:         r.clock.Now(),
	})
}
