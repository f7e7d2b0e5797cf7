// Package chat manages the lifecycle of user to persona conversations and
// the participants on either side of them.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/zulandar/switchboard/internal/apperr"
	"github.com/zulandar/switchboard/internal/clock"
	"github.com/zulandar/switchboard/internal/events"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/recovery"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Service opens, closes and looks up chats.
type Service struct {
	db     *gorm.DB
	clock  clock.Clock
	events events.Publisher
	log    zerolog.Logger
}

// Opts holds parameters for creating a Service.
type Opts struct {
	DB     *gorm.DB
	Clock  clock.Clock
	Events events.Publisher
	Log    zerolog.Logger
}

// New creates a Service.
func New(opts Opts) (*Service, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("chat: db is required")
	}
	return &Service{
		db:     opts.DB,
		clock:  clock.Or(opts.Clock),
		events: events.Or(opts.Events),
		log:    opts.Log,
	}, nil
}

// State derives the scheduling state of c.
func State(c *models.Chat) string {
	return c.State()
}

// CreateUser registers a real user with a starting balance of zero.
// Credits are added through the ledger.
func (s *Service) CreateUser(ctx context.Context, name string) (*models.RealUser, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("chat: user name is required: %w", apperr.ErrInvalidInput)
	}
	u := models.RealUser{ID: uuid.NewString(), Name: name, CreatedAt: s.clock.Now()}
	if err := s.db.WithContext(ctx).Create(&u).Error; err != nil {
		return nil, fmt.Errorf("chat: create user: %w", apperr.Internal(err))
	}
	return &u, nil
}

// CreatePersona registers a persona.
func (s *Service) CreatePersona(ctx context.Context, name string) (*models.Persona, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("chat: persona name is required: %w", apperr.ErrInvalidInput)
	}
	p := models.Persona{ID: uuid.NewString(), Name: name, CreatedAt: s.clock.Now()}
	if err := s.db.WithContext(ctx).Create(&p).Error; err != nil {
		return nil, fmt.Errorf("chat: create persona: %w", apperr.Internal(err))
	}
	return &p, nil
}

// Open returns the active chat between userID and personaID, creating a
// waiting one if none exists. created reports whether a new chat was made.
func (s *Service) Open(ctx context.Context, userID, personaID string) (chat *models.Chat, created bool, err error) {
	now := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The user row lock serializes concurrent opens for the same user.
		var user models.RealUser
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", userID).First(&user).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("chat: user %s: %w", userID, apperr.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("chat: load user %s: %w", userID, apperr.Internal(err))
		}
		var personas int64
		if err := tx.Model(&models.Persona{}).Where("id = ?", personaID).Count(&personas).Error; err != nil {
			return fmt.Errorf("chat: load persona %s: %w", personaID, apperr.Internal(err))
		}
		if personas == 0 {
			return fmt.Errorf("chat: persona %s: %w", personaID, apperr.ErrNotFound)
		}

		var existing []models.Chat
		if err := tx.Where("real_user_id = ? AND persona_id = ? AND is_active = ?", userID, personaID, true).
			Order("created_at ASC").Limit(1).Find(&existing).Error; err != nil {
			return fmt.Errorf("chat: find open chat: %w", apperr.Internal(err))
		}
		if len(existing) > 0 {
			chat = &existing[0]
			return nil
		}

		chat = &models.Chat{
			ID:         uuid.NewString(),
			RealUserID: userID,
			PersonaID:  personaID,
			IsActive:   true,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := tx.Create(chat).Error; err != nil {
			return fmt.Errorf("chat: create: %w", apperr.Internal(err))
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		s.log.Info().Str("chat_id", chat.ID).Str("user_id", userID).Msg("chat opened")
		s.events.Publish(ctx, events.Event{Type: events.ChatOpened, ChatID: chat.ID, UserID: userID, At: now})
	}
	return chat, created, nil
}

// Close ends a chat. Any operator holding it is released with reason
// chat_closed. A non-empty userID restricts the call to the chat's owner.
// Closing a closed chat returns it unchanged.
func (s *Service) Close(ctx context.Context, chatID, userID string) (*models.Chat, error) {
	now := s.clock.Now()
	var (
		chat     models.Chat
		released string
		closed   bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", chatID).First(&chat).Error
		if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && userID != "" && chat.RealUserID != userID) {
			return fmt.Errorf("chat: %s: %w", chatID, apperr.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("chat: load %s: %w", chatID, apperr.Internal(err))
		}
		if !chat.IsActive {
			return nil
		}

		if chat.AssignedOperatorID != nil {
			holder := *chat.AssignedOperatorID
			ok, err := recovery.ReleaseTx(tx, chatID, holder, models.ReasonChatClosed, now, false)
			if err != nil {
				return err
			}
			if ok {
				released = holder
			}
		}
		if err := tx.Model(&models.Chat{}).Where("id = ?", chatID).Updates(map[string]interface{}{
			"is_active":       false,
			"needs_attention": false,
			"updated_at":      now,
		}).Error; err != nil {
			return fmt.Errorf("chat: close %s: %w", chatID, apperr.Internal(err))
		}
		closed = true
		if err := tx.Where("id = ?", chatID).First(&chat).Error; err != nil {
			return fmt.Errorf("chat: reload %s: %w", chatID, apperr.Internal(err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if released != "" {
		s.events.Publish(ctx, events.Event{
			Type:       events.AssignmentReleased,
			ChatID:     chatID,
			OperatorID: released,
			Reason:     models.ReasonChatClosed,
			At:         now,
		})
	}
	if closed {
		s.log.Info().Str("chat_id", chatID).Str("released", released).Msg("chat closed")
		s.events.Publish(ctx, events.Event{Type: events.ChatClosed, ChatID: chatID, UserID: chat.RealUserID, At: now})
	}
	return &chat, nil
}

// Get retrieves a chat by ID.
func (s *Service) Get(ctx context.Context, chatID string) (*models.Chat, error) {
	var c models.Chat
	if err := s.db.WithContext(ctx).Where("id = ?", chatID).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("chat: %s: %w", chatID, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("chat: get %s: %w", chatID, apperr.Internal(err))
	}
	return &c, nil
}

// ForUser lists a user's chats, newest first.
func (s *Service) ForUser(ctx context.Context, userID string, activeOnly bool) ([]models.Chat, error) {
	q := s.db.WithContext(ctx).Where("real_user_id = ?", userID)
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var chats []models.Chat
	if err := q.Order("created_at DESC, id ASC").Find(&chats).Error; err != nil {
		return nil, fmt.Errorf("chat: chats for %s: %w", userID, apperr.Internal(err))
	}
	return chats, nil
}
