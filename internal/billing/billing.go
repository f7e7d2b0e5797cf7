// Package billing is the gate every chat message passes through. User
// messages are free up to the per-chat quota and cost one credit after
// that; persona messages are never billed and are attributed to the
// operator holding the chat.
package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/zulandar/switchboard/internal/apperr"
	"github.com/zulandar/switchboard/internal/clock"
	"github.com/zulandar/switchboard/internal/events"
	"github.com/zulandar/switchboard/internal/ledger"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/settings"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MaxContentLength is the longest accepted message, in characters.
const MaxContentLength = 5000

// creditsPerMessage is what a billed user message costs.
const creditsPerMessage = 1

// Result is the outcome of a user message.
type Result struct {
	Message          *models.Message
	CreditsRemaining int
}

// Gate validates, bills and persists chat messages.
type Gate struct {
	db       *gorm.DB
	clock    clock.Clock
	settings settings.Source
	events   events.Publisher
	log      zerolog.Logger
}

// Opts holds parameters for creating a Gate.
type Opts struct {
	DB       *gorm.DB
	Clock    clock.Clock
	Settings settings.Source
	Events   events.Publisher
	Log      zerolog.Logger
}

// New creates a Gate.
func New(opts Opts) (*Gate, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("billing: db is required")
	}
	if opts.Settings == nil {
		return nil, fmt.Errorf("billing: settings source is required")
	}
	return &Gate{
		db:       opts.DB,
		clock:    clock.Or(opts.Clock),
		settings: opts.Settings,
		events:   events.Or(opts.Events),
		log:      opts.Log,
	}, nil
}

// CleanContent trims content and checks its length.
func CleanContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	n := utf8.RuneCountInString(content)
	if n < 1 {
		return "", fmt.Errorf("billing: message is empty: %w", apperr.ErrInvalidInput)
	}
	if n > MaxContentLength {
		return "", fmt.Errorf("billing: message is %d characters, limit is %d: %w", n, MaxContentLength, apperr.ErrInvalidInput)
	}
	return content, nil
}

// SubmitUserMessage appends a user message to chatID. The chat must belong
// to userID. The quota check, any debit, the insert and the chat counters
// commit together; if any step fails nothing is charged.
func (g *Gate) SubmitUserMessage(ctx context.Context, chatID, userID, content string) (*Result, error) {
	content, err := CleanContent(content)
	if err != nil {
		return nil, err
	}
	policy := g.settings.Current()
	now := g.clock.Now()

	res := &Result{}
	err = g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var chat models.Chat
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND real_user_id = ?", chatID, userID).
			First(&chat).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("billing: chat %s for user %s: %w", chatID, userID, apperr.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("billing: load chat %s: %w", chatID, apperr.Internal(err))
		}
		if !chat.IsActive {
			return fmt.Errorf("billing: chat %s is closed: %w", chatID, apperr.ErrInvalidInput)
		}

		var prior int64
		if err := tx.Model(&models.Message{}).
			Where("chat_id = ? AND sender_type = ?", chatID, models.SenderUser).
			Count(&prior).Error; err != nil {
			return fmt.Errorf("billing: count messages in %s: %w", chatID, apperr.Internal(err))
		}

		msg := &models.Message{
			ID:            uuid.NewString(),
			ChatID:        chatID,
			SenderType:    models.SenderUser,
			Content:       content,
			IsFreeMessage: prior < int64(policy.FreeMessageCount),
			CreatedAt:     now,
		}

		if msg.IsFreeMessage {
			var u models.RealUser
			if err := tx.Select("credits").Where("id = ?", userID).First(&u).Error; err != nil {
				return fmt.Errorf("billing: load user %s: %w", userID, apperr.Internal(err))
			}
			res.CreditsRemaining = u.Credits
		} else {
			bal, err := ledger.Debit(tx, ledger.Entry{
				UserID:    userID,
				Amount:    creditsPerMessage,
				Reason:    models.CreditReasonMessage,
				MessageID: &msg.ID,
				At:        now,
			})
			if err != nil {
				return err
			}
			res.CreditsRemaining = bal
		}

		if err := tx.Create(msg).Error; err != nil {
			return fmt.Errorf("billing: insert message in %s: %w", chatID, apperr.Internal(err))
		}
		if err := tx.Model(&models.Chat{}).Where("id = ?", chatID).Updates(map[string]interface{}{
			"message_count":   gorm.Expr("message_count + 1"),
			"last_message_at": now,
			"updated_at":      now,
		}).Error; err != nil {
			return fmt.Errorf("billing: update chat %s: %w", chatID, apperr.Internal(err))
		}
		res.Message = msg
		return nil
	})
	if err != nil {
		return nil, err
	}

	g.log.Debug().
		Str("chat_id", chatID).
		Str("message_id", res.Message.ID).
		Bool("free", res.Message.IsFreeMessage).
		Int("credits_remaining", res.CreditsRemaining).
		Msg("user message accepted")
	g.events.Publish(ctx, events.Event{
		Type:      events.MessageAppended,
		ChatID:    chatID,
		UserID:    userID,
		MessageID: res.Message.ID,
		At:        now,
	})
	return res, nil
}

// SubmitPersonaMessage appends a persona message written by operatorID,
// who must currently hold the chat. It counts as operator activity.
func (g *Gate) SubmitPersonaMessage(ctx context.Context, chatID, operatorID, content string) (*models.Message, error) {
	content, err := CleanContent(content)
	if err != nil {
		return nil, err
	}
	now := g.clock.Now()

	var msg *models.Message
	err = g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var chat models.Chat
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", chatID).First(&chat).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("billing: chat %s: %w", chatID, apperr.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("billing: load chat %s: %w", chatID, apperr.Internal(err))
		}
		if !chat.IsActive {
			return fmt.Errorf("billing: chat %s is closed: %w", chatID, apperr.ErrInvalidInput)
		}
		if !chat.HeldBy(operatorID) {
			return fmt.Errorf("billing: operator %s is not assigned to chat %s: %w", operatorID, chatID, apperr.ErrForbidden)
		}

		opID := operatorID
		msg = &models.Message{
			ID:                  uuid.NewString(),
			ChatID:              chatID,
			SenderType:          models.SenderPersona,
			Content:             content,
			HandledByOperatorID: &opID,
			CreatedAt:           now,
		}
		if err := tx.Create(msg).Error; err != nil {
			return fmt.Errorf("billing: insert message in %s: %w", chatID, apperr.Internal(err))
		}
		if err := tx.Model(&models.Chat{}).Where("id = ?", chatID).Updates(map[string]interface{}{
			"last_message_at": now,
			"updated_at":      now,
		}).Error; err != nil {
			return fmt.Errorf("billing: update chat %s: %w", chatID, apperr.Internal(err))
		}
		if err := tx.Model(&models.Operator{}).Where("id = ?", operatorID).Updates(map[string]interface{}{
			"total_messages": gorm.Expr("total_messages + 1"),
			"last_activity":  now,
		}).Error; err != nil {
			return fmt.Errorf("billing: update operator %s: %w", operatorID, apperr.Internal(err))
		}
		activity := models.OperatorActivity{ChatID: chatID, OperatorID: operatorID, LastActivity: now}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chat_id"}, {Name: "operator_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_activity"}),
		}).Create(&activity).Error; err != nil {
			return fmt.Errorf("billing: touch activity %s/%s: %w", chatID, operatorID, apperr.Internal(err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	g.events.Publish(ctx, events.Event{
		Type:       events.MessageAppended,
		ChatID:     chatID,
		OperatorID: operatorID,
		MessageID:  msg.ID,
		At:         now,
	})
	return msg, nil
}

// Messages returns a chat's messages, oldest first.
func (g *Gate) Messages(ctx context.Context, chatID string) ([]models.Message, error) {
	var msgs []models.Message
	if err := g.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at ASC, id ASC").
		Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("billing: messages of %s: %w", chatID, apperr.Internal(err))
	}
	return msgs, nil
}
