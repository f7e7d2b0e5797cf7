package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Platform holds the tunable policy values read by the scheduler, the
// idle-recovery policy and the billing gate. Values are validated once when
// loaded and passed around by value.
type Platform struct {
	IdleTimeoutMinutes int `yaml:"idle_timeout_minutes" validate:"min=1,max=30"`
	MaxReassignments   int `yaml:"max_reassignments" validate:"min=1,max=10"`
	FreeMessageCount   int `yaml:"free_message_count" validate:"min=0,max=10"`
	CreditPrice        int `yaml:"credit_price" validate:"min=1,max=1000"`
}

// Platform defaults used when neither the config file nor the settings
// table provides a value.
const (
	DefaultIdleTimeoutMinutes = 5
	DefaultMaxReassignments   = 3
	DefaultFreeMessageCount   = 3
	DefaultCreditPrice        = 10
)

var platformValidator = validator.New()

// DefaultPlatform returns the built-in policy.
func DefaultPlatform() Platform {
	return Platform{
		IdleTimeoutMinutes: DefaultIdleTimeoutMinutes,
		MaxReassignments:   DefaultMaxReassignments,
		FreeMessageCount:   DefaultFreeMessageCount,
		CreditPrice:        DefaultCreditPrice,
	}
}

// Validate checks every field against its documented range.
func (p Platform) Validate() error {
	err := platformValidator.Struct(p)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("platform: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("platform.%s must be %s %s (got %v)",
			fe.Field(), rangeWord(fe.Tag()), fe.Param(), fe.Value()))
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}

func rangeWord(tag string) string {
	switch tag {
	case "min":
		return ">="
	case "max":
		return "<="
	}
	return tag
}

// IdleTimeout is the configured idle threshold.
func (p Platform) IdleTimeout() time.Duration {
	return time.Duration(p.IdleTimeoutMinutes) * time.Minute
}

// WarningAfter is the idle time after which clients show the inactivity
// warning: one minute before the timeout, but never under one minute.
func (p Platform) WarningAfter() time.Duration {
	w := p.IdleTimeout() - time.Minute
	if w < time.Minute {
		w = time.Minute
	}
	return w
}
