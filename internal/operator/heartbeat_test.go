package operator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/switchboard/internal/apperr"
	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/dbtest"
	"github.com/zulandar/switchboard/internal/models"
)

func TestIdleStatus(t *testing.T) {
	p := config.DefaultPlatform()
	p.IdleTimeoutMinutes = 5
	last := dbtest.Epoch

	tests := []struct {
		after time.Duration
		want  Status
	}{
		{0, StatusActive},
		{3*time.Minute + 59*time.Second, StatusActive},
		{4 * time.Minute, StatusWarning},
		{5 * time.Minute, StatusIdle},
		{time.Hour, StatusIdle},
	}
	for _, tt := range tests {
		if got := IdleStatus(last, last.Add(tt.after), p); got != tt.want {
			t.Errorf("IdleStatus(+%v) = %s, want %s", tt.after, got, tt.want)
		}
	}

	// With a one minute timeout the warning floor meets the timeout.
	p.IdleTimeoutMinutes = 1
	if got := IdleStatus(last, last.Add(59*time.Second), p); got != StatusActive {
		t.Errorf("1m timeout at 59s = %s", got)
	}
	if got := IdleStatus(last, last.Add(time.Minute), p); got != StatusIdle {
		t.Errorf("1m timeout at 60s = %s", got)
	}
}

func activityOf(t *testing.T, f *fixture, chatID, opID string) time.Time {
	t.Helper()
	var act models.OperatorActivity
	if err := f.db.First(&act, "chat_id = ? AND operator_id = ?", chatID, opID).Error; err != nil {
		t.Fatalf("activity: %v", err)
	}
	return act.LastActivity
}

func TestHeartbeat(t *testing.T) {
	f := newFixture(t)
	chat := dbtest.Chat(t, f.db, dbtest.Epoch, 0)
	dbtest.Operator(t, f.db, "op-1", false)
	ctx := context.Background()
	if _, err := f.reg.SetAvailability(ctx, "op-1", true); err != nil {
		t.Fatalf("on: %v", err)
	}
	assignedAt := f.clock.Now()

	f.clock.Advance(2 * time.Minute)
	beat, err := f.reg.Heartbeat(ctx, chat.ID, "op-1", time.Time{})
	if err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if !beat.LastActivity.Equal(f.clock.Now()) || beat.Status != StatusActive {
		t.Errorf("beat = %+v", beat)
	}
	if !beat.IdleAt.Equal(f.clock.Now().Add(5 * time.Minute)) {
		t.Errorf("IdleAt = %v", beat.IdleAt)
	}
	if got := activityOf(t, f, chat.ID, "op-1"); !got.Equal(f.clock.Now()) {
		t.Errorf("activity = %v", got)
	}

	// Client-reported time in the future is clamped to now.
	f.clock.Advance(time.Minute)
	beat, _ = f.reg.Heartbeat(ctx, chat.ID, "op-1", f.clock.Now().Add(time.Hour))
	if !beat.LastActivity.Equal(f.clock.Now()) {
		t.Errorf("future time not clamped: %v", beat.LastActivity)
	}

	// An older report never moves the recorded time backwards.
	beat, _ = f.reg.Heartbeat(ctx, chat.ID, "op-1", assignedAt.Add(-time.Hour))
	if !beat.LastActivity.Equal(f.clock.Now()) {
		t.Errorf("activity moved backwards to %v", beat.LastActivity)
	}

	// Heartbeats do not touch the operator's coarse activity stamp.
	var op models.Operator
	f.db.First(&op, "id = ?", "op-1")
	if !op.LastActivity.Equal(assignedAt) {
		t.Errorf("operator last_activity = %v, want %v", op.LastActivity, assignedAt)
	}
}

func TestHeartbeat_RecreatesMissingRow(t *testing.T) {
	f := newFixture(t)
	chat := dbtest.Chat(t, f.db, dbtest.Epoch, 0)
	dbtest.Operator(t, f.db, "op-1", false)
	ctx := context.Background()
	f.reg.SetAvailability(ctx, "op-1", true)
	f.db.Where("chat_id = ?", chat.ID).Delete(&models.OperatorActivity{})

	f.clock.Advance(30 * time.Second)
	if _, err := f.reg.Heartbeat(ctx, chat.ID, "op-1", time.Time{}); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if got := activityOf(t, f, chat.ID, "op-1"); !got.Equal(f.clock.Now()) {
		t.Errorf("activity = %v", got)
	}
}

func TestHeartbeat_Rejections(t *testing.T) {
	f := newFixture(t)
	chat := dbtest.Chat(t, f.db, dbtest.Epoch, 0)
	dbtest.Operator(t, f.db, "op-1", false)
	dbtest.Operator(t, f.db, "op-2", false)
	ctx := context.Background()
	f.reg.SetAvailability(ctx, "op-1", true)

	if _, err := f.reg.Heartbeat(ctx, chat.ID, "op-2", time.Time{}); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("non-holder err = %v", err)
	}
	if _, err := f.reg.Heartbeat(ctx, "nope", "op-1", time.Time{}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing chat err = %v", err)
	}
	if n := dbtest.Count(t, f.db, &models.OperatorActivity{}, "operator_id = ?", "op-2"); n != 0 {
		t.Errorf("non-holder created %d activity rows", n)
	}
}

func TestHeartbeat_RacingReleaseLeavesNoActivity(t *testing.T) {
	f := newFixture(t)
	chat := dbtest.Chat(t, f.db, dbtest.Epoch, 0)
	dbtest.Operator(t, f.db, "op-1", false)
	ctx := context.Background()
	if _, err := f.reg.SetAvailability(ctx, "op-1", true); err != nil {
		t.Fatalf("on: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.reg.Heartbeat(ctx, chat.ID, "op-1", time.Time{})
			if err != nil && !errors.Is(err, apperr.ErrForbidden) {
				t.Errorf("Heartbeat: %v", err)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := f.reg.Deactivate(ctx, "op-1"); err != nil {
			t.Errorf("Deactivate: %v", err)
		}
	}()
	wg.Wait()

	if _, err := f.reg.Heartbeat(ctx, chat.ID, "op-1", time.Time{}); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("heartbeat after release err = %v", err)
	}
	if n := dbtest.Count(t, f.db, &models.OperatorActivity{}, "chat_id = ?", chat.ID); n != 0 {
		t.Errorf("activity rows after release = %d, want 0", n)
	}
}
