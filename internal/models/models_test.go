package models

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

// gormTag extracts the gorm tag from a struct field.
func gormTag(t *testing.T, typ reflect.Type, fieldName string) string {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	return f.Tag.Get("gorm")
}

// assertGormTag checks that a struct field's gorm tag contains the expected value.
func assertGormTag(t *testing.T, typ reflect.Type, fieldName, expected string) {
	t.Helper()
	tag := gormTag(t, typ, fieldName)
	if !strings.Contains(tag, expected) {
		t.Errorf("%s.%s gorm tag = %q, want to contain %q", typ.Name(), fieldName, tag, expected)
	}
}

// assertFieldType checks that a struct field has the expected Go type.
func assertFieldType(t *testing.T, typ reflect.Type, fieldName, expectedType string) {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	got := f.Type.String()
	if got != expectedType {
		t.Errorf("%s.%s type = %q, want %q", typ.Name(), fieldName, got, expectedType)
	}
}

func TestChat_Fields(t *testing.T) {
	typ := reflect.TypeOf(Chat{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "RealUserID", "idx_chat_user_persona")
	assertGormTag(t, typ, "PersonaID", "idx_chat_user_persona")
	assertGormTag(t, typ, "AssignedOperatorID", "index")
	assertGormTag(t, typ, "IsActive", "not null")
	assertGormTag(t, typ, "NeedsAttention", "index")
	assertGormTag(t, typ, "CreatedAt", "index")

	// Nullable assignment columns.
	assertFieldType(t, typ, "AssignedOperatorID", "*string")
	assertFieldType(t, typ, "AssignmentTime", "*time.Time")
	assertFieldType(t, typ, "LastOperatorID", "*string")
	assertFieldType(t, typ, "LastMessageAt", "*time.Time")
	assertFieldType(t, typ, "EscalatedAt", "*time.Time")
}

func TestChat_BoolsHaveNoTrueDefault(t *testing.T) {
	// A default:true tag would make gorm skip explicit false values on insert.
	typ := reflect.TypeOf(Chat{})
	for _, f := range []string{"IsActive", "NeedsAttention"} {
		if strings.Contains(gormTag(t, typ, f), "default:true") {
			t.Errorf("Chat.%s must not default to true", f)
		}
	}
	typ = reflect.TypeOf(Operator{})
	for _, f := range []string{"IsActive", "IsAvailable"} {
		if strings.Contains(gormTag(t, typ, f), "default:true") {
			t.Errorf("Operator.%s must not default to true", f)
		}
	}
}

func TestOperatorActivity_CompositeKey(t *testing.T) {
	typ := reflect.TypeOf(OperatorActivity{})

	assertGormTag(t, typ, "ChatID", "primaryKey")
	assertGormTag(t, typ, "OperatorID", "primaryKey")
	assertFieldType(t, typ, "LastActivity", "time.Time")
}

func TestAssignmentRecord_Fields(t *testing.T) {
	typ := reflect.TypeOf(AssignmentRecord{})

	assertGormTag(t, typ, "ID", "autoIncrement")
	assertGormTag(t, typ, "ChatID", "index")
	assertGormTag(t, typ, "OperatorID", "index")
	assertGormTag(t, typ, "ReleaseReason", "size:255")
	assertGormTag(t, typ, "AssignReason", "default:scheduler")

	assertFieldType(t, typ, "ReleasedAt", "*time.Time")
	assertFieldType(t, typ, "AssignedAt", "time.Time")
}

func TestMessage_Fields(t *testing.T) {
	typ := reflect.TypeOf(Message{})

	assertGormTag(t, typ, "ChatID", "index")
	assertGormTag(t, typ, "SenderType", "not null")
	assertGormTag(t, typ, "Content", "type:text")
	assertFieldType(t, typ, "IsFreeMessage", "bool")
	assertFieldType(t, typ, "HandledByOperatorID", "*string")
}

func TestRealUser_Fields(t *testing.T) {
	typ := reflect.TypeOf(RealUser{})

	assertGormTag(t, typ, "Credits", "not null")
	assertGormTag(t, typ, "Credits", "default:0")
	assertFieldType(t, typ, "Credits", "int")
}

func TestCreditTransaction_Fields(t *testing.T) {
	typ := reflect.TypeOf(CreditTransaction{})

	assertGormTag(t, typ, "UserID", "index")
	assertGormTag(t, typ, "Reason", "size:32")
	assertFieldType(t, typ, "Delta", "int")
	assertFieldType(t, typ, "MessageID", "*string")
}

func TestPlatformSetting_Fields(t *testing.T) {
	typ := reflect.TypeOf(PlatformSetting{})

	assertGormTag(t, typ, "Key", "primaryKey")
	assertGormTag(t, typ, "Key", "size:64")
	assertGormTag(t, typ, "Value", "not null")
}

func TestChat_State(t *testing.T) {
	op := "op-1"
	now := time.Now()
	tests := []struct {
		name string
		chat Chat
		want string
	}{
		{"waiting", Chat{IsActive: true}, ChatWaiting},
		{"assigned", Chat{IsActive: true, AssignedOperatorID: &op, AssignmentTime: &now}, ChatAssigned},
		{"escalated", Chat{IsActive: true, NeedsAttention: true}, ChatEscalated},
		{"closed", Chat{IsActive: false, AssignedOperatorID: &op}, ChatClosed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.chat.State(); got != tt.want {
				t.Errorf("State() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestChat_HeldBy(t *testing.T) {
	op := "op-1"
	c := Chat{AssignedOperatorID: &op}
	if !c.HeldBy("op-1") {
		t.Error("HeldBy(op-1) = false, want true")
	}
	if c.HeldBy("op-2") {
		t.Error("HeldBy(op-2) = true, want false")
	}
	if (&Chat{}).HeldBy("op-1") {
		t.Error("unassigned chat should not be held")
	}
}
