package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/zulandar/switchboard/internal/config"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(config.LogConfig{Level: "info", Format: "json"}, &buf)
	log.Info().Str("chat_id", "c1").Msg("released")

	out := buf.String()
	for _, want := range []string{`"service":"switchboard"`, `"chat_id":"c1"`, `"message":"released"`} {
		if !strings.Contains(out, want) {
			t.Errorf("output = %q, want to contain %q", out, want)
		}
	}
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log := New(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	log.Info().Msg("hidden")
	if buf.Len() != 0 {
		t.Errorf("info should be filtered at warn level, got %q", buf.String())
	}
	log.Warn().Msg("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("warn should be written, got %q", buf.String())
	}
}

func TestNew_BadLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New(config.LogConfig{Level: "loud"}, &buf)
	log.Debug().Msg("debug")
	log.Info().Msg("info")
	if strings.Contains(buf.String(), `"debug"`) && strings.Contains(buf.String(), `"message":"debug"`) {
		t.Error("debug should be filtered")
	}
	if !strings.Contains(buf.String(), `"message":"info"`) {
		t.Errorf("output = %q", buf.String())
	}
}
