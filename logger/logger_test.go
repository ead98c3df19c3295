package logger

import (
	"sync/atomic"
	"testing"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("test")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "test" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	// Ensure environment variables do not override the provided level
	t.Setenv("OPTIONFLOW_LOG_LEVEL", "")
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestEnvLevelPrecedence(t *testing.T) {
	t.Setenv("OPTIONFLOW_LOG_LEVEL", "debug")
	t.Setenv("LOG_LEVEL", "error")
	if got := envLevel("info"); got != "debug" {
		t.Fatalf("envLevel = %q, want debug", got)
	}

	t.Setenv("OPTIONFLOW_LOG_LEVEL", "")
	if got := envLevel("info"); got != "error" {
		t.Fatalf("envLevel = %q, want error", got)
	}

	t.Setenv("LOG_LEVEL", "")
	if got := envLevel("info"); got != "info" {
		t.Fatalf("envLevel = %q, want info", got)
	}
}

func TestDomainCounters(t *testing.T) {
	before := atomic.LoadInt64(&scansDone)
	IncrementScan("HK", 42)
	if got := atomic.LoadInt64(&scansDone); got != before+1 {
		t.Fatalf("scansDone = %d, want %d", got, before+1)
	}

	before = atomic.LoadInt64(&alertsSent)
	IncrementAlertsSent(3)
	if got := atomic.LoadInt64(&alertsSent); got != before+3 {
		t.Fatalf("alertsSent = %d, want %d", got, before+3)
	}

	before = atomic.LoadInt64(&turnTimeouts)
	IncrementTurnTimeout()
	if got := atomic.LoadInt64(&turnTimeouts); got != before+1 {
		t.Fatalf("turnTimeouts = %d, want %d", got, before+1)
	}
}
