package logger

import "testing"

func TestInitAcceptsKnownLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		if err := Init(level); err != nil {
			t.Fatalf("init with level %s: %v", level, err)
		}
		if Logger() == nil {
			t.Fatal("expected a logger instance")
		}
	}
}

func TestInitFallsBackOnUnknownLevel(t *testing.T) {
	if err := Init("chatty"); err != nil {
		t.Fatalf("init with unknown level: %v", err)
	}
	if Logger() == nil {
		t.Fatal("expected a logger instance")
	}
}

func TestWithModule(t *testing.T) {
	if err := Init("info"); err != nil {
		t.Fatalf("init: %v", err)
	}

	child := WithModule("registration")
	if child == nil {
		t.Fatal("expected module logger")
	}
}
