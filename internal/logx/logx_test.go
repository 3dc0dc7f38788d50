package logx

import "testing"

func TestWithAttachesFieldsWithoutResettingClock(t *testing.T) {
	l := New("test", true)
	start := l.start

	child := l.With("cpu", 3)
	if child.start != start {
		t.Fatalf("With() must preserve the elapsed-time clock")
	}
	// Smoke test: these must not panic.
	child.Info("hello", "n", 1)
	child.Warn("careful")
	child.Error("bad")
}

func TestQuietLoggerDoesNotPanic(t *testing.T) {
	l := New("test", false)
	l.Info("suppressed")
}
