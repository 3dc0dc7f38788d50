package merr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfUnwraps(t *testing.T) {
	base := errors.New("boom")
	wrapped := fmt.Errorf("context: %w", Wrap(PermissionDenied, base))

	if got := KindOf(wrapped); got != PermissionDenied {
		t.Fatalf("KindOf = %v, want %v", got, PermissionDenied)
	}
}

func TestKindOfDefaultsGeneric(t *testing.T) {
	if got := KindOf(errors.New("plain")); got != Generic {
		t.Fatalf("KindOf(plain) = %v, want Generic", got)
	}
}

func TestExitCodes(t *testing.T) {
	cases := map[Kind]int{
		Generic:            1,
		PermissionDenied:   2,
		UnsupportedCounter: 3,
		ChildSpawnFailure:  4,
	}
	for k, want := range cases {
		if got := ExitCode(k); got != want {
			t.Errorf("ExitCode(%v) = %d, want %d", k, got, want)
		}
	}
}
