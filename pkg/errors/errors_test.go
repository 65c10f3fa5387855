package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestWrap_Nil(t *testing.T) {
	if err := Wrap(nil, "context"); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestKindOf_ThroughWrap(t *testing.T) {
	cause := stderrors.New("exit status 1")
	err := Wrap(WithCause(KindWriteFailed, "Failed to write OS image", cause), "install")

	if got := KindOf(err); got != KindWriteFailed {
		t.Errorf("KindOf = %q, want %q", got, KindWriteFailed)
	}
	if !stderrors.Is(err, cause) {
		t.Error("cause should be reachable through the chain")
	}
	if KindOf(fmt.Errorf("plain")) != "" {
		t.Error("plain errors have no kind")
	}
}

func TestKind_Synchronous(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindInvalidOsSelection, true},
		{KindInvalidStorageTarget, true},
		{KindInvalidAccount, true},
		{KindInstallBusy, true},
		{KindCredentialHashFailed, true},
		{KindWriteFailed, false},
		{KindBootPartitionNotFound, false},
		{KindProvisionWriteFailed, false},
	}

	for _, tt := range tests {
		if got := tt.kind.Synchronous(); got != tt.want {
			t.Errorf("%s.Synchronous() = %v, want %v", tt.kind, got, tt.want)
		}
	}
}
