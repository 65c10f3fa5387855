//go:build !linux

package drives

import (
	"context"
	"fmt"
	"runtime"
)

// StubEnumerator is the enumerator for platforms without lsblk.
type StubEnumerator struct{}

// NewEnumerator creates a stub enumerator on non-Linux systems
func NewEnumerator() (Enumerator, error) {
	return &StubEnumerator{}, nil
}

func (e *StubEnumerator) List(ctx context.Context) ([]Drive, error) {
	return nil, fmt.Errorf("drive enumeration not supported on %s", runtime.GOOS)
}
