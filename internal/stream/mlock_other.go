//go:build !linux

package stream

import "github.com/tphakala/pitchnet-go/internal/errors"

// LockMemory is only supported on Linux.
func LockMemory() error {
	return errors.Newf("memory locking is not supported on this platform").
		Component("stream").
		Category(errors.CategorySystem).
		Build()
}

// UnlockMemory is a no-op outside Linux.
func UnlockMemory() error { return nil }
