//go:build linux

package stream

import (
	"golang.org/x/sys/unix"

	"github.com/tphakala/pitchnet-go/internal/errors"
)

// LockMemory pins the process's current and future pages so the audio
// callback never takes a page fault. It usually needs CAP_IPC_LOCK or a
// raised RLIMIT_MEMLOCK.
func LockMemory() error {
	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		return errors.New(err).
			Component("stream").
			Category(errors.CategorySystem).
			Context("operation", "mlockall").
			Build()
	}
	return nil
}

// UnlockMemory undoes LockMemory.
func UnlockMemory() error {
	return unix.Munlockall()
}
