//go:build !windows

package fs

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"

	"github.com/marmos91/randpool/pkg/store/block"
)

func lockFile(f *os.File) error {
	err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if errors.Is(err, unix.EWOULDBLOCK) {
		return block.ErrLocked
	}
	return err
}

func unlockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
