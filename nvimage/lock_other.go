//go:build !unix

package nvimage

import "os"

// Advisory locks are only available on unix; elsewhere the caller must
// ensure a single owner.

func lockFile(f *os.File) error {
	return nil
}

func unlockFile(f *os.File) error {
	return nil
}
