// Package errs defines the error classes surfaced by backup and
// restore operations. Callers classify failures with errors.Is.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig marks invalid or incomplete configuration. It is the
	// only class that aborts a run before any I/O happens.
	ErrConfig = errors.New("configuration error")

	// ErrLocalIO marks a local read or write failure for a single
	// file. It never aborts the remaining files of a batch.
	ErrLocalIO = errors.New("local i/o error")

	// ErrRemote marks a remote store failure (network, auth, service).
	ErrRemote = errors.New("remote store error")

	// ErrDecrypt marks an authentication failure while decrypting:
	// wrong key or tampered ciphertext. It is always kept distinct
	// from generic I/O failures so callers can report "wrong key or
	// corrupted backup" instead of writing garbage.
	ErrDecrypt = errors.New("decryption failed: wrong key or corrupted backup")
)

func Config(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrConfig}, args...)...)
}

func LocalIO(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrLocalIO, err)
}

func Remote(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrRemote, err)
}

func Decrypt(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrDecrypt, err)
}
