package appraiser

import (
	"errors"
	"fmt"
)

// Domain errors surfaced to callers.
var (
	ErrNoHandle            = errors.New("no channel handle found")
	ErrNotFound            = errors.New("channel not found or private")
	ErrUnsupportedType     = errors.New("only public channels and supergroups are supported")
	ErrNoPublicPreview     = errors.New("channel has no public preview")
	ErrMalformedData       = errors.New("malformed data")
	ErrQuotaExceeded       = errors.New("daily free quota exceeded")
	ErrGiftCodeInvalid     = errors.New("gift code not found")
	ErrGiftCodeAlreadyUsed = errors.New("gift code already used")
	ErrForbidden           = errors.New("operation requires the admin principal")
	ErrSnapshotNotFound    = errors.New("channel snapshot not found")
)

// TransientFetchError wraps a timeout or transport failure on a remote call.
// Results must not be cached after one.
type TransientFetchError struct {
	Target string
	Err    error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Target, e.Err)
}

func (e *TransientFetchError) Unwrap() error {
	return e.Err
}

// NewTransientFetchError wraps err for target.
func NewTransientFetchError(target string, err error) error {
	return &TransientFetchError{Target: target, Err: err}
}

// IsTransient reports whether err is a TransientFetchError.
func IsTransient(err error) bool {
	var tErr *TransientFetchError
	return errors.As(err, &tErr)
}

// QuotaError reports a denied free-tier request.
type QuotaError struct {
	Limit int
	Used  int
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("daily free quota exceeded (%d/%d)", e.Used, e.Limit)
}

// Is lets errors.Is(err, ErrQuotaExceeded) match.
func (e *QuotaError) Is(target error) bool {
	return target == ErrQuotaExceeded
}
