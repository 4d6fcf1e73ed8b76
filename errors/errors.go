package mailsync_errors

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrUserIDNotSet        = errors.New("userId not set on context")
	ErrAccountNotFound     = errors.New("account not found")
	ErrUnauthorizedAccount = errors.New("account does not belong to the caller")
	ErrUnsupportedProvider = errors.New("unsupported mailbox provider")
	ErrCreditsExhausted    = errors.New("daily chat credits exhausted")
)

// AuthError means the provider rejected the account credential. The account
// must be relinked; retrying is pointless.
type AuthError struct {
	Err error
}

func NewAuthError(err error) error {
	return &AuthError{Err: err}
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("mailbox credential rejected: %v", e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// CursorExpiredError means the stored continuation token is no longer
// accepted and a full resync is required.
type CursorExpiredError struct {
	Err error
}

func NewCursorExpiredError(err error) error {
	return &CursorExpiredError{Err: err}
}

func (e *CursorExpiredError) Error() string {
	return fmt.Sprintf("continuation token expired: %v", e.Err)
}

func (e *CursorExpiredError) Unwrap() error {
	return e.Err
}

// TransientError covers network failures and rate limits. RetryAfter is the
// provider's hint, zero when none was given.
type TransientError struct {
	Err        error
	RetryAfter time.Duration
}

func NewTransientError(err error, retryAfter time.Duration) error {
	return &TransientError{Err: err, RetryAfter: retryAfter}
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient provider failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// StoreError wraps persistence failures; the sync cycle that hit it left no
// partial cursor state behind.
type StoreError struct {
	Op  string
	Err error
}

func NewStoreError(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// DegradedSyncError is returned once transient retries are exhausted.
type DegradedSyncError struct {
	AccountID string
	Attempts  int
	Err       error
}

func (e *DegradedSyncError) Error() string {
	return fmt.Sprintf("sync for account %s degraded after %d attempts: %v", e.AccountID, e.Attempts, e.Err)
}

func (e *DegradedSyncError) Unwrap() error {
	return e.Err
}

func IsAuth(err error) bool {
	var target *AuthError
	return errors.As(err, &target)
}

func IsCursorExpired(err error) bool {
	var target *CursorExpiredError
	return errors.As(err, &target)
}

func IsTransient(err error) bool {
	var target *TransientError
	return errors.As(err, &target)
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsStore(err error) bool {
	var target *StoreError
	return errors.As(err, &target)
}

func IsDegraded(err error) bool {
	var target *DegradedSyncError
	return errors.As(err, &target)
}

// RetryAfter returns the provider hint carried by a transient error.
func RetryAfter(err error) time.Duration {
	var target *TransientError
	if errors.As(err, &target) {
		return target.RetryAfter
	}
	return 0
}
