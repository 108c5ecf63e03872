package validation

import "fmt"

// Code classifies a rejected input.
type Code string

const (
	CodeChannelNotOpen       Code = "channel_not_open"
	CodeWrongSender          Code = "wrong_sender"
	CodeCanonicalMismatch    Code = "canonical_identifier_mismatch"
	CodeMessageHashMismatch  Code = "message_hash_mismatch"
	CodeInvalidSignature     Code = "invalid_signature"
	CodeStaleNonce           Code = "stale_nonce"
	CodeTransferredDecreased Code = "transferred_amount_decreased"
	CodeUnexpectedTransfer   Code = "unexpected_transferred_amount"
	CodeUnexpectedLocked     Code = "unexpected_locked_amount"
	CodeLocksrootMismatch    Code = "locksroot_mismatch"
	CodeInsufficientCapacity Code = "insufficient_capacity"
	CodeTooManyLocks         Code = "too_many_pending_locks"
	CodeDuplicateLock        Code = "duplicate_lock"
	CodeUnknownLock          Code = "unknown_lock"
	CodeLockExpired          Code = "lock_expired"
	CodeLockNotExpired       Code = "lock_not_expired"
	CodeInvalidAmount        Code = "invalid_amount"
	CodeInvalidSecret        Code = "invalid_secret"
	CodeInvalidWithdraw      Code = "invalid_withdraw"
	CodeWithdrawExpired      Code = "withdraw_expired"
	CodeInvalidRoute         Code = "invalid_route"
	CodeOverflow             Code = "amount_overflow"
)

// ValidationError describes why an input was rejected. It never aborts the
// reducer; the caller turns it into a violation event.
type ValidationError struct {
	Code   Code
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

func fail(code Code, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Reason: fmt.Sprintf(format, args...)}
}
