package ledger

import "errors"

var (
	// ErrNotFound signals that no agreement exists at the given address.
	ErrNotFound = errors.New("ledger: agreement not found")
	// ErrUnauthorized signals the caller lacks the role required by the
	// attempted transition.
	ErrUnauthorized = errors.New("ledger: caller not authorized")
	// ErrInvalidState signals a transition attempted from a status that does
	// not permit it.
	ErrInvalidState = errors.New("ledger: invalid state for transition")
	// ErrAmountOutOfBounds signals a release/proposed amount outside
	// [0, amount], or a fill value different from the agreement amount.
	ErrAmountOutOfBounds = errors.New("ledger: amount out of bounds")
	// ErrDeadline signals an emergency release before the deadline, or a
	// creation with a non-future deadline.
	ErrDeadline = errors.New("ledger: deadline constraint violated")
	// ErrTransferFailed signals a disbursement that could not complete. The
	// transition is rolled back entirely.
	ErrTransferFailed = errors.New("ledger: transfer failed")
)
