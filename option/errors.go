package option

import "errors"

var (
	// ErrInvalidAmount signals a zero, negative, or out-of-range quantity or strike.
	ErrInvalidAmount = errors.New("option: invalid amount")
	// ErrInvalidExpiration signals an expiration not strictly in the future at mint time.
	ErrInvalidExpiration = errors.New("option: expiration must be in the future")
	// ErrInsufficientBalance signals the signer cannot cover the asset, fee, token,
	// or settlement leg of the operation.
	ErrInsufficientBalance = errors.New("option: insufficient balance")
	// ErrUnauthorized signals the signer is not the party the operation requires.
	ErrUnauthorized = errors.New("option: unauthorized")
	// ErrOptionExpired signals the operation's time rule is violated.
	ErrOptionExpired = errors.New("option: option expired")
	// ErrInvalidState signals the option is already in a terminal state.
	ErrInvalidState = errors.New("option: invalid state")
	// ErrOptionNotFound is returned when no option row exists for the identifier.
	ErrOptionNotFound = errors.New("option: not found")
	// ErrOptionNotExpired signals an expiry sweep attempted before expiration.
	ErrOptionNotExpired = errors.New("option: not yet expired")
	// ErrDuplicateIdempotencyKey signals the idempotency insert hit the existing key.
	ErrDuplicateIdempotencyKey = errors.New("option: duplicate idempotency key")
)
