package option

import (
	"fmt"
	"math"
	"time"
)

// OptionType distinguishes the direction of the settlement leg.
type OptionType string

const (
	TypeCall OptionType = "call"
	TypePut  OptionType = "put"
)

func (t OptionType) Validate() error {
	if t != TypeCall && t != TypePut {
		return fmt.Errorf("option: invalid option type %q", t)
	}
	return nil
}

// ExerciseStyle selects the exercise window relative to expiration.
type ExerciseStyle string

const (
	StyleAmerican ExerciseStyle = "american"
	StyleEuropean ExerciseStyle = "european"
)

func (s ExerciseStyle) Validate() error {
	if s != StyleAmerican && s != StyleEuropean {
		return fmt.Errorf("option: invalid exercise style %q", s)
	}
	return nil
}

// Status is the stored lifecycle state of an option contract.
type Status string

const (
	StatusActive              Status = "active"
	StatusPartiallyExercised  Status = "partially_exercised"
	StatusFullyExercised      Status = "fully_exercised"
	StatusCancelled           Status = "cancelled"
	StatusExpired             Status = "expired"
)

// Terminal reports whether no further lifecycle transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusFullyExercised, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// EffectiveStatus computes the state an operation must authorize against at
// now. The stored status of an American option past expiration may still read
// active or partially_exercised; a reader treats it as expired without waiting
// for a writer to flip the row. European options keep their stored status
// past expiration because that is exactly their exercise window, until an
// Expire sweep terminalizes them.
func EffectiveStatus(o Option, now time.Time) Status {
	if o.Status.Terminal() {
		return o.Status
	}
	if o.Style == StyleAmerican && !now.Before(o.Expiration) {
		return StatusExpired
	}
	return o.Status
}

// ExerciseWindowOpen reports whether now falls inside the style's exercise
// window: strictly before expiration for American, at or after for European.
func ExerciseWindowOpen(style ExerciseStyle, expiration, now time.Time) bool {
	if style == StyleAmerican {
		return now.Before(expiration)
	}
	return !now.Before(expiration)
}

// SettlementCost computes amount × strike in quote base units. A product that
// would exceed int64 is rejected rather than wrapped.
func SettlementCost(amount, strike int64) (int64, error) {
	if amount <= 0 || strike <= 0 {
		return 0, ErrInvalidAmount
	}
	if amount > math.MaxInt64/strike {
		return 0, ErrInvalidAmount
	}
	return amount * strike, nil
}
