package option

import "time"

// Option mirrors the options table columns managed by the engine.
type Option struct {
	ID               string
	MintAuthority    string
	UnderlyingAsset  string
	QuoteAsset       string
	Type             OptionType
	Style            ExerciseStyle
	StrikePrice      int64
	Expiration       time.Time
	OriginalAmount   int64
	AmountUnderlying int64
	Fee              int64
	Status           Status
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Holding is one holder's balance of an option's claim tokens.
type Holding struct {
	OptionID  string
	HolderID  string
	Balance   int64
	UpdatedAt time.Time
}

// MintParams enumerates the inputs for writing a new option contract.
type MintParams struct {
	IssuerID         string
	FeeReceiverID    string
	UnderlyingAsset  string
	QuoteAsset       string
	Type             OptionType
	Style            ExerciseStyle
	StrikePrice      int64
	Expiration       time.Time
	AmountUnderlying int64
	Fee              int64
	IdempotencyKey   string
}

// TransferParams moves claim tokens between holders. ActorID must match the
// source holder; the option record itself is never mutated.
type TransferParams struct {
	OptionID     string
	FromHolderID string
	ToHolderID   string
	ActorID      string
	Amount       int64
}

// ExerciseParams claims Amount units of the underlying against the strike leg.
type ExerciseParams struct {
	OptionID    string
	ExerciserID string
	Amount      int64
}

// CancelParams reclaims the remaining escrow for the mint authority before
// expiration.
type CancelParams struct {
	OptionID string
	ActorID  string
}

// ExpireParams sweeps a past-expiration option back to the mint authority.
type ExpireParams struct {
	OptionID string
	ActorID  string
}

// Timeline event types appended by the engine.
const (
	EventOptionMinted      = "OPTION_MINTED"
	EventOptionTransferred = "OPTION_TRANSFERRED"
	EventOptionExercised   = "OPTION_EXERCISED"
	EventOptionCancelled   = "OPTION_CANCELLED"
	EventOptionExpired     = "OPTION_EXPIRED"
)

// Outbox topics published alongside the timeline events.
const (
	TopicOptionMinted      = "option.minted"
	TopicOptionTransferred = "option.transferred"
	TopicOptionExercised   = "option.exercised"
	TopicOptionCancelled   = "option.cancelled"
	TopicOptionExpired     = "option.expired"
)
