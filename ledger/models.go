package ledger

import "time"

// Account is a per-(owner, asset) holding with a non-negative base-unit balance.
type Account struct {
	ID        string
	OwnerID   string
	AssetType string
	Balance   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}
