package option

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"optionvault/ledger"
)

// Repository executes the lifecycle transitions against the ledger schema.
// Every method runs inside the caller's transaction: the option row is locked
// with FOR UPDATE first, preconditions are re-validated against the locked
// snapshot, and all mutations plus the timeline/outbox writes commit or roll
// back together.
type Repository struct {
	accounts *ledger.Repository
	newID    func() string
}

func NewRepository() *Repository {
	return &Repository{
		accounts: ledger.NewRepository(),
		newID:    func() string { return uuid.NewString() },
	}
}

// InsertIdempotencyKey attempts to reserve the idempotency key inside the
// active transaction. A replay is reported via ErrDuplicateIdempotencyKey
// without raising a unique violation, so the transaction stays usable and the
// caller can read the original option on the same tx.
func (r *Repository) InsertIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) error {
	if key == "" {
		return fmt.Errorf("option: empty idempotency key")
	}

	tag, err := tx.Exec(ctx, `INSERT INTO idempotency (key) VALUES ($1) ON CONFLICT (key) DO NOTHING`, key)
	if err != nil {
		return fmt.Errorf("option: insert idempotency key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateIdempotencyKey
	}

	return nil
}

const optionColumns = `id, mint_authority, underlying_asset, quote_asset, option_type::text,
       exercise_style::text, strike_price, expiration, original_amount, amount_underlying,
       fee, status::text, created_at, updated_at`

func scanOption(row pgx.Row) (Option, error) {
	var (
		o            Option
		typ, style   string
		statusString string
	)
	err := row.Scan(
		&o.ID, &o.MintAuthority, &o.UnderlyingAsset, &o.QuoteAsset, &typ,
		&style, &o.StrikePrice, &o.Expiration, &o.OriginalAmount, &o.AmountUnderlying,
		&o.Fee, &statusString, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Option{}, ErrOptionNotFound
		}
		return Option{}, fmt.Errorf("option: scan option: %w", err)
	}
	o.Type = OptionType(typ)
	o.Style = ExerciseStyle(style)
	o.Status = Status(statusString)
	return o, nil
}

// Get reads an option without locking it.
func (r *Repository) Get(ctx context.Context, q ledger.Querier, id string) (Option, error) {
	return scanOption(q.QueryRow(ctx, `SELECT `+optionColumns+` FROM options WHERE id = $1`, id))
}

// GetByIdempotencyKey resolves a mint replay to the option it created.
func (r *Repository) GetByIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) (Option, error) {
	return scanOption(tx.QueryRow(ctx, `SELECT `+optionColumns+` FROM options WHERE idempotency_key = $1`, key))
}

func (r *Repository) lockOption(ctx context.Context, tx pgx.Tx, id string) (Option, error) {
	return scanOption(tx.QueryRow(ctx, `SELECT `+optionColumns+` FROM options WHERE id = $1 FOR UPDATE`, id))
}

// MintTx creates the option record, locks the underlying in escrow, collects
// the fee, and issues the claim tokens to the issuer.
func (r *Repository) MintTx(ctx context.Context, tx pgx.Tx, params MintParams, now time.Time) (Option, error) {
	const insertSQL = `
INSERT INTO options (id, mint_authority, underlying_asset, quote_asset, option_type, exercise_style,
                     strike_price, expiration, original_amount, amount_underlying, fee, status,
                     idempotency_key)
VALUES ($1, $2, $3, $4, $5::option_type, $6::exercise_style, $7, $8, $9, $9, $10, 'active', $11)
RETURNING ` + optionColumns

	var key any
	if params.IdempotencyKey != "" {
		key = params.IdempotencyKey
	}

	opt, err := scanOption(tx.QueryRow(ctx, insertSQL,
		r.newID(),
		params.IssuerID,
		params.UnderlyingAsset,
		params.QuoteAsset,
		string(params.Type),
		string(params.Style),
		params.StrikePrice,
		params.Expiration,
		params.AmountUnderlying,
		params.Fee,
		key,
	))
	if err != nil {
		return Option{}, fmt.Errorf("option: insert option: %w", err)
	}

	// Lock the underlying into escrow. The conditional debit is the balance check.
	if err := r.accounts.Debit(ctx, tx, params.IssuerID, params.UnderlyingAsset, params.AmountUnderlying); err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) || errors.Is(err, ledger.ErrAccountNotFound) {
			return Option{}, ErrInsufficientBalance
		}
		return Option{}, err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO escrows (option_id, asset_type, balance) VALUES ($1, $2, $3)`,
		opt.ID, params.UnderlyingAsset, params.AmountUnderlying,
	); err != nil {
		return Option{}, fmt.Errorf("option: create escrow: %w", err)
	}

	if params.Fee > 0 {
		if err := r.accounts.Move(ctx, tx, params.IssuerID, params.FeeReceiverID, params.QuoteAsset, params.Fee); err != nil {
			if errors.Is(err, ledger.ErrInsufficientBalance) || errors.Is(err, ledger.ErrAccountNotFound) {
				return Option{}, ErrInsufficientBalance
			}
			return Option{}, err
		}
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO option_holdings (option_id, holder_id, balance) VALUES ($1, $2, $3)`,
		opt.ID, params.IssuerID, params.AmountUnderlying,
	); err != nil {
		return Option{}, fmt.Errorf("option: issue claim tokens: %w", err)
	}

	if err := r.appendTimeline(ctx, tx, opt.ID, EventOptionMinted, params.IssuerID, map[string]any{
		"option_type":       string(opt.Type),
		"exercise_style":    string(opt.Style),
		"strike_price":      opt.StrikePrice,
		"expiration":        opt.Expiration.UTC(),
		"amount_underlying": opt.AmountUnderlying,
		"fee":               opt.Fee,
	}); err != nil {
		return Option{}, err
	}
	if err := r.enqueueOutbox(ctx, tx, TopicOptionMinted, map[string]any{
		"option_id":         opt.ID,
		"minter":            params.IssuerID,
		"option_type":       string(opt.Type),
		"strike_price":      opt.StrikePrice,
		"amount_underlying": opt.AmountUnderlying,
	}); err != nil {
		return Option{}, err
	}

	return opt, nil
}

// TransferTx reassigns claim tokens between holders. The option row is locked
// only to validate existence and to serialize the timeline sequence; the
// record itself is untouched.
func (r *Repository) TransferTx(ctx context.Context, tx pgx.Tx, params TransferParams, now time.Time) error {
	opt, err := r.lockOption(ctx, tx, params.OptionID)
	if err != nil {
		return err
	}

	if err := r.burnHolding(ctx, tx, opt.ID, params.FromHolderID, params.Amount); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
INSERT INTO option_holdings (option_id, holder_id, balance)
VALUES ($1, $2, $3)
ON CONFLICT (option_id, holder_id)
DO UPDATE SET balance = option_holdings.balance + EXCLUDED.balance, updated_at = now()
`, opt.ID, params.ToHolderID, params.Amount); err != nil {
		return fmt.Errorf("option: credit destination holding: %w", err)
	}

	if err := r.appendTimeline(ctx, tx, opt.ID, EventOptionTransferred, params.ActorID, map[string]any{
		"from":   params.FromHolderID,
		"to":     params.ToHolderID,
		"amount": params.Amount,
	}); err != nil {
		return err
	}
	return r.enqueueOutbox(ctx, tx, TopicOptionTransferred, map[string]any{
		"option_id": opt.ID,
		"from":      params.FromHolderID,
		"to":        params.ToHolderID,
		"amount":    params.Amount,
	})
}

// ExerciseTx burns claim tokens, settles the strike leg, and releases escrow
// proportionally. Preconditions are evaluated against the locked row so two
// concurrent exercises can never jointly overdraw the remaining amount.
func (r *Repository) ExerciseTx(ctx context.Context, tx pgx.Tx, params ExerciseParams, now time.Time) (Option, error) {
	opt, err := r.lockOption(ctx, tx, params.OptionID)
	if err != nil {
		return Option{}, err
	}

	switch eff := EffectiveStatus(opt, now); {
	case eff == StatusExpired:
		return Option{}, ErrOptionExpired
	case eff.Terminal():
		return Option{}, ErrInvalidState
	}
	if !ExerciseWindowOpen(opt.Style, opt.Expiration, now) {
		return Option{}, ErrOptionExpired
	}
	if params.Amount <= 0 || params.Amount > opt.AmountUnderlying {
		return Option{}, ErrInvalidAmount
	}
	settlement, err := SettlementCost(params.Amount, opt.StrikePrice)
	if err != nil {
		return Option{}, err
	}

	if err := r.burnHolding(ctx, tx, opt.ID, params.ExerciserID, params.Amount); err != nil {
		return Option{}, err
	}

	switch opt.Type {
	case TypeCall:
		// Exerciser pays the strike leg and takes delivery from escrow.
		if err := r.moveMapped(ctx, tx, params.ExerciserID, opt.MintAuthority, opt.QuoteAsset, settlement); err != nil {
			return Option{}, err
		}
		if err := r.releaseEscrow(ctx, tx, opt.ID, params.Amount); err != nil {
			return Option{}, err
		}
		if err := r.accounts.Credit(ctx, tx, params.ExerciserID, opt.UnderlyingAsset, params.Amount); err != nil {
			return Option{}, err
		}
	case TypePut:
		// Exerciser delivers the underlying and receives the strike proceeds;
		// the escrowed cover returns to the authority as the put burns down.
		if err := r.moveMapped(ctx, tx, params.ExerciserID, opt.MintAuthority, opt.UnderlyingAsset, params.Amount); err != nil {
			return Option{}, err
		}
		if err := r.moveMapped(ctx, tx, opt.MintAuthority, params.ExerciserID, opt.QuoteAsset, settlement); err != nil {
			return Option{}, err
		}
		if err := r.releaseEscrow(ctx, tx, opt.ID, params.Amount); err != nil {
			return Option{}, err
		}
		if err := r.accounts.Credit(ctx, tx, opt.MintAuthority, opt.UnderlyingAsset, params.Amount); err != nil {
			return Option{}, err
		}
	default:
		return Option{}, fmt.Errorf("option: invalid option type %q", opt.Type)
	}

	remaining := opt.AmountUnderlying - params.Amount
	status := StatusPartiallyExercised
	if remaining == 0 {
		status = StatusFullyExercised
	}
	if err := r.updateOptionState(ctx, tx, opt.ID, remaining, status); err != nil {
		return Option{}, err
	}
	opt.AmountUnderlying = remaining
	opt.Status = status

	if err := r.appendTimeline(ctx, tx, opt.ID, EventOptionExercised, params.ExerciserID, map[string]any{
		"amount":     params.Amount,
		"settlement": settlement,
		"remaining":  remaining,
		"status":     string(status),
	}); err != nil {
		return Option{}, err
	}
	if err := r.enqueueOutbox(ctx, tx, TopicOptionExercised, map[string]any{
		"option_id":  opt.ID,
		"exerciser":  params.ExerciserID,
		"amount":     params.Amount,
		"settlement": settlement,
		"remaining":  remaining,
	}); err != nil {
		return Option{}, err
	}

	return opt, nil
}

// CancelTx returns the remaining escrow to the mint authority and voids all
// outstanding claim tokens. Issuer-only, pre-expiration only.
func (r *Repository) CancelTx(ctx context.Context, tx pgx.Tx, params CancelParams, now time.Time) (Option, error) {
	opt, err := r.lockOption(ctx, tx, params.OptionID)
	if err != nil {
		return Option{}, err
	}

	if params.ActorID != opt.MintAuthority {
		return Option{}, ErrUnauthorized
	}
	switch eff := EffectiveStatus(opt, now); {
	case eff == StatusExpired:
		return Option{}, ErrOptionExpired
	case eff.Terminal():
		return Option{}, ErrInvalidState
	}
	if !now.Before(opt.Expiration) {
		return Option{}, ErrOptionExpired
	}

	returned, err := r.sweepEscrow(ctx, tx, opt)
	if err != nil {
		return Option{}, err
	}
	if err := r.updateOptionState(ctx, tx, opt.ID, 0, StatusCancelled); err != nil {
		return Option{}, err
	}
	opt.AmountUnderlying = 0
	opt.Status = StatusCancelled

	if err := r.appendTimeline(ctx, tx, opt.ID, EventOptionCancelled, params.ActorID, map[string]any{
		"amount_returned": returned,
	}); err != nil {
		return Option{}, err
	}
	if err := r.enqueueOutbox(ctx, tx, TopicOptionCancelled, map[string]any{
		"option_id":       opt.ID,
		"creator":         opt.MintAuthority,
		"amount_returned": returned,
	}); err != nil {
		return Option{}, err
	}

	return opt, nil
}

// ExpireTx terminalizes a past-expiration option, sweeping the unclaimed
// escrow back to the mint authority and voiding the remaining claim tokens.
func (r *Repository) ExpireTx(ctx context.Context, tx pgx.Tx, params ExpireParams, now time.Time) (Option, error) {
	opt, err := r.lockOption(ctx, tx, params.OptionID)
	if err != nil {
		return Option{}, err
	}

	if params.ActorID != opt.MintAuthority {
		return Option{}, ErrUnauthorized
	}
	if opt.Status.Terminal() {
		return Option{}, ErrInvalidState
	}
	if now.Before(opt.Expiration) {
		return Option{}, ErrOptionNotExpired
	}

	returned, err := r.sweepEscrow(ctx, tx, opt)
	if err != nil {
		return Option{}, err
	}
	if err := r.updateOptionState(ctx, tx, opt.ID, 0, StatusExpired); err != nil {
		return Option{}, err
	}
	opt.AmountUnderlying = 0
	opt.Status = StatusExpired

	if err := r.appendTimeline(ctx, tx, opt.ID, EventOptionExpired, params.ActorID, map[string]any{
		"amount_returned": returned,
	}); err != nil {
		return Option{}, err
	}
	if err := r.enqueueOutbox(ctx, tx, TopicOptionExpired, map[string]any{
		"option_id":       opt.ID,
		"amount_returned": returned,
	}); err != nil {
		return Option{}, err
	}

	return opt, nil
}

// burnHolding removes amount claim tokens from the holder. The conditional
// update doubles as the balance check.
func (r *Repository) burnHolding(ctx context.Context, tx pgx.Tx, optionID, holderID string, amount int64) error {
	tag, err := tx.Exec(ctx, `
UPDATE option_holdings
SET balance = balance - $3, updated_at = now()
WHERE option_id = $1 AND holder_id = $2 AND balance >= $3
`, optionID, holderID, amount)
	if err != nil {
		return fmt.Errorf("option: burn holding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientBalance
	}
	return nil
}

// releaseEscrow decrements the escrow balance. A short escrow means the
// escrow/amount invariant was already broken, which is an engine bug.
func (r *Repository) releaseEscrow(ctx context.Context, tx pgx.Tx, optionID string, amount int64) error {
	tag, err := tx.Exec(ctx, `
UPDATE escrows
SET balance = balance - $2, updated_at = now()
WHERE option_id = $1 AND balance >= $2
`, optionID, amount)
	if err != nil {
		return fmt.Errorf("option: release escrow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("option: escrow short for option %s", optionID)
	}
	return nil
}

// sweepEscrow zeroes the escrow, credits the remainder to the mint authority,
// and voids every outstanding holding.
func (r *Repository) sweepEscrow(ctx context.Context, tx pgx.Tx, opt Option) (int64, error) {
	var returned int64
	if err := tx.QueryRow(ctx,
		`SELECT balance FROM escrows WHERE option_id = $1 FOR UPDATE`, opt.ID,
	).Scan(&returned); err != nil {
		return 0, fmt.Errorf("option: lock escrow: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE escrows SET balance = 0, updated_at = now() WHERE option_id = $1`, opt.ID,
	); err != nil {
		return 0, fmt.Errorf("option: drain escrow: %w", err)
	}

	if returned > 0 {
		if err := r.accounts.Credit(ctx, tx, opt.MintAuthority, opt.UnderlyingAsset, returned); err != nil {
			return 0, err
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE option_holdings SET balance = 0, updated_at = now() WHERE option_id = $1 AND balance > 0`,
		opt.ID,
	); err != nil {
		return 0, fmt.Errorf("option: void holdings: %w", err)
	}

	return returned, nil
}

func (r *Repository) updateOptionState(ctx context.Context, tx pgx.Tx, optionID string, amount int64, status Status) error {
	if _, err := tx.Exec(ctx, `
UPDATE options
SET amount_underlying = $2, status = $3::option_status, updated_at = now()
WHERE id = $1
`, optionID, amount, string(status)); err != nil {
		return fmt.Errorf("option: update state: %w", err)
	}
	return nil
}

// HolderBalance reads a holder's claim token balance; absent rows read as zero.
func (r *Repository) HolderBalance(ctx context.Context, q ledger.Querier, optionID, holderID string) (int64, error) {
	var balance int64
	err := q.QueryRow(ctx,
		`SELECT balance FROM option_holdings WHERE option_id = $1 AND holder_id = $2`,
		optionID, holderID,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("option: read holding: %w", err)
	}
	return balance, nil
}

// TokenSupply reads the total outstanding claim tokens for an option.
func (r *Repository) TokenSupply(ctx context.Context, q ledger.Querier, optionID string) (int64, error) {
	var supply int64
	err := q.QueryRow(ctx,
		`SELECT COALESCE(SUM(balance), 0) FROM option_holdings WHERE option_id = $1`,
		optionID,
	).Scan(&supply)
	if err != nil {
		return 0, fmt.Errorf("option: read token supply: %w", err)
	}
	return supply, nil
}

// EscrowBalance reads the escrow backing an option.
func (r *Repository) EscrowBalance(ctx context.Context, q ledger.Querier, optionID string) (int64, error) {
	var balance int64
	err := q.QueryRow(ctx, `SELECT balance FROM escrows WHERE option_id = $1`, optionID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrOptionNotFound
		}
		return 0, fmt.Errorf("option: read escrow: %w", err)
	}
	return balance, nil
}

func (r *Repository) moveMapped(ctx context.Context, tx pgx.Tx, from, to, asset string, amount int64) error {
	if err := r.accounts.Move(ctx, tx, from, to, asset, amount); err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) || errors.Is(err, ledger.ErrAccountNotFound) {
			return ErrInsufficientBalance
		}
		return err
	}
	return nil
}

func (r *Repository) appendTimeline(ctx context.Context, tx pgx.Tx, optionID, eventType, actorID string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("option: marshal timeline payload: %w", err)
	}
	var actor any
	if actorID != "" {
		actor = actorID
	}
	// The option row lock serializes writers, so the max-seq subquery is safe.
	const q = `
INSERT INTO timeline_events (option_id, seq, type, payload, actor_id)
VALUES ($1, COALESCE((SELECT MAX(seq) FROM timeline_events WHERE option_id = $1), 0) + 1, $2, $3, $4)
`
	if _, err := tx.Exec(ctx, q, optionID, eventType, body, actor); err != nil {
		return fmt.Errorf("option: insert timeline event: %w", err)
	}
	return nil
}

func (r *Repository) enqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("option: marshal outbox payload: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`, topic, body); err != nil {
		return fmt.Errorf("option: enqueue outbox: %w", err)
	}
	return nil
}
