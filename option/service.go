package option

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// EngineRepository defines the transactional work the service orchestrates.
type EngineRepository interface {
	InsertIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) error
	GetByIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) (Option, error)
	MintTx(ctx context.Context, tx pgx.Tx, params MintParams, now time.Time) (Option, error)
	TransferTx(ctx context.Context, tx pgx.Tx, params TransferParams, now time.Time) error
	ExerciseTx(ctx context.Context, tx pgx.Tx, params ExerciseParams, now time.Time) (Option, error)
	CancelTx(ctx context.Context, tx pgx.Tx, params CancelParams, now time.Time) (Option, error)
	ExpireTx(ctx context.Context, tx pgx.Tx, params ExpireParams, now time.Time) (Option, error)
}

// Service is the option lifecycle engine. Each operation validates its pure
// preconditions, then executes as one transaction: lock, re-validate against
// the locked rows, mutate, append timeline and outbox, commit. A failed
// precondition aborts with no side effects.
type Service struct {
	pool TxBeginner
	repo EngineRepository
	log  zerolog.Logger
	now  func() time.Time
}

func NewService(pool TxBeginner, repo EngineRepository, log zerolog.Logger) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	return &Service{
		pool: pool,
		repo: repo,
		log:  log,
		now:  time.Now,
	}
}

// Mint locks the underlying into a new escrow, collects the fee, and issues
// claim tokens to the issuer. Replays carrying a seen idempotency key return
// the previously minted option untouched.
func (s *Service) Mint(ctx context.Context, params MintParams) (Option, error) {
	now := s.now()
	if err := validateMint(params, now); err != nil {
		return Option{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Option{}, fmt.Errorf("option: begin mint tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if params.IdempotencyKey != "" {
		if err := s.repo.InsertIdempotencyKey(ctx, tx, params.IdempotencyKey); err != nil {
			if errors.Is(err, ErrDuplicateIdempotencyKey) {
				return s.repo.GetByIdempotencyKey(ctx, tx, params.IdempotencyKey)
			}
			return Option{}, err
		}
	}

	opt, err := s.repo.MintTx(ctx, tx, params, now)
	if err != nil {
		return Option{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Option{}, fmt.Errorf("option: commit mint: %w", err)
	}

	s.log.Info().
		Str("option_id", opt.ID).
		Str("issuer", params.IssuerID).
		Str("type", string(opt.Type)).
		Int64("amount", opt.AmountUnderlying).
		Msg("option minted")
	return opt, nil
}

// Transfer reassigns claim tokens from one holder to another. Only the source
// holder may sign; supply is untouched.
func (s *Service) Transfer(ctx context.Context, params TransferParams) error {
	if params.Amount <= 0 {
		return ErrInvalidAmount
	}
	if params.ActorID == "" || params.ActorID != params.FromHolderID {
		return ErrUnauthorized
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("option: begin transfer tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.TransferTx(ctx, tx, params, s.now()); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("option: commit transfer: %w", err)
	}

	s.log.Info().
		Str("option_id", params.OptionID).
		Str("from", params.FromHolderID).
		Str("to", params.ToHolderID).
		Int64("amount", params.Amount).
		Msg("option transferred")
	return nil
}

// Exercise claims params.Amount units of the underlying against the strike leg.
func (s *Service) Exercise(ctx context.Context, params ExerciseParams) (Option, error) {
	if params.Amount <= 0 {
		return Option{}, ErrInvalidAmount
	}
	if params.ExerciserID == "" {
		return Option{}, ErrUnauthorized
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Option{}, fmt.Errorf("option: begin exercise tx: %w", err)
	}
	defer tx.Rollback(ctx)

	opt, err := s.repo.ExerciseTx(ctx, tx, params, s.now())
	if err != nil {
		return Option{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Option{}, fmt.Errorf("option: commit exercise: %w", err)
	}

	s.log.Info().
		Str("option_id", opt.ID).
		Str("exerciser", params.ExerciserID).
		Int64("amount", params.Amount).
		Int64("remaining", opt.AmountUnderlying).
		Str("status", string(opt.Status)).
		Msg("option exercised")
	return opt, nil
}

// Cancel is the issuer's pre-expiration right to reclaim the unexercised
// escrow, voiding all outstanding claim tokens.
func (s *Service) Cancel(ctx context.Context, params CancelParams) (Option, error) {
	if params.ActorID == "" {
		return Option{}, ErrUnauthorized
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Option{}, fmt.Errorf("option: begin cancel tx: %w", err)
	}
	defer tx.Rollback(ctx)

	opt, err := s.repo.CancelTx(ctx, tx, params, s.now())
	if err != nil {
		return Option{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Option{}, fmt.Errorf("option: commit cancel: %w", err)
	}

	s.log.Info().
		Str("option_id", opt.ID).
		Str("authority", params.ActorID).
		Msg("option cancelled")
	return opt, nil
}

// Expire sweeps a past-expiration option: remaining escrow returns to the
// mint authority and the record terminalizes as expired.
func (s *Service) Expire(ctx context.Context, params ExpireParams) (Option, error) {
	if params.ActorID == "" {
		return Option{}, ErrUnauthorized
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Option{}, fmt.Errorf("option: begin expire tx: %w", err)
	}
	defer tx.Rollback(ctx)

	opt, err := s.repo.ExpireTx(ctx, tx, params, s.now())
	if err != nil {
		return Option{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Option{}, fmt.Errorf("option: commit expire: %w", err)
	}

	s.log.Info().
		Str("option_id", opt.ID).
		Msg("option expired")
	return opt, nil
}

func validateMint(params MintParams, now time.Time) error {
	if params.StrikePrice <= 0 || params.AmountUnderlying <= 0 || params.Fee < 0 {
		return ErrInvalidAmount
	}
	if !params.Expiration.After(now) {
		return ErrInvalidExpiration
	}
	if err := params.Type.Validate(); err != nil {
		return err
	}
	if err := params.Style.Validate(); err != nil {
		return err
	}
	if params.IssuerID == "" {
		return ErrUnauthorized
	}
	if params.UnderlyingAsset == "" || params.QuoteAsset == "" {
		return fmt.Errorf("option: underlying and quote assets are required")
	}
	if params.Fee > 0 && params.FeeReceiverID == "" {
		return fmt.Errorf("option: fee receiver is required when fee > 0")
	}
	return nil
}
