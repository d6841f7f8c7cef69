package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"optionvault/option"
)

// ignorable reports whether the engine rejected the operation for a domain
// reason. Under contention these are expected; only infrastructure failures
// abort the actor.
func ignorable(err error) bool {
	return errors.Is(err, option.ErrInvalidAmount) ||
		errors.Is(err, option.ErrInsufficientBalance) ||
		errors.Is(err, option.ErrOptionExpired) ||
		errors.Is(err, option.ErrOptionNotExpired) ||
		errors.Is(err, option.ErrInvalidState) ||
		errors.Is(err, option.ErrUnauthorized)
}

// Exerciser hammers a shared option with small partial exercises. Concurrent
// exercisers on the same option are exactly the overdraw race the engine must
// serialize.
func Exerciser(ctx context.Context, svc *option.Service, optionID, exerciserID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		amount := int64(1 + rand.Intn(5))
		if _, err := svc.Exercise(ctx, option.ExerciseParams{
			OptionID:    optionID,
			ExerciserID: exerciserID,
			Amount:      amount,
		}); err != nil && !ignorable(err) {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("exerciser: %w", err)
		}
		time.Sleep(time.Duration(10+rand.Intn(30)) * time.Millisecond)
	}
}

// Transferrer shuffles claim tokens between two holders while exercises run.
func Transferrer(ctx context.Context, svc *option.Service, optionID, fromID, toID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		params := option.TransferParams{
			OptionID:     optionID,
			FromHolderID: fromID,
			ToHolderID:   toID,
			ActorID:      fromID,
			Amount:       int64(1 + rand.Intn(3)),
		}
		if rand.Intn(2) == 0 {
			params.FromHolderID, params.ToHolderID = toID, fromID
			params.ActorID = toID
		}
		if err := svc.Transfer(ctx, params); err != nil && !ignorable(err) {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("transferrer: %w", err)
		}
		time.Sleep(time.Duration(15+rand.Intn(35)) * time.Millisecond)
	}
}

// Issuer mints short-lived options and sometimes cancels or sweeps them,
// covering the full lifecycle alongside the shared-option contention.
func Issuer(ctx context.Context, svc *option.Service, issuerID, treasuryID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		style := option.StyleAmerican
		if rand.Intn(2) == 0 {
			style = option.StyleEuropean
		}
		opt, err := svc.Mint(ctx, option.MintParams{
			IssuerID:         issuerID,
			FeeReceiverID:    treasuryID,
			UnderlyingAsset:  "SOL",
			QuoteAsset:       "USDC",
			Type:             option.TypeCall,
			Style:            style,
			StrikePrice:      int64(1 + rand.Intn(10)),
			Expiration:       time.Now().Add(time.Hour),
			AmountUnderlying: int64(1 + rand.Intn(20)),
			Fee:              1,
		})
		if err != nil {
			if ignorable(err) {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("issuer mint: %w", err)
		}
		if rand.Intn(3) == 0 {
			if _, err := svc.Cancel(ctx, option.CancelParams{OptionID: opt.ID, ActorID: issuerID}); err != nil && !ignorable(err) {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return nil
				}
				return fmt.Errorf("issuer cancel: %w", err)
			}
		}
		time.Sleep(time.Duration(40+rand.Intn(60)) * time.Millisecond)
	}
}

// OutboxWorker consumes pending outbox messages with SKIP LOCKED and marks
// them processed.
func OutboxWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		rows, err := tx.Query(ctx, `SELECT id FROM outbox WHERE status='pending' ORDER BY created_at LIMIT 10 FOR UPDATE SKIP LOCKED`)
		if err != nil {
			_ = tx.Rollback(ctx)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		ids := make([]string, 0, 10)
		for rows.Next() {
			var id string
			_ = rows.Scan(&id)
			ids = append(ids, id)
		}
		rows.Close()
		for _, id := range ids {
			if rand.Intn(10) == 0 {
				_, _ = tx.Exec(ctx, `UPDATE outbox SET attempts=attempts+1 WHERE id=$1`, id)
				continue
			}
			_, _ = tx.Exec(ctx, `UPDATE outbox SET status='processed' WHERE id=$1`, id)
		}
		_ = tx.Commit(ctx)
		time.Sleep(100 * time.Millisecond)
	}
}
