package option

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

func validMintParams() MintParams {
	return MintParams{
		IssuerID:         "issuer-1",
		FeeReceiverID:    "treasury",
		UnderlyingAsset:  "SOL",
		QuoteAsset:       "USDC",
		Type:             TypeCall,
		Style:            StyleAmerican,
		StrikePrice:      50,
		Expiration:       time.Now().Add(time.Hour),
		AmountUnderlying: 100,
		Fee:              1,
	}
}

func TestMint_ValidationShortCircuits(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*MintParams)
		wantErr error
	}{
		{"zero strike", func(p *MintParams) { p.StrikePrice = 0 }, ErrInvalidAmount},
		{"negative amount", func(p *MintParams) { p.AmountUnderlying = -5 }, ErrInvalidAmount},
		{"negative fee", func(p *MintParams) { p.Fee = -1 }, ErrInvalidAmount},
		{"past expiration", func(p *MintParams) { p.Expiration = time.Now().Add(-time.Minute) }, ErrInvalidExpiration},
		{"missing issuer", func(p *MintParams) { p.IssuerID = "" }, ErrUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pool := &fakePool{}
			svc := NewService(pool, &fakeRepo{}, zerolog.Nop())

			params := validMintParams()
			tc.mutate(&params)

			if _, err := svc.Mint(context.Background(), params); !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if pool.tx != nil {
				t.Errorf("expected no transaction for failed validation")
			}
		})
	}
}

func TestMint_Success(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{}
	svc := NewService(pool, repo, zerolog.Nop())

	opt, err := svc.Mint(context.Background(), validMintParams())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !repo.minted {
		t.Errorf("expected mint execution to run")
	}
	if pool.tx == nil || !pool.tx.committed {
		t.Errorf("expected commit to be called")
	}
	if opt.AmountUnderlying != opt.OriginalAmount {
		t.Errorf("expected amount to equal original at mint, got %d vs %d", opt.AmountUnderlying, opt.OriginalAmount)
	}
}

func TestMint_IdempotentReplay(t *testing.T) {
	pool := &fakePool{}
	existing := Option{ID: "opt-1", OriginalAmount: 100, AmountUnderlying: 100, Status: StatusActive}
	repo := &fakeRepo{insertErr: ErrDuplicateIdempotencyKey, existing: existing}
	svc := NewService(pool, repo, zerolog.Nop())

	params := validMintParams()
	params.IdempotencyKey = "mint-abc"

	opt, err := svc.Mint(context.Background(), params)
	if err != nil {
		t.Fatalf("expected nil error on replay, got %v", err)
	}
	if opt.ID != existing.ID {
		t.Errorf("expected replay to return existing option, got %q", opt.ID)
	}
	if repo.minted {
		t.Errorf("expected mint execution to be skipped on replay")
	}
	if pool.tx.committed {
		t.Errorf("expected commit to be skipped on replay")
	}
	if !pool.tx.rolled {
		t.Errorf("expected rollback to be called")
	}
}

func TestTransfer_PureChecks(t *testing.T) {
	pool := &fakePool{}
	svc := NewService(pool, &fakeRepo{}, zerolog.Nop())

	err := svc.Transfer(context.Background(), TransferParams{
		OptionID: "opt-1", FromHolderID: "alice", ToHolderID: "bob", ActorID: "mallory", Amount: 5,
	})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for signer mismatch, got %v", err)
	}

	err = svc.Transfer(context.Background(), TransferParams{
		OptionID: "opt-1", FromHolderID: "alice", ToHolderID: "bob", ActorID: "alice", Amount: 0,
	})
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for zero quantity, got %v", err)
	}

	if pool.tx != nil {
		t.Errorf("expected no transaction for failed validation")
	}
}

func TestTransfer_Success(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{}
	svc := NewService(pool, repo, zerolog.Nop())

	err := svc.Transfer(context.Background(), TransferParams{
		OptionID: "opt-1", FromHolderID: "alice", ToHolderID: "bob", ActorID: "alice", Amount: 1,
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !repo.transferred {
		t.Errorf("expected transfer execution to run")
	}
	if !pool.tx.committed {
		t.Errorf("expected commit to be called")
	}
}

func TestExercise_RepoErrorRollsBack(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{exerciseErr: ErrOptionExpired}
	svc := NewService(pool, repo, zerolog.Nop())

	_, err := svc.Exercise(context.Background(), ExerciseParams{OptionID: "opt-1", ExerciserID: "alice", Amount: 10})
	if !errors.Is(err, ErrOptionExpired) {
		t.Fatalf("expected ErrOptionExpired, got %v", err)
	}
	if pool.tx.committed {
		t.Errorf("expected commit to be skipped on failure")
	}
	if !pool.tx.rolled {
		t.Errorf("expected rollback to be called")
	}
}

func TestExercise_Success(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{exercised: Option{ID: "opt-1", AmountUnderlying: 50, Status: StatusPartiallyExercised}}
	svc := NewService(pool, repo, zerolog.Nop())

	opt, err := svc.Exercise(context.Background(), ExerciseParams{OptionID: "opt-1", ExerciserID: "alice", Amount: 50})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if opt.Status != StatusPartiallyExercised {
		t.Errorf("expected partially_exercised, got %s", opt.Status)
	}
	if !pool.tx.committed {
		t.Errorf("expected commit to be called")
	}
}

func TestCancel_Success(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{cancelled: Option{ID: "opt-1", Status: StatusCancelled}}
	svc := NewService(pool, repo, zerolog.Nop())

	opt, err := svc.Cancel(context.Background(), CancelParams{OptionID: "opt-1", ActorID: "issuer-1"})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if opt.Status != StatusCancelled {
		t.Errorf("expected cancelled, got %s", opt.Status)
	}
	if !pool.tx.committed {
		t.Errorf("expected commit to be called")
	}
}

func TestExpire_Success(t *testing.T) {
	pool := &fakePool{}
	repo := &fakeRepo{expired: Option{ID: "opt-1", Status: StatusExpired}}
	svc := NewService(pool, repo, zerolog.Nop())

	opt, err := svc.Expire(context.Background(), ExpireParams{OptionID: "opt-1", ActorID: "issuer-1"})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if opt.Status != StatusExpired {
		t.Errorf("expected expired, got %s", opt.Status)
	}
	if !pool.tx.committed {
		t.Errorf("expected commit to be called")
	}
}

type fakeRepo struct {
	insertErr   error
	exerciseErr error
	existing    Option
	exercised   Option
	cancelled   Option
	expired     Option
	minted      bool
	transferred bool
}

func (f *fakeRepo) InsertIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) error {
	return f.insertErr
}

func (f *fakeRepo) GetByIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) (Option, error) {
	return f.existing, nil
}

func (f *fakeRepo) MintTx(ctx context.Context, tx pgx.Tx, params MintParams, now time.Time) (Option, error) {
	f.minted = true
	return Option{
		ID:               "opt-minted",
		MintAuthority:    params.IssuerID,
		Type:             params.Type,
		Style:            params.Style,
		StrikePrice:      params.StrikePrice,
		Expiration:       params.Expiration,
		OriginalAmount:   params.AmountUnderlying,
		AmountUnderlying: params.AmountUnderlying,
		Fee:              params.Fee,
		Status:           StatusActive,
	}, nil
}

func (f *fakeRepo) TransferTx(ctx context.Context, tx pgx.Tx, params TransferParams, now time.Time) error {
	f.transferred = true
	return nil
}

func (f *fakeRepo) ExerciseTx(ctx context.Context, tx pgx.Tx, params ExerciseParams, now time.Time) (Option, error) {
	if f.exerciseErr != nil {
		return Option{}, f.exerciseErr
	}
	return f.exercised, nil
}

func (f *fakeRepo) CancelTx(ctx context.Context, tx pgx.Tx, params CancelParams, now time.Time) (Option, error) {
	return f.cancelled, nil
}

func (f *fakeRepo) ExpireTx(ctx context.Context, tx pgx.Tx, params ExpireParams, now time.Time) (Option, error) {
	return f.expired, nil
}

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
