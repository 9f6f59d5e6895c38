package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/vietddude/payguard/internal/core/domain"
	"github.com/vietddude/payguard/internal/infra/storage"
)

func TestIsUniqueViolation(t *testing.T) {
	if !isUniqueViolation(fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "23505"})) {
		t.Error("23505 should be a unique violation")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Error("23503 is a foreign key violation")
	}
	if isUniqueViolation(nil) || isUniqueViolation(errors.New("x")) {
		t.Error("plain errors are not unique violations")
	}
}

// =============================================================================
// Live tests (PAYGUARD_TEST_DATABASE_URL)
// =============================================================================

func newLiveStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("PAYGUARD_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("PAYGUARD_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := NewDB(ctx, Config{URL: url})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewStore(db)
}

func seedFailed(t *testing.T, s *Store, retryCount int, next time.Time) *domain.Transaction {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	tx := &domain.Transaction{
		ID:               uuid.NewString(),
		Kind:             domain.KindWalletCashout,
		UserID:           "user-" + uuid.NewString()[:8],
		Amount:           decimal.RequireFromString("25.50"),
		Currency:         "USD",
		Provider:         "fincra",
		Status:           domain.TxStatusFailed,
		FailureType:      domain.FailureTypeTechnical,
		RetryCount:       retryCount,
		MaxRetryAttempts: 1,
		NextRetryAt:      &next,
		LastErrorCode:    "API_TIMEOUT",
		BuyerFee:         decimal.Zero,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	err := s.WithinTx(context.Background(), func(ctx context.Context, uow storage.UnitOfWork) error {
		return uow.CreateTransaction(ctx, tx)
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return tx
}

func TestStore_ClaimIsExclusive(t *testing.T) {
	s := newLiveStore(t)
	now := time.Now().UTC()
	tx := seedFailed(t, s, 1, now.Add(-time.Minute))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.ClaimForRetry(context.Background(), tx.ID, 1, now)
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("wins = %d, want 1", wins)
	}
}

func TestStore_DuplicateAttempt(t *testing.T) {
	s := newLiveStore(t)
	tx := seedFailed(t, s, 0, time.Now().Add(time.Hour))

	attempt := func() *domain.RetryAttempt {
		return &domain.RetryAttempt{
			ID:             uuid.NewString(),
			TransactionID:  tx.ID,
			AttemptNumber:  1,
			ScheduledAt:    time.Now(),
			IdempotencyKey: "retry_x",
			Decision:       "RETRY",
		}
	}
	insert := func() error {
		return s.WithinTx(context.Background(), func(ctx context.Context, uow storage.UnitOfWork) error {
			return uow.AppendAttempt(ctx, attempt())
		})
	}
	if err := insert(); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := insert(); !errors.Is(err, storage.ErrDuplicateAttempt) {
		t.Fatalf("second insert err = %v, want ErrDuplicateAttempt", err)
	}
}

func TestStore_WalletAndHolds(t *testing.T) {
	s := newLiveStore(t)
	tx := seedFailed(t, s, 0, time.Now().Add(time.Hour))
	ctx := context.Background()

	err := s.WithinTx(ctx, func(ctx context.Context, uow storage.UnitOfWork) error {
		w, err := uow.LockWallet(ctx, tx.UserID, tx.Currency)
		if err != nil {
			return err
		}
		w.TotalBalance = decimal.NewFromInt(100)
		w.AvailableBalance = decimal.NewFromInt(75)
		w.UpdatedAt = time.Now()
		if err := uow.UpdateWallet(ctx, w); err != nil {
			return err
		}
		return uow.CreateHold(ctx, &domain.Hold{
			ID:                     uuid.NewString(),
			UserID:                 tx.UserID,
			Currency:               tx.Currency,
			Amount:                 decimal.NewFromInt(25),
			Status:                 domain.HoldStatusFailedHeld,
			ReferenceTransactionID: tx.ID,
			CreatedAt:              time.Now(),
			UpdatedAt:              time.Now(),
		})
	})
	if err != nil {
		t.Fatalf("seed wallet: %v", err)
	}

	err = s.WithinTx(ctx, func(ctx context.Context, uow storage.UnitOfWork) error {
		sum, err := uow.SumReserved(ctx, tx.UserID, tx.Currency)
		if err != nil {
			return err
		}
		if !sum.Equal(decimal.NewFromInt(25)) {
			t.Errorf("reserved = %s, want 25", sum)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("sum: %v", err)
	}

	w, err := s.GetWallet(ctx, tx.UserID, tx.Currency)
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if !w.AvailableBalance.Equal(decimal.NewFromInt(75)) {
		t.Errorf("available = %s", w.AvailableBalance)
	}
}
