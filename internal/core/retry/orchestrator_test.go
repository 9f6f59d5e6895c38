package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vietddude/payguard/internal/core/classifier"
	"github.com/vietddude/payguard/internal/core/domain"
	"github.com/vietddude/payguard/internal/core/holds"
	"github.com/vietddude/payguard/internal/infra/storage"
	"github.com/vietddude/payguard/internal/infra/storage/memory"
)

// =============================================================================
// Fakes
// =============================================================================

type recordingAudit struct {
	mu     sync.Mutex
	events []domain.AuditEvent
}

func (a *recordingAudit) Record(_ context.Context, ev domain.AuditEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
}

func (a *recordingAudit) kinds() []domain.AuditEventKind {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []domain.AuditEventKind
	for _, e := range a.events {
		out = append(out, e.Kind)
	}
	return out
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, msg domain.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

func (n *recordingNotifier) byCategory(c domain.NotificationCategory) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, s := range n.sent {
		if s.Category == c {
			count++
		}
	}
	return count
}

type fixture struct {
	store    *memory.MemoryStorage
	ledger   *holds.Ledger
	orch     *Orchestrator
	audit    *recordingAudit
	notifier *recordingNotifier
	now      time.Time
}

func newFixture(t *testing.T, policy DelayPolicy) *fixture {
	t.Helper()
	f := &fixture{
		store:    memory.NewMemoryStorage(),
		ledger:   holds.NewLedger(nil),
		audit:    &recordingAudit{},
		notifier: &recordingNotifier{},
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.orch = NewOrchestrator(f.store, f.ledger, policy,
		WithAudit(f.audit),
		WithNotifier(f.notifier),
		WithClock(func() time.Time { return f.now }),
	)
	return f
}

func (f *fixture) seed(t *testing.T, id string, kind domain.TransactionKind, maxAttempts int) {
	t.Helper()
	err := f.store.WithinTx(context.Background(), func(ctx context.Context, uow storage.UnitOfWork) error {
		if _, err := f.ledger.Credit(ctx, uow, "u1", "USD", decimal.NewFromInt(100)); err != nil {
			return err
		}
		if err := uow.CreateTransaction(ctx, &domain.Transaction{
			ID:               id,
			Kind:             kind,
			UserID:           "u1",
			Amount:           decimal.NewFromInt(40),
			Currency:         "USD",
			Provider:         "fincra",
			Status:           domain.TxStatusPending,
			FailureType:      domain.FailureTypeNone,
			MaxRetryAttempts: maxAttempts,
			CreatedAt:        f.now,
			UpdatedAt:        f.now,
		}); err != nil {
			return err
		}
		_, err := f.ledger.Reserve(ctx, uow, "u1", "USD", id, decimal.NewFromInt(40))
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

// claim moves a waiting transaction back to Pending the way the batch processor does.
func (f *fixture) claim(t *testing.T, id string) {
	t.Helper()
	tx, err := f.store.GetTransaction(context.Background(), id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	ok, err := f.store.ClaimForRetry(context.Background(), id, tx.RetryCount, f.now)
	if err != nil || !ok {
		t.Fatalf("claim %s: ok=%v err=%v", id, ok, err)
	}
}

func (f *fixture) holdStatus(t *testing.T) domain.HoldStatus {
	t.Helper()
	hs, _ := f.store.ListHolds(context.Background(), "u1", "USD")
	if len(hs) != 1 {
		t.Fatalf("expected one hold, got %d", len(hs))
	}
	return hs[0].Status
}

// =============================================================================
// HandleFailure
// =============================================================================

func TestHandleFailure_TimeoutRetriesThenFails(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "tx1", domain.KindWalletCashout, 1)
	ctx := context.Background()

	d, err := f.orch.HandleFailure(ctx, "tx1", classifier.Signal{Code: "FINCRA_API_TIMEOUT"})
	if err != nil {
		t.Fatalf("first failure: %v", err)
	}
	if d.Action != ActionRetry {
		t.Fatalf("action = %s, want RETRY", d.Action)
	}
	if d.NextRetryAt == nil || !d.NextRetryAt.Equal(f.now.Add(600*time.Second)) {
		t.Errorf("next_retry_at = %v, want now+600s", d.NextRetryAt)
	}

	tx, _ := f.store.GetTransaction(ctx, "tx1")
	if tx.RetryCount != 1 || tx.Status != domain.TxStatusFailed || tx.NextRetryAt == nil {
		t.Errorf("unexpected tx after RETRY: %+v", tx)
	}
	if tx.LastErrorCode != "API_TIMEOUT" {
		t.Errorf("last_error_code = %q, want API_TIMEOUT", tx.LastErrorCode)
	}
	if f.holdStatus(t) != domain.HoldStatusActive {
		t.Errorf("hold should stay active while awaiting retry")
	}

	// A duplicate report while the retry is scheduled changes nothing.
	d, err = f.orch.HandleFailure(ctx, "tx1", classifier.Signal{Code: "FINCRA_API_TIMEOUT"})
	if err != nil {
		t.Fatalf("duplicate failure: %v", err)
	}
	if d.Action != ActionSkip {
		t.Fatalf("duplicate action = %s, want SKIP", d.Action)
	}
	tx, _ = f.store.GetTransaction(ctx, "tx1")
	if tx.RetryCount != 1 || tx.NextRetryAt == nil || f.holdStatus(t) != domain.HoldStatusActive {
		t.Fatalf("duplicate report consumed the retry: %+v", tx)
	}

	f.now = f.now.Add(11 * time.Minute)
	f.claim(t, "tx1")
	d, err = f.orch.HandleFailure(ctx, "tx1", classifier.Signal{Code: "FINCRA_API_TIMEOUT"})
	if err != nil {
		t.Fatalf("second failure: %v", err)
	}
	if d.Action != ActionFail || !d.FinalFailure {
		t.Fatalf("decision = %+v, want FAIL final", d)
	}

	tx, _ = f.store.GetTransaction(ctx, "tx1")
	if tx.NextRetryAt != nil || tx.RetryCount != 1 {
		t.Errorf("unexpected tx after FAIL: %+v", tx)
	}
	if f.holdStatus(t) != domain.HoldStatusFailedHeld {
		t.Errorf("hold = %s, want failed_held", f.holdStatus(t))
	}

	// No RETRY ever follows a final failure.
	d, err = f.orch.HandleFailure(ctx, "tx1", classifier.Signal{Code: "API_TIMEOUT"})
	if err != nil {
		t.Fatalf("third failure: %v", err)
	}
	if d.Action != ActionSkip {
		t.Errorf("action after final failure = %s, want SKIP", d.Action)
	}

	attempts, _ := f.store.ListAttempts(ctx, "tx1")
	if len(attempts) != 2 {
		t.Fatalf("expected 2 attempt rows, got %d", len(attempts))
	}
	if attempts[0].DelaySeconds != 600 || attempts[0].Decision != "RETRY" {
		t.Errorf("attempt 1 = %+v", attempts[0])
	}
	if attempts[0].CompletedAt == nil || attempts[0].Success == nil || *attempts[0].Success {
		t.Errorf("attempt 1 should be completed unsuccessfully: %+v", attempts[0])
	}
	if attempts[1].AttemptNumber != 2 || attempts[1].Decision != "FAIL" {
		t.Errorf("attempt 2 = %+v", attempts[1])
	}
	if f.notifier.byCategory(domain.NotifyOperatorAlert) != 1 {
		t.Errorf("expected one operator alert on exhaustion")
	}
}

func TestHandleFailure_RequiresReview(t *testing.T) {
	tests := []struct {
		name     string
		sig      classifier.Signal
		wantType domain.FailureType
		alerts   int
	}{
		{"user error", classifier.Signal{Code: "USER_INSUFFICIENT_BALANCE", ExceptionKind: "ValueError"}, domain.FailureTypeUser, 0},
		{"permanent", classifier.Signal{Code: "AUTHENTICATION_FAILED"}, domain.FailureTypePermanent, 1},
		{"unknown", classifier.Signal{Code: "SOMETHING_ODD", Message: "???"}, domain.FailureTypePermanent, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, DefaultProgressive())
			f.seed(t, "tx1", domain.KindWalletCashout, 6)

			d, err := f.orch.HandleFailure(context.Background(), "tx1", tt.sig)
			if err != nil {
				t.Fatalf("HandleFailure: %v", err)
			}
			if d.Action != ActionFail || !d.FinalFailure {
				t.Fatalf("decision = %+v, want FAIL", d)
			}
			if d.Category != classifier.RequiresReview {
				t.Errorf("category = %s", d.Category)
			}

			tx, _ := f.store.GetTransaction(context.Background(), "tx1")
			if tx.FailureType != tt.wantType {
				t.Errorf("failure_type = %s, want %s", tx.FailureType, tt.wantType)
			}
			if tx.NextRetryAt != nil || tx.RetryCount != 0 {
				t.Errorf("review failure must not schedule: %+v", tx)
			}
			if f.holdStatus(t) != domain.HoldStatusFailedHeld {
				t.Errorf("hold = %s, want failed_held", f.holdStatus(t))
			}
			if got := f.notifier.byCategory(domain.NotifyOperatorAlert); got != tt.alerts {
				t.Errorf("operator alerts = %d, want %d", got, tt.alerts)
			}
			if f.notifier.byCategory(domain.NotifyPaymentFailed) != 1 {
				t.Errorf("expected one user notification")
			}
		})
	}
}

func TestHandleFailure_SkipCases(t *testing.T) {
	ctx := context.Background()

	t.Run("internal kind", func(t *testing.T) {
		f := newFixture(t, nil)
		f.seed(t, "tx1", domain.KindInternalTransfer, 1)
		d, err := f.orch.HandleFailure(ctx, "tx1", classifier.Signal{Code: "API_TIMEOUT"})
		if err != nil || d.Action != ActionSkip {
			t.Fatalf("decision = %+v, err = %v", d, err)
		}
		attempts, _ := f.store.ListAttempts(ctx, "tx1")
		if len(attempts) != 0 {
			t.Errorf("SKIP must not log attempts")
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		f := newFixture(t, nil)
		f.seed(t, "tx1", domain.KindWalletCashout, 1)
		_ = f.store.WithinTx(ctx, func(ctx context.Context, uow storage.UnitOfWork) error {
			tx, _ := uow.LockTransaction(ctx, "tx1")
			tx.Status = domain.TxStatusCancelled
			return uow.UpdateTransaction(ctx, tx)
		})
		d, err := f.orch.HandleFailure(ctx, "tx1", classifier.Signal{Code: "API_TIMEOUT"})
		if err != nil || d.Action != ActionSkip {
			t.Fatalf("decision = %+v, err = %v", d, err)
		}
		if len(f.audit.kinds()) != 0 {
			t.Errorf("SKIP must not be audited")
		}
	})

	t.Run("missing transaction", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.orch.HandleFailure(ctx, "nope", classifier.Signal{Code: "API_TIMEOUT"})
		if !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestHandleFailure_RetryCountBounded(t *testing.T) {
	policy := &FixedDelay{Delay: time.Minute, Attempts: 3}
	f := newFixture(t, policy)
	f.seed(t, "tx1", domain.KindWalletCashout, 3)
	ctx := context.Background()

	var retries int
	prev := 0
	for i := 0; i < 6; i++ {
		d, err := f.orch.HandleFailure(ctx, "tx1", classifier.Signal{Code: "NETWORK_ERROR"})
		if err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
		tx, _ := f.store.GetTransaction(ctx, "tx1")
		if tx.RetryCount < prev || tx.RetryCount > tx.MaxRetryAttempts {
			t.Fatalf("retry_count %d out of bounds (prev %d)", tx.RetryCount, prev)
		}
		prev = tx.RetryCount
		if d.Action == ActionRetry {
			retries++
		}
		f.now = f.now.Add(2 * time.Minute)
		if tx.Status == domain.TxStatusFailed && tx.NextRetryAt != nil {
			f.claim(t, "tx1")
		}
	}
	if retries != 3 {
		t.Errorf("retries = %d, want 3", retries)
	}

	attempts, _ := f.store.ListAttempts(ctx, "tx1")
	seen := map[int]bool{}
	for _, a := range attempts {
		if seen[a.AttemptNumber] {
			t.Fatalf("duplicate attempt number %d", a.AttemptNumber)
		}
		seen[a.AttemptNumber] = true
	}
}

func TestHandleFailure_ClassifierPanicFailsClosed(t *testing.T) {
	f := newFixture(t, nil)
	f.orch = NewOrchestrator(f.store, f.ledger, nil,
		WithClock(func() time.Time { return f.now }),
		WithNotifier(f.notifier),
		WithClassifier(func(classifier.Signal) classifier.Result { panic("boom") }),
	)
	f.seed(t, "tx1", domain.KindWalletCashout, 1)

	d, err := f.orch.HandleFailure(context.Background(), "tx1", classifier.Signal{Code: "API_TIMEOUT"})
	if err != nil {
		t.Fatal(err)
	}
	if d.Action != ActionFail || d.Category != classifier.RequiresReview {
		t.Errorf("decision = %+v, want FAIL requires_review", d)
	}
	tx, _ := f.store.GetTransaction(context.Background(), "tx1")
	if tx.FailureType != domain.FailureTypePermanent || tx.NextRetryAt != nil {
		t.Errorf("unexpected tx: %+v", tx)
	}
}

func TestHandleFailure_ConcurrentCallersNeverDuplicate(t *testing.T) {
	f := newFixture(t, &FixedDelay{Delay: time.Minute, Attempts: 1})
	f.seed(t, "tx1", domain.KindWalletCashout, 1)

	var wg sync.WaitGroup
	results := make(chan Action, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := f.orch.HandleFailure(context.Background(), "tx1", classifier.Signal{Code: "API_TIMEOUT"})
			if err != nil {
				t.Error(err)
				return
			}
			results <- d.Action
		}()
	}
	wg.Wait()
	close(results)

	counts := map[Action]int{}
	for a := range results {
		counts[a]++
	}
	if counts[ActionRetry] != 1 {
		t.Errorf("RETRY count = %d, want 1", counts[ActionRetry])
	}
	if counts[ActionSkip] != 7 {
		t.Errorf("SKIP count = %d, want 7", counts[ActionSkip])
	}
	tx, _ := f.store.GetTransaction(context.Background(), "tx1")
	if tx.RetryCount != 1 || tx.NextRetryAt == nil {
		t.Errorf("retry should stay scheduled: %+v", tx)
	}
}

// =============================================================================
// HandleSuccess
// =============================================================================

func TestHandleSuccess(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "tx1", domain.KindWalletCashout, 1)
	ctx := context.Background()

	if _, err := f.orch.HandleFailure(ctx, "tx1", classifier.Signal{Code: "API_TIMEOUT"}); err != nil {
		t.Fatal(err)
	}
	if err := f.orch.HandleSuccess(ctx, "tx1"); err != nil {
		t.Fatalf("HandleSuccess: %v", err)
	}

	tx, _ := f.store.GetTransaction(ctx, "tx1")
	if tx.Status != domain.TxStatusSucceeded || tx.NextRetryAt != nil {
		t.Errorf("unexpected tx: %+v", tx)
	}
	if f.holdStatus(t) != domain.HoldStatusConsumedSent {
		t.Errorf("hold = %s, want consumed_sent", f.holdStatus(t))
	}
	w, _ := f.store.GetWallet(ctx, "u1", "USD")
	if !w.TotalBalance.Equal(decimal.NewFromInt(60)) || !w.AvailableBalance.Equal(decimal.NewFromInt(60)) {
		t.Errorf("wallet = %+v", w)
	}

	attempts, _ := f.store.ListAttempts(ctx, "tx1")
	if len(attempts) != 1 || attempts[0].Success == nil || !*attempts[0].Success {
		t.Errorf("attempt should be completed successfully: %+v", attempts)
	}

	// Idempotent.
	if err := f.orch.HandleSuccess(ctx, "tx1"); err != nil {
		t.Fatal(err)
	}
}

func TestHandleSuccess_AfterCancellationIsNoop(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "tx1", domain.KindWalletCashout, 1)
	ctx := context.Background()

	_ = f.store.WithinTx(ctx, func(ctx context.Context, uow storage.UnitOfWork) error {
		tx, _ := uow.LockTransaction(ctx, "tx1")
		tx.Status = domain.TxStatusCancelled
		if err := uow.UpdateTransaction(ctx, tx); err != nil {
			return err
		}
		_, _, err := f.ledger.Transition(ctx, uow, "u1", "USD", "tx1", domain.HoldStatusReleased, "cancel")
		return err
	})

	if err := f.orch.HandleSuccess(ctx, "tx1"); err != nil {
		t.Fatal(err)
	}
	tx, _ := f.store.GetTransaction(ctx, "tx1")
	if tx.Status != domain.TxStatusCancelled {
		t.Errorf("status = %s, want cancelled", tx.Status)
	}
	if f.holdStatus(t) != domain.HoldStatusReleased {
		t.Errorf("hold = %s, want released", f.holdStatus(t))
	}
	if f.notifier.byCategory(domain.NotifyOperatorAlert) != 1 {
		t.Errorf("expected operator alert for late success")
	}
}
