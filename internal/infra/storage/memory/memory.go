package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vietddude/payguard/internal/core/domain"
	"github.com/vietddude/payguard/internal/infra/storage"
)

type walletKey struct {
	userID   string
	currency string
}

// MemoryStorage is an in-process storage.Store. A unit of work holds the
// store mutex for its whole duration, so transactions are serialized and
// row locks are implicit. A failed unit of work restores the pre-tx snapshot.
type MemoryStorage struct {
	mu          sync.RWMutex
	txs         map[string]domain.Transaction
	attempts    map[string][]domain.RetryAttempt
	wallets     map[walletKey]domain.Wallet
	holds       map[string]domain.Hold
	holdByTx    map[string]string
	redemptions map[string]domain.Redemption
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		txs:         make(map[string]domain.Transaction),
		attempts:    make(map[string][]domain.RetryAttempt),
		wallets:     make(map[walletKey]domain.Wallet),
		holds:       make(map[string]domain.Hold),
		holdByTx:    make(map[string]string),
		redemptions: make(map[string]domain.Redemption),
	}
}

type snapshot struct {
	txs         map[string]domain.Transaction
	attempts    map[string][]domain.RetryAttempt
	wallets     map[walletKey]domain.Wallet
	holds       map[string]domain.Hold
	holdByTx    map[string]string
	redemptions map[string]domain.Redemption
}

func (s *MemoryStorage) snapshot() snapshot {
	attempts := make(map[string][]domain.RetryAttempt, len(s.attempts))
	for k, v := range s.attempts {
		attempts[k] = append([]domain.RetryAttempt(nil), v...)
	}
	return snapshot{
		txs:         maps.Clone(s.txs),
		attempts:    attempts,
		wallets:     maps.Clone(s.wallets),
		holds:       maps.Clone(s.holds),
		holdByTx:    maps.Clone(s.holdByTx),
		redemptions: maps.Clone(s.redemptions),
	}
}

func (s *MemoryStorage) restore(snap snapshot) {
	s.txs = snap.txs
	s.attempts = snap.attempts
	s.wallets = snap.wallets
	s.holds = snap.holds
	s.holdByTx = snap.holdByTx
	s.redemptions = snap.redemptions
}

// WithinTx implements storage.Store. Store methods must not be called from fn.
func (s *MemoryStorage) WithinTx(ctx context.Context, fn func(ctx context.Context, uow storage.UnitOfWork) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(ctx, &unitOfWork{s: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *MemoryStorage) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.txs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &tx, nil
}

func (s *MemoryStorage) ListReadyForRetry(ctx context.Context, now time.Time, limit int) ([]*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ready []*domain.Transaction
	for _, tx := range s.txs {
		if tx.ReadyForRetry(now) {
			t := tx
			ready = append(ready, &t)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		if ready[i].NextRetryAt.Equal(*ready[j].NextRetryAt) {
			return ready[i].ID < ready[j].ID
		}
		return ready[i].NextRetryAt.Before(*ready[j].NextRetryAt)
	})
	if limit > 0 && len(ready) > limit {
		ready = ready[:limit]
	}
	return ready, nil
}

func (s *MemoryStorage) ClaimForRetry(ctx context.Context, id string, retryCount int, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[id]
	if !ok || tx.Status != domain.TxStatusFailed || tx.RetryCount != retryCount || tx.NextRetryAt == nil {
		return false, nil
	}
	tx.Status = domain.TxStatusPending
	tx.NextRetryAt = nil
	tx.UpdatedAt = now
	s.txs[id] = tx
	return true, nil
}

func (s *MemoryStorage) ListAttempts(ctx context.Context, transactionID string) ([]*domain.RetryAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.RetryAttempt, 0, len(s.attempts[transactionID]))
	for _, a := range s.attempts[transactionID] {
		attempt := a
		out = append(out, &attempt)
	}
	return out, nil
}

func (s *MemoryStorage) GetWallet(ctx context.Context, userID, currency string) (*domain.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[walletKey{userID, currency}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &w, nil
}

func (s *MemoryStorage) ListHolds(ctx context.Context, userID, currency string) ([]*domain.Hold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Hold
	for _, h := range s.holds {
		if h.UserID == userID && h.Currency == currency {
			hold := h
			out = append(out, &hold)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStorage) GetRedemption(ctx context.Context, sessionKey string) (*domain.Redemption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.redemptions[sessionKey]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &r, nil
}

func (s *MemoryStorage) Stats(ctx context.Context, now time.Time) (storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st storage.Stats
	for _, tx := range s.txs {
		switch {
		case tx.ReadyForRetry(now):
			st.ReadyRetries++
			st.AwaitingRetry++
		case tx.AwaitingRetry():
			st.AwaitingRetry++
		case tx.Status == domain.TxStatusFailed:
			st.AwaitingManual++
		}
	}
	for _, h := range s.holds {
		switch h.Status {
		case domain.HoldStatusActive:
			st.ActiveHolds++
		case domain.HoldStatusFailedHeld:
			st.FailedHeldHolds++
		}
	}
	return st, nil
}

func (s *MemoryStorage) Ping(ctx context.Context) error { return nil }

// -----------------------------------------------------------------------------
// Unit of work
// -----------------------------------------------------------------------------

// unitOfWork runs with s.mu held by WithinTx.
type unitOfWork struct {
	s *MemoryStorage
}

func (u *unitOfWork) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	if _, exists := u.s.txs[tx.ID]; exists {
		return fmt.Errorf("transaction %s already exists", tx.ID)
	}
	u.s.txs[tx.ID] = *tx
	return nil
}

func (u *unitOfWork) LockTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	tx, ok := u.s.txs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &tx, nil
}

func (u *unitOfWork) UpdateTransaction(ctx context.Context, tx *domain.Transaction) error {
	if _, ok := u.s.txs[tx.ID]; !ok {
		return storage.ErrNotFound
	}
	u.s.txs[tx.ID] = *tx
	return nil
}

func (u *unitOfWork) AppendAttempt(ctx context.Context, attempt *domain.RetryAttempt) error {
	for _, a := range u.s.attempts[attempt.TransactionID] {
		if a.AttemptNumber == attempt.AttemptNumber {
			return storage.ErrDuplicateAttempt
		}
	}
	u.s.attempts[attempt.TransactionID] = append(u.s.attempts[attempt.TransactionID], *attempt)
	return nil
}

func (u *unitOfWork) CompleteAttempt(ctx context.Context, transactionID string, success bool, at time.Time) error {
	list := u.s.attempts[transactionID]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].CompletedAt == nil {
			completed, ok := at, success
			list[i].CompletedAt = &completed
			list[i].Success = &ok
			return nil
		}
	}
	return nil
}

func (u *unitOfWork) LockWallet(ctx context.Context, userID, currency string) (*domain.Wallet, error) {
	key := walletKey{userID, currency}
	w, ok := u.s.wallets[key]
	if !ok {
		w = domain.Wallet{
			UserID:           userID,
			Currency:         currency,
			TotalBalance:     decimal.Zero,
			AvailableBalance: decimal.Zero,
			UpdatedAt:        time.Now(),
		}
		u.s.wallets[key] = w
	}
	return &w, nil
}

func (u *unitOfWork) UpdateWallet(ctx context.Context, wallet *domain.Wallet) error {
	u.s.wallets[walletKey{wallet.UserID, wallet.Currency}] = *wallet
	return nil
}

func (u *unitOfWork) CreateHold(ctx context.Context, hold *domain.Hold) error {
	if _, exists := u.s.holdByTx[hold.ReferenceTransactionID]; exists {
		return fmt.Errorf("hold for transaction %s already exists", hold.ReferenceTransactionID)
	}
	u.s.holds[hold.ID] = *hold
	u.s.holdByTx[hold.ReferenceTransactionID] = hold.ID
	return nil
}

func (u *unitOfWork) HoldForTransaction(ctx context.Context, transactionID string) (*domain.Hold, error) {
	id, ok := u.s.holdByTx[transactionID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	h := u.s.holds[id]
	return &h, nil
}

func (u *unitOfWork) UpdateHold(ctx context.Context, hold *domain.Hold) error {
	if _, ok := u.s.holds[hold.ID]; !ok {
		return storage.ErrNotFound
	}
	u.s.holds[hold.ID] = *hold
	return nil
}

func (u *unitOfWork) SumReserved(ctx context.Context, userID, currency string) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, h := range u.s.holds {
		if h.UserID == userID && h.Currency == currency && h.Status.Reserves() {
			sum = sum.Add(h.Amount)
		}
	}
	return sum, nil
}

func (u *unitOfWork) GetRedemption(ctx context.Context, sessionKey string) (*domain.Redemption, error) {
	r, ok := u.s.redemptions[sessionKey]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &r, nil
}

func (u *unitOfWork) SaveRedemption(ctx context.Context, r *domain.Redemption) error {
	if _, exists := u.s.redemptions[r.SessionKey]; exists {
		return storage.ErrDuplicateRedemption
	}
	u.s.redemptions[r.SessionKey] = *r
	return nil
}
