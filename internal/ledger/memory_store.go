package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu           sync.RWMutex
	wallets      map[string]*Wallet
	byOwner      map[string]string            // owner key -> wallet ID
	transactions map[string]*Transaction      // txn ID -> txn
	byKey        map[string]map[string]string // wallet ID -> idempotency key -> txn ID
	history      map[string][]*HistoryEntry   // wallet ID -> entries, append order
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets:      make(map[string]*Wallet),
		byOwner:      make(map[string]string),
		transactions: make(map[string]*Transaction),
		byKey:        make(map[string]map[string]string),
		history:      make(map[string][]*HistoryEntry),
	}
}

var _ Store = (*MemoryStore)(nil)

func ownerKey(ownerID string, kind OwnerKind) string {
	return string(kind) + ":" + ownerID
}

// CreateWallet implements Store.
func (s *MemoryStore) CreateWallet(_ context.Context, w *Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ownerKey(w.OwnerID, w.OwnerKind)
	if _, ok := s.byOwner[key]; ok {
		return ErrWalletExists
	}

	stored := *w
	s.wallets[w.ID] = &stored
	s.byOwner[key] = w.ID
	return nil
}

// GetWallet implements Store.
func (s *MemoryStore) GetWallet(_ context.Context, id string) (*Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.walletLocked(id)
}

// GetWalletByOwner implements Store.
func (s *MemoryStore) GetWalletByOwner(_ context.Context, ownerID string, kind OwnerKind) (*Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byOwner[ownerKey(ownerID, kind)]
	if !ok {
		return nil, ErrWalletNotFound
	}
	return s.walletLocked(id)
}

func (s *MemoryStore) walletLocked(id string) (*Wallet, error) {
	w, ok := s.wallets[id]
	if !ok {
		return nil, ErrWalletNotFound
	}
	out := *w
	return &out, nil
}

// GetTransaction implements Store.
func (s *MemoryStore) GetTransaction(_ context.Context, id string) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txn, ok := s.transactions[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	out := *txn
	return &out, nil
}

// GetTransactionByKey implements Store.
func (s *MemoryStore) GetTransactionByKey(_ context.Context, walletID, key string) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byKey[walletID][key]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	out := *s.transactions[id]
	return &out, nil
}

// ListTransactions implements Store.
func (s *MemoryStore) ListTransactions(_ context.Context, walletID string, f TransactionFilter) ([]*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []*Transaction
	for _, txn := range s.transactions {
		if txn.WalletID == walletID && f.Matches(txn) {
			out := *txn
			all = append(all, &out)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})
	return paginate(all, f.Limit, f.Offset), nil
}

// ListHistory implements Store.
func (s *MemoryStore) ListHistory(_ context.Context, walletID string, limit, offset int) ([]*HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.history[walletID]
	all := make([]*HistoryEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		out := *entries[i]
		all = append(all, &out)
	}
	return paginate(all, limit, offset), nil
}

func paginate[T any](all []*T, limit, offset int) []*T {
	if offset >= len(all) {
		return nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all
}

// Apply implements Store. The whole store is locked for the duration of
// fn, which gives the same serialization the Postgres store gets from row
// locks.
func (s *MemoryStore) Apply(_ context.Context, walletID, txID string, fn ApplyFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.wallets[walletID]
	if !ok {
		return ErrWalletNotFound
	}
	w := *stored

	var txn *Transaction
	if txID != "" {
		storedTxn, ok := s.transactions[txID]
		if !ok || storedTxn.WalletID != walletID {
			return ErrTransactionNotFound
		}
		copied := *storedTxn
		txn = &copied
	}

	change, err := fn(&w, txn)
	if err != nil {
		return err
	}
	if change == nil {
		return nil
	}

	now := time.Now().UTC()

	if change.Create != nil {
		if change.Create.IdempotencyKey != "" {
			if _, exists := s.byKey[walletID][change.Create.IdempotencyKey]; exists {
				return ErrDuplicateIdempotencyKey
			}
		}
		created := *change.Create
		if created.CreatedAt.IsZero() {
			created.CreatedAt = now
		}
		created.UpdatedAt = now
		s.transactions[created.ID] = &created
		if created.IdempotencyKey != "" {
			if s.byKey[walletID] == nil {
				s.byKey[walletID] = make(map[string]string)
			}
			s.byKey[walletID][created.IdempotencyKey] = created.ID
		}
	}

	if change.Update != nil {
		updated := *change.Update
		updated.UpdatedAt = now
		s.transactions[updated.ID] = &updated
	}

	if change.Entry != nil {
		entry := *change.Entry
		if entry.ID == "" {
			entry.ID = NewHistoryID()
		}
		entry.WalletID = walletID
		entry.CreatedAt = now
		s.history[walletID] = append(s.history[walletID], &entry)
	}

	stored.Balance = change.Balance
	stored.Held = change.Held
	stored.UpdatedAt = now
	return nil
}
