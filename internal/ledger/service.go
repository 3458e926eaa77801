package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/transitpay/transitpay/internal/events"
	"github.com/transitpay/transitpay/internal/notify"
	"github.com/transitpay/transitpay/internal/payment"
)

// ErrPaymentIncomplete is returned when a top-up is confirmed before the
// gateway reports the charge as succeeded.
var ErrPaymentIncomplete = errors.New("payment has not succeeded")

// errAlreadyCompleted signals a confirm replay inside a unit of work.
var errAlreadyCompleted = errors.New("transaction already completed")

// List pagination bounds.
const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// conflictRetries bounds retries of units of work that lose a row-lock race.
const conflictRetries = 3

// History entry reasons.
const (
	ReasonFare           = "fare"
	ReasonTopUp          = "topup"
	ReasonPreauthHold    = "preauth_hold"
	ReasonPreauthCapture = "preauth_capture"
	ReasonPreauthRelease = "preauth_release"
)

// Service provides wallet and ledger operations.
type Service struct {
	store    Store
	payments payment.Provider
	sink     events.Sink
	notifier notify.Notifier
	logger   zerolog.Logger
}

// NewService creates a new ledger service.
func NewService(store Store, payments payment.Provider, sink events.Sink, notifier notify.Notifier, logger zerolog.Logger) *Service {
	if sink == nil {
		sink = events.NopSink{}
	}
	return &Service{
		store:    store,
		payments: payments,
		sink:     sink,
		notifier: notifier,
		logger:   logger.With().Str("component", "ledger").Logger(),
	}
}

// CreateWallet opens a wallet for an owner. Each owner gets at most one
// wallet per kind.
func (s *Service) CreateWallet(ctx context.Context, ownerID string, kind OwnerKind, currency string) (*Wallet, error) {
	if ownerID == "" {
		return nil, errors.New("owner id is required")
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown owner kind %q", kind)
	}
	if currency == "" {
		currency = DefaultCurrency
	}

	now := time.Now().UTC()
	w := &Wallet{
		ID:        NewWalletID(),
		OwnerID:   ownerID,
		OwnerKind: kind,
		Currency:  currency,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateWallet(ctx, w); err != nil {
		return nil, err
	}

	s.logger.Info().Str("wallet_id", w.ID).Str("owner_id", ownerID).Msg("wallet created")
	return w, nil
}

// GetWallet returns a wallet by ID.
func (s *Service) GetWallet(ctx context.Context, id string) (*Wallet, error) {
	return s.store.GetWallet(ctx, id)
}

// GetWalletForOwner returns the owner's wallet.
func (s *Service) GetWalletForOwner(ctx context.Context, ownerID string, kind OwnerKind) (*Wallet, error) {
	return s.store.GetWalletByOwner(ctx, ownerID, kind)
}

// GetOwnedWallet returns the wallet only if ownerID owns it.
func (s *Service) GetOwnedWallet(ctx context.Context, walletID, ownerID string) (*Wallet, error) {
	w, err := s.store.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if w.OwnerID != ownerID {
		return nil, ErrNotWalletOwner
	}
	return w, nil
}

// GetTransaction returns a transaction by ID.
func (s *Service) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	return s.store.GetTransaction(ctx, id)
}

// ListTransactions returns a wallet's transactions matching the filter,
// newest first.
func (s *Service) ListTransactions(ctx context.Context, walletID string, f TransactionFilter) ([]*Transaction, error) {
	f.Limit = clampLimit(f.Limit)
	f.Offset = max(f.Offset, 0)
	return s.store.ListTransactions(ctx, walletID, f)
}

// ListHistory returns a wallet's balance history, newest first.
func (s *Service) ListHistory(ctx context.Context, walletID string, limit, offset int) ([]*HistoryEntry, error) {
	return s.store.ListHistory(ctx, walletID, clampLimit(limit), max(offset, 0))
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

// DeductInput describes an idempotent balance deduction.
type DeductInput struct {
	WalletID       string
	Amount         float64
	IdempotencyKey string
	Description    string
}

// Deduct debits a wallet exactly once per idempotency key. Replaying a key
// returns the originally recorded transaction without moving money again.
func (s *Service) Deduct(ctx context.Context, in DeductInput) (*Transaction, error) {
	if in.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if in.IdempotencyKey == "" {
		return nil, ErrMissingIdempotencyKey
	}

	// Fast path: the key has already been recorded.
	if existing, err := s.store.GetTransactionByKey(ctx, in.WalletID, in.IdempotencyKey); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrTransactionNotFound) {
		return nil, err
	}

	amount := Round2(in.Amount)
	txn := &Transaction{
		ID:             NewTransactionID(),
		WalletID:       in.WalletID,
		Type:           TransactionTypeFare,
		Status:         TransactionStatusCompleted,
		Amount:         amount,
		IdempotencyKey: in.IdempotencyKey,
		Description:    in.Description,
	}

	var balance, held float64
	err := s.applyWithRetry(ctx, in.WalletID, "", func(w *Wallet, _ *Transaction) (*Change, error) {
		if w.Balance < amount {
			return nil, ErrInsufficientFunds
		}
		txn.Currency = w.Currency
		balance = Round2(w.Balance - amount)
		held = w.Held
		return &Change{
			Balance: balance,
			Held:    held,
			Create:  txn,
			Entry: &HistoryEntry{
				TransactionID: txn.ID,
				Delta:         -amount,
				Balance:       balance,
				Held:          held,
				Reason:        ReasonFare,
			},
		}, nil
	})
	if errors.Is(err, ErrDuplicateIdempotencyKey) {
		// Lost the race to a concurrent request with the same key; return
		// what it recorded.
		return s.store.GetTransactionByKey(ctx, in.WalletID, in.IdempotencyKey)
	}
	if err != nil {
		return nil, err
	}

	s.publishBalance(ctx, in.WalletID, balance, held)
	s.publishTransaction(ctx, txn)
	return txn, nil
}

// InitiateTopUp registers a pending top-up and creates the gateway charge
// the client must complete. The wallet is not credited yet.
func (s *Service) InitiateTopUp(ctx context.Context, walletID string, amount float64) (*Transaction, *payment.Intent, error) {
	if amount <= 0 {
		return nil, nil, ErrInvalidAmount
	}

	w, err := s.store.GetWallet(ctx, walletID)
	if err != nil {
		return nil, nil, err
	}

	amount = Round2(amount)
	txnID := NewTransactionID()

	intent, err := s.payments.CreateIntent(ctx, payment.IntentRequest{
		Amount:        amount,
		Currency:      w.Currency,
		WalletID:      walletID,
		TransactionID: txnID,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating payment intent: %w", err)
	}

	txn := &Transaction{
		ID:              txnID,
		WalletID:        walletID,
		Type:            TransactionTypeTopUp,
		Status:          TransactionStatusPending,
		Amount:          amount,
		Currency:        w.Currency,
		PaymentIntentID: intent.ID,
	}

	err = s.applyWithRetry(ctx, walletID, "", func(w *Wallet, _ *Transaction) (*Change, error) {
		return &Change{Balance: w.Balance, Held: w.Held, Create: txn}, nil
	})
	if err != nil {
		if cancelErr := s.payments.CancelIntent(ctx, intent.ID); cancelErr != nil {
			s.logger.Warn().Err(cancelErr).Str("intent_id", intent.ID).Msg("failed to cancel orphaned payment intent")
		}
		return nil, nil, err
	}

	return txn, intent, nil
}

// ConfirmTopUp credits the wallet once the gateway reports the charge as
// succeeded. Confirming an already-completed top-up is a no-op success.
func (s *Service) ConfirmTopUp(ctx context.Context, walletID, txnID string) (*Transaction, error) {
	txn, err := s.store.GetTransaction(ctx, txnID)
	if err != nil {
		return nil, err
	}
	if txn.WalletID != walletID || txn.Type != TransactionTypeTopUp {
		return nil, ErrInvalidTransactionState
	}
	if txn.Status == TransactionStatusCompleted {
		return txn, nil
	}

	intent, err := s.payments.GetIntent(ctx, txn.PaymentIntentID)
	if err != nil {
		return nil, fmt.Errorf("fetching payment intent: %w", err)
	}
	if intent.Status != payment.IntentStatusSucceeded {
		return nil, ErrPaymentIncomplete
	}

	var (
		confirmed     *Transaction
		balance, held float64
	)
	err = s.applyWithRetry(ctx, walletID, txnID, func(w *Wallet, txn *Transaction) (*Change, error) {
		// Re-check under lock: a concurrent confirm may have won.
		if txn.Status == TransactionStatusCompleted {
			confirmed = txn
			return nil, errAlreadyCompleted
		}
		if txn.Status != TransactionStatusPending {
			return nil, ErrInvalidTransactionState
		}

		txn.Status = TransactionStatusCompleted
		confirmed = txn
		balance = Round2(w.Balance + txn.Amount)
		held = w.Held
		return &Change{
			Balance: balance,
			Held:    held,
			Update:  txn,
			Entry: &HistoryEntry{
				TransactionID: txn.ID,
				Delta:         txn.Amount,
				Balance:       balance,
				Held:          held,
				Reason:        ReasonTopUp,
			},
		}, nil
	})
	if errors.Is(err, errAlreadyCompleted) {
		return confirmed, nil
	}
	if err != nil {
		return nil, err
	}

	s.publishBalance(ctx, walletID, balance, held)
	s.publishTransaction(ctx, confirmed)
	s.sendReceipt(ctx, walletID, confirmed, balance)
	return confirmed, nil
}

// Preauthorize moves funds from balance to held under a new authorized
// transaction, to be captured or released later.
func (s *Service) Preauthorize(ctx context.Context, walletID string, amount float64, description string) (*Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	amount = Round2(amount)
	txn := &Transaction{
		ID:          NewTransactionID(),
		WalletID:    walletID,
		Type:        TransactionTypePreauth,
		Status:      TransactionStatusAuthorized,
		Amount:      amount,
		Description: description,
	}

	var balance, held float64
	err := s.applyWithRetry(ctx, walletID, "", func(w *Wallet, _ *Transaction) (*Change, error) {
		if w.Balance < amount {
			return nil, ErrInsufficientFunds
		}
		txn.Currency = w.Currency
		balance = Round2(w.Balance - amount)
		held = Round2(w.Held + amount)
		return &Change{
			Balance: balance,
			Held:    held,
			Create:  txn,
			Entry: &HistoryEntry{
				TransactionID: txn.ID,
				Delta:         -amount,
				Balance:       balance,
				Held:          held,
				Reason:        ReasonPreauthHold,
			},
		}, nil
	})
	if err != nil {
		return nil, err
	}

	s.publishBalance(ctx, walletID, balance, held)
	s.sink.Publish(ctx, events.Event{
		Name:     events.PreauthCreated,
		WalletID: walletID,
		Payload:  txn,
	})
	return txn, nil
}

// Capture settles an authorized hold: the held funds leave the wallet and
// the transaction completes.
func (s *Service) Capture(ctx context.Context, walletID, txnID string) (*Transaction, error) {
	txn, balance, held, err := s.settleHold(ctx, walletID, txnID, true)
	if err != nil {
		return nil, err
	}

	s.publishBalance(ctx, walletID, balance, held)
	s.sink.Publish(ctx, events.Event{
		Name:     events.PreauthCaptured,
		WalletID: walletID,
		Payload:  txn,
	})
	s.sendReceipt(ctx, walletID, txn, balance)
	return txn, nil
}

// Release returns an authorized hold to the spendable balance.
func (s *Service) Release(ctx context.Context, walletID, txnID string) (*Transaction, error) {
	txn, balance, held, err := s.settleHold(ctx, walletID, txnID, false)
	if err != nil {
		return nil, err
	}

	s.publishBalance(ctx, walletID, balance, held)
	s.sink.Publish(ctx, events.Event{
		Name:     events.PreauthReleased,
		WalletID: walletID,
		Payload:  txn,
	})
	return txn, nil
}

func (s *Service) settleHold(ctx context.Context, walletID, txnID string, capture bool) (*Transaction, float64, float64, error) {
	var (
		settled       *Transaction
		balance, held float64
	)
	err := s.applyWithRetry(ctx, walletID, txnID, func(w *Wallet, txn *Transaction) (*Change, error) {
		if txn.Type != TransactionTypePreauth {
			return nil, ErrInvalidTransactionState
		}
		if txn.Status != TransactionStatusAuthorized {
			return nil, ErrInvalidTransactionState
		}

		entry := &HistoryEntry{TransactionID: txn.ID}
		held = Round2(w.Held - txn.Amount)
		if capture {
			txn.Status = TransactionStatusCompleted
			balance = w.Balance
			entry.Reason = ReasonPreauthCapture
		} else {
			txn.Status = TransactionStatusReleased
			balance = Round2(w.Balance + txn.Amount)
			entry.Delta = txn.Amount
			entry.Reason = ReasonPreauthRelease
		}
		entry.Balance = balance
		entry.Held = held

		settled = txn
		return &Change{Balance: balance, Held: held, Update: txn, Entry: entry}, nil
	})
	if err != nil {
		return nil, 0, 0, err
	}
	return settled, balance, held, nil
}

// applyWithRetry runs a unit of work, retrying a bounded number of times
// when it loses a serialization race.
func (s *Service) applyWithRetry(ctx context.Context, walletID, txID string, fn ApplyFunc) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxInterval = 100 * time.Millisecond
	bo.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, conflictRetries), ctx)

	return backoff.Retry(func() error {
		err := s.store.Apply(ctx, walletID, txID, fn)
		if err == nil || errors.Is(err, ErrConcurrencyConflict) {
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}

func (s *Service) publishBalance(ctx context.Context, walletID string, balance, held float64) {
	s.sink.Publish(ctx, events.Event{
		Name:     events.WalletBalance,
		WalletID: walletID,
		Payload: map[string]any{
			"wallet_id": walletID,
			"balance":   balance,
			"held":      held,
		},
	})
}

func (s *Service) publishTransaction(ctx context.Context, txn *Transaction) {
	s.sink.Publish(ctx, events.Event{
		Name:     events.TransactionNew,
		WalletID: txn.WalletID,
		Payload:  txn,
	})
}

// sendReceipt hands a completed transaction to the notifier. Delivery
// failures are logged, never returned.
func (s *Service) sendReceipt(ctx context.Context, walletID string, txn *Transaction, balance float64) {
	if s.notifier == nil {
		return
	}

	w, err := s.store.GetWallet(ctx, walletID)
	if err != nil {
		s.logger.Warn().Err(err).Str("wallet_id", walletID).Msg("failed to load wallet for receipt")
		return
	}

	receipt := notify.Receipt{
		TransactionID: txn.ID,
		WalletID:      walletID,
		OwnerID:       w.OwnerID,
		Type:          string(txn.Type),
		Amount:        txn.Amount,
		Currency:      txn.Currency,
		Balance:       balance,
		OccurredAt:    time.Now().UTC(),
	}
	if err := s.notifier.SendReceipt(ctx, receipt); err != nil {
		s.logger.Warn().Err(err).Str("transaction_id", txn.ID).Msg("failed to queue receipt")
	}
}
