package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a PostgreSQL implementation of Store. Apply relies on
// row locks (SELECT ... FOR UPDATE) for serialization and on the partial
// unique index over (wallet_id, idempotency_key) for replay detection.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL ledger store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var _ Store = (*PostgresStore)(nil)

const walletColumns = `id, owner_id, owner_kind, balance, held, currency, created_at, updated_at`

const transactionColumns = `
	id, wallet_id, type, status, amount, currency,
	idempotency_key, description, payment_intent_id, created_at, updated_at
`

// CreateWallet implements Store.
func (s *PostgresStore) CreateWallet(ctx context.Context, w *Wallet) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO wallets (id, owner_id, owner_kind, balance, held, currency, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, w.ID, w.OwnerID, w.OwnerKind, w.Balance, w.Held, w.Currency, w.CreatedAt, w.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrWalletExists
	}
	return err
}

// GetWallet implements Store.
func (s *PostgresStore) GetWallet(ctx context.Context, id string) (*Wallet, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, id)
	return scanWallet(row)
}

// GetWalletByOwner implements Store.
func (s *PostgresStore) GetWalletByOwner(ctx context.Context, ownerID string, kind OwnerKind) (*Wallet, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+walletColumns+` FROM wallets WHERE owner_id = $1 AND owner_kind = $2
	`, ownerID, kind)
	return scanWallet(row)
}

// GetTransaction implements Store.
func (s *PostgresStore) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	return scanTransaction(row)
}

// GetTransactionByKey implements Store.
func (s *PostgresStore) GetTransactionByKey(ctx context.Context, walletID, key string) (*Transaction, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE wallet_id = $1 AND idempotency_key = $2
	`, walletID, key)
	return scanTransaction(row)
}

// ListTransactions implements Store.
func (s *PostgresStore) ListTransactions(ctx context.Context, walletID string, f TransactionFilter) ([]*Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE wallet_id = $1`
	args := []interface{}{walletID}
	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.Type != "" {
		args = append(args, f.Type)
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		query += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	args = append(args, f.Limit, f.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []*Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

// ListHistory implements Store.
func (s *PostgresStore) ListHistory(ctx context.Context, walletID string, limit, offset int) ([]*HistoryEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, wallet_id, transaction_id, delta, balance, held, reason, created_at
		FROM wallet_history
		WHERE wallet_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, walletID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		err := rows.Scan(&e.ID, &e.WalletID, &e.TransactionID, &e.Delta, &e.Balance, &e.Held, &e.Reason, &e.CreatedAt)
		if err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Apply implements Store.
func (s *PostgresStore) Apply(ctx context.Context, walletID, txID string, fn ApplyFunc) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			SELECT `+walletColumns+` FROM wallets WHERE id = $1 FOR UPDATE
		`, walletID)
		w, err := scanWallet(row)
		if err != nil {
			return err
		}

		var txn *Transaction
		if txID != "" {
			row := tx.QueryRow(ctx, `
				SELECT `+transactionColumns+` FROM transactions
				WHERE id = $1 AND wallet_id = $2
				FOR UPDATE
			`, txID, walletID)
			txn, err = scanTransaction(row)
			if err != nil {
				return err
			}
		}

		change, err := fn(w, txn)
		if err != nil {
			return err
		}
		if change == nil {
			return nil
		}

		now := time.Now().UTC()

		if change.Create != nil {
			created := change.Create
			if created.CreatedAt.IsZero() {
				created.CreatedAt = now
			}
			created.UpdatedAt = now
			_, err := tx.Exec(ctx, `
				INSERT INTO transactions (
					id, wallet_id, type, status, amount, currency,
					idempotency_key, description, payment_intent_id, created_at, updated_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			`,
				created.ID, created.WalletID, created.Type, created.Status, created.Amount, created.Currency,
				nullable(created.IdempotencyKey), created.Description, created.PaymentIntentID,
				created.CreatedAt, created.UpdatedAt,
			)
			if err != nil {
				return err
			}
		}

		if change.Update != nil {
			updated := change.Update
			updated.UpdatedAt = now
			_, err := tx.Exec(ctx, `
				UPDATE transactions
				SET status = $2, amount = $3, description = $4, payment_intent_id = $5, updated_at = $6
				WHERE id = $1
			`, updated.ID, updated.Status, updated.Amount, updated.Description, updated.PaymentIntentID, updated.UpdatedAt)
			if err != nil {
				return err
			}
		}

		if change.Entry != nil {
			entry := change.Entry
			if entry.ID == "" {
				entry.ID = NewHistoryID()
			}
			_, err := tx.Exec(ctx, `
				INSERT INTO wallet_history (id, wallet_id, transaction_id, delta, balance, held, reason, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			`, entry.ID, walletID, entry.TransactionID, entry.Delta, entry.Balance, entry.Held, entry.Reason, now)
			if err != nil {
				return err
			}
		}

		_, err = tx.Exec(ctx, `
			UPDATE wallets SET balance = $2, held = $3, updated_at = $4 WHERE id = $1
		`, walletID, change.Balance, change.Held, now)
		return err
	})

	switch {
	case isUniqueViolation(err):
		return ErrDuplicateIdempotencyKey
	case isSerializationFailure(err):
		return ErrConcurrencyConflict
	}
	return err
}

func scanWallet(row pgx.Row) (*Wallet, error) {
	var w Wallet
	err := row.Scan(&w.ID, &w.OwnerID, &w.OwnerKind, &w.Balance, &w.Held, &w.Currency, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &w, nil
}

func scanTransaction(row pgx.Row) (*Transaction, error) {
	var (
		txn Transaction
		key *string
	)
	err := row.Scan(
		&txn.ID, &txn.WalletID, &txn.Type, &txn.Status, &txn.Amount, &txn.Currency,
		&key, &txn.Description, &txn.PaymentIntentID, &txn.CreatedAt, &txn.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	if key != nil {
		txn.IdempotencyKey = *key
	}
	return &txn, nil
}

// nullable maps the empty string to NULL so the partial unique index on
// idempotency keys ignores transactions without one.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// serialization_failure or deadlock_detected
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}
