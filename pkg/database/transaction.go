package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/Ramsey-B/clover/pkg/logging"
)

type TxContextKey string

const txStatusKey = TxContextKey("txStatus")
const txKey = TxContextKey("tx-context-key")

// Tx wraps an open transaction. It satisfies Querier so repository calls
// made with the transaction's context run inside it.
type Tx interface {
	Querier

	IsOpen() bool
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Unsafe() *sqlx.Tx
}

// Transaction wraps sqlx.Tx with context-aware commit/rollback semantics
type Transaction struct {
	*sqlx.Tx
	logger   logging.Logger
	isClosed bool
}

func NewTx(tx *sqlx.Tx, logger logging.Logger) Tx {
	return &Transaction{
		Tx:       tx,
		logger:   logger,
		isClosed: false,
	}
}

// GetTx returns the transaction already carried by ctx when one is open;
// otherwise it begins a new one and stores it in the returned context so
// nested repository calls join it.
func GetTx(ctx context.Context, logger logging.Logger, db DB, opts *sql.TxOptions) (context.Context, Tx, error) {
	ctxTx, ok := ctx.Value(txKey).(Tx)
	if ok && ctxTx != nil && ctxTx.IsOpen() {
		status, ok := ctx.Value(txStatusKey).(string)
		if ok && status == "open" {
			return ctx, ctxTx, nil
		}
	}

	tx, err := db.BeginTxx(ctx, opts)
	if err != nil {
		logger.WithContext(ctx).WithError(err).Errorf("error while beginning transaction")
		return ctx, nil, fmt.Errorf("error while beginning transaction")
	}

	newTx := NewTx(tx, logger)

	ctx = context.WithValue(ctx, txStatusKey, "open")
	ctx = context.WithValue(ctx, txKey, newTx)
	return ctx, newTx, nil
}

func (t *Transaction) IsOpen() bool {
	return !t.isClosed
}

func (t *Transaction) Rollback(ctx context.Context) error {
	if t.isClosed {
		return nil // do nothing if already committed
	}

	err := t.Tx.Rollback()
	if err != nil {
		if errors.Is(err, sql.ErrTxDone) {
			// a failed commit already finished the transaction
			t.isClosed = true
			return nil
		}
		t.logger.WithContext(ctx).WithError(err).Errorf("error while rolling back transaction")
		return fmt.Errorf("error while rolling back transaction")
	}

	t.isClosed = true
	return nil
}

func (t *Transaction) Commit(ctx context.Context) error {
	if t.isClosed {
		return nil // do nothing if already committed
	}

	// returned unwrapped so callers can detect retryable conflicts
	err := t.Tx.Commit()
	if err != nil {
		t.logger.WithContext(ctx).WithError(err).Errorf("error while committing transaction")
		return err
	}

	t.isClosed = true

	return nil
}
