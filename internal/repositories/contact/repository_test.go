package contact

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/logging"
	"github.com/Ramsey-B/clover/pkg/models"
)

// stubResult lets tests control what ExecContext reports back.
type stubResult struct {
	rows    int64
	rowsErr error
}

func (r stubResult) LastInsertId() (int64, error) { return 0, nil }
func (r stubResult) RowsAffected() (int64, error) { return r.rows, r.rowsErr }

// stubDB satisfies database.DB with canned ExecContext behavior. Only the
// methods UpdateLinkage touches do anything.
type stubDB struct {
	execResult sql.Result
	execErr    error

	gotQuery string
	gotArgs  []any
}

func (db *stubDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	db.gotQuery = query
	db.gotArgs = args
	return db.execResult, db.execErr
}

func (db *stubDB) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	return errors.New("not implemented")
}

func (db *stubDB) QueryRowxContext(ctx context.Context, query string, args ...any) *sqlx.Row {
	return nil
}

func (db *stubDB) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	return errors.New("not implemented")
}

func (db *stubDB) Beginx() (*sqlx.Tx, error) { return nil, errors.New("not implemented") }
func (db *stubDB) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return nil, errors.New("not implemented")
}
func (db *stubDB) Close() error                      { return nil }
func (db *stubDB) DriverName() string                { return "postgres" }
func (db *stubDB) Ping() error                       { return nil }
func (db *stubDB) PingContext(ctx context.Context) error { return nil }
func (db *stubDB) Rebind(query string) string        { return query }
func (db *stubDB) SetConnMaxLifetime(d time.Duration) {}
func (db *stubDB) SetMaxIdleConns(n int)             {}
func (db *stubDB) SetMaxOpenConns(n int)             {}
func (db *stubDB) Stats() sql.DBStats                { return sql.DBStats{} }
func (db *stubDB) Unsafe() *sqlx.DB                  { return nil }
func (db *stubDB) GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, database.Tx, error) {
	return ctx, nil, errors.New("not implemented")
}

func newTestRepository(db *stubDB) *Repository {
	return NewRepository(db, logging.NewNopLogger())
}

func TestUpdateLinkageNotFound(t *testing.T) {
	db := &stubDB{execResult: stubResult{rows: 0}}
	r := newTestRepository(db)

	linkedID := int64(1)
	err := r.UpdateLinkage(context.Background(), 42, &linkedID, models.LinkPrecedenceSecondary)
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))
}

func TestUpdateLinkageReportsRowsAffectedFailure(t *testing.T) {
	db := &stubDB{execResult: stubResult{rowsErr: errors.New("driver does not report rows")}}
	r := newTestRepository(db)

	linkedID := int64(1)
	err := r.UpdateLinkage(context.Background(), 42, &linkedID, models.LinkPrecedenceSecondary)
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, httperror.GetStatusCode(err))
}

func TestUpdateLinkagePassesConflictsThroughUntranslated(t *testing.T) {
	conflict := &pq.Error{Code: "40001"}
	db := &stubDB{execErr: conflict}
	r := newTestRepository(db)

	linkedID := int64(1)
	err := r.UpdateLinkage(context.Background(), 42, &linkedID, models.LinkPrecedenceSecondary)
	require.Error(t, err)

	// The raw driver error must survive so the resolver can retry on it
	assert.True(t, database.IsConflict(err))
	var pqErr *pq.Error
	assert.True(t, errors.As(err, &pqErr))
}

func TestUpdateLinkageSuccess(t *testing.T) {
	db := &stubDB{execResult: stubResult{rows: 1}}
	r := newTestRepository(db)

	linkedID := int64(7)
	err := r.UpdateLinkage(context.Background(), 42, &linkedID, models.LinkPrecedenceSecondary)
	require.NoError(t, err)
	assert.Contains(t, db.gotQuery, "UPDATE contacts")
	assert.Contains(t, db.gotQuery, "deleted_at IS NULL")
}
