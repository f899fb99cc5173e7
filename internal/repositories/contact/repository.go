// Package contact persists contact rows and provides the transactional
// boundary the identity resolver runs inside.
package contact

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/logging"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

var contactColumns = []string{"id", "email", "phone_number", "linked_id", "link_precedence", "created_at", "updated_at", "deleted_at"}

// Repository handles contact persistence
type Repository struct {
	db     database.DB
	logger logging.Logger
}

// NewRepository creates a new contact repository
func NewRepository(db database.DB, logger logging.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// FindByIdentity returns all non-deleted contacts whose email or phone number
// exactly matches one of the given values, ordered by creation. A nil field
// matches nothing.
func (r *Repository) FindByIdentity(ctx context.Context, email, phoneNumber *string) ([]models.Contact, error) {
	ctx, span := tracing.StartSpan(ctx, "contact.Repository.FindByIdentity")
	defer span.End()

	if email == nil && phoneNumber == nil {
		return nil, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(contactColumns...)
	sb.From("contacts")

	identity := []string{}
	if email != nil {
		identity = append(identity, sb.Equal("email", *email))
	}
	if phoneNumber != nil {
		identity = append(identity, sb.Equal("phone_number", *phoneNumber))
	}
	sb.Where(
		sb.Or(identity...),
		sb.IsNull("deleted_at"),
	)
	sb.OrderBy("created_at ASC", "id ASC")

	query, args := sb.Build()
	var contacts []models.Contact
	if err := database.GetQuerier(ctx, r.db).SelectContext(ctx, &contacts, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to find contacts by identity fields")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find contacts")
	}
	return contacts, nil
}

// FindByIDOrLinkedID returns all non-deleted contacts whose id or linked_id
// falls in the given set, ordered by creation.
func (r *Repository) FindByIDOrLinkedID(ctx context.Context, ids []int64) ([]models.Contact, error) {
	ctx, span := tracing.StartSpan(ctx, "contact.Repository.FindByIDOrLinkedID")
	defer span.End()

	if len(ids) == 0 {
		return nil, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(contactColumns...)
	sb.From("contacts")
	sb.Where(
		sb.Or(
			sb.In("id", sqlbuilder.Flatten(ids)...),
			sb.In("linked_id", sqlbuilder.Flatten(ids)...),
		),
		sb.IsNull("deleted_at"),
	)
	sb.OrderBy("created_at ASC", "id ASC")

	query, args := sb.Build()
	var contacts []models.Contact
	if err := database.GetQuerier(ctx, r.db).SelectContext(ctx, &contacts, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"ids": ids}).Error("Failed to find contacts by id set")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find contacts")
	}
	return contacts, nil
}

// Create inserts a new contact and returns the row with its assigned id and
// timestamps. The partial unique index on (email, phone_number) makes a
// concurrent duplicate insert fail with a unique violation the resolver
// converts into a re-resolution retry.
func (r *Repository) Create(ctx context.Context, req models.CreateContactRequest) (*models.Contact, error) {
	ctx, span := tracing.StartSpan(ctx, "contact.Repository.Create")
	defer span.End()

	now := time.Now().UTC()
	query := `
		INSERT INTO contacts (email, phone_number, linked_id, link_precedence, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, email, phone_number, linked_id, link_precedence, created_at, updated_at, deleted_at
	`

	var created models.Contact
	err := database.GetQuerier(ctx, r.db).GetContext(ctx, &created, query,
		req.Email, req.PhoneNumber, req.LinkedID, req.LinkPrecedence, now, now,
	)
	if err != nil {
		if database.IsConflict(err) {
			// surfaced untranslated so the resolver can retry
			return nil, err
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"link_precedence": req.LinkPrecedence}).Error("Failed to create contact")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create contact")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": created.ID, "link_precedence": created.LinkPrecedence}).Info("Created contact")
	return &created, nil
}

// UpdateLinkage mutates link_precedence and linked_id on an existing row.
// These are the only fields this subsystem ever changes after creation.
func (r *Repository) UpdateLinkage(ctx context.Context, id int64, linkedID *int64, precedence models.LinkPrecedence) error {
	ctx, span := tracing.StartSpan(ctx, "contact.Repository.UpdateLinkage")
	defer span.End()

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("contacts")
	sb.Set(
		sb.Assign("linked_id", linkedID),
		sb.Assign("link_precedence", precedence),
		sb.Assign("updated_at", now),
	)
	sb.Where(
		sb.Equal("id", id),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	result, err := database.GetQuerier(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		if database.IsConflict(err) {
			return err
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id, "linked_id": linkedID}).Error("Failed to update contact linkage")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update contact")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to read affected rows after linkage update")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update contact")
	}
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "contact %d not found", id)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": id, "linked_id": linkedID, "link_precedence": precedence}).Info("Updated contact linkage")
	return nil
}

// Transact runs fn inside a SERIALIZABLE transaction. The context passed to
// fn carries the open transaction, so repository calls made with it join the
// transaction automatically.
func (r *Repository) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, span := tracing.StartSpan(ctx, "contact.Repository.Transact")
	defer span.End()

	ctxTx, tx, err := r.db.GetTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to begin transaction")
	}
	defer tx.Rollback(ctxTx)

	if err := fn(ctxTx); err != nil {
		return err
	}

	return tx.Commit(ctxTx)
}
