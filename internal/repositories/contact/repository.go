package contact

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/sorrel/pkg/database"
	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/tracing"
	"github.com/huandu/go-sqlbuilder"
)

const contactsTable = "contacts"

var contactColumns = []string{"id", "email", "phone_number", "linked_id", "link_precedence", "created_at", "updated_at", "deleted_at"}

// ContactStore is the persistence surface the reconciliation engine depends on
type ContactStore interface {
	FindByEmailOrPhone(ctx context.Context, email, phone *string) ([]models.Contact, error)
	GetCluster(ctx context.Context, rootID int64) ([]models.Contact, error)
	GetClusters(ctx context.Context, rootIDs []int64) ([]models.Contact, error)
	Create(ctx context.Context, email, phone *string, linkedID *int64, precedence models.LinkPrecedence) (*models.Contact, error)
	Demote(ctx context.Context, ids []int64, rootID int64) (int64, error)
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Repository handles contact persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new contact repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// FindByEmailOrPhone returns every contact carrying the given email or phone
// number. Supplying neither returns an empty result.
func (r *Repository) FindByEmailOrPhone(ctx context.Context, email, phone *string) ([]models.Contact, error) {
	ctx, span := tracing.StartSpan(ctx, "contact.Repository.FindByEmailOrPhone")
	defer span.End()

	if email == nil && phone == nil {
		return nil, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(contactColumns...)
	sb.From(contactsTable)

	var match []string
	if email != nil {
		match = append(match, sb.Equal("email", *email))
	}
	if phone != nil {
		match = append(match, sb.Equal("phone_number", *phone))
	}
	sb.Where(sb.Or(match...), sb.IsNull("deleted_at"))
	sb.OrderBy("created_at ASC", "id ASC")

	query, args := sb.Build()
	var contacts []models.Contact
	if err := r.db.SelectContext(ctx, &contacts, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to find contacts by email or phone")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find contacts")
	}
	return contacts, nil
}

// Get retrieves a contact by ID
func (r *Repository) Get(ctx context.Context, id int64) (*models.Contact, error) {
	ctx, span := tracing.StartSpan(ctx, "contact.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(contactColumns...)
	sb.From(contactsTable)
	sb.Where(
		sb.Equal("id", id),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	var contact models.Contact
	if err := r.db.GetContext(ctx, &contact, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "contact %d not found", id)
		}
		r.logger.WithContext(ctx).WithError(err).WithField("id", id).Error("Failed to get contact")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get contact")
	}

	return &contact, nil
}

// GetCluster returns the full cluster rooted at rootID: the root itself plus
// every contact linked to it, ordered oldest first.
func (r *Repository) GetCluster(ctx context.Context, rootID int64) ([]models.Contact, error) {
	ctx, span := tracing.StartSpan(ctx, "contact.Repository.GetCluster")
	defer span.End()

	return r.GetClusters(ctx, []int64{rootID})
}

// GetClusters returns the members of every cluster rooted at the given IDs in
// a single query, ordered oldest first.
func (r *Repository) GetClusters(ctx context.Context, rootIDs []int64) ([]models.Contact, error) {
	ctx, span := tracing.StartSpan(ctx, "contact.Repository.GetClusters")
	defer span.End()

	if len(rootIDs) == 0 {
		return nil, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(contactColumns...)
	sb.From(contactsTable)
	sb.Where(
		sb.Or(
			sb.In("id", sqlbuilder.Flatten(rootIDs)...),
			sb.In("linked_id", sqlbuilder.Flatten(rootIDs)...),
		),
		sb.IsNull("deleted_at"),
	)
	sb.OrderBy("created_at ASC", "id ASC")

	query, args := sb.Build()
	var contacts []models.Contact
	if err := r.db.SelectContext(ctx, &contacts, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("root_ids", rootIDs).Error("Failed to get contact clusters")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get contact clusters")
	}
	return contacts, nil
}

// Create inserts a new contact and returns the stored row
func (r *Repository) Create(ctx context.Context, email, phone *string, linkedID *int64, precedence models.LinkPrecedence) (*models.Contact, error) {
	ctx, span := tracing.StartSpan(ctx, "contact.Repository.Create")
	defer span.End()

	now := time.Now().UTC()
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto(contactsTable)
	ib.Cols("email", "phone_number", "linked_id", "link_precedence", "created_at", "updated_at")
	ib.Values(email, phone, linkedID, precedence, now, now)
	ib.Returning(contactColumns...)

	query, args := ib.Build()
	var contact models.Contact
	if err := r.db.GetContext(ctx, &contact, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"linked_id":       linkedID,
			"link_precedence": precedence,
		}).Error("Failed to create contact")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create contact")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": contact.ID, "link_precedence": precedence}).Info("Created contact")
	return &contact, nil
}

// Demote re-parents the given contacts under rootID and marks them secondary.
// The ids may include former primaries and their secondaries; every one ends
// up linked directly to the new root so link chains stay one level deep.
func (r *Repository) Demote(ctx context.Context, ids []int64, rootID int64) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "contact.Repository.Demote")
	defer span.End()

	if len(ids) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(contactsTable)
	ub.Set(
		ub.Assign("link_precedence", models.LinkPrecedenceSecondary),
		ub.Assign("linked_id", rootID),
		ub.Assign("updated_at", now),
	)
	ub.Where(
		ub.In("id", sqlbuilder.Flatten(ids)...),
		ub.NotEqual("id", rootID),
		ub.IsNull("deleted_at"),
	)

	query, args := ub.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"ids": ids, "root_id": rootID}).Error("Failed to demote contacts")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to demote contacts")
	}

	rows, _ := result.RowsAffected()
	r.logger.WithContext(ctx).WithFields(map[string]any{
		"root_id": rootID,
		"count":   rows,
	}).Info("Demoted contacts")
	return rows, nil
}

// List retrieves contacts with pagination, newest first
func (r *Repository) List(ctx context.Context, page, pageSize int) (*models.ContactListResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "contact.Repository.List")
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	countSb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	countSb.Select("COUNT(*)")
	countSb.From(contactsTable)
	countSb.Where(countSb.IsNull("deleted_at"))

	countQuery, countArgs := countSb.Build()
	var totalCount int
	if err := r.db.GetContext(ctx, &totalCount, countQuery, countArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count contacts")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count contacts")
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(contactColumns...)
	sb.From(contactsTable)
	sb.Where(sb.IsNull("deleted_at"))
	sb.OrderBy("created_at DESC")
	sb.Limit(pageSize).Offset(offset)

	query, args := sb.Build()
	var contacts []models.Contact
	if err := r.db.SelectContext(ctx, &contacts, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"page": page, "page_size": pageSize}).Error("Failed to list contacts")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list contacts")
	}

	return &models.ContactListResponse{
		Items:      contacts,
		TotalCount: totalCount,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

// InTx runs fn inside a database transaction. Repository calls made with the
// context passed to fn run on that transaction. The transaction commits when
// fn returns nil and rolls back otherwise.
func (r *Repository) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	ctxTx, tx, err := r.db.GetTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctxTx)

	if err := fn(ctxTx); err != nil {
		return err
	}

	return tx.Commit(ctxTx)
}
