// Package resolver implements contact identity resolution: deciding whether
// an incoming email/phone pair creates a new contact, attaches to an existing
// cluster, or collapses two clusters into one.
package resolver

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/logging"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// maxResolveAttempts bounds re-resolution after a store-level conflict
// (serialization failure or duplicate insert from a concurrent resolver).
const maxResolveAttempts = 3

// Store is the contact persistence contract the resolver needs.
type Store interface {
	FindByIdentity(ctx context.Context, email, phoneNumber *string) ([]models.Contact, error)
	FindByIDOrLinkedID(ctx context.Context, ids []int64) ([]models.Contact, error)
	Create(ctx context.Context, req models.CreateContactRequest) (*models.Contact, error)
	UpdateLinkage(ctx context.Context, id int64, linkedID *int64, precedence models.LinkPrecedence) error
	Transact(ctx context.Context, fn func(ctx context.Context) error) error
}

// Resolver holds no state between calls; all coordination happens through
// the store's transactional guarantees.
type Resolver struct {
	store  Store
	logger logging.Logger
}

// NewResolver creates a new identity resolver
func NewResolver(store Store, logger logging.Logger) *Resolver {
	return &Resolver{
		store:  store,
		logger: logger,
	}
}

// Resolve consolidates the identity described by email/phoneNumber and
// returns the resulting cluster projection. Empty strings count as absent;
// at least one field is required. The whole read-decide-write sequence runs
// in one transaction and is retried a bounded number of times when a
// concurrent resolver causes a conflict.
func (r *Resolver) Resolve(ctx context.Context, email, phoneNumber string) (*models.Resolution, error) {
	ctx, span := tracing.StartSpan(ctx, "resolver.Resolver.Resolve")
	defer span.End()

	emailPtr := optional(email)
	phonePtr := optional(phoneNumber)
	if emailPtr == nil && phonePtr == nil {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "email or phoneNumber is required")
	}

	var resolution *models.Resolution
	var lastErr error
	for attempt := 1; attempt <= maxResolveAttempts; attempt++ {
		resolution, lastErr = r.resolveOnce(ctx, emailPtr, phonePtr)
		if lastErr == nil {
			return resolution, nil
		}
		if !database.IsConflict(lastErr) {
			return nil, lastErr
		}
		r.logger.WithContext(ctx).WithError(lastErr).WithFields(map[string]any{"attempt": attempt}).Warn("Resolution conflicted with a concurrent request, retrying")
	}

	r.logger.WithContext(ctx).WithError(lastErr).Error("Resolution failed after retries")
	return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to resolve contact identity")
}

func (r *Resolver) resolveOnce(ctx context.Context, email, phoneNumber *string) (*models.Resolution, error) {
	ctx, span := tracing.StartSpan(ctx, "resolver.Resolver.resolveOnce")
	defer span.End()

	var resolution *models.Resolution
	err := r.store.Transact(ctx, func(ctx context.Context) error {
		matched, err := r.store.FindByIdentity(ctx, email, phoneNumber)
		if err != nil {
			return err
		}

		// No match: the identity is brand new, anchor a fresh cluster
		if len(matched) == 0 {
			created, err := r.store.Create(ctx, models.CreateContactRequest{
				Email:          email,
				PhoneNumber:    phoneNumber,
				LinkPrecedence: models.LinkPrecedencePrimary,
			})
			if err != nil {
				return err
			}

			resolution = &models.Resolution{
				View:             projectCluster(created, []models.Contact{*created}),
				CreatedContactID: &created.ID,
				CreatedPrimary:   true,
			}
			return nil
		}

		// The exact-match query may have found only secondaries or only part
		// of the cluster; expand to every row reachable through the id set.
		cluster, err := r.expandCluster(ctx, matched)
		if err != nil {
			return err
		}

		primary, demoted, err := r.consolidatePrimaries(ctx, cluster)
		if err != nil {
			return err
		}

		createdID, err := r.fillGap(ctx, cluster, primary, email, phoneNumber)
		if err != nil {
			return err
		}

		// Re-query to pick up just-created and just-demoted rows
		final, err := r.store.FindByIDOrLinkedID(ctx, []int64{primary.ID})
		if err != nil {
			return err
		}

		resolution = &models.Resolution{
			View:              projectCluster(primary, final),
			CreatedContactID:  createdID,
			DemotedPrimaryIDs: demoted,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resolution, nil
}

// expandCluster re-queries the store for every contact whose id or linked_id
// falls in the union of the matched contacts' ids and their primaries' ids.
func (r *Resolver) expandCluster(ctx context.Context, matched []models.Contact) ([]models.Contact, error) {
	seen := make(map[int64]struct{}, len(matched))
	ids := make([]int64, 0, len(matched))
	add := func(id int64) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}

	for _, c := range matched {
		add(c.ID)
		if c.LinkedID != nil {
			add(*c.LinkedID)
		}
	}

	return r.store.FindByIDOrLinkedID(ctx, ids)
}

// consolidatePrimaries picks the cluster's surviving primary and repairs the
// linkage of every other member. When two previously separate clusters
// collide, the older primary survives and the younger is demoted; secondaries
// pointing anywhere but the survivor are re-pointed so links never chain.
// Every mutation is skipped when the row already has the target state, which
// makes a replayed merge a no-op.
func (r *Resolver) consolidatePrimaries(ctx context.Context, cluster []models.Contact) (*models.Contact, []int64, error) {
	var primaries []models.Contact
	for _, c := range cluster {
		if c.IsPrimary() {
			primaries = append(primaries, c)
		}
	}

	if len(primaries) == 0 {
		r.logger.WithContext(ctx).WithFields(map[string]any{"cluster_size": len(cluster)}).Error("Contact cluster has no primary contact")
		return nil, nil, httperror.NewHTTPError(http.StatusInternalServerError, "contact cluster has no primary contact")
	}

	survivor := primaries[0]
	for _, p := range primaries[1:] {
		if p.CreatedAt.Before(survivor.CreatedAt) || (p.CreatedAt.Equal(survivor.CreatedAt) && p.ID < survivor.ID) {
			survivor = p
		}
	}

	var demoted []int64
	for _, p := range primaries {
		if p.ID == survivor.ID {
			continue
		}
		if err := r.store.UpdateLinkage(ctx, p.ID, &survivor.ID, models.LinkPrecedenceSecondary); err != nil {
			return nil, nil, err
		}
		demoted = append(demoted, p.ID)
	}

	for _, c := range cluster {
		if c.IsPrimary() || c.ID == survivor.ID {
			continue
		}
		if c.LinkedID != nil && *c.LinkedID == survivor.ID {
			continue
		}
		if err := r.store.UpdateLinkage(ctx, c.ID, &survivor.ID, models.LinkPrecedenceSecondary); err != nil {
			return nil, nil, err
		}
	}

	return &survivor, demoted, nil
}

// fillGap creates at most one new secondary recording information the
// cluster does not hold yet: a verbatim-new email/phone pair, or a single
// novel value. A request whose values are all known creates nothing.
func (r *Resolver) fillGap(ctx context.Context, cluster []models.Contact, primary *models.Contact, email, phoneNumber *string) (*int64, error) {
	if email != nil && phoneNumber != nil {
		for _, c := range cluster {
			if c.HasPair(email, phoneNumber) {
				return nil, nil
			}
		}
	} else {
		known := false
		for _, c := range cluster {
			if email != nil && c.Email != nil && *c.Email == *email {
				known = true
				break
			}
			if phoneNumber != nil && c.PhoneNumber != nil && *c.PhoneNumber == *phoneNumber {
				known = true
				break
			}
		}
		if known {
			return nil, nil
		}
	}

	created, err := r.store.Create(ctx, models.CreateContactRequest{
		Email:          email,
		PhoneNumber:    phoneNumber,
		LinkedID:       &primary.ID,
		LinkPrecedence: models.LinkPrecedenceSecondary,
	})
	if err != nil {
		return nil, err
	}
	return &created.ID, nil
}

// projectCluster builds the consolidated view: the primary's own values
// first, then the remaining members in creation order, each value once.
func projectCluster(primary *models.Contact, cluster []models.Contact) models.ContactView {
	view := models.ContactView{
		PrimaryContactID:    primary.ID,
		Emails:              []string{},
		PhoneNumbers:        []string{},
		SecondaryContactIDs: []int64{},
	}

	seenEmails := make(map[string]struct{})
	seenPhones := make(map[string]struct{})

	if primary.Email != nil && *primary.Email != "" {
		view.Emails = append(view.Emails, *primary.Email)
		seenEmails[*primary.Email] = struct{}{}
	}
	if primary.PhoneNumber != nil && *primary.PhoneNumber != "" {
		view.PhoneNumbers = append(view.PhoneNumbers, *primary.PhoneNumber)
		seenPhones[*primary.PhoneNumber] = struct{}{}
	}

	for _, c := range cluster {
		if c.Email != nil && *c.Email != "" {
			if _, ok := seenEmails[*c.Email]; !ok {
				view.Emails = append(view.Emails, *c.Email)
				seenEmails[*c.Email] = struct{}{}
			}
		}
		if c.PhoneNumber != nil && *c.PhoneNumber != "" {
			if _, ok := seenPhones[*c.PhoneNumber]; !ok {
				view.PhoneNumbers = append(view.PhoneNumbers, *c.PhoneNumber)
				seenPhones[*c.PhoneNumber] = struct{}{}
			}
		}
		if !c.IsPrimary() {
			view.SecondaryContactIDs = append(view.SecondaryContactIDs, c.ID)
		}
	}

	return view
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
