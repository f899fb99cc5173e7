package resolver

import (
	"context"
	"net/http"
	"sort"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/logging"
	"github.com/Ramsey-B/clover/pkg/models"
)

// memStore is an in-memory Store that mirrors the repository's query
// semantics: soft-delete aware, ordered by created_at then id.
type memStore struct {
	contacts   []models.Contact
	nextID     int64
	clock      time.Time
	createErrs []error
	transacts  int
}

func newMemStore() *memStore {
	return &memStore{
		nextID: 1,
		clock:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (s *memStore) tick() time.Time {
	s.clock = s.clock.Add(time.Minute)
	return s.clock
}

func (s *memStore) seed(email, phoneNumber *string, linkedID *int64, precedence models.LinkPrecedence) models.Contact {
	now := s.tick()
	contact := models.Contact{
		ID:             s.nextID,
		Email:          email,
		PhoneNumber:    phoneNumber,
		LinkedID:       linkedID,
		LinkPrecedence: precedence,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.nextID++
	s.contacts = append(s.contacts, contact)
	return contact
}

func (s *memStore) sorted(contacts []models.Contact) []models.Contact {
	sort.Slice(contacts, func(i, j int) bool {
		if !contacts[i].CreatedAt.Equal(contacts[j].CreatedAt) {
			return contacts[i].CreatedAt.Before(contacts[j].CreatedAt)
		}
		return contacts[i].ID < contacts[j].ID
	})
	return contacts
}

func (s *memStore) softDelete(id int64) {
	now := s.tick()
	s.get(id).DeletedAt = &now
}

func (s *memStore) get(id int64) *models.Contact {
	for i := range s.contacts {
		if s.contacts[i].ID == id {
			return &s.contacts[i]
		}
	}
	return nil
}

func (s *memStore) FindByIdentity(ctx context.Context, email, phoneNumber *string) ([]models.Contact, error) {
	var matched []models.Contact
	for _, c := range s.contacts {
		if c.DeletedAt != nil {
			continue
		}
		if email != nil && c.Email != nil && *c.Email == *email {
			matched = append(matched, c)
			continue
		}
		if phoneNumber != nil && c.PhoneNumber != nil && *c.PhoneNumber == *phoneNumber {
			matched = append(matched, c)
		}
	}
	return s.sorted(matched), nil
}

func (s *memStore) FindByIDOrLinkedID(ctx context.Context, ids []int64) ([]models.Contact, error) {
	idSet := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		idSet[id] = struct{}{}
	}

	var matched []models.Contact
	for _, c := range s.contacts {
		if c.DeletedAt != nil {
			continue
		}
		if _, ok := idSet[c.ID]; ok {
			matched = append(matched, c)
			continue
		}
		if c.LinkedID != nil {
			if _, ok := idSet[*c.LinkedID]; ok {
				matched = append(matched, c)
			}
		}
	}
	return s.sorted(matched), nil
}

func (s *memStore) Create(ctx context.Context, req models.CreateContactRequest) (*models.Contact, error) {
	if len(s.createErrs) > 0 {
		err := s.createErrs[0]
		s.createErrs = s.createErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	contact := s.seed(req.Email, req.PhoneNumber, req.LinkedID, req.LinkPrecedence)
	return &contact, nil
}

func (s *memStore) UpdateLinkage(ctx context.Context, id int64, linkedID *int64, precedence models.LinkPrecedence) error {
	contact := s.get(id)
	if contact == nil {
		return httperror.NewHTTPError(http.StatusNotFound, "contact not found")
	}
	contact.LinkedID = linkedID
	contact.LinkPrecedence = precedence
	contact.UpdatedAt = s.tick()
	return nil
}

func (s *memStore) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	s.transacts++
	return fn(ctx)
}

func strPtr(v string) *string { return &v }

func newTestResolver(store *memStore) *Resolver {
	return NewResolver(store, logging.NewNopLogger())
}

func TestResolveCreatesPrimaryForNewIdentity(t *testing.T) {
	store := newMemStore()
	r := newTestResolver(store)

	res, err := r.Resolve(context.Background(), "lorraine@hillvalley.edu", "123456")
	require.NoError(t, err)
	require.NotNil(t, res.CreatedContactID)

	assert.True(t, res.CreatedPrimary)
	assert.Equal(t, *res.CreatedContactID, res.View.PrimaryContactID)
	assert.Equal(t, []string{"lorraine@hillvalley.edu"}, res.View.Emails)
	assert.Equal(t, []string{"123456"}, res.View.PhoneNumbers)
	assert.Empty(t, res.View.SecondaryContactIDs)
	assert.Empty(t, res.DemotedPrimaryIDs)
}

func TestResolveRepeatedIdentityIsIdempotent(t *testing.T) {
	store := newMemStore()
	primary := store.seed(strPtr("lorraine@hillvalley.edu"), strPtr("123456"), nil, models.LinkPrecedencePrimary)
	r := newTestResolver(store)

	res, err := r.Resolve(context.Background(), "lorraine@hillvalley.edu", "123456")
	require.NoError(t, err)

	assert.Nil(t, res.CreatedContactID)
	assert.False(t, res.Changed())
	assert.Equal(t, primary.ID, res.View.PrimaryContactID)
	assert.Len(t, store.contacts, 1)
}

func TestResolveNovelPhoneCreatesSecondary(t *testing.T) {
	store := newMemStore()
	primary := store.seed(strPtr("lorraine@hillvalley.edu"), strPtr("123456"), nil, models.LinkPrecedencePrimary)
	r := newTestResolver(store)

	res, err := r.Resolve(context.Background(), "lorraine@hillvalley.edu", "717171")
	require.NoError(t, err)
	require.NotNil(t, res.CreatedContactID)

	created := store.get(*res.CreatedContactID)
	require.NotNil(t, created)
	assert.False(t, res.CreatedPrimary)
	assert.Equal(t, models.LinkPrecedenceSecondary, created.LinkPrecedence)
	require.NotNil(t, created.LinkedID)
	assert.Equal(t, primary.ID, *created.LinkedID)

	assert.Equal(t, primary.ID, res.View.PrimaryContactID)
	assert.Equal(t, []string{"lorraine@hillvalley.edu"}, res.View.Emails)
	assert.Equal(t, []string{"123456", "717171"}, res.View.PhoneNumbers)
	assert.Equal(t, []int64{created.ID}, res.View.SecondaryContactIDs)
}

func TestResolveKnownSingleValueCreatesNothing(t *testing.T) {
	store := newMemStore()
	primary := store.seed(strPtr("lorraine@hillvalley.edu"), strPtr("123456"), nil, models.LinkPrecedencePrimary)
	r := newTestResolver(store)

	res, err := r.Resolve(context.Background(), "", "123456")
	require.NoError(t, err)

	assert.Nil(t, res.CreatedContactID)
	assert.Equal(t, primary.ID, res.View.PrimaryContactID)
	assert.Len(t, store.contacts, 1)
}

func TestResolveMergesClustersKeepingOldestPrimary(t *testing.T) {
	store := newMemStore()
	older := store.seed(strPtr("george@hillvalley.edu"), strPtr("919191"), nil, models.LinkPrecedencePrimary)
	younger := store.seed(strPtr("biffsucks@hillvalley.edu"), strPtr("717171"), nil, models.LinkPrecedencePrimary)
	r := newTestResolver(store)

	res, err := r.Resolve(context.Background(), "george@hillvalley.edu", "717171")
	require.NoError(t, err)

	assert.Equal(t, older.ID, res.View.PrimaryContactID)
	assert.Equal(t, []int64{younger.ID}, res.DemotedPrimaryIDs)

	demoted := store.get(younger.ID)
	assert.Equal(t, models.LinkPrecedenceSecondary, demoted.LinkPrecedence)
	require.NotNil(t, demoted.LinkedID)
	assert.Equal(t, older.ID, *demoted.LinkedID)

	// The request pair itself was new, so the merge also records it
	require.NotNil(t, res.CreatedContactID)
	assert.Equal(t, []string{"george@hillvalley.edu", "biffsucks@hillvalley.edu"}, res.View.Emails)
	assert.Equal(t, []string{"919191", "717171"}, res.View.PhoneNumbers)
	assert.Contains(t, res.View.SecondaryContactIDs, younger.ID)
	assert.Contains(t, res.View.SecondaryContactIDs, *res.CreatedContactID)
}

func TestResolveMergeReplayIsNoOp(t *testing.T) {
	store := newMemStore()
	older := store.seed(strPtr("george@hillvalley.edu"), strPtr("919191"), nil, models.LinkPrecedencePrimary)
	store.seed(strPtr("biffsucks@hillvalley.edu"), strPtr("717171"), &older.ID, models.LinkPrecedenceSecondary)
	store.seed(strPtr("george@hillvalley.edu"), strPtr("717171"), &older.ID, models.LinkPrecedenceSecondary)
	r := newTestResolver(store)

	res, err := r.Resolve(context.Background(), "george@hillvalley.edu", "717171")
	require.NoError(t, err)

	assert.False(t, res.Changed())
	assert.Equal(t, older.ID, res.View.PrimaryContactID)
	assert.Len(t, store.contacts, 3)
}

func TestResolveRepointsSecondariesOfDemotedPrimary(t *testing.T) {
	store := newMemStore()
	older := store.seed(strPtr("doc@hillvalley.edu"), nil, nil, models.LinkPrecedencePrimary)
	younger := store.seed(nil, strPtr("555123"), nil, models.LinkPrecedencePrimary)
	straggler := store.seed(strPtr("emmett@hillvalley.edu"), strPtr("555123"), &younger.ID, models.LinkPrecedenceSecondary)
	r := newTestResolver(store)

	res, err := r.Resolve(context.Background(), "doc@hillvalley.edu", "555123")
	require.NoError(t, err)

	assert.Equal(t, older.ID, res.View.PrimaryContactID)
	assert.Equal(t, []int64{younger.ID}, res.DemotedPrimaryIDs)

	// No secondary may point at another secondary after the merge
	for _, id := range []int64{younger.ID, straggler.ID} {
		contact := store.get(id)
		require.NotNil(t, contact.LinkedID)
		assert.Equal(t, older.ID, *contact.LinkedID, "contact %d must link to the surviving primary", id)
		assert.Equal(t, models.LinkPrecedenceSecondary, contact.LinkPrecedence)
	}
}

func TestResolveOrdersPrimaryValuesFirst(t *testing.T) {
	store := newMemStore()
	primary := store.seed(strPtr("marty@hillvalley.edu"), strPtr("101010"), nil, models.LinkPrecedencePrimary)
	store.seed(strPtr("calvin@hillvalley.edu"), strPtr("101010"), &primary.ID, models.LinkPrecedenceSecondary)
	store.seed(strPtr("marty@hillvalley.edu"), strPtr("202020"), &primary.ID, models.LinkPrecedenceSecondary)
	r := newTestResolver(store)

	res, err := r.Resolve(context.Background(), "", "101010")
	require.NoError(t, err)

	assert.Equal(t, []string{"marty@hillvalley.edu", "calvin@hillvalley.edu"}, res.View.Emails)
	assert.Equal(t, []string{"101010", "202020"}, res.View.PhoneNumbers)
}

func TestResolveIgnoresSoftDeletedContacts(t *testing.T) {
	store := newMemStore()
	ghost := store.seed(strPtr("clara@hillvalley.edu"), strPtr("888888"), nil, models.LinkPrecedencePrimary)
	store.softDelete(ghost.ID)
	r := newTestResolver(store)

	res, err := r.Resolve(context.Background(), "clara@hillvalley.edu", "888888")
	require.NoError(t, err)
	require.NotNil(t, res.CreatedContactID)

	// The deleted row must never anchor the resolution
	assert.True(t, res.CreatedPrimary)
	assert.NotEqual(t, ghost.ID, res.View.PrimaryContactID)
	assert.Equal(t, *res.CreatedContactID, res.View.PrimaryContactID)
	assert.Empty(t, res.View.SecondaryContactIDs)
}

func TestResolveExcludesSoftDeletedSecondariesFromView(t *testing.T) {
	store := newMemStore()
	primary := store.seed(strPtr("clara@hillvalley.edu"), strPtr("888888"), nil, models.LinkPrecedencePrimary)
	removed := store.seed(nil, strPtr("999999"), &primary.ID, models.LinkPrecedenceSecondary)
	store.softDelete(removed.ID)
	r := newTestResolver(store)

	res, err := r.Resolve(context.Background(), "clara@hillvalley.edu", "")
	require.NoError(t, err)

	assert.Nil(t, res.CreatedContactID)
	assert.Equal(t, primary.ID, res.View.PrimaryContactID)
	assert.Equal(t, []string{"888888"}, res.View.PhoneNumbers)
	assert.NotContains(t, res.View.SecondaryContactIDs, removed.ID)
	assert.Empty(t, res.View.SecondaryContactIDs)
}

func TestResolveRequiresEmailOrPhoneNumber(t *testing.T) {
	r := newTestResolver(newMemStore())

	_, err := r.Resolve(context.Background(), "", "")
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))
}

func TestResolveFailsWhenClusterHasNoPrimary(t *testing.T) {
	store := newMemStore()
	orphanLink := int64(99)
	store.seed(strPtr("lost@hillvalley.edu"), nil, &orphanLink, models.LinkPrecedenceSecondary)
	r := newTestResolver(store)

	_, err := r.Resolve(context.Background(), "lost@hillvalley.edu", "")
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, httperror.GetStatusCode(err))
}

func TestResolveRetriesOnConflict(t *testing.T) {
	store := newMemStore()
	store.createErrs = []error{&pq.Error{Code: "23505"}}
	r := newTestResolver(store)

	res, err := r.Resolve(context.Background(), "jennifer@hillvalley.edu", "")
	require.NoError(t, err)
	require.NotNil(t, res.CreatedContactID)

	assert.True(t, res.CreatedPrimary)
	assert.Equal(t, 2, store.transacts)
}

func TestResolveGivesUpAfterRepeatedConflicts(t *testing.T) {
	store := newMemStore()
	store.createErrs = []error{
		&pq.Error{Code: "40001"},
		&pq.Error{Code: "40001"},
		&pq.Error{Code: "40001"},
	}
	r := newTestResolver(store)

	_, err := r.Resolve(context.Background(), "jennifer@hillvalley.edu", "")
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, httperror.GetStatusCode(err))
	assert.Equal(t, maxResolveAttempts, store.transacts)
}
