package reconcile

import (
	"context"
	"net/http"
	"sort"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ramsey-B/sorrel/pkg/models"
)

func testLogger() ectologger.Logger {
	return zapadapter.NewZapEctoLogger(zap.NewNop(), nil)
}

// fakeStore is an in-memory ContactStore. Each created contact gets a later
// created_at than the previous one, mirroring the database's monotonic ids.
type fakeStore struct {
	contacts map[int64]*models.Contact
	nextID   int64
	clock    time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		contacts: make(map[int64]*models.Contact),
		nextID:   1,
		clock:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (f *fakeStore) all() []models.Contact {
	out := make([]models.Contact, 0, len(f.contacts))
	for _, c := range f.contacts {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (f *fakeStore) FindByEmailOrPhone(ctx context.Context, email, phone *string) ([]models.Contact, error) {
	if email == nil && phone == nil {
		return nil, nil
	}
	var out []models.Contact
	for _, c := range f.all() {
		if (email != nil && c.EmailEquals(*email)) || (phone != nil && c.PhoneEquals(*phone)) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) GetCluster(ctx context.Context, rootID int64) ([]models.Contact, error) {
	return f.GetClusters(ctx, []int64{rootID})
}

func (f *fakeStore) GetClusters(ctx context.Context, rootIDs []int64) ([]models.Contact, error) {
	set := make(map[int64]struct{}, len(rootIDs))
	for _, id := range rootIDs {
		set[id] = struct{}{}
	}
	var out []models.Contact
	for _, c := range f.all() {
		if _, ok := set[c.ID]; ok {
			out = append(out, c)
			continue
		}
		if c.LinkedID != nil {
			if _, ok := set[*c.LinkedID]; ok {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

func (f *fakeStore) Create(ctx context.Context, email, phone *string, linkedID *int64, precedence models.LinkPrecedence) (*models.Contact, error) {
	f.clock = f.clock.Add(time.Minute)
	c := &models.Contact{
		ID:             f.nextID,
		Email:          email,
		PhoneNumber:    phone,
		LinkedID:       linkedID,
		LinkPrecedence: precedence,
		CreatedAt:      f.clock,
		UpdatedAt:      f.clock,
	}
	f.contacts[c.ID] = c
	f.nextID++
	out := *c
	return &out, nil
}

func (f *fakeStore) Demote(ctx context.Context, ids []int64, rootID int64) (int64, error) {
	var count int64
	for _, id := range ids {
		if id == rootID {
			continue
		}
		c, ok := f.contacts[id]
		if !ok {
			continue
		}
		root := rootID
		c.LinkedID = &root
		c.LinkPrecedence = models.LinkPrecedenceSecondary
		c.UpdatedAt = f.clock
		count++
	}
	return count, nil
}

func (f *fakeStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func newTestService(store *fakeStore) *Service {
	return NewService(testLogger(), store, nil, nil, 0, 0)
}

func TestIdentify_NewContactCreatesPrimary(t *testing.T) {
	store := newFakeStore()
	service := newTestService(store)

	view, err := service.Identify(context.Background(), models.IdentifyRequest{
		Email:       strptr("lorraine@hillvalley.edu"),
		PhoneNumber: strptr("123456"),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), view.PrimaryContactID)
	assert.Equal(t, []string{"lorraine@hillvalley.edu"}, view.Emails)
	assert.Equal(t, []string{"123456"}, view.PhoneNumbers)
	assert.Empty(t, view.SecondaryContactIDs)
	assert.Len(t, store.contacts, 1)
}

func TestIdentify_NewEmailSamePhoneLinksSecondary(t *testing.T) {
	store := newFakeStore()
	service := newTestService(store)

	_, err := service.Identify(context.Background(), models.IdentifyRequest{
		Email:       strptr("lorraine@hillvalley.edu"),
		PhoneNumber: strptr("123456"),
	})
	require.NoError(t, err)

	view, err := service.Identify(context.Background(), models.IdentifyRequest{
		Email:       strptr("mcfly@hillvalley.edu"),
		PhoneNumber: strptr("123456"),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), view.PrimaryContactID)
	assert.Equal(t, []string{"lorraine@hillvalley.edu", "mcfly@hillvalley.edu"}, view.Emails)
	assert.Equal(t, []string{"123456"}, view.PhoneNumbers)
	assert.Equal(t, []int64{2}, view.SecondaryContactIDs)
	assert.Len(t, store.contacts, 2)
}

func TestIdentify_RepeatRequestIsIdempotent(t *testing.T) {
	store := newFakeStore()
	service := newTestService(store)

	req := models.IdentifyRequest{
		Email:       strptr("lorraine@hillvalley.edu"),
		PhoneNumber: strptr("123456"),
	}

	first, err := service.Identify(context.Background(), req)
	require.NoError(t, err)
	second, err := service.Identify(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, store.contacts, 1)
}

func TestIdentify_PartialRequestReturnsFullCluster(t *testing.T) {
	store := newFakeStore()
	service := newTestService(store)

	_, err := service.Identify(context.Background(), models.IdentifyRequest{
		Email:       strptr("lorraine@hillvalley.edu"),
		PhoneNumber: strptr("123456"),
	})
	require.NoError(t, err)
	_, err = service.Identify(context.Background(), models.IdentifyRequest{
		Email:       strptr("mcfly@hillvalley.edu"),
		PhoneNumber: strptr("123456"),
	})
	require.NoError(t, err)

	// Email-only request matching a secondary still projects the whole cluster
	view, err := service.Identify(context.Background(), models.IdentifyRequest{
		Email: strptr("mcfly@hillvalley.edu"),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), view.PrimaryContactID)
	assert.Equal(t, []string{"lorraine@hillvalley.edu", "mcfly@hillvalley.edu"}, view.Emails)
	assert.Equal(t, []int64{2}, view.SecondaryContactIDs)
	assert.Len(t, store.contacts, 2, "no new row for known values")
}

func TestIdentify_BridgingRequestMergesClusters(t *testing.T) {
	store := newFakeStore()
	service := newTestService(store)

	_, err := service.Identify(context.Background(), models.IdentifyRequest{
		Email:       strptr("george@hillvalley.edu"),
		PhoneNumber: strptr("919191"),
	})
	require.NoError(t, err)
	_, err = service.Identify(context.Background(), models.IdentifyRequest{
		Email:       strptr("biffsucks@hillvalley.edu"),
		PhoneNumber: strptr("717171"),
	})
	require.NoError(t, err)

	view, err := service.Identify(context.Background(), models.IdentifyRequest{
		Email:       strptr("george@hillvalley.edu"),
		PhoneNumber: strptr("717171"),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), view.PrimaryContactID)
	assert.Equal(t, []string{"george@hillvalley.edu", "biffsucks@hillvalley.edu"}, view.Emails)
	assert.Equal(t, []string{"919191", "717171"}, view.PhoneNumbers)
	assert.Equal(t, []int64{2}, view.SecondaryContactIDs)

	// The younger primary was demoted in place, no new row created
	assert.Len(t, store.contacts, 2)
	demoted := store.contacts[2]
	assert.Equal(t, models.LinkPrecedenceSecondary, demoted.LinkPrecedence)
	require.NotNil(t, demoted.LinkedID)
	assert.Equal(t, int64(1), *demoted.LinkedID)
}

func TestIdentify_MergeReparentsDisplacedSecondaries(t *testing.T) {
	store := newFakeStore()
	service := newTestService(store)

	// Cluster A: 1. Cluster B: 2 with secondary 3.
	_, err := service.Identify(context.Background(), models.IdentifyRequest{
		Email:       strptr("a@example.com"),
		PhoneNumber: strptr("111111"),
	})
	require.NoError(t, err)
	_, err = service.Identify(context.Background(), models.IdentifyRequest{
		Email:       strptr("b@example.com"),
		PhoneNumber: strptr("222222"),
	})
	require.NoError(t, err)
	_, err = service.Identify(context.Background(), models.IdentifyRequest{
		Email:       strptr("c@example.com"),
		PhoneNumber: strptr("222222"),
	})
	require.NoError(t, err)

	view, err := service.Identify(context.Background(), models.IdentifyRequest{
		Email:       strptr("a@example.com"),
		PhoneNumber: strptr("222222"),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), view.PrimaryContactID)
	assert.Equal(t, []int64{2, 3}, view.SecondaryContactIDs)

	// Every member links directly at the surviving root
	for _, id := range []int64{2, 3} {
		c := store.contacts[id]
		require.NotNil(t, c.LinkedID)
		assert.Equal(t, int64(1), *c.LinkedID)
		assert.Equal(t, models.LinkPrecedenceSecondary, c.LinkPrecedence)
	}
}

func TestIdentify_MergeIsIdempotent(t *testing.T) {
	store := newFakeStore()
	service := newTestService(store)

	_, err := service.Identify(context.Background(), models.IdentifyRequest{
		Email:       strptr("a@example.com"),
		PhoneNumber: strptr("111111"),
	})
	require.NoError(t, err)
	_, err = service.Identify(context.Background(), models.IdentifyRequest{
		Email:       strptr("b@example.com"),
		PhoneNumber: strptr("222222"),
	})
	require.NoError(t, err)

	bridge := models.IdentifyRequest{
		Email:       strptr("a@example.com"),
		PhoneNumber: strptr("222222"),
	}
	first, err := service.Identify(context.Background(), bridge)
	require.NoError(t, err)
	second, err := service.Identify(context.Background(), bridge)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, store.contacts, 2)
}

// mergedBehindStore simulates another request's merge committing between this
// request's match read and its transaction: the demote is applied the moment
// the transaction opens.
type mergedBehindStore struct {
	*fakeStore
	demoteID int64
	rootID   int64
	applied  bool
}

func (m *mergedBehindStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if !m.applied {
		m.applied = true
		if _, err := m.fakeStore.Demote(ctx, []int64{m.demoteID}, m.rootID); err != nil {
			return err
		}
	}
	return m.fakeStore.InTx(ctx, fn)
}

func TestIdentify_ClusterMergedElsewhereBeforeTransaction(t *testing.T) {
	base := newFakeStore()
	seed := newTestService(base)

	_, err := seed.Identify(context.Background(), models.IdentifyRequest{
		Email:       strptr("a@example.com"),
		PhoneNumber: strptr("111111"),
	})
	require.NoError(t, err)
	_, err = seed.Identify(context.Background(), models.IdentifyRequest{
		Email:       strptr("b@example.com"),
		PhoneNumber: strptr("222222"),
	})
	require.NoError(t, err)

	// Contact 2 gets merged under root 1 after this request matched it as a
	// root of its own. The in-transaction re-read must follow the moved link
	// instead of failing the cluster consistency check.
	store := &mergedBehindStore{fakeStore: base, demoteID: 2, rootID: 1}
	service := NewService(testLogger(), store, nil, nil, 0, 0)

	view, err := service.Identify(context.Background(), models.IdentifyRequest{
		PhoneNumber: strptr("222222"),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), view.PrimaryContactID)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, view.Emails)
	assert.Equal(t, []string{"111111", "222222"}, view.PhoneNumbers)
	assert.Equal(t, []int64{2}, view.SecondaryContactIDs)
	assert.Len(t, base.contacts, 2, "lookup of a known value adds no row")
}

// failingStore errors on every mutation
type failingStore struct {
	*fakeStore
	err error
}

func (f *failingStore) Create(ctx context.Context, email, phone *string, linkedID *int64, precedence models.LinkPrecedence) (*models.Contact, error) {
	return nil, f.err
}

func (f *failingStore) Demote(ctx context.Context, ids []int64, rootID int64) (int64, error) {
	return 0, f.err
}

func TestIdentify_CreateFailureSurfaces(t *testing.T) {
	base := newFakeStore()
	storeErr := httperror.NewHTTPError(http.StatusInternalServerError, "failed to create contact")
	service := NewService(testLogger(), &failingStore{fakeStore: base, err: storeErr}, nil, nil, 0, 0)

	view, err := service.Identify(context.Background(), models.IdentifyRequest{
		Email:       strptr("a@example.com"),
		PhoneNumber: strptr("111111"),
	})
	require.Error(t, err)
	assert.Nil(t, view)
	assert.Equal(t, http.StatusInternalServerError, httperror.GetStatusCode(err))
	assert.Empty(t, base.contacts)
}

func TestIdentify_DemoteFailureSurfaces(t *testing.T) {
	base := newFakeStore()
	seed := newTestService(base)

	_, err := seed.Identify(context.Background(), models.IdentifyRequest{
		Email:       strptr("a@example.com"),
		PhoneNumber: strptr("111111"),
	})
	require.NoError(t, err)
	_, err = seed.Identify(context.Background(), models.IdentifyRequest{
		Email:       strptr("b@example.com"),
		PhoneNumber: strptr("222222"),
	})
	require.NoError(t, err)

	storeErr := httperror.NewHTTPError(http.StatusInternalServerError, "failed to demote contacts")
	service := NewService(testLogger(), &failingStore{fakeStore: base, err: storeErr}, nil, nil, 0, 0)

	view, err := service.Identify(context.Background(), models.IdentifyRequest{
		Email:       strptr("a@example.com"),
		PhoneNumber: strptr("222222"),
	})
	require.Error(t, err)
	assert.Nil(t, view)
	assert.Equal(t, http.StatusInternalServerError, httperror.GetStatusCode(err))

	// Both clusters untouched
	assert.Equal(t, models.LinkPrecedencePrimary, base.contacts[1].LinkPrecedence)
	assert.Equal(t, models.LinkPrecedencePrimary, base.contacts[2].LinkPrecedence)
	assert.Len(t, base.contacts, 2)
}

func TestIdentify_RequiresEmailOrPhone(t *testing.T) {
	service := newTestService(newFakeStore())

	_, err := service.Identify(context.Background(), models.IdentifyRequest{})
	require.Error(t, err)
	assert.True(t, httperror.IsHTTPError(err))
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))
}

func TestIdentify_NormalizesWhitespaceAndEmpty(t *testing.T) {
	service := newTestService(newFakeStore())

	_, err := service.Identify(context.Background(), models.IdentifyRequest{
		Email:       strptr("   "),
		PhoneNumber: strptr(""),
	})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))
}

func TestIdentify_TrimsBeforeMatching(t *testing.T) {
	store := newFakeStore()
	service := newTestService(store)

	_, err := service.Identify(context.Background(), models.IdentifyRequest{
		Email:       strptr("a@example.com"),
		PhoneNumber: strptr("111111"),
	})
	require.NoError(t, err)

	view, err := service.Identify(context.Background(), models.IdentifyRequest{
		Email: strptr("  a@example.com  "),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), view.PrimaryContactID)
	assert.Len(t, store.contacts, 1)
}
