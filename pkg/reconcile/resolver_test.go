package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/sorrel/pkg/models"
)

var testEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func strptr(s string) *string { return &s }

func int64ptr(v int64) *int64 { return &v }

func testContact(id int64, email, phone string, linkedID *int64, age time.Duration) models.Contact {
	precedence := models.LinkPrecedencePrimary
	if linkedID != nil {
		precedence = models.LinkPrecedenceSecondary
	}
	c := models.Contact{
		ID:             id,
		LinkedID:       linkedID,
		LinkPrecedence: precedence,
		CreatedAt:      testEpoch.Add(age),
		UpdatedAt:      testEpoch.Add(age),
	}
	if email != "" {
		c.Email = strptr(email)
	}
	if phone != "" {
		c.PhoneNumber = strptr(phone)
	}
	return c
}

func TestBuildPlan_NoMatches(t *testing.T) {
	plan := BuildPlan(strptr("a@example.com"), strptr("111111"), nil)

	assert.True(t, plan.CreatePrimary)
	assert.False(t, plan.CreateSecondary)
	assert.Empty(t, plan.DemoteIDs)
}

func TestBuildPlan_ExactMatchIsNoop(t *testing.T) {
	candidates := []models.Contact{
		testContact(1, "a@example.com", "111111", nil, 0),
	}

	plan := BuildPlan(strptr("a@example.com"), strptr("111111"), candidates)

	assert.False(t, plan.CreatePrimary)
	assert.False(t, plan.CreateSecondary)
	assert.Empty(t, plan.DemoteIDs)
	assert.True(t, plan.IsNoop())
	assert.Equal(t, int64(1), plan.RootID)
}

func TestBuildPlan_PartialRequestKnownValueIsNoop(t *testing.T) {
	candidates := []models.Contact{
		testContact(1, "a@example.com", "111111", nil, 0),
	}

	plan := BuildPlan(strptr("a@example.com"), nil, candidates)

	assert.True(t, plan.IsNoop())
}

func TestBuildPlan_NewPhoneCreatesSecondary(t *testing.T) {
	candidates := []models.Contact{
		testContact(1, "a@example.com", "111111", nil, 0),
	}

	plan := BuildPlan(strptr("a@example.com"), strptr("222222"), candidates)

	assert.False(t, plan.CreatePrimary)
	assert.True(t, plan.CreateSecondary)
	assert.Empty(t, plan.DemoteIDs)
	assert.Equal(t, int64(1), plan.RootID)
}

func TestBuildPlan_NewEmailCreatesSecondary(t *testing.T) {
	candidates := []models.Contact{
		testContact(1, "a@example.com", "111111", nil, 0),
		testContact(2, "b@example.com", "111111", int64ptr(1), time.Hour),
	}

	plan := BuildPlan(strptr("c@example.com"), strptr("111111"), candidates)

	assert.True(t, plan.CreateSecondary)
	assert.Empty(t, plan.DemoteIDs)
	assert.Equal(t, int64(1), plan.RootID)
}

func TestBuildPlan_MergeTwoClusters(t *testing.T) {
	// Cluster A: root 1 with secondary 3. Cluster B: root 2.
	// The request bridges them, so cluster B folds under root 1.
	candidates := []models.Contact{
		testContact(1, "a@example.com", "111111", nil, 0),
		testContact(2, "b@example.com", "222222", nil, time.Hour),
		testContact(3, "c@example.com", "111111", int64ptr(1), 2*time.Hour),
	}

	plan := BuildPlan(strptr("a@example.com"), strptr("222222"), candidates)

	assert.False(t, plan.CreatePrimary)
	assert.False(t, plan.CreateSecondary)
	assert.Equal(t, int64(1), plan.RootID)
	assert.Equal(t, []int64{2}, plan.DemoteIDs)
}

func TestBuildPlan_MergeReparentsDisplacedSecondaries(t *testing.T) {
	// Cluster B's secondary (4) must be re-parented directly under the
	// surviving root so links stay one level deep
	candidates := []models.Contact{
		testContact(1, "a@example.com", "111111", nil, 0),
		testContact(2, "b@example.com", "222222", nil, time.Hour),
		testContact(4, "d@example.com", "222222", int64ptr(2), 3*time.Hour),
	}

	plan := BuildPlan(strptr("a@example.com"), strptr("222222"), candidates)

	assert.Equal(t, int64(1), plan.RootID)
	assert.Equal(t, []int64{2, 4}, plan.DemoteIDs)
}

func TestBuildPlan_OldestRootSurvives(t *testing.T) {
	candidates := []models.Contact{
		testContact(5, "a@example.com", "111111", nil, 2*time.Hour),
		testContact(2, "b@example.com", "222222", nil, time.Hour),
	}

	plan := BuildPlan(strptr("a@example.com"), strptr("222222"), candidates)

	assert.Equal(t, int64(2), plan.RootID)
	assert.Equal(t, []int64{5}, plan.DemoteIDs)
}

func TestBuildPlan_RootTieBreaksOnLowestID(t *testing.T) {
	candidates := []models.Contact{
		testContact(7, "a@example.com", "111111", nil, 0),
		testContact(3, "b@example.com", "222222", nil, 0),
	}

	plan := BuildPlan(strptr("a@example.com"), strptr("222222"), candidates)

	assert.Equal(t, int64(3), plan.RootID)
	assert.Equal(t, []int64{7}, plan.DemoteIDs)
}

func TestBuildPlan_MergeIsIdempotent(t *testing.T) {
	// State after the merge in TestBuildPlan_MergeTwoClusters
	candidates := []models.Contact{
		testContact(1, "a@example.com", "111111", nil, 0),
		testContact(2, "b@example.com", "222222", int64ptr(1), time.Hour),
		testContact(3, "c@example.com", "111111", int64ptr(1), 2*time.Hour),
	}

	plan := BuildPlan(strptr("a@example.com"), strptr("222222"), candidates)

	assert.True(t, plan.IsNoop())
	assert.Equal(t, int64(1), plan.RootID)
}

func TestBuildPlan_NilOnlyFieldsDoNotMatchNulls(t *testing.T) {
	// A stored row with a null email never matches an absent email
	candidates := []models.Contact{
		testContact(1, "", "111111", nil, 0),
	}

	plan := BuildPlan(nil, strptr("111111"), candidates)

	assert.True(t, plan.IsNoop())
}

func TestRootIDs(t *testing.T) {
	contacts := []models.Contact{
		testContact(4, "d@example.com", "222222", int64ptr(2), 3*time.Hour),
		testContact(1, "a@example.com", "111111", nil, 0),
		testContact(3, "c@example.com", "111111", int64ptr(1), 2*time.Hour),
	}

	roots := RootIDs(contacts)

	assert.Equal(t, []int64{1, 2}, roots)
}

func TestRootIDs_Empty(t *testing.T) {
	assert.Empty(t, RootIDs(nil))
}
