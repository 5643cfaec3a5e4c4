// Package reconcile implements contact identity reconciliation: matching
// incoming partial contacts against stored clusters, merging clusters that a
// request proves belong to the same person, and projecting clusters into the
// consolidated response shape.
package reconcile

import (
	"sort"

	"github.com/Ramsey-B/sorrel/pkg/models"
)

// Plan is the set of mutations that reconciles one incoming (email, phone)
// pair against the current state of the touched clusters. It is computed
// purely from a snapshot so it can be unit tested without a database and
// applied inside a transaction.
type Plan struct {
	// CreatePrimary is set when no existing contact matches either field
	CreatePrimary bool

	// RootID is the surviving cluster root. Zero when CreatePrimary is set.
	RootID int64

	// DemoteIDs are contacts to re-parent under RootID as secondaries. This
	// includes displaced primaries and their secondaries so links stay one
	// level deep.
	DemoteIDs []int64

	// CreateSecondary is set when the request carries a value the surviving
	// cluster has not seen
	CreateSecondary bool
}

// IsNoop reports whether applying the plan would change nothing
func (p Plan) IsNoop() bool {
	return !p.CreatePrimary && !p.CreateSecondary && len(p.DemoteIDs) == 0
}

// RootIDs returns the distinct cluster roots of the given contacts, sorted
// ascending. Sorting keeps lock acquisition order deterministic across
// concurrent requests.
func RootIDs(contacts []models.Contact) []int64 {
	seen := make(map[int64]struct{}, len(contacts))
	var roots []int64
	for i := range contacts {
		root := contacts[i].RootID()
		if _, ok := seen[root]; ok {
			continue
		}
		seen[root] = struct{}{}
		roots = append(roots, root)
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })
	return roots
}

// sameIDs compares two sorted id slices
func sameIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// BuildPlan computes the reconciliation plan for an incoming pair against a
// snapshot of every contact in the touched clusters. The surviving root is
// the oldest current root, ties broken by lowest id. Re-running the plan's
// output through BuildPlan yields a no-op, so reconciliation is idempotent.
func BuildPlan(email, phone *string, candidates []models.Contact) Plan {
	if len(candidates) == 0 {
		return Plan{CreatePrimary: true}
	}

	root := electRoot(candidates)

	plan := Plan{RootID: root.ID}
	for i := range candidates {
		c := &candidates[i]
		if c.ID == root.ID {
			continue
		}
		if c.LinkedID == nil || *c.LinkedID != root.ID {
			plan.DemoteIDs = append(plan.DemoteIDs, c.ID)
		}
	}
	sort.Slice(plan.DemoteIDs, func(i, j int) bool { return plan.DemoteIDs[i] < plan.DemoteIDs[j] })

	plan.CreateSecondary = hasNewInformation(email, phone, candidates)
	return plan
}

// electRoot picks the surviving root: the oldest contact among the current
// cluster roots, ties broken by lowest id.
func electRoot(candidates []models.Contact) *models.Contact {
	rootSet := make(map[int64]struct{}, len(candidates))
	for i := range candidates {
		rootSet[candidates[i].RootID()] = struct{}{}
	}

	var root *models.Contact
	for i := range candidates {
		c := &candidates[i]
		if _, ok := rootSet[c.ID]; !ok {
			continue
		}
		if root == nil || c.CreatedAt.Before(root.CreatedAt) || (c.CreatedAt.Equal(root.CreatedAt) && c.ID < root.ID) {
			root = c
		}
	}
	if root == nil {
		// Roots of the touched clusters were not present in the snapshot.
		// Fall back to the oldest member so reconciliation still converges.
		for i := range candidates {
			c := &candidates[i]
			if root == nil || c.CreatedAt.Before(root.CreatedAt) || (c.CreatedAt.Equal(root.CreatedAt) && c.ID < root.ID) {
				root = c
			}
		}
	}
	return root
}

// hasNewInformation reports whether the request carries an email or phone
// value absent from every candidate. A request whose values are all already
// known adds no row.
func hasNewInformation(email, phone *string, candidates []models.Contact) bool {
	emailKnown := email == nil
	phoneKnown := phone == nil
	for i := range candidates {
		c := &candidates[i]
		if !emailKnown && c.EmailEquals(*email) {
			emailKnown = true
		}
		if !phoneKnown && c.PhoneEquals(*phone) {
			phoneKnown = true
		}
		if emailKnown && phoneKnown {
			return false
		}
	}
	return !emailKnown || !phoneKnown
}
