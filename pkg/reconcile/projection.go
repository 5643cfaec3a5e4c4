package reconcile

import (
	"fmt"

	"github.com/Ramsey-B/sorrel/pkg/models"
)

// BuildClusterView projects a cluster into its consolidated response shape.
// The cluster must be ordered oldest first and contain exactly one primary.
// Emails and phone numbers are deduplicated preserving order, with the
// primary's values always first.
func BuildClusterView(cluster []models.Contact) (*models.ClusterView, error) {
	if len(cluster) == 0 {
		return nil, fmt.Errorf("cluster is empty")
	}

	var primary *models.Contact
	for i := range cluster {
		if !cluster[i].IsPrimary() {
			continue
		}
		if primary != nil {
			return nil, fmt.Errorf("cluster has multiple primary contacts: %d and %d", primary.ID, cluster[i].ID)
		}
		primary = &cluster[i]
	}
	if primary == nil {
		return nil, fmt.Errorf("cluster has no primary contact")
	}

	view := &models.ClusterView{
		PrimaryContactID:    primary.ID,
		Emails:              []string{},
		PhoneNumbers:        []string{},
		SecondaryContactIDs: []int64{},
	}

	seenEmails := make(map[string]struct{})
	seenPhones := make(map[string]struct{})

	appendMember := func(c *models.Contact) {
		if c.Email != nil {
			if _, ok := seenEmails[*c.Email]; !ok {
				seenEmails[*c.Email] = struct{}{}
				view.Emails = append(view.Emails, *c.Email)
			}
		}
		if c.PhoneNumber != nil {
			if _, ok := seenPhones[*c.PhoneNumber]; !ok {
				seenPhones[*c.PhoneNumber] = struct{}{}
				view.PhoneNumbers = append(view.PhoneNumbers, *c.PhoneNumber)
			}
		}
	}

	// Primary's values lead regardless of its creation position
	appendMember(primary)

	for i := range cluster {
		c := &cluster[i]
		if c.ID == primary.ID {
			continue
		}
		appendMember(c)
		view.SecondaryContactIDs = append(view.SecondaryContactIDs, c.ID)
	}

	return view, nil
}
