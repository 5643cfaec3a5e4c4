package models

import (
	"strings"
	"time"
)

// LinkPrecedence marks whether a contact is the authoritative record of its
// cluster or a record that was merged underneath one.
type LinkPrecedence string

const (
	// LinkPrecedencePrimary is the root contact of a cluster
	LinkPrecedencePrimary LinkPrecedence = "primary"
	// LinkPrecedenceSecondary is a contact linked under a cluster root
	LinkPrecedenceSecondary LinkPrecedence = "secondary"
)

// Contact is a single partial contact record. Contacts belonging to the same
// real-world person are linked into a cluster: exactly one primary row plus
// zero or more secondaries whose linked_id points directly at the primary.
// Field order matches schema: id, email, phone_number, linked_id, link_precedence, ...
type Contact struct {
	ID             int64          `json:"id" db:"id"`
	Email          *string        `json:"email,omitempty" db:"email"`
	PhoneNumber    *string        `json:"phone_number,omitempty" db:"phone_number"`
	LinkedID       *int64         `json:"linked_id,omitempty" db:"linked_id"`
	LinkPrecedence LinkPrecedence `json:"link_precedence" db:"link_precedence"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
	DeletedAt      *time.Time     `json:"deleted_at,omitempty" db:"deleted_at"`
}

// IsPrimary returns true if the contact is the root of its cluster
func (c *Contact) IsPrimary() bool {
	return c.LinkPrecedence == LinkPrecedencePrimary
}

// RootID returns the id of the cluster root this contact belongs to.
// Link chains are always exactly one level deep, so a secondary's linked_id
// is its root.
func (c *Contact) RootID() int64 {
	if c.LinkedID != nil {
		return *c.LinkedID
	}
	return c.ID
}

// EmailEquals reports whether the contact carries the given email value
func (c *Contact) EmailEquals(email string) bool {
	return c.Email != nil && *c.Email == email
}

// PhoneEquals reports whether the contact carries the given phone value
func (c *Contact) PhoneEquals(phone string) bool {
	return c.PhoneNumber != nil && *c.PhoneNumber == phone
}

// IdentifyRequest is the inbound payload for contact reconciliation.
// At least one of the two identifying fields must be supplied.
type IdentifyRequest struct {
	Email       *string `json:"email,omitempty" validate:"required_without=PhoneNumber"`
	PhoneNumber *string `json:"phoneNumber,omitempty" validate:"required_without=Email"`
}

// Normalize trims whitespace and collapses empty strings to nil so the rest
// of the engine only ever sees present-or-absent values.
func (r *IdentifyRequest) Normalize() {
	r.Email = normalizeField(r.Email)
	r.PhoneNumber = normalizeField(r.PhoneNumber)
}

func normalizeField(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// ClusterView is the external projection of a reconciled cluster
type ClusterView struct {
	PrimaryContactID    int64    `json:"primaryContactId"`
	Emails              []string `json:"emails"`
	PhoneNumbers        []string `json:"phoneNumbers"`
	SecondaryContactIDs []int64  `json:"secondaryContactIds"`
}

// IdentifyResponse wraps the cluster projection per the external contract
type IdentifyResponse struct {
	Contact ClusterView `json:"contact"`
}

// ClusterResponse returns the projection alongside the raw cluster members
// for operator inspection
type ClusterResponse struct {
	Contact ClusterView `json:"contact"`
	Members []Contact   `json:"members"`
}

// ContactListResponse is the response for listing contacts
type ContactListResponse struct {
	Items      []Contact `json:"items"`
	TotalCount int       `json:"total_count"`
	Page       int       `json:"page"`
	PageSize   int       `json:"page_size"`
}
