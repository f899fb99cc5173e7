package models

import (
	"time"
)

// LinkPrecedence marks a contact as the anchor of its identity cluster or as
// a member linked to that anchor.
type LinkPrecedence string

const (
	LinkPrecedencePrimary   LinkPrecedence = "primary"
	LinkPrecedenceSecondary LinkPrecedence = "secondary"
)

// Contact is a single contact row. A cluster is one primary plus every
// secondary whose linked_id points at it; secondaries never chain.
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

// IsPrimary reports whether the contact anchors its cluster.
func (c *Contact) IsPrimary() bool {
	return c.LinkPrecedence == LinkPrecedencePrimary
}

// HasPair reports whether the contact carries exactly the given
// email/phone combination, treating nil and missing as equal.
func (c *Contact) HasPair(email, phoneNumber *string) bool {
	return equalOptional(c.Email, email) && equalOptional(c.PhoneNumber, phoneNumber)
}

func equalOptional(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// CreateContactRequest is the insert payload for the contact repository.
type CreateContactRequest struct {
	Email          *string        `json:"email,omitempty"`
	PhoneNumber    *string        `json:"phone_number,omitempty"`
	LinkedID       *int64         `json:"linked_id,omitempty"`
	LinkPrecedence LinkPrecedence `json:"link_precedence"`
}

// IdentifyRequest is the inbound body of POST /identify. At least one of the
// two fields must be present; empty strings count as absent. Values are
// matched verbatim, so neither field is constrained beyond presence.
type IdentifyRequest struct {
	Email       string `json:"email" validate:"required_without=PhoneNumber"`
	PhoneNumber string `json:"phoneNumber" validate:"required_without=Email"`
}

// ContactView is the consolidated projection of one identity cluster.
type ContactView struct {
	PrimaryContactID    int64    `json:"primaryContactId"`
	Emails              []string `json:"emails"`
	PhoneNumbers        []string `json:"phoneNumbers"`
	SecondaryContactIDs []int64  `json:"secondaryContactIds"`
}

// IdentifyResponse is the response envelope of POST /identify.
type IdentifyResponse struct {
	Contact ContactView `json:"contact"`
}

// Resolution is the outcome of one resolve call: the projection plus the
// mutation metadata event emission needs.
type Resolution struct {
	View ContactView

	// CreatedContactID is set when this call inserted a new row.
	CreatedContactID *int64
	// CreatedPrimary is true when the inserted row anchors a new cluster.
	CreatedPrimary bool
	// DemotedPrimaryIDs lists primaries demoted to secondary by this call.
	DemotedPrimaryIDs []int64
}

// Changed reports whether the call mutated any contact rows.
func (r *Resolution) Changed() bool {
	return r.CreatedContactID != nil || len(r.DemotedPrimaryIDs) > 0
}
