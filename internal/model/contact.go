package model

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// ContactStatus tracks a contact candidate's validation state.
type ContactStatus string

const (
	ContactDiscovered ContactStatus = "discovered"
	ContactValidated  ContactStatus = "validated"
)

// ContactCandidate is one discovered decision-maker tied to a company
// candidate. Never mutated once validated; duplicate discoveries collapse
// onto the identity key.
type ContactCandidate struct {
	ID          string        `json:"id" db:"id"`
	RunID       string        `json:"run_id" db:"run_id"`
	CompanyID   string        `json:"company_id" db:"company_id"`
	FullName    string        `json:"full_name" db:"full_name"`
	Title       string        `json:"title,omitempty" db:"title"`
	Email       string        `json:"email,omitempty" db:"email"`
	LinkedInURL string        `json:"linkedin_url,omitempty" db:"linkedin_url"`
	Status      ContactStatus `json:"status" db:"status"`
	IdentityKey string        `json:"identity_key" db:"identity_key"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
}

var keyFolder = cases.Fold()

// ContactIdentityKey derives the dedup key for a contact, in priority
// order: email, then linkedin profile, then folded name scoped to the
// company. The same person reported twice by different regions or retried
// writes must always produce the same key.
func ContactIdentityKey(email, linkedinURL, fullName, companyID string) string {
	if e := strings.TrimSpace(strings.ToLower(email)); e != "" {
		return "email:" + e
	}
	if l := normalizeLinkedIn(linkedinURL); l != "" {
		return "li:" + l
	}
	name := keyFolder.String(strings.Join(strings.Fields(fullName), " "))
	return "name:" + companyID + ":" + name
}

func normalizeLinkedIn(raw string) string {
	u := strings.TrimSpace(strings.ToLower(raw))
	for _, prefix := range []string{"https://", "http://", "www."} {
		u = strings.TrimPrefix(u, prefix)
	}
	u = strings.TrimSuffix(u, "/")
	if u == "" || !strings.Contains(u, "linkedin.com/") {
		return ""
	}
	return u
}
