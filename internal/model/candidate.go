package model

import (
	"strings"
	"time"
)

// CandidateStatus tracks a company candidate through qualification.
type CandidateStatus string

const (
	CandidateValidated CandidateStatus = "validated"
	CandidatePromoted  CandidateStatus = "promoted"
)

// CompanyCandidate is one discovered business entity attached to a run.
// Domain is the identity key: unique per run, always lower-cased.
type CompanyCandidate struct {
	ID              string          `json:"id" db:"id"`
	RunID           string          `json:"run_id" db:"run_id"`
	Domain          string          `json:"domain" db:"domain"`
	Name            string          `json:"name" db:"name"`
	City            string          `json:"city,omitempty" db:"city"`
	State           string          `json:"state,omitempty" db:"state"`
	Status          CandidateStatus `json:"status" db:"status"`
	DiscoverySource string          `json:"discovery_source,omitempty" db:"discovery_source"`
	QualityScore    float64         `json:"quality_score" db:"quality_score"`
	Research        []byte          `json:"research,omitempty" db:"research"`
	ResearchedAt    *time.Time      `json:"researched_at,omitempty" db:"researched_at"`
	ContactAttempts int             `json:"contact_attempts" db:"contact_attempts"`
	LockedBy        *string         `json:"locked_by,omitempty" db:"locked_by"`
	LeaseExpiresAt  *time.Time      `json:"lease_expires_at,omitempty" db:"lease_expires_at"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// NormalizeDomain canonicalizes a website or domain string into the
// per-run identity key: scheme and leading www. stripped, path dropped,
// lower-cased. Returns "" if nothing usable remains.
func NormalizeDomain(raw string) string {
	d := strings.TrimSpace(strings.ToLower(raw))
	for _, prefix := range []string{"https://", "http://"} {
		d = strings.TrimPrefix(d, prefix)
	}
	d = strings.TrimPrefix(d, "www.")
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	d = strings.TrimSuffix(d, ".")
	if !strings.Contains(d, ".") {
		return ""
	}
	return d
}
