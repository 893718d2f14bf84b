// Package model defines the core domain types for enrichment campaigns:
// runs, discovered candidates, contacts, and worker heartbeats.
package model

import (
	"time"
)

// RunStatus is the orthogonal health flag overlaid on any stage.
type RunStatus string

const (
	RunStatusActive            RunStatus = "active"
	RunStatusCompleted         RunStatus = "completed"
	RunStatusError             RunStatus = "error"
	RunStatusNeedsUserDecision RunStatus = "needs_user_decision"
)

// RunStage identifies the pipeline stage a run is in. Stages only move
// forward: discovery -> research -> contact_discovery -> done.
type RunStage string

const (
	StageDiscovery        RunStage = "discovery"
	StageResearch         RunStage = "research"
	StageContactDiscovery RunStage = "contact_discovery"
	StageDone             RunStage = "done"
)

// stageOrder maps stages to their position in the pipeline.
var stageOrder = map[RunStage]int{
	StageDiscovery:        0,
	StageResearch:         1,
	StageContactDiscovery: 2,
	StageDone:             3,
}

// StageAtOrAfter reports whether stage b is the same as or later than a.
// Unknown stages compare as earliest so a bad value can never skip work.
func StageAtOrAfter(a, b RunStage) bool {
	return stageOrder[b] >= stageOrder[a]
}

// Run is one enrichment campaign progressing through ordered stages toward
// a target quantity of qualified records.
type Run struct {
	ID             string     `json:"id" db:"id"`
	Status         RunStatus  `json:"status" db:"status"`
	Stage          RunStage   `json:"stage" db:"stage"`
	Criteria       Criteria   `json:"criteria" db:"criteria"`
	TargetQuantity int        `json:"target_quantity" db:"target_quantity"`
	ContactsMin    int        `json:"contacts_min" db:"contacts_min"`
	ContactsMax    int        `json:"contacts_max" db:"contacts_max"`
	Notes          string     `json:"notes,omitempty" db:"notes"`
	CloseAttempts  int        `json:"close_attempts" db:"close_attempts"`
	LockedBy       *string    `json:"locked_by,omitempty" db:"locked_by"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty" db:"lease_expires_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// Terminal reports whether automated progress has stopped for this run.
// Both error and needs_user_decision require external intervention.
func (r *Run) Terminal() bool {
	return r.Status != RunStatusActive
}
