// Package models holds the helpdesk domain types shared by matching,
// services, stores and transport.
package models

import (
	"strings"
	"time"
)

// Status is the lifecycle state of an issue. It is always derived from the
// assignment and completion fields by the orchestrator; stores persist it
// only as a denormalized copy for filtering.
type Status string

const (
	StatusPending              Status = "pending"
	StatusAssigned             Status = "assigned"
	StatusInProgress           Status = "in_progress"
	StatusAwaitingConfirmation Status = "awaiting_confirmation"
	StatusClosed               Status = "closed"
)

// ActiveStatuses are the states that count against a region's load.
var ActiveStatuses = []Status{StatusPending, StatusAssigned, StatusInProgress}

// Role identifies the kind of caller an operation runs on behalf of.
type Role string

const (
	RoleUser   Role = "user"
	RoleExpert Role = "expert"
	RoleAdmin  Role = "admin"
)

// Valid reports whether the role is one of the closed set.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleExpert, RoleAdmin:
		return true
	}
	return false
}

// Identity is the authenticated caller of an operation. Authentication
// happens upstream; the core only checks role and ownership.
type Identity struct {
	ID   string
	Role Role
}

// ReassignmentEntry records one hand-off of an issue to a new expert.
// Entries are append-only and ordered by time.
type ReassignmentEntry struct {
	ExpertID  string    `json:"expert_id" db:"expert_id"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}

// Issue is a reported problem tracked from submission to closure.
type Issue struct {
	ID              string              `json:"id" db:"id"`
	Title           string              `json:"title" db:"title"`
	Description     string              `json:"description" db:"description"`
	Category        string              `json:"category" db:"category"`
	Urgency         int                 `json:"urgency" db:"urgency"`
	Status          Status              `json:"status" db:"status"`
	Region          string              `json:"region" db:"region"`
	SubmittedBy     string              `json:"submitted_by" db:"submitted_by"`
	AssignedExpert  *string             `json:"assigned_expert,omitempty" db:"assigned_expert"`
	RejectedBy      []string            `json:"rejected_by" db:"rejected_by"`
	SkippedBy       []string            `json:"skipped_by" db:"skipped_by"`
	ReassignmentLog []ReassignmentEntry `json:"reassignment_log" db:"reassignment_log"`
	DoneBySubmitter bool                `json:"done_by_submitter" db:"done_by_submitter"`
	DoneByExpert    bool                `json:"done_by_expert" db:"done_by_expert"`
	ResolutionNotes *string             `json:"resolution_notes,omitempty" db:"resolution_notes"`
	CreatedAt       time.Time           `json:"created_at" db:"created_at"`
	ResolvedAt      *time.Time          `json:"resolved_at,omitempty" db:"resolved_at"`
	ClosedAt        *time.Time          `json:"closed_at,omitempty" db:"closed_at"`

	// Version supports optimistic updates; it bumps on every mutation.
	Version int64 `json:"version" db:"version"`
}

// ExcludedExperts is the union of experts that must not be considered for
// reassignment: everyone who rejected the issue or was escalated away from.
func (i Issue) ExcludedExperts() []string {
	out := make([]string, 0, len(i.RejectedBy)+len(i.SkippedBy))
	seen := make(map[string]struct{}, cap(out))
	for _, id := range i.RejectedBy {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	for _, id := range i.SkippedBy {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// Text is the free text the matcher scores against: title and description
// concatenated.
func (i Issue) Text() string {
	return strings.TrimSpace(i.Title + " " + i.Description)
}

// Expert is a verified solver who can be assigned issues.
type Expert struct {
	ID                string    `json:"id" db:"id"`
	Region            string    `json:"region" db:"region"`
	Verified          bool      `json:"verified" db:"verified"`
	Available         bool      `json:"available" db:"available"`
	ActiveIssues      int       `json:"active_issues" db:"active_issues"`
	TrustScore        float64   `json:"trust_score" db:"trust_score"`
	TrustVotes        int       `json:"trust_votes" db:"trust_votes"`
	Tags              []string  `json:"tags" db:"tags"`
	MaxConcurrent     int       `json:"max_concurrent" db:"max_concurrent"`
	VerificationNotes string    `json:"verification_notes,omitempty" db:"verification_notes"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}

// Rating is one submitter's verdict on the expert who worked an issue.
// At most one rating exists per (issue, rater) pair.
type Rating struct {
	ID        string    `json:"id" db:"id"`
	IssueID   string    `json:"issue_id" db:"issue_id"`
	ExpertID  string    `json:"expert_id" db:"expert_id"`
	RaterID   string    `json:"rater_id" db:"rater_id"`
	Score     int       `json:"score" db:"score"`
	Comment   string    `json:"comment" db:"comment"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ExpertFilter narrows expert queries. Nil fields are not applied.
type ExpertFilter struct {
	Region     *string
	Verified   *bool
	Available  *bool
	ExcludeIDs []string
}

// IssueFilter narrows issue queries. Nil/empty fields are not applied.
type IssueFilter struct {
	SubmittedBy    *string
	AssignedExpert *string
	Region         *string
	Statuses       []Status
}

// IssueUpdate expresses a field-level issue mutation: only non-nil fields
// are written, append fields are appended, clear flags null the column.
// This is the "set these fields" contract; stores never receive whole
// mutated aggregates.
type IssueUpdate struct {
	Status              *Status
	AssignedExpert      *string
	ClearAssignedExpert bool
	AppendRejectedBy    *string
	AppendSkippedBy     *string
	AppendReassignment  *ReassignmentEntry
	DoneBySubmitter     *bool
	DoneByExpert        *bool
	ResolutionNotes     *string
	ResolvedAt          *time.Time
	ClosedAt            *time.Time
}

// ExpertUpdate expresses a field-level expert mutation.
type ExpertUpdate struct {
	Available         *bool
	Verified          *bool
	VerificationNotes *string
	TrustScore        *float64
	TrustVotesDelta   int
}
