package leads

import (
	"fmt"
	"time"
)

// Lead is the current-truth snapshot of one sales opportunity.
//
// Invariants:
//   - Stage is always one of the registered stages.
//   - ClientStatus is WON or LOST exactly when Stage is CLOSED.
//   - Snapshot fields mirror the latest entry of the stage that owns them and are
//     overwritten, never merged, by that stage's handler.
//   - Only the stage handlers mutate a lead; rows are never deleted.
type Lead struct {
	TicketID      string        `json:"ticket_id" db:"ticket_id"`
	Stage         Stage         `json:"stage" db:"stage"`
	ClientStatus  ClientStatus  `json:"client_status" db:"client_status"`
	ApproveStatus ApproveStatus `json:"approve_status" db:"approve_status"`

	// Research snapshot.
	Company         string `json:"company" db:"company"`
	ContactName     string `json:"contact_name,omitempty" db:"contact_name"`
	Mobile          string `json:"mobile,omitempty" db:"mobile"`
	Email           string `json:"email,omitempty" db:"email"`
	Region          string `json:"region,omitempty" db:"region"`
	Industry        string `json:"industry,omitempty" db:"industry"`
	EstimatedBudget int64  `json:"estimated_budget" db:"estimated_budget"`
	ResearchNotes   string `json:"research_notes,omitempty" db:"research_notes"`

	// Approval snapshot.
	ApprovalRemarks      string `json:"approval_remarks,omitempty" db:"approval_remarks"`
	TelecallerAssignedTo string `json:"telecaller_assigned_to,omitempty" db:"telecaller_assigned_to"`

	// Telecall / meeting snapshot.
	TelecallNotes   string     `json:"telecall_notes,omitempty" db:"telecall_notes"`
	MeetingType     string     `json:"meeting_type,omitempty" db:"meeting_type"`
	MeetingDateTime *time.Time `json:"meeting_date_time,omitempty" db:"meeting_date_time"`
	MeetingAssignee string     `json:"meeting_assignee,omitempty" db:"meeting_assignee"`

	// Outcome snapshot (meeting and CRM).
	OutcomeStatus  string     `json:"outcome_status,omitempty" db:"outcome_status"`
	OutcomeNotes   string     `json:"outcome_notes,omitempty" db:"outcome_notes"`
	ActualBudget   int64      `json:"actual_budget" db:"actual_budget"`
	NextFollowUpOn *time.Time `json:"next_follow_up_on,omitempty" db:"next_follow_up_on"`
	CrmAssignedTo  string     `json:"crm_assigned_to,omitempty" db:"crm_assigned_to"`

	CreatedBy string    `json:"created_by" db:"created_by"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// CheckInvariants validates the snapshot before it is written.
func (l Lead) CheckInvariants() error {
	if l.TicketID == "" {
		return fmt.Errorf("lead: ticket id empty")
	}
	if !l.Stage.Valid() {
		return fmt.Errorf("lead %s: invalid stage %q", l.TicketID, l.Stage)
	}
	if !l.ClientStatus.Valid() {
		return fmt.Errorf("lead %s: invalid client status %q", l.TicketID, l.ClientStatus)
	}
	closed := l.Stage == StageClosed
	decided := l.ClientStatus == ClientStatusWon || l.ClientStatus == ClientStatusLost
	if closed != decided {
		return fmt.Errorf("lead %s: client status %s inconsistent with stage %s", l.TicketID, l.ClientStatus, l.Stage)
	}
	return nil
}

// newLead returns the implicit lead created by the first research entry.
func newLead(ticketID, actor string, now time.Time) Lead {
	return Lead{
		TicketID:      ticketID,
		Stage:         StageResearch,
		ClientStatus:  ClientStatusOpen,
		ApproveStatus: ApproveStatusPending,
		CreatedBy:     actor,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// StageHistory is an append-only record of one actual stage change.
type StageHistory struct {
	ID        string    `json:"id" db:"id"`
	TicketID  string    `json:"ticket_id" db:"ticket_id"`
	FromStage Stage     `json:"from_stage" db:"from_stage"`
	ToStage   Stage     `json:"to_stage" db:"to_stage"`
	Notes     string    `json:"notes,omitempty" db:"notes"`
	By        string    `json:"by" db:"changed_by"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// EntryMeta is common to every stage entry.
type EntryMeta struct {
	ID        string    `json:"id" db:"id"`
	TicketID  string    `json:"ticket_id" db:"ticket_id"`
	By        string    `json:"by" db:"created_by"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Entry is the literal input one stage actor submitted.
// Entries are append-only and are the source of truth the snapshot is derived from.
type Entry struct {
	EntryMeta
	Stage   Stage      `json:"stage"`
	Payload Submission `json:"payload"`
}

// LeadDetail is the read model behind the lead detail view.
type LeadDetail struct {
	Lead    Lead           `json:"lead"`
	History []StageHistory `json:"history"`
	Entries []Entry        `json:"entries"`
}

// ListFilter narrows lead listings. Zero values mean "any".
type ListFilter struct {
	Stage        Stage
	ClientStatus ClientStatus
	// Assignee matches the telecaller, meeting assignee or CRM owner.
	Assignee string
	// Query is a case-insensitive substring match on ticket id, company, contact and mobile.
	Query  string
	Limit  int
	Offset int
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

func (f ListFilter) withDefaults() ListFilter {
	out := f
	if out.Limit <= 0 {
		out.Limit = defaultListLimit
	}
	if out.Limit > maxListLimit {
		out.Limit = maxListLimit
	}
	if out.Offset < 0 {
		out.Offset = 0
	}
	return out
}
