package notify

import "time"

// Event is a post-commit notification about a lead.
//
// Invariants:
// - Events are emitted only after the lead transaction committed.
// - ticket_id and type are required.
// - Delivery is best-effort; a lost event never rolls back a lead change.
type Event struct {
	ID       string    `json:"id"`
	Type     EventType `json:"type"`
	TicketID string    `json:"ticket_id"`

	// Assignee is the user the lead was handed to (assignment events only).
	Assignee string `json:"assignee,omitempty"`

	FromStage    string `json:"from_stage,omitempty"`
	ToStage      string `json:"to_stage,omitempty"`
	ClientStatus string `json:"client_status,omitempty"`

	// Actor is the user whose submission caused the event.
	Actor string `json:"actor"`

	OccurredAt time.Time `json:"occurred_at"`
}

type EventType string

const (
	EventTypeAssigned         EventType = "lead.assigned"
	EventTypeMeetingScheduled EventType = "lead.meeting_scheduled"
	EventTypeStageChanged     EventType = "lead.stage_changed"
	EventTypeClosed           EventType = "lead.closed"
)
