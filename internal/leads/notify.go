package leads

import (
	"context"
	"time"
)

type NotificationKind string

const (
	NotifyAssigned         NotificationKind = "lead.assigned"
	NotifyMeetingScheduled NotificationKind = "lead.meeting_scheduled"
	NotifyStageChanged     NotificationKind = "lead.stage_changed"
	NotifyClosed           NotificationKind = "lead.closed"
)

// Notification is emitted after a submission commits.
type Notification struct {
	Kind         NotificationKind
	TicketID     string
	Assignee     string
	FromStage    Stage
	ToStage      Stage
	ClientStatus ClientStatus
	Actor        string
	OccurredAt   time.Time
}

// Notifier delivers notifications. Implementations must not block the caller
// for long and must swallow their own failures.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Observer receives submission outcomes for metrics.
type Observer interface {
	ObserveSubmission(stage Stage, outcome string, took time.Duration)
	ObserveTransition(from, to Stage)
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, Notification) {}

type noopObserver struct{}

func (noopObserver) ObserveSubmission(Stage, string, time.Duration) {}
func (noopObserver) ObserveTransition(Stage, Stage)                 {}

func notificationsFor(l Lead, sub Submission, h *StageHistory, actor string, now time.Time) []Notification {
	base := Notification{
		TicketID:     l.TicketID,
		ToStage:      l.Stage,
		ClientStatus: l.ClientStatus,
		Actor:        actor,
		OccurredAt:   now,
	}
	if h != nil {
		base.FromStage = h.FromStage
	} else {
		base.FromStage = l.Stage
	}

	var out []Notification
	add := func(kind NotificationKind, assignee string) {
		n := base
		n.Kind = kind
		n.Assignee = assignee
		out = append(out, n)
	}

	switch s := sub.(type) {
	case ApprovalSubmission:
		if s.ApproveStatus == ApproveStatusAccepted {
			add(NotifyAssigned, l.TelecallerAssignedTo)
		}
	case TelecallSubmission:
		add(NotifyMeetingScheduled, l.MeetingAssignee)
	case MeetingSubmission:
		switch s.Outcome {
		case MeetingOutcomeCRMFollowUp:
			if l.CrmAssignedTo != "" {
				add(NotifyAssigned, l.CrmAssignedTo)
			}
		case MeetingOutcomeReschedule:
			add(NotifyMeetingScheduled, l.MeetingAssignee)
		}
	case CrmSubmission:
		if s.Outcome == CrmOutcomeReschedule && l.MeetingAssignee != "" {
			add(NotifyMeetingScheduled, l.MeetingAssignee)
		}
	}

	if h != nil {
		if h.ToStage == StageClosed {
			add(NotifyClosed, "")
		} else {
			add(NotifyStageChanged, "")
		}
	}
	return out
}
