package leads

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// allowedTransitions lists every (from, to) pair a handler may record.
// Anything else is a programming error and aborts the transaction.
var allowedTransitions = map[Stage][]Stage{
	StageResearch: {StageApproval},
	StageApproval: {StageTelecall, StageClosed},
	StageTelecall: {StageMeeting},
	StageMeeting:  {StageCRM, StageClosed},
	StageCRM:      {StageClosed, StageMeeting},
}

// CanTransition reports whether from -> to is a documented pipeline move.
func CanTransition(from, to Stage) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// GuardStage fails when the lead is not in the stage a handler expects.
// It has no side effects and must run before any write in the transaction.
func GuardStage(l Lead, expected Stage) error {
	if l.Stage == expected {
		return nil
	}
	return &StageMismatchError{
		TicketID:      l.TicketID,
		CurrentStage:  l.Stage,
		ExpectedStage: expected,
		Guidance:      l.Stage.Guidance(),
	}
}

// Transition moves the lead to `to` and appends the matching history row.
// It returns nil history when the stage does not change. The caller persists
// the lead in the same transaction.
func Transition(ctx context.Context, w HistoryWriter, l *Lead, to Stage, notes, actor string, now time.Time) (*StageHistory, error) {
	if l.Stage == to {
		return nil, nil
	}
	if !CanTransition(l.Stage, to) {
		return nil, fmt.Errorf("leads: undocumented transition %s -> %s for %s", l.Stage, to, l.TicketID)
	}

	h := StageHistory{
		ID:        uuid.NewString(),
		TicketID:  l.TicketID,
		FromStage: l.Stage,
		ToStage:   to,
		Notes:     notes,
		By:        actor,
		CreatedAt: now,
	}
	if err := w.AppendHistory(ctx, h); err != nil {
		return nil, err
	}
	l.Stage = to
	return &h, nil
}
