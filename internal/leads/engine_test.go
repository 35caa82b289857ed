package leads

import (
	"context"
	"errors"
	"testing"
	"time"
)

type historySink struct {
	rows []StageHistory
	err  error
}

func (h *historySink) AppendHistory(_ context.Context, row StageHistory) error {
	if h.err != nil {
		return h.err
	}
	h.rows = append(h.rows, row)
	return nil
}

func TestCanTransition(t *testing.T) {
	allowed := [][2]Stage{
		{StageResearch, StageApproval},
		{StageApproval, StageTelecall},
		{StageApproval, StageClosed},
		{StageTelecall, StageMeeting},
		{StageMeeting, StageCRM},
		{StageMeeting, StageClosed},
		{StageCRM, StageMeeting},
		{StageCRM, StageClosed},
	}
	for _, p := range allowed {
		if !CanTransition(p[0], p[1]) {
			t.Fatalf("expected %s -> %s to be allowed", p[0], p[1])
		}
	}

	denied := [][2]Stage{
		{StageResearch, StageTelecall},
		{StageTelecall, StageClosed},
		{StageClosed, StageResearch},
		{StageClosed, StageMeeting},
		{StageMeeting, StageApproval},
	}
	for _, p := range denied {
		if CanTransition(p[0], p[1]) {
			t.Fatalf("expected %s -> %s to be denied", p[0], p[1])
		}
	}
}

func TestGuardStage(t *testing.T) {
	l := Lead{TicketID: "T-20250101-0001", Stage: StageMeeting}
	if err := GuardStage(l, StageMeeting); err != nil {
		t.Fatalf("expected pass, got %v", err)
	}

	err := GuardStage(l, StageCRM)
	var se *StageMismatchError
	if !errors.As(err, &se) {
		t.Fatalf("expected mismatch, got %v", err)
	}
	want := "Ticket T-20250101-0001 is at Meeting; this action requires CRM Follow-up; the meeting assignee must record the meeting outcome first."
	if se.Message() != want {
		t.Fatalf("unexpected message %q", se.Message())
	}
}

func TestTransition_AppendsHistoryAndMoves(t *testing.T) {
	sink := &historySink{}
	l := Lead{TicketID: "T-20250101-0001", Stage: StageTelecall}
	now := time.Date(2025, 1, 1, 4, 30, 0, 0, time.UTC)

	h, err := Transition(context.Background(), sink, &l, StageMeeting, "booked", "tara", now)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if l.Stage != StageMeeting {
		t.Fatalf("lead not moved")
	}
	if h == nil || len(sink.rows) != 1 || sink.rows[0].ID != h.ID {
		t.Fatalf("expected one history row, got %+v", sink.rows)
	}
	if h.FromStage != StageTelecall || h.By != "tara" || h.Notes != "booked" || !h.CreatedAt.Equal(now) {
		t.Fatalf("unexpected row %+v", h)
	}
}

func TestTransition_SameStageIsNoop(t *testing.T) {
	sink := &historySink{}
	l := Lead{TicketID: "T-20250101-0001", Stage: StageCRM}

	h, err := Transition(context.Background(), sink, &l, StageCRM, "", "carol", time.Now())
	if err != nil || h != nil || len(sink.rows) != 0 {
		t.Fatalf("expected no-op, got %+v %v", h, err)
	}
}

func TestTransition_RejectsUndocumentedMove(t *testing.T) {
	sink := &historySink{}
	l := Lead{TicketID: "T-20250101-0001", Stage: StageClosed}

	if _, err := Transition(context.Background(), sink, &l, StageMeeting, "", "x", time.Now()); err == nil {
		t.Fatalf("expected error")
	}
	if l.Stage != StageClosed || len(sink.rows) != 0 {
		t.Fatalf("lead must be untouched")
	}
}

func TestTransition_WriterFailureKeepsStage(t *testing.T) {
	sink := &historySink{err: errors.New("down")}
	l := Lead{TicketID: "T-20250101-0001", Stage: StageResearch}

	if _, err := Transition(context.Background(), sink, &l, StageApproval, "", "x", time.Now()); err == nil {
		t.Fatalf("expected error")
	}
	if l.Stage != StageResearch {
		t.Fatalf("stage changed despite failed write")
	}
}

func TestLeadInvariants(t *testing.T) {
	ok := Lead{TicketID: "T-20250101-0001", Stage: StageClosed, ClientStatus: ClientStatusWon}
	if err := ok.CheckInvariants(); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	bad := []Lead{
		{TicketID: "T-20250101-0001", Stage: StageClosed, ClientStatus: ClientStatusOpen},
		{TicketID: "T-20250101-0001", Stage: StageMeeting, ClientStatus: ClientStatusLost},
		{TicketID: "T-20250101-0001", Stage: "LIMBO", ClientStatus: ClientStatusOpen},
		{Stage: StageApproval, ClientStatus: ClientStatusOpen},
	}
	for _, l := range bad {
		if err := l.CheckInvariants(); err == nil {
			t.Fatalf("expected invariant error for %+v", l)
		}
	}
}

func TestParseStage(t *testing.T) {
	s, err := ParseStage(" crm ")
	if err != nil || s != StageCRM {
		t.Fatalf("unexpected %q %v", s, err)
	}
	if _, err := ParseStage("won"); err == nil {
		t.Fatalf("expected unknown stage error")
	}
	if len(Stages()) != 6 || Stages()[0].Code != StageResearch {
		t.Fatalf("unexpected registry order")
	}
}
