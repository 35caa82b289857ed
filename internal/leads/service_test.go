package leads

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

var ist = time.FixedZone("IST", 5*60*60+30*60)

type recordingNotifier struct {
	mu  sync.Mutex
	got []Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
}

func (r *recordingNotifier) kinds() []NotificationKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]NotificationKind, 0, len(r.got))
	for _, n := range r.got {
		out = append(out, n.Kind)
	}
	return out
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes map[string]int
	moves    int
}

func (o *recordingObserver) ObserveSubmission(_ Stage, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.outcomes == nil {
		o.outcomes = map[string]int{}
	}
	o.outcomes[outcome]++
}

func (o *recordingObserver) ObserveTransition(Stage, Stage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.moves++
}

type fixture struct {
	svc      *Service
	store    *MemoryStore
	notifier *recordingNotifier
	observer *recordingObserver
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := NewMemoryStore()
	n := &recordingNotifier{}
	o := &recordingObserver{}
	clock := func() time.Time { return time.Date(2025, 1, 1, 10, 0, 0, 0, ist) }
	svc := NewService(store, NewTicketGenerator(ist),
		WithNotifier(n),
		WithObserver(o),
		WithClock(clock),
	)
	return fixture{svc: svc, store: store, notifier: n, observer: o}
}

func meetingAt(day int) *time.Time {
	t := time.Date(2025, 1, day, 15, 0, 0, 0, ist)
	return &t
}

func (f fixture) research(t *testing.T) Lead {
	t.Helper()
	res, err := f.svc.SubmitResearch(context.Background(), "riya", ResearchSubmission{
		Company:         "Acme Pvt Ltd",
		ContactName:     "Anil",
		Mobile:          "98765 43210",
		EstimatedBudget: 500000,
		Notes:           "wants CRM rollout",
	})
	if err != nil {
		t.Fatalf("research: %v", err)
	}
	return res.Lead
}

func (f fixture) toTelecall(t *testing.T) Lead {
	t.Helper()
	l := f.research(t)
	res, err := f.svc.SubmitApproval(context.Background(), l.TicketID, "sam", ApprovalSubmission{
		ApproveStatus:        ApproveStatusAccepted,
		TelecallerAssignedTo: "tara",
		Remarks:              "good fit",
	})
	if err != nil {
		t.Fatalf("approval: %v", err)
	}
	return res.Lead
}

func (f fixture) toMeeting(t *testing.T) Lead {
	t.Helper()
	l := f.toTelecall(t)
	res, err := f.svc.SubmitTelecall(context.Background(), l.TicketID, "tara", TelecallSubmission{
		CallNotes:       "interested",
		MeetingType:     "ONSITE",
		MeetingDateTime: meetingAt(3),
		MeetingAssignee: "manoj",
	})
	if err != nil {
		t.Fatalf("telecall: %v", err)
	}
	return res.Lead
}

func (f fixture) toCRM(t *testing.T) Lead {
	t.Helper()
	l := f.toMeeting(t)
	res, err := f.svc.SubmitMeeting(context.Background(), l.TicketID, "manoj", MeetingSubmission{
		Outcome:        MeetingOutcomeCRMFollowUp,
		Notes:          "needs pricing",
		NextFollowUpOn: meetingAt(10),
		CrmAssignedTo:  "carol",
	})
	if err != nil {
		t.Fatalf("meeting: %v", err)
	}
	return res.Lead
}

func (f fixture) counts(t *testing.T, ticketID string) (history, entries int) {
	t.Helper()
	h, err := f.store.ListHistory(context.Background(), ticketID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	e, err := f.store.ListEntries(context.Background(), ticketID)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	return len(h), len(e)
}

func TestResearch_CreatesLeadAndMovesToApproval(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.SubmitResearch(context.Background(), "riya", ResearchSubmission{
		Company: "  Acme Pvt Ltd ",
		Mobile:  "98765 43210",
		Email:   "Owner@Acme.IN",
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	l := res.Lead
	if l.TicketID != "T-20250101-0001" {
		t.Fatalf("expected first ticket of the day, got %s", l.TicketID)
	}
	if l.Stage != StageApproval || l.ClientStatus != ClientStatusOpen {
		t.Fatalf("unexpected state %s/%s", l.Stage, l.ClientStatus)
	}
	if l.Company != "Acme Pvt Ltd" || l.Email != "owner@acme.in" {
		t.Fatalf("expected trimmed snapshot, got %q %q", l.Company, l.Email)
	}
	if l.Mobile != "+919876543210" {
		t.Fatalf("expected E.164 mobile, got %q", l.Mobile)
	}
	if l.CreatedBy != "riya" {
		t.Fatalf("expected created_by riya, got %q", l.CreatedBy)
	}
	if res.History == nil || res.History.FromStage != StageResearch || res.History.ToStage != StageApproval {
		t.Fatalf("expected RESEARCH -> APPROVAL history, got %+v", res.History)
	}
	if res.Entry.Stage != StageResearch || res.Entry.By != "riya" {
		t.Fatalf("unexpected entry %+v", res.Entry.EntryMeta)
	}

	h, e := f.counts(t, l.TicketID)
	if h != 1 || e != 1 {
		t.Fatalf("expected 1 history and 1 entry, got %d/%d", h, e)
	}

	second := f.research(t)
	if second.TicketID != "T-20250101-0002" {
		t.Fatalf("expected strictly increasing ids, got %s", second.TicketID)
	}
}

func TestResearch_ExplicitTicketAdvancesSequence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.SubmitResearch(ctx, "riya", ResearchSubmission{TicketID: "t-20250101-0005", Company: "Globex"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Lead.TicketID != "T-20250101-0005" {
		t.Fatalf("expected explicit id kept, got %s", res.Lead.TicketID)
	}

	next := f.research(t)
	if next.TicketID != "T-20250101-0006" {
		t.Fatalf("expected generation to continue after explicit id, got %s", next.TicketID)
	}

	_, err = f.svc.SubmitResearch(ctx, "riya", ResearchSubmission{TicketID: "T-20250101-0005", Company: "Globex"})
	if !errors.Is(err, ErrDuplicateTicket) {
		t.Fatalf("expected duplicate ticket, got %v", err)
	}
}

func TestResearch_RejectsMalformedTicketID(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SubmitResearch(context.Background(), "riya", ResearchSubmission{TicketID: "T-2025-1", Company: "Globex"})
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Fields[0].Field != "ticket_id" {
		t.Fatalf("expected ticket_id validation error, got %v", err)
	}
}

func TestApproval_AcceptedMovesToTelecallAndNotifies(t *testing.T) {
	f := newFixture(t)
	l := f.toTelecall(t)

	if l.Stage != StageTelecall || l.ApproveStatus != ApproveStatusAccepted || l.TelecallerAssignedTo != "tara" {
		t.Fatalf("unexpected lead %+v", l)
	}
	got := f.notifier.kinds()
	want := []NotificationKind{NotifyStageChanged, NotifyAssigned, NotifyStageChanged}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("expected notifications %v, got %v", want, got)
	}
	f.notifier.mu.Lock()
	assigned := f.notifier.got[1]
	f.notifier.mu.Unlock()
	if assigned.Assignee != "tara" || assigned.ToStage != StageTelecall {
		t.Fatalf("unexpected assignment notification %+v", assigned)
	}
}

func TestApproval_AcceptedRequiresTelecaller(t *testing.T) {
	f := newFixture(t)
	l := f.research(t)

	_, err := f.svc.SubmitApproval(context.Background(), l.TicketID, "sam", ApprovalSubmission{ApproveStatus: "accepted"})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if ve.Fields[0].Field != "telecaller_assigned_to" {
		t.Fatalf("unexpected field %+v", ve.Fields)
	}

	got, _ := f.store.GetLead(context.Background(), l.TicketID)
	if got.Stage != StageApproval {
		t.Fatalf("lead must not move on validation error, got %s", got.Stage)
	}
	if h, e := f.counts(t, l.TicketID); h != 1 || e != 1 {
		t.Fatalf("no rows may be written on validation error, got %d/%d", h, e)
	}
}

func TestApproval_PendingRecordsEntryWithoutTransition(t *testing.T) {
	f := newFixture(t)
	l := f.research(t)

	res, err := f.svc.SubmitApproval(context.Background(), l.TicketID, "sam", ApprovalSubmission{
		ApproveStatus: ApproveStatusPending,
		Remarks:       "waiting on budget confirmation",
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.History != nil || res.Lead.Stage != StageApproval {
		t.Fatalf("pending must not transition, got %+v", res.History)
	}
	if res.Lead.ApprovalRemarks != "waiting on budget confirmation" {
		t.Fatalf("expected remarks snapshot, got %q", res.Lead.ApprovalRemarks)
	}
	if h, e := f.counts(t, l.TicketID); h != 1 || e != 2 {
		t.Fatalf("expected 1 history and 2 entries, got %d/%d", h, e)
	}
}

func TestApproval_RejectedClosesLost(t *testing.T) {
	f := newFixture(t)
	l := f.research(t)

	res, err := f.svc.SubmitApproval(context.Background(), l.TicketID, "sam", ApprovalSubmission{ApproveStatus: ApproveStatusRejected})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Lead.Stage != StageClosed || res.Lead.ClientStatus != ClientStatusLost {
		t.Fatalf("expected CLOSED/LOST, got %s/%s", res.Lead.Stage, res.Lead.ClientStatus)
	}
}

func TestGuard_StageMismatchWritesNothing(t *testing.T) {
	f := newFixture(t)
	l := f.toTelecall(t)
	hBefore, eBefore := f.counts(t, l.TicketID)

	_, err := f.svc.SubmitApproval(context.Background(), l.TicketID, "sam", ApprovalSubmission{
		ApproveStatus:        ApproveStatusAccepted,
		TelecallerAssignedTo: "someone-else",
	})
	var se *StageMismatchError
	if !errors.As(err, &se) {
		t.Fatalf("expected stage mismatch, got %v", err)
	}
	if se.CurrentStage != StageTelecall || se.ExpectedStage != StageApproval {
		t.Fatalf("unexpected mismatch %+v", se)
	}
	want := "Ticket " + l.TicketID + " is at Telecall; this action requires Approval; the assigned telecaller must call the client and schedule a meeting first."
	if se.Message() != want {
		t.Fatalf("unexpected message:\n%s\n%s", se.Message(), want)
	}

	got, _ := f.store.GetLead(context.Background(), l.TicketID)
	if got.TelecallerAssignedTo != "tara" {
		t.Fatalf("snapshot must be untouched, got %q", got.TelecallerAssignedTo)
	}
	if h, e := f.counts(t, l.TicketID); h != hBefore || e != eBefore {
		t.Fatalf("rows written on mismatch: %d/%d -> %d/%d", hBefore, eBefore, h, e)
	}
}

func TestGuard_MismatchReportedBeforeValidation(t *testing.T) {
	f := newFixture(t)
	l := f.research(t)

	// Missing everything and wrong stage.
	_, err := f.svc.SubmitMeeting(context.Background(), l.TicketID, "manoj", MeetingSubmission{})
	var se *StageMismatchError
	if !errors.As(err, &se) {
		t.Fatalf("expected stage mismatch first, got %v", err)
	}
	if se.Guidance != StageApproval.Guidance() {
		t.Fatalf("expected approval guidance, got %q", se.Guidance)
	}
}

func TestSubmit_UnknownTicket(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SubmitApproval(context.Background(), "T-20250101-0042", "sam", ApprovalSubmission{ApproveStatus: ApproveStatusRejected})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSubmit_RequiresActor(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SubmitResearch(context.Background(), "  ", ResearchSubmission{Company: "Acme"})
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Fields[0].Field != "by" {
		t.Fatalf("expected by validation error, got %v", err)
	}
}

func TestTelecall_RequiresMeetingSlot(t *testing.T) {
	f := newFixture(t)
	l := f.toTelecall(t)

	_, err := f.svc.SubmitTelecall(context.Background(), l.TicketID, "tara", TelecallSubmission{CallNotes: "no answer"})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	fields := map[string]bool{}
	for _, fe := range ve.Fields {
		fields[fe.Field] = true
	}
	for _, want := range []string{"meeting_type", "meeting_assignee", "meeting_date_time"} {
		if !fields[want] {
			t.Fatalf("expected %s to be reported, got %+v", want, ve.Fields)
		}
	}
}

func TestMeeting_ApproveClosesWon(t *testing.T) {
	f := newFixture(t)
	l := f.toMeeting(t)
	budget := int64(750000)

	res, err := f.svc.SubmitMeeting(context.Background(), l.TicketID, "manoj", MeetingSubmission{
		Outcome:      MeetingOutcomeApprove,
		Notes:        "signed",
		ActualBudget: &budget,
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Lead.Stage != StageClosed || res.Lead.ClientStatus != ClientStatusWon {
		t.Fatalf("expected CLOSED/WON, got %s/%s", res.Lead.Stage, res.Lead.ClientStatus)
	}
	if res.Lead.ActualBudget != budget || res.Lead.OutcomeStatus != "APPROVE" {
		t.Fatalf("unexpected outcome snapshot %+v", res.Lead)
	}
	kinds := f.notifier.kinds()
	if kinds[len(kinds)-1] != NotifyClosed {
		t.Fatalf("expected closed notification last, got %v", kinds)
	}
}

func TestMeeting_RescheduleStaysWithoutHistory(t *testing.T) {
	f := newFixture(t)
	l := f.toMeeting(t)
	hBefore, _ := f.counts(t, l.TicketID)

	res, err := f.svc.SubmitMeeting(context.Background(), l.TicketID, "manoj", MeetingSubmission{
		Outcome:         MeetingOutcomeReschedule,
		MeetingType:     "VIDEO",
		MeetingDateTime: meetingAt(7),
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.History != nil || res.Lead.Stage != StageMeeting {
		t.Fatalf("reschedule must not transition")
	}
	if res.Lead.MeetingType != "VIDEO" || !res.Lead.MeetingDateTime.Equal(*meetingAt(7)) {
		t.Fatalf("expected meeting slot overwritten, got %s %v", res.Lead.MeetingType, res.Lead.MeetingDateTime)
	}
	if h, _ := f.counts(t, l.TicketID); h != hBefore {
		t.Fatalf("history written for a non-transition")
	}
}

func TestMeeting_CRMFollowUpRequiresDate(t *testing.T) {
	f := newFixture(t)
	l := f.toMeeting(t)

	_, err := f.svc.SubmitMeeting(context.Background(), l.TicketID, "manoj", MeetingSubmission{Outcome: MeetingOutcomeCRMFollowUp})
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Fields[0].Field != "next_follow_up_on" {
		t.Fatalf("expected next_follow_up_on validation error, got %v", err)
	}
}

func TestCRM_HoldRescheduleAndReject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.toCRM(t)
	if l.Stage != StageCRM || l.CrmAssignedTo != "carol" {
		t.Fatalf("unexpected lead %+v", l)
	}

	res, err := f.svc.SubmitCrm(ctx, l.TicketID, "carol", CrmSubmission{Outcome: CrmOutcomeHold, NextFollowUpOn: meetingAt(20)})
	if err != nil {
		t.Fatalf("hold: %v", err)
	}
	if res.History != nil || res.Lead.Stage != StageCRM || !res.Lead.NextFollowUpOn.Equal(*meetingAt(20)) {
		t.Fatalf("hold must only update the follow-up, got %+v", res.Lead)
	}

	res, err = f.svc.SubmitCrm(ctx, l.TicketID, "carol", CrmSubmission{
		Outcome:         CrmOutcomeReschedule,
		MeetingType:     "ONSITE",
		MeetingDateTime: meetingAt(22),
	})
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if res.Lead.Stage != StageMeeting || res.Lead.MeetingAssignee != "manoj" {
		t.Fatalf("expected back at MEETING with assignee kept, got %s %q", res.Lead.Stage, res.Lead.MeetingAssignee)
	}

	res, err = f.svc.SubmitMeeting(ctx, l.TicketID, "manoj", MeetingSubmission{Outcome: MeetingOutcomeReject, Notes: "went with competitor"})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if res.Lead.Stage != StageClosed || res.Lead.ClientStatus != ClientStatusLost {
		t.Fatalf("expected CLOSED/LOST, got %s/%s", res.Lead.Stage, res.Lead.ClientStatus)
	}
}

func TestClosed_IsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.toCRM(t)

	if _, err := f.svc.SubmitCrm(ctx, l.TicketID, "carol", CrmSubmission{Outcome: CrmOutcomeApprove}); err != nil {
		t.Fatalf("approve: %v", err)
	}
	hBefore, eBefore := f.counts(t, l.TicketID)

	attempts := map[string]error{}
	_, attempts["approval"] = f.svc.SubmitApproval(ctx, l.TicketID, "sam", ApprovalSubmission{ApproveStatus: ApproveStatusRejected})
	_, attempts["telecall"] = f.svc.SubmitTelecall(ctx, l.TicketID, "tara", TelecallSubmission{MeetingType: "X", MeetingAssignee: "y", MeetingDateTime: meetingAt(5)})
	_, attempts["meeting"] = f.svc.SubmitMeeting(ctx, l.TicketID, "manoj", MeetingSubmission{Outcome: MeetingOutcomeReject})
	_, attempts["crm"] = f.svc.SubmitCrm(ctx, l.TicketID, "carol", CrmSubmission{Outcome: CrmOutcomeReject})
	for name, err := range attempts {
		var se *StageMismatchError
		if !errors.As(err, &se) || se.CurrentStage != StageClosed {
			t.Fatalf("%s on closed lead: expected stage mismatch, got %v", name, err)
		}
	}

	_, err := f.svc.SubmitResearch(ctx, "riya", ResearchSubmission{TicketID: l.TicketID, Company: "Acme"})
	if !errors.Is(err, ErrDuplicateTicket) {
		t.Fatalf("research on closed lead: expected duplicate ticket, got %v", err)
	}

	got, _ := f.store.GetLead(ctx, l.TicketID)
	if got.ClientStatus != ClientStatusWon {
		t.Fatalf("closed lead changed: %s", got.ClientStatus)
	}
	if h, e := f.counts(t, l.TicketID); h != hBefore || e != eBefore {
		t.Fatalf("rows written on closed lead")
	}
}

func TestHistory_FormsUnbrokenChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.toCRM(t)

	if _, err := f.svc.SubmitCrm(ctx, l.TicketID, "carol", CrmSubmission{Outcome: CrmOutcomeReschedule, MeetingType: "VIDEO", MeetingDateTime: meetingAt(9)}); err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if _, err := f.svc.SubmitMeeting(ctx, l.TicketID, "manoj", MeetingSubmission{Outcome: MeetingOutcomeApprove}); err != nil {
		t.Fatalf("approve: %v", err)
	}

	detail, err := f.svc.GetLead(ctx, l.TicketID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	hist := detail.History
	want := []Stage{StageResearch, StageApproval, StageTelecall, StageMeeting, StageCRM, StageMeeting, StageClosed}
	if len(hist) != len(want)-1 {
		t.Fatalf("expected %d history rows, got %d", len(want)-1, len(hist))
	}
	for i, h := range hist {
		if h.FromStage != want[i] || h.ToStage != want[i+1] {
			t.Fatalf("row %d: %s -> %s, want %s -> %s", i, h.FromStage, h.ToStage, want[i], want[i+1])
		}
		if !CanTransition(h.FromStage, h.ToStage) {
			t.Fatalf("row %d records an undocumented move", i)
		}
	}
	if hist[len(hist)-1].ToStage != detail.Lead.Stage {
		t.Fatalf("last history row does not match lead stage")
	}
	if len(detail.Entries) != 6 {
		t.Fatalf("expected 6 entries, got %d", len(detail.Entries))
	}
}

func TestTransaction_FailureLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.research(t)
	hBefore, eBefore := f.counts(t, l.TicketID)

	for _, op := range []string{"append_entry", "append_history", "update_lead"} {
		f.store.FailOn(op, errors.New("connection reset"))
		_, err := f.svc.SubmitApproval(ctx, l.TicketID, "sam", ApprovalSubmission{ApproveStatus: ApproveStatusAccepted, TelecallerAssignedTo: "tara"})
		var te *TransactionError
		if !errors.As(err, &te) {
			t.Fatalf("%s: expected transaction error, got %v", op, err)
		}
		f.store.FailOn(op, nil)

		got, _ := f.store.GetLead(ctx, l.TicketID)
		if got.Stage != StageApproval || got.TelecallerAssignedTo != "" {
			t.Fatalf("%s: partial snapshot survived: %+v", op, got)
		}
		if h, e := f.counts(t, l.TicketID); h != hBefore || e != eBefore {
			t.Fatalf("%s: partial rows survived", op)
		}
	}

	// Retry after the fault clears.
	if _, err := f.svc.SubmitApproval(ctx, l.TicketID, "sam", ApprovalSubmission{ApproveStatus: ApproveStatusAccepted, TelecallerAssignedTo: "tara"}); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if f.observer.outcomes["error"] != 3 {
		t.Fatalf("expected 3 error outcomes observed, got %v", f.observer.outcomes)
	}
}

func TestTransaction_FailedCreationConsumesNoTicket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.store.FailOn("append_history", errors.New("disk full"))
	if _, err := f.svc.SubmitResearch(ctx, "riya", ResearchSubmission{Company: "Acme"}); err == nil {
		t.Fatalf("expected failure")
	}
	f.store.FailOn("append_history", nil)

	if out, _ := f.store.ListLeads(ctx, ListFilter{}); len(out) != 0 {
		t.Fatalf("lead survived a failed creation")
	}
	l := f.research(t)
	if l.TicketID != "T-20250101-0001" {
		t.Fatalf("expected rolled back sequence to be reused, got %s", l.TicketID)
	}
}

func TestConcurrency_OneSubmissionWinsPerStage(t *testing.T) {
	f := newFixture(t)
	l := f.research(t)

	const n = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		mismatch int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.SubmitApproval(context.Background(), l.TicketID, fmt.Sprintf("coord-%d", i), ApprovalSubmission{
				ApproveStatus:        ApproveStatusAccepted,
				TelecallerAssignedTo: "tara",
			})
			var se *StageMismatchError
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.As(err, &se):
				mismatch++
			default:
				t.Errorf("unexpected err: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if ok != 1 || mismatch != n-1 {
		t.Fatalf("expected exactly one winner, got ok=%d mismatch=%d", ok, mismatch)
	}
	if h, _ := f.counts(t, l.TicketID); h != 2 {
		t.Fatalf("expected exactly one APPROVAL -> TELECALL row, got %d rows", h)
	}
}

func TestConcurrency_CreationsGetDistinctIDs(t *testing.T) {
	f := newFixture(t)

	const n = 50
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = map[string]bool{}
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.SubmitResearch(context.Background(), "riya", ResearchSubmission{Company: "Acme"})
			if err != nil {
				t.Errorf("research: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[res.Lead.TicketID] = true
		}()
	}
	wg.Wait()

	if len(ids) != n {
		t.Fatalf("expected %d distinct ids, got %d", n, len(ids))
	}
	for i := 1; i <= n; i++ {
		if id := FormatTicketID("20250101", i); !ids[id] {
			t.Fatalf("expected gap-free ids, missing %s", id)
		}
	}
}

func TestNextTicketID_DoesNotConsume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		id, err := f.svc.NextTicketID(ctx)
		if err != nil {
			t.Fatalf("peek: %v", err)
		}
		if id != "T-20250101-0001" {
			t.Fatalf("expected T-20250101-0001, got %s", id)
		}
	}
	f.research(t)
	if id, _ := f.svc.NextTicketID(ctx); id != "T-20250101-0002" {
		t.Fatalf("expected T-20250101-0002 after a creation, got %s", id)
	}
}

func TestListLeads_Filters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.research(t)
	f.toTelecall(t)

	atApproval, err := f.svc.ListLeads(ctx, ListFilter{Stage: StageApproval})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(atApproval) != 1 {
		t.Fatalf("expected 1 lead at approval, got %d", len(atApproval))
	}

	mine, _ := f.svc.ListLeads(ctx, ListFilter{Assignee: "TARA"})
	if len(mine) != 1 || mine[0].Stage != StageTelecall {
		t.Fatalf("expected tara's lead, got %+v", mine)
	}

	byName, _ := f.svc.ListLeads(ctx, ListFilter{Query: "acme"})
	if len(byName) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(byName))
	}

	if _, err := f.svc.ListLeads(ctx, ListFilter{Stage: "LIMBO"}); err == nil {
		t.Fatalf("expected unknown stage to be rejected")
	}
}

func TestGetLead_NotFound(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.GetLead(context.Background(), "T-20250101-0009"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

// racingStore makes generated inserts lose to an explicit creation of the
// same id that commits right after the losing transaction rolls back.
type racingStore struct {
	*MemoryStore
	races    int
	attempts int
}

type racingTx struct {
	Tx
	s     *racingStore
	rival *Lead
}

func (t *racingTx) InsertLead(ctx context.Context, l Lead) error {
	if t.s.races > 0 {
		t.s.races--
		rival := newLead(l.TicketID, "explicit", l.CreatedAt)
		t.rival = &rival
		return ErrDuplicateTicket
	}
	return t.Tx.InsertLead(ctx, l)
}

func (s *racingStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.attempts++
	var rt *racingTx
	err := s.MemoryStore.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		rt = &racingTx{Tx: tx, s: s}
		return fn(ctx, rt)
	})
	if rt != nil && rt.rival != nil {
		rival := *rt.rival
		if cerr := s.MemoryStore.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			return tx.InsertLead(ctx, rival)
		}); cerr != nil {
			return cerr
		}
	}
	return err
}

func newRacingService(races int) (*Service, *racingStore) {
	store := &racingStore{MemoryStore: NewMemoryStore(), races: races}
	clock := func() time.Time { return time.Date(2025, 1, 1, 10, 0, 0, 0, ist) }
	return NewService(store, NewTicketGenerator(ist), WithClock(clock)), store
}

func TestSubmitResearch_GeneratedIDRaceIsRetried(t *testing.T) {
	svc, store := newRacingService(1)

	res, err := svc.SubmitResearch(context.Background(), "riya", ResearchSubmission{Company: "Acme"})
	if err != nil {
		t.Fatalf("expected the race to be retried, got %v", err)
	}
	if res.Lead.TicketID != "T-20250101-0002" {
		t.Fatalf("expected the next free id, got %s", res.Lead.TicketID)
	}
	if store.attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", store.attempts)
	}
	rival, err := store.GetLead(context.Background(), "T-20250101-0001")
	if err != nil || rival.CreatedBy != "explicit" {
		t.Fatalf("expected rival lead kept, got %+v %v", rival, err)
	}
}

func TestSubmitResearch_GeneratedIDRaceGivesUp(t *testing.T) {
	svc, store := newRacingService(ticketAttempts)

	_, err := svc.SubmitResearch(context.Background(), "riya", ResearchSubmission{Company: "Acme"})
	var te *TransactionError
	if !errors.As(err, &te) {
		t.Fatalf("expected transaction error after %d races, got %v", ticketAttempts, err)
	}
	if errors.Is(err, ErrDuplicateTicket) {
		t.Fatalf("caller supplied no id and must not see a duplicate: %v", err)
	}
	if store.attempts != ticketAttempts {
		t.Fatalf("expected %d attempts, got %d", ticketAttempts, store.attempts)
	}
}
