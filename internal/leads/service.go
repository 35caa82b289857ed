package leads

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sales-pipeline/pkg/logger"

	"github.com/google/uuid"
)

// Service runs the stage handlers of the sales pipeline.
//
// Every handler follows the same unit of work, inside one transaction:
// lock lead -> guard stage -> validate payload -> append entry ->
// overwrite owned snapshot fields -> transition -> persist lead -> commit.
// Every rejection happens before the first write. Notifications are sent
// only after a successful commit and never affect the outcome.
type Service struct {
	store    Store
	tickets  *TicketGenerator
	notifier Notifier
	observer Observer
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

// Result is what a successful handler call returns.
type Result struct {
	Lead    Lead          `json:"lead"`
	Entry   Entry         `json:"entry"`
	History *StageHistory `json:"history,omitempty"`
}

type Option func(*Service)

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// WithClock overrides the clock of the service and its ticket generator.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		s.clock = clock
		s.tickets.clock = clock
	}
}

func NewService(store Store, tickets *TicketGenerator, opts ...Option) *Service {
	if tickets == nil {
		tickets = NewTicketGenerator(time.UTC)
	}
	s := &Service{
		store:    store,
		tickets:  tickets,
		notifier: noopNotifier{},
		observer: noopObserver{},
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) SubmitResearch(ctx context.Context, actor string, req ResearchSubmission) (Result, error) {
	return s.Submit(ctx, req.TicketID, actor, req)
}

func (s *Service) SubmitApproval(ctx context.Context, ticketID, actor string, req ApprovalSubmission) (Result, error) {
	return s.Submit(ctx, ticketID, actor, req)
}

func (s *Service) SubmitTelecall(ctx context.Context, ticketID, actor string, req TelecallSubmission) (Result, error) {
	return s.Submit(ctx, ticketID, actor, req)
}

func (s *Service) SubmitMeeting(ctx context.Context, ticketID, actor string, req MeetingSubmission) (Result, error) {
	return s.Submit(ctx, ticketID, actor, req)
}

func (s *Service) SubmitCrm(ctx context.Context, ticketID, actor string, req CrmSubmission) (Result, error) {
	return s.Submit(ctx, ticketID, actor, req)
}

// Submit applies one stage submission to a lead. For research submissions an
// empty ticketID creates a lead with a generated id.
func (s *Service) Submit(ctx context.Context, ticketID, actor string, sub Submission) (Result, error) {
	start := s.clock()
	log := logger.From(ctx)

	var notes []Notification
	res, err := s.submit(ctx, strings.ToUpper(strings.TrimSpace(ticketID)), strings.TrimSpace(actor), sub, &notes)

	stage := Stage("")
	if sub != nil {
		stage = sub.Stage()
	}
	s.observer.ObserveSubmission(stage, outcomeOf(err), s.clock().Sub(start))

	if err != nil {
		attrs := []any{"stage", stage, "ticket_id", ticketID, "by", actor, "err", err}
		var te *TransactionError
		if errors.As(err, &te) {
			log.Error("lead submission failed", attrs...)
		} else {
			log.Info("lead submission rejected", attrs...)
		}
		return Result{}, err
	}

	if res.History != nil {
		s.observer.ObserveTransition(res.History.FromStage, res.History.ToStage)
		log.Info("lead stage changed",
			"ticket_id", res.Lead.TicketID,
			"from", res.History.FromStage,
			"to", res.History.ToStage,
			"by", res.History.By,
		)
	}
	for _, n := range notes {
		s.notifier.Notify(ctx, n)
	}
	return res, nil
}

func (s *Service) submit(ctx context.Context, ticketID, actor string, sub Submission, notes *[]Notification) (Result, error) {
	if actor == "" {
		return Result{}, invalidField("by", "acting user is required")
	}
	if r, ok := sub.(ResearchSubmission); ok && ticketID != "" {
		if r.TicketID != "" && !strings.EqualFold(strings.TrimSpace(r.TicketID), ticketID) {
			return Result{}, invalidField("ticket_id", "does not match the requested ticket")
		}
		r.TicketID = ticketID
		sub = r
	}
	if _, ok := sub.(ResearchSubmission); !ok && sub != nil && ticketID == "" {
		return Result{}, invalidField("ticket_id", "is required")
	}

	var out Result
	work := func(ctx context.Context, tx Tx) error {
		now := s.clock().UTC()

		var (
			lead     Lead
			prepared Submission
			created  bool
			err      error
		)
		generated := false
		if r, ok := sub.(ResearchSubmission); ok {
			// Research owns lead creation, so its payload (and ticket id) is
			// validated before the lead is looked up.
			if prepared, err = prepare(r); err != nil {
				return err
			}
			explicit := prepared.(ResearchSubmission).TicketID
			if lead, created, err = s.getOrCreate(ctx, tx, explicit, actor, now); err != nil {
				return err
			}
			generated = created && explicit == ""
			if err := GuardStage(lead, StageResearch); err != nil {
				return err
			}
		} else {
			if sub == nil {
				return invalidField("payload", "is required")
			}
			if lead, err = tx.LockLead(ctx, ticketID); err != nil {
				if errors.Is(err, ErrNotFound) {
					return fmt.Errorf("%w: %s", ErrNotFound, ticketID)
				}
				return err
			}
			if err := GuardStage(lead, sub.Stage()); err != nil {
				return err
			}
			if prepared, err = prepare(sub); err != nil {
				return err
			}
		}

		// Writes start here.
		if created {
			if err := tx.InsertLead(ctx, lead); err != nil {
				if generated && errors.Is(err, ErrDuplicateTicket) {
					return errTicketRace
				}
				return err
			}
		}

		entry := Entry{
			EntryMeta: EntryMeta{ID: uuid.NewString(), TicketID: lead.TicketID, By: actor, CreatedAt: now},
			Stage:     prepared.Stage(),
			Payload:   prepared,
		}
		if err := tx.AppendEntry(ctx, entry); err != nil {
			return err
		}

		to := applySubmission(&lead, prepared)
		lead.UpdatedAt = now

		h, err := Transition(ctx, tx, &lead, to, prepared.HistoryNotes(), actor, now)
		if err != nil {
			return err
		}
		if err := lead.CheckInvariants(); err != nil {
			return err
		}
		if err := tx.UpdateLead(ctx, lead); err != nil {
			return err
		}

		out = Result{Lead: lead, Entry: entry, History: h}
		*notes = notificationsFor(lead, prepared, h, actor, now)
		return nil
	}

	var err error
	for attempt := 1; ; attempt++ {
		err = s.store.WithinTx(ctx, work)
		if !errors.Is(err, errTicketRace) || attempt == ticketAttempts {
			break
		}
	}
	if err != nil {
		op := "submit"
		if sub != nil {
			op = "submit " + strings.ToLower(string(sub.Stage()))
		}
		return Result{}, asDomainError(op, err)
	}
	return out, nil
}

// errTicketRace marks a generated id taken by an explicit creation that
// committed after the id was picked. The whole unit of work is re-run.
var errTicketRace = errors.New("generated ticket id taken concurrently")

const ticketAttempts = 3

// getOrCreate resolves the lead a research submission targets. An existing
// ticket is only a re-submission while it still sits at RESEARCH; any other
// existing ticket, closed ones included, is a duplicate.
func (s *Service) getOrCreate(ctx context.Context, tx Tx, ticketID, actor string, now time.Time) (Lead, bool, error) {
	if ticketID == "" {
		id, err := s.tickets.Next(ctx, tx)
		if err != nil {
			return Lead{}, false, err
		}
		return newLead(id, actor, now), true, nil
	}

	l, err := tx.LockLead(ctx, ticketID)
	switch {
	case errors.Is(err, ErrNotFound):
		return newLead(ticketID, actor, now), true, nil
	case err != nil:
		return Lead{}, false, err
	case l.Stage != StageResearch:
		return Lead{}, false, fmt.Errorf("%w: %s", ErrDuplicateTicket, ticketID)
	}
	return l, false, nil
}

// applySubmission overwrites the snapshot fields the submission owns and
// returns the stage the lead must move to.
func applySubmission(l *Lead, sub Submission) Stage {
	switch s := sub.(type) {
	case ResearchSubmission:
		l.Company = s.Company
		l.ContactName = s.ContactName
		l.Mobile = s.Mobile
		l.Email = s.Email
		l.Region = s.Region
		l.Industry = s.Industry
		l.EstimatedBudget = s.EstimatedBudget
		l.ResearchNotes = s.Notes
		return StageApproval

	case ApprovalSubmission:
		l.ApproveStatus = s.ApproveStatus
		l.ApprovalRemarks = s.Remarks
		l.TelecallerAssignedTo = s.TelecallerAssignedTo
		switch s.ApproveStatus {
		case ApproveStatusAccepted:
			return StageTelecall
		case ApproveStatusRejected:
			return closeLead(l, ClientStatusLost)
		default:
			return StageApproval
		}

	case TelecallSubmission:
		l.TelecallNotes = s.CallNotes
		l.MeetingType = s.MeetingType
		l.MeetingDateTime = s.MeetingDateTime
		l.MeetingAssignee = s.MeetingAssignee
		return StageMeeting

	case MeetingSubmission:
		l.OutcomeStatus = string(s.Outcome)
		l.OutcomeNotes = s.Notes
		l.NextFollowUpOn = s.NextFollowUpOn
		if s.ActualBudget != nil {
			l.ActualBudget = *s.ActualBudget
		}
		switch s.Outcome {
		case MeetingOutcomeCRMFollowUp:
			l.CrmAssignedTo = s.CrmAssignedTo
			return StageCRM
		case MeetingOutcomeReschedule:
			l.MeetingType = s.MeetingType
			l.MeetingDateTime = s.MeetingDateTime
			return StageMeeting
		case MeetingOutcomeApprove:
			return closeLead(l, ClientStatusWon)
		default:
			return closeLead(l, ClientStatusLost)
		}

	case CrmSubmission:
		l.OutcomeStatus = string(s.Outcome)
		l.OutcomeNotes = s.Notes
		l.NextFollowUpOn = s.NextFollowUpOn
		switch s.Outcome {
		case CrmOutcomeReschedule:
			l.MeetingType = s.MeetingType
			l.MeetingDateTime = s.MeetingDateTime
			if s.MeetingAssignee != "" {
				l.MeetingAssignee = s.MeetingAssignee
			}
			return StageMeeting
		case CrmOutcomeApprove:
			return closeLead(l, ClientStatusWon)
		case CrmOutcomeReject:
			return closeLead(l, ClientStatusLost)
		default:
			return StageCRM
		}
	}
	return l.Stage
}

func closeLead(l *Lead, status ClientStatus) Stage {
	l.ClientStatus = status
	return StageClosed
}

// NextTicketID returns the id the next research submission is expected to
// receive. Used for UI pre-fill only.
func (s *Service) NextTicketID(ctx context.Context) (string, error) {
	id, err := s.tickets.Peek(ctx, s.store)
	if err != nil {
		return "", asDomainError("next ticket id", err)
	}
	return id, nil
}

// GetLead returns the lead with its history and entries.
func (s *Service) GetLead(ctx context.Context, ticketID string) (LeadDetail, error) {
	ticketID = strings.ToUpper(strings.TrimSpace(ticketID))
	if ticketID == "" {
		return LeadDetail{}, invalidField("ticket_id", "is required")
	}

	l, err := s.store.GetLead(ctx, ticketID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return LeadDetail{}, fmt.Errorf("%w: %s", ErrNotFound, ticketID)
		}
		return LeadDetail{}, asDomainError("get lead", err)
	}
	history, err := s.store.ListHistory(ctx, ticketID)
	if err != nil {
		return LeadDetail{}, asDomainError("list history", err)
	}
	entries, err := s.store.ListEntries(ctx, ticketID)
	if err != nil {
		return LeadDetail{}, asDomainError("list entries", err)
	}
	return LeadDetail{Lead: l, History: history, Entries: entries}, nil
}

func (s *Service) ListLeads(ctx context.Context, f ListFilter) ([]Lead, error) {
	if f.Stage != "" && !f.Stage.Valid() {
		return nil, invalidField("stage", "is not a known stage")
	}
	if f.ClientStatus != "" && !f.ClientStatus.Valid() {
		return nil, invalidField("client_status", "must be one of OPEN WON LOST")
	}
	f.Assignee = strings.TrimSpace(f.Assignee)
	f.Query = strings.TrimSpace(f.Query)

	out, err := s.store.ListLeads(ctx, f.withDefaults())
	if err != nil {
		return nil, asDomainError("list leads", err)
	}
	return out, nil
}

func outcomeOf(err error) string {
	var (
		ve *ValidationError
		se *StageMismatchError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &se):
		return "stage_mismatch"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrDuplicateTicket):
		return "duplicate"
	default:
		return "error"
	}
}
