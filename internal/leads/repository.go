package leads

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"sales-pipeline/pkg/utils"
)

// NOTE: This store assumes the schema in internal/database/migrations:
// - leads (snapshot, one row per ticket)
// - stage_history (append-only)
// - research_entries, approval_entries, telecall_entries, meeting_entries,
//   crm_entries (append-only, one table per stage)
// - ticket_sequences (per-day counter)
//
// Append-only tables carry a trigger that rejects UPDATE and DELETE.

// PostgresStore implements Store on database/sql with the pgx driver.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// txAttempts bounds re-runs of a unit of work aborted by a deadlock or
// serialization failure. Handlers only notify after commit, so a re-run is safe.
const txAttempts = 3

func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return utils.WithTxRetry(ctx, s.db, &sql.TxOptions{}, txAttempts, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, &pgTx{tx: tx})
	})
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

const leadColumns = `
ticket_id, stage, client_status, approve_status,
company, contact_name, mobile, email, region, industry, estimated_budget, research_notes,
approval_remarks, telecaller_assigned_to,
telecall_notes, meeting_type, meeting_date_time, meeting_assignee,
outcome_status, outcome_notes, actual_budget, next_follow_up_on, crm_assigned_to,
created_by, created_at, updated_at`

func scanLead(r rowScanner) (Lead, error) {
	var l Lead
	err := r.Scan(
		&l.TicketID,
		&l.Stage,
		&l.ClientStatus,
		&l.ApproveStatus,
		&l.Company,
		&l.ContactName,
		&l.Mobile,
		&l.Email,
		&l.Region,
		&l.Industry,
		&l.EstimatedBudget,
		&l.ResearchNotes,
		&l.ApprovalRemarks,
		&l.TelecallerAssignedTo,
		&l.TelecallNotes,
		&l.MeetingType,
		&l.MeetingDateTime,
		&l.MeetingAssignee,
		&l.OutcomeStatus,
		&l.OutcomeNotes,
		&l.ActualBudget,
		&l.NextFollowUpOn,
		&l.CrmAssignedTo,
		&l.CreatedBy,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	return l, err
}

func leadQuery(forUpdate bool) string {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE ticket_id = $1`
	if forUpdate {
		// Serializes concurrent handlers on the same ticket.
		query += ` FOR UPDATE`
	}
	return query
}

func getLead(ctx context.Context, q queryer, ticketID string, forUpdate bool) (Lead, error) {
	l, err := scanLead(q.QueryRowContext(ctx, leadQuery(forUpdate), ticketID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Lead{}, ErrNotFound
		}
		return Lead{}, err
	}
	return l, nil
}

func (s *PostgresStore) GetLead(ctx context.Context, ticketID string) (Lead, error) {
	return getLead(ctx, s.db, ticketID, false)
}

func (s *PostgresStore) ListHistory(ctx context.Context, ticketID string) ([]StageHistory, error) {
	const q = `
SELECT id, ticket_id, from_stage, to_stage, notes, changed_by, created_at
FROM stage_history
WHERE ticket_id = $1
ORDER BY created_at, id
`
	rows, err := s.db.QueryContext(ctx, q, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []StageHistory{}
	for rows.Next() {
		var h StageHistory
		if err := rows.Scan(&h.ID, &h.TicketID, &h.FromStage, &h.ToStage, &h.Notes, &h.By, &h.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// ListEntries merges the five entry tables in submission order.
func (s *PostgresStore) ListEntries(ctx context.Context, ticketID string) ([]Entry, error) {
	var out []Entry
	for _, load := range []func(context.Context, string) ([]Entry, error){
		s.researchEntries,
		s.approvalEntries,
		s.telecallEntries,
		s.meetingEntries,
		s.crmEntries,
	} {
		es, err := load(ctx, ticketID)
		if err != nil {
			return nil, err
		}
		out = append(out, es...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if out == nil {
		out = []Entry{}
	}
	return out, nil
}

func (s *PostgresStore) collectEntries(ctx context.Context, query, ticketID string, stage Stage, scan func(rowScanner, *EntryMeta) (Submission, error)) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var meta EntryMeta
		sub, err := scan(rows, &meta)
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{EntryMeta: meta, Stage: stage, Payload: sub})
	}
	return out, rows.Err()
}

func (s *PostgresStore) researchEntries(ctx context.Context, ticketID string) ([]Entry, error) {
	const q = `
SELECT id, ticket_id, created_by, created_at,
       company, contact_name, mobile, email, region, industry, estimated_budget, notes
FROM research_entries WHERE ticket_id = $1 ORDER BY created_at
`
	return s.collectEntries(ctx, q, ticketID, StageResearch, func(r rowScanner, m *EntryMeta) (Submission, error) {
		var e ResearchSubmission
		err := r.Scan(&m.ID, &m.TicketID, &m.By, &m.CreatedAt,
			&e.Company, &e.ContactName, &e.Mobile, &e.Email, &e.Region, &e.Industry, &e.EstimatedBudget, &e.Notes)
		e.TicketID = m.TicketID
		return e, err
	})
}

func (s *PostgresStore) approvalEntries(ctx context.Context, ticketID string) ([]Entry, error) {
	const q = `
SELECT id, ticket_id, created_by, created_at,
       approve_status, telecaller_assigned_to, remarks
FROM approval_entries WHERE ticket_id = $1 ORDER BY created_at
`
	return s.collectEntries(ctx, q, ticketID, StageApproval, func(r rowScanner, m *EntryMeta) (Submission, error) {
		var e ApprovalSubmission
		err := r.Scan(&m.ID, &m.TicketID, &m.By, &m.CreatedAt,
			&e.ApproveStatus, &e.TelecallerAssignedTo, &e.Remarks)
		return e, err
	})
}

func (s *PostgresStore) telecallEntries(ctx context.Context, ticketID string) ([]Entry, error) {
	const q = `
SELECT id, ticket_id, created_by, created_at,
       call_notes, meeting_type, meeting_date_time, meeting_assignee
FROM telecall_entries WHERE ticket_id = $1 ORDER BY created_at
`
	return s.collectEntries(ctx, q, ticketID, StageTelecall, func(r rowScanner, m *EntryMeta) (Submission, error) {
		var e TelecallSubmission
		err := r.Scan(&m.ID, &m.TicketID, &m.By, &m.CreatedAt,
			&e.CallNotes, &e.MeetingType, &e.MeetingDateTime, &e.MeetingAssignee)
		return e, err
	})
}

func (s *PostgresStore) meetingEntries(ctx context.Context, ticketID string) ([]Entry, error) {
	const q = `
SELECT id, ticket_id, created_by, created_at,
       outcome, notes, meeting_type, meeting_date_time, next_follow_up_on, actual_budget, crm_assigned_to
FROM meeting_entries WHERE ticket_id = $1 ORDER BY created_at
`
	return s.collectEntries(ctx, q, ticketID, StageMeeting, func(r rowScanner, m *EntryMeta) (Submission, error) {
		var e MeetingSubmission
		err := r.Scan(&m.ID, &m.TicketID, &m.By, &m.CreatedAt,
			&e.Outcome, &e.Notes, &e.MeetingType, &e.MeetingDateTime, &e.NextFollowUpOn, &e.ActualBudget, &e.CrmAssignedTo)
		return e, err
	})
}

func (s *PostgresStore) crmEntries(ctx context.Context, ticketID string) ([]Entry, error) {
	const q = `
SELECT id, ticket_id, created_by, created_at,
       outcome, notes, meeting_type, meeting_date_time, meeting_assignee, next_follow_up_on
FROM crm_entries WHERE ticket_id = $1 ORDER BY created_at
`
	return s.collectEntries(ctx, q, ticketID, StageCRM, func(r rowScanner, m *EntryMeta) (Submission, error) {
		var e CrmSubmission
		err := r.Scan(&m.ID, &m.TicketID, &m.By, &m.CreatedAt,
			&e.Outcome, &e.Notes, &e.MeetingType, &e.MeetingDateTime, &e.MeetingAssignee, &e.NextFollowUpOn)
		return e, err
	})
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (s *PostgresStore) ListLeads(ctx context.Context, f ListFilter) ([]Lead, error) {
	f = f.withDefaults()

	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.Stage != "" {
		where = append(where, "stage = "+arg(f.Stage))
	}
	if f.ClientStatus != "" {
		where = append(where, "client_status = "+arg(f.ClientStatus))
	}
	if f.Assignee != "" {
		p := arg(f.Assignee)
		where = append(where, fmt.Sprintf("(lower(telecaller_assigned_to) = lower(%[1]s) OR lower(meeting_assignee) = lower(%[1]s) OR lower(crm_assigned_to) = lower(%[1]s))", p))
	}
	if f.Query != "" {
		p := arg("%" + likeEscaper.Replace(f.Query) + "%")
		where = append(where, fmt.Sprintf("(ticket_id ILIKE %[1]s OR company ILIKE %[1]s OR contact_name ILIKE %[1]s OR mobile ILIKE %[1]s)", p))
	}

	q := `SELECT ` + leadColumns + ` FROM leads`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY updated_at DESC, ticket_id DESC LIMIT ` + arg(f.Limit) + ` OFFSET ` + arg(f.Offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Lead{}
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// maxUsedSeqSQL is the highest sequence already present in leads for a day,
// so explicitly supplied ids are never handed out again.
// Ticket ids are "T-YYYYMMDD-NNNN"; the sequence starts at character 12.
const maxUsedSeqSQL = `COALESCE((SELECT max(substring(ticket_id from 12)::int) FROM leads WHERE ticket_id LIKE $2), 0)`

func (s *PostgresStore) PeekTicketSeq(ctx context.Context, day string) (int, error) {
	q := `
SELECT GREATEST(
  COALESCE((SELECT last_seq FROM ticket_sequences WHERE day = $1), 0),
  ` + maxUsedSeqSQL + `
) + 1
`
	var n int
	if err := s.db.QueryRowContext(ctx, q, day, TicketDayPrefix(day)+"%").Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) LockLead(ctx context.Context, ticketID string) (Lead, error) {
	return getLead(ctx, t.tx, ticketID, true)
}

func (t *pgTx) InsertLead(ctx context.Context, l Lead) error {
	const q = `
INSERT INTO leads (` + leadColumns + `) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26
)
`
	_, err := t.tx.ExecContext(ctx, q, leadArgs(l)...)
	if utils.IsUniqueViolation(err) {
		return ErrDuplicateTicket
	}
	return err
}

func (t *pgTx) UpdateLead(ctx context.Context, l Lead) error {
	const q = `
UPDATE leads SET
  stage = $2, client_status = $3, approve_status = $4,
  company = $5, contact_name = $6, mobile = $7, email = $8, region = $9, industry = $10,
  estimated_budget = $11, research_notes = $12,
  approval_remarks = $13, telecaller_assigned_to = $14,
  telecall_notes = $15, meeting_type = $16, meeting_date_time = $17, meeting_assignee = $18,
  outcome_status = $19, outcome_notes = $20, actual_budget = $21, next_follow_up_on = $22, crm_assigned_to = $23,
  created_by = $24, created_at = $25, updated_at = $26
WHERE ticket_id = $1
`
	res, err := t.tx.ExecContext(ctx, q, leadArgs(l)...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func leadArgs(l Lead) []any {
	return []any{
		l.TicketID,
		l.Stage,
		l.ClientStatus,
		l.ApproveStatus,
		l.Company,
		l.ContactName,
		l.Mobile,
		l.Email,
		l.Region,
		l.Industry,
		l.EstimatedBudget,
		l.ResearchNotes,
		l.ApprovalRemarks,
		l.TelecallerAssignedTo,
		l.TelecallNotes,
		l.MeetingType,
		l.MeetingDateTime,
		l.MeetingAssignee,
		l.OutcomeStatus,
		l.OutcomeNotes,
		l.ActualBudget,
		l.NextFollowUpOn,
		l.CrmAssignedTo,
		l.CreatedBy,
		l.CreatedAt,
		l.UpdatedAt,
	}
}

func (t *pgTx) AppendHistory(ctx context.Context, h StageHistory) error {
	const q = `
INSERT INTO stage_history (id, ticket_id, from_stage, to_stage, notes, changed_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`
	_, err := t.tx.ExecContext(ctx, q, h.ID, h.TicketID, h.FromStage, h.ToStage, h.Notes, h.By, h.CreatedAt)
	return err
}

func (t *pgTx) AppendEntry(ctx context.Context, e Entry) error {
	m := e.EntryMeta
	switch p := e.Payload.(type) {
	case ResearchSubmission:
		const q = `
INSERT INTO research_entries (
  id, ticket_id, created_by, created_at,
  company, contact_name, mobile, email, region, industry, estimated_budget, notes
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
`
		_, err := t.tx.ExecContext(ctx, q, m.ID, m.TicketID, m.By, m.CreatedAt,
			p.Company, p.ContactName, p.Mobile, p.Email, p.Region, p.Industry, p.EstimatedBudget, p.Notes)
		return err

	case ApprovalSubmission:
		const q = `
INSERT INTO approval_entries (
  id, ticket_id, created_by, created_at,
  approve_status, telecaller_assigned_to, remarks
) VALUES ($1,$2,$3,$4,$5,$6,$7)
`
		_, err := t.tx.ExecContext(ctx, q, m.ID, m.TicketID, m.By, m.CreatedAt,
			p.ApproveStatus, p.TelecallerAssignedTo, p.Remarks)
		return err

	case TelecallSubmission:
		const q = `
INSERT INTO telecall_entries (
  id, ticket_id, created_by, created_at,
  call_notes, meeting_type, meeting_date_time, meeting_assignee
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`
		_, err := t.tx.ExecContext(ctx, q, m.ID, m.TicketID, m.By, m.CreatedAt,
			p.CallNotes, p.MeetingType, p.MeetingDateTime, p.MeetingAssignee)
		return err

	case MeetingSubmission:
		const q = `
INSERT INTO meeting_entries (
  id, ticket_id, created_by, created_at,
  outcome, notes, meeting_type, meeting_date_time, next_follow_up_on, actual_budget, crm_assigned_to
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`
		_, err := t.tx.ExecContext(ctx, q, m.ID, m.TicketID, m.By, m.CreatedAt,
			p.Outcome, p.Notes, p.MeetingType, p.MeetingDateTime, p.NextFollowUpOn, p.ActualBudget, p.CrmAssignedTo)
		return err

	case CrmSubmission:
		const q = `
INSERT INTO crm_entries (
  id, ticket_id, created_by, created_at,
  outcome, notes, meeting_type, meeting_date_time, meeting_assignee, next_follow_up_on
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`
		_, err := t.tx.ExecContext(ctx, q, m.ID, m.TicketID, m.By, m.CreatedAt,
			p.Outcome, p.Notes, p.MeetingType, p.MeetingDateTime, p.MeetingAssignee, p.NextFollowUpOn)
		return err
	}
	return fmt.Errorf("leads: no entry table for %T", e.Payload)
}

// nextTicketSeqSQL bumps the day counter. The upsert holds a row lock on the
// counter until commit, which serializes concurrent creations for a day.
const nextTicketSeqSQL = `
INSERT INTO ticket_sequences (day, last_seq, updated_at)
VALUES ($1, ` + maxUsedSeqSQL + ` + 1, now())
ON CONFLICT (day)
DO UPDATE SET last_seq = GREATEST(ticket_sequences.last_seq, EXCLUDED.last_seq - 1) + 1,
              updated_at = now()
RETURNING last_seq
`

func (t *pgTx) NextTicketSeq(ctx context.Context, day string) (int, error) {
	var n int
	if err := t.tx.QueryRowContext(ctx, nextTicketSeqSQL, day, TicketDayPrefix(day)+"%").Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (t *pgTx) TicketExists(ctx context.Context, ticketID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM leads WHERE ticket_id = $1)`, ticketID).Scan(&exists)
	return exists, err
}
