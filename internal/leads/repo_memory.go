package leads

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-memory Store useful for tests and local runs.
// Transactions are fully serialized and run against a copy of the state that
// is swapped in only on success, so a failed transaction leaves no trace.
type MemoryStore struct {
	mu    sync.Mutex
	state memState
	// failOn injects an error into the named Tx operation.
	failOn map[string]error
}

type memState struct {
	leads   map[string]Lead
	history []StageHistory
	entries []Entry
	seq     map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: memState{
			leads: map[string]Lead{},
			seq:   map[string]int{},
		},
		failOn: map[string]error{},
	}
}

// FailOn makes every later call of op fail with err until cleared with a nil err.
// Known ops: lock_lead, insert_lead, update_lead, append_history, append_entry,
// next_ticket_seq.
func (s *MemoryStore) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failOn, op)
		return
	}
	s.failOn[op] = err
}

func (st memState) clone() memState {
	out := memState{
		leads:   make(map[string]Lead, len(st.leads)),
		history: append([]StageHistory(nil), st.history...),
		entries: append([]Entry(nil), st.entries...),
		seq:     make(map[string]int, len(st.seq)),
	}
	for k, v := range st.leads {
		out.leads[k] = v
	}
	for k, v := range st.seq {
		out.seq[k] = v
	}
	return out
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{state: s.state.clone(), failOn: s.failOn}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

func (s *MemoryStore) GetLead(ctx context.Context, ticketID string) (Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.state.leads[ticketID]
	if !ok {
		return Lead{}, ErrNotFound
	}
	return l, nil
}

func (s *MemoryStore) ListHistory(ctx context.Context, ticketID string) ([]StageHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []StageHistory{}
	for _, h := range s.state.history {
		if h.TicketID == ticketID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListEntries(ctx context.Context, ticketID string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Entry{}
	for _, e := range s.state.entries {
		if e.TicketID == ticketID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListLeads(ctx context.Context, f ListFilter) ([]Lead, error) {
	f = f.withDefaults()
	s.mu.Lock()
	matched := make([]Lead, 0, len(s.state.leads))
	for _, l := range s.state.leads {
		if matchesFilter(l, f) {
			matched = append(matched, l)
		}
	}
	s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
		}
		return matched[i].TicketID > matched[j].TicketID
	})

	if f.Offset >= len(matched) {
		return []Lead{}, nil
	}
	matched = matched[f.Offset:]
	if len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

func matchesFilter(l Lead, f ListFilter) bool {
	if f.Stage != "" && l.Stage != f.Stage {
		return false
	}
	if f.ClientStatus != "" && l.ClientStatus != f.ClientStatus {
		return false
	}
	if f.Assignee != "" &&
		!strings.EqualFold(l.TelecallerAssignedTo, f.Assignee) &&
		!strings.EqualFold(l.MeetingAssignee, f.Assignee) &&
		!strings.EqualFold(l.CrmAssignedTo, f.Assignee) {
		return false
	}
	if f.Query != "" {
		q := strings.ToLower(f.Query)
		hay := strings.ToLower(l.TicketID + " " + l.Company + " " + l.ContactName + " " + l.Mobile)
		if !strings.Contains(hay, q) {
			return false
		}
	}
	return true
}

func (s *MemoryStore) PeekTicketSeq(ctx context.Context, day string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.nextSeq(day), nil
}

// nextSeq never goes below the highest sequence already used on that day,
// including explicitly supplied ids.
func (st memState) nextSeq(day string) int {
	last := st.seq[day]
	prefix := TicketDayPrefix(day)
	for id := range st.leads {
		if !strings.HasPrefix(id, prefix) {
			continue
		}
		if _, n, err := ParseTicketID(id); err == nil && n > last {
			last = n
		}
	}
	return last + 1
}

type memTx struct {
	state  memState
	failOn map[string]error
}

func (t *memTx) fail(op string) error {
	if err, ok := t.failOn[op]; ok {
		return fmt.Errorf("memory store %s: %w", op, err)
	}
	return nil
}

func (t *memTx) LockLead(ctx context.Context, ticketID string) (Lead, error) {
	if err := t.fail("lock_lead"); err != nil {
		return Lead{}, err
	}
	l, ok := t.state.leads[ticketID]
	if !ok {
		return Lead{}, ErrNotFound
	}
	return l, nil
}

func (t *memTx) InsertLead(ctx context.Context, l Lead) error {
	if err := t.fail("insert_lead"); err != nil {
		return err
	}
	if _, ok := t.state.leads[l.TicketID]; ok {
		return ErrDuplicateTicket
	}
	t.state.leads[l.TicketID] = l
	return nil
}

func (t *memTx) UpdateLead(ctx context.Context, l Lead) error {
	if err := t.fail("update_lead"); err != nil {
		return err
	}
	if _, ok := t.state.leads[l.TicketID]; !ok {
		return ErrNotFound
	}
	t.state.leads[l.TicketID] = l
	return nil
}

func (t *memTx) AppendHistory(ctx context.Context, h StageHistory) error {
	if err := t.fail("append_history"); err != nil {
		return err
	}
	t.state.history = append(t.state.history, h)
	return nil
}

func (t *memTx) AppendEntry(ctx context.Context, e Entry) error {
	if err := t.fail("append_entry"); err != nil {
		return err
	}
	t.state.entries = append(t.state.entries, e)
	return nil
}

func (t *memTx) NextTicketSeq(ctx context.Context, day string) (int, error) {
	if err := t.fail("next_ticket_seq"); err != nil {
		return 0, err
	}
	n := t.state.nextSeq(day)
	t.state.seq[day] = n
	return n, nil
}

func (t *memTx) TicketExists(ctx context.Context, ticketID string) (bool, error) {
	_, ok := t.state.leads[ticketID]
	return ok, nil
}
