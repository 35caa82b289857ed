package leads

import "context"

// Store is the persistence and transaction provider for the pipeline.
//
// Requirements on implementations:
//   - WithinTx runs fn atomically: either every write made through tx commits
//     or none does. An error returned by fn rolls back.
//   - Tx.LockLead holds a lock on the lead row until commit, so a second
//     transaction on the same ticket observes the first one's committed stage
//     before it runs its guard.
//   - Entry and history rows are insert-only.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetLead(ctx context.Context, ticketID string) (Lead, error)
	ListHistory(ctx context.Context, ticketID string) ([]StageHistory, error)
	ListEntries(ctx context.Context, ticketID string) ([]Entry, error)
	ListLeads(ctx context.Context, f ListFilter) ([]Lead, error)

	SequenceReader
}

// Tx is the unit-of-work view of the store.
type Tx interface {
	// LockLead loads a lead for update. Returns ErrNotFound when absent.
	LockLead(ctx context.Context, ticketID string) (Lead, error)
	// InsertLead returns ErrDuplicateTicket when the id is taken.
	InsertLead(ctx context.Context, l Lead) error
	UpdateLead(ctx context.Context, l Lead) error

	HistoryWriter
	AppendEntry(ctx context.Context, e Entry) error

	SequenceSource
}

// HistoryWriter is the only dependency of the transition engine.
type HistoryWriter interface {
	AppendHistory(ctx context.Context, h StageHistory) error
}
