package leads

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

const (
	ticketPrefix    = "T-"
	ticketDayLayout = "20060102"
	maxTicketSeq    = 9999
	// generated IDs already taken by explicit creations are skipped this many times.
	maxTicketAttempts = 5
)

var ticketIDPattern = regexp.MustCompile(`^T-(\d{8})-(\d{4})$`)

// SequenceSource allocates the next per-day sequence number.
// Implementations must hold the allocation under the caller's transaction so
// that two concurrent creators never receive the same number.
type SequenceSource interface {
	NextTicketSeq(ctx context.Context, day string) (int, error)
	TicketExists(ctx context.Context, ticketID string) (bool, error)
}

// SequenceReader reports the next number without consuming it.
type SequenceReader interface {
	PeekTicketSeq(ctx context.Context, day string) (int, error)
}

// TicketDayPrefix returns "T-YYYYMMDD-" for a day key.
func TicketDayPrefix(day string) string {
	return ticketPrefix + day + "-"
}

func FormatTicketID(day string, seq int) string {
	return fmt.Sprintf("%s%04d", TicketDayPrefix(day), seq)
}

// ParseTicketID splits a ticket id into its day key and sequence number.
func ParseTicketID(id string) (day string, seq int, err error) {
	m := ticketIDPattern.FindStringSubmatch(id)
	if m == nil {
		return "", 0, fmt.Errorf("malformed ticket id %q", id)
	}
	if _, err := time.Parse(ticketDayLayout, m[1]); err != nil {
		return "", 0, fmt.Errorf("malformed ticket date in %q", id)
	}
	seq, _ = strconv.Atoi(m[2])
	if seq == 0 {
		return "", 0, fmt.Errorf("ticket sequence must start at 0001 in %q", id)
	}
	return m[1], seq, nil
}

func ValidTicketID(id string) bool {
	_, _, err := ParseTicketID(id)
	return err == nil
}

// TicketGenerator produces T-YYYYMMDD-NNNN ids scoped to the generator's local day.
type TicketGenerator struct {
	loc   *time.Location
	clock func() time.Time
}

func NewTicketGenerator(loc *time.Location) *TicketGenerator {
	if loc == nil {
		loc = time.UTC
	}
	return &TicketGenerator{loc: loc, clock: time.Now}
}

// Today returns the day key the generator is currently issuing ids for.
func (g *TicketGenerator) Today() string {
	return g.clock().In(g.loc).Format(ticketDayLayout)
}

// Next allocates a new ticket id inside an active transaction.
func (g *TicketGenerator) Next(ctx context.Context, src SequenceSource) (string, error) {
	day := g.Today()
	for attempt := 0; attempt < maxTicketAttempts; attempt++ {
		seq, err := src.NextTicketSeq(ctx, day)
		if err != nil {
			return "", err
		}
		if seq > maxTicketSeq {
			return "", ErrTicketSequenceExhausted
		}
		id := FormatTicketID(day, seq)
		taken, err := src.TicketExists(ctx, id)
		if err != nil {
			return "", err
		}
		if !taken {
			return id, nil
		}
	}
	return "", fmt.Errorf("leads: no free ticket id for %s after %d attempts", day, maxTicketAttempts)
}

// Peek returns the id the next creation is expected to receive. It is a
// pre-fill hint only; a concurrent creation may take it first.
func (g *TicketGenerator) Peek(ctx context.Context, src SequenceReader) (string, error) {
	day := g.Today()
	seq, err := src.PeekTicketSeq(ctx, day)
	if err != nil {
		return "", err
	}
	if seq > maxTicketSeq {
		return "", ErrTicketSequenceExhausted
	}
	return FormatTicketID(day, seq), nil
}
