package leads

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeSeq struct {
	next  int
	taken map[string]bool
	err   error
}

func (f *fakeSeq) NextTicketSeq(context.Context, string) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.next++
	return f.next, nil
}

func (f *fakeSeq) TicketExists(_ context.Context, id string) (bool, error) {
	return f.taken[id], nil
}

func (f *fakeSeq) PeekTicketSeq(context.Context, string) (int, error) {
	return f.next + 1, nil
}

func fixedGenerator(at time.Time, loc *time.Location) *TicketGenerator {
	g := NewTicketGenerator(loc)
	g.clock = func() time.Time { return at }
	return g
}

func TestFormatAndParseTicketID(t *testing.T) {
	id := FormatTicketID("20250314", 7)
	if id != "T-20250314-0007" {
		t.Fatalf("unexpected id %q", id)
	}
	day, seq, err := ParseTicketID(id)
	if err != nil || day != "20250314" || seq != 7 {
		t.Fatalf("unexpected parse %q %d %v", day, seq, err)
	}

	for _, bad := range []string{"", "T-20250314-7", "T-20251399-0001", "T-20250314-0000", "X-20250314-0001", "t-20250314-0001"} {
		if ValidTicketID(bad) {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestTicketGenerator_UsesLocalDay(t *testing.T) {
	// 20:00 UTC on the 31st is already the 1st in India.
	at := time.Date(2024, 12, 31, 20, 0, 0, 0, time.UTC)
	g := fixedGenerator(at, ist)

	id, err := g.Next(context.Background(), &fakeSeq{})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if id != "T-20250101-0001" {
		t.Fatalf("expected IST day, got %s", id)
	}
	if utc := fixedGenerator(at, nil).Today(); utc != "20241231" {
		t.Fatalf("expected UTC fallback day, got %s", utc)
	}
}

func TestTicketGenerator_SkipsTakenIDs(t *testing.T) {
	g := fixedGenerator(time.Date(2025, 1, 1, 9, 0, 0, 0, ist), ist)
	src := &fakeSeq{taken: map[string]bool{"T-20250101-0001": true, "T-20250101-0002": true}}

	id, err := g.Next(context.Background(), src)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if id != "T-20250101-0003" {
		t.Fatalf("expected first free id, got %s", id)
	}
}

func TestTicketGenerator_Exhausted(t *testing.T) {
	g := fixedGenerator(time.Date(2025, 1, 1, 9, 0, 0, 0, ist), ist)

	if _, err := g.Next(context.Background(), &fakeSeq{next: maxTicketSeq}); !errors.Is(err, ErrTicketSequenceExhausted) {
		t.Fatalf("expected exhaustion, got %v", err)
	}
	if _, err := g.Peek(context.Background(), &fakeSeq{next: maxTicketSeq}); !errors.Is(err, ErrTicketSequenceExhausted) {
		t.Fatalf("expected exhaustion on peek, got %v", err)
	}
	id, err := g.Next(context.Background(), &fakeSeq{next: maxTicketSeq - 1})
	if err != nil || id != "T-20250101-9999" {
		t.Fatalf("expected last id of the day, got %s %v", id, err)
	}
}

func TestTicketGenerator_PropagatesSourceError(t *testing.T) {
	g := fixedGenerator(time.Date(2025, 1, 1, 9, 0, 0, 0, ist), ist)
	boom := errors.New("boom")
	if _, err := g.Next(context.Background(), &fakeSeq{err: boom}); !errors.Is(err, boom) {
		t.Fatalf("expected source error, got %v", err)
	}
}
