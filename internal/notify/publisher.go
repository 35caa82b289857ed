package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Publisher delivers events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// RedisPublisher appends events to a Redis stream. Consumers (mailers, the
// assignee inbox) read it with their own consumer groups.
type RedisPublisher struct {
	rdb    *redis.Client
	stream string
	// maxLen caps the stream length (approximate trim). Zero means unbounded.
	maxLen int64
}

func NewRedisPublisher(rdb *redis.Client, stream string, maxLen int64) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, stream: stream, maxLen: maxLen}
}

func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	if p.rdb == nil {
		return fmt.Errorf("notify: redis client is nil")
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"id":        e.ID,
			"type":      string(e.Type),
			"ticket_id": e.TicketID,
			"assignee":  e.Assignee,
			"payload":   payload,
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	return p.rdb.XAdd(ctx, args).Err()
}

// MemoryPublisher keeps events in memory. Useful for tests and local runs.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

func (p *MemoryPublisher) Publish(ctx context.Context, e Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// LogPublisher writes events to the log instead of a broker. Used when the
// API runs without Redis.
type LogPublisher struct {
	log *slog.Logger
}

func NewLogPublisher(log *slog.Logger) *LogPublisher { return &LogPublisher{log: log} }

func (p *LogPublisher) Publish(ctx context.Context, e Event) error {
	p.log.InfoContext(ctx, "lead notification",
		"type", e.Type,
		"ticket_id", e.TicketID,
		"assignee", e.Assignee,
		"from", e.FromStage,
		"to", e.ToStage,
	)
	return nil
}
