package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sales-pipeline/internal/leads"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return rdb, mr
}

func TestService_PublishRequiresTicketAndType(t *testing.T) {
	svc := NewService(NewMemoryPublisher(), nil)

	err := svc.Publish(context.Background(), Event{Type: EventTypeAssigned})
	assert.ErrorIs(t, err, ErrInvalidEvent)

	err = svc.Publish(context.Background(), Event{TicketID: "T-20250101-0001"})
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestService_PublishFillsIDAndTime(t *testing.T) {
	pub := NewMemoryPublisher()
	svc := NewService(pub, nil)
	svc.clock = func() time.Time { return time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC) }

	require.NoError(t, svc.Publish(context.Background(), Event{Type: EventTypeClosed, TicketID: "T-20250101-0001"}))

	evs := pub.Events()
	require.Len(t, evs, 1)
	assert.NotEmpty(t, evs[0].ID)
	assert.Equal(t, 2025, evs[0].OccurredAt.Year())
}

func TestRedisPublisher_AppendsToStream(t *testing.T) {
	rdb, _ := setupTestRedis(t)
	pub := NewRedisPublisher(rdb, "leads:events", 1000)
	svc := NewService(pub, nil)

	ctx := context.Background()
	require.NoError(t, svc.Publish(ctx, Event{
		Type:     EventTypeAssigned,
		TicketID: "T-20250101-0001",
		Assignee: "tara",
		Actor:    "sam",
	}))

	msgs, err := rdb.XRange(ctx, "leads:events", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "lead.assigned", msgs[0].Values["type"])
	assert.Equal(t, "T-20250101-0001", msgs[0].Values["ticket_id"])
	assert.Equal(t, "tara", msgs[0].Values["assignee"])
	assert.Contains(t, msgs[0].Values["payload"], `"actor":"sam"`)
}

func TestService_NotifyRunsInBackground(t *testing.T) {
	pub := NewMemoryPublisher()
	svc := NewService(pub, nil)

	ctx, cancel := context.WithCancel(context.Background())
	svc.Notify(ctx, leads.Notification{
		Kind:      leads.NotifyAssigned,
		TicketID:  "T-20250101-0001",
		Assignee:  "tara",
		FromStage: leads.StageApproval,
		ToStage:   leads.StageTelecall,
		Actor:     "sam",
	})
	// The request finishing must not cancel delivery.
	cancel()
	svc.Wait()

	evs := pub.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, EventTypeAssigned, evs[0].Type)
	assert.Equal(t, "APPROVAL", evs[0].FromStage)
	assert.Equal(t, "TELECALL", evs[0].ToStage)
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, Event) error { return errors.New("redis down") }

func TestService_NotifySwallowsFailures(t *testing.T) {
	var (
		mu      sync.Mutex
		dropped []EventType
	)
	svc := NewService(failingPublisher{}, nil, WithFailureHook(func(et EventType) {
		mu.Lock()
		defer mu.Unlock()
		dropped = append(dropped, et)
	}))

	svc.Notify(context.Background(), leads.Notification{Kind: leads.NotifyClosed, TicketID: "T-20250101-0001"})
	svc.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []EventType{EventTypeClosed}, dropped)
}

func TestRedisPublisher_ServerDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	err = NewRedisPublisher(rdb, "leads:events", 0).Publish(context.Background(), Event{Type: EventTypeClosed, TicketID: "T-1"})
	assert.Error(t, err)
}
