package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"sales-pipeline/internal/leads"

	"github.com/google/uuid"
)

var ErrInvalidEvent = errors.New("notify: invalid event")

const defaultTimeout = 3 * time.Second

// Service publishes lead notifications in the background.
//
// IMPORTANT:
// - Notify never blocks the request path and never returns an error.
// - Failures are logged and counted, then dropped.
type Service struct {
	pub     Publisher
	timeout time.Duration
	log     *slog.Logger
	clock   func() time.Time
	// onFailure is called for every dropped event (metrics hook).
	onFailure func(EventType)

	wg sync.WaitGroup
}

type Option func(*Service)

func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithFailureHook(fn func(EventType)) Option {
	return func(s *Service) { s.onFailure = fn }
}

func NewService(pub Publisher, log *slog.Logger, opts ...Option) *Service {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{pub: pub, timeout: defaultTimeout, log: log, clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Publish validates and sends one event synchronously.
func (s *Service) Publish(ctx context.Context, e Event) error {
	if s.pub == nil {
		return errors.New("notify: publisher not configured")
	}
	if e.TicketID == "" || e.Type == "" {
		return ErrInvalidEvent
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = s.clock().UTC()
	}
	return s.pub.Publish(ctx, e)
}

// Notify implements leads.Notifier. The event is sent on a background
// goroutine detached from the request context.
func (s *Service) Notify(ctx context.Context, n leads.Notification) {
	e := FromNotification(n)
	bg := context.WithoutCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		pubCtx, cancel := context.WithTimeout(bg, s.timeout)
		defer cancel()

		if err := s.Publish(pubCtx, e); err != nil {
			s.log.Warn("lead notification dropped",
				"type", e.Type,
				"ticket_id", e.TicketID,
				"assignee", e.Assignee,
				"err", err,
			)
			if s.onFailure != nil {
				s.onFailure(e.Type)
			}
		}
	}()
}

// Wait blocks until in-flight notifications finished. Used on shutdown.
func (s *Service) Wait() { s.wg.Wait() }

func FromNotification(n leads.Notification) Event {
	return Event{
		Type:         EventType(n.Kind),
		TicketID:     n.TicketID,
		Assignee:     n.Assignee,
		FromStage:    string(n.FromStage),
		ToStage:      string(n.ToStage),
		ClientStatus: string(n.ClientStatus),
		Actor:        n.Actor,
		OccurredAt:   n.OccurredAt,
	}
}
