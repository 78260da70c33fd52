// Package notification delivers emails and operator alerts triggered by
// commitment transitions. Dispatch is fire-and-forget: enqueueing never
// blocks or fails the transition that triggered it. Deliveries are retried
// a bounded number of times; what still fails is logged and pushed to a
// Redis dead-letter list for out-of-band replay.
package notification

import (
	"context"
	"log"
	"sync"
	"time"
)

// Kinds of outbound notifications.
const (
	KindCommitmentCreated   = "commitment.created"
	KindCommitmentFunded    = "commitment.funded"
	KindCommitmentCancelled = "commitment.cancelled"
	KindCommitmentRefunded  = "commitment.refunded"
	KindPaymentFailed       = "payment.failed"
	KindDisputeOpened       = "dispute.opened"
)

// Notification is one outbound delivery request.
type Notification struct {
	Kind         string                 `json:"kind"`
	RecipientID  uint                   `json:"recipient_id"`
	CommitmentID uint                   `json:"commitment_id"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
}

// Sender performs the actual delivery (email, push, operator pager).
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// DeadLetterStore receives notifications that exhausted their retries.
type DeadLetterStore interface {
	PushDeadLetter(ctx context.Context, payload interface{}) error
}

// Dispatcher accepts notifications for asynchronous delivery.
type Dispatcher interface {
	Enqueue(n Notification)
}

// LogSender logs deliveries instead of sending them. Used in development
// and as the default when no mail provider is configured.
type LogSender struct{}

func (LogSender) Send(_ context.Context, n Notification) error {
	log.Printf("notify user %d: %s (commitment %d)", n.RecipientID, n.Kind, n.CommitmentID)
	return nil
}

type Service struct {
	sender     Sender
	deadLetter DeadLetterStore
	queue      chan Notification
	retries    int
	backoff    time.Duration

	wg     sync.WaitGroup
	once   sync.Once
	closed chan struct{}
}

// NewService creates a dispatcher with a bounded queue and starts its
// delivery worker. deadLetter may be nil, in which case exhausted
// notifications are only logged.
func NewService(sender Sender, deadLetter DeadLetterStore) *Service {
	s := &Service{
		sender:     sender,
		deadLetter: deadLetter,
		queue:      make(chan Notification, 256),
		retries:    3,
		backoff:    time.Second,
		closed:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Enqueue queues a notification for delivery. If the queue is full the
// notification is dropped to the dead-letter store rather than blocking
// the caller's state transition.
func (s *Service) Enqueue(n Notification) {
	select {
	case s.queue <- n:
	default:
		log.Printf("notification queue full, dead-lettering %s for user %d", n.Kind, n.RecipientID)
		s.toDeadLetter(n)
	}
}

// Close drains the queue and stops the worker.
func (s *Service) Close() {
	s.once.Do(func() {
		close(s.closed)
		close(s.queue)
	})
	s.wg.Wait()
}

func (s *Service) run() {
	defer s.wg.Done()
	for n := range s.queue {
		s.deliver(n)
	}
}

func (s *Service) deliver(n Notification) {
	var err error
	for attempt := 0; attempt <= s.retries; attempt++ {
		if attempt > 0 {
			time.Sleep(s.backoff * time.Duration(attempt))
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = s.sender.Send(ctx, n)
		cancel()
		if err == nil {
			return
		}
	}

	log.Printf("notification %s for user %d failed after %d retries: %v", n.Kind, n.RecipientID, s.retries, err)
	s.toDeadLetter(n)
}

func (s *Service) toDeadLetter(n Notification) {
	if s.deadLetter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.deadLetter.PushDeadLetter(ctx, n); err != nil {
		log.Printf("failed to dead-letter notification %s: %v", n.Kind, err)
	}
}
