// Package escrow reconciles asynchronous payment-processor events against
// the commitment ledger. Delivery is at-least-once and unordered, so every
// handler is a conditional update keyed by the processor's payment
// reference: replays converge on the same terminal state instead of
// duplicating rows or re-sending notifications.
package escrow

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"dealflow/internal/errors"
	"dealflow/internal/models"
	"dealflow/internal/repositories"
	"dealflow/internal/services/commitment"
	"dealflow/internal/services/notification"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/webhook"
	"gorm.io/gorm"
)

// Processor event types handled by the reconciler.
const (
	EventPaymentSucceeded = "payment_intent.succeeded"
	EventPaymentFailed    = "payment_intent.payment_failed"
	EventChargeRefunded   = "charge.refunded"
	EventDisputeCreated   = "charge.dispute.created"
)

type Service interface {
	InitiateFunding(ctx context.Context, commitmentID, actorID uint, isAdmin bool, paymentRef string) (*models.EscrowTransaction, error)
	VerifyAndParse(payload []byte, sigHeader string) (stripe.Event, error)
	HandleEvent(ctx context.Context, event stripe.Event) error
	ListForCommitment(ctx context.Context, commitmentID uint) ([]models.EscrowTransaction, error)
}

type service struct {
	db            *gorm.DB
	escrows       repositories.EscrowRepository
	commitments   repositories.CommitmentRepository
	deals         repositories.DealRepository
	notifier      notification.Dispatcher
	webhookSecret string
}

func NewService(db *gorm.DB, escrows repositories.EscrowRepository, commitments repositories.CommitmentRepository, deals repositories.DealRepository, notifier notification.Dispatcher, webhookSecret string) Service {
	if db == nil {
		panic("db is required")
	}

	return &service{
		db:            db,
		escrows:       escrows,
		commitments:   commitments,
		deals:         deals,
		notifier:      notifier,
		webhookSecret: webhookSecret,
	}
}

// InitiateFunding records a pending funding attempt for a committed
// commitment and marks it pending_payment. The payment reference is the
// processor's payment-intent id when the client already created one, or a
// locally generated reference for admin-driven attempts.
func (s *service) InitiateFunding(ctx context.Context, commitmentID, actorID uint, isAdmin bool, paymentRef string) (*models.EscrowTransaction, error) {
	c, err := s.commitments.GetByID(ctx, commitmentID)
	if err != nil {
		if err == repositories.ErrCommitmentNotFound {
			return nil, errors.ErrCommitmentNotFound
		}
		return nil, err
	}

	if c.InvestorID != actorID && !isAdmin {
		return nil, errors.ErrNotCommitmentOwner
	}
	if c.Status != models.CommitmentCommitted {
		return nil, errors.ErrInvalidTransition.WithMessage("cannot fund a commitment in status %s", c.Status)
	}

	if paymentRef == "" {
		paymentRef = "local_" + uuid.NewString()
	}

	e := &models.EscrowTransaction{
		CommitmentID:             c.ID,
		Amount:                   c.Amount,
		Status:                   models.EscrowPending,
		PaymentStatus:            models.PaymentPending,
		ExternalPaymentReference: paymentRef,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.escrows.WithTx(tx).Create(ctx, e); err != nil {
			if err == repositories.ErrDuplicateEscrowRef {
				return errors.ErrDuplicateFundingAttempt
			}
			return err
		}
		c.FundingStatus = models.FundingPendingPayment
		return s.commitments.WithTx(tx).Save(ctx, c)
	})
	if err != nil {
		return nil, err
	}

	return e, nil
}

// VerifyAndParse authenticates a webhook payload against the shared
// signing secret before any processing happens.
func (s *service) VerifyAndParse(payload []byte, sigHeader string) (stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, sigHeader, s.webhookSecret)
	if err != nil {
		return stripe.Event{}, errors.ErrInvalidSignature
	}
	return event, nil
}

// HandleEvent dispatches a verified processor event. Unrecognized event
// types are acknowledged and ignored.
func (s *service) HandleEvent(ctx context.Context, event stripe.Event) error {
	switch event.Type {
	case EventPaymentSucceeded:
		return s.handlePaymentSucceeded(ctx, event)
	case EventPaymentFailed:
		return s.handlePaymentFailed(ctx, event)
	case EventChargeRefunded:
		return s.handleChargeRefunded(ctx, event)
	case EventDisputeCreated:
		return s.handleDisputeOpened(ctx, event)
	default:
		log.Printf("ignoring webhook event type %s", event.Type)
		return nil
	}
}

func (s *service) ListForCommitment(ctx context.Context, commitmentID uint) ([]models.EscrowTransaction, error) {
	return s.escrows.GetByCommitmentID(ctx, commitmentID)
}

func (s *service) handlePaymentSucceeded(ctx context.Context, event stripe.Event) error {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return fmt.Errorf("malformed payment_intent payload: %w", err)
	}

	var funded *models.Commitment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		escrows := s.escrows.WithTx(tx)
		commitments := s.commitments.WithTx(tx)

		e, err := s.findOrCreateEscrow(ctx, escrows, pi.ID, pi.Metadata, amountFromCents(pi.Amount))
		if err != nil {
			return err
		}

		// Replayed delivery: the row already converged, nothing to do and
		// no second notification.
		if e.PaymentStatus == models.PaymentSucceeded {
			return nil
		}

		now := time.Now()
		e.PaymentStatus = models.PaymentSucceeded
		e.Status = models.EscrowCompleted
		e.PaidAt = &now
		if err := escrows.Save(ctx, e); err != nil {
			return err
		}

		c, err := commitments.GetByID(ctx, e.CommitmentID)
		if err != nil {
			return err
		}

		if c.Status != models.CommitmentFunded {
			if !commitment.CanTransition(c.Status, models.CommitmentFunded) {
				return fmt.Errorf("payment %s succeeded but commitment %d is %s", pi.ID, c.ID, c.Status)
			}
			c.Status = models.CommitmentFunded
			c.FundedDate = &now
		}
		c.FundingStatus = models.FundingFunded
		if err := commitments.Save(ctx, c); err != nil {
			return err
		}
		if err := s.deals.RecalculateTotalCommitted(tx, c.DealID); err != nil {
			return err
		}

		funded = c
		return nil
	})
	if err != nil {
		return err
	}

	if funded != nil {
		s.deals.InvalidateCache(ctx, funded.DealID)
		s.notify(notification.KindCommitmentFunded, funded, pi.ID)
	}
	return nil
}

func (s *service) handlePaymentFailed(ctx context.Context, event stripe.Event) error {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return fmt.Errorf("malformed payment_intent payload: %w", err)
	}

	var failed *models.Commitment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		escrows := s.escrows.WithTx(tx)
		commitments := s.commitments.WithTx(tx)

		e, err := s.findOrCreateEscrow(ctx, escrows, pi.ID, pi.Metadata, amountFromCents(pi.Amount))
		if err != nil {
			return err
		}

		// A failure from another attempt must not regress a payment that
		// already succeeded, and replays of the failure are no-ops.
		if e.PaymentStatus == models.PaymentSucceeded || e.PaymentStatus == models.PaymentFailed {
			return nil
		}

		e.PaymentStatus = models.PaymentFailed
		e.Status = models.EscrowFailed
		if err := escrows.Save(ctx, e); err != nil {
			return err
		}

		c, err := commitments.GetByID(ctx, e.CommitmentID)
		if err != nil {
			return err
		}

		// Retry remains possible: the commitment keeps its status and only
		// drops back to unfunded.
		if c.FundingStatus != models.FundingFunded {
			c.FundingStatus = models.FundingUnfunded
			if err := commitments.Save(ctx, c); err != nil {
				return err
			}
			failed = c
		}
		return nil
	})
	if err != nil {
		return err
	}

	if failed != nil {
		s.notify(notification.KindPaymentFailed, failed, pi.ID)
	}
	return nil
}

func (s *service) handleChargeRefunded(ctx context.Context, event stripe.Event) error {
	var ch stripe.Charge
	if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
		return fmt.Errorf("malformed charge payload: %w", err)
	}

	ref := ch.ID
	if ch.PaymentIntent != nil && ch.PaymentIntent.ID != "" {
		ref = ch.PaymentIntent.ID
	}
	refunded := amountFromCents(ch.AmountRefunded)

	var cancelled *models.Commitment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		escrows := s.escrows.WithTx(tx)
		commitments := s.commitments.WithTx(tx)

		e, err := escrows.GetByReference(ctx, ref)
		if err != nil {
			if err == repositories.ErrEscrowNotFound {
				return fmt.Errorf("refund for unknown payment reference %s", ref)
			}
			return err
		}

		isFull := refunded.GreaterThanOrEqual(e.Amount)

		// Replay of a full refund: already converged.
		if e.PaymentStatus == models.PaymentRefunded {
			return nil
		}

		now := time.Now()
		e.RefundAmount = refunded
		e.RefundedAt = &now

		if !isFull {
			// Partial refund touches only the escrow row; the commitment
			// keeps flowing toward completion.
			e.PaymentStatus = models.PaymentPartiallyRefunded
			return escrows.Save(ctx, e)
		}

		e.PaymentStatus = models.PaymentRefunded
		if err := escrows.Save(ctx, e); err != nil {
			return err
		}

		c, err := commitments.GetByID(ctx, e.CommitmentID)
		if err != nil {
			return err
		}

		c.FundingStatus = models.FundingRefunded
		if c.Status != models.CommitmentCancelled {
			if !commitment.CanTransition(c.Status, models.CommitmentCancelled) {
				return fmt.Errorf("refund for payment %s but commitment %d is %s", ref, c.ID, c.Status)
			}
			c.Status = models.CommitmentCancelled
			cancelled = c
		}
		if err := commitments.Save(ctx, c); err != nil {
			return err
		}
		return s.deals.RecalculateTotalCommitted(tx, c.DealID)
	})
	if err != nil {
		return err
	}

	if cancelled != nil {
		s.deals.InvalidateCache(ctx, cancelled.DealID)
		s.notify(notification.KindCommitmentRefunded, cancelled, ref)
	}
	return nil
}

// handleDisputeOpened never mutates state: disputes always require human
// adjudication. It only raises an operator alert.
func (s *service) handleDisputeOpened(ctx context.Context, event stripe.Event) error {
	var d stripe.Dispute
	if err := json.Unmarshal(event.Data.Raw, &d); err != nil {
		return fmt.Errorf("malformed dispute payload: %w", err)
	}

	ref := ""
	if d.PaymentIntent != nil {
		ref = d.PaymentIntent.ID
	}
	log.Printf("ALERT: dispute %s opened (payment %s, reason %s), manual review required", d.ID, ref, d.Reason)

	if s.notifier != nil {
		s.notifier.Enqueue(notification.Notification{
			Kind: notification.KindDisputeOpened,
			Payload: map[string]interface{}{
				"dispute_id":        d.ID,
				"payment_reference": ref,
				"reason":            string(d.Reason),
			},
		})
	}
	return nil
}

// findOrCreateEscrow resolves the escrow row for a payment reference,
// creating it from the event metadata when the funding attempt was never
// initiated locally. A concurrent insert for the same reference is read
// back instead of treated as a failure.
func (s *service) findOrCreateEscrow(ctx context.Context, escrows repositories.EscrowRepository, ref string, metadata map[string]string, amount decimal.Decimal) (*models.EscrowTransaction, error) {
	e, err := escrows.GetByReference(ctx, ref)
	if err == nil {
		return e, nil
	}
	if err != repositories.ErrEscrowNotFound {
		return nil, err
	}

	commitmentID, err := commitmentIDFromMetadata(metadata)
	if err != nil {
		return nil, fmt.Errorf("payment %s has no escrow row and %w", ref, err)
	}

	e = &models.EscrowTransaction{
		CommitmentID:             commitmentID,
		Amount:                   amount,
		Status:                   models.EscrowPending,
		PaymentStatus:            models.PaymentPending,
		ExternalPaymentReference: ref,
	}
	if err := escrows.Create(ctx, e); err != nil {
		if err == repositories.ErrDuplicateEscrowRef {
			return escrows.GetByReference(ctx, ref)
		}
		return nil, err
	}
	return e, nil
}

func (s *service) notify(kind string, c *models.Commitment, paymentRef string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Enqueue(notification.Notification{
		Kind:         kind,
		RecipientID:  c.InvestorID,
		CommitmentID: c.ID,
		Payload: map[string]interface{}{
			"deal_id":           c.DealID,
			"payment_reference": paymentRef,
			"status":            string(c.Status),
			"funding_status":    string(c.FundingStatus),
		},
	})
}

func commitmentIDFromMetadata(metadata map[string]string) (uint, error) {
	raw, ok := metadata["commitment_id"]
	if !ok {
		return 0, fmt.Errorf("no commitment_id in event metadata")
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid commitment_id %q in event metadata", raw)
	}
	return uint(id), nil
}

// amountFromCents converts the processor's minor-unit amount to the
// decimal representation the ledger stores.
func amountFromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
