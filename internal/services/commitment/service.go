// Package commitment implements the ledger owning the Commitment entity
// and its state machine. All status changes, whether investor, admin or
// system initiated, go through this package so the transition table is
// enforced in one place.
package commitment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dealflow/internal/errors"
	"dealflow/internal/models"
	"dealflow/internal/repositories"
	"dealflow/internal/services/gating"
	"dealflow/internal/services/notification"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Service interface {
	Create(ctx context.Context, dealID, investorID uint, amount decimal.Decimal, notes string) (*models.Commitment, error)
	Get(ctx context.Context, id uint) (*models.Commitment, error)
	InvestorCancel(ctx context.Context, id, actorID uint) (*models.Commitment, error)
	AdminTransition(ctx context.Context, id uint, action Action, notes string) (*models.Commitment, error)
	List(ctx context.Context, scope ListScope) ([]models.Commitment, int64, error)
}

type service struct {
	db       *gorm.DB
	repo     repositories.CommitmentRepository
	deals    repositories.DealRepository
	users    repositories.UserRepository
	notifier notification.Dispatcher
}

func NewService(db *gorm.DB, repo repositories.CommitmentRepository, deals repositories.DealRepository, users repositories.UserRepository, notifier notification.Dispatcher) Service {
	if db == nil {
		panic("db is required")
	}
	if repo == nil || deals == nil || users == nil {
		panic("repositories are required")
	}

	return &service{
		db:       db,
		repo:     repo,
		deals:    deals,
		users:    users,
		notifier: notifier,
	}
}

// Create runs the gating policy and inserts a new committed record. The
// duplicate-active check here is a fast path; the partial unique index
// closes the race when two creates for the same (deal, investor) arrive
// concurrently, and the resulting unique violation surfaces as the same
// conflict error.
func (s *service) Create(ctx context.Context, dealID, investorID uint, amount decimal.Decimal, notes string) (*models.Commitment, error) {
	if !amount.IsPositive() {
		return nil, errors.ErrInvalidAmount
	}

	deal, err := s.deals.GetByID(ctx, dealID)
	if err != nil {
		if err == repositories.ErrDealNotFound {
			return nil, errors.ErrDealNotFound
		}
		return nil, fmt.Errorf("failed to load deal: %w", err)
	}

	investor, err := s.users.GetByID(investorID)
	if err != nil {
		return nil, fmt.Errorf("failed to load investor: %w", err)
	}

	if decision := gating.Evaluate(investor, deal, amount); !decision.Allowed {
		return nil, decision.Reason
	}

	if _, err := s.repo.FindActive(ctx, dealID, investorID); err == nil {
		return nil, errors.ErrDuplicateCommitment
	} else if err != repositories.ErrCommitmentNotFound {
		return nil, fmt.Errorf("failed to check active commitments: %w", err)
	}

	c := &models.Commitment{
		DealID:         dealID,
		InvestorID:     investorID,
		Amount:         amount,
		Status:         models.CommitmentCommitted,
		FundingStatus:  models.FundingUnfunded,
		CommitmentDate: time.Now(),
		Notes:          notes,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, c); err != nil {
			if err == repositories.ErrActiveCommitment {
				return errors.ErrDuplicateCommitment
			}
			return err
		}
		return s.deals.RecalculateTotalCommitted(tx, dealID)
	})
	if err != nil {
		return nil, err
	}

	s.deals.InvalidateCache(ctx, dealID)
	s.notify(notification.KindCommitmentCreated, c)

	return c, nil
}

func (s *service) Get(ctx context.Context, id uint) (*models.Commitment, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if err == repositories.ErrCommitmentNotFound {
			return nil, errors.ErrCommitmentNotFound
		}
		return nil, err
	}
	return c, nil
}

// InvestorCancel lets an investor withdraw their own commitment, but only
// while it is still in the committed state.
func (s *service) InvestorCancel(ctx context.Context, id, actorID uint) (*models.Commitment, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if c.InvestorID != actorID {
		return nil, errors.ErrNotCommitmentOwner
	}
	if c.Status != models.CommitmentCommitted {
		return nil, transitionError(c.Status, models.CommitmentCancelled)
	}

	if err := s.applyTransition(ctx, c, models.CommitmentCancelled); err != nil {
		return nil, err
	}

	s.notify(notification.KindCommitmentCancelled, c)
	return c, nil
}

// AdminTransition applies an admin action. Flag only marks the notes; the
// other actions move the state machine.
func (s *service) AdminTransition(ctx context.Context, id uint, action Action, notes string) (*models.Commitment, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	switch action {
	case ActionFund:
		if err := s.fund(ctx, c); err != nil {
			return nil, err
		}
		s.notify(notification.KindCommitmentFunded, c)

	case ActionComplete:
		if c.Status != models.CommitmentFunded {
			return nil, transitionError(c.Status, models.CommitmentCompleted)
		}
		if err := s.applyTransition(ctx, c, models.CommitmentCompleted); err != nil {
			return nil, err
		}

	case ActionCancel:
		if err := s.applyTransition(ctx, c, models.CommitmentCancelled); err != nil {
			return nil, err
		}
		s.notify(notification.KindCommitmentCancelled, c)

	case ActionFlag:
		if !strings.HasPrefix(c.Notes, models.FlaggedMarker) {
			c.Notes = strings.TrimSpace(models.FlaggedMarker + " " + c.Notes)
		}
		if notes != "" {
			c.Notes = c.Notes + "\n" + notes
		}
		if err := s.repo.Save(ctx, c); err != nil {
			return nil, fmt.Errorf("failed to flag commitment: %w", err)
		}
		return c, nil

	default:
		return nil, errors.ErrInvalidTransition.WithMessage("unknown action %q", action)
	}

	if notes != "" {
		c.Notes = strings.TrimSpace(c.Notes + "\n" + notes)
		if err := s.repo.Save(ctx, c); err != nil {
			return nil, fmt.Errorf("failed to save notes: %w", err)
		}
	}

	return c, nil
}

func (s *service) List(ctx context.Context, scope ListScope) ([]models.Commitment, int64, error) {
	switch scope.Role {
	case models.RoleAdmin:
		if scope.Global {
			return s.repo.ListAll(ctx, scope.Offset, scope.Limit)
		}
		return s.repo.ListByInvestor(ctx, scope.UserID, scope.Offset, scope.Limit)
	case models.RoleOperator:
		return s.repo.ListByOperator(ctx, scope.UserID, scope.Offset, scope.Limit)
	default:
		return s.repo.ListByInvestor(ctx, scope.UserID, scope.Offset, scope.Limit)
	}
}

func (s *service) fund(ctx context.Context, c *models.Commitment) error {
	if !CanTransition(c.Status, models.CommitmentFunded) {
		return transitionError(c.Status, models.CommitmentFunded)
	}

	now := time.Now()
	c.Status = models.CommitmentFunded
	c.FundedDate = &now

	return s.persist(ctx, c)
}

// applyTransition validates the move against the table and persists the
// commitment together with the recomputed deal aggregate.
func (s *service) applyTransition(ctx context.Context, c *models.Commitment, to models.CommitmentStatus) error {
	if !CanTransition(c.Status, to) {
		return transitionError(c.Status, to)
	}

	c.Status = to
	return s.persist(ctx, c)
}

func (s *service) persist(ctx context.Context, c *models.Commitment) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Save(ctx, c); err != nil {
			return err
		}
		return s.deals.RecalculateTotalCommitted(tx, c.DealID)
	})
	if err != nil {
		return fmt.Errorf("failed to persist commitment %d: %w", c.ID, err)
	}

	s.deals.InvalidateCache(ctx, c.DealID)
	return nil
}

func (s *service) notify(kind string, c *models.Commitment) {
	if s.notifier == nil {
		return
	}
	s.notifier.Enqueue(notification.Notification{
		Kind:         kind,
		RecipientID:  c.InvestorID,
		CommitmentID: c.ID,
		Payload: map[string]interface{}{
			"deal_id": c.DealID,
			"amount":  c.Amount.String(),
			"status":  string(c.Status),
		},
	})
}

func transitionError(from, to models.CommitmentStatus) *errors.DomainError {
	return errors.ErrInvalidTransition.WithMessage("cannot transition commitment from %s to %s", from, to)
}
