package deal

import (
	"context"
	"errors"

	domain "dealflow/internal/errors"
	"dealflow/internal/models"
	"dealflow/internal/repositories"

	"github.com/shopspring/decimal"
)

var ErrInvalidDeal = errors.New("invalid deal input")

type CreateInput struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	MinCheck    string          `json:"min_check"`
	TargetRaise decimal.Decimal `json:"target_raise"`
	Status      string          `json:"status"`
}

type Service interface {
	Create(ctx context.Context, operatorID uint, input CreateInput) (*models.Deal, error)
	Get(ctx context.Context, id uint) (*models.Deal, error)
	List(ctx context.Context, offset, limit int) ([]models.Deal, int64, error)
	ListByOperator(ctx context.Context, operatorID uint, offset, limit int) ([]models.Deal, int64, error)
	SetStatus(ctx context.Context, id uint, status string) (*models.Deal, error)
}

type service struct {
	repo repositories.DealRepository
}

func NewService(repo repositories.DealRepository) Service {
	return &service{repo: repo}
}

func (s *service) Create(ctx context.Context, operatorID uint, input CreateInput) (*models.Deal, error) {
	if input.Title == "" {
		return nil, ErrInvalidDeal
	}

	status := input.Status
	if status == "" {
		status = models.DealDraft
	}
	switch status {
	case models.DealDraft, models.DealActive, models.DealClosed:
	default:
		return nil, ErrInvalidDeal
	}

	d := &models.Deal{
		Title:       input.Title,
		Description: input.Description,
		MinCheck:    input.MinCheck,
		TargetRaise: input.TargetRaise,
		Status:      status,
		OperatorID:  operatorID,
	}

	if err := s.repo.Create(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *service) Get(ctx context.Context, id uint) (*models.Deal, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if err == repositories.ErrDealNotFound {
			return nil, domain.ErrDealNotFound
		}
		return nil, err
	}
	return d, nil
}

func (s *service) List(ctx context.Context, offset, limit int) ([]models.Deal, int64, error) {
	return s.repo.List(ctx, offset, limit)
}

func (s *service) ListByOperator(ctx context.Context, operatorID uint, offset, limit int) ([]models.Deal, int64, error) {
	return s.repo.ListByOperator(ctx, operatorID, offset, limit)
}

func (s *service) SetStatus(ctx context.Context, id uint, status string) (*models.Deal, error) {
	switch status {
	case models.DealDraft, models.DealActive, models.DealClosed:
	default:
		return nil, ErrInvalidDeal
	}

	d, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	d.Status = status
	if err := s.repo.Update(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}
