package repositories

import (
	"context"
	"errors"

	"dealflow/internal/models"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

var (
	ErrCommitmentNotFound = errors.New("commitment not found")
	ErrActiveCommitment   = errors.New("active commitment already exists")
	ErrEscrowNotFound     = errors.New("escrow transaction not found")
	ErrDuplicateEscrowRef = errors.New("escrow payment reference already exists")
)

var activeStatuses = []models.CommitmentStatus{
	models.CommitmentDraft,
	models.CommitmentCommitted,
	models.CommitmentFunded,
}

// CommitmentRepository owns commitment persistence. Create relies on the
// partial unique index over active (deal_id, investor_id) pairs; the
// FindActive fast path cannot close the race between concurrent writers.
type CommitmentRepository interface {
	Create(ctx context.Context, c *models.Commitment) error
	GetByID(ctx context.Context, id uint) (*models.Commitment, error)
	FindActive(ctx context.Context, dealID, investorID uint) (*models.Commitment, error)
	Save(ctx context.Context, c *models.Commitment) error
	ListByInvestor(ctx context.Context, investorID uint, offset, limit int) ([]models.Commitment, int64, error)
	ListByOperator(ctx context.Context, operatorID uint, offset, limit int) ([]models.Commitment, int64, error)
	ListAll(ctx context.Context, offset, limit int) ([]models.Commitment, int64, error)
	WithTx(tx *gorm.DB) CommitmentRepository
}

type commitmentRepository struct {
	db *gorm.DB
}

func NewCommitmentRepository(db *gorm.DB) CommitmentRepository {
	return &commitmentRepository{db: db}
}

func (r *commitmentRepository) WithTx(tx *gorm.DB) CommitmentRepository {
	return &commitmentRepository{db: tx}
}

func (r *commitmentRepository) Create(ctx context.Context, c *models.Commitment) error {
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrActiveCommitment
		}
		return err
	}
	return nil
}

func (r *commitmentRepository) GetByID(ctx context.Context, id uint) (*models.Commitment, error) {
	var c models.Commitment
	if err := r.db.WithContext(ctx).First(&c, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCommitmentNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *commitmentRepository) FindActive(ctx context.Context, dealID, investorID uint) (*models.Commitment, error) {
	var c models.Commitment
	err := r.db.WithContext(ctx).
		Where("deal_id = ? AND investor_id = ? AND status IN ?", dealID, investorID, activeStatuses).
		First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCommitmentNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *commitmentRepository) Save(ctx context.Context, c *models.Commitment) error {
	return r.db.WithContext(ctx).Save(c).Error
}

func (r *commitmentRepository) ListByInvestor(ctx context.Context, investorID uint, offset, limit int) ([]models.Commitment, int64, error) {
	return r.list(ctx, r.db.WithContext(ctx).Model(&models.Commitment{}).
		Where("investor_id = ?", investorID), offset, limit)
}

func (r *commitmentRepository) ListByOperator(ctx context.Context, operatorID uint, offset, limit int) ([]models.Commitment, int64, error) {
	return r.list(ctx, r.db.WithContext(ctx).Model(&models.Commitment{}).
		Where("deal_id IN (?)", r.db.Model(&models.Deal{}).Select("id").Where("operator_id = ?", operatorID)),
		offset, limit)
}

func (r *commitmentRepository) ListAll(ctx context.Context, offset, limit int) ([]models.Commitment, int64, error) {
	return r.list(ctx, r.db.WithContext(ctx).Model(&models.Commitment{}), offset, limit)
}

func (r *commitmentRepository) list(ctx context.Context, q *gorm.DB, offset, limit int) ([]models.Commitment, int64, error) {
	var commitments []models.Commitment
	var total int64

	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := q.Offset(offset).Limit(limit).Order("id desc").Find(&commitments).Error; err != nil {
		return nil, 0, err
	}
	return commitments, total, nil
}

// isUniqueViolation recognizes duplicate-key failures from both the GORM
// error translation layer and raw Postgres errors (class 23505).
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return true
	}
	return false
}
