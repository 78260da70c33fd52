package repositories

import (
	"context"
	"errors"

	"dealflow/internal/models"

	"gorm.io/gorm"
)

// EscrowRepository owns escrow transaction persistence. Lookups are keyed
// by the processor's payment reference; reconciliation never creates a
// second row for the same reference.
type EscrowRepository interface {
	Create(ctx context.Context, e *models.EscrowTransaction) error
	GetByReference(ctx context.Context, ref string) (*models.EscrowTransaction, error)
	GetByCommitmentID(ctx context.Context, commitmentID uint) ([]models.EscrowTransaction, error)
	Save(ctx context.Context, e *models.EscrowTransaction) error
	WithTx(tx *gorm.DB) EscrowRepository
}

type escrowRepository struct {
	db *gorm.DB
}

func NewEscrowRepository(db *gorm.DB) EscrowRepository {
	return &escrowRepository{db: db}
}

func (r *escrowRepository) WithTx(tx *gorm.DB) EscrowRepository {
	return &escrowRepository{db: tx}
}

func (r *escrowRepository) Create(ctx context.Context, e *models.EscrowTransaction) error {
	if err := r.db.WithContext(ctx).Create(e).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEscrowRef
		}
		return err
	}
	return nil
}

func (r *escrowRepository) GetByReference(ctx context.Context, ref string) (*models.EscrowTransaction, error) {
	var e models.EscrowTransaction
	err := r.db.WithContext(ctx).
		Where("external_payment_reference = ?", ref).
		First(&e).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEscrowNotFound
		}
		return nil, err
	}
	return &e, nil
}

func (r *escrowRepository) GetByCommitmentID(ctx context.Context, commitmentID uint) ([]models.EscrowTransaction, error) {
	var rows []models.EscrowTransaction
	err := r.db.WithContext(ctx).
		Where("commitment_id = ?", commitmentID).
		Order("id").
		Find(&rows).Error
	return rows, err
}

func (r *escrowRepository) Save(ctx context.Context, e *models.EscrowTransaction) error {
	return r.db.WithContext(ctx).Save(e).Error
}
