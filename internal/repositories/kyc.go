package repositories

import (
	"context"
	"errors"

	"dealflow/internal/models"

	"gorm.io/gorm"
)

var ErrKYCNotFound = errors.New("kyc verification not found")

type KYCRepository interface {
	Create(ctx context.Context, kyc *models.KYCVerification) error
	GetLatestByUserID(ctx context.Context, userID uint) (*models.KYCVerification, error)
	Save(ctx context.Context, kyc *models.KYCVerification) error
}

type kycRepository struct {
	db *gorm.DB
}

func NewKYCRepository(db *gorm.DB) KYCRepository {
	return &kycRepository{db: db}
}

func (r *kycRepository) Create(ctx context.Context, kyc *models.KYCVerification) error {
	return r.db.WithContext(ctx).Create(kyc).Error
}

func (r *kycRepository) GetLatestByUserID(ctx context.Context, userID uint) (*models.KYCVerification, error) {
	var kyc models.KYCVerification
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id desc").
		First(&kyc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrKYCNotFound
		}
		return nil, err
	}
	return &kyc, nil
}

func (r *kycRepository) Save(ctx context.Context, kyc *models.KYCVerification) error {
	return r.db.WithContext(ctx).Save(kyc).Error
}
