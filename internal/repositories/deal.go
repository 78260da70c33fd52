package repositories

import (
	"context"
	"errors"
	"log"

	"dealflow/internal/models"
	"dealflow/internal/repositories/cache"

	"gorm.io/gorm"
)

var ErrDealNotFound = errors.New("deal not found")

// DealReader is the read-only view of the deal aggregate used by the
// commitment ledger and the gating policy.
type DealReader interface {
	GetByID(ctx context.Context, id uint) (*models.Deal, error)
}

// DealRepository owns deal persistence.
type DealRepository interface {
	DealReader
	Create(ctx context.Context, deal *models.Deal) error
	Update(ctx context.Context, deal *models.Deal) error
	List(ctx context.Context, offset, limit int) ([]models.Deal, int64, error)
	ListByOperator(ctx context.Context, operatorID uint, offset, limit int) ([]models.Deal, int64, error)
	RecalculateTotalCommitted(tx *gorm.DB, dealID uint) error
	InvalidateCache(ctx context.Context, dealID uint)
}

type dealRepository struct {
	db    *gorm.DB
	cache *cache.CacheService
}

func NewDealRepository(db *gorm.DB, cache *cache.CacheService) DealRepository {
	return &dealRepository{db: db, cache: cache}
}

func (r *dealRepository) Create(ctx context.Context, deal *models.Deal) error {
	return r.db.WithContext(ctx).Create(deal).Error
}

func (r *dealRepository) GetByID(ctx context.Context, id uint) (*models.Deal, error) {
	if r.cache != nil {
		if deal, err := r.cache.GetDeal(ctx, id); err == nil {
			return deal, nil
		}
	}

	var deal models.Deal
	if err := r.db.WithContext(ctx).First(&deal, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDealNotFound
		}
		return nil, err
	}

	if r.cache != nil {
		if err := r.cache.CacheDeal(ctx, &deal); err != nil {
			log.Printf("Failed to cache deal %d: %v", deal.ID, err)
		}
	}

	return &deal, nil
}

func (r *dealRepository) Update(ctx context.Context, deal *models.Deal) error {
	if err := r.db.WithContext(ctx).Save(deal).Error; err != nil {
		return err
	}
	r.InvalidateCache(ctx, deal.ID)
	return nil
}

func (r *dealRepository) List(ctx context.Context, offset, limit int) ([]models.Deal, int64, error) {
	var deals []models.Deal
	var total int64

	db := r.db.WithContext(ctx).Model(&models.Deal{})
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := db.Offset(offset).Limit(limit).Order("id desc").Find(&deals).Error; err != nil {
		return nil, 0, err
	}
	return deals, total, nil
}

func (r *dealRepository) ListByOperator(ctx context.Context, operatorID uint, offset, limit int) ([]models.Deal, int64, error) {
	var deals []models.Deal
	var total int64

	db := r.db.WithContext(ctx).Model(&models.Deal{}).Where("operator_id = ?", operatorID)
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := db.Offset(offset).Limit(limit).Order("id desc").Find(&deals).Error; err != nil {
		return nil, 0, err
	}
	return deals, total, nil
}

// RecalculateTotalCommitted recomputes the derived aggregate from the
// commitment rows inside the caller's transaction, so the stored total
// can never drift from the ledger.
func (r *dealRepository) RecalculateTotalCommitted(tx *gorm.DB, dealID uint) error {
	return tx.Exec(`UPDATE deals SET total_committed = (
			SELECT COALESCE(SUM(amount), 0) FROM commitments
			WHERE deal_id = ? AND status <> 'cancelled' AND deleted_at IS NULL
		) WHERE id = ?`, dealID, dealID).Error
}

func (r *dealRepository) InvalidateCache(ctx context.Context, dealID uint) {
	if r.cache == nil {
		return
	}
	if err := r.cache.InvalidateDeal(ctx, dealID); err != nil {
		log.Printf("Failed to invalidate deal cache %d: %v", dealID, err)
	}
}
