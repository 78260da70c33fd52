package repositories

import (
	"context"
	"errors"
	"log"

	"dealflow/internal/models"
	"dealflow/internal/repositories/cache"

	"gorm.io/gorm"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrEmailTaken        = errors.New("email already taken")
	ErrDatabaseOperation = errors.New("database operation failed")
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	Update(user *models.User) error
	IncrementTokenVersion(userID uint) error
	UpdatePassword(userID uint, hashedPassword string) error
	UpdateVerificationStatus(userID uint, status string) error
	UpdateKYCStatus(userID uint, status string) error
	List(offset, limit int) ([]*models.User, int64, error)
}

type userRepository struct {
	db    *gorm.DB
	cache *cache.CacheService
}

// NewUserRepository creates a new instance of UserRepository
func NewUserRepository(db *gorm.DB, cache *cache.CacheService) UserRepository {
	return &userRepository{
		db:    db,
		cache: cache,
	}
}

func (r *userRepository) Create(user *models.User) error {
	if err := r.db.Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrEmailTaken
		}
		return ErrDatabaseOperation
	}
	return nil
}

func (r *userRepository) GetByID(id uint) (*models.User, error) {
	if r.cache != nil {
		key := r.cache.GenerateKey("user", "id", id)
		if user, err := r.cache.GetUser(context.Background(), key); err == nil {
			return user, nil
		}
	}

	var user models.User
	if err := r.db.First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	if r.cache != nil {
		if err := r.cache.CacheUser(context.Background(), &user); err != nil {
			log.Printf("Failed to cache user %d: %v", user.ID, err)
		}
	}

	return &user, nil
}

func (r *userRepository) GetByEmail(email string) (*models.User, error) {
	var user models.User
	if err := r.db.Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, ErrDatabaseOperation
	}
	return &user, nil
}

func (r *userRepository) Update(user *models.User) error {
	if err := r.db.Save(user).Error; err != nil {
		return ErrDatabaseOperation
	}
	r.invalidate(user.ID)
	return nil
}

func (r *userRepository) IncrementTokenVersion(userID uint) error {
	if err := r.db.Model(&models.User{}).Where("id = ?", userID).
		UpdateColumn("token_version", gorm.Expr("token_version + 1")).Error; err != nil {
		return err
	}
	r.invalidate(userID)
	return nil
}

func (r *userRepository) UpdatePassword(userID uint, hashedPassword string) error {
	return r.updateColumn(userID, "password", hashedPassword)
}

func (r *userRepository) UpdateVerificationStatus(userID uint, status string) error {
	return r.updateColumn(userID, "verification_status", status)
}

func (r *userRepository) UpdateKYCStatus(userID uint, status string) error {
	return r.updateColumn(userID, "kyc_status", status)
}

func (r *userRepository) List(offset, limit int) ([]*models.User, int64, error) {
	var users []*models.User
	var total int64

	if err := r.db.Model(&models.User{}).Count(&total).Error; err != nil {
		return nil, 0, ErrDatabaseOperation
	}

	if err := r.db.Offset(offset).Limit(limit).Order("id").Find(&users).Error; err != nil {
		return nil, 0, ErrDatabaseOperation
	}

	return users, total, nil
}

func (r *userRepository) updateColumn(userID uint, column string, value interface{}) error {
	result := r.db.Model(&models.User{}).
		Where("id = ?", userID).
		Update(column, value)
	if result.Error != nil {
		return ErrDatabaseOperation
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	r.invalidate(userID)
	return nil
}

func (r *userRepository) invalidate(userID uint) {
	if r.cache == nil {
		return
	}
	if err := r.cache.InvalidateUser(context.Background(), userID); err != nil {
		log.Printf("Failed to invalidate user cache %d: %v", userID, err)
	}
}
