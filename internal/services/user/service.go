package user

import (
	"context"
	"errors"
	"fmt"

	"dealflow/internal/models"
	"dealflow/internal/repositories"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrEmailTaken   = errors.New("email already registered")
	ErrInvalidInput = errors.New("invalid registration input")
	ErrInvalidRole  = errors.New("invalid role")
)

type RegisterInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

type Service interface {
	Register(ctx context.Context, input RegisterInput) (*models.User, error)
	GetProfile(ctx context.Context, userID uint) (*models.User, error)
	SubmitKYC(ctx context.Context, userID uint, documentID, scanURL string) (*models.KYCVerification, error)
	GetKYC(ctx context.Context, userID uint) (*models.KYCVerification, error)
	ReviewKYC(ctx context.Context, userID, reviewerID uint, approve bool) error
	SetVerificationStatus(ctx context.Context, userID uint, status string) error
}

type service struct {
	users repositories.UserRepository
	kyc   repositories.KYCRepository
}

func NewService(users repositories.UserRepository, kyc repositories.KYCRepository) Service {
	return &service{users: users, kyc: kyc}
}

func (s *service) Register(ctx context.Context, input RegisterInput) (*models.User, error) {
	if input.Email == "" || input.Name == "" || len(input.Password) < 8 {
		return nil, ErrInvalidInput
	}

	role := input.Role
	if role == "" {
		role = models.RoleInvestor
	}
	if role != models.RoleInvestor && role != models.RoleOperator {
		return nil, ErrInvalidRole
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Email:              input.Email,
		Password:           string(hashedPassword),
		Name:               input.Name,
		Role:               role,
		VerificationStatus: models.VerificationPending,
		KYCStatus:          models.KYCNotStarted,
	}

	if err := s.users.Create(user); err != nil {
		if err == repositories.ErrEmailTaken {
			return nil, ErrEmailTaken
		}
		return nil, err
	}

	return user, nil
}

func (s *service) GetProfile(ctx context.Context, userID uint) (*models.User, error) {
	return s.users.GetByID(userID)
}

func (s *service) SubmitKYC(ctx context.Context, userID uint, documentID, scanURL string) (*models.KYCVerification, error) {
	kyc := &models.KYCVerification{
		UserID:     userID,
		Status:     models.KYCPending,
		DocumentID: documentID,
		ScanURL:    scanURL,
	}
	if err := s.kyc.Create(ctx, kyc); err != nil {
		return nil, err
	}
	if err := s.users.UpdateKYCStatus(userID, models.KYCPending); err != nil {
		return nil, err
	}
	return kyc, nil
}

func (s *service) GetKYC(ctx context.Context, userID uint) (*models.KYCVerification, error) {
	return s.kyc.GetLatestByUserID(ctx, userID)
}

// ReviewKYC records an admin decision and mirrors it on the user's gating
// state, which the commitment policy reads.
func (s *service) ReviewKYC(ctx context.Context, userID, reviewerID uint, approve bool) error {
	status := models.KYCRejected
	if approve {
		status = models.KYCApproved
	}

	kyc, err := s.kyc.GetLatestByUserID(ctx, userID)
	if err != nil {
		return err
	}

	kyc.Status = status
	kyc.ReviewedBy = &reviewerID
	kyc.Decision = status
	if err := s.kyc.Save(ctx, kyc); err != nil {
		return err
	}

	return s.users.UpdateKYCStatus(userID, status)
}

func (s *service) SetVerificationStatus(ctx context.Context, userID uint, status string) error {
	switch status {
	case models.VerificationPending, models.VerificationVerified, models.VerificationRejected:
	default:
		return fmt.Errorf("invalid verification status %q", status)
	}
	return s.users.UpdateVerificationStatus(userID, status)
}
