package models

import "github.com/golang-jwt/jwt/v5"

// Application permissions
const (
	// Admin permissions
	PermissionReadAdmin  = "admin:read"
	PermissionWriteAdmin = "admin:write"

	// Commitment permissions
	PermissionCommitmentRead  = "commitment:read"
	PermissionCommitmentWrite = "commitment:write"

	// Deal permissions
	PermissionDealRead  = "deal:read"
	PermissionDealWrite = "deal:write"

	// Compliance permissions
	PermissionKYCSubmit = "kyc:submit"
	PermissionKYCReview = "kyc:review"

	// User management permissions
	PermissionChangePassword = "user:change-password"
)

type UserClaims struct {
	jwt.RegisteredClaims
	UserID       uint     `json:"user_id"`
	Email        string   `json:"email"`
	Role         string   `json:"role"`
	Permissions  []string `json:"permissions"`
	TokenVersion int      `json:"token_version"`
}

// HasPermission checks if the claims include a specific permission
func (c *UserClaims) HasPermission(permission string) bool {
	for _, p := range c.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// GetDefaultPermissions returns default permissions based on role
func GetDefaultPermissions(role string) []string {
	switch role {
	case RoleAdmin:
		return []string{
			PermissionCommitmentRead,
			PermissionCommitmentWrite,
			PermissionDealRead,
			PermissionDealWrite,
			PermissionKYCReview,
			PermissionChangePassword,
			PermissionReadAdmin,
			PermissionWriteAdmin,
		}
	case RoleOperator:
		return []string{
			PermissionCommitmentRead,
			PermissionDealRead,
			PermissionDealWrite,
			PermissionChangePassword,
		}
	case RoleInvestor:
		return []string{
			PermissionCommitmentRead,
			PermissionCommitmentWrite,
			PermissionDealRead,
			PermissionKYCSubmit,
			PermissionChangePassword,
		}
	default:
		return []string{}
	}
}
