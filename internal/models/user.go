package models

import (
	"time"

	"gorm.io/gorm"
)

// User roles
const (
	RoleInvestor = "investor"
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

// Verification statuses
const (
	VerificationPending  = "pending"
	VerificationVerified = "verified"
	VerificationRejected = "rejected"
)

// KYC statuses
const (
	KYCNotStarted = "not_started"
	KYCPending    = "pending"
	KYCApproved   = "approved"
	KYCRejected   = "rejected"
)

type User struct {
	gorm.Model
	Email               string `gorm:"uniqueIndex;not null"`
	Password            string `gorm:"not null"`
	Name                string `gorm:"not null"`
	Role                string `gorm:"default:'investor'"`
	Status              string `gorm:"default:'active'"`
	VerificationStatus  string `gorm:"default:'pending'"`
	KYCStatus           string `gorm:"default:'not_started'"`
	LastLoginAt         time.Time
	LastLoginIP         string
	FailedLoginAttempts int `gorm:"default:0"`
	TokenVersion        int `gorm:"default:1"`
}

// IsVerified reports whether the user has passed identity verification.
func (u *User) IsVerified() bool {
	return u.VerificationStatus == VerificationVerified
}
