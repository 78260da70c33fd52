package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PaymentStatus is the processor-side state of an escrow transaction.
type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "pending"
	PaymentProcessing        PaymentStatus = "processing"
	PaymentSucceeded         PaymentStatus = "succeeded"
	PaymentFailed            PaymentStatus = "failed"
	PaymentRefunded          PaymentStatus = "refunded"
	PaymentPartiallyRefunded PaymentStatus = "partially_refunded"
)

// Escrow transaction statuses
const (
	EscrowPending   = "pending"
	EscrowCompleted = "completed"
	EscrowFailed    = "failed"
)

// EscrowTransaction records a single payment-processor attempt to fund a
// commitment. ExternalPaymentReference is the processor's payment-intent
// id and the idempotency key for webhook reconciliation: replays for the
// same reference converge on one row.
type EscrowTransaction struct {
	gorm.Model
	CommitmentID             uint            `gorm:"not null;index"`
	Amount                   decimal.Decimal `gorm:"type:decimal(15,2);not null"`
	Status                   string          `gorm:"type:varchar(20);default:'pending'"`
	PaymentStatus            PaymentStatus   `gorm:"type:varchar(30);default:'pending'"`
	ExternalPaymentReference string          `gorm:"uniqueIndex;not null"`
	PaidAt                   *time.Time
	RefundedAt               *time.Time
	RefundAmount             decimal.Decimal `gorm:"type:decimal(15,2);default:0"`
}
