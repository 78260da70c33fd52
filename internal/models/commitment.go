package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CommitmentStatus is the lifecycle state of a commitment.
type CommitmentStatus string

const (
	CommitmentDraft     CommitmentStatus = "draft"
	CommitmentCommitted CommitmentStatus = "committed"
	CommitmentFunded    CommitmentStatus = "funded"
	CommitmentCompleted CommitmentStatus = "completed"
	CommitmentCancelled CommitmentStatus = "cancelled"
)

// FundingStatus tracks the escrow side of a commitment.
type FundingStatus string

const (
	FundingUnfunded       FundingStatus = "unfunded"
	FundingPendingPayment FundingStatus = "pending_payment"
	FundingFunded         FundingStatus = "funded"
	FundingReleased       FundingStatus = "released"
	FundingRefunded       FundingStatus = "refunded"
)

// FlaggedMarker is prepended to notes when an admin flags a commitment.
const FlaggedMarker = "[FLAGGED]"

// Commitment is an investor's pledge of capital to a deal. Cancellation
// is a terminal status, never a delete.
type Commitment struct {
	gorm.Model
	DealID         uint             `gorm:"not null;index:idx_commitments_deal_investor"`
	InvestorID     uint             `gorm:"not null;index:idx_commitments_deal_investor"`
	Amount         decimal.Decimal  `gorm:"type:decimal(15,2);not null"`
	Status         CommitmentStatus `gorm:"type:varchar(20);default:'committed';index"`
	FundingStatus  FundingStatus    `gorm:"type:varchar(20);default:'unfunded'"`
	CommitmentDate time.Time
	FundedDate     *time.Time
	Notes          string
}

// IsActive reports whether the commitment counts against the
// one-active-commitment-per-(deal,investor) invariant.
func (c *Commitment) IsActive() bool {
	switch c.Status {
	case CommitmentDraft, CommitmentCommitted, CommitmentFunded:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed.
func (c *Commitment) IsTerminal() bool {
	return c.Status == CommitmentCompleted || c.Status == CommitmentCancelled
}
