package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Deal statuses
const (
	DealDraft  = "draft"
	DealActive = "active"
	DealClosed = "closed"
)

// Deal is the aggregate commitments are made against. The commitment
// ledger reads it but does not own its lifecycle.
type Deal struct {
	gorm.Model
	Title          string `gorm:"not null"`
	Description    string
	Status         string          `gorm:"default:'draft';index"`
	MinCheck       string          // human check-size string, e.g. "$100k" or "50,000"
	TargetRaise    decimal.Decimal `gorm:"type:decimal(15,2);default:0"`
	TotalCommitted decimal.Decimal `gorm:"type:decimal(15,2);default:0"`
	OperatorID     uint            `gorm:"not null;index"`
}
