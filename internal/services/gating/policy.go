// Package gating implements the rules deciding whether an investor may
// commit a given amount to a given deal. Evaluate is a pure function over
// the investor's gating state and the deal aggregate; it never touches
// storage, which keeps it independently testable.
package gating

import (
	"strings"

	"dealflow/internal/errors"
	"dealflow/internal/models"

	"github.com/shopspring/decimal"
)

// KYCThreshold is the minimum-check size at or above which an approved
// KYC review is required before committing.
var KYCThreshold = decimal.NewFromInt(100_000)

// Decision is the outcome of a gating evaluation.
type Decision struct {
	Allowed bool
	Reason  *errors.DomainError
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason *errors.DomainError) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// Evaluate applies the gating rules in order; the first failure wins.
func Evaluate(investor *models.User, deal *models.Deal, amount decimal.Decimal) Decision {
	if deal.Status != models.DealActive {
		return deny(errors.ErrDealNotActive)
	}

	if investor.Role != models.RoleInvestor && investor.Role != models.RoleAdmin {
		return deny(errors.ErrRoleRequired)
	}

	if !investor.IsVerified() {
		return deny(errors.ErrVerificationRequired)
	}

	minCheck, ok := ParseCheckSize(deal.MinCheck)
	if ok && minCheck.GreaterThanOrEqual(KYCThreshold) && investor.KYCStatus != models.KYCApproved {
		return deny(errors.ErrKYCRequired)
	}

	if ok && amount.LessThan(minCheck) {
		return deny(errors.ErrAmountBelowMinimum)
	}

	return allow()
}

// ParseCheckSize parses a human check-size string such as "$100k",
// "50,000" or "1.5m" into a numeric threshold. Unparsable values return
// ok=false, which callers treat as "no constraint": a permissive default,
// so a malformed deal listing never blocks commitments.
func ParseCheckSize(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return decimal.Zero, false
	}

	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	multiplier := decimal.NewFromInt(1)
	switch {
	case strings.HasSuffix(s, "k"):
		multiplier = decimal.NewFromInt(1_000)
		s = strings.TrimSuffix(s, "k")
	case strings.HasSuffix(s, "m"):
		multiplier = decimal.NewFromInt(1_000_000)
		s = strings.TrimSuffix(s, "m")
	}
	s = strings.TrimSpace(s)

	value, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	if value.IsNegative() {
		return decimal.Zero, false
	}

	return value.Mul(multiplier), true
}
