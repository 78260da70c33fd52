package errors

var (
	ErrDealNotActive = &DomainError{
		Code:    "DEAL_NOT_ACTIVE",
		Message: "deal is not active",
		Kind:    KindValidation,
	}
	ErrRoleRequired = &DomainError{
		Code:    "ROLE_REQUIRED",
		Message: "investor role required",
		Kind:    KindForbidden,
	}
	ErrVerificationRequired = &DomainError{
		Code:    "VERIFICATION_REQUIRED",
		Message: "identity verification required",
		Kind:    KindForbidden,
	}
	ErrKYCRequired = &DomainError{
		Code:    "KYC_REQUIRED",
		Message: "KYC approval required for this deal",
		Kind:    KindForbidden,
	}
	ErrAmountBelowMinimum = &DomainError{
		Code:    "AMOUNT_BELOW_MINIMUM",
		Message: "amount is below the deal minimum check",
		Kind:    KindValidation,
	}
	ErrInvalidAmount = &DomainError{
		Code:    "INVALID_AMOUNT",
		Message: "amount must be positive",
		Kind:    KindValidation,
	}
	ErrDuplicateCommitment = &DomainError{
		Code:    "DUPLICATE_COMMITMENT",
		Message: "an active commitment already exists for this deal",
		Kind:    KindConflict,
	}
	ErrCommitmentNotFound = &DomainError{
		Code:    "COMMITMENT_NOT_FOUND",
		Message: "commitment not found",
		Kind:    KindNotFound,
	}
	ErrDealNotFound = &DomainError{
		Code:    "DEAL_NOT_FOUND",
		Message: "deal not found",
		Kind:    KindNotFound,
	}
	ErrNotCommitmentOwner = &DomainError{
		Code:    "NOT_COMMITMENT_OWNER",
		Message: "commitment belongs to another investor",
		Kind:    KindForbidden,
	}
	ErrInvalidTransition = &DomainError{
		Code:    "INVALID_TRANSITION",
		Message: "commitment status transition not allowed",
		Kind:    KindConflict,
	}
)
