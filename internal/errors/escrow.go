package errors

var (
	ErrInvalidSignature = &DomainError{
		Code:    "INVALID_SIGNATURE",
		Message: "webhook payload failed signature verification",
		Kind:    KindSignature,
	}
	ErrDuplicateFundingAttempt = &DomainError{
		Code:    "DUPLICATE_FUNDING_ATTEMPT",
		Message: "a funding attempt with this payment reference already exists",
		Kind:    KindConflict,
	}
)
