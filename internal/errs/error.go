package errs

import (
	"errors"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("not allowed for your role")

	// guard violations
	ErrWrongState      = errors.New("already in that state or not in a state allowing this operation")
	ErrDuplicateLoan   = errors.New("an active loan for this book already exists")
	ErrNoCopies        = errors.New("no available copies")
	ErrBadDuration     = errors.New("requested duration must be between 14 and 30 days")
	ErrNoFine          = errors.New("loan has no outstanding fine")
	ErrDuplicateReview = errors.New("review already exists for this loan")

	// payment reconciliation
	ErrInvoiceMismatch    = errors.New("invoice does not match the stored record")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable, try again")
)
