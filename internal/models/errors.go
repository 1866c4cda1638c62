package models

import "errors"

// Error taxonomy shared by all components. Business-rule failures are
// returned as wrapped sentinel errors so callers can branch with errors.Is
// instead of string matching.
var (
	ErrValidation             = errors.New("validation error")
	ErrDuplicateOffer         = errors.New("duplicate offer id")
	ErrUnknownTransaction     = errors.New("unknown transaction")
	ErrUnknownOrder           = errors.New("unknown order")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrSignatureMismatch      = errors.New("signature mismatch")
	ErrMerchantMismatch       = errors.New("merchant mismatch")
	ErrAmountOutOfRange       = errors.New("amount out of range")
	ErrGatewayTimeout         = errors.New("gateway timeout")
	ErrLocked                 = errors.New("transaction is already being processed")
)
