package models

import "errors"

// Domain error taxonomy. Race-loss outcomes (ErrAlreadyClaimed,
// ErrTokenAlreadySpent) are terminal for the attempt that lost; callers
// must re-query fresh state rather than retry. ErrTransient is the only
// retryable class.
var (
	ErrValidation        = errors.New("validation failed")
	ErrAlreadyClaimed    = errors.New("listing already claimed")
	ErrExpired           = errors.New("listing expired")
	ErrWrongState        = errors.New("operation invalid for current state")
	ErrInvalidToken      = errors.New("invalid verification token")
	ErrTokenAlreadySpent = errors.New("verification token already spent")
	ErrConflict          = errors.New("conflicting live claim")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrTransient         = errors.New("transient failure")
)
