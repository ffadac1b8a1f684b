package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrTxNotFound        = errors.New("transaction not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrPredictionClosed  = errors.New("prediction not accepting stakes")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrLockHeld          = errors.New("lock already held")
	ErrContextDone       = errors.New("context cancelled")
)
