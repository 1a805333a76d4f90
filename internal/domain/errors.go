package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation           = errors.New("validation failed")
	ErrCrossedBook          = fmt.Errorf("%w: crossed book", ErrValidation)
	ErrOutOfOrder           = fmt.Errorf("%w: tick out of timestamp order", ErrValidation)
	ErrInsufficientData     = errors.New("insufficient data")
	ErrLimitBreached        = errors.New("risk limit breached")
	ErrNumericalInstability = errors.New("numerical instability")
	ErrEmptySide            = errors.New("empty book side")
	ErrNotFound             = errors.New("not found")
	ErrLockHeld             = errors.New("lock already held")
	ErrLockLost             = errors.New("lock lost")
	ErrRateLimited          = errors.New("rate limited")
	ErrWSDisconnect         = errors.New("websocket disconnected")
)
