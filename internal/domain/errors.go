package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrWSDisconnect  = errors.New("websocket disconnected")
	ErrLockHeld      = errors.New("lock already held")
	ErrInvalidOffer  = errors.New("invalid offer")
	ErrExecution     = errors.New("trade execution failed")
	ErrUnknownEvent  = errors.New("unknown event type")
	ErrShapeMismatch = errors.New("trader and snapshot store counts do not match")
	ErrInvalidProfit = errors.New("invalid profit rule")
	ErrInvalidPolicy = errors.New("invalid policy")
)
