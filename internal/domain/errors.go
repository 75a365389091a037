package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrRateLimited      = errors.New("rate limited")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrFeedGap          = errors.New("feed gap")
	ErrUnknownCondition = errors.New("unknown condition")
	ErrInvalidStrategy  = errors.New("invalid strategy")
	ErrWSDisconnect     = errors.New("websocket disconnected")
	ErrChannelClosed    = errors.New("channel closed")
	ErrLockHeld         = errors.New("lock held")
)
