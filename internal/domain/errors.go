package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNoQuote      = errors.New("no quote")
	ErrWSDisconnect = errors.New("websocket disconnected")
	ErrLockHeld     = errors.New("lock already held")
	ErrLockLost     = errors.New("lock lost")
)
