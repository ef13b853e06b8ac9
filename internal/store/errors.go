package store

import "errors"

var (
	ErrTicketNotFound = errors.New("ticket not found")
	ErrOverloaded     = errors.New("store overloaded")
	ErrWorkerGone     = errors.New("store worker gone")
)
