package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidOrder  = errors.New("invalid order parameters")
	ErrSigningFailed = errors.New("signing failed")
	ErrWSDisconnect  = errors.New("websocket disconnected")
	ErrLockHeld      = errors.New("lease already held")
	ErrLeaseLost     = errors.New("lease lost")
	ErrLegImbalance  = errors.New("maker leg would exceed taker leg size")
	ErrLedgerStale   = errors.New("authoritative ledger unreachable")
	ErrOrdersPaused  = errors.New("order placement paused")
)
