package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrMarketNotFound      = errors.New("market not found")
	ErrMarketNotOpen       = errors.New("market is not open")
	ErrMarketNotSettled    = errors.New("market is not settled")
	ErrInvalidStatus       = errors.New("market status does not allow this action")
	ErrInvalidAction       = errors.New("invalid action payload")
	ErrInvalidAmount       = errors.New("amount must be greater than zero")
	ErrSlippage            = errors.New("slippage limit exceeded")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientShares  = errors.New("insufficient lp shares")
	ErrBelowMinLiquidity   = errors.New("initial liquidity below minimum")
	ErrLiquidityTooSmall   = errors.New("liquidity contribution too small")
	ErrReserveDrained      = errors.New("withdrawal would empty a reserve")
	ErrEmptyQuestion       = errors.New("question cannot be empty")
	ErrPastDeadline        = errors.New("resolution time must be in the future")
	ErrDeadlineNotReached  = errors.New("resolution time has not passed yet")
	ErrAssertionNotFound   = errors.New("assertion not found")
	ErrUnknownAccount      = errors.New("unknown account")
	ErrUnknownMethod       = errors.New("unknown method")
	ErrRateLimited         = errors.New("rate limited")
	ErrLockHeld            = errors.New("lock already held")
)
