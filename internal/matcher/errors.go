package matcher

import "errors"

var (
	ErrInsufficientBalance = errors.New("wallet balance is insufficient for the transfer")
	ErrWalletLocked        = errors.New("wallet is locked")
	ErrInvalidParam        = errors.New("the param is invalid")
	ErrMarketNotFound      = errors.New("market not found")
)
