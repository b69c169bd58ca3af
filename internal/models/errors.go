package models

import "errors"

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrUserNotFound    = errors.New("user not found")
	ErrPackageNotFound = errors.New("package not found")

	// Payment hand-off
	ErrNoPendingPayment = errors.New("no pending payment")
	ErrPaymentPending   = errors.New("payment not confirmed yet")
	ErrInvoiceExpired   = errors.New("invoice expired")

	// Purchase
	ErrInsufficientBalance = errors.New("insufficient merchant balance")
	ErrAllocationTimeout   = errors.New("profile allocation timed out")

	// Reconciliation preconditions
	ErrNotCancelable     = errors.New("esim is not cancelable")
	ErrTopupNotAllowed   = errors.New("esim does not support top-up in its current state")
	ErrTopupNotActivated = errors.New("esim is not activated yet")
	ErrUsageNotReady     = errors.New("usage is only available for esims in use")

	ErrInvalidInitData = errors.New("invalid telegram init data")
)
