package billing

import "errors"

var (
	ErrUserNotFound         = errors.New("billing: user not found")
	ErrSubscriptionNotFound = errors.New("billing: subscription not found")
	ErrOrderIDRequired      = errors.New("billing: external order id is required")
	ErrCustomerEmailMissing = errors.New("billing: customer email is required")
	ErrUnhandledEvent       = errors.New("billing: unhandled event type")
	ErrStoreFailure         = errors.New("billing: store operation failed")
)
