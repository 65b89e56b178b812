package payment

import "errors"

var (
	ErrInvalidSignature = errors.New("payment notification signature is invalid")
	ErrInvalidPayload   = errors.New("payment notification is malformed")
	ErrMissingUser      = errors.New("payment notification has no valid user id")
	ErrUnresolvedTokens = errors.New("unable to determine tokens to credit")
	ErrMissingReference = errors.New("payment reference is required")
	ErrNotConfigured    = errors.New("payment provider is not configured")

	ErrPaymentNotFound     = errors.New("payment not found")
	ErrProviderUnavailable = errors.New("payment provider is unavailable")
)
