package core

import "errors"

// Delivery and fetch error taxonomy. Transient fetch failures never
// surface as errors at all: the gateway degrades them to empty results.
var (
	// ErrRecipientUnreachable marks a delivery failure that means the
	// recipient blocked the bot or no longer exists. The scanner
	// deactivates the recipient and does not retry.
	ErrRecipientUnreachable = errors.New("recipient unreachable")

	// ErrInvalidSymbol marks an instrument rejected at the gateway
	// boundary because it is not in the known-symbol registry.
	ErrInvalidSymbol = errors.New("invalid symbol")

	// ErrStorageUnavailable marks a durable-store failure. In-memory
	// state remains authoritative for the running cycle.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
