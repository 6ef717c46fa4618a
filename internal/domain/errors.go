package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrMalformedUpdate     = errors.New("malformed pool update")
	ErrStalePool           = errors.New("pool data stale")
	ErrUnprofitable        = errors.New("no profitable allocation")
	ErrInsufficientBalance = errors.New("wallet balance below required capital")
	ErrSimulationFailed    = errors.New("bundle simulation failed")
	ErrBelowThreshold      = errors.New("simulated profit below threshold")
	ErrRelayUnavailable    = errors.New("relay unavailable")
	ErrInclusionTimeout    = errors.New("bundle not included within block window")
	ErrCapacityExhausted   = errors.New("max concurrent executions reached")
	ErrSigningKeyMissing   = errors.New("signing key unavailable")
	ErrWSDisconnect        = errors.New("websocket disconnected")
)
