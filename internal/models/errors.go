package models

import "errors"

var (
	// ErrInvalidIdentifier rejects identifiers that do not match the pair
	// address format. Callers see it before any state changes.
	ErrInvalidIdentifier = errors.New("invalid pair identifier")

	// ErrRateLimited rejects a new connection that exceeds the per-source
	// connection window.
	ErrRateLimited = errors.New("connection rate limit exceeded")

	// ErrSubscriptionLimit rejects a subscribe request from a client already
	// holding the maximum number of subscriptions.
	ErrSubscriptionLimit = errors.New("subscription limit exceeded")

	// ErrUpstreamTimeout marks an upstream request that hit the request
	// timeout rather than failing outright.
	ErrUpstreamTimeout = errors.New("upstream request timed out")

	// ErrNoDataAvailable is returned when neither cache nor upstream can
	// serve a trending request.
	ErrNoDataAvailable = errors.New("no trending data available")

	// ErrRefreshInFlight rejects a forced refresh while another one is
	// still running.
	ErrRefreshInFlight = errors.New("refresh already in progress")

	// ErrStoreUnavailable is returned when the record store backend is not
	// configured or unreachable.
	ErrStoreUnavailable = errors.New("record store unavailable")
)
