package backtest

import "errors"

// Errors returned by the engine. Call sites wrap them with detail, so test
// with errors.Is.
var (
	// ErrDataUnavailable is returned when the price collaborator fails, returns
	// no rows, or returns a malformed series (non-increasing timestamps,
	// non-positive or non-finite prices).
	ErrDataUnavailable = errors.New("price data unavailable")

	// ErrInsufficientData is returned when the series is too short for the
	// requested computation.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrInvalidParameter is returned for out-of-range construction or run
	// parameters.
	ErrInvalidParameter = errors.New("invalid parameter")
)
