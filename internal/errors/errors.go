package errors

import "errors"

// Connectivity and transport errors.
var (
	ErrNetworkUnavailable = errors.New("network unavailable")
	ErrServerRejected     = errors.New("server rejected request")
)

// Sync protocol errors.
var (
	ErrConflict           = errors.New("notebook revision conflict")
	ErrSessionUnavailable = errors.New("notebook sync session unavailable")
)

// Local errors.
var (
	ErrSerialization = errors.New("request body not serializable")
	ErrStorage       = errors.New("local storage failure")
)
