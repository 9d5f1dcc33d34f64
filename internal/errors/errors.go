package errors

import "errors"

// Remote session errors. ErrAuth is fatal at startup.
var (
	ErrAuth = errors.New("authentication failed")
)

// Sync cycle errors. All of these are recoverable: the scheduler logs
// them, counts them and carries on with the next tick or cycle.
var (
	ErrListingFetch = errors.New("listing fetch failed")
	ErrRename       = errors.New("rename failed")
	ErrSubmission   = errors.New("copy submission failed")
	ErrPoll         = errors.New("task poll failed")
)

// Server/transport errors.
var (
	ErrAPIRequest  = errors.New("API request failed")
	ErrAPIResponse = errors.New("unexpected API response")
)
