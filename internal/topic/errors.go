package topic

import "streamlog/internal/streamerr"

// Errors re-exported here for callers that only import topic; they are the
// same sentinels every other core package classifies failures with.
var (
	ErrNotFound      = streamerr.ErrNotFound
	ErrAlreadyExists = streamerr.ErrAlreadyExists
)
