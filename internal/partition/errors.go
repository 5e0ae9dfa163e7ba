package partition

import "streamlog/internal/streamerr"

// ErrReadOnly is returned by AppendMessages when a corrupted-index
// recovery determined that truncation would have dropped acknowledged
// data, so the partition was marked read-only. Alias of the shared
// sentinel so callers can match either name.
var ErrReadOnly = streamerr.ErrPartitionReadOnly
