package pkg

import "encoding/binary"

const (
	// Size lengths (in bytes)
	LenOffset     = 8
	LenTimestamp  = 8
	LenState      = 1
	LenChecksum   = 4
	LenID         = 16
	LenLength     = 4
)

// Enc is the wire byte order used across the log, index and time-index
// sidecars and the request/response framing.
var Enc = binary.LittleEndian
