package mkv

import "github.com/google/uuid"

// NewSegmentUID generates a random 16-byte Segment UID for the Info
// header, using a random (v4) UUID as the entropy source.
func NewSegmentUID() [16]byte {
	return [16]byte(uuid.New())
}
