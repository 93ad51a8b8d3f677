package camera

import "time"

// Frame is a single capture. Immutable after creation; the ring buffer owns
// it and loops may reference it transiently during one iteration.
type Frame struct {
	CameraID  string
	Seq       uint64
	Timestamp time.Time
	Data      []byte // JPEG bytes, SOI..EOI
	Width     int
	Height    int
}
