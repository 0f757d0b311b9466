package entities

// Frame is one buffered media payload. Immutable once stored; the sequence
// number is assigned by the buffer at insertion and is strictly increasing
// within one (group, participant) stream.
type Frame struct {
	Sequence  uint64 `json:"sequence"`
	Payload   []byte `json:"payload"`
	Timestamp int64  `json:"timestamp"`
}

// BufferStatus is the observable state of one buffer entry.
type BufferStatus struct {
	FrameCount   int    `json:"frame_count"`
	TotalBytes   int64  `json:"total_bytes"`
	LastSequence uint64 `json:"last_sequence"`
}
