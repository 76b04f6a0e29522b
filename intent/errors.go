package intent

import "errors"

var (
	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrIndexRequired is returned when an intent index is not provided.
	ErrIndexRequired = errors.New("intent index required")

	// ErrInvalidNeighbors is returned for a non-positive neighbour count.
	ErrInvalidNeighbors = errors.New("invalid neighbor count")
)
