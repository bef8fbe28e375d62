package depot

import "github.com/google/uuid"

// IDGenerator produces opaque unique identifiers for versions and queue
// messages.
type IDGenerator interface {
	ID() string
}

// RandomIDGenerator generates random UUIDv4 identifiers.
type RandomIDGenerator struct{}

// NewIDGenerator returns the default random generator.
func NewIDGenerator() RandomIDGenerator {
	return RandomIDGenerator{}
}

// ID returns a fresh identifier.
func (RandomIDGenerator) ID() string {
	return uuid.NewString()
}
