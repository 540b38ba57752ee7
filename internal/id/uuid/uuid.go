// Package uuid generates pass identifiers.
package uuid

import "github.com/google/uuid"

// NewRunID returns a time-ordered UUIDv7 string, falling back to a random v4
// if the v7 generator fails.
func NewRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
