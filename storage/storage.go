// Package storage defines the durable named slots the session core persists
// into. A slot holds an opaque byte value under a fixed key; the credential
// store and each derived store own their own keys.
package storage

import "context"

// Slots is the persistence backend. Implementations must make Delete of
// several keys atomic: after it returns, either all keys are gone or (on
// error) none were removed.
type Slots interface {
	// Get returns the value for key, or errors.ErrSlotNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// SetMany stores every entry in one atomic write.
	SetMany(ctx context.Context, entries map[string][]byte) error

	// Delete removes all keys in one atomic operation. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error
}
