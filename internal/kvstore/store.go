// Package kvstore provides the shared key/value state used for workspace locks
// and termination requests. Every backend offers the same atomic
// compare-and-set, so lock semantics do not depend on the backend.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Store is a string key/value store shared by all workers
type Store interface {
	// Get returns the value of key; found is false when the key does not exist.
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// Set stores value under key unconditionally.
	Set(ctx context.Context, key string, value string) error

	// CompareAndSet stores value only if the current value equals expected.
	// An empty expected value means the key must not exist.
	CompareAndSet(ctx context.Context, key string, expected string, value string) (bool, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	Close() error
}

// ErrEmptyKey is returned for operations on an empty key
var ErrEmptyKey = errors.New("kvstore: empty key")

// Key joins key parts with "/"
func Key(parts ...string) string {
	return strings.Join(parts, "/")
}

func checkKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return nil
}

func checkValue(value string) error {
	if value == "" {
		return fmt.Errorf("kvstore: empty value")
	}
	return nil
}
