package services

import (
	"context"
	"fmt"

	"github.com/trobanga/geochain/internal/kvstore"
)

const terminationKeyPrefix = "termination"

// CancelProbe reports whether termination of the running job was requested.
// It is polled between steps and between export entries.
type CancelProbe func(ctx context.Context) (bool, error)

// NeverCancel is a probe that never reports a termination request
func NeverCancel(context.Context) (bool, error) { return false, nil }

// Terminations records termination requests per (user, resource id)
type Terminations struct {
	store kvstore.Store
}

// NewTerminations creates a termination registry on the shared store
func NewTerminations(store kvstore.Store) *Terminations {
	return &Terminations{store: store}
}

func terminationKey(userID, resourceID string) string {
	return kvstore.Key(terminationKeyPrefix, userID, resourceID)
}

// Request sets the termination flag. Flags are never reset.
func (t *Terminations) Request(ctx context.Context, userID, resourceID string) error {
	if err := t.store.Set(ctx, terminationKey(userID, resourceID), "true"); err != nil {
		return fmt.Errorf("failed to request termination of %s: %w", resourceID, err)
	}
	return nil
}

// IsRequested reads the termination flag
func (t *Terminations) IsRequested(ctx context.Context, userID, resourceID string) (bool, error) {
	value, found, err := t.store.Get(ctx, terminationKey(userID, resourceID))
	if err != nil {
		return false, fmt.Errorf("failed to read termination flag of %s: %w", resourceID, err)
	}
	return found && value == "true", nil
}

// Probe binds IsRequested to one job
func (t *Terminations) Probe(userID, resourceID string) CancelProbe {
	return func(ctx context.Context) (bool, error) {
		return t.IsRequested(ctx, userID, resourceID)
	}
}
