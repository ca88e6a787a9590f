package services

import (
	"context"
	"fmt"

	"github.com/trobanga/geochain/internal/kvstore"
	"github.com/trobanga/geochain/internal/lib"
	"github.com/trobanga/geochain/internal/models"
)

const lockKeyPrefix = "lock"

// LockManager grants exclusive write access to one mapset at a time.
// Lock state lives in the shared key/value store so every worker sees it.
type LockManager struct {
	store     kvstore.Store
	protected func(mapset string) bool
	logger    *lib.Logger
}

// NewLockManager creates a lock manager. protected may be nil, in which case
// only PERMANENT is protected.
func NewLockManager(store kvstore.Store, protected func(mapset string) bool, logger *lib.Logger) *LockManager {
	if protected == nil {
		protected = func(mapset string) bool { return mapset == models.PermanentMapset }
	}
	if logger == nil {
		logger = lib.DiscardLogger
	}
	return &LockManager{store: store, protected: protected, logger: logger}
}

func lockKey(ws models.WorkspaceID) string {
	return kvstore.Key(lockKeyPrefix, ws.Location, ws.Mapset)
}

// IsProtected reports whether the mapset may never be locked as a write target
func (m *LockManager) IsProtected(mapset string) bool {
	return m.protected(mapset)
}

// TryAcquire records resourceID as the holder of ws.
// Returns false without error when another job holds the lock.
// Protected mapsets fail with ErrProtectedWorkspace before the store is touched.
func (m *LockManager) TryAcquire(ctx context.Context, ws models.WorkspaceID, resourceID string) (bool, error) {
	if m.protected(ws.Mapset) {
		return false, lib.ErrProtectedWorkspace(ws)
	}
	if resourceID == "" {
		return false, fmt.Errorf("lock holder must not be empty")
	}

	ok, err := m.store.CompareAndSet(ctx, lockKey(ws), "", resourceID)
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock for %s: %w", ws, err)
	}
	if ok {
		m.logger.Debug("Workspace lock acquired", "workspace", ws.String(), "job_id", resourceID)
	}
	return ok, nil
}

// Acquire is TryAcquire turning a held lock into ErrLockConflict naming the holder
func (m *LockManager) Acquire(ctx context.Context, ws models.WorkspaceID, resourceID string) error {
	ok, err := m.TryAcquire(ctx, ws, resourceID)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	holder, _, err := m.Holder(ctx, ws)
	if err != nil {
		m.logger.Warn("Failed to read lock holder", "workspace", ws.String(), "error", err)
	}
	return lib.ErrLockConflict(ws, holder)
}

// Release clears the lock unconditionally. Releasing a free lock is not an error.
func (m *LockManager) Release(ctx context.Context, ws models.WorkspaceID) error {
	if err := m.store.Delete(ctx, lockKey(ws)); err != nil {
		return fmt.Errorf("failed to release lock for %s: %w", ws, err)
	}
	m.logger.Debug("Workspace lock released", "workspace", ws.String())
	return nil
}

// Holder returns the resource id holding the lock of ws
func (m *LockManager) Holder(ctx context.Context, ws models.WorkspaceID) (string, bool, error) {
	return m.store.Get(ctx, lockKey(ws))
}
