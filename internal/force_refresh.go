package internal

import (
	"github.com/lychee-technology/duplex"
	"go.uber.org/zap"
)

const forceRefreshPrefix = "force_refresh_"

// ForceRefresh manages the one-shot per-entity flags that make the next List
// bypass Cache.
type ForceRefresh struct {
	store duplex.FlagStore
}

// NewForceRefresh wraps store. A nil store disables the mechanism.
func NewForceRefresh(store duplex.FlagStore) *ForceRefresh {
	return &ForceRefresh{store: store}
}

// FlagKey returns the flag store key for entity.
func FlagKey(entity string) string {
	return forceRefreshPrefix + entity
}

// Request sets the flag for entity.
func (r *ForceRefresh) Request(entity string) error {
	if r == nil || r.store == nil {
		return duplex.NewError(duplex.ErrorTypeConfig, duplex.ErrCodeValidationFailed, "no flag store configured")
	}
	return r.store.SetFlag(FlagKey(entity), "true")
}

// Pending reports whether the flag is set without clearing it.
func (r *ForceRefresh) Pending(entity string) bool {
	if r == nil || r.store == nil {
		return false
	}
	v, ok, err := r.store.GetFlag(FlagKey(entity))
	if err != nil {
		zap.S().Warnw("failed to read force refresh flag", "entity", entity, "error", err)
		return false
	}
	return ok && v == "true"
}

// Consume clears the flag and reports whether it was set. When the flag
// cannot be cleared it is treated as unset so a broken store does not force
// every List onto Primary.
func (r *ForceRefresh) Consume(entity string) bool {
	if !r.Pending(entity) {
		return false
	}
	if err := r.store.ClearFlag(FlagKey(entity)); err != nil {
		zap.S().Warnw("failed to clear force refresh flag", "entity", entity, "error", err)
		return false
	}
	return true
}
