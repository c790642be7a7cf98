package factory

import (
	"context"

	"github.com/lychee-technology/duplex"
	"github.com/lychee-technology/duplex/internal"
)

// defaultOverrides holds the per-entity behavior layered over the generic
// handles.
func defaultOverrides() map[string]internal.Overrides {
	return map[string]internal.Overrides{
		"client_packages": {Create: createClientPackage},
		"gift_cards":      {Create: createGiftCard},
	}
}

// createClientPackage starts a sold package with no sessions used and the
// full session count remaining.
func createClientPackage(ctx context.Context, base duplex.Entity, data duplex.Record) (*duplex.WriteResult, error) {
	rec := data.Clone()
	if rec == nil {
		rec = duplex.Record{}
	}
	setDefault(rec, "sessions_used", 0)
	if total, ok := rec["total_sessions"]; ok {
		setDefault(rec, "sessions_remaining", total)
	}
	setDefault(rec, "status", "active")
	return base.CreateResult(ctx, rec)
}

// createGiftCard opens the balance at the card value.
func createGiftCard(ctx context.Context, base duplex.Entity, data duplex.Record) (*duplex.WriteResult, error) {
	rec := data.Clone()
	if rec == nil {
		rec = duplex.Record{}
	}
	if value, ok := rec["value"]; ok {
		setDefault(rec, "balance", value)
	}
	return base.CreateResult(ctx, rec)
}

func setDefault(rec duplex.Record, field string, v any) {
	if cur, ok := rec[field]; !ok || cur == nil {
		rec[field] = v
	}
}
