package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"
)

// ComplianceGate decides whether a shipment is currently cleared to export,
// cross-referencing strategic detection results against the permit ledger.
// Its state is always recomputed from the underlying rows, never cached, so
// uploads and expiry sweeps cannot drift it. Recomputation is serialized per
// shipment to avoid lost-update races between concurrent uploads.
type ComplianceGate struct {
	db *sql.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewComplianceGate(db *sql.DB) *ComplianceGate {
	return &ComplianceGate{db: db, locks: make(map[string]*sync.Mutex)}
}

func (g *ComplianceGate) shipmentLock(shipmentID string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	lock, ok := g.locks[shipmentID]
	if !ok {
		lock = &sync.Mutex{}
		g.locks[shipmentID] = lock
	}
	return lock
}

// CheckCompliance recomputes the compliance state for a shipment. A shipment
// with zero strategic detection results is unconditionally permitted with
// score 100; this also covers unknown shipments, which degrade to that
// best-effort state rather than failing.
func (g *ComplianceGate) CheckCompliance(ctx context.Context, shipmentID string) (ComplianceState, error) {
	lock := g.shipmentLock(shipmentID)
	lock.Lock()
	defer lock.Unlock()

	state, err := g.computeState(shipmentID, time.Now())
	if err != nil {
		return ComplianceState{}, err
	}

	RecordAudit(g.db, shipmentID, AuditComplianceCheck, map[string]any{
		"export_permitted": state.ExportPermitted,
		"strategic_items":  state.StrategicItems,
		"covered_items":    state.CoveredItems,
		"compliance_score": state.ComplianceScore,
		"missing_permits":  state.MissingPermits(),
	})
	log.Printf("compliance check shipment=%s permitted=%t score=%d strategic=%d covered=%d",
		shipmentID, state.ExportPermitted, state.ComplianceScore, state.StrategicItems, state.CoveredItems)
	return state, nil
}

// ValidateExport is the externally consumed gate decision: the compliance
// state plus an itemized, human-readable export validation log entry.
func (g *ComplianceGate) ValidateExport(ctx context.Context, shipmentID string) (ComplianceState, error) {
	state, err := g.CheckCompliance(ctx, shipmentID)
	if err != nil {
		return ComplianceState{}, err
	}

	var reasons []string
	for _, gap := range state.Gaps {
		reasons = append(reasons, fmt.Sprintf("%s missing permits: %s", gap.ItemDescription, joinList(gap.Missing)))
	}
	RecordAudit(g.db, shipmentID, AuditExportValidation, map[string]any{
		"export_permitted": state.ExportPermitted,
		"compliance_score": state.ComplianceScore,
		"blocking_reasons": reasons,
	})
	return state, nil
}

func (g *ComplianceGate) computeState(shipmentID string, now time.Time) (ComplianceState, error) {
	results, err := GetStrategicDetectionResults(g.db, shipmentID)
	if err != nil {
		return ComplianceState{}, fmt.Errorf("loading detection results: %w", err)
	}

	state := ComplianceState{
		ShipmentID:     shipmentID,
		StrategicItems: len(results),
		CheckedAt:      now,
	}
	if len(results) == 0 {
		state.ExportPermitted = true
		state.ComplianceScore = 100
		return state, nil
	}

	for _, r := range results {
		var missing []string
		for _, permitType := range r.RequiredPermits {
			_, found, err := GetLatestValidPermit(g.db, shipmentID, permitType, now)
			if err != nil {
				return ComplianceState{}, fmt.Errorf("looking up permit %s: %w", permitType, err)
			}
			if !found {
				missing = append(missing, permitType)
			}
		}
		if len(missing) == 0 {
			state.CoveredItems++
		} else {
			state.Gaps = append(state.Gaps, ItemPermitGap{
				ItemDescription: r.ItemDescription,
				Missing:         missing,
			})
		}
	}

	state.ExportPermitted = len(state.Gaps) == 0
	state.ComplianceScore = state.CoveredItems * 100 / state.StrategicItems
	return state, nil
}
