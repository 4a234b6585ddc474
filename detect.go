package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
)

// DetectionOrchestrator runs every item of a shipment through the detection
// engine, persists per-item results, raises manual-review entries for
// low-confidence strategic hits and aggregates shipment-level statistics.
type DetectionOrchestrator struct {
	db       *sql.DB
	engine   *DetectionEngine
	reviews  *ReviewQueue
	notifier Notifier // optional
}

func NewDetectionOrchestrator(db *sql.DB, engine *DetectionEngine, reviews *ReviewQueue, notifier Notifier) *DetectionOrchestrator {
	return &DetectionOrchestrator{db: db, engine: engine, reviews: reviews, notifier: notifier}
}

// DetectShipment classifies all items of a shipment. Per-item persistence
// failures degrade to the in-memory result plus an entry in ItemErrors; the
// batch never aborts for one item. The summary's ExportBlocked means "a
// controlled item exists"; the compliance gate later re-evaluates with
// permits in hand.
func (o *DetectionOrchestrator) DetectShipment(ctx context.Context, shipmentID string, items []ProductItem) (ShipmentDetectionSummary, error) {
	summary := ShipmentDetectionSummary{
		ShipmentID: shipmentID,
		TotalItems: len(items),
	}

	var permitSets [][]string
	confidenceSum := 0
	for _, item := range items {
		result := o.engine.Detect(ctx, item)
		result.ShipmentID = shipmentID

		id, err := InsertDetectionResult(o.db, result)
		if err != nil {
			log.Printf("detect persist failed shipment=%s item=%q err=%v", shipmentID, item.Description, err)
			summary.ItemErrors = append(summary.ItemErrors,
				fmt.Sprintf("%s: result not persisted: %v", item.Description, err))
		} else {
			result.ID = id
		}

		if result.IsStrategic {
			summary.StrategicItems++
			summary.ExportBlocked = true
			permitSets = append(permitSets, result.RequiredPermits)
			confidenceSum += result.FinalConfidence
		}
		if result.ManualReview && result.ID != 0 {
			if err := o.reviews.Enqueue(ctx, result); err != nil {
				log.Printf("review enqueue failed shipment=%s item=%q err=%v", shipmentID, item.Description, err)
				summary.ItemErrors = append(summary.ItemErrors,
					fmt.Sprintf("%s: review entry not created: %v", item.Description, err))
			}
		}

		summary.Results = append(summary.Results, result)
	}

	summary.RequiredPermits = unionStrings(permitSets...)
	summary.ComplianceScore = detectionComplianceScore(summary.StrategicItems, confidenceSum)

	RecordAudit(o.db, shipmentID, AuditDetection, map[string]any{
		"total_items":      summary.TotalItems,
		"strategic_items":  summary.StrategicItems,
		"export_blocked":   summary.ExportBlocked,
		"required_permits": summary.RequiredPermits,
		"item_errors":      len(summary.ItemErrors),
	})
	log.Printf("detection run shipment=%s items=%d strategic=%d blocked=%t permits=%d",
		shipmentID, summary.TotalItems, summary.StrategicItems, summary.ExportBlocked, len(summary.RequiredPermits))

	if summary.ExportBlocked && o.notifier != nil {
		o.notifier.Notify(fmt.Sprintf(
			"Shipment %s blocked: %d of %d items are strategic; required permits: %s",
			shipmentID, summary.StrategicItems, summary.TotalItems, joinList(summary.RequiredPermits)))
	}

	return summary, nil
}

// detectionComplianceScore grades a detection run before any permits exist:
// higher-confidence controlled items are a sharper compliance event than
// marginal ones still pending manual review.
func detectionComplianceScore(strategicItems, confidenceSum int) int {
	if strategicItems == 0 {
		return 100
	}
	avg := confidenceSum / strategicItems
	switch {
	case avg >= 90:
		return 70 - 30
	case avg >= 70:
		return 70 - 20
	default:
		return 70 - 10
	}
}
