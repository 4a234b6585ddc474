package main

import (
	"database/sql"
	"log"
)

// RecordAudit appends one audit entry. Audit writes never abort the
// operation they describe; failures are logged and the entry is dropped.
func RecordAudit(db *sql.DB, shipmentID, actionType string, details map[string]any) {
	err := InsertAuditEntry(db, AuditEntry{
		ShipmentID: shipmentID,
		ActionType: actionType,
		Details:    details,
	})
	if err != nil {
		log.Printf("audit write failed shipment=%s action=%s err=%v", shipmentID, actionType, err)
	}
}
