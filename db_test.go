package main

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "exportgate-test.db")
	db, err := InitDB(dbPath)
	if err != nil {
		t.Fatalf("InitDB failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestCatalogRoundTrip(t *testing.T) {
	db := newTestDB(t)

	entries := []CatalogEntry{
		{
			Code:        "3A090",
			Description: "High-performance AI accelerator",
			Category:    "electronics",
			Keywords:    []string{"ai accelerator", "gpu"},
			HSPatterns:  []string{"8473"},
			Thresholds:  TechThresholds{MinPerformanceTOPS: 100},
			Embedding:   []float64{0.1, 0.2, 0.3},
			RequiredPermits: []string{"STA_2010", "AICA"},
			PermitDeadlines: map[string]PermitDeadline{
				"STA_2010": {Days: 30, Authority: "Strategic Trade Authority"},
			},
		},
		{
			Code:            "5A002",
			Description:     "Cryptographic equipment",
			Category:        "telecommunications",
			Keywords:        []string{"encryption"},
			RequiredPermits: []string{"STA_2010"},
		},
	}
	inserted, err := InsertCatalogEntries(db, entries)
	if err != nil {
		t.Fatalf("InsertCatalogEntries failed: %v", err)
	}
	if inserted != 2 {
		t.Fatalf("expected inserted=2, got %d", inserted)
	}

	loaded, err := GetCatalogEntries(db)
	if err != nil {
		t.Fatalf("GetCatalogEntries failed: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(loaded))
	}
	first := loaded[0]
	if first.Code != "3A090" {
		t.Fatalf("unexpected first code: %q", first.Code)
	}
	if len(first.Embedding) != 3 {
		t.Fatalf("expected embedding dim 3, got %d", len(first.Embedding))
	}
	if first.Thresholds.MinPerformanceTOPS != 100 {
		t.Fatalf("unexpected thresholds: %+v", first.Thresholds)
	}
	if first.PermitDeadlines["STA_2010"].Days != 30 {
		t.Fatalf("unexpected deadlines: %+v", first.PermitDeadlines)
	}

	// Re-seeding the same code updates rather than duplicating.
	entries[0].Description = "Updated description"
	if _, err := InsertCatalogEntries(db, entries[:1]); err != nil {
		t.Fatalf("re-insert failed: %v", err)
	}
	count, err := CountCatalogEntries(db)
	if err != nil {
		t.Fatalf("CountCatalogEntries failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 entries after upsert, got %d", count)
	}

	if err := UpdateCatalogEmbedding(db, "5A002", []float64{1, 0, 0}); err != nil {
		t.Fatalf("UpdateCatalogEmbedding failed: %v", err)
	}
	loaded, err = GetCatalogEntries(db)
	if err != nil {
		t.Fatalf("GetCatalogEntries failed: %v", err)
	}
	if len(loaded[1].Embedding) != 3 {
		t.Fatalf("expected embedding stored for 5A002, got %v", loaded[1].Embedding)
	}
}

func TestDetectionResultsRoundTrip(t *testing.T) {
	db := newTestDB(t)

	r := DetectionResult{
		ShipmentID:      "SHIP-1",
		ItemDescription: "AI Accelerator Cards",
		HSCode:          "8473.30.90",
		Layers: map[string]LayerOutcome{
			LayerExactMatch: {Confidence: 95, MatchedCodes: []string{"3A090"}, Method: "direct catalog lookup"},
		},
		LayerFailures:   map[string]string{LayerSemantic: "embedding provider not configured"},
		Determined:      true,
		FinalConfidence: 95,
		IsStrategic:     true,
		StrategicCodes:  []string{"3A090"},
		RequiredPermits: []string{"AICA", "STA_2010"},
		ExportBlocked:   true,
	}
	id, err := InsertDetectionResult(db, r)
	if err != nil {
		t.Fatalf("InsertDetectionResult failed: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero id")
	}

	if _, err := InsertDetectionResult(db, DetectionResult{
		ShipmentID:      "SHIP-1",
		ItemDescription: "Packaging tape",
		Determined:      true,
	}); err != nil {
		t.Fatalf("InsertDetectionResult benign failed: %v", err)
	}

	all, err := GetDetectionResults(db, "SHIP-1")
	if err != nil {
		t.Fatalf("GetDetectionResults failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 results, got %d", len(all))
	}
	if all[0].Layers[LayerExactMatch].Confidence != 95 {
		t.Fatalf("layer outcome lost in round trip: %+v", all[0].Layers)
	}
	if all[0].LayerFailures[LayerSemantic] == "" {
		t.Fatalf("layer failure lost in round trip: %+v", all[0].LayerFailures)
	}

	strategic, err := GetStrategicDetectionResults(db, "SHIP-1")
	if err != nil {
		t.Fatalf("GetStrategicDetectionResults failed: %v", err)
	}
	if len(strategic) != 1 {
		t.Fatalf("expected 1 strategic result, got %d", len(strategic))
	}
	if strategic[0].RequiredPermits[0] != "AICA" {
		t.Fatalf("unexpected permits: %v", strategic[0].RequiredPermits)
	}

	// A manual review verdict is the only permitted mutation.
	if err := UpdateDetectionVerdict(db, id, false); err != nil {
		t.Fatalf("UpdateDetectionVerdict failed: %v", err)
	}
	strategic, err = GetStrategicDetectionResults(db, "SHIP-1")
	if err != nil {
		t.Fatalf("GetStrategicDetectionResults failed: %v", err)
	}
	if len(strategic) != 0 {
		t.Fatalf("expected 0 strategic results after verdict, got %d", len(strategic))
	}
}

func TestLatestValidPermitSupersedes(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()
	past := now.Add(-24 * time.Hour)
	future := now.Add(24 * time.Hour)

	// Oldest: valid but expired.
	if _, err := InsertPermitRecord(db, PermitRecord{
		ShipmentID: "SHIP-1", PermitType: "STA_2010", FilePath: "/tmp/a.pdf",
		Valid: true, Status: PermitStatusValid, ExpiryDate: &past,
		ComplianceDeadline: future,
	}); err != nil {
		t.Fatalf("insert expired permit failed: %v", err)
	}
	// Middle: valid, unexpired.
	midID, err := InsertPermitRecord(db, PermitRecord{
		ShipmentID: "SHIP-1", PermitType: "STA_2010", FilePath: "/tmp/b.pdf",
		Valid: true, Status: PermitStatusValid, ExpiryDate: &future,
		ComplianceDeadline: future,
	})
	if err != nil {
		t.Fatalf("insert valid permit failed: %v", err)
	}
	// Newest: invalid upload, must not supersede.
	if _, err := InsertPermitRecord(db, PermitRecord{
		ShipmentID: "SHIP-1", PermitType: "STA_2010", FilePath: "/tmp/c.exe",
		Valid: false, Status: PermitStatusInvalid, ComplianceDeadline: future,
	}); err != nil {
		t.Fatalf("insert invalid permit failed: %v", err)
	}

	record, found, err := GetLatestValidPermit(db, "SHIP-1", "STA_2010", now)
	if err != nil {
		t.Fatalf("GetLatestValidPermit failed: %v", err)
	}
	if !found {
		t.Fatal("expected a valid permit")
	}
	if record.ID != midID {
		t.Fatalf("expected record %d to be authoritative, got %d", midID, record.ID)
	}

	if _, found, _ := GetLatestValidPermit(db, "SHIP-1", "AICA", now); found {
		t.Fatal("did not expect a permit for AICA")
	}

	all, err := GetPermitRecords(db, "SHIP-1")
	if err != nil {
		t.Fatalf("GetPermitRecords failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected all 3 records kept for audit, got %d", len(all))
	}
}

func TestExpireOverduePermits(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(24 * time.Hour)

	if _, err := InsertPermitRecord(db, PermitRecord{
		ShipmentID: "SHIP-1", PermitType: "STA_2010", FilePath: "/tmp/a.pdf",
		Valid: true, Status: PermitStatusValid, ExpiryDate: &past, ComplianceDeadline: future,
	}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if _, err := InsertPermitRecord(db, PermitRecord{
		ShipmentID: "SHIP-2", PermitType: "AICA", FilePath: "/tmp/b.pdf",
		Valid: true, Status: PermitStatusValid, ExpiryDate: &future, ComplianceDeadline: future,
	}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	affected, err := ExpireOverduePermits(db, now)
	if err != nil {
		t.Fatalf("ExpireOverduePermits failed: %v", err)
	}
	if len(affected) != 1 || affected[0] != "SHIP-1" {
		t.Fatalf("unexpected affected shipments: %v", affected)
	}

	if _, found, _ := GetLatestValidPermit(db, "SHIP-1", "STA_2010", now); found {
		t.Fatal("expected SHIP-1 permit to be expired")
	}
	if _, found, _ := GetLatestValidPermit(db, "SHIP-2", "AICA", now); !found {
		t.Fatal("expected SHIP-2 permit to stay valid")
	}

	records, err := GetPermitRecords(db, "SHIP-1")
	if err != nil {
		t.Fatalf("GetPermitRecords failed: %v", err)
	}
	if records[0].Status != PermitStatusExpired {
		t.Fatalf("expected expired status, got %q", records[0].Status)
	}

	// Idempotent: nothing left to expire.
	affected, err = ExpireOverduePermits(db, now)
	if err != nil {
		t.Fatalf("second sweep failed: %v", err)
	}
	if len(affected) != 0 {
		t.Fatalf("expected no affected shipments, got %v", affected)
	}
}

func TestAuditLogRoundTrip(t *testing.T) {
	db := newTestDB(t)

	RecordAudit(db, "SHIP-1", AuditDetection, map[string]any{"total_items": 3})
	RecordAudit(db, "SHIP-1", AuditComplianceCheck, map[string]any{"export_permitted": false})
	RecordAudit(db, "SHIP-2", AuditPermitUpload, map[string]any{"permit_type": "AICA"})

	entries, err := GetAuditEntries(db, "SHIP-1")
	if err != nil {
		t.Fatalf("GetAuditEntries failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].ActionType != AuditDetection {
		t.Fatalf("unexpected first action: %q", entries[0].ActionType)
	}
	if entries[0].Details["total_items"].(float64) != 3 {
		t.Fatalf("unexpected details: %+v", entries[0].Details)
	}
}

func TestReviewQueueRoundTrip(t *testing.T) {
	db := newTestDB(t)

	id, err := InsertReviewEntry(db, ReviewEntry{
		ShipmentID:      "SHIP-1",
		DetectionID:     7,
		ItemDescription: "Unidentified sensor module",
		Priority:        "normal",
		Reason:          "low confidence strategic detection",
		Confidence:      64,
		Codes:           []string{"6A003"},
		Status:          ReviewOpen,
	})
	if err != nil {
		t.Fatalf("InsertReviewEntry failed: %v", err)
	}

	open, err := GetOpenReviewEntries(db)
	if err != nil {
		t.Fatalf("GetOpenReviewEntries failed: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("expected 1 open entry, got %d", len(open))
	}
	if open[0].Codes[0] != "6A003" {
		t.Fatalf("unexpected codes: %v", open[0].Codes)
	}

	if err := MarkReviewResolved(db, id, "U123", time.Now()); err != nil {
		t.Fatalf("MarkReviewResolved failed: %v", err)
	}
	entry, err := GetReviewEntryByID(db, id)
	if err != nil {
		t.Fatalf("GetReviewEntryByID failed: %v", err)
	}
	if entry.Status != ReviewResolved || entry.ResolvedBy != "U123" || entry.ResolvedAt == nil {
		t.Fatalf("unexpected resolved entry: %+v", entry)
	}

	open, err = GetOpenReviewEntries(db)
	if err != nil {
		t.Fatalf("GetOpenReviewEntries failed: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("expected 0 open entries, got %d", len(open))
	}
}
