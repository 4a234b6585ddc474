package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS catalog_entries (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		code             TEXT NOT NULL UNIQUE,
		description      TEXT NOT NULL,
		category         TEXT DEFAULT '',
		subcategory      TEXT DEFAULT '',
		keywords         TEXT DEFAULT '',
		hs_patterns      TEXT DEFAULT '',
		thresholds       TEXT DEFAULT '{}',
		embedding        TEXT DEFAULT '',
		required_permits TEXT DEFAULT '',
		permit_deadlines TEXT DEFAULT '{}',
		created_at       DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_catalog_category ON catalog_entries(category);

	CREATE TABLE IF NOT EXISTS detection_results (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		shipment_id      TEXT NOT NULL,
		item_description TEXT NOT NULL,
		hs_code          TEXT DEFAULT '',
		layers           TEXT DEFAULT '{}',
		layer_failures   TEXT DEFAULT '{}',
		determined       INTEGER NOT NULL DEFAULT 1,
		final_confidence INTEGER NOT NULL DEFAULT 0,
		is_strategic     INTEGER NOT NULL DEFAULT 0,
		strategic_codes  TEXT DEFAULT '',
		required_permits TEXT DEFAULT '',
		export_blocked   INTEGER NOT NULL DEFAULT 0,
		manual_review    INTEGER NOT NULL DEFAULT 0,
		created_at       DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_dr_shipment ON detection_results(shipment_id);
	CREATE INDEX IF NOT EXISTS idx_dr_strategic ON detection_results(shipment_id, is_strategic);

	CREATE TABLE IF NOT EXISTS permit_records (
		id                  INTEGER PRIMARY KEY AUTOINCREMENT,
		shipment_id         TEXT NOT NULL,
		permit_type         TEXT NOT NULL,
		file_path           TEXT NOT NULL,
		file_name           TEXT DEFAULT '',
		valid               INTEGER NOT NULL DEFAULT 0,
		validation_errors   TEXT DEFAULT '',
		status              TEXT DEFAULT 'invalid',
		expiry_date         DATETIME,
		compliance_deadline DATETIME NOT NULL,
		uploaded_by         TEXT DEFAULT '',
		uploaded_at         DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_pr_shipment_type ON permit_records(shipment_id, permit_type);
	CREATE INDEX IF NOT EXISTS idx_pr_expiry ON permit_records(valid, expiry_date);

	CREATE TABLE IF NOT EXISTS audit_log (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		shipment_id TEXT NOT NULL,
		action_type TEXT NOT NULL,
		details     TEXT DEFAULT '{}',
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_audit_shipment ON audit_log(shipment_id);
	CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_log(action_type);

	CREATE TABLE IF NOT EXISTS review_queue (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		shipment_id      TEXT NOT NULL,
		detection_id     INTEGER NOT NULL,
		item_description TEXT NOT NULL,
		priority         TEXT DEFAULT 'normal',
		reason           TEXT DEFAULT '',
		confidence       INTEGER NOT NULL DEFAULT 0,
		codes            TEXT DEFAULT '',
		brief            TEXT DEFAULT '',
		status           TEXT DEFAULT 'open',
		resolved_by      TEXT DEFAULT '',
		resolved_at      DATETIME,
		created_at       DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_rq_status ON review_queue(status);
	CREATE INDEX IF NOT EXISTS idx_rq_shipment ON review_queue(shipment_id);
	`
	_, err = db.Exec(schema)
	if err != nil {
		return nil, err
	}

	return db, nil
}

// joinList/splitList store small string sets as comma-separated text, the
// same shape the rest of the schema uses for code lists.
func joinList(items []string) string {
	return strings.Join(items, ",")
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func marshalJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// --- Catalog ---

func InsertCatalogEntries(db *sql.DB, entries []CatalogEntry) (int, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO catalog_entries
		 (code, description, category, subcategory, keywords, hs_patterns, thresholds, embedding, required_permits, permit_deadlines)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(code) DO UPDATE SET
		   description = excluded.description,
		   category = excluded.category,
		   subcategory = excluded.subcategory,
		   keywords = excluded.keywords,
		   hs_patterns = excluded.hs_patterns,
		   thresholds = excluded.thresholds,
		   required_permits = excluded.required_permits,
		   permit_deadlines = excluded.permit_deadlines`,
	)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	for _, e := range entries {
		_, err := stmt.Exec(
			e.Code, e.Description, e.Category, e.Subcategory,
			joinList(e.Keywords), joinList(e.HSPatterns),
			marshalJSON(e.Thresholds), marshalJSON(e.Embedding),
			joinList(e.RequiredPermits), marshalJSON(e.PermitDeadlines),
		)
		if err != nil {
			return inserted, err
		}
		inserted++
	}

	return inserted, tx.Commit()
}

func UpdateCatalogEmbedding(db *sql.DB, code string, embedding []float64) error {
	_, err := db.Exec(
		`UPDATE catalog_entries SET embedding = ? WHERE code = ?`,
		marshalJSON(embedding), code,
	)
	return err
}

func GetCatalogEntries(db *sql.DB) ([]CatalogEntry, error) {
	rows, err := db.Query(
		`SELECT id, code, description, category, subcategory, keywords, hs_patterns,
		        thresholds, embedding, required_permits, permit_deadlines, created_at
		 FROM catalog_entries ORDER BY code`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []CatalogEntry
	for rows.Next() {
		var e CatalogEntry
		var keywords, hsPatterns, thresholds, embedding, permits, deadlines string
		err := rows.Scan(
			&e.ID, &e.Code, &e.Description, &e.Category, &e.Subcategory,
			&keywords, &hsPatterns, &thresholds, &embedding, &permits, &deadlines,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		e.Keywords = splitList(keywords)
		e.HSPatterns = splitList(hsPatterns)
		e.RequiredPermits = splitList(permits)
		if err := json.Unmarshal([]byte(thresholds), &e.Thresholds); err != nil {
			return nil, fmt.Errorf("catalog %s thresholds: %w", e.Code, err)
		}
		if embedding != "" && embedding != "null" {
			if err := json.Unmarshal([]byte(embedding), &e.Embedding); err != nil {
				return nil, fmt.Errorf("catalog %s embedding: %w", e.Code, err)
			}
		}
		if err := json.Unmarshal([]byte(deadlines), &e.PermitDeadlines); err != nil {
			return nil, fmt.Errorf("catalog %s permit deadlines: %w", e.Code, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func CountCatalogEntries(db *sql.DB) (int, error) {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM catalog_entries`).Scan(&count)
	return count, err
}

// --- Detection results ---

func InsertDetectionResult(db *sql.DB, r DetectionResult) (int64, error) {
	res, err := db.Exec(
		`INSERT INTO detection_results
		 (shipment_id, item_description, hs_code, layers, layer_failures, determined,
		  final_confidence, is_strategic, strategic_codes, required_permits, export_blocked, manual_review)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ShipmentID, r.ItemDescription, r.HSCode,
		marshalJSON(r.Layers), marshalJSON(r.LayerFailures), r.Determined,
		r.FinalConfidence, r.IsStrategic, joinList(r.StrategicCodes),
		joinList(r.RequiredPermits), r.ExportBlocked, r.ManualReview,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func scanDetectionResult(rows *sql.Rows) (DetectionResult, error) {
	var r DetectionResult
	var layers, failures, codes, permits string
	err := rows.Scan(
		&r.ID, &r.ShipmentID, &r.ItemDescription, &r.HSCode,
		&layers, &failures, &r.Determined, &r.FinalConfidence, &r.IsStrategic,
		&codes, &permits, &r.ExportBlocked, &r.ManualReview, &r.CreatedAt,
	)
	if err != nil {
		return r, err
	}
	if err := json.Unmarshal([]byte(layers), &r.Layers); err != nil {
		return r, fmt.Errorf("detection %d layers: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(failures), &r.LayerFailures); err != nil {
		return r, fmt.Errorf("detection %d layer failures: %w", r.ID, err)
	}
	r.StrategicCodes = splitList(codes)
	r.RequiredPermits = splitList(permits)
	return r, nil
}

const detectionColumns = `id, shipment_id, item_description, hs_code, layers, layer_failures,
	determined, final_confidence, is_strategic, strategic_codes, required_permits,
	export_blocked, manual_review, created_at`

func GetDetectionResults(db *sql.DB, shipmentID string) ([]DetectionResult, error) {
	rows, err := db.Query(
		`SELECT `+detectionColumns+` FROM detection_results WHERE shipment_id = ? ORDER BY id`,
		shipmentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DetectionResult
	for rows.Next() {
		r, err := scanDetectionResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func GetStrategicDetectionResults(db *sql.DB, shipmentID string) ([]DetectionResult, error) {
	rows, err := db.Query(
		`SELECT `+detectionColumns+` FROM detection_results
		 WHERE shipment_id = ? AND is_strategic = 1 ORDER BY id`,
		shipmentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DetectionResult
	for rows.Next() {
		r, err := scanDetectionResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateDetectionVerdict applies a manual review outcome. This is the only
// mutation a stored detection result can receive.
func UpdateDetectionVerdict(db *sql.DB, id int64, isStrategic bool) error {
	_, err := db.Exec(
		`UPDATE detection_results
		 SET is_strategic = ?, export_blocked = ?, manual_review = 0
		 WHERE id = ?`,
		isStrategic, isStrategic, id,
	)
	return err
}

// --- Permit records ---

func InsertPermitRecord(db *sql.DB, r PermitRecord) (int64, error) {
	res, err := db.Exec(
		`INSERT INTO permit_records
		 (shipment_id, permit_type, file_path, file_name, valid, validation_errors,
		  status, expiry_date, compliance_deadline, uploaded_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ShipmentID, r.PermitType, r.FilePath, r.FileName, r.Valid,
		joinList(r.ValidationErrors), r.Status, r.ExpiryDate,
		r.ComplianceDeadline, r.UploadedBy,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func scanPermitRecord(rows *sql.Rows) (PermitRecord, error) {
	var r PermitRecord
	var errs string
	var expiry sql.NullTime
	err := rows.Scan(
		&r.ID, &r.ShipmentID, &r.PermitType, &r.FilePath, &r.FileName,
		&r.Valid, &errs, &r.Status, &expiry, &r.ComplianceDeadline,
		&r.UploadedBy, &r.UploadedAt,
	)
	if err != nil {
		return r, err
	}
	r.ValidationErrors = splitList(errs)
	if expiry.Valid {
		t := expiry.Time
		r.ExpiryDate = &t
	}
	return r, nil
}

const permitColumns = `id, shipment_id, permit_type, file_path, file_name, valid,
	validation_errors, status, expiry_date, compliance_deadline, uploaded_by, uploaded_at`

// GetLatestValidPermit returns the most recently uploaded valid, non-expired
// record for a (shipment, permit type) pair. Older rows remain for audit but
// are superseded.
func GetLatestValidPermit(db *sql.DB, shipmentID, permitType string, now time.Time) (PermitRecord, bool, error) {
	rows, err := db.Query(
		`SELECT `+permitColumns+` FROM permit_records
		 WHERE shipment_id = ? AND permit_type = ? AND valid = 1
		 ORDER BY uploaded_at DESC, id DESC`,
		shipmentID, permitType,
	)
	if err != nil {
		return PermitRecord{}, false, err
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanPermitRecord(rows)
		if err != nil {
			return PermitRecord{}, false, err
		}
		if r.ExpiryDate != nil && !r.ExpiryDate.After(now) {
			continue
		}
		return r, true, nil
	}
	return PermitRecord{}, false, rows.Err()
}

func GetPermitRecords(db *sql.DB, shipmentID string) ([]PermitRecord, error) {
	rows, err := db.Query(
		`SELECT `+permitColumns+` FROM permit_records
		 WHERE shipment_id = ? ORDER BY uploaded_at DESC, id DESC`,
		shipmentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PermitRecord
	for rows.Next() {
		r, err := scanPermitRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ExpireOverduePermits flips valid records whose expiry date has passed to
// expired and returns the affected shipment IDs.
func ExpireOverduePermits(db *sql.DB, now time.Time) ([]string, error) {
	rows, err := db.Query(
		`SELECT DISTINCT shipment_id FROM permit_records
		 WHERE valid = 1 AND expiry_date IS NOT NULL AND expiry_date <= ?`,
		now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var shipments []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		shipments = append(shipments, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(shipments) == 0 {
		return nil, nil
	}

	_, err = db.Exec(
		`UPDATE permit_records SET valid = 0, status = ?
		 WHERE valid = 1 AND expiry_date IS NOT NULL AND expiry_date <= ?`,
		PermitStatusExpired, now,
	)
	return shipments, err
}

// --- Audit log ---

func InsertAuditEntry(db *sql.DB, e AuditEntry) error {
	_, err := db.Exec(
		`INSERT INTO audit_log (shipment_id, action_type, details) VALUES (?, ?, ?)`,
		e.ShipmentID, e.ActionType, marshalJSON(e.Details),
	)
	return err
}

func GetAuditEntries(db *sql.DB, shipmentID string) ([]AuditEntry, error) {
	rows, err := db.Query(
		`SELECT id, shipment_id, action_type, details, created_at
		 FROM audit_log WHERE shipment_id = ? ORDER BY id`,
		shipmentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var details string
		if err := rows.Scan(&e.ID, &e.ShipmentID, &e.ActionType, &details, &e.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
			return nil, fmt.Errorf("audit %d details: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Review queue ---

func InsertReviewEntry(db *sql.DB, e ReviewEntry) (int64, error) {
	res, err := db.Exec(
		`INSERT INTO review_queue
		 (shipment_id, detection_id, item_description, priority, reason, confidence, codes, brief, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ShipmentID, e.DetectionID, e.ItemDescription, e.Priority, e.Reason,
		e.Confidence, joinList(e.Codes), e.Brief, e.Status,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func scanReviewEntry(rows *sql.Rows) (ReviewEntry, error) {
	var e ReviewEntry
	var codes string
	var resolvedAt sql.NullTime
	err := rows.Scan(
		&e.ID, &e.ShipmentID, &e.DetectionID, &e.ItemDescription, &e.Priority,
		&e.Reason, &e.Confidence, &codes, &e.Brief, &e.Status,
		&e.ResolvedBy, &resolvedAt, &e.CreatedAt,
	)
	if err != nil {
		return e, err
	}
	e.Codes = splitList(codes)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		e.ResolvedAt = &t
	}
	return e, nil
}

const reviewColumns = `id, shipment_id, detection_id, item_description, priority,
	reason, confidence, codes, brief, status, resolved_by, resolved_at, created_at`

func GetOpenReviewEntries(db *sql.DB) ([]ReviewEntry, error) {
	rows, err := db.Query(
		`SELECT ` + reviewColumns + ` FROM review_queue WHERE status = 'open' ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ReviewEntry
	for rows.Next() {
		e, err := scanReviewEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func GetReviewEntryByID(db *sql.DB, id int64) (ReviewEntry, error) {
	rows, err := db.Query(
		`SELECT `+reviewColumns+` FROM review_queue WHERE id = ?`, id,
	)
	if err != nil {
		return ReviewEntry{}, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return ReviewEntry{}, err
		}
		return ReviewEntry{}, sql.ErrNoRows
	}
	return scanReviewEntry(rows)
}

func MarkReviewResolved(db *sql.DB, id int64, resolvedBy string, now time.Time) error {
	_, err := db.Exec(
		`UPDATE review_queue SET status = 'resolved', resolved_by = ?, resolved_at = ?
		 WHERE id = ?`,
		resolvedBy, now, id,
	)
	return err
}
