package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"
)

var ErrUnknownPermitType = errors.New("unknown permit type")

// permitValidator checks one permit type's uploaded document. The default
// implementations are format-only stubs (extension allow-lists); real
// document-content verification plugs in behind the same interface. A
// validator may also report the document's expiry date when it can read one.
type permitValidator interface {
	Validate(fileName string, data []byte) (errs []string, expiry *time.Time)
}

// extensionValidator is the format-only stub: the file must be non-empty
// and carry an allowed extension.
type extensionValidator struct {
	permitType string
	allowed    []string
}

func (v extensionValidator) Validate(fileName string, data []byte) ([]string, *time.Time) {
	var errs []string
	if len(data) == 0 {
		errs = append(errs, "empty file")
	}
	ext := strings.ToLower(filepath.Ext(fileName))
	ok := false
	for _, a := range v.allowed {
		if ext == a {
			ok = true
			break
		}
	}
	if !ok {
		errs = append(errs, fmt.Sprintf("extension %s not allowed for %s", ext, v.permitType))
	}
	return errs, nil
}

func defaultValidators() map[string]permitValidator {
	return map[string]permitValidator{
		"STA_2010":         extensionValidator{"STA_2010", []string{".pdf"}},
		"AICA":             extensionValidator{"AICA", []string{".pdf", ".jpg", ".png"}},
		"SPECIAL_APPROVAL": extensionValidator{"SPECIAL_APPROVAL", []string{".pdf"}},
		"END_USER_CERT":    extensionValidator{"END_USER_CERT", []string{".pdf", ".doc", ".docx"}},
	}
}

const defaultDeadlineDays = 30

// PermitLedger records uploaded permits, validates them per type, computes
// compliance deadlines and tracks validity and expiry.
type PermitLedger struct {
	db         *sql.DB
	catalog    *Catalog
	storage    FileStorage
	gate       *ComplianceGate
	validators map[string]permitValidator
}

func NewPermitLedger(db *sql.DB, catalog *Catalog, storage FileStorage, gate *ComplianceGate) *PermitLedger {
	return &PermitLedger{
		db:         db,
		catalog:    catalog,
		storage:    storage,
		gate:       gate,
		validators: defaultValidators(),
	}
}

// RegisterValidator installs or replaces the validator for one permit type.
// Adding a new permit type is a registration, not a code change in the
// upload path.
func (l *PermitLedger) RegisterValidator(permitType string, v permitValidator) {
	l.validators[permitType] = v
}

// UploadPermit stores the file, records the permit, validates it per type
// and rechecks the shipment's compliance. Unknown permit types are rejected
// before any write. A re-upload supersedes older records for compliance
// purposes; the older rows stay for audit.
func (l *PermitLedger) UploadPermit(ctx context.Context, shipmentID, permitType string, fileBytes []byte, fileName, uploadedBy string) (PermitUploadResult, error) {
	validator, ok := l.validators[permitType]
	if !ok {
		return PermitUploadResult{}, fmt.Errorf("%w: %s", ErrUnknownPermitType, permitType)
	}

	path, err := l.storage.Store(fileBytes, fileName)
	if err != nil {
		return PermitUploadResult{}, fmt.Errorf("storing permit file: %w", err)
	}

	validationErrs, expiry := validator.Validate(fileName, fileBytes)

	deadlineDays := defaultDeadlineDays
	if d, ok := l.catalog.PermitDeadlineFor(permitType); ok {
		deadlineDays = d.Days
	}

	now := time.Now()
	record := PermitRecord{
		ShipmentID:         shipmentID,
		PermitType:         permitType,
		FilePath:           path,
		FileName:           fileName,
		Valid:              len(validationErrs) == 0,
		ValidationErrors:   validationErrs,
		Status:             PermitStatusValid,
		ExpiryDate:         expiry,
		ComplianceDeadline: now.AddDate(0, 0, deadlineDays),
		UploadedBy:         uploadedBy,
		UploadedAt:         now,
	}
	if !record.Valid {
		record.Status = PermitStatusInvalid
	}

	id, err := InsertPermitRecord(l.db, record)
	if err != nil {
		return PermitUploadResult{}, fmt.Errorf("recording permit: %w", err)
	}
	record.ID = id

	RecordAudit(l.db, shipmentID, AuditPermitUpload, map[string]any{
		"permit_type":       permitType,
		"file_name":         fileName,
		"valid":             record.Valid,
		"validation_errors": validationErrs,
		"uploaded_by":       uploadedBy,
	})
	log.Printf("permit upload shipment=%s type=%s valid=%t by=%s", shipmentID, permitType, record.Valid, uploadedBy)

	state, err := l.gate.CheckCompliance(ctx, shipmentID)
	if err != nil {
		return PermitUploadResult{}, fmt.Errorf("rechecking compliance: %w", err)
	}

	return PermitUploadResult{
		Record:     record,
		Valid:      record.Valid,
		Errors:     validationErrs,
		Compliance: state,
	}, nil
}

// CleanupExpiredPermits flips expired records to invalid and rechecks
// compliance for every affected shipment. It is externally triggered; the
// core never self-schedules it.
func (l *PermitLedger) CleanupExpiredPermits(ctx context.Context) ([]string, error) {
	affected, err := ExpireOverduePermits(l.db, time.Now())
	if err != nil {
		return nil, fmt.Errorf("expiring permits: %w", err)
	}
	for _, shipmentID := range affected {
		if _, err := l.gate.CheckCompliance(ctx, shipmentID); err != nil {
			log.Printf("sweep recheck failed shipment=%s err=%v", shipmentID, err)
		}
	}
	if len(affected) > 0 {
		log.Printf("permit sweep expired shipments=%d", len(affected))
	}
	return affected, nil
}

// KnownPermitTypes lists the permit types the ledger accepts.
func (l *PermitLedger) KnownPermitTypes() []string {
	var types []string
	for t := range l.validators {
		types = append(types, t)
	}
	return unionStrings(types)
}
