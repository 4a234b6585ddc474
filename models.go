package main

import "time"

// CatalogEntry is one controlled-item classification in the strategic catalog.
// Entries are seeded once and updated only by catalog maintenance, never by
// detection.
type CatalogEntry struct {
	ID              int64
	Code            string // unique strategic classification code
	Description     string
	Category        string
	Subcategory     string
	Keywords        []string
	HSPatterns      []string // HS-code prefixes associated with this entry
	Thresholds      TechThresholds
	Embedding       []float64 // fixed-dimension vector, empty until computed
	RequiredPermits []string
	PermitDeadlines map[string]PermitDeadline // permit type -> deadline
	CreatedAt       time.Time
}

// TechThresholds are the structured predicate parameters for an entry.
// Zero values mean "no threshold".
type TechThresholds struct {
	MinPerformanceTOPS float64 `yaml:"min_performance_tops"`
	MaxProcessNodeNM   float64 `yaml:"max_process_node_nm"`
	MinFrequencyGHz    float64 `yaml:"min_frequency_ghz"`
}

// PermitDeadline describes how long an exporter has to produce a permit of a
// given type, and which authority issues it.
type PermitDeadline struct {
	Days      int    `yaml:"days"`
	Authority string `yaml:"authority"`
}

// ProductItem is one shipment line item as supplied by the upstream document
// extraction. It is input only; the core never persists it directly.
type ProductItem struct {
	Description string
	HSCode      string
	Quantity    int
	Specs       TechSpecs
}

// TechSpecs carries optional structured technical data for an item.
// Zero values mean "unknown".
type TechSpecs struct {
	PerformanceTOPS float64
	ProcessNodeNM   float64
	FrequencyGHz    float64
}

// Detection layer names. These are the keys of DetectionResult.Layers.
const (
	LayerExactMatch = "exact_match"
	LayerSemantic   = "semantic"
	LayerTechSpec   = "tech_spec"
	LayerHSRag      = "hs_rag"
	LayerKeywordRag = "keyword_rag"
)

// LayerOutcome is one detection layer's verdict for one item.
type LayerOutcome struct {
	Confidence   int      `json:"confidence"`
	MatchedCodes []string `json:"matched_codes"`
	Method       string   `json:"method"`
}

// Matched reports whether the layer produced at least one catalog match.
func (o LayerOutcome) Matched() bool {
	return len(o.MatchedCodes) > 0
}

// DetectionResult is the fused verdict for one (shipment, item) pair.
// IsStrategic may later be overturned by a manual review outcome; nothing
// else mutates a stored result.
type DetectionResult struct {
	ID              int64
	ShipmentID      string
	ItemDescription string
	HSCode          string
	Layers          map[string]LayerOutcome
	LayerFailures   map[string]string // layer name -> error text
	Determined      bool              // at least one layer ran cleanly
	FinalConfidence int               // max across matching layers
	IsStrategic     bool              // FinalConfidence >= strategic threshold
	StrategicCodes  []string          // union across matching layers
	RequiredPermits []string          // union across matching layers
	ExportBlocked   bool              // strategic at detection time, pre-permits
	ManualReview    bool              // strategic but below review threshold
	CreatedAt       time.Time
}

// ShipmentDetectionSummary aggregates one detection run over a shipment.
// ExportBlocked here means "has controlled items"; whether the shipment is
// currently cleared to export is the compliance gate's ExportPermitted.
type ShipmentDetectionSummary struct {
	ShipmentID      string
	TotalItems      int
	StrategicItems  int
	ExportBlocked   bool
	RequiredPermits []string
	ComplianceScore int
	Results         []DetectionResult
	ItemErrors      []string
}

// Permit record statuses.
const (
	PermitStatusValid   = "valid"
	PermitStatusInvalid = "invalid"
	PermitStatusExpired = "expired"
)

// PermitRecord is one uploaded permit. Records are never edited in place;
// validity changes only via re-upload (a newer record supersedes) or the
// expiry sweep flipping a record to expired.
type PermitRecord struct {
	ID                 int64
	ShipmentID         string
	PermitType         string
	FilePath           string
	FileName           string
	Valid              bool
	ValidationErrors   []string
	Status             string
	ExpiryDate         *time.Time
	ComplianceDeadline time.Time
	UploadedBy         string
	UploadedAt         time.Time
}

// PermitUploadResult is returned from UploadPermit.
type PermitUploadResult struct {
	Record     PermitRecord
	Valid      bool
	Errors     []string
	Compliance ComplianceState
}

// ItemPermitGap lists the permits still missing for one strategic item.
type ItemPermitGap struct {
	ItemDescription string
	Missing         []string
}

// ComplianceState is derived, never stored as its own row: it is recomputed
// from detection results and permit records on every check.
type ComplianceState struct {
	ShipmentID      string
	ExportPermitted bool
	StrategicItems  int
	CoveredItems    int
	ComplianceScore int
	Gaps            []ItemPermitGap
	CheckedAt       time.Time
}

// MissingPermits returns the deduplicated union of missing permit types.
func (c ComplianceState) MissingPermits() []string {
	seen := make(map[string]bool)
	var out []string
	for _, gap := range c.Gaps {
		for _, p := range gap.Missing {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out
}

// Audit action types.
const (
	AuditDetection        = "DETECTION"
	AuditPermitUpload     = "PERMIT_UPLOAD"
	AuditComplianceCheck  = "COMPLIANCE_CHECK"
	AuditExportValidation = "EXPORT_VALIDATION"
	AuditManualReview     = "MANUAL_REVIEW_REQUEST"
)

// AuditEntry is one append-only audit record. Details stays a structured map
// in memory and is serialized to JSON only at the persistence edge.
type AuditEntry struct {
	ID         int64
	ShipmentID string
	ActionType string
	Details    map[string]any
	CreatedAt  time.Time
}

// Review queue statuses.
const (
	ReviewOpen     = "open"
	ReviewResolved = "resolved"
)

// ReviewEntry is one manual-review queue row for a low-confidence strategic
// detection awaiting human adjudication.
type ReviewEntry struct {
	ID              int64
	ShipmentID      string
	DetectionID     int64
	ItemDescription string
	Priority        string
	Reason          string
	Confidence      int
	Codes           []string
	Brief           string // optional LLM-drafted reviewer brief
	Status          string
	ResolvedBy      string
	ResolvedAt      *time.Time
	CreatedAt       time.Time
}

func unionStrings(sets ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, set := range sets {
		for _, s := range set {
			if s != "" && !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}
