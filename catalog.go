package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Catalog is the in-memory view of the strategic item catalog. It is loaded
// once at startup and read-only afterwards; detection never writes to it.
type Catalog struct {
	entries []CatalogEntry
	byCode  map[string]CatalogEntry
}

type catalogFile struct {
	Entries []catalogFileEntry `yaml:"entries"`
}

type catalogFileEntry struct {
	Code            string                    `yaml:"code"`
	Description     string                    `yaml:"description"`
	Category        string                    `yaml:"category"`
	Subcategory     string                    `yaml:"subcategory"`
	Keywords        []string                  `yaml:"keywords"`
	HSPatterns      []string                  `yaml:"hs_patterns"`
	Thresholds      TechThresholds            `yaml:"thresholds"`
	RequiredPermits []string                  `yaml:"required_permits"`
	PermitDeadlines map[string]PermitDeadline `yaml:"permit_deadlines"`
}

// defaultCatalogEntries is the built-in reference set. A catalog YAML file
// extends or overrides it by code.
func defaultCatalogEntries() []CatalogEntry {
	return []CatalogEntry{
		{
			Code:        "3A090",
			Description: "High-performance AI accelerator and GPU compute hardware",
			Category:    "electronics",
			Subcategory: "processors",
			Keywords:    []string{"ai accelerator", "gpu", "tensor", "neural processor", "tpu"},
			HSPatterns:  []string{"8473", "8542"},
			Thresholds:  TechThresholds{MinPerformanceTOPS: 100, MaxProcessNodeNM: 7},
			RequiredPermits: []string{"STA_2010", "AICA"},
			PermitDeadlines: map[string]PermitDeadline{
				"STA_2010": {Days: 30, Authority: "Strategic Trade Authority"},
				"AICA":     {Days: 14, Authority: "Advanced Computing Authority"},
			},
		},
		{
			Code:        "3A001",
			Description: "Radiation-hardened integrated circuits and microelectronics",
			Category:    "electronics",
			Subcategory: "integrated-circuits",
			Keywords:    []string{"radiation hardened", "rad-hard", "asic", "fpga"},
			HSPatterns:  []string{"8542"},
			Thresholds:  TechThresholds{MaxProcessNodeNM: 14},
			RequiredPermits: []string{"STA_2010"},
			PermitDeadlines: map[string]PermitDeadline{
				"STA_2010": {Days: 30, Authority: "Strategic Trade Authority"},
			},
		},
		{
			Code:        "5A002",
			Description: "Cryptographic information security systems and equipment",
			Category:    "telecommunications",
			Subcategory: "information-security",
			Keywords:    []string{"encryption", "cryptographic", "key management", "hsm"},
			HSPatterns:  []string{"8517", "8471"},
			RequiredPermits: []string{"STA_2010", "END_USER_CERT"},
			PermitDeadlines: map[string]PermitDeadline{
				"STA_2010":      {Days: 30, Authority: "Strategic Trade Authority"},
				"END_USER_CERT": {Days: 21, Authority: "Trade Control Bureau"},
			},
		},
		{
			Code:        "6A003",
			Description: "High-speed and radiation-hardened imaging cameras",
			Category:    "sensors",
			Subcategory: "cameras",
			Keywords:    []string{"thermal imaging", "infrared camera", "image intensifier"},
			HSPatterns:  []string{"9006", "8525"},
			Thresholds:  TechThresholds{MinFrequencyGHz: 1},
			RequiredPermits: []string{"SPECIAL_APPROVAL"},
			PermitDeadlines: map[string]PermitDeadline{
				"SPECIAL_APPROVAL": {Days: 45, Authority: "Defence Export Office"},
			},
		},
		{
			Code:        "7A003",
			Description: "Inertial measurement units and precision navigation systems",
			Category:    "navigation",
			Subcategory: "inertial",
			Keywords:    []string{"inertial measurement", "imu", "gyroscope", "accelerometer", "ins"},
			HSPatterns:  []string{"9014", "9031"},
			RequiredPermits: []string{"STA_2010", "END_USER_CERT"},
			PermitDeadlines: map[string]PermitDeadline{
				"STA_2010":      {Days: 30, Authority: "Strategic Trade Authority"},
				"END_USER_CERT": {Days: 21, Authority: "Trade Control Bureau"},
			},
		},
	}
}

// LoadCatalogFile reads additional catalog entries from a YAML file.
func LoadCatalogFile(path string) ([]CatalogEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog yaml: %w", err)
	}
	var entries []CatalogEntry
	for _, e := range f.Entries {
		if strings.TrimSpace(e.Code) == "" {
			return nil, fmt.Errorf("catalog entry with empty code in %s", path)
		}
		entries = append(entries, CatalogEntry{
			Code:            strings.TrimSpace(e.Code),
			Description:     e.Description,
			Category:        e.Category,
			Subcategory:     e.Subcategory,
			Keywords:        e.Keywords,
			HSPatterns:      e.HSPatterns,
			Thresholds:      e.Thresholds,
			RequiredPermits: e.RequiredPermits,
			PermitDeadlines: e.PermitDeadlines,
		})
	}
	return entries, nil
}

// SeedCatalog writes the default entries (plus any file-provided entries,
// which override by code) into the database, then computes embeddings for
// entries that do not have one yet. Embedding failures are logged and left
// for a later seed run; the catalog stays usable for the non-semantic layers.
func SeedCatalog(ctx context.Context, db *sql.DB, cfg Config, provider EmbeddingProvider) error {
	entries := defaultCatalogEntries()
	if cfg.CatalogPath != "" {
		fileEntries, err := LoadCatalogFile(cfg.CatalogPath)
		if err != nil {
			return err
		}
		byCode := make(map[string]int, len(entries))
		for i, e := range entries {
			byCode[e.Code] = i
		}
		for _, e := range fileEntries {
			if i, ok := byCode[e.Code]; ok {
				entries[i] = e
			} else {
				entries = append(entries, e)
			}
		}
	}

	inserted, err := InsertCatalogEntries(db, entries)
	if err != nil {
		return fmt.Errorf("seeding catalog: %w", err)
	}
	log.Printf("catalog seeded entries=%d", inserted)

	if provider == nil {
		return nil
	}
	stored, err := GetCatalogEntries(db)
	if err != nil {
		return err
	}
	for _, e := range stored {
		if len(e.Embedding) > 0 {
			continue
		}
		vec, err := provider.Embed(ctx, e.Description)
		if err != nil {
			log.Printf("catalog embed skipped code=%s err=%v", e.Code, err)
			continue
		}
		if err := UpdateCatalogEmbedding(db, e.Code, vec); err != nil {
			return fmt.Errorf("storing embedding for %s: %w", e.Code, err)
		}
	}
	return nil
}

// LoadCatalog reads the catalog table into memory.
func LoadCatalog(db *sql.DB) (*Catalog, error) {
	entries, err := GetCatalogEntries(db)
	if err != nil {
		return nil, err
	}
	return NewCatalog(entries), nil
}

func NewCatalog(entries []CatalogEntry) *Catalog {
	byCode := make(map[string]CatalogEntry, len(entries))
	for _, e := range entries {
		byCode[e.Code] = e
	}
	return &Catalog{entries: entries, byCode: byCode}
}

func (c *Catalog) Entries() []CatalogEntry { return c.entries }

func (c *Catalog) ByCode(code string) (CatalogEntry, bool) {
	e, ok := c.byCode[code]
	return e, ok
}

// EntriesInCategories returns entries whose category is in the given set.
func (c *Catalog) EntriesInCategories(categories []string) []CatalogEntry {
	want := make(map[string]bool, len(categories))
	for _, cat := range categories {
		want[strings.ToLower(cat)] = true
	}
	var out []CatalogEntry
	for _, e := range c.entries {
		if want[strings.ToLower(e.Category)] {
			out = append(out, e)
		}
	}
	return out
}

// EntriesWithAnyKeyword returns entries sharing at least one of the given
// keywords (case-insensitive).
func (c *Catalog) EntriesWithAnyKeyword(keywords []string) []CatalogEntry {
	want := make(map[string]bool, len(keywords))
	for _, k := range keywords {
		want[strings.ToLower(strings.TrimSpace(k))] = true
	}
	var out []CatalogEntry
	for _, e := range c.entries {
		for _, k := range e.Keywords {
			if want[strings.ToLower(k)] {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// PermitDeadlineFor resolves the deadline configuration for a permit type by
// scanning the catalog. Returns false for a permit type no entry references.
func (c *Catalog) PermitDeadlineFor(permitType string) (PermitDeadline, bool) {
	for _, e := range c.entries {
		if d, ok := e.PermitDeadlines[permitType]; ok {
			return d, true
		}
	}
	return PermitDeadline{}, false
}

// PermitTypes returns every permit type referenced by any catalog entry.
func (c *Catalog) PermitTypes() []string {
	var all [][]string
	for _, e := range c.entries {
		all = append(all, e.RequiredPermits)
		for t := range e.PermitDeadlines {
			all = append(all, []string{t})
		}
	}
	return unionStrings(all...)
}
