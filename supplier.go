package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// shipmentFile is the handoff format from the upstream document-extraction
// collaborator: one normalized list of product items per shipment. The core
// does not validate their provenance.
type shipmentFile struct {
	ShipmentID string            `yaml:"shipment_id"`
	Items      []shipmentFileItem `yaml:"items"`
}

type shipmentFileItem struct {
	Description string  `yaml:"description"`
	HSCode      string  `yaml:"hs_code"`
	Quantity    int     `yaml:"quantity"`
	Specs       struct {
		PerformanceTOPS float64 `yaml:"performance_tops"`
		ProcessNodeNM   float64 `yaml:"process_node_nm"`
		FrequencyGHz    float64 `yaml:"frequency_ghz"`
	} `yaml:"specs"`
}

// LoadShipmentItems reads an extracted shipment item list.
func LoadShipmentItems(path string) (string, []ProductItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("read shipment file: %w", err)
	}
	var f shipmentFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return "", nil, fmt.Errorf("parse shipment yaml: %w", err)
	}
	if strings.TrimSpace(f.ShipmentID) == "" {
		return "", nil, fmt.Errorf("shipment file %s has no shipment_id", path)
	}
	var items []ProductItem
	for _, it := range f.Items {
		items = append(items, ProductItem{
			Description: it.Description,
			HSCode:      it.HSCode,
			Quantity:    it.Quantity,
			Specs: TechSpecs{
				PerformanceTOPS: it.Specs.PerformanceTOPS,
				ProcessNodeNM:   it.Specs.ProcessNodeNM,
				FrequencyGHz:    it.Specs.FrequencyGHz,
			},
		})
	}
	return f.ShipmentID, items, nil
}

// FormatDetectionSummary renders one detection run for logs and operators.
func FormatDetectionSummary(s ShipmentDetectionSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Shipment %s: %d item(s), %d strategic", s.ShipmentID, s.TotalItems, s.StrategicItems)
	if s.ExportBlocked {
		fmt.Fprintf(&b, " — export blocked pending permits: %s", joinList(s.RequiredPermits))
	}
	fmt.Fprintf(&b, " (detection score %d)", s.ComplianceScore)
	for _, r := range s.Results {
		verdict := "clear"
		if r.IsStrategic {
			verdict = "strategic " + joinList(r.StrategicCodes)
		} else if !r.Determined {
			verdict = "undetermined"
		}
		fmt.Fprintf(&b, "\n• %s — %s (confidence %d)", r.ItemDescription, verdict, r.FinalConfidence)
	}
	for _, e := range s.ItemErrors {
		fmt.Fprintf(&b, "\n! %s", e)
	}
	return b.String()
}
