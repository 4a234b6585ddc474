package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Ruleset holds every tunable of the detection engine. Defaults are embedded;
// a YAML file can replace any section so thresholds change without touching
// the decision logic.
type Ruleset struct {
	Version            string          `yaml:"version"`
	StrategicThreshold int             `yaml:"strategic_threshold"` // final confidence at/above which an item is strategic
	ReviewThreshold    int             `yaml:"review_threshold"`    // strategic below this goes to manual review
	ExactMatch         ExactMatchRule  `yaml:"exact_match"`
	Semantic           SemanticRule    `yaml:"semantic"`
	TechSpec           []ThresholdRule `yaml:"tech_spec"`
	HSCode             HSCodeRule      `yaml:"hs_code"`
	Keyword            KeywordRule     `yaml:"keyword"`
}

// ExactMatchRule parameterizes the direct-lookup layer.
type ExactMatchRule struct {
	Confidence int `yaml:"confidence"`
}

// SemanticRule parameterizes the embedding-similarity layer.
type SemanticRule struct {
	MinSimilarity float64 `yaml:"min_similarity"`
}

// ThresholdRule is one declarative technical-specification predicate: it
// fires when any listed keyword appears in the description OR any set
// threshold is met, and maps to one catalog code at a fixed confidence.
type ThresholdRule struct {
	Name       string   `yaml:"name"`
	Code       string   `yaml:"code"`
	Confidence int      `yaml:"confidence"`
	Keywords   []string `yaml:"keywords"`
	MinTOPS    float64  `yaml:"min_tops"`
	MaxNodeNM  float64  `yaml:"max_node_nm"`
	MinGHz     float64  `yaml:"min_ghz"`
}

// Satisfied evaluates the predicate against one item.
func (r ThresholdRule) Satisfied(item ProductItem) bool {
	desc := strings.ToLower(item.Description)
	for _, k := range r.Keywords {
		if strings.Contains(desc, strings.ToLower(k)) {
			return true
		}
	}
	if r.MinTOPS > 0 && item.Specs.PerformanceTOPS >= r.MinTOPS {
		return true
	}
	if r.MaxNodeNM > 0 && item.Specs.ProcessNodeNM > 0 && item.Specs.ProcessNodeNM <= r.MaxNodeNM {
		return true
	}
	if r.MinGHz > 0 && item.Specs.FrequencyGHz >= r.MinGHz {
		return true
	}
	return false
}

// HSCodeRule parameterizes the HS-code-assisted retrieval layer.
type HSCodeRule struct {
	Confidence        int                 `yaml:"confidence"`
	MinSimilarity     float64             `yaml:"min_similarity"`
	StrategicPrefixes []string            `yaml:"strategic_prefixes"`
	PrefixCategories  map[string][]string `yaml:"prefix_categories"` // HS prefix -> compatible catalog categories
}

// MatchPrefix returns the strategic prefix the HS code falls under, if any.
func (r HSCodeRule) MatchPrefix(hsCode string) (string, bool) {
	code := strings.ReplaceAll(strings.TrimSpace(hsCode), ".", "")
	if code == "" {
		return "", false
	}
	for _, prefix := range r.StrategicPrefixes {
		if strings.HasPrefix(code, prefix) {
			return prefix, true
		}
	}
	return "", false
}

// KeywordRule parameterizes the keyword-assisted retrieval layer.
type KeywordRule struct {
	Confidence        int      `yaml:"confidence"`
	MinSimilarity     float64  `yaml:"min_similarity"`
	StrategicKeywords []string `yaml:"strategic_keywords"`
}

// MatchKeywords returns the strategic keywords present in the description.
func (r KeywordRule) MatchKeywords(description string) []string {
	desc := strings.ToLower(description)
	var hits []string
	for _, k := range r.StrategicKeywords {
		if strings.Contains(desc, strings.ToLower(k)) {
			hits = append(hits, k)
		}
	}
	return hits
}

// DefaultRuleset mirrors the thresholds the engine shipped with.
func DefaultRuleset() Ruleset {
	return Ruleset{
		Version:            "1",
		StrategicThreshold: 60,
		ReviewThreshold:    70,
		ExactMatch:         ExactMatchRule{Confidence: 95},
		Semantic:           SemanticRule{MinSimilarity: 0.85},
		TechSpec: []ThresholdRule{
			{
				Name:       "ai-accelerator",
				Code:       "3A090",
				Confidence: 90,
				Keywords:   []string{"ai accelerator", "gpu", "tensor", "neural processor"},
				MinTOPS:    100,
				MaxNodeNM:  7,
			},
			{
				Name:       "advanced-node-semiconductor",
				Code:       "3A001",
				Confidence: 85,
				Keywords:   []string{"radiation hardened", "rad-hard"},
				MaxNodeNM:  14,
			},
			{
				Name:       "strong-cryptography",
				Code:       "5A002",
				Confidence: 80,
				Keywords:   []string{"encryption", "cryptographic"},
			},
		},
		HSCode: HSCodeRule{
			Confidence:        70,
			MinSimilarity:     0.65,
			StrategicPrefixes: []string{"8473", "8542", "8517", "9006", "9014", "9031"},
			PrefixCategories: map[string][]string{
				"8473": {"electronics"},
				"8542": {"electronics"},
				"8517": {"telecommunications"},
				"9006": {"sensors"},
				"9014": {"navigation"},
				"9031": {"navigation", "sensors"},
			},
		},
		Keyword: KeywordRule{
			Confidence:        60,
			MinSimilarity:     0.60,
			StrategicKeywords: []string{
				"ai accelerator", "gpu", "encryption", "cryptographic",
				"inertial measurement", "gyroscope", "thermal imaging",
				"radiation hardened", "image intensifier",
			},
		},
	}
}

// LoadRuleset returns the defaults overlaid with a YAML ruleset file when
// path is non-empty. Unset numeric fields in the file fall back to defaults.
func LoadRuleset(path string) (Ruleset, error) {
	rs := DefaultRuleset()
	if strings.TrimSpace(path) == "" {
		return rs, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return rs, fmt.Errorf("read ruleset: %w", err)
	}
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return rs, fmt.Errorf("parse ruleset yaml: %w", err)
	}
	if err := rs.Validate(); err != nil {
		return rs, fmt.Errorf("ruleset %s: %w", path, err)
	}
	return rs, nil
}

func (rs Ruleset) Validate() error {
	if rs.StrategicThreshold < 1 || rs.StrategicThreshold > 100 {
		return fmt.Errorf("strategic_threshold %d out of range", rs.StrategicThreshold)
	}
	if rs.ReviewThreshold < rs.StrategicThreshold {
		return fmt.Errorf("review_threshold %d below strategic_threshold %d", rs.ReviewThreshold, rs.StrategicThreshold)
	}
	if rs.ExactMatch.Confidence < 1 || rs.ExactMatch.Confidence > 100 {
		return fmt.Errorf("exact_match confidence %d out of range", rs.ExactMatch.Confidence)
	}
	for _, r := range rs.TechSpec {
		if r.Code == "" {
			return fmt.Errorf("tech_spec rule %q has no code", r.Name)
		}
		if r.Confidence < 1 || r.Confidence > 100 {
			return fmt.Errorf("tech_spec rule %q confidence %d out of range", r.Name, r.Confidence)
		}
	}
	return nil
}
