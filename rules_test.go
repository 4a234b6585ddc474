package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultRulesetIsValid(t *testing.T) {
	rs := DefaultRuleset()
	if err := rs.Validate(); err != nil {
		t.Fatalf("default ruleset must validate: %v", err)
	}
	if rs.StrategicThreshold != 60 || rs.ReviewThreshold != 70 {
		t.Fatalf("unexpected default thresholds: %d/%d", rs.StrategicThreshold, rs.ReviewThreshold)
	}
}

func TestLoadRulesetEmptyPathReturnsDefaults(t *testing.T) {
	rs, err := LoadRuleset("")
	if err != nil {
		t.Fatalf("LoadRuleset failed: %v", err)
	}
	if rs.ExactMatch.Confidence != 95 {
		t.Fatalf("expected default exact-match confidence, got %d", rs.ExactMatch.Confidence)
	}
}

func TestLoadRulesetOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ruleset.yaml")
	content := `strategic_threshold: 50
semantic:
  min_similarity: 0.9
tech_spec:
  - name: quantum-sensor
    code: 6A006
    confidence: 88
    keywords: ["magnetometer"]
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing ruleset file: %v", err)
	}

	rs, err := LoadRuleset(path)
	if err != nil {
		t.Fatalf("LoadRuleset failed: %v", err)
	}
	if rs.StrategicThreshold != 50 {
		t.Fatalf("expected overridden threshold 50, got %d", rs.StrategicThreshold)
	}
	if rs.Semantic.MinSimilarity != 0.9 {
		t.Fatalf("expected overridden similarity 0.9, got %v", rs.Semantic.MinSimilarity)
	}
	if len(rs.TechSpec) != 1 || rs.TechSpec[0].Code != "6A006" {
		t.Fatalf("expected file to replace tech rules, got %+v", rs.TechSpec)
	}
	// Untouched sections keep their defaults.
	if rs.ExactMatch.Confidence != 95 {
		t.Fatalf("expected default exact-match confidence kept, got %d", rs.ExactMatch.Confidence)
	}
	if len(rs.HSCode.StrategicPrefixes) == 0 {
		t.Fatal("expected default HS prefixes kept")
	}
}

func TestLoadRulesetRejectsBadThresholds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ruleset.yaml")
	content := `strategic_threshold: 80
review_threshold: 70
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing ruleset file: %v", err)
	}
	if _, err := LoadRuleset(path); err == nil {
		t.Fatal("expected validation error for review below strategic threshold")
	}
}

func TestThresholdRuleSatisfied(t *testing.T) {
	rule := ThresholdRule{
		Name:       "ai-accelerator",
		Code:       "3A090",
		Confidence: 90,
		Keywords:   []string{"gpu"},
		MinTOPS:    100,
		MaxNodeNM:  7,
		MinGHz:     5,
	}

	cases := []struct {
		name string
		item ProductItem
		want bool
	}{
		{"keyword hit", ProductItem{Description: "Datacenter GPU board"}, true},
		{"tops threshold", ProductItem{Description: "compute card", Specs: TechSpecs{PerformanceTOPS: 150}}, true},
		{"tops below threshold", ProductItem{Description: "compute card", Specs: TechSpecs{PerformanceTOPS: 50}}, false},
		{"node threshold", ProductItem{Description: "chip", Specs: TechSpecs{ProcessNodeNM: 5}}, true},
		{"node zero means unknown", ProductItem{Description: "chip"}, false},
		{"frequency threshold", ProductItem{Description: "oscillator", Specs: TechSpecs{FrequencyGHz: 6}}, true},
		{"nothing satisfied", ProductItem{Description: "cable", Specs: TechSpecs{ProcessNodeNM: 28}}, false},
	}
	for _, tc := range cases {
		if got := rule.Satisfied(tc.item); got != tc.want {
			t.Errorf("%s: got %t, want %t", tc.name, got, tc.want)
		}
	}
}

func TestHSCodeMatchPrefixStripsDots(t *testing.T) {
	rule := DefaultRuleset().HSCode

	prefix, ok := rule.MatchPrefix("8473.30.90")
	if !ok || prefix != "8473" {
		t.Fatalf("expected prefix 8473, got %q ok=%t", prefix, ok)
	}
	if _, ok := rule.MatchPrefix("4819.10.00"); ok {
		t.Fatal("benign prefix must not match")
	}
	if _, ok := rule.MatchPrefix("  "); ok {
		t.Fatal("blank HS code must not match")
	}
}

func TestKeywordRuleMatches(t *testing.T) {
	rule := DefaultRuleset().Keyword

	hits := rule.MatchKeywords("Industrial Thermal Imaging Module with GPU postprocessing")
	if len(hits) != 2 {
		t.Fatalf("expected 2 keyword hits, got %v", hits)
	}
	if hits := rule.MatchKeywords("plain steel bolts"); len(hits) != 0 {
		t.Fatalf("expected no hits, got %v", hits)
	}
}
