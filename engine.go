package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"time"
)

// DetectionEngine classifies one product item against the strategic catalog
// using five independent layers and fuses their outputs into one verdict.
// Layers are fault-isolated: a failing layer is recorded and the rest run.
type DetectionEngine struct {
	catalog  *Catalog
	rules    Ruleset
	embedder EmbeddingProvider // nil disables the semantic layers
}

func NewDetectionEngine(catalog *Catalog, rules Ruleset, embedder EmbeddingProvider) *DetectionEngine {
	return &DetectionEngine{catalog: catalog, rules: rules, embedder: embedder}
}

// Detect runs all five layers over one item and fuses the outcome.
// The final confidence is the maximum across matching layers, never a sum or
// average; codes and permits are the union across all matching layers, so a
// losing layer still contributes its requirements.
func (e *DetectionEngine) Detect(ctx context.Context, item ProductItem) DetectionResult {
	result := DetectionResult{
		ItemDescription: item.Description,
		HSCode:          item.HSCode,
		Layers:          make(map[string]LayerOutcome),
		LayerFailures:   make(map[string]string),
		CreatedAt:       time.Now(),
	}

	// One embedding per item, shared by the three semantic-dependent layers.
	itemVec, embedErr := e.embedItem(ctx, item)

	type layerRun struct {
		name string
		run  func() (LayerOutcome, error)
	}
	layers := []layerRun{
		{LayerExactMatch, func() (LayerOutcome, error) { return e.exactMatchLayer(item) }},
		{LayerSemantic, func() (LayerOutcome, error) { return e.semanticLayer(itemVec, embedErr) }},
		{LayerTechSpec, func() (LayerOutcome, error) { return e.techSpecLayer(item) }},
		{LayerHSRag, func() (LayerOutcome, error) { return e.hsRagLayer(item, itemVec, embedErr) }},
		{LayerKeywordRag, func() (LayerOutcome, error) { return e.keywordRagLayer(item, itemVec, embedErr) }},
	}

	for _, layer := range layers {
		outcome, err := layer.run()
		if err != nil {
			log.Printf("detect layer failed layer=%s item=%q err=%v", layer.name, item.Description, err)
			result.LayerFailures[layer.name] = err.Error()
			continue
		}
		result.Determined = true
		if outcome.Matched() {
			result.Layers[layer.name] = outcome
		}
	}

	var codeSets, permitSets [][]string
	for _, outcome := range result.Layers {
		if outcome.Confidence > result.FinalConfidence {
			result.FinalConfidence = outcome.Confidence
		}
		codeSets = append(codeSets, outcome.MatchedCodes)
		for _, code := range outcome.MatchedCodes {
			if entry, ok := e.catalog.ByCode(code); ok {
				permitSets = append(permitSets, entry.RequiredPermits)
			}
		}
	}
	result.StrategicCodes = unionStrings(codeSets...)
	sort.Strings(result.StrategicCodes)
	result.RequiredPermits = unionStrings(permitSets...)
	sort.Strings(result.RequiredPermits)

	result.IsStrategic = result.FinalConfidence >= e.rules.StrategicThreshold
	result.ExportBlocked = result.IsStrategic
	result.ManualReview = result.IsStrategic && result.FinalConfidence < e.rules.ReviewThreshold
	return result
}

func (e *DetectionEngine) embedItem(ctx context.Context, item ProductItem) ([]float64, error) {
	if e.embedder == nil {
		return nil, nil
	}
	vec, err := e.embedder.Embed(ctx, item.Description)
	if err != nil {
		return nil, fmt.Errorf("embedding item: %w", err)
	}
	return vec, nil
}

// exactMatchLayer is the highest-trust direct lookup: a catalog keyword or
// description contained verbatim in the item description, or an HS-code
// pattern match.
func (e *DetectionEngine) exactMatchLayer(item ProductItem) (LayerOutcome, error) {
	desc := strings.ToLower(item.Description)
	hsCode := strings.ReplaceAll(strings.TrimSpace(item.HSCode), ".", "")

	var codes []string
	for _, entry := range e.catalog.Entries() {
		matched := false
		if entry.Description != "" && strings.Contains(desc, strings.ToLower(entry.Description)) {
			matched = true
		}
		if !matched {
			for _, k := range entry.Keywords {
				if strings.Contains(desc, strings.ToLower(k)) {
					matched = true
					break
				}
			}
		}
		if !matched && hsCode != "" {
			for _, p := range entry.HSPatterns {
				if strings.HasPrefix(hsCode, p) {
					matched = true
					break
				}
			}
		}
		if matched {
			codes = append(codes, entry.Code)
		}
	}
	if len(codes) == 0 {
		return LayerOutcome{}, nil
	}
	return LayerOutcome{
		Confidence:   e.rules.ExactMatch.Confidence,
		MatchedCodes: codes,
		Method:       "direct catalog lookup",
	}, nil
}

// semanticLayer retrieves catalog entries by embedding cosine similarity,
// ranked descending. Confidence is the best similarity scaled to 0-100.
func (e *DetectionEngine) semanticLayer(itemVec []float64, embedErr error) (LayerOutcome, error) {
	if e.embedder == nil {
		return LayerOutcome{}, nil
	}
	if embedErr != nil {
		return LayerOutcome{}, embedErr
	}
	codes, best := e.rankBySimilarity(itemVec, e.catalog.Entries(), e.rules.Semantic.MinSimilarity)
	if len(codes) == 0 {
		return LayerOutcome{}, nil
	}
	return LayerOutcome{
		Confidence:   int(math.Round(best * 100)),
		MatchedCodes: codes,
		Method:       "embedding similarity search",
	}, nil
}

// techSpecLayer evaluates the ordered declarative predicates. The first
// satisfied rule per code wins; different rules may still contribute
// different codes.
func (e *DetectionEngine) techSpecLayer(item ProductItem) (LayerOutcome, error) {
	matched := make(map[string]bool)
	var codes []string
	best := 0
	for _, rule := range e.rules.TechSpec {
		if matched[rule.Code] {
			continue
		}
		if !rule.Satisfied(item) {
			continue
		}
		matched[rule.Code] = true
		codes = append(codes, rule.Code)
		if rule.Confidence > best {
			best = rule.Confidence
		}
	}
	if len(codes) == 0 {
		return LayerOutcome{}, nil
	}
	return LayerOutcome{
		Confidence:   best,
		MatchedCodes: codes,
		Method:       "technical specification rules",
	}, nil
}

// hsRagLayer triggers only when the HS code falls under a strategic prefix,
// then validates with semantic similarity narrowed to compatible categories.
func (e *DetectionEngine) hsRagLayer(item ProductItem, itemVec []float64, embedErr error) (LayerOutcome, error) {
	prefix, ok := e.rules.HSCode.MatchPrefix(item.HSCode)
	if !ok {
		return LayerOutcome{}, nil
	}
	if e.embedder == nil {
		return LayerOutcome{}, nil
	}
	if embedErr != nil {
		return LayerOutcome{}, embedErr
	}
	candidates := e.catalog.Entries()
	if cats := e.rules.HSCode.PrefixCategories[prefix]; len(cats) > 0 {
		candidates = e.catalog.EntriesInCategories(cats)
	}
	codes, _ := e.rankBySimilarity(itemVec, candidates, e.rules.HSCode.MinSimilarity)
	if len(codes) == 0 {
		return LayerOutcome{}, nil
	}
	return LayerOutcome{
		Confidence:   e.rules.HSCode.Confidence,
		MatchedCodes: codes,
		Method:       "hs-code assisted retrieval",
	}, nil
}

// keywordRagLayer triggers on a strategic keyword in the description, then
// validates against catalog entries sharing one of those keywords.
func (e *DetectionEngine) keywordRagLayer(item ProductItem, itemVec []float64, embedErr error) (LayerOutcome, error) {
	hits := e.rules.Keyword.MatchKeywords(item.Description)
	if len(hits) == 0 {
		return LayerOutcome{}, nil
	}
	if e.embedder == nil {
		return LayerOutcome{}, nil
	}
	if embedErr != nil {
		return LayerOutcome{}, embedErr
	}
	candidates := e.catalog.EntriesWithAnyKeyword(hits)
	codes, _ := e.rankBySimilarity(itemVec, candidates, e.rules.Keyword.MinSimilarity)
	if len(codes) == 0 {
		return LayerOutcome{}, nil
	}
	return LayerOutcome{
		Confidence:   e.rules.Keyword.Confidence,
		MatchedCodes: codes,
		Method:       "keyword assisted retrieval",
	}, nil
}

// rankBySimilarity returns the codes of entries whose embedding similarity
// to the item vector exceeds minSim, best first, plus the best similarity.
func (e *DetectionEngine) rankBySimilarity(itemVec []float64, entries []CatalogEntry, minSim float64) ([]string, float64) {
	if len(itemVec) == 0 {
		return nil, 0
	}
	type scored struct {
		code string
		sim  float64
	}
	var results []scored
	best := 0.0
	for _, entry := range entries {
		if len(entry.Embedding) == 0 {
			continue
		}
		sim := cosineSim(itemVec, entry.Embedding)
		if sim > minSim {
			results = append(results, scored{entry.Code, sim})
			if sim > best {
				best = sim
			}
		}
	}
	sort.Slice(results, func(a, b int) bool {
		return results[a].sim > results[b].sim
	})
	codes := make([]string, len(results))
	for i, r := range results {
		codes[i] = r.code
	}
	return codes, best
}
