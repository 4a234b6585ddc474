package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = "claude-sonnet-4-5-20250929"

// ReviewQueue holds low-confidence strategic detections for human
// adjudication. When an Anthropic key is configured, each entry gets a short
// drafted reviewer brief; drafting failures are non-fatal and the entry is
// stored without one.
type ReviewQueue struct {
	db       *sql.DB
	cfg      Config
	notifier Notifier // optional
}

func NewReviewQueue(db *sql.DB, cfg Config, notifier Notifier) *ReviewQueue {
	return &ReviewQueue{db: db, cfg: cfg, notifier: notifier}
}

// Enqueue creates one review entry for a persisted detection result.
func (q *ReviewQueue) Enqueue(ctx context.Context, result DetectionResult) error {
	entry := ReviewEntry{
		ShipmentID:      result.ShipmentID,
		DetectionID:     result.ID,
		ItemDescription: result.ItemDescription,
		Priority:        "normal",
		Reason:          "low confidence strategic detection",
		Confidence:      result.FinalConfidence,
		Codes:           result.StrategicCodes,
		Status:          ReviewOpen,
	}

	if q.cfg.ReviewBriefEnabled {
		brief, err := draftReviewerBrief(ctx, q.cfg, result)
		if err != nil {
			log.Printf("review brief failed shipment=%s item=%q err=%v", result.ShipmentID, result.ItemDescription, err)
		} else {
			entry.Brief = brief
		}
	}

	id, err := InsertReviewEntry(q.db, entry)
	if err != nil {
		return fmt.Errorf("enqueueing review: %w", err)
	}
	entry.ID = id

	RecordAudit(q.db, result.ShipmentID, AuditManualReview, map[string]any{
		"item":       result.ItemDescription,
		"confidence": result.FinalConfidence,
		"codes":      result.StrategicCodes,
		"priority":   entry.Priority,
		"reason":     entry.Reason,
	})
	log.Printf("review enqueued shipment=%s item=%q confidence=%d", result.ShipmentID, result.ItemDescription, result.FinalConfidence)

	if q.notifier != nil {
		q.notifier.Notify(fmt.Sprintf(
			"Manual review needed for shipment %s: %q matched %s at confidence %d",
			result.ShipmentID, result.ItemDescription, joinList(result.StrategicCodes), result.FinalConfidence))
	}
	return nil
}

// Resolve applies a human verdict to the underlying detection result. This
// is the only path that mutates a stored detection.
func (q *ReviewQueue) Resolve(ctx context.Context, id int64, isStrategic bool, resolvedBy string) error {
	entry, err := GetReviewEntryByID(q.db, id)
	if err != nil {
		return fmt.Errorf("loading review entry: %w", err)
	}
	if entry.Status == ReviewResolved {
		return fmt.Errorf("review entry %d already resolved by %s", id, entry.ResolvedBy)
	}

	if err := UpdateDetectionVerdict(q.db, entry.DetectionID, isStrategic); err != nil {
		return fmt.Errorf("applying review verdict: %w", err)
	}
	if err := MarkReviewResolved(q.db, id, resolvedBy, time.Now()); err != nil {
		return fmt.Errorf("resolving review entry: %w", err)
	}
	log.Printf("review resolved id=%d shipment=%s strategic=%t by=%s", id, entry.ShipmentID, isStrategic, resolvedBy)
	return nil
}

func draftReviewerBrief(ctx context.Context, cfg Config, result DetectionResult) (string, error) {
	var layerLines strings.Builder
	for name, outcome := range result.Layers {
		layerLines.WriteString(fmt.Sprintf("- %s: confidence %d, codes %s (%s)\n",
			name, outcome.Confidence, joinList(outcome.MatchedCodes), outcome.Method))
	}
	for name, failure := range result.LayerFailures {
		layerLines.WriteString(fmt.Sprintf("- %s: failed (%s)\n", name, failure))
	}

	systemPrompt := `You summarize export-control detection results for a human compliance reviewer.
Write 2-3 plain sentences: what the item appears to be, why it was flagged, and what the reviewer should verify.
Do not recommend a verdict. Respond with the brief text only (no markdown).`

	userPrompt := fmt.Sprintf("Item: %s\nHS code: %s\nFinal confidence: %d\nMatched codes: %s\nLayer outcomes:\n%s",
		result.ItemDescription, result.HSCode, result.FinalConfidence,
		joinList(result.StrategicCodes), layerLines.String())

	client := anthropic.NewClient(option.WithAPIKey(cfg.AnthropicAPIKey))
	model := cfg.ReviewBriefModel
	if model == "" {
		model = defaultAnthropicModel
	}
	log.Printf("review brief model=%s item=%q", model, result.ItemDescription)

	message, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 512,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt, CacheControl: anthropic.NewCacheControlEphemeralParam()},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("Anthropic API error: %w", err)
	}
	for _, block := range message.Content {
		if block.Type == "text" {
			return strings.TrimSpace(block.Text), nil
		}
	}
	return "", fmt.Errorf("no text content in Anthropic response")
}
