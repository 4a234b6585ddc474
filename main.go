package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/slack-go/slack"
)

func main() {
	cfg := LoadConfig()

	db, err := InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to init database: %v", err)
	}
	defer db.Close()

	var embedder EmbeddingProvider
	if cfg.EmbeddingProvider == "openai" && cfg.OpenAIAPIKey != "" {
		embedder = NewOpenAIEmbedder(cfg)
	}

	if err := SeedCatalog(context.Background(), db, cfg, embedder); err != nil {
		log.Fatalf("Failed to seed catalog: %v", err)
	}
	catalog, err := LoadCatalog(db)
	if err != nil {
		log.Fatalf("Failed to load catalog: %v", err)
	}

	rules, err := LoadRuleset(cfg.RulesetPath)
	if err != nil {
		log.Fatalf("Failed to load ruleset: %v", err)
	}

	storage, err := NewDiskStorage(cfg.PermitFileDir)
	if err != nil {
		log.Fatalf("Failed to init permit storage: %v", err)
	}

	var api *slack.Client
	var notifier Notifier
	if cfg.SlackConfigured() {
		api = slack.New(cfg.SlackBotToken, slack.OptionAppLevelToken(cfg.SlackAppToken))
		notifier = NewSlackNotifier(api, cfg.ComplianceChannelID)
	}

	gate := NewComplianceGate(db)
	ledger := NewPermitLedger(db, catalog, storage, gate)
	reviews := NewReviewQueue(db, cfg, notifier)
	engine := NewDetectionEngine(catalog, rules, embedder)
	orchestrator := NewDetectionOrchestrator(db, engine, reviews, notifier)

	// One-shot mode: classify an extracted shipment file and exit.
	// Usage: exportgate detect <shipment.yaml>
	if len(os.Args) > 1 && os.Args[1] == "detect" {
		if len(os.Args) < 3 {
			log.Fatalf("Usage: %s detect <shipment.yaml>", os.Args[0])
		}
		shipmentID, items, err := LoadShipmentItems(os.Args[2])
		if err != nil {
			log.Fatalf("Failed to load shipment: %v", err)
		}
		summary, err := orchestrator.DetectShipment(context.Background(), shipmentID, items)
		if err != nil {
			log.Fatalf("Detection failed: %v", err)
		}
		fmt.Println(FormatDetectionSummary(summary))
		return
	}

	StartSweepScheduler(cfg, ledger, notifier)

	log.Println("Starting Export Compliance Gate...")
	if api != nil {
		if err := StartSlackBot(cfg, api, gate, ledger); err != nil {
			log.Fatalf("Slack bot error: %v", err)
		}
		return
	}

	// Without Slack the process only serves the scheduled sweep.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("Shutting down")
}
