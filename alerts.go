package main

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
)

// Notifier posts compliance events somewhere a human watches. Implementations
// must never fail the operation that triggered the notification.
type Notifier interface {
	Notify(text string)
}

// SlackNotifier posts to the configured compliance channel.
type SlackNotifier struct {
	api       *slack.Client
	channelID string
}

func NewSlackNotifier(api *slack.Client, channelID string) *SlackNotifier {
	return &SlackNotifier{api: api, channelID: channelID}
}

func (n *SlackNotifier) Notify(text string) {
	if n.channelID == "" {
		return
	}
	_, _, err := n.api.PostMessage(n.channelID, slack.MsgOptionText(text, false))
	if err != nil {
		log.Printf("slack notify error: %v", err)
	}
}

// StartSlackBot connects via Socket Mode and serves the compliance slash
// commands for the export-control team.
func StartSlackBot(cfg Config, api *slack.Client, gate *ComplianceGate, ledger *PermitLedger) error {
	client := socketmode.New(api)

	go func() {
		for evt := range client.Events {
			switch evt.Type {
			case socketmode.EventTypeSlashCommand:
				client.Ack(*evt.Request)
				cmd, ok := evt.Data.(slack.SlashCommand)
				if !ok {
					continue
				}
				log.Printf("Slash command received: %s from user=%s channel=%s", cmd.Command, cmd.UserID, cmd.ChannelID)
				go handleSlashCommand(api, gate, ledger, cmd)
			}
		}
	}()

	log.Println("Slack bot connected via Socket Mode")
	return client.Run()
}

func handleSlashCommand(api *slack.Client, gate *ComplianceGate, ledger *PermitLedger, cmd slack.SlashCommand) {
	switch cmd.Command {
	case "/compliance-status":
		handleComplianceStatus(api, gate, cmd)
	case "/validate-export":
		handleValidateExport(api, gate, cmd)
	case "/sweep-permits":
		handleSweepPermits(api, ledger, cmd)
	case "/help":
		handleHelp(api, cmd)
	}
}

func handleComplianceStatus(api *slack.Client, gate *ComplianceGate, cmd slack.SlashCommand) {
	shipmentID := strings.TrimSpace(cmd.Text)
	if shipmentID == "" {
		postEphemeral(api, cmd, "Usage: `/compliance-status <shipment-id>`")
		return
	}
	state, err := gate.CheckCompliance(context.Background(), shipmentID)
	if err != nil {
		postEphemeral(api, cmd, fmt.Sprintf("Error checking compliance for %s: %v", shipmentID, err))
		return
	}
	postEphemeral(api, cmd, FormatComplianceState(state))
}

func handleValidateExport(api *slack.Client, gate *ComplianceGate, cmd slack.SlashCommand) {
	shipmentID := strings.TrimSpace(cmd.Text)
	if shipmentID == "" {
		postEphemeral(api, cmd, "Usage: `/validate-export <shipment-id>`")
		return
	}
	state, err := gate.ValidateExport(context.Background(), shipmentID)
	if err != nil {
		postEphemeral(api, cmd, fmt.Sprintf("Error validating export for %s: %v", shipmentID, err))
		return
	}
	postEphemeral(api, cmd, FormatComplianceState(state))
}

func handleSweepPermits(api *slack.Client, ledger *PermitLedger, cmd slack.SlashCommand) {
	affected, err := ledger.CleanupExpiredPermits(context.Background())
	if err != nil {
		postEphemeral(api, cmd, fmt.Sprintf("Permit sweep failed: %v", err))
		return
	}
	if len(affected) == 0 {
		postEphemeral(api, cmd, "Permit sweep complete: no expired permits.")
		return
	}
	postEphemeral(api, cmd, fmt.Sprintf("Permit sweep complete: %d shipment(s) affected: %s",
		len(affected), strings.Join(affected, ", ")))
}

func handleHelp(api *slack.Client, cmd slack.SlashCommand) {
	help := "Export compliance commands:\n" +
		"• `/compliance-status <shipment-id>` — current permit coverage for a shipment\n" +
		"• `/validate-export <shipment-id>` — run the export gate decision (audited)\n" +
		"• `/sweep-permits` — expire overdue permits now and recheck affected shipments\n" +
		"• `/help` — this message"
	postEphemeral(api, cmd, help)
}

func postEphemeral(api *slack.Client, cmd slack.SlashCommand, text string) {
	_, err := api.PostEphemeral(cmd.ChannelID, cmd.UserID, slack.MsgOptionText(text, false))
	if err != nil {
		log.Printf("slack ephemeral post error: %v", err)
	}
}

// FormatComplianceState renders a gate decision for humans, itemizing every
// blocking reason.
func FormatComplianceState(state ComplianceState) string {
	var b strings.Builder
	if state.ExportPermitted {
		fmt.Fprintf(&b, "Shipment %s: export permitted (score %d%%, %d strategic item(s) covered).",
			state.ShipmentID, state.ComplianceScore, state.StrategicItems)
		return b.String()
	}
	fmt.Fprintf(&b, "Shipment %s: export BLOCKED (score %d%%, %d of %d strategic items covered).\n",
		state.ShipmentID, state.ComplianceScore, state.CoveredItems, state.StrategicItems)
	for _, gap := range state.Gaps {
		fmt.Fprintf(&b, "• %s missing permits: %s\n", gap.ItemDescription, strings.Join(gap.Missing, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}
