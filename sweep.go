package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// StartSweepScheduler runs the permit-expiry sweep on a cron schedule and
// posts a summary to the compliance channel. The schedule is a standard
// 5-field cron expression (minute hour day-of-month month day-of-week).
// Examples: "0 2 * * *" (daily 2am), "0 */6 * * *" (every 6 hours).
func StartSweepScheduler(cfg Config, ledger *PermitLedger, notifier Notifier) {
	schedule := strings.TrimSpace(cfg.SweepSchedule)
	if schedule == "" {
		log.Println("Permit sweep disabled (sweep_schedule not set)")
		return
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(schedule)
	if err != nil {
		log.Printf("Invalid sweep_schedule '%s': %v (permit sweep disabled)", schedule, err)
		return
	}

	log.Printf("Permit sweep scheduled (cron: %s)", schedule)

	go func() {
		for {
			now := time.Now().In(cfg.Location)
			next := sched.Next(now)
			wait := next.Sub(now)
			log.Printf("Next permit sweep at %s (in %s)", next.Format("Mon Jan 2 15:04"), wait.Round(time.Minute))

			time.Sleep(wait)

			affected, sweepErr := ledger.CleanupExpiredPermits(context.Background())
			if sweepErr != nil {
				log.Printf("Permit sweep error: %v", sweepErr)
				continue
			}
			log.Printf("Permit sweep complete affected=%d", len(affected))

			if len(affected) > 0 && notifier != nil {
				notifier.Notify(fmt.Sprintf(
					"Permit sweep: expired permits on %d shipment(s), compliance rechecked: %s",
					len(affected), strings.Join(affected, ", ")))
			}
		}
	}()
}
