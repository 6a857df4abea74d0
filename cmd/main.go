// dispatch-service
//
// Provider matching, ranking and slot scheduling for field-service jobs.
// Exposes the same operations over REST and gRPC:
//   - findCandidates(jobId): eligibility filter + ranking
//   - decideAssignment(jobId): auto-assign or offer decision
//   - sendOffer, acceptOffer, rejectOffer: offer state machine
//   - expireOffer(assignmentId, round): escalation to the next candidate
//   - checkAvailability, reserveSlot: 15-minute slot allocation
//   - confirmBooking, cancelBooking: booking hold lifecycle
//
// Booking holds whose TTL elapsed are swept by a cron job.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"fieldops/dispatch-service/internal/config"
)

const version = "1.0.0"

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var memory bool

	root := &cobra.Command{
		Use:          "dispatch-service",
		Short:        "Provider matching, ranking and slot scheduling engine",
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVar(&memory, "memory", false, "run against the in-process store (no PostgreSQL or Redis)")

	load := func() (*config.Config, *slog.Logger, error) {
		cfg, err := config.Load(memory)
		if err != nil {
			return nil, nil, err
		}
		log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
		slog.SetDefault(log)
		return cfg, log, nil
	}

	root.AddCommand(newServeCmd(load), newSweepCmd(load))
	return root
}

type loader func() (*config.Config, *slog.Logger, error)
