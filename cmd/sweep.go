package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSweepCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire elapsed booking holds once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			a, err := build(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.allocator.ExpireHolds(cmd.Context())
			if err != nil {
				return err
			}
			log.Info("[dispatch-service] Hold sweep done", "expired", n)
			return nil
		},
	}
}
