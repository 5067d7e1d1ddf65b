package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"aquabill/internal/app"
	"aquabill/internal/audit"
	"aquabill/internal/config"
)

func pollCmd() *cobra.Command {
	var resumeRef string

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Run one status poll cycle now",
		Long: `Run one status poll cycle now.

Asks the providers for the status of open payment attempts, reconciles
the answers and resumes interrupted settlements. With --resume only the
given payment's settlement is resumed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			e, err := newEnv(ctx, true)
			if err != nil {
				return err
			}
			defer e.Close()

			redisClient, err := app.NewRedisClient(ctx, e.cfg.Redis, nil)
			if err != nil {
				return err
			}
			defer redisClient.Close()

			rates, err := config.LoadRates(e.cfg.RatesFile)
			if err != nil {
				return err
			}

			auditStore, err := audit.Open(ctx, e.cfg.Audit.Path)
			if err != nil {
				e.logger.Warn("audit store unavailable, records are skipped", zap.Error(err))
				auditStore = nil
			} else {
				defer auditStore.Close()
			}

			gateways := app.NewGateways(e.cfg.Providers, rates, e.logger)
			services := app.NewServices(e.db, redisClient, gateways, auditStore, e.cfg, e.logger)

			if resumeRef != "" {
				result, err := services.Reconciler.Resume(ctx, resumeRef)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"external_reference": resumeRef,
					"outcome":            result.Outcome,
					"status":             result.Payment.Status,
					"resumed":            result.Resumed,
					"failed_effects":     result.Dispatch.Failed,
				})
			}

			stats, err := services.Poller.PollOnce(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}

	cmd.Flags().StringVar(&resumeRef, "resume", "", "resume the settlement of one payment by external reference")

	return cmd
}
