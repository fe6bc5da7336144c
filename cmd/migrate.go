package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/onurcolak/sequence-dialer/internal/domain"
	"github.com/onurcolak/sequence-dialer/internal/service"
	"github.com/onurcolak/sequence-dialer/pkg/logger"
)

var (
	seed        bool
	seedTargets int
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the store schema, optionally seeding a demo campaign.",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cfg, true)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Errorf("Failed to close store: %v", err)
			}
		}()

		if !seed {
			return nil
		}

		return seedDemo(cmd.Context(), service.NewSequenceService(store), seedTargets)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().BoolVar(&seed, "seed", false, "Seed a demo campaign with enrolled targets")
	migrateCmd.Flags().IntVar(&seedTargets, "targets", 5, "Number of demo targets to enroll")
}

// seedDemo creates a weekday campaign and enrolls targets under one contact.
func seedDemo(ctx context.Context, svc *service.SequenceService, targets int) error {
	campaign, err := svc.CreateCampaign(ctx, &domain.Campaign{
		Name:            "Demo renewals",
		MaxAttempts:     3,
		RetryDelayHours: 24,
		BusinessHours: domain.BusinessHours{
			Timezone:        "UTC",
			Start:           "09:00",
			End:             "17:00",
			ExcludeWeekends: true,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to seed campaign: %w", err)
	}

	contact := &domain.Contact{Name: "Demo contact"}
	if err := svc.CreateContact(ctx, contact); err != nil {
		return fmt.Errorf("failed to seed contact: %w", err)
	}

	for i := 1; i <= targets; i++ {
		req := service.EnrollRequest{
			CampaignID:  campaign.ID,
			PhoneNumber: fmt.Sprintf("+1555000%04d", i),
			ContactID:   &contact.ID,
		}
		if _, err := svc.EnrollTarget(ctx, req); err != nil {
			return fmt.Errorf("failed to seed target %s: %w", req.PhoneNumber, err)
		}
	}

	logger.Infof("Seeded campaign %s (%s) with %d targets", campaign.ID, campaign.BusinessHoursSummary, targets)

	return nil
}
