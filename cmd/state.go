package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/registry-harvester/internal/harvest"
)

type stateOutput struct {
	EntityKey string                               `json:"entity_key"`
	Phases    map[harvest.Phase]harvest.CrawlState `json:"phases"`
}

func newStateCmd() *cobra.Command {
	var entity string
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Prints the stored phase state of an entity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := resolveServices(cmd.Context())
			if err != nil {
				return err
			}
			states, err := svc.Harvester.State(cmd.Context(), entity)
			if err != nil {
				return fmt.Errorf("load state: %w", err)
			}
			return writeJSON(cmd.OutOrStdout(), stateOutput{
				EntityKey: harvest.NormalizeEntityName(entity),
				Phases:    states,
			})
		},
	}
	cmd.Flags().StringVar(&entity, "entity", "", "registry entity name")
	_ = cmd.MarkFlagRequired("entity")
	return cmd
}
