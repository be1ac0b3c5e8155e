package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/registry-harvester/internal/harvest"
)

const phaseAll = "all"

type phaseOutput struct {
	EntityKey string        `json:"entity_key"`
	Phase     harvest.Phase `json:"phase"`
	Files     []string      `json:"files"`
}

func newHarvestCmd() *cobra.Command {
	var (
		entity string
		phase  string
	)
	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Runs a harvest for one entity in-process",
		Long: `Runs the download phase, the OCR phase, or both for one entity and prints
the JSON result. Finished phases are served from stored state.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := resolveServices(cmd.Context())
			if err != nil {
				return err
			}
			logger := svc.Logger.With(zap.String("entity_name", entity), zap.String("phase", phase))

			if phase == phaseAll {
				result, err := svc.Harvester.Harvest(cmd.Context(), entity)
				if err != nil {
					return fmt.Errorf("harvest: %w", err)
				}
				logger.Info("harvest finished", zap.Int("documents", len(result.Documents)), zap.Int("texts", len(result.Texts)))
				return writeJSON(cmd.OutOrStdout(), result)
			}

			p := harvest.Phase(phase)
			if !p.Valid() {
				return fmt.Errorf("unknown phase %q: want download, ocr or all", phase)
			}
			files, err := svc.Harvester.RunPhase(cmd.Context(), p, entity)
			if err != nil {
				return fmt.Errorf("run %s: %w", p, err)
			}
			logger.Info("phase finished", zap.Int("files", len(files)))
			return writeJSON(cmd.OutOrStdout(), phaseOutput{
				EntityKey: harvest.NormalizeEntityName(entity),
				Phase:     p,
				Files:     files,
			})
		},
	}
	cmd.Flags().StringVar(&entity, "entity", "", "registry entity name to harvest")
	cmd.Flags().StringVar(&phase, "phase", phaseAll, "phase to run: download, ocr or all")
	_ = cmd.MarkFlagRequired("entity")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
