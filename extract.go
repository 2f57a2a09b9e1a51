package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"attachflow/internal/config"
	"attachflow/internal/extract"
	"attachflow/internal/ingest"
	"attachflow/internal/logger"
	"attachflow/internal/models"
)

func extractCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "extract <path>",
		Short: "Print the text a document would contribute to a message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}
			text, err := extractFile(cmd, cfg, log, args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), text)
			return err
		},
	}
}

func extractFile(cmd *cobra.Command, cfg *config.Config, log logger.Logger, path string) (string, error) {
	f, err := models.PathFile(path)
	if err != nil {
		return "", err
	}
	kind, err := ingest.NewClassifier(cfg.Limits.ExtendedImages).Classify(f.Name, "")
	if err != nil {
		return "", err
	}
	if kind != models.KindDocument {
		return "", fmt.Errorf("%s is an image, only documents can be extracted", f.Name)
	}
	gate := ingest.NewGate(ingest.LimitsFromConfig(cfg.Limits))
	if err := gate.CheckFile(f); err != nil {
		return "", err
	}

	text, err := extract.NewExtractor(extract.NewEngines(), log).ExtractPath(cmd.Context(), path)
	if err != nil {
		return "", err
	}
	text, warning := gate.Truncate(f.Name, text)
	if warning != nil {
		log.Warn(warning.Message, "file", f.Name)
	}
	return text, nil
}
