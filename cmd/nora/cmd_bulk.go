// Copyright (C) 2025 Nora Labs (engineering@noralabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/noralabs/nora/pkg/client"
	"github.com/noralabs/nora/pkg/ux"
)

func runBulkCommand(cmd *cobra.Command, args []string) error {
	path := args[0]
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read ticket file: %w", err)
	}

	service := client.NewBulkService(config.ServerURL, logger.Slog())

	// All schema problems are caught here, before any upload.
	tickets, err := service.ValidateFile(filepath.Base(path), content)
	if err != nil {
		return fmt.Errorf("invalid ticket file: %w", err)
	}
	ux.Info(fmt.Sprintf("Validated %d tickets from %s", len(tickets), path))

	runner := client.NewBulkRunner(service, client.BulkRunnerConfig{
		BatchSize:  config.BatchSize,
		BatchPause: config.batchPause(),
		Logger:     logger.Slog(),
	})

	spinner := ux.NewSpinner(fmt.Sprintf("Classifying %d tickets...", len(tickets)))
	runner.OnBatch = func(batch, processed int, err error) {
		if err != nil {
			spinner.UpdateMessage(fmt.Sprintf("Batch %d failed, continuing... (%d/%d processed)",
				batch, processed, len(tickets)))
			return
		}
		spinner.UpdateMessage(fmt.Sprintf("Batch %d done (%d/%d processed)",
			batch, processed, len(tickets)))
	}

	spinner.Start()
	report, err := runner.Run(cmd.Context(), tickets)
	spinner.Stop()
	if err != nil {
		return fmt.Errorf("bulk run aborted: %w", err)
	}

	renderer := ux.NewRenderer(os.Stdout)
	for _, res := range report.Results {
		renderer.TicketResult(res)
	}

	if len(report.BatchErrors) > 0 {
		for _, batchErr := range report.BatchErrors {
			ux.Warning(fmt.Sprintf("Batch %d failed: %s", batchErr.Batch, batchErr.Err))
		}
	}
	ux.Success(fmt.Sprintf("Processed %d of %d tickets in %d batches",
		report.ProcessedCount, report.TotalCount, report.Batches))

	if outputPath != "" {
		artifact, err := runner.ExportResults(report)
		if err != nil {
			return fmt.Errorf("export results: %w", err)
		}
		if err := os.WriteFile(outputPath, artifact, 0644); err != nil {
			return fmt.Errorf("write artifact: %w", err)
		}
		ux.Info("Results written to " + outputPath)
	}
	return nil
}
