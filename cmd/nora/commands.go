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
	"github.com/spf13/cobra"

	"github.com/noralabs/nora/pkg/logging"
	"github.com/noralabs/nora/pkg/ux"
)

// --- Global Command Variables ---
var (
	config       Config
	configPath   string
	serverURL    string
	showAnalysis bool
	outputPath   string

	rootCmd = &cobra.Command{
		Use:   "nora",
		Short: "A cli for the Nora support assistant",
		Long: `Nora answers product questions from your documentation and
routes the rest to the right support team.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			config, err = loadCLIConfig(configPath)
			if err != nil {
				return err
			}
			if serverURL != "" {
				config.ServerURL = serverURL
			}
			if showAnalysis {
				config.ShowAnalysis = true
			}

			logger = logging.New(logging.Config{
				Level:   logging.ParseLevel(config.LogLevel),
				LogDir:  config.LogDir,
				Service: "cli",
				Quiet:   config.LogDir != "", // keep the terminal clean when file logging is on
			})
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				if err := logger.Close(); err != nil {
					ux.Warning("failed to close log file: " + err.Error())
				}
			}
		},
	}

	askCmd = &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a single question and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAskCommand,
	}

	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive support conversation",
		RunE:  runChatCommand,
	}

	bulkCmd = &cobra.Command{
		Use:   "bulk [tickets.json]",
		Short: "Classify a ticket file in batches",
		Long: `Bulk reads a JSON array of {id, subject?, body} tickets, validates it
locally, and streams it to the orchestrator in fixed-size batches. A
failed batch is reported and skipped; the run always continues.`,
		Args: cobra.ExactArgs(1),
		RunE: runBulkCommand,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default ~/.nora/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "orchestrator base URL (overrides config)")

	askCmd.Flags().BoolVar(&showAnalysis, "analysis", false, "print the classification snapshot with the answer")
	chatCmd.Flags().BoolVar(&showAnalysis, "analysis", false, "print the classification snapshot after every answer")
	bulkCmd.Flags().StringVarP(&outputPath, "output", "o", "", "write the results artifact to this file")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(bulkCmd)
}
