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
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/noralabs/nora/pkg/client"
	"github.com/noralabs/nora/pkg/ux"
)

const chatHistorySize = 50

func runChatCommand(cmd *cobra.Command, args []string) error {
	service := client.NewChatService(client.ChatServiceConfig{
		BaseURL: config.ServerURL,
		Logger:  logger.Slog(),
	})

	// Graceful shutdown on Ctrl+C between turns.
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		cancel()
	}()

	ux.Title("Nora support chat")
	ux.Muted("Session " + service.SessionID())
	ux.Muted("Type your question. /analysis toggles classification details, /quit exits.")
	fmt.Println()

	reader := NewInteractiveInputReader(chatHistorySize)
	renderer := ux.NewRenderer(os.Stdout)
	analysisVisible := config.ShowAnalysis

	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			ux.Muted("Goodbye.")
			return nil
		default:
		}

		line, err := readPrompted(reader, "> ")
		if err == io.EOF {
			fmt.Println()
			ux.Muted("Goodbye.")
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		if line == "" {
			continue
		}

		// Slash commands are local, never sent to the server.
		if strings.HasPrefix(line, "/") {
			switch line {
			case "/quit", "/exit":
				ux.Muted("Goodbye.")
				return nil
			case "/analysis":
				analysisVisible = !analysisVisible
				if analysisVisible {
					ux.Info("Analysis display on.")
				} else {
					ux.Info("Analysis display off.")
				}
			default:
				ux.Warning("Unknown command: " + line)
			}
			continue
		}

		turn, err := askOnce(ctx, service, line)
		switch {
		case errors.Is(err, context.Canceled):
			fmt.Println()
			ux.Muted("Turn cancelled.")
			return nil
		case err != nil:
			// Transport failures become one visible message; the
			// conversation continues.
			ux.Error(err.Error())
			continue
		}

		renderLatest(renderer, turn, analysisVisible)
		fmt.Println()
	}
}

// readPrompted displays the prompt appropriately for the reader type.
func readPrompted(reader InputReader, prompt string) (string, error) {
	if p, ok := reader.(PromptingInputReader); ok {
		p.SetPrompt(prompt)
	} else {
		fmt.Print(prompt)
	}
	return reader.ReadLine()
}

// renderLatest prints only this turn's assistant output. The reducer
// keeps the full message list; the terminal already shows earlier
// turns.
func renderLatest(renderer *ux.Renderer, turn *client.Turn, withAnalysis bool) {
	for i := len(turn.Messages) - 1; i >= 0; i-- {
		if turn.Messages[i].Role == ux.RoleAssistant {
			renderer.Answer(turn.Messages[i])
			break
		}
	}
	renderer.Citations(turn.Citations)
	if withAnalysis {
		renderer.Analysis(turn.Analysis)
	}
}
