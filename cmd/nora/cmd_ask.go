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
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/noralabs/nora/pkg/client"
	"github.com/noralabs/nora/pkg/ux"
)

func runAskCommand(cmd *cobra.Command, args []string) error {
	question := strings.Join(args, " ")

	service := client.NewChatService(client.ChatServiceConfig{
		BaseURL: config.ServerURL,
		Logger:  logger.Slog(),
	})

	turn, err := askOnce(cmd.Context(), service, question)
	if err != nil {
		return err
	}

	renderer := ux.NewRenderer(os.Stdout)
	renderTurn(renderer, turn, config.ShowAnalysis)
	return nil
}

// askOnce runs one turn with a spinner tracking pipeline progress.
func askOnce(ctx context.Context, service *client.ChatService, question string) (*client.Turn, error) {
	spinner := ux.NewSpinner("Waiting for a response...")
	spinner.Start()

	turn, err := service.SendMessage(ctx, question, func(status string) {
		if status != "" {
			spinner.UpdateMessage(status)
		}
	})
	spinner.Stop()

	switch {
	case errors.Is(err, client.ErrTurnTimeout):
		return nil, fmt.Errorf("the request timed out after %s; the service may be down", ux.HardTimeout)
	case err != nil:
		return nil, err
	}
	return turn, nil
}

// renderTurn prints the assistant messages of a finished turn.
func renderTurn(renderer *ux.Renderer, turn *client.Turn, withAnalysis bool) {
	for _, msg := range turn.Messages {
		if msg.Role == ux.RoleAssistant {
			renderer.Answer(msg)
		}
	}
	renderer.Citations(turn.Citations)
	if withAnalysis {
		renderer.Analysis(turn.Analysis)
	}
}
