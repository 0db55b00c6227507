// Copyright (C) 2025 Nora Labs (engineering@noralabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noralabs/nora/pkg/ux"
	"github.com/noralabs/nora/services/orchestrator/datatypes"
)

// ErrTurnTimeout is returned when a chat turn exceeds the hard timeout.
// It is distinct from connectivity failures and from server-reported
// errors so callers can word the message accordingly.
var ErrTurnTimeout = errors.New("chat turn timed out")

// readBufferSize is the chunk size for the streamed read loop. Chunks are
// handed to the reducer exactly as received; line reassembly is its job.
const readBufferSize = 4096

// =============================================================================
// Chat Service
// =============================================================================

// ChatServiceConfig configures a ChatService.
type ChatServiceConfig struct {
	// BaseURL of the orchestrator, e.g. "http://localhost:8000".
	BaseURL string

	// WatchdogThreshold overrides the rate-limit advisory timer.
	// Zero means ux.WatchdogThreshold.
	WatchdogThreshold time.Duration

	// HardTimeout overrides the absolute turn bound. Zero means
	// ux.HardTimeout.
	HardTimeout time.Duration

	// Logger for request lifecycle events. Nil means slog.Default().
	Logger *slog.Logger
}

// ChatService drives streamed chat turns against POST /chat.
//
// # Description
//
// One ChatService is one conversation: the session ID is generated once
// at construction and reused for every turn, so the server can correlate
// turns.
//
// # Thread Safety
//
// Safe for concurrent use. Exactly one turn is in flight at a time; a
// SendMessage call made while another turn is running queues behind it
// rather than racing the stream.
type ChatService struct {
	baseURL   string
	client    HTTPClient
	sessionID string
	watchdog  time.Duration
	hardStop  time.Duration
	logger    *slog.Logger

	// turnMu serializes turns within the session.
	turnMu sync.Mutex
}

// Turn is the reduced outcome of one chat exchange.
type Turn struct {
	Messages  []ux.ChatMessage
	Citations []datatypes.Source
	Analysis  *ux.AnalysisSnapshot
	Result    *datatypes.FinalResult
	State     ux.TurnState
}

// NewChatService creates a chat service with a fresh session ID.
func NewChatService(cfg ChatServiceConfig) *ChatService {
	return newChatService(&realHTTPClient{client: sharedClient()}, cfg)
}

// NewChatServiceWithClient creates a chat service with an injected HTTP
// client, for tests.
func NewChatServiceWithClient(client HTTPClient, cfg ChatServiceConfig) *ChatService {
	return newChatService(client, cfg)
}

func newChatService(client HTTPClient, cfg ChatServiceConfig) *ChatService {
	if cfg.WatchdogThreshold <= 0 {
		cfg.WatchdogThreshold = ux.WatchdogThreshold
	}
	if cfg.HardTimeout <= 0 {
		cfg.HardTimeout = ux.HardTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ChatService{
		baseURL:   cfg.BaseURL,
		client:    client,
		sessionID: uuid.NewString(),
		watchdog:  cfg.WatchdogThreshold,
		hardStop:  cfg.HardTimeout,
		logger:    cfg.Logger,
	}
}

// SessionID returns the conversation's stable session identifier.
func (s *ChatService) SessionID() string {
	return s.sessionID
}

// SendMessage runs one full chat turn.
//
// # Description
//
// Posts the query, then reads the response body in raw chunks, feeding
// each to a TurnReducer. Two timers run per turn:
//
//   - The watchdog fires after WatchdogThreshold without a terminal
//     payload, counted from before the POST is sent so a stalled
//     connection is covered too. It synthesizes an advisory message and
//     closes the turn, but the read continues so the connection can
//     drain.
//   - The hard timeout cancels the read outright and surfaces
//     ErrTurnTimeout.
//
// Both timers are cancelled together on every exit path through the
// deferred stops.
//
// # Inputs
//
//   - ctx: Caller's context. Cancellation aborts the read; messages
//     already appended stay.
//   - message: The user's query text. Must be non-empty.
//   - onStatus: Optional callback invoked when the progress phrase
//     changes. May be nil.
//
// # Outputs
//
//   - *Turn: The reduced turn state, present even on watchdog closure.
//   - error: Transport failures, ErrTurnTimeout, or ctx.Err().
func (s *ChatService) SendMessage(ctx context.Context, message string, onStatus func(string)) (*Turn, error) {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	requestID := uuid.NewString()
	reducer := ux.NewTurnReducer(s.logger)
	reducer.AppendUser(message)

	s.logger.Debug("sending chat turn",
		"request_id", requestID,
		"session_id", s.sessionID,
		"message_length", len(message),
	)

	turnCtx, cancelTurn := context.WithTimeout(ctx, s.hardStop)
	defer cancelTurn()

	// Armed before the POST so a pre-header stall still triggers the
	// advisory. Watchdog() is a no-op once the turn has left TurnActive.
	watchdog := time.AfterFunc(s.watchdog, func() {
		reducer.Watchdog()
		if onStatus != nil {
			onStatus("")
		}
	})
	defer watchdog.Stop()

	resp, err := s.postChat(turnCtx, message)
	if err != nil {
		if turnCtx.Err() != nil && ctx.Err() == nil {
			return nil, ErrTurnTimeout
		}
		return nil, fmt.Errorf("chat request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			s.logger.Error("failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		s.logger.Error("chat server returned error",
			"request_id", requestID,
			"status_code", resp.StatusCode,
			"response_body", string(body),
		)
		return nil, fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))
	}

	readErr := s.readStream(turnCtx, resp.Body, reducer, onStatus)
	watchdog.Stop()
	reducer.Flush()

	if readErr != nil {
		switch {
		case turnCtx.Err() != nil && ctx.Err() == nil:
			return s.snapshot(reducer), ErrTurnTimeout
		case ctx.Err() != nil:
			reducer.Cancel()
			return s.snapshot(reducer), ctx.Err()
		default:
			return s.snapshot(reducer), fmt.Errorf("read stream: %w", readErr)
		}
	}

	turn := s.snapshot(reducer)
	s.logger.Debug("chat turn finished",
		"request_id", requestID,
		"state", int(turn.State),
		"citations", len(turn.Citations),
	)
	return turn, nil
}

func (s *ChatService) postChat(ctx context.Context, message string) (*http.Response, error) {
	reqBody := datatypes.QueryRequest{
		Query:     message,
		SessionID: s.sessionID,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return s.client.Post(ctx, s.baseURL+"/chat", "application/json", bytes.NewReader(payload))
}

// readStream pumps raw chunks from the body into the reducer until EOF,
// the sentinel, or context cancellation.
func (s *ChatService) readStream(ctx context.Context, body io.Reader, reducer *ux.TurnReducer, onStatus func(string)) error {
	buf := make([]byte, readBufferSize)
	lastStatus := ""

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := body.Read(buf)
		if n > 0 {
			reducer.Feed(buf[:n])
			if onStatus != nil {
				if status := reducer.Status(); status != lastStatus {
					lastStatus = status
					onStatus(status)
				}
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (s *ChatService) snapshot(reducer *ux.TurnReducer) *Turn {
	final, _ := reducer.Result()
	return &Turn{
		Messages:  reducer.Messages(),
		Citations: reducer.Citations(),
		Analysis:  reducer.Analysis(),
		Result:    final,
		State:     reducer.State(),
	}
}
