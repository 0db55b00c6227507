// Copyright (C) 2025 Nora Labs (engineering@noralabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// This file contains the turn reducer, the stateful consumer of one chat
// stream.
//
// Single Responsibility:
//
//	The reducer owns byte reassembly and conversation state for a single
//	turn. It accepts raw chunks exactly as the network delivers them,
//	splits them into lines across arbitrary chunk boundaries, and folds
//	parsed events into messages, citations, and status text. It performs
//	no I/O and arms no timers; the caller owns the watchdog and timeout
//	clocks and invokes Watchdog/Cancel when they fire.
package ux

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/noralabs/nora/services/orchestrator/datatypes"
)

// WatchdogThreshold is how long a turn may run without a terminal payload
// before the caller should fire the rate-limit advisory.
const WatchdogThreshold = 15 * time.Second

// HardTimeout is the absolute bound on one chat turn. Unlike the
// watchdog, reaching it cancels the network read.
const HardTimeout = 5 * time.Minute

// WatchdogAdvisory is the assistant message synthesized when the watchdog
// fires.
const WatchdogAdvisory = "This is taking longer than usual. The service may be " +
	"rate limited right now. You can keep waiting, or try again in a minute."

// =============================================================================
// Turn State
// =============================================================================

// TurnState tracks where a turn is in its lifecycle.
type TurnState int

const (
	// TurnActive means the stream is open and no terminal payload has
	// arrived.
	TurnActive TurnState = iota

	// TurnCompleted means a terminal payload or the completion sentinel
	// was processed.
	TurnCompleted

	// TurnWatchdogClosed means the watchdog fired first. The turn is
	// closed to new assistant messages; a late terminal payload is
	// drained and discarded, never appended.
	TurnWatchdogClosed

	// TurnCancelled means the user aborted the turn. Messages appended
	// before cancellation remain.
	TurnCancelled
)

// =============================================================================
// Turn Reducer
// =============================================================================

// TurnReducer reconstructs conversation state from one chat stream.
//
// # Description
//
// Feed the reducer raw byte chunks in arrival order. It buffers the
// trailing partial line between calls, so chunk boundaries may fall
// anywhere, including mid-line and mid-rune. Call Flush when the stream
// ends so a trailing unterminated line is not dropped.
//
// # Thread Safety
//
// All methods are safe for concurrent use. The read loop and the caller's
// timer callbacks may touch the reducer from different goroutines.
//
// # Assumptions
//
//   - One reducer per turn. Reuse across turns is not supported.
type TurnReducer struct {
	mu     sync.Mutex
	parser SSEParser
	logger *slog.Logger

	pending []byte
	stopped bool

	state     TurnState
	status    string
	loading   bool
	messages  []ChatMessage
	citations []datatypes.Source
	analysis  *AnalysisSnapshot
	final     *datatypes.FinalResult
	lateFinal *datatypes.FinalResult
	errText   string
	malformed int
}

// NewTurnReducer creates a reducer for a single chat turn.
func NewTurnReducer(logger *slog.Logger) *TurnReducer {
	if logger == nil {
		logger = slog.Default()
	}
	return &TurnReducer{
		parser:  NewSSEParser(),
		logger:  logger,
		state:   TurnActive,
		status:  "Waiting for a response...",
		loading: true,
	}
}

// AppendUser records the user's message for this turn.
func (r *TurnReducer) AppendUser(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, ChatMessage{
		Role:      RoleUser,
		Content:   text,
		CreatedAt: time.Now(),
	})
}

// Feed consumes one chunk of the response body.
//
// The chunk is appended to the pending buffer, complete lines are
// processed, and the trailing partial line (if any) is held back for the
// next call.
func (r *TurnReducer) Feed(chunk []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return
	}

	r.pending = append(r.pending, chunk...)
	for {
		idx := bytes.IndexByte(r.pending, '\n')
		if idx < 0 {
			return
		}
		line := string(r.pending[:idx])
		r.pending = r.pending[idx+1:]
		r.processLine(line)
		if r.stopped {
			r.pending = nil
			return
		}
	}
}

// Flush processes any buffered trailing line. Call it once when the
// stream ends; a final frame without a trailing newline must still count.
func (r *TurnReducer) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped || len(r.pending) == 0 {
		return
	}
	line := string(r.pending)
	r.pending = nil
	r.processLine(line)

	// The stream is over either way.
	r.loading = false
	r.status = ""
}

// Watchdog closes the turn with a throttling advisory.
//
// Fire it when WatchdogThreshold elapses with no terminal payload. The
// underlying read must stay open; if the real terminal payload arrives
// later it is discarded, so the turn never shows two assistant messages.
func (r *TurnReducer) Watchdog() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != TurnActive {
		return
	}
	r.state = TurnWatchdogClosed
	r.loading = false
	r.status = ""
	r.messages = append(r.messages, ChatMessage{
		Role:      RoleAssistant,
		Content:   WatchdogAdvisory,
		Advisory:  true,
		CreatedAt: time.Now(),
	})
}

// Cancel aborts the turn on user request. Already-appended messages stay;
// cancellation is not retroactive.
func (r *TurnReducer) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == TurnCompleted || r.state == TurnCancelled {
		return
	}
	r.state = TurnCancelled
	r.stopped = true
	r.pending = nil
	r.loading = false
	r.status = ""
}

// processLine folds one complete line into the turn. Caller holds the
// lock.
func (r *TurnReducer) processLine(line string) {
	event, err := r.parser.ParseLine(line)
	if err != nil {
		// Malformed lines are skipped, never fatal to the stream.
		r.malformed++
		r.logger.Debug("skipping malformed stream line", "error", err)
		return
	}
	if event == nil {
		return
	}

	switch event.Type {
	case StreamEventNodeStart, StreamEventNodeComplete:
		if r.state == TurnActive {
			r.status = StatusFor(event.Node, event.Message)
		}

	case StreamEventError:
		r.deliverError(event.Message)

	case StreamEventFinal:
		r.deliverFinal(event.Final)

	case StreamEventDone:
		r.finish()
	}
}

// deliverFinal applies a terminal payload.
func (r *TurnReducer) deliverFinal(final *datatypes.FinalResult) {
	switch r.state {
	case TurnActive:
		answer := AnswerOf(final)
		if strings.TrimSpace(answer) == "" {
			answer = "I wasn't able to produce an answer for that. Please try rephrasing."
		}
		r.messages = append(r.messages, ChatMessage{
			Role:      RoleAssistant,
			Content:   answer,
			CreatedAt: time.Now(),
		})
		r.citations = SourcesOf(final)
		r.analysis = &AnalysisSnapshot{
			Classification: final.InternalAnalysis.Classification,
			ReceivedAt:     time.Now(),
		}
		r.final = final
		r.state = TurnCompleted
		r.loading = false
		r.status = ""

	case TurnWatchdogClosed:
		// The advisory already closed this turn. Drain the payload so the
		// stream can finish, but never append a second assistant message.
		r.lateFinal = final
		r.logger.Debug("discarding terminal payload that arrived after the watchdog closed the turn")
	}
}

// deliverError surfaces a server-reported stream error as one assistant
// message and ends the turn.
func (r *TurnReducer) deliverError(message string) {
	if r.state != TurnActive {
		return
	}
	if strings.TrimSpace(message) == "" {
		message = "The server reported an error. Please try again."
	}
	r.errText = message
	r.messages = append(r.messages, ChatMessage{
		Role:      RoleAssistant,
		Content:   message,
		CreatedAt: time.Now(),
	})
	r.state = TurnCompleted
	r.loading = false
	r.status = ""
}

// finish handles the completion sentinel: stop reading, clear loading
// state, no further parsing.
func (r *TurnReducer) finish() {
	r.stopped = true
	r.loading = false
	r.status = ""
	if r.state == TurnActive {
		r.state = TurnCompleted
	}
}

// =============================================================================
// Accessors
// =============================================================================

// State returns the turn's lifecycle state.
func (r *TurnReducer) State() TurnState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Messages returns a copy of the session's message list so far.
func (r *TurnReducer) Messages() []ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ChatMessage, len(r.messages))
	copy(out, r.messages)
	return out
}

// Citations returns the current citation set. Each terminal payload
// replaces the set wholesale.
func (r *TurnReducer) Citations() []datatypes.Source {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]datatypes.Source, len(r.citations))
	copy(out, r.citations)
	return out
}

// Analysis returns the internal-analysis snapshot, or nil before a
// terminal payload arrives. Callers show it only on explicit toggle.
func (r *TurnReducer) Analysis() *AnalysisSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.analysis
}

// Result returns the normalized terminal payload, with ok false when the
// turn ended without one.
func (r *TurnReducer) Result() (*datatypes.FinalResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.final, r.final != nil
}

// Status returns the current progress phrase, empty once the turn ends.
func (r *TurnReducer) Status() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Loading reports whether the loading indicator should still spin.
func (r *TurnReducer) Loading() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loading
}

// Err returns the server-reported error text, if any.
func (r *TurnReducer) Err() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errText
}

// MalformedLines returns how many lines failed to parse and were skipped.
func (r *TurnReducer) MalformedLines() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.malformed
}
