// Copyright (C) 2025 Nora Labs (engineering@noralabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// This file contains the console renderer for chat turns and bulk runs.
//
// Single Responsibility:
//
//	Renderers ONLY render. They take already-reduced state and write
//	styled text to an io.Writer. They never parse wire frames or mutate
//	conversation state.
package ux

import (
	"fmt"
	"io"
	"strings"

	"github.com/noralabs/nora/services/orchestrator/datatypes"
)

// Renderer writes reduced turn state to a terminal.
type Renderer struct {
	w io.Writer
}

// NewRenderer creates a renderer writing to w.
func NewRenderer(w io.Writer) *Renderer {
	return &Renderer{w: w}
}

// Answer renders the assistant's reply for a completed turn.
func (r *Renderer) Answer(msg ChatMessage) {
	if msg.Advisory {
		fmt.Fprintf(r.w, "%s %s\n", IconWarning.Render(), Styles.Warning.Render(msg.Content))
		return
	}
	fmt.Fprintf(r.w, "\n%s\n", msg.Content)
}

// Citations renders the source list under an answer. No output when the
// turn produced a routing message.
func (r *Renderer) Citations(sources []datatypes.Source) {
	if len(sources) == 0 {
		return
	}
	fmt.Fprintf(r.w, "\n%s\n", Styles.Subtitle.Render("Sources"))
	for i, src := range sources {
		title := src.Title
		if strings.TrimSpace(title) == "" {
			title = src.URL
		}
		fmt.Fprintf(r.w, "  %d. %s", i+1, title)
		if src.URL != "" && src.URL != title {
			fmt.Fprintf(r.w, " %s", Styles.Muted.Render("("+src.URL+")"))
		}
		fmt.Fprintln(r.w)
	}
}

// Analysis renders the internal classification snapshot. Call it only
// when the user explicitly asked for it.
func (r *Renderer) Analysis(snapshot *AnalysisSnapshot) {
	if snapshot == nil {
		fmt.Fprintln(r.w, Styles.Muted.Render("No analysis available yet."))
		return
	}
	c := snapshot.Classification
	tags := make([]string, len(c.TopicTags))
	for i, tag := range c.TopicTags {
		tags[i] = string(tag)
	}
	fmt.Fprintf(r.w, "\n%s\n", Styles.Subtitle.Render("Internal analysis"))
	fmt.Fprintf(r.w, "  Topics:    %s\n", strings.Join(tags, ", "))
	fmt.Fprintf(r.w, "  Sentiment: %s\n", c.Sentiment)
	fmt.Fprintf(r.w, "  Priority:  %s\n", c.Priority)
	if c.Reasoning != "" {
		fmt.Fprintf(r.w, "  Reasoning: %s\n", c.Reasoning)
	}
	fmt.Fprintf(r.w, "  %s\n", Styles.Muted.Render("Received "+snapshot.ReceivedAt.Format("15:04:05")))
}

// TicketResult renders one line of a bulk classification run.
func (r *Renderer) TicketResult(res datatypes.TicketResult) {
	if res.Error != "" {
		fmt.Fprintf(r.w, "  %s %s: %s\n", IconError.Render(), res.ID, res.Error)
		return
	}
	if res.Classification == nil {
		fmt.Fprintf(r.w, "  %s %s: no classification returned\n", IconWarning.Render(), res.ID)
		return
	}
	tags := make([]string, len(res.Classification.TopicTags))
	for i, tag := range res.Classification.TopicTags {
		tags[i] = string(tag)
	}
	fmt.Fprintf(r.w, "  %s %s: %s | %s | %s\n",
		IconSuccess.Render(), res.ID,
		strings.Join(tags, ", "),
		res.Classification.Sentiment,
		res.Classification.Priority)
}
