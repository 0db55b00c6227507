// Copyright (C) 2025 Nora Labs (engineering@noralabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"fmt"

	"github.com/noralabs/nora/services/orchestrator/datatypes"
)

// =============================================================================
// Routing Decision
// =============================================================================

// Outcome names the branch a classified query takes.
type Outcome string

const (
	// OutcomeRAG sends the query through retrieval and generation.
	OutcomeRAG Outcome = "rag_pipeline"

	// OutcomeHumanRouting hands the query to a human support team.
	OutcomeHumanRouting Outcome = "human_support"
)

// Route is the pure routing decision. Total and deterministic: every
// classification maps to exactly one outcome with no I/O.
//
// # Description
//
//	A query is escalated to human support when any of these hold:
//	  - a topic tag is Issue report or Feature request
//	  - priority is P0
//	  - sentiment is Angry
//	Everything else flows through the RAG branch.
func Route(c datatypes.Classification) Outcome {
	for _, tag := range c.TopicTags {
		if tag == datatypes.TopicIssueReport || tag == datatypes.TopicFeatureRequest {
			return OutcomeHumanRouting
		}
	}
	if c.Priority == datatypes.PriorityP0 {
		return OutcomeHumanRouting
	}
	if c.Sentiment == datatypes.SentimentAngry {
		return OutcomeHumanRouting
	}
	return OutcomeRAG
}

// =============================================================================
// Team Assignment
// =============================================================================

// teamForTopic maps escalation-relevant topics to owning teams. Topics
// without a dedicated owner fall through to general support.
var teamForTopic = map[datatypes.TopicTag]string{
	datatypes.TopicConnector:     "Connectors Team",
	datatypes.TopicLineage:       "Lineage Team",
	datatypes.TopicGlossary:      "Data Governance Team",
	datatypes.TopicSensitiveData: "Security & Compliance Team",
}

// defaultTeam receives escalations with no topic-specific owner.
const defaultTeam = "General Support Team"

// RoutingFor builds the user-facing routing message for an escalated
// query. The first topic tag with a dedicated team wins; otherwise the
// first tag names the inquiry and general support owns it.
func RoutingFor(c datatypes.Classification) datatypes.RoutingMessage {
	topic := datatypes.TopicOther
	team := defaultTeam

	if len(c.TopicTags) > 0 {
		topic = c.TopicTags[0]
		for _, tag := range c.TopicTags {
			if owner, ok := teamForTopic[tag]; ok {
				topic = tag
				team = owner
				break
			}
		}
	}

	return datatypes.RoutingMessage{
		Message: fmt.Sprintf(
			"Your '%s' inquiry has been routed to our %s. You'll receive a response within 24 hours.",
			topic, team),
		Team: team,
	}
}
