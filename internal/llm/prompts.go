package llm

import (
	"encoding/json"
	"fmt"
)

// PlanState is the metadata-only view of a contact sent to the model.
type PlanState struct {
	ContactHash     string           `json:"contact_hash"`
	Alias           string           `json:"alias"`
	CurrentScore    float64          `json:"current_score"`
	PreviousScore   float64          `json:"previous_score"`
	AnomalyDetected bool             `json:"anomaly_detected"`
	AnomalyReason   string           `json:"anomaly_reason"`
	RAGContext      string           `json:"rag_context"`
	RecentMetadata  []map[string]any `json:"recent_metadata"`
}

// RecommendPrompt asks for a next-action plan as compact JSON.
func RecommendPrompt(state PlanState) string {
	body, _ := json.Marshal(state)
	return fmt.Sprintf(`Return compact JSON only, no markdown, with keys:
recommended_action (string),
action_type (draft|draft_and_schedule|deprioritize|reminder),
priority (low|medium|high),
schedule_in_hours (integer).

Constraints: metadata only. Never quote or invent message text.

Input state: %s`, body)
}

// DraftPrompt asks for a short check-in message.
func DraftPrompt(alias, recommendation, context string) string {
	return fmt.Sprintf(`Write one short, warm check-in text message to %s.

Goal: %s

What we know from past interactions (summaries only):
%s

Rules:
- Under 240 characters
- No greeting card clichés, no emojis
- Do not reference anything not listed above
- Return ONLY the message text`, alias, recommendation, context)
}
