// Package extractor turns traveller messages into trip plans with a local
// chat model constrained to a JSON schema.
package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/tripd/internal/engine"
	"github.com/kalambet/tripd/internal/plan"
)

const extractionTimeout = 30 * time.Second

// ErrEmptyMessage is returned for blank input.
var ErrEmptyMessage = errors.New("empty message")

// Chatter is the interface for chat completion.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error)
}

// Extractor implements conversation.PlanExtractor.
type Extractor struct {
	client Chatter
	model  string
	now    func() time.Time
}

// New creates an Extractor using the given chat client and model name.
func New(client Chatter, model string) *Extractor {
	return &Extractor{client: client, model: model, now: time.Now}
}

// Extract builds a plan from a message that starts a trip. Chat failures
// and malformed output are returned as errors.
func (e *Extractor) Extract(ctx context.Context, text string) (plan.TripPlan, error) {
	var p plan.TripPlan
	if err := e.ask(ctx, text, nil, planSchema(), &p); err != nil {
		return plan.TripPlan{}, err
	}
	p.Normalize()
	return p, nil
}

// Update returns the changes a follow-up message makes to prev.
func (e *Extractor) Update(ctx context.Context, prev plan.TripPlan, text string) (plan.Patch, error) {
	var patch plan.Patch
	if err := e.ask(ctx, text, &prev, patchSchema(), &patch); err != nil {
		return plan.Patch{}, err
	}
	return patch, nil
}

func (e *Extractor) ask(ctx context.Context, text string, prev *plan.TripPlan, schema *engine.Schema, out any) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	ctx, cancel := context.WithTimeout(ctx, extractionTimeout)
	defer cancel()

	raw, err := e.client.Chat(ctx, e.model, BuildPrompt(text, prev, e.now()), schema)
	if err != nil {
		slog.Warn("plan extraction chat failed", "error", err)
		return fmt.Errorf("extracting plan: %w", err)
	}
	if err := json.Unmarshal([]byte(cleanJSON(raw)), out); err != nil {
		slog.Warn("failed to unmarshal plan from LLM response", "error", err, "response", raw)
		return fmt.Errorf("decoding extracted plan: %w", err)
	}
	return nil
}

// cleanJSON strips a markdown code fence some models wrap around output.
func cleanJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func planProperties() map[string]engine.SchemaProperty {
	return map[string]engine.SchemaProperty{
		"origin":              {Type: "string", Description: "Departure city"},
		"destination":         {Type: "string", Description: "Destination city"},
		"departure_date":      {Type: "string", Description: "YYYY-MM-DD"},
		"return_date":         {Type: "string", Description: "YYYY-MM-DD"},
		"duration_days":       {Type: "integer", Description: "Trip length in days"},
		"party_size":          {Type: "integer", Description: "Number of travellers"},
		"cabin_class":         {Type: "string", Description: "ECONOMY, PREMIUM_ECONOMY, BUSINESS or FIRST"},
		"departure_time_pref": {Type: "string", Description: "Preferred departure time of day"},
		"arrival_time_pref":   {Type: "string", Description: "Preferred arrival time of day"},
		"total_budget":        {Type: "number", Description: "Total budget for the trip"},
		"intent":              {Type: "string", Description: "One of: full, flights_only, hotels_only, activities_only"},
	}
}

func planSchema() *engine.Schema {
	return &engine.Schema{
		Type:       "object",
		Properties: planProperties(),
		Required:   []string{"destination", "party_size", "intent"},
	}
}

func patchSchema() *engine.Schema {
	return &engine.Schema{Type: "object", Properties: planProperties()}
}
