package synthesis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/tripd/internal/engine"
)

const narrationTimeout = 60 * time.Second

// Chatter is the chat completion capability an LLMNarrator needs.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error)
}

const narratorSystemPrompt = `You are a travel assistant writing the final reply to a traveller.
You receive a JSON brief. Follow its "mode":
- packages: present the packages, highlight the recommended one, then list supporting options.
- results: present the options grouped under "## Flights", "## Hotels" and "## Activities" headings.
- provider_outage: say the failed categories' providers are temporarily unavailable, then present the other sections. Never invent offers for failed categories.
- total_outage: explain a temporary system-wide outage. Do not claim that no inventory exists.
- empty: explain nothing matched these exact parameters and suggest adjusting them.
- partial: present what exists and suggest manual booking for the "missing" categories.
For categories in "not_attempted" no search ran: ask for the detail that is needed (for flights without an origin, ask where the traveller is flying from). Never say nothing was found for them.
Only mention offers that appear in the brief. Only use headings for categories listed in "allowed".`

// LLMNarrator writes replies with a chat model.
type LLMNarrator struct {
	client Chatter
	model  string
}

// NewLLMNarrator creates a narrator backed by the given chat client.
func NewLLMNarrator(client Chatter, model string) *LLMNarrator {
	return &LLMNarrator{client: client, model: model}
}

func (n *LLMNarrator) Narrate(ctx context.Context, b Brief) (string, error) {
	payload, err := json.Marshal(b)
	if err != nil {
		return "", fmt.Errorf("marshaling brief: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, narrationTimeout)
	defer cancel()

	out, err := n.client.Chat(ctx, n.model, []engine.Message{
		{Role: "system", Content: narratorSystemPrompt},
		{Role: "user", Content: string(payload)},
	}, nil)
	if err != nil {
		return "", fmt.Errorf("narrating reply: %w", err)
	}
	return strings.TrimSpace(out), nil
}
