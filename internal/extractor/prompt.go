package extractor

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/tripd/internal/engine"
	"github.com/kalambet/tripd/internal/plan"
)

const extractPrompt = `You are a travel request parser. Read the traveller's message and fill in the trip it describes. Your output must be ONLY a single valid JSON object that conforms to the provided schema. Do not include any other text, prose, or markdown.

Intents:
- "full": flights, hotels and activities
- "flights_only": the traveller only wants flights
- "hotels_only": the traveller only wants accommodation
- "activities_only": the traveller only wants things to do

Rules:
- Use city names as written by the traveller. Do not invent an origin.
- Dates are YYYY-MM-DD. Resolve relative dates ("next Friday") against today's date.
- Leave a field empty when the message does not mention it.
- total_budget is a plain number in the currency the traveller used.`

const updatePrompt = `You are a travel request parser. The traveller already has a trip plan, shown below as JSON. Read their new message and output ONLY the fields it changes, as a single valid JSON object that conforms to the provided schema. Do not include any other text, prose, or markdown.

Rules:
- Omit every field the message does not change.
- Dates are YYYY-MM-DD. Resolve relative dates against today's date.
- If the message changes the trip length but not the return date, set duration_days and omit return_date.
- intent is one of "full", "flights_only", "hotels_only", "activities_only".`

// BuildPrompt constructs the chat messages for plan extraction. prev is nil
// for a fresh extraction.
func BuildPrompt(text string, prev *plan.TripPlan, today time.Time) []engine.Message {
	var sb strings.Builder
	if prev == nil {
		sb.WriteString(extractPrompt)
	} else {
		sb.WriteString(updatePrompt)
		current, _ := json.Marshal(prev)
		fmt.Fprintf(&sb, "\n\n[Current Plan]\n%s", current)
	}
	fmt.Fprintf(&sb, "\n\n[Today]\n%s", today.Format(plan.DateLayout))

	return []engine.Message{
		{Role: "system", Content: sb.String()},
		{Role: "user", Content: text},
	}
}
