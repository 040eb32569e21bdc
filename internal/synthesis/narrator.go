package synthesis

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/tripd/internal/plan"
	"github.com/kalambet/tripd/internal/search"
)

// Narrator writes the reply text for a brief.
type Narrator interface {
	Narrate(ctx context.Context, b Brief) (string, error)
}

const (
	FallbackReply = "I apologize, but I encountered an issue generating your recommendations. Please try again."
	RetryReply    = "I couldn't match earlier search results to your current plan. Please send your request again and I'll run a fresh search."
)

var categoryTitle = map[plan.Category]string{
	plan.CategoryFlights:    "Flights",
	plan.CategoryHotels:     "Hotels",
	plan.CategoryActivities: "Activities",
}

var categoryNoun = map[plan.Category]string{
	plan.CategoryFlights:    "flight",
	plan.CategoryHotels:     "hotel",
	plan.CategoryActivities: "activity",
}

// TemplateNarrator renders replies from fixed templates. Output depends only
// on the brief, so the same brief always yields the same text.
type TemplateNarrator struct{}

func (TemplateNarrator) Narrate(_ context.Context, b Brief) (string, error) {
	var sb strings.Builder
	dest := b.Plan.Destination

	switch b.Mode {
	case ModeRetry:
		return RetryReply, nil
	case ModeTotalOutage:
		fmt.Fprintf(&sb, "Our travel search providers are temporarily unavailable, so I couldn't retrieve live options for %s. ", dest)
		sb.WriteString("This is a system issue, not a lack of availability. Please try again in a few minutes.")
		return sb.String(), nil
	case ModeEmpty:
		fmt.Fprintf(&sb, "I searched for your exact parameters but found no available options for %s. ", dest)
		sb.WriteString("Try adjusting your dates, budget or preferences and I'll search again.")
		return sb.String(), nil
	case ModePartial:
		if len(b.Sections) == 0 {
			fmt.Fprintf(&sb, "I looked into your trip to %s.\n", dest)
			break
		}
		fmt.Fprintf(&sb, "Here is what I found for your trip to %s.\n", dest)
	case ModeProviderOutage:
		for _, f := range b.Failures {
			fmt.Fprintf(&sb, "Note: our %s search provider is having issues right now, so I can't show %s options. ",
				categoryNoun[f.Category], categoryNoun[f.Category])
		}
		if len(b.Sections) > 0 {
			sb.WriteString("Here is what I found for the rest of your trip.\n")
		}
	case ModePackages:
		fmt.Fprintf(&sb, "Here are travel packages for your trip to %s.\n", dest)
	default:
		fmt.Fprintf(&sb, "Here is what I found for your trip to %s.\n", dest)
	}

	for _, s := range b.Sections {
		fmt.Fprintf(&sb, "\n## %s\n", categoryTitle[s.Category])
		for _, o := range s.Offers {
			sb.WriteString("- " + offerLine(s.Category, o) + "\n")
		}
	}

	if len(b.Packages) > 0 {
		sb.WriteString("\n## Packages\n")
		for _, p := range b.Packages {
			mark := ""
			if p.Name == b.Recommended {
				mark = " (recommended)"
			}
			fmt.Fprintf(&sb, "- %s%s: %s + %s, %d nights, about %.0f USD. %s\n",
				p.Name, mark, p.Flight.Title(), p.Hotel.Title(), p.Nights, p.TotalUSD, p.Comment)
		}
	}

	if b.Mode == ModePartial || b.Mode == ModeProviderOutage {
		for _, c := range b.Missing {
			fmt.Fprintf(&sb, "\nI couldn't find any %s options for these parameters. You may want to check %s booking sites directly or adjust your dates.\n",
				categoryNoun[c], categoryNoun[c])
		}
		for _, c := range b.NotAttempted {
			sb.WriteString("\n" + notAttemptedLine(c, b.Plan) + "\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// notAttemptedLine asks for the input that kept category c from being
// searched.
func notAttemptedLine(c plan.Category, p plan.TripPlan) string {
	switch {
	case c == plan.CategoryFlights && strings.TrimSpace(p.Origin) == "":
		return "I haven't searched flights yet because I don't know your departure city. " + plan.AskOrigin
	case strings.TrimSpace(p.Destination) == "":
		return fmt.Sprintf("I haven't searched %s options yet. %s", categoryNoun[c], plan.AskDestination)
	}
	return fmt.Sprintf("I haven't searched %s options yet because some trip details are missing. %s",
		categoryNoun[c], plan.AskTravelDates)
}

func offerLine(c plan.Category, o search.Offer) string {
	var parts []string
	switch c {
	case plan.CategoryFlights:
		parts = append(parts, o.Title())
		if o.DepartureTime != "" || o.ArrivalTime != "" {
			parts = append(parts, o.DepartureTime+" → "+o.ArrivalTime)
		}
		if o.Duration != "" {
			parts = append(parts, o.Duration)
		}
		parts = append(parts, o.Price)
	case plan.CategoryHotels:
		parts = append(parts, o.Name)
		if o.Stars != "" {
			parts = append(parts, o.Stars)
		}
		parts = append(parts, hotelPrice(o)+" per night")
	default:
		parts = append(parts, o.Name)
		if o.Description != "" {
			parts = append(parts, o.Description)
		}
		parts = append(parts, o.Price)
	}
	var kept []string
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " · ")
}

// Prune drops markdown sections about categories outside allowed.
func Prune(text string, allowed []plan.Category) string {
	keep := make(map[plan.Category]bool, len(allowed))
	for _, c := range allowed {
		keep[c] = true
	}
	var out []string
	skipping := false
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			c, ok := headingCategory(line)
			skipping = ok && !keep[c]
		}
		if !skipping {
			out = append(out, line)
		}
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func headingCategory(line string) (plan.Category, bool) {
	l := strings.ToLower(line)
	switch {
	case strings.Contains(l, "flight"):
		return plan.CategoryFlights, true
	case strings.Contains(l, "hotel"):
		return plan.CategoryHotels, true
	case strings.Contains(l, "activit"):
		return plan.CategoryActivities, true
	}
	return "", false
}
