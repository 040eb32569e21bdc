package synthesis

import (
	"github.com/kalambet/tripd/internal/plan"
	"github.com/kalambet/tripd/internal/search"
)

// MaxOffersPerSection bounds how many offers a reply lists per category.
const MaxOffersPerSection = 5

// Section is a category with real offers to present.
type Section struct {
	Category plan.Category `json:"category"`
	Offers   []search.Offer `json:"offers"`
	Reused   bool           `json:"reused,omitempty"`
}

// Failure names a category whose provider was unavailable.
type Failure struct {
	Category plan.Category `json:"category"`
	Error    string        `json:"error"`
}

// Brief is the structured context handed to a Narrator.
type Brief struct {
	Mode     Mode            `json:"mode"`
	Plan     plan.TripPlan   `json:"plan"`
	Allowed  []plan.Category `json:"allowed"`
	Sections []Section       `json:"sections,omitempty"`
	Failures []Failure       `json:"failures,omitempty"`

	// Missing lists categories searched without finding anything.
	Missing []plan.Category `json:"missing,omitempty"`

	// NotAttempted lists categories never searched because the plan lacks
	// an input they need.
	NotAttempted []plan.Category `json:"not_attempted,omitempty"`

	Packages    []Package `json:"packages,omitempty"`
	Recommended string    `json:"recommended,omitempty"`
	BudgetUSD   float64   `json:"budget_usd,omitempty"`
}

// NewBrief assembles the narrator context for in under mode.
func NewBrief(in Input, mode Mode) Brief {
	b := Brief{
		Mode:      mode,
		Plan:      in.Plan,
		Allowed:   plan.Required(in.Plan.Intent),
		BudgetUSD: in.Budget,
	}
	for _, c := range b.Allowed {
		o := in.outcome(c)
		switch {
		case o.Status == StatusNotAttempted:
			b.NotAttempted = append(b.NotAttempted, c)
		case o.Status == StatusFailed:
			b.Failures = append(b.Failures, Failure{Category: c, Error: o.Error})
		case len(o.Offers) > 0:
			offers := o.Offers
			if len(offers) > MaxOffersPerSection {
				offers = offers[:MaxOffersPerSection]
			}
			b.Sections = append(b.Sections, Section{Category: c, Offers: offers, Reused: o.Status == StatusReused})
		default:
			b.Missing = append(b.Missing, c)
		}
	}
	if mode == ModePackages {
		b.Packages = BuildPackages(
			in.outcome(plan.CategoryFlights).Offers,
			in.outcome(plan.CategoryHotels).Offers,
			in.outcome(plan.CategoryActivities).Offers,
			in.Plan.Nights(),
			in.Budget,
		)
		if rec, ok := Recommended(b.Packages); ok {
			b.Recommended = rec.Name
		}
	}
	return b
}
