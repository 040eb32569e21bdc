// Package synthesis turns per-category search outcomes into the reply the
// traveller sees, choosing how to degrade when searches failed.
package synthesis

import (
	"github.com/kalambet/tripd/internal/plan"
	"github.com/kalambet/tripd/internal/search"
)

// Status is how a category's results were obtained this turn.
type Status string

const (
	StatusFresh        Status = "fresh"
	StatusReused       Status = "reused"
	StatusFailed       Status = "failed"
	StatusNotAttempted Status = "not_attempted"
)

// Outcome is the resolved state of one category for a turn.
type Outcome struct {
	Category plan.Category
	Status   Status
	Offers   []search.Offer
	Error    string
}

// OutcomeFrom classifies a record. Placeholders are dropped from Offers.
func OutcomeFrom(r search.ResultRecord) Outcome {
	o := Outcome{Category: r.Category, Offers: r.Real()}
	switch {
	case r.AllErrors():
		o.Status = StatusFailed
		o.Error = r.ErrorMessage()
	case r.Source == search.SourceReused:
		o.Status = StatusReused
	default:
		o.Status = StatusFresh
	}
	return o
}

// Mode is the shape of the reply.
type Mode string

const (
	ModePackages       Mode = "packages"
	ModeResults        Mode = "results"
	ModeProviderOutage Mode = "provider_outage"
	ModeTotalOutage    Mode = "total_outage"
	ModeEmpty          Mode = "empty"
	ModePartial        Mode = "partial"
	ModeRetry          Mode = "retry"
)

// Input is everything the selector and narrator need for one turn.
type Input struct {
	Plan     plan.TripPlan
	Outcomes map[plan.Category]Outcome
	// Budget is the package budget in USD, zero when unknown.
	Budget float64
	// HadHistory is set when earlier turns stored search results.
	HadHistory bool
}

func (in Input) outcome(c plan.Category) Outcome {
	if o, ok := in.Outcomes[c]; ok {
		return o
	}
	return Outcome{Category: c, Status: StatusNotAttempted}
}

type tally struct {
	failed, withData, empty, missing []plan.Category
}

func (in Input) tally() tally {
	var t tally
	for _, c := range plan.Required(in.Plan.Intent) {
		o := in.outcome(c)
		switch {
		case o.Status == StatusNotAttempted:
			t.missing = append(t.missing, c)
		case o.Status == StatusFailed:
			t.failed = append(t.failed, c)
		case len(o.Offers) > 0:
			t.withData = append(t.withData, c)
		default:
			t.empty = append(t.empty, c)
		}
	}
	return t
}

// Select picks the reply mode for in.
func Select(in Input) Mode {
	t := in.tally()
	required := len(plan.Required(in.Plan.Intent))

	if len(t.missing) == required {
		if in.HadHistory {
			return ModeRetry
		}
		return ModeTotalOutage
	}
	if len(t.failed) > 0 {
		// Total only when nothing searched came back without error: an empty
		// answer is still an answer.
		if len(t.withData) == 0 && len(t.empty) == 0 {
			return ModeTotalOutage
		}
		return ModeProviderOutage
	}
	if in.packagesPossible() {
		return ModePackages
	}
	switch {
	case len(t.withData) == required:
		return ModeResults
	case len(t.withData) == 0 && len(t.missing) == 0:
		return ModeEmpty
	}
	return ModePartial
}

func (in Input) packagesPossible() bool {
	return in.Plan.Intent == plan.IntentFull &&
		in.Budget > 0 &&
		len(in.outcome(plan.CategoryFlights).Offers) > 0 &&
		len(in.outcome(plan.CategoryHotels).Offers) > 0
}
