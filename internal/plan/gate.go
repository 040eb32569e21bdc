package plan

// Category is a kind of search the executor can run.
type Category string

const (
	CategoryFlights    Category = "flights"
	CategoryHotels     Category = "hotels"
	CategoryActivities Category = "activities"
)

// Categories lists every category in execution order.
var Categories = []Category{CategoryFlights, CategoryHotels, CategoryActivities}

var dependencies = map[Category][]Field{
	CategoryFlights: {
		FieldOrigin, FieldDestination, FieldDepartureDate, FieldReturnDate,
		FieldPartySize, FieldCabinClass, FieldDepartureTimePref, FieldArrivalTimePref,
		FieldIntent,
	},
	CategoryHotels: {
		FieldDestination, FieldDepartureDate, FieldReturnDate, FieldPartySize, FieldIntent,
	},
	CategoryActivities: {FieldDestination, FieldIntent},
}

// Dependencies returns the plan fields whose change makes results for c stale.
func Dependencies(c Category) []Field {
	return append([]Field(nil), dependencies[c]...)
}

// Rerun records, per category, whether the plan change invalidated prior results.
type Rerun map[Category]bool

// Decide compares the previous turn's plan with the new one. A nil prev means
// the first turn of a trip, so everything reruns. A change that touches only
// the budget reruns nothing.
func Decide(prev *TripPlan, next TripPlan) Rerun {
	out := Rerun{}
	if prev == nil {
		for _, c := range Categories {
			out[c] = true
		}
		return out
	}

	changed := ChangedFields(*prev, next)
	if len(changed) == 1 && changed[0] == FieldTotalBudget {
		for _, c := range Categories {
			out[c] = false
		}
		return out
	}

	set := make(map[Field]bool, len(changed))
	for _, f := range changed {
		set[f] = true
	}
	for _, c := range Categories {
		stale := false
		for _, f := range dependencies[c] {
			if set[f] {
				stale = true
				break
			}
		}
		out[c] = stale
	}
	return out
}

// Applies reports whether category c is searched under intent i.
func Applies(i Intent, c Category) bool {
	switch i {
	case IntentFlightsOnly:
		return c == CategoryFlights
	case IntentHotelsOnly:
		return c == CategoryHotels
	case IntentActivitiesOnly:
		return c == CategoryActivities
	}
	return true
}

// Required lists the categories intent i needs, in execution order.
func Required(i Intent) []Category {
	var out []Category
	for _, c := range Categories {
		if Applies(i, c) {
			out = append(out, c)
		}
	}
	return out
}

// ExecutionSet narrows a gate decision to the categories the intent allows.
func ExecutionSet(r Rerun, i Intent) []Category {
	var out []Category
	for _, c := range Categories {
		if r[c] && Applies(i, c) {
			out = append(out, c)
		}
	}
	return out
}

// Decision is the per-turn verdict for one category.
type Decision string

const (
	DecisionReuse   Decision = "reuse"
	DecisionExecute Decision = "execute"
	DecisionSkip    Decision = "skip"
)

// MissingInputs lists the fields a search for c cannot run without.
func MissingInputs(c Category, p TripPlan, oneWay bool) []Field {
	var missing []Field
	need := func(f Field, v string) {
		if v == "" {
			missing = append(missing, f)
		}
	}
	switch c {
	case CategoryFlights:
		need(FieldOrigin, p.Origin)
		need(FieldDestination, p.Destination)
		need(FieldDepartureDate, p.DepartureDate)
		if !oneWay {
			need(FieldReturnDate, p.ReturnDate)
		}
	case CategoryHotels:
		need(FieldDestination, p.Destination)
		need(FieldDepartureDate, p.DepartureDate)
		need(FieldReturnDate, p.ReturnDate)
	case CategoryActivities:
		need(FieldDestination, p.Destination)
	}
	return missing
}
