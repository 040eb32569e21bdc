// Package plan models the structured trip a conversation is working towards
// and decides which searches a change to it invalidates.
package plan

import "strings"

// Intent is the kind of help the traveller asked for.
type Intent string

const (
	IntentFull           Intent = "full"
	IntentFlightsOnly    Intent = "flights_only"
	IntentHotelsOnly     Intent = "hotels_only"
	IntentActivitiesOnly Intent = "activities_only"
)

// Valid reports whether i is one of the known intents.
func (i Intent) Valid() bool {
	switch i {
	case IntentFull, IntentFlightsOnly, IntentHotelsOnly, IntentActivitiesOnly:
		return true
	}
	return false
}

// NeedsDates reports whether searches under this intent need a date range.
func (i Intent) NeedsDates() bool {
	return i != IntentActivitiesOnly
}

// Field names a TripPlan attribute that takes part in diffing.
type Field string

const (
	FieldOrigin            Field = "origin"
	FieldDestination       Field = "destination"
	FieldDepartureDate     Field = "departure_date"
	FieldReturnDate        Field = "return_date"
	FieldDurationDays      Field = "duration_days"
	FieldPartySize         Field = "party_size"
	FieldCabinClass        Field = "cabin_class"
	FieldDepartureTimePref Field = "departure_time_pref"
	FieldArrivalTimePref   Field = "arrival_time_pref"
	FieldTotalBudget       Field = "total_budget"
	FieldIntent            Field = "intent"
)

// TripPlan is the structured trip extracted from conversation text. Empty
// strings and zero numbers mean "not provided".
type TripPlan struct {
	Origin            string  `json:"origin,omitempty"`
	Destination       string  `json:"destination"`
	DepartureDate     string  `json:"departure_date,omitempty"`
	ReturnDate        string  `json:"return_date,omitempty"`
	DurationDays      int     `json:"duration_days,omitempty"`
	PartySize         int     `json:"party_size"`
	CabinClass        string  `json:"cabin_class,omitempty"`
	DepartureTimePref string  `json:"departure_time_pref,omitempty"`
	ArrivalTimePref   string  `json:"arrival_time_pref,omitempty"`
	TotalBudget       float64 `json:"total_budget,omitempty"`
	Intent            Intent  `json:"intent"`
}

// Normalize fills defaults and trims free-text fields.
func (p *TripPlan) Normalize() {
	p.Origin = strings.TrimSpace(p.Origin)
	p.Destination = strings.TrimSpace(p.Destination)
	p.DepartureDate = strings.TrimSpace(p.DepartureDate)
	p.ReturnDate = strings.TrimSpace(p.ReturnDate)
	p.CabinClass = strings.ToUpper(strings.TrimSpace(p.CabinClass))
	if p.PartySize < 1 {
		p.PartySize = 1
	}
	if !p.Intent.Valid() {
		p.Intent = IntentFull
	}
}

// Value returns the comparable value of field f.
func (p TripPlan) Value(f Field) any {
	switch f {
	case FieldOrigin:
		return p.Origin
	case FieldDestination:
		return p.Destination
	case FieldDepartureDate:
		return p.DepartureDate
	case FieldReturnDate:
		return p.ReturnDate
	case FieldDurationDays:
		return p.DurationDays
	case FieldPartySize:
		return p.PartySize
	case FieldCabinClass:
		return p.CabinClass
	case FieldDepartureTimePref:
		return p.DepartureTimePref
	case FieldArrivalTimePref:
		return p.ArrivalTimePref
	case FieldTotalBudget:
		return p.TotalBudget
	case FieldIntent:
		return p.Intent
	}
	return nil
}

var allFields = []Field{
	FieldOrigin, FieldDestination, FieldDepartureDate, FieldReturnDate,
	FieldDurationDays, FieldPartySize, FieldCabinClass, FieldDepartureTimePref,
	FieldArrivalTimePref, FieldTotalBudget, FieldIntent,
}

// ChangedFields lists the fields whose values differ between prev and next,
// in declaration order.
func ChangedFields(prev, next TripPlan) []Field {
	var changed []Field
	for _, f := range allFields {
		if prev.Value(f) != next.Value(f) {
			changed = append(changed, f)
		}
	}
	return changed
}

// Patch is a partial update produced from a follow-up message. Nil fields are
// left untouched; a pointer to the zero value clears the field.
type Patch struct {
	Origin            *string  `json:"origin,omitempty"`
	Destination       *string  `json:"destination,omitempty"`
	DepartureDate     *string  `json:"departure_date,omitempty"`
	ReturnDate        *string  `json:"return_date,omitempty"`
	DurationDays      *int     `json:"duration_days,omitempty"`
	PartySize         *int     `json:"party_size,omitempty"`
	CabinClass        *string  `json:"cabin_class,omitempty"`
	DepartureTimePref *string  `json:"departure_time_pref,omitempty"`
	ArrivalTimePref   *string  `json:"arrival_time_pref,omitempty"`
	TotalBudget       *float64 `json:"total_budget,omitempty"`
	Intent            *Intent  `json:"intent,omitempty"`
}

// Apply returns a copy of p with the patch applied. A patch never clears the
// origin or the destination.
func (p TripPlan) Apply(patch Patch) TripPlan {
	out := p
	setStr := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	if patch.Origin != nil && strings.TrimSpace(*patch.Origin) != "" {
		out.Origin = *patch.Origin
	}
	if patch.Destination != nil && strings.TrimSpace(*patch.Destination) != "" {
		out.Destination = *patch.Destination
	}
	setStr(&out.DepartureDate, patch.DepartureDate)
	setStr(&out.ReturnDate, patch.ReturnDate)
	setStr(&out.CabinClass, patch.CabinClass)
	setStr(&out.DepartureTimePref, patch.DepartureTimePref)
	setStr(&out.ArrivalTimePref, patch.ArrivalTimePref)
	if patch.DurationDays != nil {
		out.DurationDays = *patch.DurationDays
	}
	// A new departure or length without a return date shifts the trip.
	if patch.ReturnDate == nil && (patch.DepartureDate != nil || patch.DurationDays != nil) {
		out.ReturnDate = ""
	}
	if patch.PartySize != nil {
		out.PartySize = *patch.PartySize
	}
	if patch.TotalBudget != nil {
		out.TotalBudget = *patch.TotalBudget
	}
	if patch.Intent != nil && patch.Intent.Valid() {
		out.Intent = *patch.Intent
	}
	out.Normalize()
	return out
}
