package plan

import "time"

// DateLayout is the wire format of plan dates.
const DateLayout = "2006-01-02"

const (
	AskDestination   = "Where are you traveling to (destination city/airport)?"
	AskDepartureDate = "What is your departure date? Please use YYYY-MM-DD (e.g., 2026-04-10)."
	AskReturnDate    = "What is your return date? Please use YYYY-MM-DD (e.g., 2026-04-14)."
	AskDateOrder     = "Your return date must be after your departure date. Could you confirm the dates?"
	AskDuration      = "How many days is your trip (a positive number)?"
	AskTravelDates   = "What are your travel dates (departure & return), or at least a departure date + trip duration (days)? " +
		"Example: '2026-04-10 to 2026-04-14' or 'depart 2026-04-10 for 4 days'."
)

// NormalizeDates completes the date range from whichever pair of departure,
// return and duration is present. When the range cannot be derived it returns
// false and the question to ask; fields already set are left as they were.
func NormalizeDates(p *TripPlan) (bool, string) {
	if p.Destination == "" {
		return false, AskDestination
	}

	var dep, ret time.Time
	var err error
	if p.DepartureDate != "" {
		if dep, err = time.Parse(DateLayout, p.DepartureDate); err != nil {
			return false, AskDepartureDate
		}
	}
	if p.ReturnDate != "" {
		if ret, err = time.Parse(DateLayout, p.ReturnDate); err != nil {
			return false, AskReturnDate
		}
	}

	switch {
	case !dep.IsZero() && !ret.IsZero():
		if !ret.After(dep) {
			return false, AskDateOrder
		}
		if p.DurationDays == 0 {
			p.DurationDays = int(ret.Sub(dep).Hours() / 24)
		}
		return true, ""
	case !dep.IsZero() && p.DurationDays != 0:
		if p.DurationDays < 0 {
			return false, AskDuration
		}
		p.ReturnDate = dep.AddDate(0, 0, p.DurationDays).Format(DateLayout)
		return true, ""
	case !ret.IsZero() && p.DurationDays != 0:
		if p.DurationDays < 0 {
			return false, AskDuration
		}
		p.DepartureDate = ret.AddDate(0, 0, -p.DurationDays).Format(DateLayout)
		return true, ""
	}
	return false, AskTravelDates
}

// Nights is the number of hotel nights the plan covers, at least one.
func (p TripPlan) Nights() int {
	if p.DurationDays > 0 {
		return p.DurationDays
	}
	dep, err1 := time.Parse(DateLayout, p.DepartureDate)
	ret, err2 := time.Parse(DateLayout, p.ReturnDate)
	if err1 == nil && err2 == nil && ret.After(dep) {
		return int(ret.Sub(dep).Hours() / 24)
	}
	return 1
}

// AskOrigin is asked when a flights-only trip has no departure city.
const AskOrigin = "Where are you flying from?"
