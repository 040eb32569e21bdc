package search

import (
	"fmt"
	"unicode/utf8"

	"github.com/kalambet/tripd/internal/plan"
)

// MaxErrorLength caps placeholder error messages, in runes.
const MaxErrorLength = 500

// Placeholder builds the error stand-in for a failed search in category c.
// kind names the failure class, for example "ProviderError" or "panic".
func Placeholder(c plan.Category, kind string, err error) Offer {
	msg := truncate(fmt.Sprintf("%s: %v", kind, err), MaxErrorLength)
	o := Offer{IsError: true, ErrorMessage: msg}
	switch c {
	case plan.CategoryFlights:
		o.Airline = "API_ERROR"
		o.Price = "N/A"
		o.DepartureTime = "N/A"
		o.ArrivalTime = "N/A"
	case plan.CategoryHotels:
		o.Name = "API_ERROR"
		o.Stars = "N/A"
		o.PricePerNight = "N/A"
		o.Source = "SYSTEM"
	case plan.CategoryActivities:
		o.Name = "API_ERROR"
		o.Description = "Activity API error"
		o.Price = "N/A"
	}
	return o
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "…"
}
