// Package search defines offers, the records that store them and the
// provider boundary used to fetch them.
package search

import (
	"context"
	"fmt"

	"github.com/kalambet/tripd/internal/plan"
)

// Offer is a single flight, hotel or activity returned by a provider. Only
// the fields relevant to its category are set. An offer with IsError set is
// a placeholder for a failed search and is never shown as inventory.
type Offer struct {
	// Flights
	Airline       string `json:"airline,omitempty"`
	FlightNumber  string `json:"flight_number,omitempty"`
	DepartureTime string `json:"departure_time,omitempty"`
	ArrivalTime   string `json:"arrival_time,omitempty"`
	Duration      string `json:"duration,omitempty"`

	// Hotels and activities
	Name          string  `json:"name,omitempty"`
	Stars         string  `json:"category,omitempty"`
	PricePerNight string  `json:"price_per_night,omitempty"`
	Rating        float64 `json:"rating,omitempty"`
	Source        string  `json:"source,omitempty"`
	Description   string  `json:"description,omitempty"`
	Location      string  `json:"location,omitempty"`

	Price string `json:"price,omitempty"`

	IsError      bool   `json:"is_error,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Title is a short label for the offer.
func (o Offer) Title() string {
	switch {
	case o.Airline != "" && o.FlightNumber != "":
		return o.Airline + " " + o.FlightNumber
	case o.Airline != "":
		return o.Airline
	}
	return o.Name
}

// Query carries the provider-facing arguments of one search. Origin and
// Destination hold resolved codes when a resolver knows them.
type Query struct {
	Category      plan.Category `json:"category"`
	Origin        string        `json:"origin,omitempty"`
	Destination   string        `json:"destination"`
	DepartureDate string        `json:"departure_date,omitempty"`
	ReturnDate    string        `json:"return_date,omitempty"`
	PartySize     int           `json:"party_size"`
	CabinClass    string        `json:"cabin_class,omitempty"`
	DepartureTime string        `json:"departure_time,omitempty"`
	ArrivalTime   string        `json:"arrival_time,omitempty"`
	OneWay        bool          `json:"one_way,omitempty"`
}

// Provider runs a search for a single category.
type Provider interface {
	Search(ctx context.Context, q Query) ([]Offer, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, q Query) ([]Offer, error)

func (f ProviderFunc) Search(ctx context.Context, q Query) ([]Offer, error) {
	return f(ctx, q)
}

// Providers maps each category to the provider that serves it.
type Providers map[plan.Category]Provider

// Source tells whether a record was produced by a provider call this turn
// or carried forward from history.
type Source string

const (
	SourceFresh  Source = "fresh"
	SourceReused Source = "reused"
)

// ResultRecord is the stored outcome of one category for one turn.
type ResultRecord struct {
	ID          string        `json:"id"`
	Category    plan.Category `json:"category"`
	Fingerprint string        `json:"fingerprint"`
	Offers      []Offer       `json:"offers"`
	Seq         int           `json:"seq"`
	Turn        int           `json:"turn"`
	Source      Source        `json:"source"`
}

// RecordID formats the identifier of the seq-th record of a turn.
func RecordID(c plan.Category, fingerprint string, seq int) string {
	return fmt.Sprintf("call_%s:%s:%d", c, fingerprint, seq)
}

// AllErrors reports whether the record holds only error placeholders.
func (r ResultRecord) AllErrors() bool {
	if len(r.Offers) == 0 {
		return false
	}
	for _, o := range r.Offers {
		if !o.IsError {
			return false
		}
	}
	return true
}

// Real returns the offers that are not placeholders.
func (r ResultRecord) Real() []Offer {
	var out []Offer
	for _, o := range r.Offers {
		if !o.IsError {
			out = append(out, o)
		}
	}
	return out
}

// ErrorMessage returns the first placeholder message, if any.
func (r ResultRecord) ErrorMessage() string {
	for _, o := range r.Offers {
		if o.IsError {
			return o.ErrorMessage
		}
	}
	return ""
}
