// Package fingerprint derives short digests from the semantic inputs of a
// search so results can be matched back to the plan that produced them.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/kalambet/tripd/internal/plan"
)

// Length is the number of hex characters kept from the digest.
const Length = 8

const separator = "|"

// Parts returns the ordered values hashed for category c. Values are the
// ones the traveller typed, never provider codes, so the order and content
// here must stay stable across releases.
func Parts(c plan.Category, p plan.TripPlan, oneWay bool) []string {
	party := strconv.Itoa(p.PartySize)
	switch c {
	case plan.CategoryFlights:
		direction := "round_trip"
		if oneWay {
			direction = "one_way"
		}
		return []string{
			p.Origin,
			p.Destination,
			p.DepartureDate,
			p.ReturnDate,
			party,
			p.CabinClass,
			p.DepartureTimePref,
			p.ArrivalTimePref,
			direction,
		}
	case plan.CategoryHotels:
		return []string{p.Destination, p.DepartureDate, p.ReturnDate, party}
	case plan.CategoryActivities:
		return []string{p.Destination}
	}
	return nil
}

// Compute returns the fingerprint of the search for category c under plan p.
func Compute(c plan.Category, p plan.TripPlan, oneWay bool) string {
	return Digest(Parts(c, p, oneWay))
}

// Digest hashes already ordered parts.
func Digest(parts []string) string {
	sum := md5.Sum([]byte(strings.Join(parts, separator)))
	return hex.EncodeToString(sum[:])[:Length]
}
