package cache

import (
	"errors"
	"testing"

	"github.com/kalambet/tripd/internal/fingerprint"
	"github.com/kalambet/tripd/internal/plan"
	"github.com/kalambet/tripd/internal/search"
)

func record(c plan.Category, fp string, turn int, offers ...search.Offer) search.ResultRecord {
	return search.ResultRecord{
		ID:          search.RecordID(c, fp, 0),
		Category:    c,
		Fingerprint: fp,
		Offers:      offers,
		Turn:        turn,
	}
}

func hotel(name string) search.Offer {
	return search.Offer{Name: name, PricePerNight: "$120"}
}

func TestResolve_PicksNewestMatchingFingerprint(t *testing.T) {
	history := []search.ResultRecord{
		record(plan.CategoryHotels, "aaaa0000", 1, hotel("old")),
		record(plan.CategoryHotels, "bbbb1111", 2, hotel("other")),
		record(plan.CategoryHotels, "aaaa0000", 3, hotel("new")),
		record(plan.CategoryHotels, "cccc2222", 4, hotel("latest")),
	}
	got, m := Resolve(plan.CategoryHotels, "aaaa0000", history)
	if m != MatchFingerprint {
		t.Fatalf("match = %q, want %q", m, MatchFingerprint)
	}
	if got.Turn != 3 {
		t.Errorf("Turn = %d, want 3", got.Turn)
	}
}

func TestResolve_IgnoresOtherCategories(t *testing.T) {
	history := []search.ResultRecord{
		record(plan.CategoryFlights, "aaaa0000", 1, search.Offer{Airline: "AF"}),
	}
	if _, m := Resolve(plan.CategoryHotels, "aaaa0000", history); m != MatchNone {
		t.Errorf("match = %q, want none", m)
	}
}

func TestResolve_NeverReusesRealDataFromOtherPlan(t *testing.T) {
	tokyo := plan.TripPlan{Destination: "Tokyo", DepartureDate: "2026-04-10", ReturnDate: "2026-04-14", PartySize: 1}
	osaka := tokyo
	osaka.Destination = "Osaka"

	history := []search.ResultRecord{
		record(plan.CategoryHotels, fingerprint.Compute(plan.CategoryHotels, tokyo, false), 1, hotel("Tokyo Inn")),
	}
	_, m := Resolve(plan.CategoryHotels, fingerprint.Compute(plan.CategoryHotels, osaka, false), history)
	if m != MatchNone {
		t.Errorf("match = %q, want none for a changed destination", m)
	}
}

func TestResolve_DegradesToLatestErrorRecord(t *testing.T) {
	failed := search.Placeholder(plan.CategoryFlights, "ProviderError", errors.New("down"))
	history := []search.ResultRecord{
		record(plan.CategoryFlights, "aaaa0000", 1, search.Offer{Airline: "AF"}),
		record(plan.CategoryFlights, "bbbb1111", 2, failed),
	}
	got, m := Resolve(plan.CategoryFlights, "cccc2222", history)
	if m != MatchStaleError {
		t.Fatalf("match = %q, want %q", m, MatchStaleError)
	}
	if got.Turn != 2 || !got.AllErrors() {
		t.Errorf("got %+v, want the turn 2 placeholder", got)
	}
}

func TestResolve_NoDegradeWhenLatestHasRealData(t *testing.T) {
	failed := search.Placeholder(plan.CategoryFlights, "ProviderError", errors.New("down"))
	history := []search.ResultRecord{
		record(plan.CategoryFlights, "bbbb1111", 1, failed),
		record(plan.CategoryFlights, "aaaa0000", 2, search.Offer{Airline: "AF"}),
	}
	if _, m := Resolve(plan.CategoryFlights, "cccc2222", history); m != MatchNone {
		t.Errorf("match = %q, want none", m)
	}
}

func TestHas(t *testing.T) {
	history := []search.ResultRecord{record(plan.CategoryActivities, "x", 1)}
	if !Has(history, plan.CategoryFlights, plan.CategoryActivities) {
		t.Error("Has() = false, want true")
	}
	if Has(history, plan.CategoryHotels) {
		t.Error("Has(hotels) = true, want false")
	}
}
