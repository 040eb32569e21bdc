package synthesis

import (
	"fmt"
	"math"
	"sort"

	"github.com/kalambet/tripd/internal/plan"
	"github.com/kalambet/tripd/internal/search"
)

// Package is one bookable combination of flight, hotel and activities.
type Package struct {
	Name       string         `json:"name"`
	Flight     search.Offer   `json:"flight"`
	Hotel      search.Offer   `json:"hotel"`
	Activities []search.Offer `json:"activities,omitempty"`
	Nights     int            `json:"nights"`
	TotalUSD   float64        `json:"total_usd"`
	Comment    string         `json:"comment"`
}

const unknownPrice = 999_999.0

// PriceUSD parses a display price into US dollars.
func PriceUSD(s string) (float64, bool) {
	amount, code, ok := plan.ParseMoney(s)
	if !ok {
		return 0, false
	}
	return plan.ToUSD(amount, code, plan.FallbackRates)
}

func hotelPrice(o search.Offer) string {
	if o.PricePerNight != "" {
		return o.PricePerNight
	}
	return o.Price
}

func sortedByPrice(offers []search.Offer, price func(search.Offer) string) []search.Offer {
	out := append([]search.Offer(nil), offers...)
	key := func(o search.Offer) float64 {
		if v, ok := PriceUSD(price(o)); ok {
			return v
		}
		return unknownPrice
	}
	sort.SliceStable(out, func(i, j int) bool { return key(out[i]) < key(out[j]) })
	return out
}

// BuildPackages combines offers into Budget, Balanced and Premium packages.
// Balanced needs two flights and two hotels, Premium three of each.
func BuildPackages(flights, hotels, activities []search.Offer, nights int, budget float64) []Package {
	if len(flights) == 0 || len(hotels) == 0 {
		return nil
	}
	if nights < 1 {
		nights = 1
	}
	fs := sortedByPrice(flights, func(o search.Offer) string { return o.Price })
	hs := sortedByPrice(hotels, hotelPrice)

	pickActivities := func(n int) []search.Offer {
		var out []search.Offer
		for _, a := range activities {
			if len(out) == n {
				break
			}
			if _, ok := PriceUSD(a.Price); ok {
				out = append(out, a)
			}
		}
		return out
	}

	build := func(name string, f, h search.Offer, acts []search.Offer) Package {
		flight, _ := PriceUSD(f.Price)
		nightly, _ := PriceUSD(hotelPrice(h))
		total := flight + nightly*float64(nights)
		for _, a := range acts {
			p, _ := PriceUSD(a.Price)
			total += p
		}
		total = math.Round(total*100) / 100
		return Package{
			Name:       name,
			Flight:     f,
			Hotel:      h,
			Activities: acts,
			Nights:     nights,
			TotalUSD:   total,
			Comment:    budgetComment(total, budget),
		}
	}

	pkgs := []Package{build("Budget", fs[0], hs[0], pickActivities(1))}
	if len(fs) >= 2 && len(hs) >= 2 {
		pkgs = append(pkgs, build("Balanced", fs[len(fs)/2], hs[len(hs)/2], pickActivities(2)))
	}
	if len(fs) >= 3 && len(hs) >= 3 {
		pkgs = append(pkgs, build("Premium", fs[len(fs)-1], hs[len(hs)-1], pickActivities(2)))
	}
	return pkgs
}

func budgetComment(total, budget float64) string {
	if budget <= 0 {
		return "No budget given; options are ordered from cheapest to most expensive."
	}
	diff := total - budget
	if diff <= 0 {
		return fmt.Sprintf("Within budget, about %.0f USD to spare.", math.Abs(diff))
	}
	return fmt.Sprintf("About %.0f USD over budget; a cheaper flight or hotel would close the gap.", diff)
}

// Recommended returns the Balanced package when present, else the first.
func Recommended(pkgs []Package) (Package, bool) {
	if len(pkgs) == 0 {
		return Package{}, false
	}
	for _, p := range pkgs {
		if p.Name == "Balanced" {
			return p, true
		}
	}
	return pkgs[0], true
}
