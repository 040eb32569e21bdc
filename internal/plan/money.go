package plan

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// FallbackRates are units of each currency per one US dollar.
var FallbackRates = map[string]float64{
	"USD": 1,
	"CNY": 7.0,
	"EUR": 0.93,
	"JPY": 145,
	"GBP": 0.81,
	"AUD": 1.55,
}

var (
	currencyCodeRe = regexp.MustCompile(`\b([A-Z]{3})\b`)
	amountRe       = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)
	currencySymbol = []struct{ sym, code string }{
		{"$", "USD"}, {"€", "EUR"}, {"£", "GBP"}, {"¥", "CNY"}, {"元", "CNY"},
	}
)

// ParseMoney extracts an amount and ISO currency code from strings such as
// "$1,200", "1200 CNY" or "¥800". Without a currency marker USD is assumed.
func ParseMoney(s string) (float64, string, bool) {
	text := strings.TrimSpace(strings.ReplaceAll(s, "\u00a0", " "))
	if text == "" {
		return 0, "", false
	}
	code := ""
	if m := currencyCodeRe.FindStringSubmatch(text); m != nil {
		code = m[1]
	}
	if code == "" {
		for _, cs := range currencySymbol {
			if strings.Contains(text, cs.sym) {
				code = cs.code
				break
			}
		}
	}
	num := amountRe.FindString(text)
	num = strings.ReplaceAll(num, ",", "")
	if num == "" {
		return 0, "", false
	}
	amount, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, "", false
	}
	if code == "" {
		code = "USD"
	}
	return amount, code, true
}

// ToUSD converts amount in currency code using rates (units per USD).
func ToUSD(amount float64, code string, rates map[string]float64) (float64, bool) {
	code = strings.ToUpper(code)
	if code == "USD" {
		return amount, true
	}
	rate, ok := rates[code]
	if !ok || rate == 0 {
		return 0, false
	}
	return math.Round(amount/rate*100) / 100, true
}

// ParseBudget reads a free-form budget into US dollars using FallbackRates.
// It returns false for missing, unparseable or non-positive budgets.
func ParseBudget(raw string) (float64, bool) {
	amount, code, ok := ParseMoney(raw)
	if !ok {
		return 0, false
	}
	usd, ok := ToUSD(amount, code, FallbackRates)
	if !ok || usd <= 0 {
		return 0, false
	}
	return usd, true
}
