package plan

import (
	"regexp"
	"strings"
	"unicode"
)

// LowSignalReply answers input that carries no usable request.
const LowSignalReply = "Sorry—I didn't catch that. Could you please repeat your request in English?"

var (
	ackRe = regexp.MustCompile(`(?i)^(hi|hello|hey|ok|okay|thanks|thank\s+you|test)\W*$`)

	timeRe = regexp.MustCompile(`(?i)(\d{4}-\d{1,2}-\d{1,2})|(\d{1,2}\s*(月|/|-)\s*\d{1,2})|` +
		`(today|tomorrow|next\s+week|next\s+\w+day)|(今天|明天|后天|下周|周[一二三四五六日天])`)

	travelKeywordRe = regexp.MustCompile(`(?i)\b(flight|flights|hotel|hotels|activity|activities|tour|itinerary|airport|` +
		`business|economy|one[-\s]?way|round[-\s]?trip|budget|price)\b|(机票|航班|酒店|住宿|活动|行程|预算|商务舱|经济舱|单程|往返|机场)`)

	oneWayRe = regexp.MustCompile(`(?i)one[-\s]?way|\boneway\b|单程|单向|只要去程|不返程`)

	dateMentionRe = regexp.MustCompile(`\b20\d{2}-\d{2}-\d{2}\b|明天|后天|今天|下周|\d+\s*晚|\d+\s*天|(?i)\b\d+\s*(days?|nights?)\b`)

	activityKeywords = regexp.MustCompile(`(?i)things to do|\bactivit(y|ies)\b|\btours?\b|体验|好玩|玩什么|活动`)
	flightKeywords   = regexp.MustCompile(`(?i)\bflights?\b|one[-\s]?way|\bfly\b|航班|机票|单程|往返|商务舱|经济舱`)
	hotelKeywords    = regexp.MustCompile(`(?i)\bhotels?\b|\bstay\b|酒店|住宿|四星|五星|星级`)
)

var cjkAcks = map[string]bool{"好的": true, "谢谢": true, "嗯": true, "哈": true, "哈哈": true, "收到": true}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r)
}

// IsLowSignal reports whether text is too thin to act on: empty, punctuation,
// a bare greeting, or a short fragment with no date or travel vocabulary.
func IsLowSignal(text string) bool {
	t := strings.TrimSpace(text)
	if t == "" {
		return true
	}

	runes := []rune(t)
	meaningful := 0
	hasCJK := false
	for _, r := range runes {
		if isCJK(r) {
			hasCJK = true
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			meaningful++
		}
	}
	if meaningful == 0 {
		return true
	}
	if ackRe.MatchString(t) || cjkAcks[t] {
		return true
	}

	signal := timeRe.MatchString(t) || travelKeywordRe.MatchString(t)
	if len(runes) <= 4 && !signal && !hasCJK {
		return true
	}
	ratio := float64(meaningful) / float64(len(runes))
	if ratio < 0.35 && !signal && len(runes) < 20 {
		return true
	}
	return false
}

// IsOneWay reports whether text asks for a one-way flight.
func IsOneWay(text string) bool {
	return oneWayRe.MatchString(text)
}

// MentionsDate reports whether text carries an explicit date or trip length.
func MentionsDate(text string) bool {
	return dateMentionRe.MatchString(text)
}

// InferIntent returns a single-category intent when text clearly names one
// category and no other.
func InferIntent(text string) (Intent, bool) {
	act := activityKeywords.MatchString(text)
	fl := flightKeywords.MatchString(text)
	ho := hotelKeywords.MatchString(text)
	switch {
	case act && !fl && !ho:
		return IntentActivitiesOnly, true
	case fl && !ho && !act:
		return IntentFlightsOnly, true
	case ho && !fl && !act:
		return IntentHotelsOnly, true
	}
	return "", false
}

// CleanupForIntent clears fields inherited from earlier turns that the new
// intent should not carry over. Fields changed this turn are kept.
func CleanupForIntent(p *TripPlan, intent Intent, changed []Field, text string) {
	touched := make(map[Field]bool, len(changed))
	for _, f := range changed {
		touched[f] = true
	}
	drop := func(fields ...Field) {
		for _, f := range fields {
			if touched[f] {
				continue
			}
			switch f {
			case FieldOrigin:
				p.Origin = ""
			case FieldCabinClass:
				p.CabinClass = ""
			case FieldDepartureTimePref:
				p.DepartureTimePref = ""
			case FieldArrivalTimePref:
				p.ArrivalTimePref = ""
			case FieldTotalBudget:
				p.TotalBudget = 0
			case FieldDepartureDate:
				p.DepartureDate = ""
			case FieldReturnDate:
				p.ReturnDate = ""
			case FieldDurationDays:
				p.DurationDays = 0
			}
		}
	}
	dates := []Field{FieldDepartureDate, FieldReturnDate, FieldDurationDays}

	switch intent {
	case IntentActivitiesOnly:
		drop(FieldOrigin, FieldCabinClass, FieldDepartureTimePref, FieldArrivalTimePref, FieldTotalBudget)
		if !MentionsDate(text) {
			drop(dates...)
		}
	case IntentHotelsOnly:
		drop(FieldOrigin, FieldCabinClass, FieldDepartureTimePref, FieldArrivalTimePref)
		drop(dates...)
	case IntentFlightsOnly:
		drop(dates...)
	}
}
