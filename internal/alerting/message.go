package alerting

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"meramandi/internal/market"
)

var nonDigits = regexp.MustCompile(`\D`)

// NormalizePhone converts user input into an E.164 destination. Ten digit
// numbers starting 6-9 are Indian mobiles; other ten digit numbers get +1.
func NormalizePhone(raw string) string {
	digits := nonDigits.ReplaceAllString(raw, "")
	if digits == "" {
		return ""
	}
	if len(digits) == 10 {
		if strings.ContainsRune("6789", rune(digits[0])) {
			return "+91" + digits
		}
		return "+1" + digits
	}
	return "+" + digits
}

// LocalPhone returns the last ten digits of a number. Owners are keyed by it
// so that "+91 98xxx", "098xxx" and "98xxx" resolve to the same person.
func LocalPhone(raw string) string {
	digits := nonDigits.ReplaceAllString(raw, "")
	if len(digits) > 10 {
		return digits[len(digits)-10:]
	}
	return digits
}

// PriceMessages renders the three reminder texts for a summary. cachedAt is
// set when the summary comes from a stored snapshot rather than live data.
func PriceMessages(commodity, district string, s market.Summary, cachedAt *time.Time) []string {
	label := market.CommodityLabel(commodity)
	when, usual, suffix := "today is", "is", ""
	if cachedAt != nil {
		when, usual = "was", "was"
		suffix = fmt.Sprintf(" (last known %s)", cachedAt.Format("02 Jan 2006"))
	}

	return []string{
		fmt.Sprintf("The lowest rate for %s in %s %s ₹%s%s", label, district, when, s.MinPrice.StringFixed(0), suffix),
		fmt.Sprintf("The highest rate for %s in %s %s ₹%s at %s%s", label, district, when, s.MaxPrice.StringFixed(0), s.MandiName, suffix),
		fmt.Sprintf("The usual market rate for %s in %s %s ₹%s%s", label, district, usual, s.ModalPrice.StringFixed(0), suffix),
	}
}

// RegistrationMessages renders the SMS sent after a voice registration.
func RegistrationMessages(crop string, s market.Summary) []string {
	return []string{
		fmt.Sprintf("Min: ₹%s - %s at %s", s.MinPrice.StringFixed(0), crop, s.MandiName),
		fmt.Sprintf("Max: ₹%s - %s at %s", s.MaxPrice.StringFixed(0), crop, s.MandiName),
		fmt.Sprintf("Market Rate: ₹%s - %s. Confirmed!", s.ModalPrice.StringFixed(0), crop),
	}
}

// UnavailableMessage is sent when no price data exists for a registration.
func UnavailableMessage(crop string) string {
	return fmt.Sprintf("%s prices unavailable. Visit the MeraMandi app for details.", crop)
}

// TestMessage is the body of the manual test SMS.
const TestMessage = "✅ Test SMS from MeraMandi - Alerts working!"
