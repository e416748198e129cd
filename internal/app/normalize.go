package app

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"zatoka_pms/internal/domain"
)

// The channel manager delivers webhooks as JSON, URL-encoded forms, ad-hoc
// key:value lines, or JSON hidden behind an '='-prefixed form key, depending
// on how the auto-action template was configured. ParsePayload tries each
// shape in fixed order and accepts the first that yields the provider's
// booking id key.

const requiredKey = "bookId"

// payloadExcerptCap bounds what gets persisted to the webhook log.
const payloadExcerptCap = 2000

func ParsePayload(raw []byte) (map[string]string, error) {
	body := strings.TrimSpace(string(raw))

	if m, ok := tryJSON(body); ok {
		return m, nil
	}
	if m, ok := tryForm(body); ok {
		return m, nil
	}
	if m, ok := tryLines(body); ok {
		return m, nil
	}
	if eq := strings.Index(body, "="); eq > 0 {
		if m, ok := tryJSON(body[eq+1:]); ok {
			return m, nil
		}
	}
	return nil, domain.Parsef("could not parse body in any known format")
}

func tryJSON(body string) (map[string]string, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(body), &obj); err != nil || obj == nil {
		return nil, false
	}
	out := make(map[string]string, len(obj))
	for k, v := range obj {
		out[k] = stringify(v)
	}
	if out[requiredKey] == "" {
		return nil, false
	}
	return out, true
}

func tryForm(body string) (map[string]string, bool) {
	vals, err := url.ParseQuery(body)
	if err != nil || len(vals) == 0 {
		return nil, false
	}
	out := make(map[string]string, len(vals))
	for k := range vals {
		out[k] = vals.Get(k)
	}
	if out[requiredKey] == "" {
		return nil, false
	}
	return out, true
}

func tryLines(body string) (map[string]string, bool) {
	out := map[string]string{}
	for _, line := range strings.Split(body, "\n") {
		if idx := strings.Index(line, ":"); idx > 0 {
			out[strings.TrimSpace(line[:idx])] = strings.TrimSpace(line[idx+1:])
		}
	}
	if out[requiredKey] == "" {
		return nil, false
	}
	return out, true
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

// MapStatus translates provider status codes (numeric or textual) to the
// canonical enum. Unknown values map to CONFIRMED: losing a status nuance is
// recoverable by hand, losing the booking is not.
func MapStatus(raw string) domain.BookingStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "0", "cancelled":
		return domain.StatusCancelled
	case "1", "confirmed":
		return domain.StatusConfirmed
	case "2", "new":
		return domain.StatusNew
	case "3", "request":
		return domain.StatusRequest
	case "4", "black", "blocked":
		return domain.StatusBlocked
	default:
		return domain.StatusConfirmed
	}
}

// Month names as the provider's Polish-locale templates emit them, including
// the common unaccented spellings.
var polishMonths = map[string]time.Month{
	"stycznia": time.January, "lutego": time.February, "marca": time.March,
	"kwietnia": time.April, "maja": time.May, "czerwca": time.June,
	"lipca": time.July, "sierpnia": time.August, "września": time.September,
	"października": time.October, "listopada": time.November, "grudnia": time.December,
	"wrzesnia": time.September, "pazdziernika": time.October,
}

var (
	isoDateRe = regexp.MustCompile(`(\d{4})-(\d{1,2})-(\d{1,2})`)
	euDateRe  = regexp.MustCompile(`(\d{1,2})[./](\d{1,2})[./](\d{4})`)
)

// ParseFlexibleDate accepts ISO-8601, "DD month YYYY" with an optional Polish
// weekday prefix, DD/MM/YYYY, and as a last resort a YYYY-MM-DD substring.
// Unparseable dates are a hard failure: there is no sane default date.
func ParseFlexibleDate(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, domain.Parsef("empty date string")
	}

	for _, layout := range []string{"2006-01-02", time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return midnight(t), nil
		}
	}

	// "poniedziałek, 23 lutego, 2026": drop the weekday before the first comma
	cleaned := s
	if idx := strings.Index(cleaned, ","); idx > 0 {
		cleaned = cleaned[idx+1:]
	}
	cleaned = strings.TrimSpace(strings.ReplaceAll(cleaned, ",", ""))
	if parts := strings.Fields(cleaned); len(parts) >= 3 {
		day, dayErr := strconv.Atoi(parts[0])
		year, yearErr := strconv.Atoi(parts[2])
		if dayErr == nil && yearErr == nil {
			if month, ok := matchPolishMonth(strings.ToLower(parts[1])); ok {
				return time.Date(year, month, day, 0, 0, 0, 0, time.UTC), nil
			}
		}
	}

	if m := isoDateRe.FindStringSubmatch(s); m != nil {
		return dateFrom(m[1], m[2], m[3]), nil
	}
	if m := euDateRe.FindStringSubmatch(s); m != nil {
		return dateFrom(m[3], m[2], m[1]), nil
	}
	return time.Time{}, domain.Parsef("cannot parse date %q", raw)
}

func matchPolishMonth(name string) (time.Month, bool) {
	if m, ok := polishMonths[name]; ok {
		return m, true
	}
	// tolerate truncations and declension noise by prefix matching
	for known, m := range polishMonths {
		kp, np := prefix4(known), prefix4(name)
		if strings.Contains(name, kp) || strings.Contains(known, np) {
			return m, true
		}
	}
	return 0, false
}

func prefix4(s string) string {
	r := []rune(s)
	if len(r) > 4 {
		r = r[:4]
	}
	return string(r)
}

func dateFrom(y, m, d string) time.Time {
	yy, _ := strconv.Atoi(y)
	mm, _ := strconv.Atoi(m)
	dd, _ := strconv.Atoi(d)
	return time.Date(yy, time.Month(mm), dd, 0, 0, 0, 0, time.UTC)
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

var nonPriceRe = regexp.MustCompile(`[^\d.,]`)

// ParsePrice strips currency symbols and disambiguates European decimal
// commas: the last comma is the decimal point and earlier dots are thousands
// separators. Empty or unparseable input is 0; a zero price is correctable
// later, a rejected webhook loses the booking.
func ParsePrice(raw string) float64 {
	cleaned := nonPriceRe.ReplaceAllString(raw, "")
	if cleaned == "" {
		return 0
	}
	if idx := strings.LastIndex(cleaned, ","); idx >= 0 {
		intPart := strings.ReplaceAll(cleaned[:idx], ".", "")
		intPart = strings.ReplaceAll(intPart, ",", "")
		cleaned = intPart + "." + cleaned[idx+1:]
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return v
}

// IsPlaceholder reports whether the provider failed to substitute a template
// token, leaving the literal [tokenname] in the field.
func IsPlaceholder(v string) bool {
	s := strings.TrimSpace(v)
	return len(s) > 2 && strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]")
}

func cleanField(v string) string {
	if IsPlaceholder(v) {
		return ""
	}
	return strings.TrimSpace(v)
}

// Normalize turns a parsed payload into the canonical booking event. The
// provider's lastNight is the final occupied night; checkOut is one day later.
func Normalize(payload map[string]string) (domain.BookingEvent, error) {
	bookID := strings.TrimSpace(payload["bookId"])
	roomID := strings.TrimSpace(payload["roomId"])
	if bookID == "" || roomID == "" {
		return domain.BookingEvent{}, domain.Validationf(
			"missing required fields: bookId=%q, roomId=%q", bookID, roomID)
	}

	checkIn, err := ParseFlexibleDate(payload["firstNight"])
	if err != nil {
		return domain.BookingEvent{}, fmt.Errorf("firstNight: %w", err)
	}
	lastNight, err := ParseFlexibleDate(payload["lastNight"])
	if err != nil {
		return domain.BookingEvent{}, fmt.Errorf("lastNight: %w", err)
	}

	first := cleanField(payload["guestFirstName"])
	last := cleanField(payload["guestLastName"])
	guestName := strings.TrimSpace(first + " " + last)
	if guestName == "" {
		guestName = "Guest"
	}

	source := cleanField(payload["referer"])
	if source == "" {
		source = cleanField(payload["apiSource"])
	}
	if source == "" {
		source = domain.SourceBeds24
	}

	return domain.BookingEvent{
		ProviderBookingID: bookID,
		ProviderRoomID:    roomID,
		Status:            MapStatus(payload["status"]),
		CheckIn:           checkIn,
		CheckOut:          lastNight.AddDate(0, 0, 1),
		GuestName:         guestName,
		GuestEmail:        cleanField(payload["guestEmail"]),
		NumAdults:         atoiDefault(payload["numAdult"], 1),
		NumChildren:       atoiDefault(payload["numChild"], 0),
		TotalPrice:        ParsePrice(payload["price"]),
		Source:            source,
	}, nil
}

func atoiDefault(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}
