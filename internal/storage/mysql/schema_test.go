package mysql_test

import (
	"os"
	"regexp"
	"strconv"
	"testing"

	"github.com/google/uuid"
)

// Locally-minted record ids are uuid strings. Every column that can hold one
// must be at least that wide, or strict-mode MySQL rejects the row with
// error 1406 instead of storing it.
func TestSchema_IDColumnsFitUUIDs(t *testing.T) {
	raw, err := os.ReadFile("../../../migrations/001_schema.sql")
	if err != nil {
		t.Fatalf("read schema: %v", err)
	}
	want := len(uuid.NewString())

	re := regexp.MustCompile(`(?m)^\s*(id|property_id|room_id|guest_id|booking_id|voucher_id)\s+VARCHAR\((\d+)\)`)
	matches := re.FindAllStringSubmatch(string(raw), -1)
	if len(matches) < 10 {
		t.Fatalf("found only %d id columns in the schema, expected the full set", len(matches))
	}
	for _, m := range matches {
		width, _ := strconv.Atoi(m[2])
		if width < want {
			t.Errorf("column %s is VARCHAR(%d), cannot hold a %d-char uuid", m[1], width, want)
		}
	}
}

// iCal imports store the VEVENT UID as the booking's external id; UIDs are
// free-form and regularly longer than channel-manager numeric ids.
func TestSchema_BookingExternalIDFitsVEventUID(t *testing.T) {
	raw, err := os.ReadFile("../../../migrations/001_schema.sql")
	if err != nil {
		t.Fatalf("read schema: %v", err)
	}
	table := regexp.MustCompile(`(?s)CREATE TABLE IF NOT EXISTS bookings \(.*?\) ENGINE`).FindString(string(raw))
	if table == "" {
		t.Fatal("bookings table not found in schema")
	}
	m := regexp.MustCompile(`external_id\s+VARCHAR\((\d+)\)`).FindStringSubmatch(table)
	if m == nil {
		t.Fatal("bookings.external_id not found in schema")
	}
	width, _ := strconv.Atoi(m[1])
	if width < 128 {
		t.Errorf("bookings.external_id is VARCHAR(%d), want at least 128 for feed UIDs", width)
	}
}
