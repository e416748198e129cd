package app_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"zatoka_pms/internal/app"
	"zatoka_pms/internal/domain"
)

func TestICal_ExportRoom(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	seedRoom(t, store)
	seedBooking(t, store, "b-1", "room-1", day(2026, 7, 1), day(2026, 7, 4), domain.StatusConfirmed, "Anna")
	// cancelled stays never leave the building
	seedBooking(t, store, "b-2", "room-1", day(2026, 8, 1), day(2026, 8, 4), domain.StatusCancelled, "Gone")

	svc := app.NewICalService(store, nil, "PLN", zerolog.Nop())
	out, err := svc.ExportRoom(ctx, "room-1")
	if err != nil {
		t.Fatalf("ExportRoom: %v", err)
	}
	for _, want := range []string{
		"BEGIN:VCALENDAR",
		"X-WR-CALNAME:Zatoka - Apartament Morski",
		"UID:b-1",
		"SUMMARY:Reserved",
		"DTSTART;VALUE=DATE:20260701",
		"DTEND;VALUE=DATE:20260704",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("export missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "UID:b-2") {
		t.Error("cancelled booking exported")
	}
	if strings.Contains(out, "Anna") {
		t.Error("guest name leaked into the public feed")
	}
}

func TestICal_ExportUnknownRoom(t *testing.T) {
	svc := app.NewICalService(newMemStore(), nil, "PLN", zerolog.Nop())
	_, err := svc.ExportRoom(context.Background(), "nope")
	if !domain.IsKind(err, domain.KindNotFound) {
		t.Fatalf("err = %v, want KindNotFound", err)
	}
}

const airbnbFeed = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//Airbnb Inc//Hosting Calendar 0.8.8//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"DTSTART;VALUE=DATE:20260810\r\n" +
	"DTEND;VALUE=DATE:20260814\r\n" +
	"UID:evt-abc123@airbnb.com\r\n" +
	"SUMMARY:Reserved (HMABCDE)\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestICal_SyncFeedsImportsOnce(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	seedRoom(t, store)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/calendar")
		w.Write([]byte(airbnbFeed))
	}))
	defer srv.Close()

	svc := app.NewICalService(store, nil, "PLN", zerolog.Nop())
	feed, err := svc.RegisterFeed(ctx, "room-1", srv.URL, "airbnb")
	if err != nil {
		t.Fatalf("RegisterFeed: %v", err)
	}
	if feed.Channel != "AIRBNB" {
		t.Errorf("Channel = %q, want AIRBNB", feed.Channel)
	}

	res, err := svc.SyncFeeds(ctx)
	if err != nil {
		t.Fatalf("SyncFeeds: %v", err)
	}
	if res.Feeds != 1 || res.Imported != 1 || res.Failed != 0 {
		t.Fatalf("res = %+v", res)
	}

	b, err := store.FindBookingByExternalID(ctx, "evt-abc123@airbnb.com")
	if err != nil || b == nil {
		t.Fatalf("feed booking missing: %v", err)
	}
	if b.Source != "AIRBNB" || b.Status != domain.StatusConfirmed || b.TotalPrice != 0 {
		t.Errorf("booking = %+v", b)
	}
	if !b.CheckIn.Equal(day(2026, 8, 10)) || !b.CheckOut.Equal(day(2026, 8, 14)) {
		t.Errorf("dates = %s .. %s", b.CheckIn, b.CheckOut)
	}

	// second poll: nothing new
	res, err = svc.SyncFeeds(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Imported != 0 {
		t.Errorf("second sync imported %d, want 0", res.Imported)
	}

	feeds, _ := store.ListICalFeeds(ctx)
	if len(feeds) != 1 || feeds[0].LastSynced == nil {
		t.Errorf("feed not touched: %+v", feeds)
	}
}

func TestICal_SyncFeedsCountsFailures(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	seedRoom(t, store)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	svc := app.NewICalService(store, nil, "PLN", zerolog.Nop())
	if _, err := svc.RegisterFeed(ctx, "room-1", srv.URL, ""); err != nil {
		t.Fatal(err)
	}
	res, err := svc.SyncFeeds(ctx)
	if err != nil {
		t.Fatalf("SyncFeeds: %v", err)
	}
	if res.Failed != 1 || res.Imported != 0 {
		t.Errorf("res = %+v", res)
	}
}

func TestICal_RegisterFeedValidation(t *testing.T) {
	svc := app.NewICalService(newMemStore(), nil, "PLN", zerolog.Nop())
	if _, err := svc.RegisterFeed(context.Background(), "", "http://x", ""); !domain.IsKind(err, domain.KindValidation) {
		t.Errorf("err = %v, want KindValidation", err)
	}
	if _, err := svc.RegisterFeed(context.Background(), "ghost", "http://x", ""); !domain.IsKind(err, domain.KindNotFound) {
		t.Errorf("err = %v, want KindNotFound", err)
	}
}
