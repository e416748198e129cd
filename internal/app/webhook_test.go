package app_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"zatoka_pms/internal/app"
	"zatoka_pms/internal/domain"
)

func newProcessor(crm *fakeCRM, store *memStore) *app.WebhookProcessor {
	sync := newSync(crm, store, nil)
	return app.NewWebhookProcessor(store, sync, app.NewValidator(store), "PLN", zerolog.Nop())
}

const webhookJSON = `{
	"bookId": "90001", "roomId": "55", "status": "1",
	"firstNight": "2026-07-01", "lastNight": "2026-07-03",
	"guestFirstName": "Anna", "guestLastName": "Nowak",
	"guestEmail": "anna@example.com", "numAdult": "2", "price": "1.350,00 zł"
}`

func TestWebhook_CreateThenUpdateIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	seedRoom(t, store) // ExternalID "55"
	crm := newFakeCRM()
	p := newProcessor(crm, store)

	res, err := p.Process(ctx, []byte(webhookJSON))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !res.Success || res.Action != "CREATE" {
		t.Fatalf("res = %+v, want CREATE", res)
	}

	// same provider booking id again: update in place, no duplicate
	res, err = p.Process(ctx, []byte(webhookJSON))
	if err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if res.Action != "UPDATE" {
		t.Fatalf("second delivery Action = %q, want UPDATE", res.Action)
	}
	if n := len(crm.created["Bookings"]); n != 1 {
		t.Errorf("CRM bookings = %d, want 1", n)
	}

	b, err := store.FindBookingByExternalID(ctx, "90001")
	if err != nil || b == nil {
		t.Fatalf("booking missing: %v", err)
	}
	// provider lastNight 07-03 means checkout morning of 07-04
	if !b.CheckOut.Equal(day(2026, 7, 4)) {
		t.Errorf("CheckOut = %s, want 2026-07-04", b.CheckOut)
	}
	if b.TotalPrice != 1350 {
		t.Errorf("TotalPrice = %v, want 1350", b.TotalPrice)
	}
}

// Bookings minted from webhooks carry the configured currency, not a
// hardcoded one.
func TestWebhook_ConfiguredCurrencyApplied(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	seedRoom(t, store)
	sync := newSync(newFakeCRM(), store, nil)
	p := app.NewWebhookProcessor(store, sync, app.NewValidator(store), "EUR", zerolog.Nop())

	if _, err := p.Process(ctx, []byte(webhookJSON)); err != nil {
		t.Fatalf("Process: %v", err)
	}
	b, err := store.FindBookingByExternalID(ctx, "90001")
	if err != nil || b == nil {
		t.Fatalf("booking missing: %v", err)
	}
	if b.Currency != "EUR" {
		t.Errorf("Currency = %q, want EUR", b.Currency)
	}
}

func TestWebhook_UnknownRoomLoggedAndRejected(t *testing.T) {
	ctx := context.Background()
	store := newMemStore() // no rooms
	p := newProcessor(newFakeCRM(), store)

	_, err := p.Process(ctx, []byte(webhookJSON))
	if !domain.IsKind(err, domain.KindNotFound) {
		t.Fatalf("err = %v, want KindNotFound", err)
	}
	logs, _ := store.ListWebhookLogs(ctx, "BEDS24", domain.DirectionIncoming, 10)
	if len(logs) != 1 || logs[0].Event != "ROOM_NOT_FOUND" || logs[0].Status != domain.LogStatusError {
		t.Fatalf("logs = %+v, want one ROOM_NOT_FOUND error entry", logs)
	}
}

func TestWebhook_GarbagePayloadLogged(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	p := newProcessor(newFakeCRM(), store)

	_, err := p.Process(ctx, []byte("<<<garbage>>>"))
	if !domain.IsKind(err, domain.KindParse) {
		t.Fatalf("err = %v, want KindParse", err)
	}
	logs, _ := store.ListWebhookLogs(ctx, "", "", 10)
	if len(logs) != 1 || logs[0].Event != "PARSE_FAILED" {
		t.Fatalf("logs = %+v, want one PARSE_FAILED entry", logs)
	}
}

// A live webhook booking goes through the same admission gate as the API.
func TestWebhook_OverlapRejectedAndLogged(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	seedRoom(t, store)
	seedBooking(t, store, "b-1", "room-1", day(2026, 7, 1), day(2026, 7, 5), domain.StatusConfirmed, "First")
	p := newProcessor(newFakeCRM(), store)

	_, err := p.Process(ctx, []byte(webhookJSON))
	if !domain.IsKind(err, domain.KindConflict) {
		t.Fatalf("err = %v, want KindConflict", err)
	}
	logs, _ := store.ListWebhookLogs(ctx, "BEDS24", "", 10)
	if len(logs) != 1 || logs[0].Status != domain.LogStatusError {
		t.Fatalf("logs = %+v, want one error entry", logs)
	}
}

// A cancellation replays external state even when dates would conflict, and
// frees the nights for new admissions.
func TestWebhook_CancellationBypassesAdmission(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	seedRoom(t, store)
	crm := newFakeCRM()
	p := newProcessor(crm, store)

	if _, err := p.Process(ctx, []byte(webhookJSON)); err != nil {
		t.Fatalf("create: %v", err)
	}

	cancel := `{"bookId": "90001", "roomId": "55", "status": "0",
		"firstNight": "2026-07-01", "lastNight": "2026-07-03",
		"guestFirstName": "Anna", "guestLastName": "Nowak"}`
	res, err := p.Process(ctx, []byte(cancel))
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if res.MappedStatus != string(domain.StatusCancelled) {
		t.Errorf("MappedStatus = %q", res.MappedStatus)
	}

	// the nights are free again
	v := app.NewValidator(store)
	if _, err := v.Validate(ctx, "room-1", day(2026, 7, 1), day(2026, 7, 4), 2, 0, ""); err != nil {
		t.Errorf("cancelled booking still blocks dates: %v", err)
	}
}

func TestWebhook_SuccessLoggedWithMetadata(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	seedRoom(t, store)
	p := newProcessor(newFakeCRM(), store)

	if _, err := p.Process(ctx, []byte(webhookJSON)); err != nil {
		t.Fatal(err)
	}
	logs, _ := store.ListWebhookLogs(ctx, "BEDS24", domain.DirectionIncoming, 10)
	if len(logs) != 1 {
		t.Fatalf("logs = %d entries, want 1", len(logs))
	}
	l := logs[0]
	if l.Event != "BOOKING_CREATE" || l.Status != domain.LogStatusSuccess {
		t.Errorf("log = %+v", l)
	}
	if l.Payload == nil || l.Metadata == nil || l.ExternalID == nil || *l.ExternalID != "90001" {
		t.Errorf("log missing payload/metadata/externalId: %+v", l)
	}
}
