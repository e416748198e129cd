package app_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"zatoka_pms/internal/app"
	"zatoka_pms/internal/domain"
)

func newQuoter(store *memStore, cache *memCache) *app.Quoter {
	var c domain.Cache
	if cache != nil {
		c = cache
	}
	return app.NewQuoter(store, c, "PLN", 300, zerolog.Nop())
}

func TestQuote_BasePriceAndRules(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	seedRoom(t, store) // base 450, min 2 nights

	// one overridden night
	if err := store.UpsertPriceRules(ctx, []domain.PriceRule{
		{RoomID: "room-1", Date: day(2026, 7, 2), Price: 600, IsAvailable: true},
	}); err != nil {
		t.Fatal(err)
	}

	quotes, err := newQuoter(store, nil).Quote(ctx, nil, day(2026, 7, 1), day(2026, 7, 4))
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if len(quotes) != 1 {
		t.Fatalf("got %d quotes, want 1", len(quotes))
	}
	q := quotes[0]
	if q.Nights != 3 {
		t.Errorf("Nights = %d", q.Nights)
	}
	// 450 + 600 + 450
	if q.TotalPrice != 1500 {
		t.Errorf("TotalPrice = %v, want 1500", q.TotalPrice)
	}
	if q.AveragePerNight != 500 {
		t.Errorf("AveragePerNight = %v, want 500", q.AveragePerNight)
	}
	if len(q.NightlyBreakdown) != 3 || q.NightlyBreakdown[1].Price != 600 {
		t.Errorf("breakdown = %+v", q.NightlyBreakdown)
	}
}

func TestQuote_ExcludesOccupiedRooms(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	seedRoom(t, store)
	seedBooking(t, store, "b-1", "room-1", day(2026, 7, 2), day(2026, 7, 4), domain.StatusConfirmed, "Anna")

	quotes, err := newQuoter(store, nil).Quote(ctx, nil, day(2026, 7, 3), day(2026, 7, 6))
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if len(quotes) != 0 {
		t.Fatalf("occupied room still quoted: %+v", quotes)
	}

	// a manual hold blocks quoting even though it never conflicts in admission
	store2 := newMemStore()
	seedRoom(t, store2)
	seedBooking(t, store2, "b-2", "room-1", day(2026, 7, 2), day(2026, 7, 4), domain.StatusBlocked, "Maintenance")
	quotes, err = newQuoter(store2, nil).Quote(ctx, nil, day(2026, 7, 3), day(2026, 7, 6))
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if len(quotes) != 0 {
		t.Fatalf("blocked room still quoted: %+v", quotes)
	}
}

func TestQuote_ClosedDateExcludesRoom(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	seedRoom(t, store)
	if err := store.UpsertPriceRules(ctx, []domain.PriceRule{
		{RoomID: "room-1", Date: day(2026, 7, 2), Price: 450, IsAvailable: false},
	}); err != nil {
		t.Fatal(err)
	}

	quotes, err := newQuoter(store, nil).Quote(ctx, nil, day(2026, 7, 1), day(2026, 7, 4))
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if len(quotes) != 0 {
		t.Fatalf("room with closed date still quoted: %+v", quotes)
	}
}

func TestQuote_RuleMinStayOverride(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	seedRoom(t, store)
	if err := store.UpsertPriceRules(ctx, []domain.PriceRule{
		{RoomID: "room-1", Date: day(2026, 7, 1), Price: 450, IsAvailable: true, MinStay: pint(5)},
	}); err != nil {
		t.Fatal(err)
	}

	quotes, err := newQuoter(store, nil).Quote(ctx, nil, day(2026, 7, 1), day(2026, 7, 4))
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if len(quotes) != 0 {
		t.Fatalf("rule min-stay not enforced: %+v", quotes)
	}
}

func TestQuote_InvertedRange(t *testing.T) {
	_, err := newQuoter(newMemStore(), nil).Quote(context.Background(), nil, day(2026, 7, 4), day(2026, 7, 1))
	if !domain.IsKind(err, domain.KindValidation) {
		t.Fatalf("err = %v, want KindValidation", err)
	}
}

// A cached quote must stop being served as soon as a booking lands.
func TestQuote_VersionBumpInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	seedRoom(t, store)
	cache := newMemCache()
	q := newQuoter(store, cache)

	first, err := q.Quote(ctx, nil, day(2026, 7, 1), day(2026, 7, 4))
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("got %d quotes, want 1", len(first))
	}

	seedBooking(t, store, "b-1", "room-1", day(2026, 7, 1), day(2026, 7, 4), domain.StatusConfirmed, "Anna")

	// without a bump the stale cached quote is still addressable
	stale, err := q.Quote(ctx, nil, day(2026, 7, 1), day(2026, 7, 4))
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if len(stale) != 1 {
		t.Fatalf("expected stale cache hit before bump, got %d quotes", len(stale))
	}

	app.BumpAvailabilityVersion(ctx, cache)

	fresh, err := q.Quote(ctx, nil, day(2026, 7, 1), day(2026, 7, 4))
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if len(fresh) != 0 {
		t.Fatalf("bump did not invalidate cache: %+v", fresh)
	}
}
