package app

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"zatoka_pms/internal/domain"
)

// availabilityVersionKey is bumped on every booking write; quote cache keys
// embed the current version so stale entries simply stop being addressed.
const availabilityVersionKey = "availability:version"

// Quoter computes priced availability for a date range, with a short-TTL
// redis cache in front of the room/booking/rate reads.
type Quoter struct {
	store    domain.Store
	cache    domain.Cache
	currency string
	ttlSec   int
	log      zerolog.Logger
}

func NewQuoter(store domain.Store, cache domain.Cache, currency string, ttlSec int, log zerolog.Logger) *Quoter {
	return &Quoter{store: store, cache: cache, currency: currency, ttlSec: ttlSec, log: log}
}

// roundCents rounds half-up to 2 decimal places, the financial convention the
// rate editor uses.
func roundCents(v float64) float64 {
	return math.Floor(v*100+0.5) / 100
}

func (q *Quoter) Quote(ctx context.Context, propertyID *string, checkIn, checkOut time.Time) ([]domain.RoomQuote, error) {
	nights := domain.Nights(checkIn, checkOut)
	if nights < 1 {
		return nil, domain.Validationf("check-out must be after check-in")
	}

	key := q.cacheKey(ctx, propertyID, checkIn, checkOut)
	if q.cache != nil && key != "" {
		var cached []domain.RoomQuote
		if ok, err := q.cache.Get(ctx, key, &cached); err == nil && ok {
			return cached, nil
		}
	}

	rooms, err := q.store.ListRooms(ctx, propertyID)
	if err != nil {
		return nil, err
	}
	occupied, err := q.store.OccupiedRoomIDs(ctx, checkIn, checkOut)
	if err != nil {
		return nil, err
	}
	rules, err := q.store.ListPriceRules(ctx, checkIn, checkOut)
	if err != nil {
		return nil, err
	}

	// (roomID, date) -> rule
	ruleIdx := make(map[string]domain.PriceRule, len(rules))
	for _, r := range rules {
		ruleIdx[r.RoomID+"|"+r.Date.Format("2006-01-02")] = r
	}

	var out []domain.RoomQuote
	for _, room := range rooms {
		if occupied[room.ID] {
			continue
		}
		if nights < room.MinNights {
			continue
		}

		var total float64
		var breakdown []domain.NightPrice
		bookable := true
		for d := checkIn; d.Before(checkOut); d = d.AddDate(0, 0, 1) {
			day := d.Format("2006-01-02")
			price := room.BasePrice
			if rule, ok := ruleIdx[room.ID+"|"+day]; ok {
				if !rule.IsAvailable {
					bookable = false
					break
				}
				if rule.MinStay != nil && *rule.MinStay > nights {
					bookable = false
					break
				}
				price = rule.Price
			}
			total += price
			breakdown = append(breakdown, domain.NightPrice{Date: day, Price: price})
		}
		if !bookable {
			continue
		}

		out = append(out, domain.RoomQuote{
			Room:             room,
			Nights:           nights,
			TotalPrice:       roundCents(total),
			AveragePerNight:  roundCents(total / float64(nights)),
			Currency:         q.currency,
			NightlyBreakdown: breakdown,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Room.ID < out[j].Room.ID })

	if q.cache != nil && key != "" {
		if err := q.cache.Set(ctx, key, out, q.ttlSec); err != nil {
			q.log.Warn().Err(err).Msg("quote cache set failed")
		}
	}
	return out, nil
}

func (q *Quoter) cacheKey(ctx context.Context, propertyID *string, checkIn, checkOut time.Time) string {
	if q.cache == nil {
		return ""
	}
	var ver int64
	if ok, err := q.cache.Get(ctx, availabilityVersionKey, &ver); err != nil || !ok {
		ver = 0
	}
	prop := "all"
	if propertyID != nil {
		prop = *propertyID
	}
	return fmt.Sprintf("quote:v%d:%s:%s:%s",
		ver, prop, checkIn.Format("2006-01-02"), checkOut.Format("2006-01-02"))
}

// BumpAvailabilityVersion invalidates every cached quote by moving the
// version all keys embed.
func BumpAvailabilityVersion(ctx context.Context, cache domain.Cache) {
	if cache == nil {
		return
	}
	var ver int64
	_, _ = cache.Get(ctx, availabilityVersionKey, &ver)
	_ = cache.Set(ctx, availabilityVersionKey, ver+1, 0)
}
