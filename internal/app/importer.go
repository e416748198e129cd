package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"zatoka_pms/internal/domain"
)

// ImportService pulls the full channel-manager state (properties, units,
// bookings in a bounded window) into the local cache, then fans imported
// bookings out to the CRM best-effort. The local cache must end up complete
// even when CRM propagation partially fails.
type ImportService struct {
	store    domain.Store
	channel  domain.ChannelClient
	sync     *SyncService
	cache    domain.Cache
	workers  int64
	currency string
	log      zerolog.Logger
	now      func() time.Time
}

func NewImportService(store domain.Store, channel domain.ChannelClient, syncSvc *SyncService, cache domain.Cache, workers int, currency string, log zerolog.Logger) *ImportService {
	if workers <= 0 {
		workers = 8
	}
	return &ImportService{
		store: store, channel: channel, sync: syncSvc, cache: cache,
		workers: int64(workers), currency: orDefault(currency, "PLN"),
		log: log, now: time.Now,
	}
}

type ImportResult struct {
	Properties     int `json:"properties"`
	Rooms          int `json:"rooms"`
	Bookings       int `json:"bookings"`
	BookingsWiped  int `json:"bookingsWiped,omitempty"`
	CRMSynced      int `json:"crmSynced"`
	CRMSyncFailed  int `json:"crmSyncFailed"`
	UnmappedRooms  int `json:"unmappedRooms"`
}

// ImportAll runs the full import. wipe first deletes every local booking; the
// caller gates that behind an explicit confirmation flag.
func (s *ImportService) ImportAll(ctx context.Context, wipe bool) (ImportResult, error) {
	var res ImportResult

	if wipe {
		n, err := s.store.DeleteAllBookings(ctx)
		if err != nil {
			return res, err
		}
		res.BookingsWiped = int(n)
		s.log.Info().Int64("count", n).Msg("wiped local bookings before import")
	}

	props, err := s.channel.Properties(ctx)
	if err != nil {
		return res, err
	}
	for _, p := range props {
		extID := asString(p["id"])
		prop := domain.Property{
			ID:          extID, // channel id doubles as the local key until a CRM pull reconciles
			Name:        asString(p["name"]),
			Description: optStr(p["description"]),
			Address:     optStr(p["address"]),
			Email:       asString(p["email"]),
			Currency:    orDefault(asString(p["currency"]), s.currency),
			ExternalID:  &extID,
		}
		if existing, err := s.store.GetPropertyByExternalID(ctx, extID); err == nil {
			prop.ID = existing.ID
			prop.Beds24InviteCode = existing.Beds24InviteCode
			prop.Beds24RefreshToken = existing.Beds24RefreshToken
		} else if !errors.Is(err, domain.ErrNotFound) {
			return res, err
		}
		if err := s.store.UpsertProperty(ctx, prop); err != nil {
			return res, err
		}
		res.Properties++

		n, err := s.importRooms(ctx, prop.ID, p)
		if err != nil {
			return res, err
		}
		res.Rooms += n
	}

	// -6 months to +2 years captures every booking that can still matter
	from := s.now().AddDate(0, -6, 0)
	to := s.now().AddDate(2, 0, 0)
	rawBookings, err := s.channel.BookingsWindow(ctx, from, to)
	if err != nil {
		return res, err
	}

	imported := make([]importedBooking, 0, len(rawBookings))
	for _, rb := range rawBookings {
		b, room, ok, err := s.importOneBooking(ctx, rb)
		if err != nil {
			return res, err
		}
		if !ok {
			res.UnmappedRooms++
			continue
		}
		res.Bookings++
		imported = append(imported, importedBooking{booking: b, room: room})
	}
	BumpAvailabilityVersion(ctx, s.cache)

	synced, failed := s.fanOutToCRM(ctx, imported)
	res.CRMSynced, res.CRMSyncFailed = synced, failed
	return res, nil
}

type importedBooking struct {
	booking domain.Booking
	room    domain.Room
}

// importRooms flattens the channel's roomType/unit hierarchy: each unit is a
// local room, falling back to the room type itself when it has no units.
func (s *ImportService) importRooms(ctx context.Context, propertyID string, prop map[string]any) (int, error) {
	count := 0
	roomTypes, _ := prop["roomTypes"].([]any)
	for _, rtAny := range roomTypes {
		rt, ok := rtAny.(map[string]any)
		if !ok {
			continue
		}
		units, _ := rt["rooms"].([]any)
		if len(units) == 0 {
			units = []any{map[string]any{"id": rt["id"], "name": rt["name"]}}
		}
		for _, uAny := range units {
			u, ok := uAny.(map[string]any)
			if !ok {
				continue
			}
			extID := asString(u["id"])
			room := domain.Room{
				ID:          extID,
				PropertyID:  propertyID,
				Number:      orDefault(asString(u["name"]), asString(rt["name"])),
				Name:        asString(rt["name"]),
				BasePrice:   asFloat(rt["basePrice"]),
				Capacity:    asInt(rt["maxPeople"], 2),
				MaxAdults:   asInt(rt["maxAdults"], asInt(rt["maxPeople"], 2)),
				MaxChildren: asInt(rt["maxChildren"], 0),
				MinNights:   asInt(rt["minStay"], 1),
				RoomType:    optStr(rt["roomType"]),
				ExternalID:  &extID,
			}
			if existing, err := s.store.GetRoomByExternalID(ctx, extID); err == nil {
				room.ID = existing.ID
			} else if !errors.Is(err, domain.ErrNotFound) {
				return count, err
			}
			if err := s.store.UpsertRoom(ctx, room); err != nil {
				return count, err
			}
			count++
		}
	}
	return count, nil
}

func (s *ImportService) importOneBooking(ctx context.Context, rb map[string]any) (domain.Booking, domain.Room, bool, error) {
	room, err := s.store.GetRoomByExternalID(ctx, asString(rb["roomId"]))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.log.Warn().Str("room_external_id", asString(rb["roomId"])).
				Str("booking_external_id", asString(rb["id"])).Msg("import skipped booking for unmapped room")
			return domain.Booking{}, domain.Room{}, false, nil
		}
		return domain.Booking{}, domain.Room{}, false, err
	}

	guestName := strings.TrimSpace(asString(rb["firstName"]) + " " + asString(rb["lastName"]))
	if guestName == "" {
		guestName = "Guest"
	}
	checkIn, okIn := asDate(rb["arrival"])
	checkOut, okOut := asDate(rb["departure"])
	if !okIn || !okOut {
		return domain.Booking{}, domain.Room{}, false, fmt.Errorf(
			"booking %s has unparseable dates", asString(rb["id"]))
	}

	extID := asString(rb["id"])
	b := domain.Booking{
		RoomID:      room.ID,
		RoomNumber:  room.Number,
		GuestName:   guestName,
		GuestEmail:  asString(rb["email"]),
		NumAdults:   asInt(rb["numAdult"], 1),
		NumChildren: asInt(rb["numChild"], 0),
		CheckIn:     checkIn,
		CheckOut:    checkOut,
		TotalPrice:  asFloat(rb["price"]),
		Currency:    orDefault(asString(rb["currency"]), s.currency),
		Status:      MapStatus(asString(rb["status"])),
		Source:      orDefault(asString(rb["apiSource"]), domain.SourceBeds24),
		ExternalID:  &extID,
	}

	if b.GuestEmail != "" {
		phone := orDefault(asString(rb["phone"]), asString(rb["mobile"]))
		g, err := s.store.UpsertGuest(ctx, domain.Guest{
			ID: uuid.NewString(), Name: guestName, Email: b.GuestEmail,
			Phone: optStr(phone), Language: "pl",
		})
		if err != nil {
			s.log.Warn().Err(err).Str("email", b.GuestEmail).Msg("import guest upsert failed")
		} else {
			b.GuestID = &g.ID
		}
	}

	// bookings the CRM already reconciled keep their id; fresh ones carry a
	// locally-minted id until the next CRM pull
	if existing, err := s.store.FindBookingByExternalID(ctx, extID); err != nil {
		return domain.Booking{}, domain.Room{}, false, err
	} else if existing != nil {
		b.ID = existing.ID
		b.BookingRef = existing.BookingRef
	} else {
		b.ID = uuid.NewString()
	}

	if err := s.store.UpsertBooking(ctx, b); err != nil {
		// imports replay confirmed external state; a night collision means the
		// provider itself holds overlapping records, log and move on
		if domain.IsKind(err, domain.KindConflict) {
			s.log.Warn().Err(err).Str("booking_external_id", extID).Msg("import booking collides locally, skipped")
			return domain.Booking{}, domain.Room{}, false, nil
		}
		return domain.Booking{}, domain.Room{}, false, err
	}
	return b, room, true, nil
}

// fanOutToCRM forwards imported bookings upstream with bounded concurrency.
// Failures are counted, never fatal.
func (s *ImportService) fanOutToCRM(ctx context.Context, items []importedBooking) (synced, failed int) {
	if s.sync == nil || len(items) == 0 {
		return 0, 0
	}
	sem := semaphore.NewWeighted(s.workers)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, it := range items {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(it importedBooking) {
			defer wg.Done()
			defer sem.Release(1)
			if _, err := s.sync.SyncBookingToCRM(ctx, it.booking, it.room); err != nil {
				s.log.Warn().Err(err).Str("booking_id", it.booking.ID).Msg("CRM fan-out failed")
				mu.Lock()
				failed++
				mu.Unlock()
				return
			}
			mu.Lock()
			synced++
			mu.Unlock()
		}(it)
	}
	wg.Wait()
	return synced, failed
}
