package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"zatoka_pms/internal/domain"
)

// ICalService exports per-room .ics feeds and polls registered external
// calendars for bookings made on other channels.
type ICalService struct {
	store    domain.Store
	cache    domain.Cache
	hc       *http.Client
	currency string
	log      zerolog.Logger
}

func NewICalService(store domain.Store, cache domain.Cache, currency string, log zerolog.Logger) *ICalService {
	return &ICalService{
		store: store, cache: cache,
		hc:       &http.Client{Timeout: 30 * time.Second},
		currency: orDefault(currency, "PLN"),
		log:      log,
	}
}

// ExportRoom renders one VEVENT per CONFIRMED booking of the room.
func (s *ICalService) ExportRoom(ctx context.Context, roomID string) (string, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", domain.NotFoundf("room %s not found", roomID)
		}
		return "", err
	}
	confirmed := domain.StatusConfirmed
	bookings, err := s.store.ListRoomBookings(ctx, roomID, &confirmed)
	if err != nil {
		return "", err
	}

	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId("-//Zatoka PMS//Calendar//PL")
	cal.SetXWRCalName(fmt.Sprintf("Zatoka - %s", orDefault(room.Name, room.Number)))

	for _, b := range bookings {
		ev := cal.AddEvent(b.ID)
		ev.SetAllDayStartAt(b.CheckIn)
		ev.SetAllDayEndAt(b.CheckOut)
		ev.SetSummary("Reserved")
		ev.SetDescription(fmt.Sprintf("Booking via %s", b.Source))
		ev.SetDtStampTime(time.Now())
	}
	return cal.Serialize(), nil
}

type FeedSyncResult struct {
	Feeds    int `json:"feeds"`
	Imported int `json:"imported"`
	Failed   int `json:"failed"`
}

// SyncFeeds polls every registered feed. Events already imported (matched by
// UID within the room and channel) are left alone; feeds that fail to fetch
// or parse are counted and skipped.
func (s *ICalService) SyncFeeds(ctx context.Context) (FeedSyncResult, error) {
	feeds, err := s.store.ListICalFeeds(ctx)
	if err != nil {
		return FeedSyncResult{}, err
	}

	var res FeedSyncResult
	res.Feeds = len(feeds)
	for _, f := range feeds {
		n, err := s.syncOne(ctx, f)
		if err != nil {
			s.log.Warn().Err(err).Str("feed", f.URL).Str("channel", f.Channel).Msg("ical feed sync failed")
			res.Failed++
			continue
		}
		res.Imported += n
		if err := s.store.TouchICalFeed(ctx, f.ID, time.Now()); err != nil {
			s.log.Warn().Err(err).Str("feed_id", f.ID).Msg("feed timestamp update failed")
		}
	}
	if res.Imported > 0 {
		BumpAvailabilityVersion(ctx, s.cache)
	}
	return res, nil
}

func (s *ICalService) syncOne(ctx context.Context, f domain.ICalFeed) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := s.hc.Do(req)
	if err != nil {
		return 0, domain.Upstream("ical feed fetch failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, domain.Upstream(fmt.Sprintf("ical feed returned %d", resp.StatusCode), nil)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return 0, err
	}

	cal, err := ics.ParseCalendar(strings.NewReader(string(body)))
	if err != nil {
		return 0, domain.Parsef("ical feed unparseable: %v", err)
	}

	imported := 0
	for _, ev := range cal.Events() {
		uid := ev.Id()
		if uid == "" {
			continue
		}
		start, err := eventDate(ev.GetStartAt, ev.GetAllDayStartAt)
		if err != nil {
			continue
		}
		end, err := eventDate(ev.GetEndAt, ev.GetAllDayEndAt)
		if err != nil || !end.After(start) {
			continue
		}

		existing, err := s.store.FindBookingByExternalID(ctx, uid)
		if err != nil {
			return imported, err
		}
		if existing != nil {
			continue
		}

		summary := "External Booking"
		if p := ev.GetProperty(ics.ComponentPropertySummary); p != nil && p.Value != "" {
			summary = p.Value
		}
		b := domain.Booking{
			ID:         uuid.NewString(),
			RoomID:     f.RoomID,
			GuestName:  summary,
			CheckIn:    midnight(start),
			CheckOut:   midnight(end),
			TotalPrice: 0, // feeds carry dates only
			Currency:   s.currency,
			Status:     domain.StatusConfirmed,
			Source:     f.Channel,
			ExternalID: &uid,
		}
		if err := s.store.UpsertBooking(ctx, b); err != nil {
			if domain.IsKind(err, domain.KindConflict) {
				s.log.Warn().Str("uid", uid).Str("room_id", f.RoomID).Msg("feed event collides with existing booking, skipped")
				continue
			}
			return imported, err
		}
		imported++
	}
	return imported, nil
}

func eventDate(primary, allDay func() (time.Time, error)) (time.Time, error) {
	if t, err := primary(); err == nil {
		return t, nil
	}
	return allDay()
}

// RegisterFeed adds or updates an external calendar registration.
func (s *ICalService) RegisterFeed(ctx context.Context, roomID, url, channel string) (domain.ICalFeed, error) {
	if roomID == "" || url == "" {
		return domain.ICalFeed{}, domain.Validationf("roomId and url are required")
	}
	if _, err := s.store.GetRoom(ctx, roomID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ICalFeed{}, domain.NotFoundf("room %s not found", roomID)
		}
		return domain.ICalFeed{}, err
	}
	f := domain.ICalFeed{
		ID:      uuid.NewString(),
		RoomID:  roomID,
		URL:     url,
		Channel: orDefault(strings.ToUpper(channel), "ICAL"),
	}
	if err := s.store.UpsertICalFeed(ctx, f); err != nil {
		return domain.ICalFeed{}, err
	}
	return f, nil
}
