package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"zatoka_pms/internal/domain"
)

// RateService maintains the per-room price-rule calendar and pushes changes
// to the channel manager best-effort.
type RateService struct {
	store   domain.Store
	channel domain.ChannelClient
	cache   domain.Cache
	log     zerolog.Logger
}

func NewRateService(store domain.Store, channel domain.ChannelClient, cache domain.Cache, log zerolog.Logger) *RateService {
	return &RateService{store: store, channel: channel, cache: cache, log: log}
}

// SetRate overrides one date's price/availability/min-stay for a room.
func (s *RateService) SetRate(ctx context.Context, rule domain.PriceRule) error {
	if rule.Price < 0 {
		return domain.Validationf("price must not be negative")
	}
	if err := s.store.UpsertPriceRules(ctx, []domain.PriceRule{rule}); err != nil {
		return err
	}
	BumpAvailabilityVersion(ctx, s.cache)
	s.pushToChannel(ctx, rule.RoomID, []domain.PriceRule{rule})
	return nil
}

type MassUpdateInput struct {
	RoomID     string
	StartDate  time.Time
	EndDate    time.Time // inclusive
	Price      float64
	DaysOfWeek []time.Weekday
}

type MassUpdateResult struct {
	Count        int      `json:"count"`
	UpdatedDates []string `json:"updatedDates"`
}

// MassUpdate sets a price across a date range, filtered by day of week,
// skipping every date already occupied by a non-cancelled booking. All
// matching dates apply in one transaction or not at all.
func (s *RateService) MassUpdate(ctx context.Context, in MassUpdateInput) (MassUpdateResult, error) {
	if in.RoomID == "" || len(in.DaysOfWeek) == 0 {
		return MassUpdateResult{}, domain.Validationf("roomId and daysOfWeek are required")
	}
	if in.Price < 0 {
		return MassUpdateResult{}, domain.Validationf("price must not be negative")
	}
	if in.EndDate.Before(in.StartDate) {
		return MassUpdateResult{}, domain.Validationf("endDate must not be before startDate")
	}

	wanted := map[time.Weekday]bool{}
	for _, d := range in.DaysOfWeek {
		wanted[d] = true
	}

	bookings, err := s.store.ListRoomBookings(ctx, in.RoomID, nil)
	if err != nil {
		return MassUpdateResult{}, err
	}

	var rules []domain.PriceRule
	var dates []string
	for d := in.StartDate; !d.After(in.EndDate); d = d.AddDate(0, 0, 1) {
		if !wanted[d.Weekday()] {
			continue
		}
		if nightBooked(bookings, d) {
			continue
		}
		rules = append(rules, domain.PriceRule{
			RoomID: in.RoomID, Date: d, Price: in.Price, IsAvailable: true,
		})
		dates = append(dates, d.Format("2006-01-02"))
	}
	if len(rules) == 0 {
		return MassUpdateResult{Count: 0}, nil
	}

	if err := s.store.UpsertPriceRules(ctx, rules); err != nil {
		return MassUpdateResult{}, err
	}
	BumpAvailabilityVersion(ctx, s.cache)
	s.pushToChannel(ctx, in.RoomID, rules)

	return MassUpdateResult{Count: len(rules), UpdatedDates: dates}, nil
}

// nightBooked reports whether a non-cancelled booking covers the night of d.
func nightBooked(bookings []domain.Booking, d time.Time) bool {
	for _, b := range bookings {
		if !b.Status.BlocksAvailability() {
			continue
		}
		if !d.Before(midnight(b.CheckIn)) && d.Before(midnight(b.CheckOut)) {
			return true
		}
	}
	return false
}

// pushToChannel forwards new prices to the channel manager; local state is
// already durable, so failures only warn.
func (s *RateService) pushToChannel(ctx context.Context, roomID string, rules []domain.PriceRule) {
	if s.channel == nil {
		return
	}
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.log.Warn().Err(err).Str("room_id", roomID).Msg("rate push lookup failed")
		}
		return
	}
	if room.ExternalID == nil {
		return
	}
	updates := make([]domain.RateUpdate, 0, len(rules))
	for _, r := range rules {
		updates = append(updates, domain.RateUpdate{
			RoomExternalID: *room.ExternalID,
			Date:           r.Date.Format("2006-01-02"),
			Price:          r.Price,
		})
	}
	l := domain.WebhookLog{
		Direction: domain.DirectionOutgoing,
		Source:    domain.SourceBeds24,
		Event:     "RATE_PUSH",
		Status:    domain.LogStatusSuccess,
		RoomID:    &roomID,
	}
	meta := fmt.Sprintf(`{"dates":%d}`, len(updates))
	l.Metadata = &meta
	if err := s.channel.PushRates(ctx, updates); err != nil {
		msg := err.Error()
		l.Status = domain.LogStatusError
		l.Error = &msg
		s.log.Warn().Err(err).Str("room_id", roomID).Int("dates", len(updates)).
			Msg("channel rate push failed")
	}
	if err := s.store.AppendWebhookLog(ctx, l); err != nil {
		s.log.Warn().Err(err).Msg("outgoing webhook log append failed")
	}
}
