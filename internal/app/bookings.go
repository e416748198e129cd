package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"zatoka_pms/internal/domain"
)

// BookingService orchestrates the public booking flow: admission validation,
// voucher application, write-through creation, reference generation and guest
// profile upkeep.
type BookingService struct {
	store          domain.Store
	sync           *SyncService
	validator      *Validator
	vouchers       *VoucherService
	channel        domain.ChannelClient // nil when channel sync is not configured
	refPrefix      string
	balanceDueDays int
	currency       string
	log            zerolog.Logger
	now            func() time.Time
}

func NewBookingService(store domain.Store, sync *SyncService, validator *Validator, vouchers *VoucherService, channel domain.ChannelClient, refPrefix string, balanceDueDays int, currency string, log zerolog.Logger) *BookingService {
	return &BookingService{
		store: store, sync: sync, validator: validator, vouchers: vouchers,
		channel: channel, refPrefix: refPrefix, balanceDueDays: balanceDueDays,
		currency: currency, log: log, now: time.Now,
	}
}

type CreateBookingInput struct {
	RoomID      string
	GuestName   string
	GuestEmail  string
	GuestPhone  *string
	NumAdults   int
	NumChildren int
	GuestAges   *string
	CheckIn     time.Time
	CheckOut    time.Time
	TotalPrice  float64
	VoucherCode *string
	Deposit     *float64
	Notes       *string
	Source      string
}

type CreateBookingOutput struct {
	Booking        domain.Booking
	BookingRef     string
	BalanceDueDate *time.Time
}

// nextBookingRef derives the next PREFIX-YYYY-NNNN reference: a 4-digit
// sequence that resets each calendar year.
func (s *BookingService) nextBookingRef(ctx context.Context, year int) (string, error) {
	prefix := fmt.Sprintf("%s-%d-", s.refPrefix, year)
	latest, err := s.store.LatestBookingRef(ctx, prefix)
	if err != nil {
		return "", err
	}
	seq := 1
	if latest != "" {
		if n, err := strconv.Atoi(strings.TrimPrefix(latest, prefix)); err == nil {
			seq = n + 1
		}
	}
	return fmt.Sprintf("%s%04d", prefix, seq), nil
}

func (s *BookingService) Create(ctx context.Context, in CreateBookingInput) (CreateBookingOutput, error) {
	if in.GuestName == "" || in.GuestEmail == "" {
		return CreateBookingOutput{}, domain.Validationf("guest name and email are required")
	}
	if in.NumAdults < 1 {
		in.NumAdults = 2
	}

	_, err := s.validator.Validate(ctx, in.RoomID, in.CheckIn, in.CheckOut, in.NumAdults, in.NumChildren, "")
	if err != nil {
		return CreateBookingOutput{}, err
	}
	nights := domain.Nights(in.CheckIn, in.CheckOut)

	total := in.TotalPrice
	var discount *float64
	var redeemable *domain.VoucherCode
	if in.VoucherCode != nil && *in.VoucherCode != "" {
		res, err := s.vouchers.Validate(ctx, *in.VoucherCode, total, nights, s.now())
		if err != nil {
			return CreateBookingOutput{}, err
		}
		if !res.Valid {
			return CreateBookingOutput{}, domain.Validationf("voucher rejected: %s", res.Reason)
		}
		d := res.DiscountAmount
		discount = &d
		total = roundCents(total - d)
		redeemable = res.Voucher
	}

	ref, err := s.nextBookingRef(ctx, in.CheckIn.Year())
	if err != nil {
		return CreateBookingOutput{}, err
	}

	status := domain.StatusConfirmed
	// the balance falls due a fixed number of days before check-in whether or
	// not a deposit was taken
	due := in.CheckIn.AddDate(0, 0, -s.balanceDueDays)
	balanceDue := &due
	var deposit, balance *float64
	if in.Deposit != nil && *in.Deposit > 0 && *in.Deposit < total {
		d := roundCents(*in.Deposit)
		b := roundCents(total - d)
		deposit, balance = &d, &b
		status = domain.StatusDepositPaid
	}

	b := domain.Booking{
		BookingRef:     &ref,
		RoomID:         in.RoomID,
		GuestName:      in.GuestName,
		GuestEmail:     in.GuestEmail,
		GuestPhone:     in.GuestPhone,
		NumAdults:      in.NumAdults,
		NumChildren:    in.NumChildren,
		GuestAges:      in.GuestAges,
		CheckIn:        in.CheckIn,
		CheckOut:       in.CheckOut,
		TotalPrice:     total,
		Currency:       s.currency,
		Status:         status,
		Source:         orDefault(in.Source, domain.SourceWebsite),
		Notes:          in.Notes,
		VoucherCode:    in.VoucherCode,
		DiscountAmount: discount,
		DepositAmount:  deposit,
		BalanceAmount:  balance,
		BalanceDueDate: balanceDue,
	}
	var room *domain.Room
	if r, err := s.store.GetRoom(ctx, in.RoomID); err == nil {
		room = &r
		b.RoomNumber = r.Number
	}

	created, err := s.sync.CreateBooking(ctx, b)
	if err != nil {
		return CreateBookingOutput{}, err
	}
	if room != nil {
		s.pushCreateToChannel(ctx, created, *room)
	}

	// guest profile and voucher redemption follow the durable create;
	// failures are logged, never fatal to the booking
	if _, err := s.store.UpsertGuest(ctx, domain.Guest{
		ID: uuid.NewString(), Name: in.GuestName, Email: in.GuestEmail,
		Phone: in.GuestPhone, Language: "pl",
	}); err != nil {
		s.log.Warn().Err(err).Str("email", in.GuestEmail).Msg("guest upsert failed")
	}
	if redeemable != nil && discount != nil {
		after, err := s.vouchers.Redeem(ctx, redeemable.ID, created.ID, *discount)
		if err != nil {
			s.log.Warn().Err(err).Str("voucher", redeemable.Code).Msg("voucher redemption failed")
		} else {
			s.sync.PushVoucherUsage(ctx, after.ID, after.UsedCount)
		}
	}

	return CreateBookingOutput{Booking: created, BookingRef: ref, BalanceDueDate: balanceDue}, nil
}

type UpdateBookingInput struct {
	CheckIn     *time.Time
	CheckOut    *time.Time
	NumAdults   *int
	NumChildren *int
	Status      *domain.BookingStatus
	TotalPrice  *float64
	Notes       *string
}

// Update revalidates admission whenever dates, occupancy or status change.
func (s *BookingService) Update(ctx context.Context, id string, in UpdateBookingInput) (domain.Booking, error) {
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Booking{}, domain.NotFoundf("booking %s not found", id)
		}
		return domain.Booking{}, err
	}

	if in.CheckIn != nil {
		b.CheckIn = *in.CheckIn
	}
	if in.CheckOut != nil {
		b.CheckOut = *in.CheckOut
	}
	if in.NumAdults != nil {
		b.NumAdults = *in.NumAdults
	}
	if in.NumChildren != nil {
		b.NumChildren = *in.NumChildren
	}
	prevStatus := b.Status
	if in.Status != nil {
		b.Status = *in.Status
	}
	if in.TotalPrice != nil {
		b.TotalPrice = *in.TotalPrice
	}
	if in.Notes != nil {
		b.Notes = in.Notes
	}

	if b.Status.CountsForConflict() {
		if _, err := s.validator.Validate(ctx, b.RoomID, b.CheckIn, b.CheckOut, b.NumAdults, b.NumChildren, b.ID); err != nil {
			return domain.Booking{}, err
		}
	}
	if err := s.sync.UpdateBooking(ctx, b); err != nil {
		return domain.Booking{}, err
	}
	if prevStatus != domain.StatusCancelled && b.Status == domain.StatusCancelled {
		s.mirrorCancelToChannel(ctx, b)
	}
	return b, nil
}

// pushCreateToChannel blocks the dates on connected OTAs by mirroring direct
// bookings to the channel manager, best effort.
func (s *BookingService) pushCreateToChannel(ctx context.Context, b domain.Booking, room domain.Room) {
	if s.channel == nil || room.ExternalID == nil || b.Source == domain.SourceBeds24 {
		return
	}
	l := domain.WebhookLog{
		Direction: domain.DirectionOutgoing,
		Source:    domain.SourceBeds24,
		Event:     "CREATE_BOOKING",
		Status:    domain.LogStatusSuccess,
		BookingID: &b.ID,
		RoomID:    &b.RoomID,
	}
	extID, err := s.channel.CreateBooking(ctx, map[string]any{
		"roomId":    *room.ExternalID,
		"arrival":   b.CheckIn.Format("2006-01-02"),
		"departure": b.CheckOut.Format("2006-01-02"),
		"firstName": b.GuestName,
		"numAdult":  b.NumAdults,
		"numChild":  b.NumChildren,
		"price":     b.TotalPrice,
		"status":    "1",
	})
	if err != nil {
		msg := err.Error()
		l.Status = domain.LogStatusError
		l.Error = &msg
		s.log.Warn().Err(err).Str("booking_id", b.ID).Msg("channel booking push failed")
	} else {
		meta := fmt.Sprintf(`{"channelBookingId":%q}`, extID)
		l.Metadata = &meta
	}
	if err := s.store.AppendWebhookLog(ctx, l); err != nil {
		s.log.Warn().Err(err).Msg("outgoing webhook log append failed")
	}
}

// mirrorCancelToChannel propagates a cancellation back to the channel manager
// for bookings it originated. Local state is already durable; the attempt is
// audit-logged either way.
func (s *BookingService) mirrorCancelToChannel(ctx context.Context, b domain.Booking) {
	if s.channel == nil || b.Source != domain.SourceBeds24 || b.ExternalID == nil {
		return
	}
	l := domain.WebhookLog{
		Direction:  domain.DirectionOutgoing,
		Source:     domain.SourceBeds24,
		Event:      "CANCEL_BOOKING",
		Status:     domain.LogStatusSuccess,
		BookingID:  &b.ID,
		ExternalID: b.ExternalID,
		RoomID:     &b.RoomID,
	}
	if err := s.channel.CancelBooking(ctx, *b.ExternalID); err != nil {
		msg := err.Error()
		l.Status = domain.LogStatusError
		l.Error = &msg
		s.log.Warn().Err(err).Str("booking_id", b.ID).Str("external_id", *b.ExternalID).
			Msg("channel cancellation failed")
	}
	if err := s.store.AppendWebhookLog(ctx, l); err != nil {
		s.log.Warn().Err(err).Msg("outgoing webhook log append failed")
	}
}

// Delete hard-deletes a booking, guarded: only past stays can go, live ones
// are cancelled instead.
func (s *BookingService) Delete(ctx context.Context, id string) error {
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.NotFoundf("booking %s not found", id)
		}
		return err
	}
	if b.CheckOut.After(midnight(s.now())) && b.Status != domain.StatusCancelled {
		return domain.Conflictf("booking %s has not checked out yet; cancel it instead", id)
	}
	return s.sync.DeleteBooking(ctx, id)
}
