package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"zatoka_pms/internal/domain"
)

// SyncService is the write-through layer: the CRM is the system of record, so
// every create/update/delete goes there first and the local cache is mutated
// only after the authoritative write succeeded. The CRM-assigned record id
// becomes the local primary key, so the cache can never reference an id the
// CRM does not know.
type SyncService struct {
	crm   domain.CRMClient
	store domain.Store
	cache domain.Cache
	log   zerolog.Logger
}

func NewSyncService(crm domain.CRMClient, store domain.Store, cache domain.Cache, log zerolog.Logger) *SyncService {
	return &SyncService{crm: crm, store: store, cache: cache, log: log}
}

// findOrCreateContact resolves the CRM contact for a guest email, creating
// one when the search comes up empty.
func (s *SyncService) findOrCreateContact(ctx context.Context, guestName, guestEmail string) (string, error) {
	email := strings.ReplaceAll(guestEmail, "'", "")
	q := fmt.Sprintf("select id, Email, First_Name, Last_Name from Contacts where Email = '%s'", email)
	found, err := s.crm.Search(ctx, q)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return "", err
	}
	if len(found) > 0 {
		return asString(found[0]["id"]), nil
	}

	first := guestName
	last := guestName
	if idx := strings.Index(guestName, " "); idx > 0 {
		first = guestName[:idx]
		last = strings.TrimSpace(guestName[idx+1:])
	}
	return s.crm.CreateRecord(ctx, moduleContacts, map[string]any{
		"First_Name": first,
		"Last_Name":  last,
		"Email":      guestEmail,
	})
}

// CreateBooking writes the booking to the CRM, then mirrors it locally under
// the CRM id. A local failure after the CRM write triggers a best-effort CRM
// delete so the two stores do not drift.
func (s *SyncService) CreateBooking(ctx context.Context, b domain.Booking) (domain.Booking, error) {
	var contactID string
	if b.GuestEmail != "" {
		var err error
		contactID, err = s.findOrCreateContact(ctx, b.GuestName, b.GuestEmail)
		if err != nil {
			s.log.Warn().Err(err).Str("email", b.GuestEmail).Msg("contact lookup failed, creating booking without guest link")
		}
	}

	id, err := s.crm.CreateRecord(ctx, moduleBookings, bookingToCRM(b, contactID, b.RoomID))
	if err != nil {
		return domain.Booking{}, err
	}
	b.ID = id

	if err := s.store.InsertBooking(ctx, b); err != nil {
		if derr := s.crm.DeleteRecord(ctx, moduleBookings, id); derr != nil && !errors.Is(derr, domain.ErrNotFound) {
			s.log.Error().Err(derr).Str("booking_id", id).Msg("compensating CRM delete failed; record orphaned upstream")
		}
		return domain.Booking{}, err
	}

	BumpAvailabilityVersion(ctx, s.cache)
	return b, nil
}

func (s *SyncService) UpdateBooking(ctx context.Context, b domain.Booking) error {
	if err := s.crm.UpdateRecord(ctx, moduleBookings, b.ID, bookingToCRM(b, "", "")); err != nil {
		return err
	}
	if err := s.store.UpdateBooking(ctx, b); err != nil {
		return err
	}
	BumpAvailabilityVersion(ctx, s.cache)
	return nil
}

// DeleteBooking tolerates a record already gone upstream so local cleanup can
// still proceed.
func (s *SyncService) DeleteBooking(ctx context.Context, id string) error {
	if err := s.crm.DeleteRecord(ctx, moduleBookings, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	if err := s.store.DeleteBooking(ctx, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	BumpAvailabilityVersion(ctx, s.cache)
	return nil
}

func (s *SyncService) CreateRoom(ctx context.Context, r domain.Room) (domain.Room, error) {
	id, err := s.crm.CreateRecord(ctx, moduleRooms, roomToCRM(r))
	if err != nil {
		return domain.Room{}, err
	}
	r.ID = id
	if err := s.store.UpsertRoom(ctx, r); err != nil {
		return domain.Room{}, err
	}
	return r, nil
}

func (s *SyncService) UpdateRoom(ctx context.Context, r domain.Room) error {
	if err := s.crm.UpdateRecord(ctx, moduleRooms, r.ID, roomToCRM(r)); err != nil {
		return err
	}
	return s.store.UpsertRoom(ctx, r)
}

// DeleteRoom refuses while the room still has live future bookings.
func (s *SyncService) DeleteRoom(ctx context.Context, id string, asOf time.Time) error {
	n, err := s.store.CountActiveFutureBookings(ctx, id, asOf)
	if err != nil {
		return err
	}
	if n > 0 {
		return domain.Conflictf("room has %d active future bookings", n)
	}
	if err := s.crm.DeleteRecord(ctx, moduleRooms, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	if err := s.store.DeleteRoom(ctx, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return nil
}

// SyncBookingToCRM pushes an already locally-present booking upstream, used
// by the channel import where the local cache is filled first by design.
func (s *SyncService) SyncBookingToCRM(ctx context.Context, b domain.Booking, room domain.Room) (string, error) {
	var contactID string
	if b.GuestEmail != "" {
		var err error
		if contactID, err = s.findOrCreateContact(ctx, b.GuestName, b.GuestEmail); err != nil {
			s.log.Warn().Err(err).Msg("contact lookup failed, syncing booking without guest link")
		}
	}
	b.RoomNumber = orDefault(room.Number, room.Name)
	return s.crm.CreateRecord(ctx, moduleBookings, bookingToCRM(b, contactID, room.ID))
}

// PushVoucherUsage mirrors a redemption count upstream, best effort: the
// local count is authoritative for admission.
func (s *SyncService) PushVoucherUsage(ctx context.Context, voucherID string, usedCount int) {
	if err := s.crm.UpdateRecord(ctx, moduleVouchers, voucherID, map[string]any{"Used_Count": usedCount}); err != nil {
		s.log.Warn().Err(err).Str("voucher_id", voucherID).Msg("voucher usage push failed")
	}
}

// ---- bulk reconciliation pulls ----

const pullPageSize = 200

func (s *SyncService) pullPages(ctx context.Context, module string, apply func(map[string]any) error) (int, error) {
	count := 0
	for page := 1; ; page++ {
		recs, err := s.crm.ListRecords(ctx, module, page, pullPageSize)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				break // empty module
			}
			return count, err
		}
		if len(recs) == 0 {
			break
		}
		for _, rec := range recs {
			if err := apply(rec); err != nil {
				s.log.Warn().Err(err).Str("module", module).Str("id", asString(rec["id"])).Msg("pull upsert failed")
				continue
			}
			count++
		}
		if len(recs) < pullPageSize {
			break
		}
	}
	return count, nil
}

// PullBookings upserts every CRM booking into the local cache. Safe to run
// repeatedly and concurrently with live traffic.
func (s *SyncService) PullBookings(ctx context.Context) (int, error) {
	n, err := s.pullPages(ctx, moduleBookings, func(rec map[string]any) error {
		b := crmToBooking(rec)
		if b.RoomID == "" || b.CheckIn.IsZero() || b.CheckOut.IsZero() {
			return fmt.Errorf("booking %s missing room or dates", b.ID)
		}
		return s.store.UpsertBooking(ctx, b)
	})
	if n > 0 {
		BumpAvailabilityVersion(ctx, s.cache)
	}
	return n, err
}

// PullRooms attaches pulled rooms to the first known property, creating a
// default one when the cache is empty.
func (s *SyncService) PullRooms(ctx context.Context) (int, error) {
	prop, err := s.store.FirstPropertyWithChannelCreds(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		prop = domain.Property{ID: "default", Name: "Main Property", Currency: "PLN"}
		if err := s.store.UpsertProperty(ctx, prop); err != nil {
			return 0, err
		}
	} else if err != nil {
		return 0, err
	}
	return s.pullPages(ctx, moduleRooms, func(rec map[string]any) error {
		return s.store.UpsertRoom(ctx, crmToRoom(rec, prop.ID))
	})
}

func (s *SyncService) PullProperties(ctx context.Context) (int, error) {
	return s.pullPages(ctx, moduleProperties, func(rec map[string]any) error {
		return s.store.UpsertProperty(ctx, crmToProperty(rec))
	})
}

func (s *SyncService) PullVouchers(ctx context.Context) (int, error) {
	return s.pullPages(ctx, moduleVouchers, func(rec map[string]any) error {
		return s.store.UpsertVoucher(ctx, crmToVoucher(rec))
	})
}
