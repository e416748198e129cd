package app

import (
	"context"
	"errors"
	"time"

	"zatoka_pms/internal/domain"
)

// Validator is the single admission gate for booking creation and update.
// Every entry point (direct API, public checkout, webhook ingestion) runs
// through it; only bulk imports replay external state with looser checks.
type Validator struct {
	store domain.Store
}

func NewValidator(store domain.Store) *Validator {
	return &Validator{store: store}
}

// Validate applies the admission rules in order, first failure wins. It is
// read-only and safe to call repeatedly. excludeBookingID skips the caller's
// own booking when revalidating an update.
func (v *Validator) Validate(ctx context.Context, roomID string, checkIn, checkOut time.Time, numAdults, numChildren int, excludeBookingID string) (domain.Room, error) {
	room, err := v.store.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Room{}, domain.NotFoundf("room %s not found", roomID)
		}
		return domain.Room{}, err
	}

	if numAdults > room.MaxAdults {
		return domain.Room{}, domain.Conflictf(
			"room %s allows at most %d adults", room.Number, room.MaxAdults)
	}
	if numAdults+numChildren > room.Capacity {
		return domain.Room{}, domain.Conflictf(
			"room %s sleeps at most %d guests", room.Number, room.Capacity)
	}

	nights := domain.Nights(checkIn, checkOut)
	if nights < 1 {
		return domain.Room{}, domain.Validationf("check-out must be after check-in")
	}
	if nights < room.MinNights {
		return domain.Room{}, domain.Conflictf(
			"room %s requires a minimum stay of %d nights", room.Number, room.MinNights)
	}

	conflict, err := v.store.FindConflict(ctx, roomID, checkIn, checkOut, excludeBookingID)
	if err != nil {
		return domain.Room{}, err
	}
	if conflict != nil {
		return domain.Room{}, domain.Conflictf(
			"dates conflict with an existing reservation for %s (%s to %s)",
			conflict.GuestName,
			conflict.CheckIn.Format("2006-01-02"),
			conflict.CheckOut.Format("2006-01-02"))
	}
	return room, nil
}
