package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"zatoka_pms/internal/domain"
)

// VoucherService evaluates discount codes. An invalid code is a normal
// negative result, never an error: the checkout widget probes codes live.
type VoucherService struct {
	store domain.Store
}

func NewVoucherService(store domain.Store) *VoucherService {
	return &VoucherService{store: store}
}

func (s *VoucherService) Validate(ctx context.Context, code string, totalAmount float64, nights int, asOf time.Time) (domain.VoucherResult, error) {
	v, err := s.store.GetVoucherByCode(ctx, strings.TrimSpace(code))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.VoucherResult{Valid: false, Reason: "Invalid voucher code"}, nil
		}
		return domain.VoucherResult{}, err
	}

	if !v.IsActive {
		return domain.VoucherResult{Valid: false, Reason: "This voucher is no longer active"}, nil
	}
	if v.ValidFrom != nil && asOf.Before(*v.ValidFrom) {
		return domain.VoucherResult{Valid: false, Reason: "This voucher is not valid yet"}, nil
	}
	if v.ValidUntil != nil && asOf.After(*v.ValidUntil) {
		return domain.VoucherResult{Valid: false, Reason: "This voucher has expired"}, nil
	}
	if v.MaxUses != nil && v.UsedCount >= *v.MaxUses {
		return domain.VoucherResult{Valid: false, Reason: "This voucher has reached its usage limit"}, nil
	}
	if v.MinNights != nil && nights < *v.MinNights {
		return domain.VoucherResult{Valid: false,
			Reason: fmt.Sprintf("This voucher requires a stay of at least %d nights", *v.MinNights)}, nil
	}
	if v.MinBookingValue != nil && totalAmount < *v.MinBookingValue {
		return domain.VoucherResult{Valid: false,
			Reason: fmt.Sprintf("This voucher requires a booking value of at least %.2f %s", *v.MinBookingValue, v.Currency)}, nil
	}

	var discount float64
	switch v.DiscountType {
	case domain.DiscountPercentage:
		discount = roundCents(totalAmount * v.DiscountValue / 100)
	case domain.DiscountFixed:
		discount = v.DiscountValue
		// never discount below a zero total
		if discount > totalAmount {
			discount = totalAmount
		}
	default:
		return domain.VoucherResult{Valid: false, Reason: "Unsupported discount type"}, nil
	}

	voucher := v
	return domain.VoucherResult{
		Valid:          true,
		DiscountType:   v.DiscountType,
		DiscountValue:  v.DiscountValue,
		DiscountAmount: discount,
		Currency:       v.Currency,
		Voucher:        &voucher,
	}, nil
}

// Redeem records a use after the booking is durably created. The store
// increments used_count and writes the redemption row in one transaction.
func (s *VoucherService) Redeem(ctx context.Context, voucherID, bookingID string, discountApplied float64) (domain.VoucherCode, error) {
	return s.store.RedeemVoucher(ctx, voucherID, bookingID, discountApplied)
}
