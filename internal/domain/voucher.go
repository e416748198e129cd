package domain

import "time"

const (
	DiscountPercentage = "percentage"
	DiscountFixed      = "fixed"
)

type VoucherCode struct {
	ID              string
	Code            string
	Description     *string
	DiscountType    string // percentage | fixed
	DiscountValue   float64
	Currency        string
	MinNights       *int
	MinBookingValue *float64
	MaxUses         *int
	UsedCount       int
	ValidFrom       *time.Time
	ValidUntil      *time.Time
	IsActive        bool
}

// VoucherResult is a normal negative result for an invalid code, never an
// error: the widget probes codes as the guest types.
type VoucherResult struct {
	Valid          bool     `json:"valid"`
	Reason         string   `json:"reason,omitempty"`
	DiscountType   string   `json:"discountType,omitempty"`
	DiscountValue  float64  `json:"discountValue,omitempty"`
	DiscountAmount float64  `json:"discountAmount,omitempty"`
	Currency       string   `json:"currency,omitempty"`
	Voucher        *VoucherCode `json:"-"`
}

type VoucherRedemption struct {
	ID              int64
	VoucherID       string
	BookingID       string
	DiscountApplied float64
}
