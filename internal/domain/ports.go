package domain

import (
	"context"
	"time"
)

type RoomStore interface {
	GetRoom(ctx context.Context, id string) (Room, error)
	GetRoomByExternalID(ctx context.Context, externalID string) (Room, error)
	ListRooms(ctx context.Context, propertyID *string) ([]Room, error)
	UpsertRoom(ctx context.Context, r Room) error
	DeleteRoom(ctx context.Context, id string) error
}

type BookingStore interface {
	// InsertBooking writes the booking and its per-night occupancy markers in
	// one transaction. A UNIQUE(room_id, night) violation surfaces as a
	// KindConflict error: the storage-level backstop against double booking.
	InsertBooking(ctx context.Context, b Booking) error
	UpdateBooking(ctx context.Context, b Booking) error
	// UpsertBooking is the reconciliation/import path: keyed by id, safe to
	// run repeatedly and concurrently with live traffic.
	UpsertBooking(ctx context.Context, b Booking) error
	DeleteBooking(ctx context.Context, id string) error
	GetBooking(ctx context.Context, id string) (Booking, error)
	// FindBookingByExternalID returns nil without error when absent.
	FindBookingByExternalID(ctx context.Context, externalID string) (*Booking, error)
	// FindConflict reports the first non-{CANCELLED,BLOCKED} booking for the
	// room overlapping [checkIn, checkOut), excluding excludeID when set.
	FindConflict(ctx context.Context, roomID string, checkIn, checkOut time.Time, excludeID string) (*Conflict, error)
	// OccupiedRoomIDs lists rooms with any non-CANCELLED booking overlapping
	// the window.
	OccupiedRoomIDs(ctx context.Context, checkIn, checkOut time.Time) (map[string]bool, error)
	// LatestBookingRef returns the highest reference starting with prefix,
	// or "" when none exists.
	LatestBookingRef(ctx context.Context, prefix string) (string, error)
	ListRoomBookings(ctx context.Context, roomID string, status *BookingStatus) ([]Booking, error)
	CountActiveFutureBookings(ctx context.Context, roomID string, asOf time.Time) (int, error)
	DeleteAllBookings(ctx context.Context) (int64, error)
}

type RateStore interface {
	ListPriceRules(ctx context.Context, from, to time.Time) ([]PriceRule, error)
	// UpsertPriceRules applies all rules in a single transaction: either every
	// date applies or none do.
	UpsertPriceRules(ctx context.Context, rules []PriceRule) error
}

type VoucherStore interface {
	GetVoucherByCode(ctx context.Context, code string) (VoucherCode, error)
	UpsertVoucher(ctx context.Context, v VoucherCode) error
	// RedeemVoucher increments used_count and records the redemption link in
	// one transaction so count and history cannot drift apart.
	RedeemVoucher(ctx context.Context, voucherID, bookingID string, discountApplied float64) (VoucherCode, error)
}

type GuestStore interface {
	UpsertGuest(ctx context.Context, g Guest) (Guest, error) // keyed by email
}

type PropertyStore interface {
	UpsertProperty(ctx context.Context, p Property) error
	GetPropertyByExternalID(ctx context.Context, externalID string) (Property, error)
	// FirstPropertyWithChannelCreds finds the property holding beds24
	// credentials, the way single-property deployments store them.
	FirstPropertyWithChannelCreds(ctx context.Context) (Property, error)
}

type WebhookLogStore interface {
	AppendWebhookLog(ctx context.Context, l WebhookLog) error
	ListWebhookLogs(ctx context.Context, source, direction string, limit int) ([]WebhookLog, error)
}

type FeedStore interface {
	ListICalFeeds(ctx context.Context) ([]ICalFeed, error)
	UpsertICalFeed(ctx context.Context, f ICalFeed) error
	TouchICalFeed(ctx context.Context, id string, at time.Time) error
}

// Store is the full local-cache surface backed by MySQL.
type Store interface {
	RoomStore
	BookingStore
	RateStore
	VoucherStore
	GuestStore
	PropertyStore
	WebhookLogStore
	FeedStore
}

// CRMClient is the external system of record for bookings, rooms, vouchers
// and guest contacts. Record ids it assigns become local primary keys.
type CRMClient interface {
	CreateRecord(ctx context.Context, module string, fields map[string]any) (string, error)
	UpdateRecord(ctx context.Context, module, id string, fields map[string]any) error
	DeleteRecord(ctx context.Context, module, id string) error
	ListRecords(ctx context.Context, module string, page, perPage int) ([]map[string]any, error)
	Search(ctx context.Context, query string) ([]map[string]any, error)
}

type RateUpdate struct {
	RoomExternalID string
	Date           string // YYYY-MM-DD
	Price          float64
}

// ChannelClient talks to the channel manager (beds24-compatible API).
type ChannelClient interface {
	Properties(ctx context.Context) ([]map[string]any, error)
	BookingsWindow(ctx context.Context, from, to time.Time) ([]map[string]any, error)
	PushRates(ctx context.Context, updates []RateUpdate) error
	CreateBooking(ctx context.Context, fields map[string]any) (string, error)
	CancelBooking(ctx context.Context, externalID string) error
}

type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttlSec int) error
	Del(ctx context.Context, key string) error
}
