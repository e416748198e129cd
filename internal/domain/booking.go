package domain

import "time"

type BookingStatus string

const (
	StatusNew         BookingStatus = "NEW"
	StatusRequest     BookingStatus = "REQUEST"
	StatusConfirmed   BookingStatus = "CONFIRMED"
	StatusDepositPaid BookingStatus = "DEPOSIT_PAID"
	StatusBlocked     BookingStatus = "BLOCKED"
	StatusCancelled   BookingStatus = "CANCELLED"
)

// CountsForConflict: statuses outside {CANCELLED, BLOCKED} must never overlap
// on the same room.
func (s BookingStatus) CountsForConflict() bool {
	return s != StatusCancelled && s != StatusBlocked
}

// BlocksAvailability: everything except CANCELLED keeps the room out of public
// quotes. BLOCKED occupies the calendar as a manual hold.
func (s BookingStatus) BlocksAvailability() bool {
	return s != StatusCancelled
}

// Source channel tags as they appear on bookings.
const (
	SourceDirect     = "DIRECT"
	SourceWebsite    = "WEBSITE"
	SourceBeds24     = "BEDS24"
	SourceAirbnb     = "AIRBNB"
	SourceBookingCom = "BOOKING.COM"
)

type Property struct {
	ID          string
	Name        string
	Description *string
	Address     *string
	Email       string
	Phone       *string
	Currency    string
	// Channel-manager linkage
	ExternalID         *string // beds24 property id
	Beds24InviteCode   *string
	Beds24RefreshToken *string
}

// Room is a bookable unit. Its ID is the CRM record identifier; ExternalID is
// the channel-manager unit id used to route inbound webhook events.
type Room struct {
	ID          string
	PropertyID  string
	Number      string
	Name        string
	Description *string
	RoomType    *string
	BasePrice   float64
	Capacity    int
	MaxAdults   int
	MaxChildren int
	MinNights   int
	Amenities   []string
	ViewType    *string
	ExternalID  *string // beds24 unit id, unique when present
	BookingComRoomID *string
	AirbnbRoomID     *string
}

// Booking reserves a room for the half-open range [CheckIn, CheckOut).
// ID is the CRM identifier except for feed-imported bookings, which carry a
// locally-minted id until the CRM pull reconciles them.
type Booking struct {
	ID          string
	BookingRef  *string
	RoomID      string
	RoomNumber  string
	GuestID     *string
	GuestName   string
	GuestEmail  string
	GuestPhone  *string
	NumAdults   int
	NumChildren int
	GuestAges   *string
	CheckIn     time.Time
	CheckOut    time.Time
	TotalPrice  float64
	Currency    string
	Status      BookingStatus
	Source      string
	ExternalID  *string // channel-manager booking id; idempotency key
	Notes       *string
	VoucherCode    *string
	DiscountAmount *float64
	DepositAmount  *float64
	BalanceAmount  *float64
	BalanceDueDate *time.Time
}

// Overlaps applies the half-open test against another range: the checkout day
// itself is not occupied.
func (b Booking) Overlaps(checkIn, checkOut time.Time) bool {
	return b.CheckIn.Before(checkOut) && b.CheckOut.After(checkIn)
}

// Nights counts calendar nights in [checkIn, checkOut), rounding partial days
// up the way the booking forms do.
func Nights(checkIn, checkOut time.Time) int {
	d := checkOut.Sub(checkIn)
	n := int(d / (24 * time.Hour))
	if d%(24*time.Hour) > 0 {
		n++
	}
	return n
}

// Conflict describes the existing reservation a prospective booking collides
// with, for user-facing error messages.
type Conflict struct {
	BookingID string
	GuestName string
	CheckIn   time.Time
	CheckOut  time.Time
}

type Guest struct {
	ID       string
	Name     string
	Email    string
	Phone    *string
	Language string
}
