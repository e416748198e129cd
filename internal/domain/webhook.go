package domain

import "time"

// Webhook log dimensions. The log is an append-only operator-facing audit
// trail; business logic never reads it back.
const (
	DirectionIncoming = "INCOMING"
	DirectionOutgoing = "OUTGOING"

	LogStatusSuccess = "SUCCESS"
	LogStatusError   = "ERROR"
	LogStatusSkipped = "SKIPPED"
)

type WebhookLog struct {
	ID        int64
	Direction string
	Source    string
	Event     string
	Status    string
	BookingID *string
	ExternalID *string
	RoomID    *string
	Payload   *string // truncated raw excerpt
	Error     *string
	Metadata  *string
	CreatedAt time.Time
}

// BookingEvent is the canonical record the payload normalizer produces from a
// channel-manager webhook, whatever wire shape it arrived in.
type BookingEvent struct {
	ProviderBookingID string
	ProviderRoomID    string
	Status            BookingStatus
	CheckIn           time.Time
	CheckOut          time.Time // exclusive end, provider's last night + 1 day
	GuestName         string
	GuestEmail        string
	NumAdults         int
	NumChildren       int
	TotalPrice        float64
	Source            string
}

// ICalFeed registers an external .ics calendar polled for bookings.
type ICalFeed struct {
	ID         string
	RoomID     string
	URL        string
	Channel    string // source tag stamped on imported bookings
	LastSynced *time.Time
}
