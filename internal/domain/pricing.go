package domain

import "time"

// PriceRule overrides a room's base price for one calendar date, optionally
// closing the date or raising the minimum stay. Unique on (RoomID, Date).
type PriceRule struct {
	ID          int64
	RoomID      string
	Date        time.Time
	Price       float64
	IsAvailable bool
	MinStay     *int
}

type NightPrice struct {
	Date  string  `json:"date"` // YYYY-MM-DD
	Price float64 `json:"price"`
}

// RoomQuote is one bookable room with its computed pricing for a date range.
type RoomQuote struct {
	Room            Room
	Nights          int
	TotalPrice      float64
	AveragePerNight float64
	Currency        string
	NightlyBreakdown []NightPrice
}
