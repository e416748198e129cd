package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"zatoka_pms/internal/domain"
)

// CRM module API names as configured in the tenant.
const (
	moduleBookings   = "Bookings"
	moduleRooms      = "Rooms"
	moduleContacts   = "Contacts"
	moduleVouchers   = "Voucher_Codes"
	moduleProperties = "Booking_Admins"
)

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func asFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	default:
		return 0
	}
}

func asInt(v any, def int) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case string:
		if n, err := strconv.Atoi(t); err == nil {
			return n
		}
	}
	return def
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

// lookupID digs the id out of a CRM lookup field, which arrives as
// {"id": "...", "name": "..."}.
func lookupID(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	return asString(m["id"])
}

func lookupName(v any, key string) string {
	m, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	return asString(m[key])
}

func asDate(v any) (time.Time, bool) {
	s := asString(v)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return midnight(t), true
		}
	}
	return time.Time{}, false
}

func optStr(v any) *string {
	s := asString(v)
	if s == "" {
		return nil
	}
	return &s
}

func bookingToCRM(b domain.Booking, contactID, roomCRMID string) map[string]any {
	rec := map[string]any{
		"Name":               fmt.Sprintf("%s - %s", b.GuestName, orDefault(b.RoomNumber, "Room")),
		"Check_In":           b.CheckIn.Format("2006-01-02"),
		"Check_Out":          b.CheckOut.Format("2006-01-02"),
		"Total_Price":        b.TotalPrice,
		"Number_of_Adults":   b.NumAdults,
		"Number_of_Children": b.NumChildren,
		"Status":             string(b.Status),
		"Source_Channel":     b.Source,
		"Currency1":          b.Currency,
	}
	if b.BookingRef != nil {
		rec["Booking_Reference"] = *b.BookingRef
	}
	if b.GuestAges != nil {
		rec["Guest_Ages"] = *b.GuestAges
	}
	if b.Notes != nil {
		rec["Booking_Notes"] = *b.Notes
	}
	if b.VoucherCode != nil {
		rec["Voucher_Code"] = *b.VoucherCode
	}
	if b.DiscountAmount != nil {
		rec["Discount_Amount"] = *b.DiscountAmount
	}
	if b.ExternalID != nil {
		rec["Beds24_Booking_ID"] = *b.ExternalID
	}
	if contactID != "" {
		rec["Guest"] = contactID
	}
	if roomCRMID != "" {
		rec["Room"] = roomCRMID
	}
	return rec
}

func crmToBooking(rec map[string]any) domain.Booking {
	b := domain.Booking{
		ID:          asString(rec["id"]),
		RoomID:      lookupID(rec["Room"]),
		RoomNumber:  lookupName(rec["Room"], "Room_Name"),
		GuestName:   orDefault(lookupName(rec["Guest"], "name"), "Unknown Guest"),
		GuestEmail:  lookupName(rec["Guest"], "Email"),
		NumAdults:   asInt(rec["Number_of_Adults"], 2),
		NumChildren: asInt(rec["Number_of_Children"], 0),
		TotalPrice:  asFloat(rec["Total_Price"]),
		Currency:    orDefault(asString(rec["Currency1"]), "PLN"),
		Status:      domain.BookingStatus(orDefault(asString(rec["Status"]), string(domain.StatusConfirmed))),
		Source:      orDefault(asString(rec["Source_Channel"]), domain.SourceDirect),
	}
	if t, ok := asDate(rec["Check_In"]); ok {
		b.CheckIn = t
	}
	if t, ok := asDate(rec["Check_Out"]); ok {
		b.CheckOut = t
	}
	b.BookingRef = optStr(rec["Booking_Reference"])
	b.GuestAges = optStr(rec["Guest_Ages"])
	b.Notes = optStr(rec["Booking_Notes"])
	b.VoucherCode = optStr(rec["Voucher_Code"])
	b.ExternalID = optStr(rec["Beds24_Booking_ID"])
	if v, ok := rec["Discount_Amount"]; ok && v != nil {
		f := asFloat(v)
		b.DiscountAmount = &f
	}
	return b
}

func roomToCRM(r domain.Room) map[string]any {
	rec := map[string]any{
		"Name":         fmt.Sprintf("%s - %s", r.Number, r.Name),
		"Room_Name":    r.Name,
		"Base_Price":   r.BasePrice,
		"Capacity":     r.Capacity,
		"Max_Adults":   r.MaxAdults,
		"Max_Children": r.MaxChildren,
		"Min_Nights":   r.MinNights,
	}
	if r.RoomType != nil {
		rec["Room_Type"] = *r.RoomType
	}
	if r.ViewType != nil {
		rec["View_Type"] = *r.ViewType
	}
	if r.ExternalID != nil {
		rec["Beds24_Room_ID"] = *r.ExternalID
	}
	if r.BookingComRoomID != nil {
		rec["BookingCom_Room_ID"] = *r.BookingComRoomID
	}
	if r.AirbnbRoomID != nil {
		rec["Airbnb_Room_ID"] = *r.AirbnbRoomID
	}
	return rec
}

func crmToRoom(rec map[string]any, propertyID string) domain.Room {
	name := asString(rec["Name"])
	number := name
	if idx := strings.Index(name, " - "); idx >= 0 {
		number = name[:idx]
	}
	return domain.Room{
		ID:               asString(rec["id"]),
		PropertyID:       propertyID,
		Number:           number,
		Name:             orDefault(asString(rec["Room_Name"]), name),
		BasePrice:        asFloat(rec["Base_Price"]),
		Capacity:         asInt(rec["Capacity"], 2),
		MaxAdults:        asInt(rec["Max_Adults"], 2),
		MaxChildren:      asInt(rec["Max_Children"], 0),
		MinNights:        asInt(rec["Min_Nights"], 1),
		RoomType:         optStr(rec["Room_Type"]),
		ViewType:         optStr(rec["View_Type"]),
		ExternalID:       optStr(rec["Beds24_Room_ID"]),
		BookingComRoomID: optStr(rec["BookingCom_Room_ID"]),
		AirbnbRoomID:     optStr(rec["Airbnb_Room_ID"]),
	}
}

func crmToVoucher(rec map[string]any) domain.VoucherCode {
	v := domain.VoucherCode{
		ID:            asString(rec["id"]),
		Code:          asString(rec["Name"]),
		Description:   optStr(rec["Description"]),
		DiscountValue: asFloat(rec["Discount_Value"]),
		Currency:      orDefault(asString(rec["Currency1"]), "PLN"),
		UsedCount:     asInt(rec["Used_Count"], 0),
		IsActive:      asBool(rec["Active"]),
	}
	switch asString(rec["Discount_Type"]) {
	case "Fixed Amount", "fixed":
		v.DiscountType = domain.DiscountFixed
	default:
		v.DiscountType = domain.DiscountPercentage
	}
	if n := asInt(rec["Min_Nights"], 0); n > 0 {
		v.MinNights = &n
	}
	if f := asFloat(rec["Min_Booking_Value"]); f > 0 {
		v.MinBookingValue = &f
	}
	if n := asInt(rec["Max_Uses"], 0); n > 0 {
		v.MaxUses = &n
	}
	if t, ok := asDate(rec["Valid_From"]); ok {
		v.ValidFrom = &t
	}
	if t, ok := asDate(rec["Valid_Until"]); ok {
		v.ValidUntil = &t
	}
	return v
}

func crmToProperty(rec map[string]any) domain.Property {
	return domain.Property{
		ID:          asString(rec["id"]),
		Name:        orDefault(asString(rec["Property_Name"]), asString(rec["Name"])),
		Description: optStr(rec["Description"]),
		Address:     optStr(rec["Address"]),
		Email:       asString(rec["Email"]),
		Phone:       optStr(rec["Phone"]),
		Currency:    orDefault(asString(rec["Currency"]), "PLN"),
		ExternalID:  optStr(rec["Beds24_Property_ID"]),
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
