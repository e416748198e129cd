package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"zatoka_pms/internal/app"
	"zatoka_pms/internal/domain"
)

// maxBodyBytes bounds every request body; webhook payloads are small and the
// admin endpoints carry no bulk data.
const maxBodyBytes = 1 << 20

type Handlers struct {
	Store    domain.Store
	Quoter   *app.Quoter
	Bookings *app.BookingService
	Vouchers *app.VoucherService
	Webhooks *app.WebhookProcessor
	Rates    *app.RateService
	Importer *app.ImportService
	ICal     *app.ICalService
	Sync     *app.SyncService

	validate *validator.Validate
}

func NewHandlers() *Handlers {
	return &Handlers{validate: validator.New()}
}

func (s *Server) MountHandlers(h *Handlers) {
	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.mux.Get("/v1/availability", h.getAvailability)

	s.mux.Post("/v1/bookings", h.createBooking)
	s.mux.Patch("/v1/bookings/{id}", h.updateBooking)
	s.mux.Delete("/v1/bookings/{id}", h.deleteBooking)

	s.mux.Post("/v1/vouchers/validate", h.validateVoucher)

	s.mux.Post("/v1/webhooks/beds24", h.receiveWebhook)
	s.mux.Get("/v1/webhooks/beds24", h.webhookStatus)

	s.mux.Get("/v1/rooms/{roomID}/calendar.ics", h.exportCalendar)

	s.mux.Post("/v1/admin/import", h.runImport)
	s.mux.Post("/v1/admin/crm-sync", h.runCRMSync)
	s.mux.Post("/v1/admin/rates", h.setRate)
	s.mux.Post("/v1/admin/rates/mass-update", h.massUpdateRates)
	s.mux.Post("/v1/admin/ical-feeds", h.registerFeed)
	s.mux.Post("/v1/admin/ical-sync", h.syncFeeds)
}

// ---- error and body plumbing ----

type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(problem{Type: "about:blank", Title: title, Status: status, Detail: detail}); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

// writeError maps domain error kinds onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	kind, ok := domain.KindOf(err)
	if !ok {
		log.Error().Err(err).Msg("unhandled internal error")
		writeProblem(w, http.StatusInternalServerError, "Internal Server Error", "")
		return
	}
	switch kind {
	case domain.KindValidation, domain.KindParse:
		writeProblem(w, http.StatusBadRequest, "Bad Request", err.Error())
	case domain.KindNotFound:
		writeProblem(w, http.StatusNotFound, "Not Found", err.Error())
	case domain.KindConflict:
		writeProblem(w, http.StatusConflict, "Conflict", err.Error())
	case domain.KindUpstream:
		writeProblem(w, http.StatusBadGateway, "Upstream Failure", err.Error())
	default:
		writeProblem(w, http.StatusInternalServerError, "Internal Server Error", "")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("write JSON response failed")
	}
}

// decodeBody parses JSON into dst and runs the struct validator.
func (h *Handlers) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeProblem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body: "+err.Error())
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeProblem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return false
	}
	return true
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, domain.Validationf("invalid date %q, want YYYY-MM-DD", s)
	}
	return t, nil
}

// ---- availability ----

type nightDTO struct {
	Date  string  `json:"date"`
	Price float64 `json:"price"`
}

type quoteDTO struct {
	RoomID          string     `json:"roomId"`
	RoomNumber      string     `json:"roomNumber"`
	RoomName        string     `json:"roomName"`
	Capacity        int        `json:"capacity"`
	MaxAdults       int        `json:"maxAdults"`
	MaxChildren     int        `json:"maxChildren"`
	MinNights       int        `json:"minNights"`
	Nights          int        `json:"nights"`
	TotalPrice      float64    `json:"totalPrice"`
	AveragePerNight float64    `json:"averagePerNight"`
	Currency        string     `json:"currency"`
	Breakdown       []nightDTO `json:"nightlyBreakdown"`
}

func (h *Handlers) getAvailability(w http.ResponseWriter, r *http.Request) {
	checkIn, err := parseDate(r.URL.Query().Get("checkIn"))
	if err != nil {
		writeError(w, err)
		return
	}
	checkOut, err := parseDate(r.URL.Query().Get("checkOut"))
	if err != nil {
		writeError(w, err)
		return
	}
	if checkIn.Before(today()) {
		writeError(w, domain.Validationf("checkIn must not be in the past"))
		return
	}
	var propertyID *string
	if p := r.URL.Query().Get("propertyId"); p != "" {
		propertyID = &p
	}

	quotes, err := h.Quoter.Quote(r.Context(), propertyID, checkIn, checkOut)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]quoteDTO, 0, len(quotes))
	for _, q := range quotes {
		dto := quoteDTO{
			RoomID: q.Room.ID, RoomNumber: q.Room.Number, RoomName: q.Room.Name,
			Capacity: q.Room.Capacity, MaxAdults: q.Room.MaxAdults,
			MaxChildren: q.Room.MaxChildren, MinNights: q.Room.MinNights,
			Nights: q.Nights, TotalPrice: q.TotalPrice,
			AveragePerNight: q.AveragePerNight, Currency: q.Currency,
		}
		for _, n := range q.NightlyBreakdown {
			dto.Breakdown = append(dto.Breakdown, nightDTO{Date: n.Date, Price: n.Price})
		}
		out = append(out, dto)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"checkIn":  checkIn.Format("2006-01-02"),
		"checkOut": checkOut.Format("2006-01-02"),
		"rooms":    out,
	})
}

func today() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// ---- bookings ----

type createBookingReq struct {
	RoomID      string   `json:"roomId" validate:"required"`
	GuestName   string   `json:"guestName" validate:"required"`
	GuestEmail  string   `json:"guestEmail" validate:"required,email"`
	GuestPhone  *string  `json:"guestPhone"`
	NumAdults   int      `json:"numAdults" validate:"omitempty,min=1,max=20"`
	NumChildren int      `json:"numChildren" validate:"omitempty,min=0,max=20"`
	GuestAges   *string  `json:"guestAges"`
	CheckIn     string   `json:"checkIn" validate:"required"`
	CheckOut    string   `json:"checkOut" validate:"required"`
	TotalPrice  float64  `json:"totalPrice" validate:"min=0"`
	VoucherCode *string  `json:"voucherCode"`
	Deposit     *float64 `json:"deposit"`
	Notes       *string  `json:"notes"`
	Source      string   `json:"source"`
}

type bookingDTO struct {
	ID             string   `json:"id"`
	BookingRef     *string  `json:"bookingRef"`
	RoomID         string   `json:"roomId"`
	GuestName      string   `json:"guestName"`
	CheckIn        string   `json:"checkIn"`
	CheckOut       string   `json:"checkOut"`
	NumAdults      int      `json:"numAdults"`
	NumChildren    int      `json:"numChildren"`
	TotalPrice     float64  `json:"totalPrice"`
	Currency       string   `json:"currency"`
	Status         string   `json:"status"`
	Source         string   `json:"source"`
	DiscountAmount *float64 `json:"discountAmount,omitempty"`
	DepositAmount  *float64 `json:"depositAmount,omitempty"`
	BalanceAmount  *float64 `json:"balanceAmount,omitempty"`
	BalanceDueDate *string  `json:"balanceDueDate,omitempty"`
}

func toBookingDTO(b domain.Booking) bookingDTO {
	dto := bookingDTO{
		ID: b.ID, BookingRef: b.BookingRef, RoomID: b.RoomID, GuestName: b.GuestName,
		CheckIn: b.CheckIn.Format("2006-01-02"), CheckOut: b.CheckOut.Format("2006-01-02"),
		NumAdults: b.NumAdults, NumChildren: b.NumChildren,
		TotalPrice: b.TotalPrice, Currency: b.Currency,
		Status: string(b.Status), Source: b.Source,
		DiscountAmount: b.DiscountAmount, DepositAmount: b.DepositAmount,
		BalanceAmount: b.BalanceAmount,
	}
	if b.BalanceDueDate != nil {
		s := b.BalanceDueDate.Format("2006-01-02")
		dto.BalanceDueDate = &s
	}
	return dto
}

func (h *Handlers) createBooking(w http.ResponseWriter, r *http.Request) {
	var req createBookingReq
	if !h.decodeBody(w, r, &req) {
		return
	}
	checkIn, err := parseDate(req.CheckIn)
	if err != nil {
		writeError(w, err)
		return
	}
	checkOut, err := parseDate(req.CheckOut)
	if err != nil {
		writeError(w, err)
		return
	}

	out, err := h.Bookings.Create(r.Context(), app.CreateBookingInput{
		RoomID: req.RoomID, GuestName: req.GuestName, GuestEmail: req.GuestEmail,
		GuestPhone: req.GuestPhone, NumAdults: req.NumAdults, NumChildren: req.NumChildren,
		GuestAges: req.GuestAges, CheckIn: checkIn, CheckOut: checkOut,
		TotalPrice: req.TotalPrice, VoucherCode: req.VoucherCode,
		Deposit: req.Deposit, Notes: req.Notes, Source: req.Source,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookingDTO(out.Booking))
}

type updateBookingReq struct {
	CheckIn     *string  `json:"checkIn"`
	CheckOut    *string  `json:"checkOut"`
	NumAdults   *int     `json:"numAdults" validate:"omitempty,min=1,max=20"`
	NumChildren *int     `json:"numChildren" validate:"omitempty,min=0,max=20"`
	Status      *string  `json:"status" validate:"omitempty,oneof=NEW REQUEST CONFIRMED DEPOSIT_PAID BLOCKED CANCELLED"`
	TotalPrice  *float64 `json:"totalPrice" validate:"omitempty,min=0"`
	Notes       *string  `json:"notes"`
}

func (h *Handlers) updateBooking(w http.ResponseWriter, r *http.Request) {
	var req updateBookingReq
	if !h.decodeBody(w, r, &req) {
		return
	}

	in := app.UpdateBookingInput{
		NumAdults: req.NumAdults, NumChildren: req.NumChildren,
		TotalPrice: req.TotalPrice, Notes: req.Notes,
	}
	if req.CheckIn != nil {
		t, err := parseDate(*req.CheckIn)
		if err != nil {
			writeError(w, err)
			return
		}
		in.CheckIn = &t
	}
	if req.CheckOut != nil {
		t, err := parseDate(*req.CheckOut)
		if err != nil {
			writeError(w, err)
			return
		}
		in.CheckOut = &t
	}
	if req.Status != nil {
		st := domain.BookingStatus(*req.Status)
		in.Status = &st
	}

	b, err := h.Bookings.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(b))
}

func (h *Handlers) deleteBooking(w http.ResponseWriter, r *http.Request) {
	if err := h.Bookings.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- vouchers ----

type validateVoucherReq struct {
	Code        string  `json:"code" validate:"required"`
	TotalAmount float64 `json:"totalAmount" validate:"min=0"`
	Nights      int     `json:"nights" validate:"min=0"`
}

// validateVoucher always answers 200: an invalid code is a normal negative
// result the widget renders, not a request failure.
func (h *Handlers) validateVoucher(w http.ResponseWriter, r *http.Request) {
	var req validateVoucherReq
	if !h.decodeBody(w, r, &req) {
		return
	}
	res, err := h.Vouchers.Validate(r.Context(), req.Code, req.TotalAmount, req.Nights, time.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ---- webhooks ----

// receiveWebhook accepts whatever body the channel manager sends, in any
// content type. Unparseable or incomplete payloads answer 400, unknown rooms
// 404, admission conflicts 409; every attempt is durably logged first.
func (h *Handlers) receiveWebhook(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Bad Request", "unreadable body")
		return
	}

	res, err := h.Webhooks.Process(r.Context(), raw)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type webhookLogDTO struct {
	Event     string  `json:"event"`
	Status    string  `json:"status"`
	Direction string  `json:"direction"`
	Source    string  `json:"source"`
	External  *string `json:"externalId,omitempty"`
	Error     *string `json:"error,omitempty"`
	CreatedAt string  `json:"createdAt"`
}

func (h *Handlers) webhookStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("logs") != "true" {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "endpoint": "beds24"})
		return
	}
	limit := 50
	if ls := r.URL.Query().Get("limit"); ls != "" {
		l, err := strconv.Atoi(ls)
		if err != nil || l <= 0 || l > 200 {
			writeProblem(w, http.StatusBadRequest, "Invalid limit", "limit must be an integer between 1 and 200")
			return
		}
		limit = l
	}
	logs, err := h.Store.ListWebhookLogs(r.Context(), "BEDS24", "", limit)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]webhookLogDTO, 0, len(logs))
	for _, l := range logs {
		out = append(out, webhookLogDTO{
			Event: l.Event, Status: l.Status, Direction: l.Direction, Source: l.Source,
			External: l.ExternalID, Error: l.Error,
			CreatedAt: l.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": out})
}

// ---- calendar export ----

func (h *Handlers) exportCalendar(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	ics, err := h.ICal.ExportRoom(r.Context(), roomID)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="room-`+roomID+`.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(ics))
}

// ---- admin ----

type importReq struct {
	Wipe    bool `json:"wipe"`
	Confirm bool `json:"confirm"`
}

func (h *Handlers) runImport(w http.ResponseWriter, r *http.Request) {
	var req importReq
	if !h.decodeBody(w, r, &req) {
		return
	}
	// wiping every local booking needs an explicit second flag
	if req.Wipe && !req.Confirm {
		writeError(w, domain.Validationf("wipe requires confirm=true"))
		return
	}
	res, err := h.Importer.ImportAll(r.Context(), req.Wipe)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) runCRMSync(w http.ResponseWriter, r *http.Request) {
	entity := r.URL.Query().Get("entity")
	var (
		n   int
		err error
	)
	switch entity {
	case "bookings":
		n, err = h.Sync.PullBookings(r.Context())
	case "rooms":
		n, err = h.Sync.PullRooms(r.Context())
	case "properties":
		n, err = h.Sync.PullProperties(r.Context())
	case "vouchers":
		n, err = h.Sync.PullVouchers(r.Context())
	case "all":
		// properties before rooms before bookings: each level references the one above
		pulls := []func(context.Context) (int, error){
			h.Sync.PullProperties, h.Sync.PullRooms, h.Sync.PullBookings, h.Sync.PullVouchers,
		}
		for _, pull := range pulls {
			m, perr := pull(r.Context())
			n += m
			if perr != nil {
				err = perr
				break
			}
		}
	default:
		writeError(w, domain.Validationf("entity must be one of bookings, rooms, properties, vouchers, all"))
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entity": entity, "synced": n})
}

type setRateReq struct {
	RoomID      string  `json:"roomId" validate:"required"`
	Date        string  `json:"date" validate:"required"`
	Price       float64 `json:"price" validate:"min=0"`
	IsAvailable *bool   `json:"isAvailable"`
	MinStay     *int    `json:"minStay" validate:"omitempty,min=1"`
}

func (h *Handlers) setRate(w http.ResponseWriter, r *http.Request) {
	var req setRateReq
	if !h.decodeBody(w, r, &req) {
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, err)
		return
	}
	rule := domain.PriceRule{
		RoomID: req.RoomID, Date: date, Price: req.Price,
		IsAvailable: true, MinStay: req.MinStay,
	}
	if req.IsAvailable != nil {
		rule.IsAvailable = *req.IsAvailable
	}
	if err := h.Rates.SetRate(r.Context(), rule); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type massUpdateReq struct {
	RoomID     string  `json:"roomId" validate:"required"`
	StartDate  string  `json:"startDate" validate:"required"`
	EndDate    string  `json:"endDate" validate:"required"`
	Price      float64 `json:"price" validate:"min=0"`
	DaysOfWeek []int   `json:"daysOfWeek" validate:"required,min=1,dive,min=0,max=6"`
}

func (h *Handlers) massUpdateRates(w http.ResponseWriter, r *http.Request) {
	var req massUpdateReq
	if !h.decodeBody(w, r, &req) {
		return
	}
	start, err := parseDate(req.StartDate)
	if err != nil {
		writeError(w, err)
		return
	}
	end, err := parseDate(req.EndDate)
	if err != nil {
		writeError(w, err)
		return
	}
	days := make([]time.Weekday, 0, len(req.DaysOfWeek))
	for _, d := range req.DaysOfWeek {
		days = append(days, time.Weekday(d))
	}
	res, err := h.Rates.MassUpdate(r.Context(), app.MassUpdateInput{
		RoomID: req.RoomID, StartDate: start, EndDate: end,
		Price: req.Price, DaysOfWeek: days,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type registerFeedReq struct {
	RoomID  string `json:"roomId" validate:"required"`
	URL     string `json:"url" validate:"required,url"`
	Channel string `json:"channel"`
}

func (h *Handlers) registerFeed(w http.ResponseWriter, r *http.Request) {
	var req registerFeedReq
	if !h.decodeBody(w, r, &req) {
		return
	}
	feed, err := h.ICal.RegisterFeed(r.Context(), req.RoomID, req.URL, req.Channel)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id": feed.ID, "roomId": feed.RoomID, "url": feed.URL, "channel": feed.Channel,
	})
}

func (h *Handlers) syncFeeds(w http.ResponseWriter, r *http.Request) {
	res, err := h.ICal.SyncFeeds(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
