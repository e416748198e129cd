package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"zatoka_pms/internal/adapters/observability"
	"zatoka_pms/internal/domain"
)

// WebhookResult is what the channel manager gets back on success.
type WebhookResult struct {
	Success           bool   `json:"success"`
	ProviderBookingID string `json:"providerBookingId"`
	RoomID            string `json:"roomId"`
	MappedStatus      string `json:"mappedStatus"`
	Action            string `json:"action"` // CREATE | UPDATE
}

const (
	eventParseFailed   = "PARSE_FAILED"
	eventMissingFields = "MISSING_FIELDS"
	eventRoomNotFound  = "ROOM_NOT_FOUND"
	eventProcessingErr = "PROCESSING_ERROR"
	eventBookingCreate = "BOOKING_CREATE"
	eventBookingUpdate = "BOOKING_UPDATE"
)

// WebhookProcessor turns inbound channel-manager payloads into bookings via
// the write-through layer. Every attempt, failed or not, is durably logged
// before the HTTP response goes out.
type WebhookProcessor struct {
	store     domain.Store
	sync      *SyncService
	validator *Validator
	source    string
	currency  string
	log       zerolog.Logger
}

func NewWebhookProcessor(store domain.Store, sync *SyncService, validator *Validator, currency string, log zerolog.Logger) *WebhookProcessor {
	return &WebhookProcessor{
		store: store, sync: sync, validator: validator,
		source: "BEDS24", currency: orDefault(currency, "PLN"), log: log,
	}
}

func excerpt(raw []byte) *string {
	s := string(raw)
	if len(s) > payloadExcerptCap {
		s = s[:payloadExcerptCap]
	}
	return &s
}

func (p *WebhookProcessor) applyEvent(ctx context.Context, b domain.Booking, exists bool) error {
	if exists {
		return p.sync.UpdateBooking(ctx, b)
	}
	_, err := p.sync.CreateBooking(ctx, b)
	return err
}

func (p *WebhookProcessor) logAttempt(ctx context.Context, l domain.WebhookLog) {
	l.Direction = domain.DirectionIncoming
	l.Source = p.source
	if err := p.store.AppendWebhookLog(ctx, l); err != nil {
		p.log.Error().Err(err).Str("event", l.Event).Msg("webhook log write failed")
	}
	observability.ObserveWebhook(p.source, l.Event, l.Status)
}

// Process handles one raw webhook delivery end to end.
func (p *WebhookProcessor) Process(ctx context.Context, raw []byte) (WebhookResult, error) {
	payload, err := ParsePayload(raw)
	if err != nil {
		msg := err.Error()
		p.logAttempt(ctx, domain.WebhookLog{
			Event: eventParseFailed, Status: domain.LogStatusError,
			Payload: excerpt(raw), Error: &msg,
		})
		return WebhookResult{}, err
	}

	ev, err := Normalize(payload)
	if err != nil {
		event := eventProcessingErr
		if domain.IsKind(err, domain.KindValidation) {
			event = eventMissingFields
		}
		msg := err.Error()
		p.logAttempt(ctx, domain.WebhookLog{
			Event: event, Status: domain.LogStatusError,
			Payload: excerpt(raw), Error: &msg,
		})
		return WebhookResult{}, err
	}

	room, err := p.store.GetRoomByExternalID(ctx, ev.ProviderRoomID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			msg := fmt.Sprintf("room with externalId=%s not found", ev.ProviderRoomID)
			p.logAttempt(ctx, domain.WebhookLog{
				Event: eventRoomNotFound, Status: domain.LogStatusError,
				ExternalID: &ev.ProviderBookingID, RoomID: &ev.ProviderRoomID,
				Payload: excerpt(raw), Error: &msg,
			})
			return WebhookResult{}, domain.NotFoundf("room %s not found", ev.ProviderRoomID)
		}
		return WebhookResult{}, err
	}

	existing, err := p.store.FindBookingByExternalID(ctx, ev.ProviderBookingID)
	if err != nil {
		return WebhookResult{}, err
	}

	notes := fmt.Sprintf("Imported via Webhook from %s", ev.Source)
	b := domain.Booking{
		RoomID:      room.ID,
		RoomNumber:  room.Number,
		GuestName:   ev.GuestName,
		GuestEmail:  ev.GuestEmail,
		NumAdults:   ev.NumAdults,
		NumChildren: ev.NumChildren,
		CheckIn:     ev.CheckIn,
		CheckOut:    ev.CheckOut,
		TotalPrice:  ev.TotalPrice,
		Currency:    p.currency,
		Status:      ev.Status,
		Source:      ev.Source,
		ExternalID:  &ev.ProviderBookingID,
		Notes:       &notes,
	}

	event := eventBookingCreate
	action := "CREATE"
	excludeID := ""
	if existing != nil {
		event = eventBookingUpdate
		action = "UPDATE"
		b.ID = existing.ID
		b.BookingRef = existing.BookingRef
		b.Currency = existing.Currency
		excludeID = existing.ID
	}
	// live statuses pass through the same admission gate as every other entry
	// point; cancellations and holds replay external state as-is
	if b.Status.CountsForConflict() {
		if _, err = p.validator.Validate(ctx, b.RoomID, b.CheckIn, b.CheckOut, b.NumAdults, b.NumChildren, excludeID); err == nil {
			err = p.applyEvent(ctx, b, existing != nil)
		}
	} else {
		err = p.applyEvent(ctx, b, existing != nil)
	}
	if err != nil {
		msg := err.Error()
		p.logAttempt(ctx, domain.WebhookLog{
			Event: event, Status: domain.LogStatusError,
			ExternalID: &ev.ProviderBookingID, RoomID: &room.ID,
			Payload: excerpt(raw), Error: &msg,
		})
		return WebhookResult{}, err
	}

	meta, _ := json.Marshal(map[string]any{
		"guestName": ev.GuestName,
		"checkIn":   ev.CheckIn.Format("2006-01-02"),
		"checkOut":  ev.CheckOut.Format("2006-01-02"),
		"status":    string(ev.Status),
		"price":     ev.TotalPrice,
	})
	metaStr := string(meta)
	p.logAttempt(ctx, domain.WebhookLog{
		Event: event, Status: domain.LogStatusSuccess,
		ExternalID: &ev.ProviderBookingID, RoomID: &room.ID,
		Payload: excerpt(raw), Metadata: &metaStr,
	})

	return WebhookResult{
		Success:           true,
		ProviderBookingID: ev.ProviderBookingID,
		RoomID:            ev.ProviderRoomID,
		MappedStatus:      string(ev.Status),
		Action:            action,
	}, nil
}
