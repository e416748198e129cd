package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"zatoka_pms/internal/domain"
)

func valStr(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}
func valInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}
func valF64(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}
func valDate(p *time.Time) any {
	if p == nil {
		return nil
	}
	return p.Format("2006-01-02")
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
func intPtr(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	i := int(ni.Int64)
	return &i
}
func f64Ptr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	f := nf.Float64
	return &f
}
func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

type Repo struct{ db *sql.DB }

func New(db *sql.DB) *Repo { return &Repo{db: db} }

// ---- properties ----

func (r *Repo) UpsertProperty(ctx context.Context, p domain.Property) error {
	_, err := r.db.ExecContext(ctx, upsertPropertySQL,
		p.ID, p.Name, valStr(p.Description), valStr(p.Address), p.Email,
		valStr(p.Phone), p.Currency, valStr(p.ExternalID),
		valStr(p.Beds24InviteCode), valStr(p.Beds24RefreshToken))
	return err
}

func (r *Repo) GetPropertyByExternalID(ctx context.Context, externalID string) (domain.Property, error) {
	return r.scanProperty(r.db.QueryRowContext(ctx, selectPropertyCols+"WHERE external_id = ?", externalID))
}

func (r *Repo) FirstPropertyWithChannelCreds(ctx context.Context) (domain.Property, error) {
	return r.scanProperty(r.db.QueryRowContext(ctx,
		selectPropertyCols+"WHERE beds24_refresh_token IS NOT NULL OR beds24_invite_code IS NOT NULL ORDER BY created_at LIMIT 1"))
}

func (r *Repo) scanProperty(row *sql.Row) (domain.Property, error) {
	var p domain.Property
	var desc, addr, phone, extID, invite, refresh sql.NullString
	if err := row.Scan(&p.ID, &p.Name, &desc, &addr, &p.Email, &phone,
		&p.Currency, &extID, &invite, &refresh); err != nil {
		if err == sql.ErrNoRows {
			return domain.Property{}, domain.ErrNotFound
		}
		return domain.Property{}, err
	}
	p.Description = strPtr(desc)
	p.Address = strPtr(addr)
	p.Phone = strPtr(phone)
	p.ExternalID = strPtr(extID)
	p.Beds24InviteCode = strPtr(invite)
	p.Beds24RefreshToken = strPtr(refresh)
	return p, nil
}

// ---- rooms ----

func (r *Repo) UpsertRoom(ctx context.Context, rm domain.Room) error {
	amen, _ := json.Marshal(rm.Amenities)
	_, err := r.db.ExecContext(ctx, upsertRoomSQL,
		rm.ID, rm.PropertyID, rm.Number, rm.Name, valStr(rm.Description),
		valStr(rm.RoomType), rm.BasePrice, rm.Capacity, rm.MaxAdults,
		rm.MaxChildren, rm.MinNights, string(amen), valStr(rm.ViewType),
		valStr(rm.ExternalID), valStr(rm.BookingComRoomID), valStr(rm.AirbnbRoomID))
	return err
}

func (r *Repo) GetRoom(ctx context.Context, id string) (domain.Room, error) {
	return scanRoom(r.db.QueryRowContext(ctx, selectRoomCols+"WHERE id = ?", id))
}

func (r *Repo) GetRoomByExternalID(ctx context.Context, externalID string) (domain.Room, error) {
	return scanRoom(r.db.QueryRowContext(ctx, selectRoomCols+"WHERE external_id = ?", externalID))
}

func (r *Repo) ListRooms(ctx context.Context, propertyID *string) ([]domain.Room, error) {
	q := selectRoomCols + "ORDER BY room_number"
	var args []any
	if propertyID != nil {
		q = selectRoomCols + "WHERE property_id = ? ORDER BY room_number"
		args = append(args, *propertyID)
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Room
	for rows.Next() {
		rm, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rm)
	}
	return out, rows.Err()
}

func (r *Repo) DeleteRoom(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM rooms WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanRoom(row rowScanner) (domain.Room, error) {
	var rm domain.Room
	var desc, roomType, view, extID, bcomID, airbnbID sql.NullString
	var amenJSON []byte
	if err := row.Scan(&rm.ID, &rm.PropertyID, &rm.Number, &rm.Name, &desc,
		&roomType, &rm.BasePrice, &rm.Capacity, &rm.MaxAdults, &rm.MaxChildren,
		&rm.MinNights, &amenJSON, &view, &extID, &bcomID, &airbnbID); err != nil {
		if err == sql.ErrNoRows {
			return domain.Room{}, domain.ErrNotFound
		}
		return domain.Room{}, err
	}
	rm.Description = strPtr(desc)
	rm.RoomType = strPtr(roomType)
	rm.ViewType = strPtr(view)
	rm.ExternalID = strPtr(extID)
	rm.BookingComRoomID = strPtr(bcomID)
	rm.AirbnbRoomID = strPtr(airbnbID)
	_ = json.Unmarshal(amenJSON, &rm.Amenities)
	return rm, nil
}

// ---- guests ----

func (r *Repo) UpsertGuest(ctx context.Context, g domain.Guest) (domain.Guest, error) {
	if _, err := r.db.ExecContext(ctx, upsertGuestSQL,
		g.ID, g.Name, g.Email, valStr(g.Phone), g.Language); err != nil {
		return domain.Guest{}, err
	}
	// the email key wins: re-read to pick up the surviving row's id
	row := r.db.QueryRowContext(ctx,
		"SELECT id, name, email, phone, language FROM guests WHERE email = ?", g.Email)
	var out domain.Guest
	var phone sql.NullString
	if err := row.Scan(&out.ID, &out.Name, &out.Email, &phone, &out.Language); err != nil {
		return domain.Guest{}, err
	}
	out.Phone = strPtr(phone)
	return out, nil
}

// ---- webhook logs ----

func (r *Repo) AppendWebhookLog(ctx context.Context, l domain.WebhookLog) error {
	_, err := r.db.ExecContext(ctx, insertWebhookLogSQL,
		l.Direction, l.Source, l.Event, l.Status, valStr(l.BookingID),
		valStr(l.ExternalID), valStr(l.RoomID), valStr(l.Payload),
		valStr(l.Error), valStr(l.Metadata))
	return err
}

func (r *Repo) ListWebhookLogs(ctx context.Context, source, direction string, limit int) ([]domain.WebhookLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, direction, source, event, status, booking_id, external_id, room_id,
       payload, error, metadata, created_at
FROM webhook_logs
WHERE (? = '' OR source = ?) AND (? = '' OR direction = ?)
ORDER BY id DESC
LIMIT ?`, source, source, direction, direction, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.WebhookLog
	for rows.Next() {
		var l domain.WebhookLog
		var bookingID, extID, roomID, payload, errMsg, meta sql.NullString
		if err := rows.Scan(&l.ID, &l.Direction, &l.Source, &l.Event, &l.Status,
			&bookingID, &extID, &roomID, &payload, &errMsg, &meta, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.BookingID = strPtr(bookingID)
		l.ExternalID = strPtr(extID)
		l.RoomID = strPtr(roomID)
		l.Payload = strPtr(payload)
		l.Error = strPtr(errMsg)
		l.Metadata = strPtr(meta)
		out = append(out, l)
	}
	return out, rows.Err()
}

// ---- ical feeds ----

func (r *Repo) ListICalFeeds(ctx context.Context) ([]domain.ICalFeed, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, room_id, url, channel, last_synced FROM ical_feeds ORDER BY created_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ICalFeed
	for rows.Next() {
		var f domain.ICalFeed
		var synced sql.NullTime
		if err := rows.Scan(&f.ID, &f.RoomID, &f.URL, &f.Channel, &synced); err != nil {
			return nil, err
		}
		f.LastSynced = timePtr(synced)
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *Repo) UpsertICalFeed(ctx context.Context, f domain.ICalFeed) error {
	var synced any
	if f.LastSynced != nil {
		synced = *f.LastSynced
	}
	_, err := r.db.ExecContext(ctx, upsertICalFeedSQL, f.ID, f.RoomID, f.URL, f.Channel, synced)
	return err
}

func (r *Repo) TouchICalFeed(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, "UPDATE ical_feeds SET last_synced = ? WHERE id = ?", at, id)
	return err
}
