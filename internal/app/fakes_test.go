package app_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"zatoka_pms/internal/domain"
)

func pstr(s string) *string     { return &s }
func pint(i int) *int           { return &i }
func pfloat(f float64) *float64 { return &f }

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// memStore is an in-memory domain.Store with the same conflict semantics as
// the MySQL repository, including the per-night uniqueness backstop.
type memStore struct {
	mu         sync.Mutex
	rooms      map[string]domain.Room
	bookings   map[string]domain.Booking
	rules      map[string]domain.PriceRule // roomID|date
	vouchers   map[string]domain.VoucherCode
	guests     map[string]domain.Guest // by email
	properties map[string]domain.Property
	logs       []domain.WebhookLog
	feeds      map[string]domain.ICalFeed
	nights     map[string]string // roomID|date -> bookingID
}

func newMemStore() *memStore {
	return &memStore{
		rooms:      map[string]domain.Room{},
		bookings:   map[string]domain.Booking{},
		rules:      map[string]domain.PriceRule{},
		vouchers:   map[string]domain.VoucherCode{},
		guests:     map[string]domain.Guest{},
		properties: map[string]domain.Property{},
		feeds:      map[string]domain.ICalFeed{},
		nights:     map[string]string{},
	}
}

func nightKey(roomID string, d time.Time) string {
	return roomID + "|" + d.Format("2006-01-02")
}

// ---- rooms ----

func (m *memStore) GetRoom(_ context.Context, id string) (domain.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return domain.Room{}, domain.ErrNotFound
	}
	return r, nil
}

func (m *memStore) GetRoomByExternalID(_ context.Context, externalID string) (domain.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rooms {
		if r.ExternalID != nil && *r.ExternalID == externalID {
			return r, nil
		}
	}
	return domain.Room{}, domain.ErrNotFound
}

func (m *memStore) ListRooms(_ context.Context, propertyID *string) ([]domain.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Room
	for _, r := range m.rooms {
		if propertyID != nil && r.PropertyID != *propertyID {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) UpsertRoom(_ context.Context, r domain.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[r.ID] = r
	return nil
}

func (m *memStore) DeleteRoom(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.rooms, id)
	return nil
}

// ---- bookings ----

func (m *memStore) writeNightsLocked(b domain.Booking) error {
	for k, owner := range m.nights {
		if owner == b.ID {
			delete(m.nights, k)
		}
	}
	if !b.Status.CountsForConflict() {
		return nil
	}
	var added []string
	for d := b.CheckIn; d.Before(b.CheckOut); d = d.AddDate(0, 0, 1) {
		k := nightKey(b.RoomID, d)
		if owner, taken := m.nights[k]; taken && owner != b.ID {
			for _, a := range added {
				delete(m.nights, a)
			}
			return domain.Conflictf("room %s is already booked on %s", b.RoomID, d.Format("2006-01-02"))
		}
		m.nights[k] = b.ID
		added = append(added, k)
	}
	return nil
}

func (m *memStore) InsertBooking(_ context.Context, b domain.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bookings[b.ID]; ok {
		return domain.Conflictf("booking %s already exists", b.ID)
	}
	if err := m.writeNightsLocked(b); err != nil {
		return err
	}
	m.bookings[b.ID] = b
	return nil
}

func (m *memStore) UpdateBooking(_ context.Context, b domain.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bookings[b.ID]; !ok {
		return domain.ErrNotFound
	}
	if err := m.writeNightsLocked(b); err != nil {
		return err
	}
	m.bookings[b.ID] = b
	return nil
}

func (m *memStore) UpsertBooking(_ context.Context, b domain.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writeNightsLocked(b); err != nil {
		return err
	}
	m.bookings[b.ID] = b
	return nil
}

func (m *memStore) DeleteBooking(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bookings[id]; !ok {
		return domain.ErrNotFound
	}
	for k, owner := range m.nights {
		if owner == id {
			delete(m.nights, k)
		}
	}
	delete(m.bookings, id)
	return nil
}

func (m *memStore) DeleteAllBookings(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.bookings))
	m.bookings = map[string]domain.Booking{}
	m.nights = map[string]string{}
	return n, nil
}

func (m *memStore) GetBooking(_ context.Context, id string) (domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return domain.Booking{}, domain.ErrNotFound
	}
	return b, nil
}

func (m *memStore) FindBookingByExternalID(_ context.Context, externalID string) (*domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bookings {
		if b.ExternalID != nil && *b.ExternalID == externalID {
			bb := b
			return &bb, nil
		}
	}
	return nil, nil
}

func (m *memStore) FindConflict(_ context.Context, roomID string, checkIn, checkOut time.Time, excludeID string) (*domain.Conflict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found *domain.Conflict
	for _, b := range m.bookings {
		if b.RoomID != roomID || b.ID == excludeID || !b.Status.CountsForConflict() {
			continue
		}
		if b.Overlaps(checkIn, checkOut) {
			if found == nil || b.CheckIn.Before(found.CheckIn) {
				found = &domain.Conflict{BookingID: b.ID, GuestName: b.GuestName, CheckIn: b.CheckIn, CheckOut: b.CheckOut}
			}
		}
	}
	return found, nil
}

func (m *memStore) OccupiedRoomIDs(_ context.Context, checkIn, checkOut time.Time) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]bool{}
	for _, b := range m.bookings {
		if b.Status.BlocksAvailability() && b.Overlaps(checkIn, checkOut) {
			out[b.RoomID] = true
		}
	}
	return out, nil
}

func (m *memStore) LatestBookingRef(_ context.Context, prefix string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	best := ""
	for _, b := range m.bookings {
		if b.BookingRef == nil || !strings.HasPrefix(*b.BookingRef, prefix) {
			continue
		}
		if *b.BookingRef > best {
			best = *b.BookingRef
		}
	}
	return best, nil
}

func (m *memStore) ListRoomBookings(_ context.Context, roomID string, status *domain.BookingStatus) ([]domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Booking
	for _, b := range m.bookings {
		if b.RoomID != roomID {
			continue
		}
		if status != nil && b.Status != *status {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CheckIn.Before(out[j].CheckIn) })
	return out, nil
}

func (m *memStore) CountActiveFutureBookings(_ context.Context, roomID string, asOf time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.bookings {
		if b.RoomID == roomID && b.Status.CountsForConflict() && b.CheckOut.After(asOf) {
			n++
		}
	}
	return n, nil
}

// ---- price rules ----

func (m *memStore) ListPriceRules(_ context.Context, from, to time.Time) ([]domain.PriceRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PriceRule
	for _, r := range m.rules {
		if !r.Date.Before(from) && r.Date.Before(to) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) UpsertPriceRules(_ context.Context, rules []domain.PriceRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rules {
		m.rules[nightKey(r.RoomID, r.Date)] = r
	}
	return nil
}

// ---- vouchers ----

func (m *memStore) GetVoucherByCode(_ context.Context, code string) (domain.VoucherCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.vouchers {
		if v.Code == code {
			return v, nil
		}
	}
	return domain.VoucherCode{}, domain.ErrNotFound
}

func (m *memStore) UpsertVoucher(_ context.Context, v domain.VoucherCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vouchers[v.ID] = v
	return nil
}

func (m *memStore) RedeemVoucher(_ context.Context, voucherID, bookingID string, discountApplied float64) (domain.VoucherCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vouchers[voucherID]
	if !ok {
		return domain.VoucherCode{}, domain.ErrNotFound
	}
	v.UsedCount++
	m.vouchers[voucherID] = v
	return v, nil
}

// ---- guests ----

func (m *memStore) UpsertGuest(_ context.Context, g domain.Guest) (domain.Guest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.guests[g.Email]; ok {
		existing.Name = g.Name
		if g.Phone != nil {
			existing.Phone = g.Phone
		}
		m.guests[g.Email] = existing
		return existing, nil
	}
	m.guests[g.Email] = g
	return g, nil
}

// ---- properties ----

func (m *memStore) UpsertProperty(_ context.Context, p domain.Property) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.properties[p.ID] = p
	return nil
}

func (m *memStore) GetPropertyByExternalID(_ context.Context, externalID string) (domain.Property, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.properties {
		if p.ExternalID != nil && *p.ExternalID == externalID {
			return p, nil
		}
	}
	return domain.Property{}, domain.ErrNotFound
}

func (m *memStore) FirstPropertyWithChannelCreds(_ context.Context) (domain.Property, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.properties {
		if p.Beds24RefreshToken != nil || p.Beds24InviteCode != nil {
			return p, nil
		}
	}
	return domain.Property{}, domain.ErrNotFound
}

// ---- webhook logs ----

func (m *memStore) AppendWebhookLog(_ context.Context, l domain.WebhookLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.ID = int64(len(m.logs) + 1)
	l.CreatedAt = time.Now()
	m.logs = append(m.logs, l)
	return nil
}

func (m *memStore) ListWebhookLogs(_ context.Context, source, direction string, limit int) ([]domain.WebhookLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.WebhookLog
	for i := len(m.logs) - 1; i >= 0 && len(out) < limit; i-- {
		l := m.logs[i]
		if source != "" && l.Source != source {
			continue
		}
		if direction != "" && l.Direction != direction {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

// ---- feeds ----

func (m *memStore) ListICalFeeds(_ context.Context) ([]domain.ICalFeed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ICalFeed
	for _, f := range m.feeds {
		out = append(out, f)
	}
	return out, nil
}

func (m *memStore) UpsertICalFeed(_ context.Context, f domain.ICalFeed) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feeds[f.ID] = f
	return nil
}

func (m *memStore) TouchICalFeed(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.feeds[id]
	if !ok {
		return domain.ErrNotFound
	}
	f.LastSynced = &at
	m.feeds[id] = f
	return nil
}

// memCache is a trivial in-memory domain.Cache.
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache { return &memCache{data: map[string][]byte{}} }

func (c *memCache) Get(_ context.Context, key string, dst any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dst)
}

func (c *memCache) Set(_ context.Context, key string, v any, _ int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.data[key] = b
	return nil
}

func (c *memCache) Del(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

// fakeCRM records calls and hands out sequential ids.
type fakeCRM struct {
	mu      sync.Mutex
	seq     int
	created map[string][]map[string]any // module -> records (with id)
	updated map[string][]string         // module -> updated ids
	deleted map[string][]string
	listing map[string][]map[string]any // module -> records served by ListRecords
	contact map[string]string           // email -> contact id

	failCreate bool
	failUpdate bool
	deleteErr  error
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{
		created: map[string][]map[string]any{},
		updated: map[string][]string{},
		deleted: map[string][]string{},
		listing: map[string][]map[string]any{},
		contact: map[string]string{},
	}
}

func (f *fakeCRM) CreateRecord(_ context.Context, module string, fields map[string]any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate && module != "Contacts" {
		return "", domain.Upstream("crm unavailable", nil)
	}
	f.seq++
	id := fmt.Sprintf("crm-%s-%d", module, f.seq)
	rec := map[string]any{"id": id}
	for k, v := range fields {
		rec[k] = v
	}
	f.created[module] = append(f.created[module], rec)
	if module == "Contacts" {
		f.contact[fmt.Sprintf("%v", fields["Email"])] = id
	}
	return id, nil
}

func (f *fakeCRM) UpdateRecord(_ context.Context, module, id string, _ map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpdate {
		return domain.Upstream("crm unavailable", nil)
	}
	f.updated[module] = append(f.updated[module], id)
	return nil
}

func (f *fakeCRM) DeleteRecord(_ context.Context, module, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted[module] = append(f.deleted[module], id)
	return nil
}

func (f *fakeCRM) ListRecords(_ context.Context, module string, page, perPage int) ([]map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	recs := f.listing[module]
	start := (page - 1) * perPage
	if start >= len(recs) {
		return nil, nil
	}
	end := start + perPage
	if end > len(recs) {
		end = len(recs)
	}
	return recs[start:end], nil
}

func (f *fakeCRM) Search(_ context.Context, query string) ([]map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for email, id := range f.contact {
		if strings.Contains(query, "'"+email+"'") {
			return []map[string]any{{"id": id, "Email": email}}, nil
		}
	}
	return nil, nil
}

// fakeChannel implements domain.ChannelClient for import/rate tests.
type fakeChannel struct {
	mu        sync.Mutex
	props     []map[string]any
	bookings  []map[string]any
	rates     []domain.RateUpdate
	created   []map[string]any
	cancelled []string
}

func (f *fakeChannel) Properties(_ context.Context) ([]map[string]any, error) {
	return f.props, nil
}

func (f *fakeChannel) BookingsWindow(_ context.Context, _, _ time.Time) ([]map[string]any, error) {
	return f.bookings, nil
}

func (f *fakeChannel) PushRates(_ context.Context, updates []domain.RateUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rates = append(f.rates, updates...)
	return nil
}

func (f *fakeChannel) CreateBooking(_ context.Context, fields map[string]any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, fields)
	return "90001", nil
}

func (f *fakeChannel) CancelBooking(_ context.Context, externalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, externalID)
	return nil
}
