package mysql

const upsertPropertySQL = `
INSERT INTO properties
  (id, name, description, address, email, phone, currency, external_id,
   beds24_invite_code, beds24_refresh_token)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
  name                 = VALUES(name),
  description          = VALUES(description),
  address              = VALUES(address),
  email                = VALUES(email),
  phone                = VALUES(phone),
  currency             = VALUES(currency),
  external_id          = VALUES(external_id),
  beds24_invite_code   = VALUES(beds24_invite_code),
  beds24_refresh_token = COALESCE(VALUES(beds24_refresh_token), properties.beds24_refresh_token),
  updated_at           = CURRENT_TIMESTAMP
`

const selectPropertyCols = `
SELECT id, name, description, address, email, phone, currency, external_id,
       beds24_invite_code, beds24_refresh_token
FROM properties
`

const upsertRoomSQL = `
INSERT INTO rooms
  (id, property_id, room_number, name, description, room_type, base_price,
   capacity, max_adults, max_children, min_nights, amenities, view_type,
   external_id, bookingcom_room_id, airbnb_room_id)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
  property_id        = VALUES(property_id),
  room_number        = VALUES(room_number),
  name               = VALUES(name),
  description        = VALUES(description),
  room_type          = VALUES(room_type),
  base_price         = VALUES(base_price),
  capacity           = VALUES(capacity),
  max_adults         = VALUES(max_adults),
  max_children       = VALUES(max_children),
  min_nights         = VALUES(min_nights),
  amenities          = VALUES(amenities),
  view_type          = VALUES(view_type),
  external_id        = VALUES(external_id),
  bookingcom_room_id = VALUES(bookingcom_room_id),
  airbnb_room_id     = VALUES(airbnb_room_id),
  updated_at         = CURRENT_TIMESTAMP
`

const selectRoomCols = `
SELECT id, property_id, room_number, name, description, room_type, base_price,
       capacity, max_adults, max_children, min_nights, amenities, view_type,
       external_id, bookingcom_room_id, airbnb_room_id
FROM rooms
`

const bookingCols = `id, booking_ref, room_id, room_number, guest_id, guest_name,
  guest_email, guest_phone, num_adults, num_children, guest_ages,
  check_in, check_out, total_price, currency, status, source, external_id,
  notes, voucher_code, discount_amount, deposit_amount, balance_amount,
  balance_due_date`

const insertBookingSQL = `
INSERT INTO bookings (` + bookingCols + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const upsertBookingSQL = insertBookingSQL + `
ON DUPLICATE KEY UPDATE
  booking_ref      = COALESCE(VALUES(booking_ref), bookings.booking_ref),
  room_id          = VALUES(room_id),
  room_number      = VALUES(room_number),
  guest_id         = COALESCE(VALUES(guest_id), bookings.guest_id),
  guest_name       = VALUES(guest_name),
  guest_email      = VALUES(guest_email),
  guest_phone      = VALUES(guest_phone),
  num_adults       = VALUES(num_adults),
  num_children     = VALUES(num_children),
  guest_ages       = VALUES(guest_ages),
  check_in         = VALUES(check_in),
  check_out        = VALUES(check_out),
  total_price      = VALUES(total_price),
  currency         = VALUES(currency),
  status           = VALUES(status),
  source           = VALUES(source),
  external_id      = COALESCE(VALUES(external_id), bookings.external_id),
  notes            = VALUES(notes),
  voucher_code     = VALUES(voucher_code),
  discount_amount  = VALUES(discount_amount),
  deposit_amount   = VALUES(deposit_amount),
  balance_amount   = VALUES(balance_amount),
  balance_due_date = VALUES(balance_due_date),
  updated_at       = CURRENT_TIMESTAMP
`

const updateBookingSQL = `
UPDATE bookings SET
  booking_ref = ?, room_id = ?, room_number = ?, guest_id = ?, guest_name = ?,
  guest_email = ?, guest_phone = ?, num_adults = ?, num_children = ?,
  guest_ages = ?, check_in = ?, check_out = ?, total_price = ?, currency = ?,
  status = ?, source = ?, external_id = ?, notes = ?, voucher_code = ?,
  discount_amount = ?, deposit_amount = ?, balance_amount = ?,
  balance_due_date = ?
WHERE id = ?
`

const selectBookingCols = `SELECT ` + bookingCols + ` FROM bookings `

const findConflictSQL = `
SELECT id, guest_name, check_in, check_out
FROM bookings
WHERE room_id = ?
  AND status NOT IN ('CANCELLED','BLOCKED')
  AND check_in < ?
  AND check_out > ?
  AND id <> ?
ORDER BY check_in
LIMIT 1
`

const occupiedRoomsSQL = `
SELECT DISTINCT room_id
FROM bookings
WHERE status <> 'CANCELLED'
  AND check_in < ?
  AND check_out > ?
`

const latestBookingRefSQL = `
SELECT booking_ref
FROM bookings
WHERE booking_ref LIKE CONCAT(?, '%')
ORDER BY booking_ref DESC
LIMIT 1
`

const upsertPriceRuleSQL = `
INSERT INTO price_rules (room_id, rule_date, price, is_available, min_stay)
VALUES (?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
  price        = VALUES(price),
  is_available = VALUES(is_available),
  min_stay     = VALUES(min_stay),
  updated_at   = CURRENT_TIMESTAMP
`

const listPriceRulesSQL = `
SELECT id, room_id, rule_date, price, is_available, min_stay
FROM price_rules
WHERE rule_date >= ? AND rule_date < ?
ORDER BY room_id, rule_date
`

const upsertVoucherSQL = `
INSERT INTO vouchers
  (id, code, description, discount_type, discount_value, currency, min_nights,
   min_booking_value, max_uses, used_count, valid_from, valid_until, is_active)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
  code              = VALUES(code),
  description       = VALUES(description),
  discount_type     = VALUES(discount_type),
  discount_value    = VALUES(discount_value),
  currency          = VALUES(currency),
  min_nights        = VALUES(min_nights),
  min_booking_value = VALUES(min_booking_value),
  max_uses          = VALUES(max_uses),
  used_count        = VALUES(used_count),
  valid_from        = VALUES(valid_from),
  valid_until       = VALUES(valid_until),
  is_active         = VALUES(is_active),
  updated_at        = CURRENT_TIMESTAMP
`

const selectVoucherCols = `
SELECT id, code, description, discount_type, discount_value, currency,
       min_nights, min_booking_value, max_uses, used_count, valid_from,
       valid_until, is_active
FROM vouchers
`

const upsertGuestSQL = `
INSERT INTO guests (id, name, email, phone, language)
VALUES (?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
  name       = VALUES(name),
  phone      = COALESCE(VALUES(phone), guests.phone),
  language   = VALUES(language),
  updated_at = CURRENT_TIMESTAMP
`

const insertWebhookLogSQL = `
INSERT INTO webhook_logs
  (direction, source, event, status, booking_id, external_id, room_id,
   payload, error, metadata)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const upsertICalFeedSQL = `
INSERT INTO ical_feeds (id, room_id, url, channel, last_synced)
VALUES (?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
  room_id     = VALUES(room_id),
  url         = VALUES(url),
  channel     = VALUES(channel),
  last_synced = COALESCE(VALUES(last_synced), ical_feeds.last_synced)
`
