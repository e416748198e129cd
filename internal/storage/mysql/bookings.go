package mysql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	gomysql "github.com/go-sql-driver/mysql"

	"zatoka_pms/internal/domain"
)

const mysqlDupEntry = 1062

func isDupEntry(err error) bool {
	var me *gomysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDupEntry
}

func bookingArgs(b domain.Booking) []any {
	return []any{
		b.ID, valStr(b.BookingRef), b.RoomID, b.RoomNumber, valStr(b.GuestID),
		b.GuestName, b.GuestEmail, valStr(b.GuestPhone), b.NumAdults,
		b.NumChildren, valStr(b.GuestAges),
		b.CheckIn.Format("2006-01-02"), b.CheckOut.Format("2006-01-02"),
		b.TotalPrice, b.Currency, string(b.Status), b.Source,
		valStr(b.ExternalID), valStr(b.Notes), valStr(b.VoucherCode),
		valF64(b.DiscountAmount), valF64(b.DepositAmount),
		valF64(b.BalanceAmount), valDate(b.BalanceDueDate),
	}
}

// writeNights re-derives the occupancy rows for a booking inside tx. A
// duplicate (room_id, night) means another live booking already holds that
// night.
func writeNights(ctx context.Context, tx *sql.Tx, b domain.Booking) error {
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM room_nights WHERE booking_id = ?", b.ID); err != nil {
		return err
	}
	if !b.Status.CountsForConflict() {
		return nil
	}
	for d := b.CheckIn; d.Before(b.CheckOut); d = d.AddDate(0, 0, 1) {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO room_nights (room_id, night, booking_id) VALUES (?, ?, ?)",
			b.RoomID, d.Format("2006-01-02"), b.ID)
		if err != nil {
			if isDupEntry(err) {
				return domain.Conflictf("room %s is already booked on %s",
					b.RoomID, d.Format("2006-01-02"))
			}
			return err
		}
	}
	return nil
}

func (r *Repo) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (r *Repo) InsertBooking(ctx context.Context, b domain.Booking) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, insertBookingSQL, bookingArgs(b)...); err != nil {
			if isDupEntry(err) {
				return domain.Conflictf("booking %s already exists", b.ID)
			}
			return err
		}
		return writeNights(ctx, tx, b)
	})
}

func (r *Repo) UpdateBooking(ctx context.Context, b domain.Booking) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		args := append(bookingArgs(b)[1:], b.ID)
		res, err := tx.ExecContext(ctx, updateBookingSQL, args...)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// RowsAffected is 0 for a no-change update too; confirm existence
			var one int
			if err := tx.QueryRowContext(ctx,
				"SELECT 1 FROM bookings WHERE id = ?", b.ID).Scan(&one); err != nil {
				if err == sql.ErrNoRows {
					return domain.ErrNotFound
				}
				return err
			}
		}
		return writeNights(ctx, tx, b)
	})
}

func (r *Repo) UpsertBooking(ctx context.Context, b domain.Booking) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, upsertBookingSQL, bookingArgs(b)...); err != nil {
			return err
		}
		return writeNights(ctx, tx, b)
	})
}

func (r *Repo) DeleteBooking(ctx context.Context, id string) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM room_nights WHERE booking_id = ?", id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM bookings WHERE id = ?", id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
}

func (r *Repo) DeleteAllBookings(ctx context.Context) (int64, error) {
	var n int64
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM room_nights"); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM bookings")
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}

func (r *Repo) GetBooking(ctx context.Context, id string) (domain.Booking, error) {
	b, err := scanBooking(r.db.QueryRowContext(ctx, selectBookingCols+"WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return domain.Booking{}, domain.ErrNotFound
	}
	return b, err
}

func (r *Repo) FindBookingByExternalID(ctx context.Context, externalID string) (*domain.Booking, error) {
	b, err := scanBooking(r.db.QueryRowContext(ctx, selectBookingCols+"WHERE external_id = ?", externalID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *Repo) FindConflict(ctx context.Context, roomID string, checkIn, checkOut time.Time, excludeID string) (*domain.Conflict, error) {
	row := r.db.QueryRowContext(ctx, findConflictSQL,
		roomID, checkOut.Format("2006-01-02"), checkIn.Format("2006-01-02"), excludeID)
	var c domain.Conflict
	if err := row.Scan(&c.BookingID, &c.GuestName, &c.CheckIn, &c.CheckOut); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (r *Repo) OccupiedRoomIDs(ctx context.Context, checkIn, checkOut time.Time) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, occupiedRoomsSQL,
		checkOut.Format("2006-01-02"), checkIn.Format("2006-01-02"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

func (r *Repo) LatestBookingRef(ctx context.Context, prefix string) (string, error) {
	var ref sql.NullString
	err := r.db.QueryRowContext(ctx, latestBookingRefSQL, prefix).Scan(&ref)
	if err == sql.ErrNoRows || !ref.Valid {
		return "", nil
	}
	return ref.String, err
}

func (r *Repo) ListRoomBookings(ctx context.Context, roomID string, status *domain.BookingStatus) ([]domain.Booking, error) {
	q := selectBookingCols + "WHERE room_id = ? ORDER BY check_in"
	args := []any{roomID}
	if status != nil {
		q = selectBookingCols + "WHERE room_id = ? AND status = ? ORDER BY check_in"
		args = append(args, string(*status))
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *Repo) CountActiveFutureBookings(ctx context.Context, roomID string, asOf time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM bookings
WHERE room_id = ? AND status NOT IN ('CANCELLED','BLOCKED') AND check_out > ?`,
		roomID, asOf.Format("2006-01-02")).Scan(&n)
	return n, err
}

func scanBooking(row rowScanner) (domain.Booking, error) {
	var b domain.Booking
	var (
		ref, guestID, phone, ages, extID, notes, voucher sql.NullString
		discount, deposit, balance                       sql.NullFloat64
		balanceDue                                       sql.NullTime
	)
	if err := row.Scan(&b.ID, &ref, &b.RoomID, &b.RoomNumber, &guestID,
		&b.GuestName, &b.GuestEmail, &phone, &b.NumAdults, &b.NumChildren,
		&ages, &b.CheckIn, &b.CheckOut, &b.TotalPrice, &b.Currency,
		&b.Status, &b.Source, &extID, &notes, &voucher,
		&discount, &deposit, &balance, &balanceDue); err != nil {
		return domain.Booking{}, err
	}
	b.BookingRef = strPtr(ref)
	b.GuestID = strPtr(guestID)
	b.GuestPhone = strPtr(phone)
	b.GuestAges = strPtr(ages)
	b.ExternalID = strPtr(extID)
	b.Notes = strPtr(notes)
	b.VoucherCode = strPtr(voucher)
	b.DiscountAmount = f64Ptr(discount)
	b.DepositAmount = f64Ptr(deposit)
	b.BalanceAmount = f64Ptr(balance)
	b.BalanceDueDate = timePtr(balanceDue)
	return b, nil
}

// ---- price rules ----

func (r *Repo) ListPriceRules(ctx context.Context, from, to time.Time) ([]domain.PriceRule, error) {
	rows, err := r.db.QueryContext(ctx, listPriceRulesSQL,
		from.Format("2006-01-02"), to.Format("2006-01-02"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PriceRule
	for rows.Next() {
		var pr domain.PriceRule
		var minStay sql.NullInt64
		if err := rows.Scan(&pr.ID, &pr.RoomID, &pr.Date, &pr.Price,
			&pr.IsAvailable, &minStay); err != nil {
			return nil, err
		}
		pr.MinStay = intPtr(minStay)
		out = append(out, pr)
	}
	return out, rows.Err()
}

func (r *Repo) UpsertPriceRules(ctx context.Context, rules []domain.PriceRule) error {
	if len(rules) == 0 {
		return nil
	}
	return r.inTx(ctx, func(tx *sql.Tx) error {
		for _, pr := range rules {
			if _, err := tx.ExecContext(ctx, upsertPriceRuleSQL,
				pr.RoomID, pr.Date.Format("2006-01-02"), pr.Price,
				pr.IsAvailable, valInt(pr.MinStay)); err != nil {
				return err
			}
		}
		return nil
	})
}

// ---- vouchers ----

func (r *Repo) GetVoucherByCode(ctx context.Context, code string) (domain.VoucherCode, error) {
	v, err := scanVoucher(r.db.QueryRowContext(ctx, selectVoucherCols+"WHERE code = ?", code))
	if err == sql.ErrNoRows {
		return domain.VoucherCode{}, domain.ErrNotFound
	}
	return v, err
}

func (r *Repo) UpsertVoucher(ctx context.Context, v domain.VoucherCode) error {
	_, err := r.db.ExecContext(ctx, upsertVoucherSQL,
		v.ID, v.Code, valStr(v.Description), v.DiscountType, v.DiscountValue,
		v.Currency, valInt(v.MinNights), valF64(v.MinBookingValue),
		valInt(v.MaxUses), v.UsedCount, valDate(v.ValidFrom),
		valDate(v.ValidUntil), v.IsActive)
	return err
}

func (r *Repo) RedeemVoucher(ctx context.Context, voucherID, bookingID string, discountApplied float64) (domain.VoucherCode, error) {
	var out domain.VoucherCode
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE vouchers SET used_count = used_count + 1 WHERE id = ?", voucherID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrNotFound
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO voucher_redemptions (voucher_id, booking_id, discount_applied)
VALUES (?, ?, ?)`, voucherID, bookingID, discountApplied); err != nil {
			return err
		}
		out, err = scanVoucher(tx.QueryRowContext(ctx, selectVoucherCols+"WHERE id = ?", voucherID))
		return err
	})
	return out, err
}

func scanVoucher(row rowScanner) (domain.VoucherCode, error) {
	var v domain.VoucherCode
	var desc sql.NullString
	var minNights, maxUses sql.NullInt64
	var minValue sql.NullFloat64
	var from, until sql.NullTime
	if err := row.Scan(&v.ID, &v.Code, &desc, &v.DiscountType, &v.DiscountValue,
		&v.Currency, &minNights, &minValue, &maxUses, &v.UsedCount,
		&from, &until, &v.IsActive); err != nil {
		return domain.VoucherCode{}, err
	}
	v.Description = strPtr(desc)
	v.MinNights = intPtr(minNights)
	v.MinBookingValue = f64Ptr(minValue)
	v.MaxUses = intPtr(maxUses)
	v.ValidFrom = timePtr(from)
	v.ValidUntil = timePtr(until)
	return v, nil
}
