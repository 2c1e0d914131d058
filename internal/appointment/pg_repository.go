package appointment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgExclusionViolation = "23P01"
	pgUniqueViolation    = "23505"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type txKey struct{}

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// conn returns the transaction opened by WithScheduleLock when ctx carries one.
func (r *PgRepository) conn(ctx context.Context) queryable {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return r.pool
}

func (r *PgRepository) WithScheduleLock(ctx context.Context, keys []uuid.UUID, fn func(ctx context.Context) error) error {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		if err := lockKeys(ctx, tx, keys); err != nil {
			return err
		}
		return fn(ctx)
	}

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := lockKeys(ctx, tx, keys); err != nil {
			return err
		}
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// lockKeys takes transaction scoped advisory locks in a stable order so two
// callers locking the same pair never deadlock.
func lockKeys(ctx context.Context, tx pgx.Tx, keys []uuid.UUID) error {
	sorted := make([]string, 0, len(keys))
	seen := make(map[uuid.UUID]bool, len(keys))
	for _, k := range keys {
		if seen[k] {
			continue
		}
		seen[k] = true
		sorted = append(sorted, k.String())
	}
	sort.Strings(sorted)

	for _, k := range sorted {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, k); err != nil {
			return fmt.Errorf("advisory lock %s: %w", k, err)
		}
	}
	return nil
}

// Helpers

const appointmentCols = `id, doctor_id, patient_id, start_time, duration_minutes, status, reason, notes,
	reminder_24h_sent, reminder_1h_sent, idempotency_key, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var minutes int

	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.PatientID,
		&a.StartTime,
		&minutes,
		&a.Status,
		&a.Reason,
		&a.Notes,
		&a.Reminder24hSent,
		&a.Reminder1hSent,
		&a.IdempotencyKey,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Duration = time.Duration(minutes) * time.Minute
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanAvailability(row pgx.Row) (*DoctorAvailability, error) {
	var a DoctorAvailability
	var day int16
	var start, end pgtype.Time

	err := row.Scan(&a.ID, &a.DoctorID, &day, &start, &end, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAvailabilityNotFound
		}
		return nil, err
	}

	a.DayOfWeek = time.Weekday(day)
	a.StartTime = timeOfDayFromPg(start)
	a.EndTime = timeOfDayFromPg(end)
	return &a, nil
}

func scanUnavailability(row pgx.Row) (*DoctorUnavailability, error) {
	var u DoctorUnavailability

	err := row.Scan(&u.ID, &u.DoctorID, &u.StartTime, &u.EndTime, &u.Reason, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUnavailabilityNotFound
		}
		return nil, err
	}
	return &u, nil
}

func scanWaitlistEntry(row pgx.Row) (*WaitlistEntry, error) {
	var w WaitlistEntry

	err := row.Scan(&w.ID, &w.DoctorID, &w.PatientID, &w.Date, &w.PatientName, &w.PatientEmail, &w.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWaitlistEntryNotFound
		}
		return nil, err
	}
	return &w, nil
}

func timeOfDayToPg(t TimeOfDay) pgtype.Time {
	return pgtype.Time{Microseconds: t.Duration().Microseconds(), Valid: true}
}

func timeOfDayFromPg(t pgtype.Time) TimeOfDay {
	return TimeOfDay(time.Duration(t.Microseconds) * time.Microsecond / time.Minute)
}

func pgErrorCode(err error) (code, constraint string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName
	}
	return "", ""
}

func mapAppointmentWriteError(err error) error {
	switch code, constraint := pgErrorCode(err); {
	case code == pgExclusionViolation:
		return ErrSlotTaken
	case code == pgUniqueViolation && constraint == "ux_appointments_idempotency":
		return ErrDuplicateRequest
	}
	return err
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// Appointments

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentByIdempotencyKey(ctx context.Context, patientID uuid.UUID, key string) (*Appointment, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE patient_id = $1 AND idempotency_key = $2
	`, patientID, key)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY start_time DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE doctor_id = $1
		  AND start_time >= $2
		  AND start_time < $3
		ORDER BY start_time
	`, doctorID, from, to)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) InsertAppointment(ctx context.Context, a *Appointment) error {
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointments (id, doctor_id, patient_id, start_time, end_time, duration_minutes, status,
			reason, notes, reminder_24h_sent, reminder_1h_sent, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())
		RETURNING created_at, updated_at
	`, a.ID, a.DoctorID, a.PatientID, a.StartTime, a.EndTime(), int(a.Duration/time.Minute), a.Status,
		a.Reason, a.Notes, a.Reminder24hSent, a.Reminder1hSent, a.IdempotencyKey)

	if err := row.Scan(&a.CreatedAt, &a.UpdatedAt); err != nil {
		return mapAppointmentWriteError(err)
	}
	return nil
}

func (r *PgRepository) UpdateAppointment(ctx context.Context, a *Appointment, from AppointmentStatus) error {
	row := r.conn(ctx).QueryRow(ctx, `
		UPDATE appointments
		SET start_time = $3,
		    end_time = $4,
		    duration_minutes = $5,
		    status = $6,
		    notes = $7,
		    reminder_24h_sent = $8,
		    reminder_1h_sent = $9,
		    updated_at = now()
		WHERE id = $1
		  AND status = $2
		RETURNING updated_at
	`, a.ID, from, a.StartTime, a.EndTime(), int(a.Duration/time.Minute), a.Status, a.Notes,
		a.Reminder24hSent, a.Reminder1hSent)

	if err := row.Scan(&a.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: appointment %s is no longer %s", ErrInvalidStateTransition, a.ID, from)
		}
		return mapAppointmentWriteError(err)
	}
	return nil
}

func (r *PgRepository) HasConflict(ctx context.Context, doctorID uuid.UUID, start, end time.Time, exclude *uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM appointments
			WHERE doctor_id = $1
			  AND status = 'SCHEDULED'
			  AND start_time < $3
			  AND end_time > $2
			  AND ($4::uuid IS NULL OR id <> $4::uuid)
		)
	`, doctorID, start, end, exclude).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check conflict: %w", err)
	}
	return exists, nil
}

func (r *PgRepository) CountPatientAppointments(ctx context.Context, patientID uuid.UUID, from, to time.Time, exclude *uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*)
		FROM appointments
		WHERE patient_id = $1
		  AND status IN ('SCHEDULED', 'COMPLETED')
		  AND start_time >= $2
		  AND start_time < $3
		  AND ($4::uuid IS NULL OR id <> $4::uuid)
	`, patientID, from, to, exclude).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count patient appointments: %w", err)
	}
	return n, nil
}

// Availability

func (r *PgRepository) ListAvailability(ctx context.Context, doctorID uuid.UUID) ([]DoctorAvailability, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, doctor_id, day_of_week, start_time, end_time, created_at
		FROM doctor_availability
		WHERE doctor_id = $1
		ORDER BY day_of_week, start_time
	`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []DoctorAvailability
	for rows.Next() {
		a, err := scanAvailability(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func (r *PgRepository) GetAvailability(ctx context.Context, id uuid.UUID) (*DoctorAvailability, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT id, doctor_id, day_of_week, start_time, end_time, created_at
		FROM doctor_availability
		WHERE id = $1
	`, id)
	return scanAvailability(row)
}

func (r *PgRepository) InsertAvailability(ctx context.Context, a *DoctorAvailability) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO doctor_availability (id, doctor_id, day_of_week, start_time, end_time, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING created_at
	`, a.ID, a.DoctorID, int16(a.DayOfWeek), timeOfDayToPg(a.StartTime), timeOfDayToPg(a.EndTime)).Scan(&a.CreatedAt)
}

func (r *PgRepository) DeleteAvailability(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM doctor_availability WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAvailabilityNotFound
	}
	return nil
}

func (r *PgRepository) ListUnavailability(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]DoctorUnavailability, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, doctor_id, start_time, end_time, reason, created_at
		FROM doctor_unavailability
		WHERE doctor_id = $1
		  AND start_time < $3
		  AND end_time > $2
		ORDER BY start_time
	`, doctorID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []DoctorUnavailability
	for rows.Next() {
		u, err := scanUnavailability(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *u)
	}
	return result, rows.Err()
}

func (r *PgRepository) GetUnavailability(ctx context.Context, id uuid.UUID) (*DoctorUnavailability, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT id, doctor_id, start_time, end_time, reason, created_at
		FROM doctor_unavailability
		WHERE id = $1
	`, id)
	return scanUnavailability(row)
}

func (r *PgRepository) InsertUnavailability(ctx context.Context, u *DoctorUnavailability) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO doctor_unavailability (id, doctor_id, start_time, end_time, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING created_at
	`, u.ID, u.DoctorID, u.StartTime, u.EndTime, u.Reason).Scan(&u.CreatedAt)
}

func (r *PgRepository) DeleteUnavailability(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM doctor_unavailability WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUnavailabilityNotFound
	}
	return nil
}

// Waitlist

const waitlistCols = `id, doctor_id, patient_id, date, patient_name, patient_email, created_at`

func (r *PgRepository) InsertWaitlistEntry(ctx context.Context, w *WaitlistEntry) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO waitlist_entries (id, doctor_id, patient_id, date, patient_name, patient_email, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, now()))
		RETURNING created_at
	`, w.ID, w.DoctorID, w.PatientID, pgtype.Date{Time: w.Date, Valid: true}, w.PatientName, w.PatientEmail,
		nullableTime(w.CreatedAt)).Scan(&w.CreatedAt)
	if err != nil {
		if code, _ := pgErrorCode(err); code == pgUniqueViolation {
			return ErrAlreadyWaitlisted
		}
		return err
	}
	return nil
}

func (r *PgRepository) GetWaitlistEntry(ctx context.Context, id uuid.UUID) (*WaitlistEntry, error) {
	row := r.conn(ctx).QueryRow(ctx, `SELECT `+waitlistCols+` FROM waitlist_entries WHERE id = $1`, id)
	return scanWaitlistEntry(row)
}

func (r *PgRepository) DeleteWaitlistEntry(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM waitlist_entries WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWaitlistEntryNotFound
	}
	return nil
}

func (r *PgRepository) ListWaitlist(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]WaitlistEntry, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+waitlistCols+`
		FROM waitlist_entries
		WHERE doctor_id = $1 AND date = $2
		ORDER BY created_at, id
	`, doctorID, pgtype.Date{Time: date, Valid: true})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []WaitlistEntry
	for rows.Next() {
		w, err := scanWaitlistEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *w)
	}
	return result, rows.Err()
}

func (r *PgRepository) PopWaitlistEntry(ctx context.Context, doctorID uuid.UUID, date time.Time) (*WaitlistEntry, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		DELETE FROM waitlist_entries
		WHERE id = (
			SELECT id
			FROM waitlist_entries
			WHERE doctor_id = $1 AND date = $2
			ORDER BY created_at, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+waitlistCols, doctorID, pgtype.Date{Time: date, Valid: true})
	return scanWaitlistEntry(row)
}

// Sweepers

func reminderFlagColumn(kind ReminderKind) string {
	if kind == Reminder1h {
		return "reminder_1h_sent"
	}
	return "reminder_24h_sent"
}

func (r *PgRepository) FindReminderCandidates(ctx context.Context, kind ReminderKind, from, to time.Time) ([]Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE status = 'SCHEDULED'
		  AND `+reminderFlagColumn(kind)+` = false
		  AND start_time >= $1
		  AND start_time <= $2
		ORDER BY start_time
	`, from, to)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ClaimReminders(ctx context.Context, kind ReminderKind, ids []uuid.UUID) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	col := reminderFlagColumn(kind)
	rows, err := r.conn(ctx).Query(ctx, `
		UPDATE appointments
		SET `+col+` = true,
		    updated_at = now()
		WHERE id = ANY($1::uuid[])
		  AND status = 'SCHEDULED'
		  AND `+col+` = false
		RETURNING id
	`, uuidStrings(ids))
	if err != nil {
		return nil, fmt.Errorf("claim %s reminders: %w", kind, err)
	}
	defer rows.Close()

	var claimed []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		claimed = append(claimed, id)
	}
	return claimed, rows.Err()
}

func (r *PgRepository) ReleaseReminder(ctx context.Context, kind ReminderKind, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointments
		SET `+reminderFlagColumn(kind)+` = false,
		    updated_at = now()
		WHERE id = $1
	`, id)
	return err
}

func (r *PgRepository) FindOverdueScheduled(ctx context.Context, cutoff time.Time, limit int) ([]Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE status = 'SCHEDULED'
		  AND start_time < $1
		ORDER BY start_time
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) SaveNoShows(ctx context.Context, appts []Appointment) ([]Appointment, error) {
	if len(appts) == 0 {
		return nil, nil
	}

	batch := &pgx.Batch{}
	for _, a := range appts {
		batch.Queue(`
			UPDATE appointments
			SET status = $2,
			    notes = $3,
			    updated_at = now()
			WHERE id = $1
			  AND status = 'SCHEDULED'
			RETURNING updated_at
		`, a.ID, a.Status, a.Notes)
	}

	results := r.conn(ctx).SendBatch(ctx, batch)
	defer results.Close()

	var saved []Appointment
	for _, a := range appts {
		err := results.QueryRow().Scan(&a.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return saved, fmt.Errorf("save no-show %s: %w", a.ID, err)
		}
		saved = append(saved, a)
	}

	return saved, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
