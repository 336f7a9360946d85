package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/banshee-data/trackwatch/internal/tracking"
)

// Store implements tracking.Store on SQLite. Times are stored as unix
// seconds, which is exactly the engine's canonical resolution.
type Store struct {
	db *DB
}

var _ tracking.Store = (*Store)(nil)

// NewStore wraps a migrated database.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// InsertSighting creates the device if absent and inserts the sighting in
// one transaction, so no reader can see a device without its first
// sighting.
func (s *Store) InsertSighting(ctx context.Context, in tracking.Sighting) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			log.Printf("warning: failed to rollback transaction: %v", err)
		}
	}()

	var dup int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sightings WHERE id = ?`, in.ID).Scan(&dup)
	if err != nil {
		return fmt.Errorf("failed to check sighting id: %w", err)
	}
	if dup > 0 {
		return fmt.Errorf("%w: duplicate sighting id %q", tracking.ErrMalformedSighting, in.ID)
	}

	typ := string(in.Type)
	if typ == "" {
		typ = string(tracking.DeviceTypeUnknown)
	}
	ts := in.Timestamp.Unix()
	rssi := nullInt(in.RSSI)

	// LastSeen and LastRSSI only advance on a sighting at least as new as
	// the current LastSeen; an UNKNOWN type is upgraded once a real one
	// is reported.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO devices (address, device_type, first_seen_unix, last_seen_unix, last_rssi)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (address) DO UPDATE SET
			device_type = CASE
				WHEN devices.device_type = 'UNKNOWN' THEN excluded.device_type
				ELSE devices.device_type END,
			first_seen_unix = MIN(devices.first_seen_unix, excluded.first_seen_unix),
			last_rssi = CASE
				WHEN excluded.last_seen_unix >= devices.last_seen_unix AND excluded.last_rssi IS NOT NULL
				THEN excluded.last_rssi ELSE devices.last_rssi END,
			last_seen_unix = MAX(devices.last_seen_unix, excluded.last_seen_unix)
	`, in.Address, typ, ts, ts, rssi)
	if err != nil {
		return fmt.Errorf("failed to upsert device: %w", err)
	}

	var lat, lon, acc sql.NullFloat64
	if in.Location != nil {
		lat = sql.NullFloat64{Float64: in.Location.Latitude, Valid: true}
		lon = sql.NullFloat64{Float64: in.Location.Longitude, Valid: true}
		acc = sql.NullFloat64{Float64: in.Location.Accuracy, Valid: true}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sightings (id, address, seen_unix, latitude, longitude, accuracy_m, rssi)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, in.ID, in.Address, ts, lat, lon, acc, rssi)
	if err != nil {
		return fmt.Errorf("failed to insert sighting: %w", err)
	}
	return tx.Commit()
}

const deviceColumns = `address, device_type, ignored, first_seen_unix, last_seen_unix,
	last_rssi, risk_level, risk_computed_unix`

type rowScanner interface {
	Scan(dest ...any) error
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func scanDevice(row rowScanner) (tracking.Device, error) {
	var (
		d          tracking.Device
		typ        string
		first      int64
		last       int64
		rssi       sql.NullInt64
		level      int
		computedAt sql.NullInt64
	)
	if err := row.Scan(&d.Address, &typ, &d.Ignored, &first, &last, &rssi, &level, &computedAt); err != nil {
		return tracking.Device{}, err
	}
	d.Type = tracking.DeviceType(typ)
	d.FirstSeen = time.Unix(first, 0).UTC()
	d.LastSeen = time.Unix(last, 0).UTC()
	if rssi.Valid {
		v := int(rssi.Int64)
		d.LastRSSI = &v
	}
	d.RiskLevel = tracking.RiskLevel(level)
	if computedAt.Valid {
		at := time.Unix(computedAt.Int64, 0).UTC()
		d.RiskComputedAt = &at
	}
	return d, nil
}

func (s *Store) Device(ctx context.Context, address string) (tracking.Device, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE address = ?`, address)
	d, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return tracking.Device{}, fmt.Errorf("%w: %q", tracking.ErrUnknownDevice, address)
	}
	return d, err
}

func (s *Store) queryDevices(ctx context.Context, where string, args ...any) ([]tracking.Device, error) {
	q := `SELECT ` + deviceColumns + ` FROM devices`
	if where != "" {
		q += ` WHERE ` + where
	}
	rows, err := s.db.QueryContext(ctx, q+` ORDER BY address`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []tracking.Device{}
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) Devices(ctx context.Context) ([]tracking.Device, error) {
	return s.queryDevices(ctx, "")
}

func (s *Store) DevicesSeenSince(ctx context.Context, since time.Time) ([]tracking.Device, error) {
	return s.queryDevices(ctx, "last_seen_unix >= ?", since.Unix())
}

func (s *Store) IgnoredDevices(ctx context.Context) ([]tracking.Device, error) {
	return s.queryDevices(ctx, "ignored = 1")
}

// updateDevice runs an UPDATE that must touch exactly one device row.
func (s *Store) updateDevice(ctx context.Context, address, set string, args ...any) error {
	res, err := s.db.ExecContext(ctx, `UPDATE devices SET `+set+` WHERE address = ?`, append(args, address)...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", tracking.ErrUnknownDevice, address)
	}
	return nil
}

func (s *Store) SetIgnored(ctx context.Context, address string, ignored bool) error {
	return s.updateDevice(ctx, address, "ignored = ?", ignored)
}

func (s *Store) SetCachedRisk(ctx context.Context, address string, level tracking.RiskLevel, at time.Time) error {
	return s.updateDevice(ctx, address, "risk_level = ?, risk_computed_unix = ?", int(level), at.Unix())
}

func (s *Store) querySightings(ctx context.Context, where string, args ...any) ([]tracking.Sighting, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, address, seen_unix, latitude, longitude, accuracy_m, rssi
		FROM sightings
		WHERE `+where+`
		ORDER BY seen_unix, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []tracking.Sighting
	for rows.Next() {
		var (
			sg            tracking.Sighting
			seen          int64
			lat, lon, acc sql.NullFloat64
			rssi          sql.NullInt64
		)
		if err := rows.Scan(&sg.ID, &sg.Address, &seen, &lat, &lon, &acc, &rssi); err != nil {
			return nil, err
		}
		sg.Timestamp = time.Unix(seen, 0).UTC()
		if lat.Valid && lon.Valid {
			sg.Location = &tracking.Location{Latitude: lat.Float64, Longitude: lon.Float64, Accuracy: acc.Float64}
		}
		if rssi.Valid {
			v := int(rssi.Int64)
			sg.RSSI = &v
		}
		out = append(out, sg)
	}
	return out, rows.Err()
}

// knownDevice returns ErrUnknownDevice for an address with no device row.
func (s *Store) knownDevice(ctx context.Context, address string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM devices WHERE address = ?`, address).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %q", tracking.ErrUnknownDevice, address)
	}
	return err
}

func (s *Store) SightingsSince(ctx context.Context, since time.Time) ([]tracking.Sighting, error) {
	return s.querySightings(ctx, "seen_unix >= ?", since.Unix())
}

func (s *Store) DeviceSightingsSince(ctx context.Context, address string, since time.Time) ([]tracking.Sighting, error) {
	if err := s.knownDevice(ctx, address); err != nil {
		return nil, err
	}
	return s.querySightings(ctx, "address = ? AND seen_unix >= ?", address, since.Unix())
}

func (s *Store) DeviceSightingsSinceWithAccuracyLimit(ctx context.Context, address string, since time.Time, maxAccuracy float64) ([]tracking.Sighting, error) {
	if err := s.knownDevice(ctx, address); err != nil {
		return nil, err
	}
	return s.querySightings(ctx, strings.Join([]string{
		"address = ?",
		"seen_unix >= ?",
		"latitude IS NOT NULL",
		"longitude IS NOT NULL",
		"accuracy_m <= ?",
	}, " AND "), address, since.Unix(), maxAccuracy)
}

func (s *Store) CountSince(ctx context.Context, address string, since time.Time) (int, error) {
	if err := s.knownDevice(ctx, address); err != nil {
		return 0, err
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sightings WHERE address = ? AND seen_unix >= ?`,
		address, since.Unix()).Scan(&n)
	return n, err
}
