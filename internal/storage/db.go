package storage

import (
	"database/sql"
	"fmt"
	"math"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cptspacemanspiff/dorm-meter-monitor/internal/notify"
	"github.com/cptspacemanspiff/dorm-meter-monitor/internal/series"
)

const schema = `
CREATE TABLE IF NOT EXISTS meter_readings (
	meter_id TEXT NOT NULL,
	ts INTEGER NOT NULL,
	kwh REAL NOT NULL,
	PRIMARY KEY (meter_id, ts)
);
CREATE INDEX IF NOT EXISTS idx_readings_ts ON meter_readings(ts);

CREATE TABLE IF NOT EXISTS subscriptions (
	meter_id TEXT PRIMARY KEY,
	canonical_id TEXT NOT NULL DEFAULT '',
	notify_channel TEXT NOT NULL DEFAULT 'none',
	notify_token TEXT NOT NULL DEFAULT '',
	threshold_kwh REAL NOT NULL DEFAULT 0,
	within_hours REAL NOT NULL DEFAULT 0,
	cooldown_sec INTEGER NOT NULL DEFAULT 86400,
	last_notified INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS notification_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	meter_id TEXT NOT NULL,
	ts INTEGER NOT NULL,
	reason TEXT NOT NULL,
	message TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notification_ts ON notification_log(ts);
`

// DB wraps a SQLite database for meter readings and subscriptions.
type DB struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at the given path.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// InsertReadings batch-inserts readings for one meter in a single
// transaction. A reading at an existing (meter, ts) replaces the old value.
// Non-finite values are skipped. Returns the number of rows written.
func (d *DB) InsertReadings(meterID string, readings []series.Point) (int, error) {
	if len(readings) == 0 {
		return 0, nil
	}
	tx, err := d.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	stmt, err := tx.Prepare("INSERT OR REPLACE INTO meter_readings (meter_id, ts, kwh) VALUES (?, ?, ?)")
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()
	n := 0
	for _, r := range readings {
		if math.IsNaN(r.Pt) || math.IsInf(r.Pt, 0) {
			continue
		}
		if _, err := stmt.Exec(meterID, r.Ts, r.Pt); err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("insert reading ts=%d: %w", r.Ts, err)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

// ReadingsInRange returns a meter's readings with from <= ts <= to in
// ascending ts order. When limit is positive only the newest limit rows of
// the range are returned.
func (d *DB) ReadingsInRange(meterID string, from, to int64, limit int) ([]series.Point, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := d.db.Query(
		`SELECT ts, kwh FROM (
			SELECT ts, kwh FROM meter_readings WHERE meter_id = ? AND ts >= ? AND ts <= ? ORDER BY ts DESC LIMIT ?
		) ORDER BY ts`,
		meterID, from, to, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var readings []series.Point
	for rows.Next() {
		var p series.Point
		if err := rows.Scan(&p.Ts, &p.Pt); err != nil {
			return nil, err
		}
		readings = append(readings, p)
	}
	return readings, rows.Err()
}

// LatestReading returns the most recent reading of a meter, or nil if it
// has none.
func (d *DB) LatestReading(meterID string) (*series.Point, error) {
	row := d.db.QueryRow("SELECT ts, kwh FROM meter_readings WHERE meter_id = ? ORDER BY ts DESC LIMIT 1", meterID)
	var p series.Point
	err := row.Scan(&p.Ts, &p.Pt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Meters lists every meter that has at least one reading.
func (d *DB) Meters() ([]string, error) {
	rows, err := d.db.Query("SELECT DISTINCT meter_id FROM meter_readings ORDER BY meter_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpsertSubscription creates or replaces the subscription for sub.MeterID.
// The last notification time of an existing subscription is kept.
func (d *DB) UpsertSubscription(sub notify.Subscription) error {
	_, err := d.db.Exec(
		`INSERT INTO subscriptions (meter_id, canonical_id, notify_channel, notify_token, threshold_kwh, within_hours, cooldown_sec, last_notified)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(meter_id) DO UPDATE SET
			canonical_id = excluded.canonical_id,
			notify_channel = excluded.notify_channel,
			notify_token = excluded.notify_token,
			threshold_kwh = excluded.threshold_kwh,
			within_hours = excluded.within_hours,
			cooldown_sec = excluded.cooldown_sec`,
		sub.MeterID, sub.CanonicalID, string(sub.Channel), sub.Token, sub.ThresholdKWh, sub.WithinHours, sub.CooldownSec, sub.LastNotified,
	)
	return err
}

const subscriptionColumns = "meter_id, canonical_id, notify_channel, notify_token, threshold_kwh, within_hours, cooldown_sec, last_notified"

type scanner interface {
	Scan(dest ...any) error
}

func scanSubscription(s scanner) (notify.Subscription, error) {
	var sub notify.Subscription
	var channel string
	err := s.Scan(&sub.MeterID, &sub.CanonicalID, &channel, &sub.Token, &sub.ThresholdKWh, &sub.WithinHours, &sub.CooldownSec, &sub.LastNotified)
	sub.Channel = notify.Channel(channel)
	return sub, err
}

// Subscription returns the subscription for a meter, or nil if there is none.
func (d *DB) Subscription(meterID string) (*notify.Subscription, error) {
	row := d.db.QueryRow("SELECT "+subscriptionColumns+" FROM subscriptions WHERE meter_id = ?", meterID)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// Subscriptions returns all subscriptions ordered by meter id.
func (d *DB) Subscriptions() ([]notify.Subscription, error) {
	rows, err := d.db.Query("SELECT " + subscriptionColumns + " FROM subscriptions ORDER BY meter_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var subs []notify.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// DeleteSubscription removes a meter's subscription. It reports whether a
// row was removed.
func (d *DB) DeleteSubscription(meterID string) (bool, error) {
	res, err := d.db.Exec("DELETE FROM subscriptions WHERE meter_id = ?", meterID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkNotified records a sent notification: it stamps the subscription's
// last notification time and appends to the notification log.
func (d *DB) MarkNotified(meterID string, ts int64, reason notify.Reason, message string) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.Exec("UPDATE subscriptions SET last_notified = ? WHERE meter_id = ?", ts, meterID); err != nil {
		tx.Rollback()
		return fmt.Errorf("update last_notified: %w", err)
	}
	if _, err := tx.Exec(
		"INSERT INTO notification_log (meter_id, ts, reason, message) VALUES (?, ?, ?, ?)",
		meterID, ts, string(reason), message,
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("insert notification: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Notification is one entry of the notification log.
type Notification struct {
	MeterID string        `json:"hashed_dir"`
	Ts      int64         `json:"ts"`
	Reason  notify.Reason `json:"reason"`
	Message string        `json:"message"`
}

// NotificationsInRange returns logged notifications within the given time
// range, oldest first.
func (d *DB) NotificationsInRange(from, to int64) ([]Notification, error) {
	rows, err := d.db.Query(
		"SELECT meter_id, ts, reason, message FROM notification_log WHERE ts >= ? AND ts <= ? ORDER BY ts, id",
		from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Notification
	for rows.Next() {
		var n Notification
		var reason string
		if err := rows.Scan(&n.MeterID, &n.Ts, &reason, &n.Message); err != nil {
			return nil, err
		}
		n.Reason = notify.Reason(reason)
		out = append(out, n)
	}
	return out, rows.Err()
}
