package storage

import (
	"fmt"
	"testing"

	"github.com/cptspacemanspiff/dorm-meter-monitor/internal/notify"
	"github.com/cptspacemanspiff/dorm-meter-monitor/internal/series"
)

func countRows(t *testing.T, db *DB, table string) int {
	t.Helper()

	var n int
	row := db.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table))
	if err := row.Scan(&n); err != nil {
		t.Fatalf("count rows in %s: %v", table, err)
	}
	return n
}

func TestDeleteOlderThan(t *testing.T) {
	db := openTestDB(t)

	const (
		oldTs    int64 = 50
		cutoffTs int64 = 100
		newTs    int64 = 150
	)

	// meter_readings
	var pts []series.Point
	for _, ts := range []int64{oldTs, cutoffTs, newTs} {
		pts = append(pts, series.Point{Ts: ts, Pt: 10})
	}
	if _, err := db.InsertReadings("m1", pts); err != nil {
		t.Fatalf("InsertReadings(): %v", err)
	}

	// notification_log
	if err := db.UpsertSubscription(notify.Subscription{MeterID: "m1", Preferences: notify.DefaultPreferences()}); err != nil {
		t.Fatalf("UpsertSubscription(): %v", err)
	}
	for _, ts := range []int64{oldTs, cutoffTs, newTs} {
		if err := db.MarkNotified("m1", ts, notify.ReasonDepletion, "soon"); err != nil {
			t.Fatalf("MarkNotified(ts=%d): %v", ts, err)
		}
	}

	deleted, err := db.DeleteOlderThan(cutoffTs)
	if err != nil {
		t.Fatalf("DeleteOlderThan() error = %v", err)
	}
	if deleted != 2 {
		t.Fatalf("DeleteOlderThan() deleted = %d, want 2 (one old row per table)", deleted)
	}

	for _, table := range []string{"meter_readings", "notification_log"} {
		if got := countRows(t, db, table); got != 2 {
			t.Fatalf("%s row count after cleanup = %d, want 2 (cutoff+new)", table, got)
		}
	}
	if got := countRows(t, db, "subscriptions"); got != 1 {
		t.Fatalf("subscriptions row count after cleanup = %d, want 1", got)
	}
}
