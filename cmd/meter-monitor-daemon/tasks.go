package main

import (
	"log/slog"
	"time"

	"github.com/cptspacemanspiff/dorm-meter-monitor/internal/ingest"
	"github.com/cptspacemanspiff/dorm-meter-monitor/internal/notify"
	"github.com/cptspacemanspiff/dorm-meter-monitor/internal/report"
	"github.com/cptspacemanspiff/dorm-meter-monitor/internal/storage"
)

// importSpool moves readings from the fetcher's spool into the database.
// A meter whose batch fails to store is put back on the spool for the next
// run. Returns the number of rows written.
func importSpool(store *storage.DB, spoolPath string, now time.Time, logger *slog.Logger) int {
	readings := ingest.ReadAndConsumeSpool(logger, now, spoolPath)
	if len(readings) == 0 {
		logger.Debug("no new readings in spool")
		return 0
	}
	grouped := ingest.ByMeter(readings)
	total := 0
	var failed []ingest.Reading
	for _, id := range ingest.MeterIDs(grouped) {
		n, err := store.InsertReadings(id, grouped[id])
		if err != nil {
			logger.Error("store readings", "meter_id", id, "err", err)
			for _, p := range grouped[id] {
				failed = append(failed, ingest.Reading{MeterID: id, Ts: p.Ts, KWh: p.Pt})
			}
			continue
		}
		total += n
		logger.Info("imported readings", "meter_id", id, "count", n)
	}
	if len(failed) > 0 {
		if err := ingest.Requeue(spoolPath, failed); err != nil {
			logger.Error("requeue readings", "count", len(failed), "err", err)
		} else {
			logger.Warn("requeued readings", "count", len(failed))
		}
	}
	return total
}

// runCleanup drops readings and logged notifications older than the
// retention window.
func runCleanup(store *storage.DB, retentionDays int, now time.Time, logger *slog.Logger) {
	cutoff := now.Add(-time.Duration(retentionDays) * 24 * time.Hour).Unix()
	deleted, err := store.DeleteOlderThan(cutoff)
	if err != nil {
		logger.Error("cleanup", "err", err)
		return
	}
	logger.Info("cleanup done", "deleted", deleted, "cutoff", cutoff)
}

// evaluateNotifications checks every active subscription against its
// meter's latest state and records the notifications that are due.
// Delivery is left to whoever consumes the notification log.
func evaluateNotifications(store *storage.DB, b report.Builder, now time.Time, logger *slog.Logger) int {
	subs, err := store.Subscriptions()
	if err != nil {
		logger.Error("load subscriptions", "err", err)
		return 0
	}
	due := 0
	for _, sub := range subs {
		if sub.Channel == notify.ChannelNone {
			continue
		}
		snap, err := b.Build(sub.MeterID, 0, now.Unix())
		if err != nil {
			logger.Error("build snapshot", "meter_id", sub.MeterID, "err", err)
			continue
		}
		if snap.Latest == nil {
			logger.Debug("no readings yet", "meter_id", sub.MeterID)
			continue
		}
		d := notify.Evaluate(sub, *snap.Latest, now)
		if !d.Notify {
			continue
		}
		msg := notify.Message(sub, *snap.Latest, d)
		if err := store.MarkNotified(sub.MeterID, now.Unix(), d.Reason, msg); err != nil {
			logger.Error("record notification", "meter_id", sub.MeterID, "err", err)
			continue
		}
		due++
		logger.Info("notification due",
			"meter_id", sub.MeterID,
			"channel", sub.Channel,
			"reason", d.Reason,
			"message", msg)
	}
	return due
}
