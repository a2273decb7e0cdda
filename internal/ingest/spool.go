package ingest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/cptspacemanspiff/dorm-meter-monitor/internal/series"
)

// MaxClockSkew is how far past now a reading timestamp may lie before the
// line is rejected.
const MaxClockSkew = 24 * time.Hour

// ReadAndConsumeSpool atomically takes the spool file written by the
// reading fetcher and returns the valid readings in it. The fetcher starts
// a fresh file on its next append. A missing spool is not an error.
// Readings stamped before the epoch or more than MaxClockSkew after now are
// skipped.
func ReadAndConsumeSpool(logger *slog.Logger, now time.Time, spoolPath string) []Reading {
	maxTs := now.Add(MaxClockSkew).Unix()

	processingPath := spoolPath + ".processing"

	if err := os.Rename(spoolPath, processingPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		logger.Error("rename failed", "err", err)
		return nil
	}

	f, err := os.Open(processingPath)
	if err != nil {
		logger.Error("open processing file", "err", err)
		return nil
	}
	defer f.Close()
	defer os.Remove(processingPath)

	var readings []Reading
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(strings.TrimSpace(string(raw))) == 0 {
			continue
		}
		var r Reading
		if err := json.Unmarshal(raw, &r); err != nil {
			logger.Warn("skip malformed line", "line", line, "err", err)
			continue
		}
		r.MeterID = strings.TrimSpace(r.MeterID)
		if r.MeterID == "" {
			logger.Warn("skip line without meter_id", "line", line)
			continue
		}
		if math.IsNaN(r.KWh) || math.IsInf(r.KWh, 0) {
			logger.Warn("skip non-finite reading", "line", line, "meter_id", r.MeterID)
			continue
		}
		if r.Ts < 0 || r.Ts > maxTs {
			logger.Warn("skip out-of-range timestamp", "line", line, "meter_id", r.MeterID, "ts", r.Ts)
			continue
		}
		readings = append(readings, r)
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("spool read stopped early", "line", line, "err", err)
	}

	return readings
}

// Requeue appends readings back onto the spool so the next import retries
// them. The fetcher appends to the same file, so order within the spool is
// not preserved; the pipeline sorts by timestamp anyway.
func Requeue(spoolPath string, readings []Reading) error {
	if len(readings) == 0 {
		return nil
	}
	f, err := os.OpenFile(spoolPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open spool: %w", err)
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, r := range readings {
		if err := enc.Encode(r); err != nil {
			f.Close()
			return fmt.Errorf("encode reading: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write spool: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close spool: %w", err)
	}
	return nil
}

// ByMeter groups readings per meter, keeping spool order within a meter.
func ByMeter(readings []Reading) map[string][]series.Point {
	out := make(map[string][]series.Point)
	for _, r := range readings {
		out[r.MeterID] = append(out[r.MeterID], series.Point{Ts: r.Ts, Pt: r.KWh})
	}
	return out
}

// MeterIDs returns the keys of a ByMeter result in sorted order.
func MeterIDs(grouped map[string][]series.Point) []string {
	ids := make([]string, 0, len(grouped))
	for id := range grouped {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
