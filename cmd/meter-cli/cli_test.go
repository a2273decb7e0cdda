package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cptspacemanspiff/dorm-meter-monitor/internal/depletion"
	"github.com/cptspacemanspiff/dorm-meter-monitor/internal/notify"
	"github.com/cptspacemanspiff/dorm-meter-monitor/internal/report"
	"github.com/cptspacemanspiff/dorm-meter-monitor/internal/series"
)

func TestParseTimeRange(t *testing.T) {
	tests := []struct {
		label   string
		want    time.Duration
		wantErr bool
	}{
		{label: "24h", want: 24 * time.Hour},
		{label: "7D", want: 7 * 24 * time.Hour},
		{label: " 30d ", want: 30 * 24 * time.Hour},
		{label: "1y", wantErr: true},
	}
	for _, tt := range tests {
		tr, err := parseTimeRange(tt.label)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseTimeRange(%q) error = nil, want error", tt.label)
			}
			continue
		}
		if err != nil || tr.Duration != tt.want {
			t.Errorf("parseTimeRange(%q) = %v, %v, want %v", tt.label, tr.Duration, err, tt.want)
		}
	}

	now := time.Unix(100000, 0)
	from, to := timeRanges[0].window(now)
	if !to.Equal(now) || !from.Equal(now.Add(-24*time.Hour)) {
		t.Fatalf("window() = %v, %v", from, to)
	}
}

func TestWriteSeries(t *testing.T) {
	kw := -4.0
	snap := &report.Snapshot{
		MeterID: "m1",
		Energy:  []series.Point{{Ts: 0, Pt: 20}, {Ts: 900, Pt: 19}},
		Power:   []series.Point{{Ts: 900, Pt: 4}},
		Latest:  &depletion.Latest{TS: 900, KWh: 19, KW: &kw},
	}
	now := time.Unix(900, 0)
	at := float64((900 + 2*3600) * 1000)
	est := depletion.Estimate{AtMs: &at, Tier: depletion.TierSecond}

	var buf bytes.Buffer
	require.NoError(t, writeSeries(&buf, snap, est, now))
	out := buf.String()

	assert.Contains(t, out, "Meter m1")
	assert.Contains(t, out, "19.00 kWh")
	assert.Contains(t, out, "4.00 kW")
	assert.Contains(t, out, "4.000")
	assert.True(t, strings.HasSuffix(out, "02:00:00 before depletion.\n"), out)
}

func TestWriteSeries_Sparse(t *testing.T) {
	var buf bytes.Buffer
	snap := &report.Snapshot{MeterID: "m1", Energy: []series.Point{}, Power: []series.Point{}}
	require.NoError(t, writeSeries(&buf, snap, depletion.Estimate{Tier: depletion.TierNone}, time.Now()))

	out := buf.String()
	assert.Contains(t, out, "no readings")
	assert.Contains(t, out, "Not enough readings")
	assert.Contains(t, out, "No depletion expected soon.")
}

func TestWriteSubscriptions(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeSubscriptions(&buf, nil, time.Now()))
	assert.Equal(t, "No subscriptions.\n", buf.String())

	buf.Reset()
	now := time.Unix(0, 0)
	at := float64(50 * 3600 * 1000)
	views := []report.SubscriptionView{{
		Subscription: notify.Subscription{
			MeterID:     "m1",
			CanonicalID: "10-203",
			Preferences: notify.Preferences{Channel: notify.ChannelWxWork, ThresholdKWh: 5},
		},
		Depletion: depletion.Estimate{AtMs: &at, Tier: depletion.TierHour},
	}}
	require.NoError(t, writeSubscriptions(&buf, views, now))

	out := buf.String()
	assert.Contains(t, out, "10-203")
	assert.Contains(t, out, "5 kWh")
	assert.Contains(t, out, "off")
	assert.Contains(t, out, "Depletes in 2 days 2 hours.")
}

// serialWriter records whether two writes ever ran at the same time.
type serialWriter struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	busy    atomic.Bool
	overlap atomic.Bool
}

func (w *serialWriter) Write(p []byte) (int, error) {
	if !w.busy.CompareAndSwap(false, true) {
		w.overlap.Store(true)
	} else {
		defer w.busy.Store(false)
	}
	time.Sleep(100 * time.Microsecond)
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *serialWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func TestWatch(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	at := float64(time.Now().Add(time.Hour).UnixMilli())
	est := depletion.Estimate{AtMs: &at, Tier: depletion.TierSecond}
	opts := depletion.CountdownOptions{SecondInterval: time.Millisecond}

	t.Run("refresh output never interleaves with the countdown", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
		defer cancel()

		w := &serialWriter{}
		var fetches atomic.Int32
		fetch := func() (depletion.Estimate, error) {
			fetches.Add(1)
			for i := 0; i < 5; i++ {
				fmt.Fprintf(w, "header %d\n", i)
			}
			return est, nil
		}

		require.NoError(t, watch(ctx, est, fetch, 5*time.Millisecond, opts, w, logger))
		assert.False(t, w.overlap.Load(), "countdown wrote while a refresh was printing")
		assert.GreaterOrEqual(t, fetches.Load(), int32(2))
		assert.Contains(t, w.String(), "before depletion.")
		assert.Contains(t, w.String(), "header 4")
	})

	t.Run("failed refresh keeps the previous estimate", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
		defer cancel()

		w := &serialWriter{}
		var fetches atomic.Int32
		fetch := func() (depletion.Estimate, error) {
			fetches.Add(1)
			return depletion.Estimate{}, errors.New("bus gone")
		}

		require.NoError(t, watch(ctx, est, fetch, 5*time.Millisecond, opts, w, logger))
		require.GreaterOrEqual(t, fetches.Load(), int32(1))
		out := w.String()
		last := out[strings.LastIndex(out, "\r"):]
		assert.Contains(t, last, "before depletion.")
	})
}
