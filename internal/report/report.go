// Package report assembles what the series and subscription views show for
// a meter: the computed energy/power curves, the latest reading with its
// current rate, and the depletion estimate derived from them.
package report

import (
	"fmt"
	"time"

	"github.com/cptspacemanspiff/dorm-meter-monitor/internal/depletion"
	"github.com/cptspacemanspiff/dorm-meter-monitor/internal/notify"
	"github.com/cptspacemanspiff/dorm-meter-monitor/internal/series"
)

// ReadingSource returns a meter's raw readings in ascending ts order,
// newest limit rows of the range when limit is positive.
type ReadingSource interface {
	ReadingsInRange(meterID string, from, to int64, limit int) ([]series.Point, error)
}

// Builder computes snapshots from stored readings.
type Builder struct {
	Source    ReadingSource
	Pipeline  series.Pipeline
	Projector depletion.Projector
	Limit     int
	Now       func() time.Time
}

// Snapshot is the series view of one meter over a time range.
type Snapshot struct {
	MeterID   string             `json:"hashed_dir"`
	From      int64              `json:"from"`
	To        int64              `json:"to"`
	Energy    []series.Point     `json:"energy"`
	Power     []series.Point     `json:"power"`
	Latest    *depletion.Latest  `json:"latest"`
	Depletion depletion.Estimate `json:"depletion"`
}

func (b Builder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// Build computes the snapshot of meterID for readings in [from, to].
func (b Builder) Build(meterID string, from, to int64) (*Snapshot, error) {
	readings, err := b.Source.ReadingsInRange(meterID, from, to, b.Limit)
	if err != nil {
		return nil, fmt.Errorf("load readings for %s: %w", meterID, err)
	}

	s := b.Pipeline.Compute(readings)
	latest := LatestOf(readings, s.Power)
	snap := &Snapshot{
		MeterID:   meterID,
		From:      from,
		To:        to,
		Energy:    s.Energy,
		Power:     s.Power,
		Latest:    latest,
		Depletion: depletion.Estimate{Tier: depletion.TierNone},
	}
	if latest != nil {
		snap.Depletion = b.Projector.Project(*latest, b.now())
	}
	return snap, nil
}

// LatestOf pairs the newest raw reading with the most recent derived rate.
// KW is nil when power is empty. Returns nil when there are no readings.
func LatestOf(readings []series.Point, power []series.Point) *depletion.Latest {
	if len(readings) == 0 {
		return nil
	}
	last := readings[0]
	for _, r := range readings[1:] {
		if r.Ts >= last.Ts {
			last = r
		}
	}
	l := &depletion.Latest{TS: last.Ts, KWh: last.Pt}
	if len(power) > 0 {
		// Power is emitted negated; Latest wants the signed rate of change.
		kw := -power[len(power)-1].Pt
		l.KW = &kw
	}
	return l
}

// SubscriptionView is one row of the subscription summary.
type SubscriptionView struct {
	notify.Subscription
	Latest    *depletion.Latest  `json:"latest"`
	Depletion depletion.Estimate `json:"depletion"`
}

// Summary builds the subscription view of sub from the meter's most recent
// readings, however old they are.
func (b Builder) Summary(sub notify.Subscription) (*SubscriptionView, error) {
	snap, err := b.Build(sub.MeterID, 0, b.now().Unix())
	if err != nil {
		return nil, err
	}
	sub.Token = MaskToken(sub.Token)
	return &SubscriptionView{Subscription: sub, Latest: snap.Latest, Depletion: snap.Depletion}, nil
}

// MaskToken keeps only the last four characters of a delivery token.
func MaskToken(token string) string {
	if len(token) <= 4 {
		return token
	}
	masked := make([]byte, len(token))
	for i := range masked {
		masked[i] = '*'
	}
	copy(masked[len(token)-4:], token[len(token)-4:])
	return string(masked)
}
