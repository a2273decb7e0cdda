package main

import (
	"fmt"
	"strings"
	"time"
)

type timeRange struct {
	Label    string
	Duration time.Duration
}

var timeRanges = []timeRange{
	{"24h", 24 * time.Hour},
	{"7d", 7 * 24 * time.Hour},
	{"30d", 30 * 24 * time.Hour},
}

func parseTimeRange(label string) (timeRange, error) {
	for _, tr := range timeRanges {
		if strings.EqualFold(tr.Label, strings.TrimSpace(label)) {
			return tr, nil
		}
	}
	labels := make([]string, len(timeRanges))
	for i, tr := range timeRanges {
		labels[i] = tr.Label
	}
	return timeRange{}, fmt.Errorf("unknown range %q, want one of %s", label, strings.Join(labels, ", "))
}

// window returns the [from, to] interval ending at now.
func (tr timeRange) window(now time.Time) (time.Time, time.Time) {
	return now.Add(-tr.Duration), now
}
