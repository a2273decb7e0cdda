package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cptspacemanspiff/dorm-meter-monitor/internal/depletion"
	"github.com/cptspacemanspiff/dorm-meter-monitor/internal/report"
)

const tsLayout = "2006-01-02 15:04"

func formatLatest(l *depletion.Latest) string {
	if l == nil {
		return "no readings"
	}
	rate := "rate unknown"
	if l.KW != nil {
		rate = fmt.Sprintf("%.2f kW", -*l.KW)
	}
	return fmt.Sprintf("%.2f kWh at %s, %s", l.KWh, time.Unix(l.TS, 0).Format(tsLayout), rate)
}

// countdownLine is the text shown under a series or subscription.
func countdownLine(est depletion.Estimate, now time.Time) string {
	if text := depletion.Text(est, now); text != "" {
		return text
	}
	return "No depletion expected soon."
}

func writeSeries(w io.Writer, snap *report.Snapshot, est depletion.Estimate, now time.Time) error {
	fmt.Fprintf(w, "Meter %s\n", snap.MeterID)
	fmt.Fprintf(w, "Latest: %s\n\n", formatLatest(snap.Latest))

	if len(snap.Energy) == 0 {
		fmt.Fprintln(w, "Not enough readings in range to compute a series.")
	} else {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintln(tw, "time\tenergy kWh\tpower kW\t")
		// Power[i] covers the interval ending at Energy[i+1].
		for i, e := range snap.Energy {
			power := "-"
			if i > 0 && i-1 < len(snap.Power) {
				power = fmt.Sprintf("%.3f", snap.Power[i-1].Pt)
			}
			fmt.Fprintf(tw, "%s\t%.2f\t%s\t\n", time.Unix(e.Ts, 0).Format(tsLayout), e.Pt, power)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintf(w, "\n%s\n", countdownLine(est, now))
	return nil
}

func writeSubscriptions(w io.Writer, views []report.SubscriptionView, now time.Time) error {
	if len(views) == 0 {
		_, err := fmt.Fprintln(w, "No subscriptions.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "meter\troom\tchannel\tthreshold\twithin\tlatest\tdepletion")
	for _, v := range views {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			v.MeterID,
			orDash(v.CanonicalID),
			v.Channel,
			ruleValue(v.ThresholdKWh, "kWh"),
			ruleValue(v.WithinHours, "h"),
			formatLatest(v.Latest),
			countdownLine(v.Depletion, now))
	}
	return tw.Flush()
}

func ruleValue(v float64, unit string) string {
	if v <= 0 {
		return "off"
	}
	return fmt.Sprintf("%g %s", v, unit)
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
