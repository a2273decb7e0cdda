package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexflint/go-arg"

	"github.com/cptspacemanspiff/dorm-meter-monitor/internal/depletion"
	"github.com/cptspacemanspiff/dorm-meter-monitor/internal/notify"
)

var version = "<not set>"

type seriesCmd struct {
	Meter   string        `arg:"positional,required" help:"hashed meter id"`
	Range   string        `arg:"-r,--range" default:"24h" help:"time range: 24h, 7d or 30d"`
	Watch   bool          `arg:"-w,--watch" help:"keep refreshing and show a live depletion countdown"`
	Refresh time.Duration `arg:"--refresh" default:"1m" help:"refresh interval in watch mode"`
}

type subsCmd struct{}

type metersCmd struct{}

type subscribeCmd struct {
	Meter       string        `arg:"positional,required" help:"hashed meter id"`
	CanonicalID string        `arg:"--room" help:"human readable room id"`
	Channel     string        `arg:"--channel" help:"none, wxwork, feishu or serverchan (inferred from --token when omitted)"`
	Token       string        `arg:"--token" help:"delivery token or a pasted webhook URL"`
	Threshold   float64       `arg:"--threshold" help:"notify when the balance is at or below this many kWh (0 disables)"`
	Within      float64       `arg:"--within" help:"notify when depletion is projected within this many hours (0 disables)"`
	Cooldown    time.Duration `arg:"--cooldown" default:"24h" help:"minimum gap between notifications: 12h, 18h, 24h or 48h"`
}

type unsubscribeCmd struct {
	Meter string `arg:"positional,required" help:"hashed meter id"`
}

type notificationsCmd struct {
	Range string `arg:"-r,--range" default:"7d" help:"time range: 24h, 7d or 30d"`
}

type configCmd struct {
	Set string `arg:"--set" help:"JSON object merged over the daemon configuration"`
}

type Args struct {
	Series        *seriesCmd        `arg:"subcommand:series" help:"print the energy and power series of a meter"`
	Subs          *subsCmd          `arg:"subcommand:subs" help:"list subscriptions with their depletion estimate"`
	Meters        *metersCmd        `arg:"subcommand:meters" help:"list meters with stored readings"`
	Subscribe     *subscribeCmd     `arg:"subcommand:subscribe" help:"create or update a subscription"`
	Unsubscribe   *unsubscribeCmd   `arg:"subcommand:unsubscribe" help:"remove a subscription"`
	Notifications *notificationsCmd `arg:"subcommand:notifications" help:"list recorded notifications"`
	Config        *configCmd        `arg:"subcommand:config" help:"show or update the daemon configuration"`
	SessionBus    bool              `arg:"--session-bus" help:"talk to a daemon on the session bus"`
	Verbose       bool              `arg:"-v,--verbose" help:"log D-Bus traffic to stderr"`
}

func (Args) Version() string {
	return version
}

// subscribeRequest is the body sent to the daemon's Subscribe method.
type subscribeRequest struct {
	MeterID      string  `json:"hashed_dir"`
	CanonicalID  string  `json:"canonical_id"`
	Channel      string  `json:"notify_channel,omitempty"`
	Token        string  `json:"notify_token"`
	ThresholdKWh float64 `json:"threshold_kwh"`
	WithinHours  float64 `json:"within_hours"`
	CooldownSec  int64   `json:"cooldown_sec"`
}

func main() {
	var args Args
	p := arg.MustParse(&args)
	if p.Subcommand() == nil {
		p.Fail("missing subcommand")
	}

	level := slog.LevelWarn
	if args.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, args, os.Stdout, logger); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args Args, out io.Writer, logger *slog.Logger) error {
	client, err := newDBusClient(args.SessionBus)
	if err != nil {
		return err
	}
	defer client.Close()

	switch {
	case args.Series != nil:
		return runSeries(ctx, client, args.Series, out, logger)
	case args.Subs != nil:
		views, err := client.GetSubscriptions()
		if err != nil {
			return err
		}
		return writeSubscriptions(out, views, time.Now())
	case args.Meters != nil:
		meters, err := client.GetMeters()
		if err != nil {
			return err
		}
		for _, m := range meters {
			fmt.Fprintln(out, m)
		}
		return nil
	case args.Subscribe != nil:
		return runSubscribe(client, args.Subscribe, out)
	case args.Unsubscribe != nil:
		removed, err := client.Unsubscribe(args.Unsubscribe.Meter)
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("no subscription for meter %s", args.Unsubscribe.Meter)
		}
		fmt.Fprintf(out, "Unsubscribed %s.\n", args.Unsubscribe.Meter)
		return nil
	case args.Notifications != nil:
		tr, err := parseTimeRange(args.Notifications.Range)
		if err != nil {
			return err
		}
		from, to := tr.window(time.Now())
		logged, err := client.GetNotifications(from, to)
		if err != nil {
			return err
		}
		for _, n := range logged {
			fmt.Fprintf(out, "%s  %-12s %-11s %s\n", time.Unix(n.Ts, 0).Format(tsLayout), n.MeterID, n.Reason, n.Message)
		}
		return nil
	case args.Config != nil:
		return runConfig(client, args.Config, out)
	}
	return errors.New("missing subcommand")
}

func runSubscribe(client *dbusClient, cmd *subscribeCmd, out io.Writer) error {
	req := subscribeRequest{
		MeterID:      cmd.Meter,
		CanonicalID:  cmd.CanonicalID,
		Channel:      cmd.Channel,
		Token:        cmd.Token,
		ThresholdKWh: cmd.Threshold,
		WithinHours:  cmd.Within,
		CooldownSec:  int64(cmd.Cooldown / time.Second),
	}
	if req.Channel == "" && req.Token == "" {
		req.Channel = string(notify.ChannelNone)
	}
	// Fail fast on obviously bad input; the daemon validates again.
	prefs := notify.Preferences{
		Channel:      notify.Channel(req.Channel),
		Token:        req.Token,
		ThresholdKWh: req.ThresholdKWh,
		WithinHours:  req.WithinHours,
		CooldownSec:  req.CooldownSec,
	}
	if ch, token, ok := notify.ParseToken(req.Token); ok {
		if prefs.Channel == "" {
			prefs.Channel = ch
		}
		prefs.Token = token
	}
	if err := prefs.Validate(); err != nil {
		return err
	}

	view, err := client.Subscribe(req)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Subscribed %s via %s.\n", view.MeterID, view.Channel)
	fmt.Fprintln(out, countdownLine(view.Depletion, time.Now()))
	return nil
}

func runConfig(client *dbusClient, cmd *configCmd, out io.Writer) error {
	var (
		cfg any
		err error
	)
	if cmd.Set != "" {
		if !json.Valid([]byte(cmd.Set)) {
			return errors.New("--set must be a JSON object")
		}
		cfg, err = client.UpdateConfig(cmd.Set)
	} else {
		cfg, err = client.GetConfig()
	}
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}

func runSeries(ctx context.Context, client *dbusClient, cmd *seriesCmd, out io.Writer, logger *slog.Logger) error {
	tr, err := parseTimeRange(cmd.Range)
	if err != nil {
		return err
	}
	cfg, err := client.GetConfig()
	if err != nil {
		return err
	}
	projector := cfg.Projector()

	fetch := func() (depletion.Estimate, error) {
		now := time.Now()
		from, to := tr.window(now)
		snap, err := client.GetSeries(cmd.Meter, from, to)
		if err != nil {
			return depletion.Estimate{}, err
		}
		est := depletion.Estimate{Tier: depletion.TierNone}
		if snap.Latest != nil {
			est = projector.Project(*snap.Latest, now)
		}
		if !cmd.Watch {
			return est, writeSeries(out, snap, est, now)
		}
		fmt.Fprintf(out, "\n%s  %s\n", cmd.Meter, formatLatest(snap.Latest))
		return est, nil
	}

	est, err := fetch()
	if err != nil || !cmd.Watch {
		return err
	}

	refresh := cmd.Refresh
	if refresh <= 0 {
		refresh = time.Minute
	}
	return watch(ctx, est, fetch, refresh, depletion.CountdownOptions{}, out, logger)
}

// watch keeps a countdown line running under the last fetched header and
// refetches every refresh. The countdown is stopped before each fetch so
// only one of them writes to out at a time. A failed fetch keeps the
// previous estimate.
func watch(ctx context.Context, est depletion.Estimate, fetch func() (depletion.Estimate, error),
	refresh time.Duration, opts depletion.CountdownOptions, out io.Writer, logger *slog.Logger) error {
	opts.OnTick = func(text string) {
		if text == "" {
			text = "No depletion expected soon."
		}
		fmt.Fprintf(out, "\r\033[K%s", text)
	}

	countdown := depletion.StartCountdown(ctx, est, opts)
	ticker := time.NewTicker(refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			countdown.Stop()
			fmt.Fprintln(out)
			return nil
		case <-ticker.C:
			countdown.Stop()
			if next, err := fetch(); err != nil {
				logger.Warn("refresh failed", "err", err)
			} else {
				est = next
			}
			countdown = depletion.StartCountdown(ctx, est, opts)
		}
	}
}
