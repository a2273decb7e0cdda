package notify

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cptspacemanspiff/dorm-meter-monitor/internal/depletion"
)

// Channel is a notification delivery channel.
type Channel string

const (
	ChannelNone       Channel = "none"
	ChannelWxWork     Channel = "wxwork"
	ChannelFeishu     Channel = "feishu"
	ChannelServerChan Channel = "serverchan"
)

// Cooldowns are the accepted minimum gaps between two notifications, in seconds.
var Cooldowns = []int64{43200, 64800, 86400, 172800}

// DefaultCooldownSec is used for new subscriptions.
const DefaultCooldownSec int64 = 86400

var (
	serverChanToken = regexp.MustCompile(`^SCT[0-9A-Za-z]+$`)
	wxworkURL       = regexp.MustCompile(`(?i)qyapi\.weixin\.qq\.com/cgi-bin/webhook/send\?key=([0-9a-z\-]+)`)
	feishuURL       = regexp.MustCompile(`(?i)open\.feishu\.cn/open-apis/bot/v2/hook/([0-9a-f\-]+)`)
	serverChanURL   = regexp.MustCompile(`(?i)sctapi\.ftqq\.com/(SCT[0-9A-Za-z]+)\.send`)
)

// Preferences are a subscription's notification settings. A zero
// ThresholdKWh or WithinHours disables that rule.
type Preferences struct {
	Channel      Channel `json:"notify_channel"`
	Token        string  `json:"notify_token"`
	ThresholdKWh float64 `json:"threshold_kwh"`
	WithinHours  float64 `json:"within_hours"`
	CooldownSec  int64   `json:"cooldown_sec"`
}

// DefaultPreferences has notifications off.
func DefaultPreferences() Preferences {
	return Preferences{Channel: ChannelNone, CooldownSec: DefaultCooldownSec}
}

// Subscription ties a meter to its owner's notification preferences.
type Subscription struct {
	MeterID      string `json:"hashed_dir"`
	CanonicalID  string `json:"canonical_id"`
	LastNotified int64  `json:"last_notified"`
	Preferences
}

// Validate reports the first problem with p, if any.
func (p Preferences) Validate() error {
	switch p.Channel {
	case ChannelNone:
	case ChannelWxWork, ChannelFeishu, ChannelServerChan:
		if strings.TrimSpace(p.Token) == "" {
			return fmt.Errorf("notify_token is required for channel %q", p.Channel)
		}
		if !validToken(p.Channel, p.Token) {
			return fmt.Errorf("notify_token is not a valid %s token", p.Channel)
		}
	default:
		return fmt.Errorf("unknown notify_channel %q", p.Channel)
	}

	if err := nonNegative("threshold_kwh", p.ThresholdKWh); err != nil {
		return err
	}
	if err := nonNegative("within_hours", p.WithinHours); err != nil {
		return err
	}
	for _, c := range Cooldowns {
		if p.CooldownSec == c {
			return nil
		}
	}
	return fmt.Errorf("cooldown_sec must be one of %v, got %d", Cooldowns, p.CooldownSec)
}

func nonNegative(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return fmt.Errorf("%s must be a non-negative number, got %v", name, v)
	}
	return nil
}

func validToken(ch Channel, token string) bool {
	switch ch {
	case ChannelServerChan:
		return serverChanToken.MatchString(token)
	case ChannelWxWork, ChannelFeishu:
		return isCanonicalUUID(token)
	}
	return false
}

// isCanonicalUUID accepts only the 8-4-4-4-12 hyphenated form; uuid.Parse
// alone also takes urn: and braced variants.
func isCanonicalUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// ParseToken recognises a pasted webhook URL, ServerChan send URL, bare
// ServerChan token or bare UUID and returns the channel and token it
// implies. A bare UUID is assumed to be a WeCom key.
func ParseToken(input string) (Channel, string, bool) {
	value := strings.TrimSpace(input)
	if m := wxworkURL.FindStringSubmatch(value); m != nil {
		return ChannelWxWork, m[1], true
	}
	if m := feishuURL.FindStringSubmatch(value); m != nil {
		return ChannelFeishu, m[1], true
	}
	if m := serverChanURL.FindStringSubmatch(value); m != nil {
		return ChannelServerChan, m[1], true
	}
	if serverChanToken.MatchString(value) {
		return ChannelServerChan, value, true
	}
	if isCanonicalUUID(value) {
		return ChannelWxWork, value, true
	}
	return "", value, false
}

// Reason says which rule fired.
type Reason string

const (
	ReasonLowBalance Reason = "low_balance"
	ReasonDepletion  Reason = "depletion"
)

// Decision is the outcome of Evaluate.
type Decision struct {
	Notify      bool
	Reason      Reason
	HoursToZero float64
}

// Evaluate decides whether sub should be notified about latest at now. The
// low-balance rule wins over the depletion rule when both fire.
func Evaluate(sub Subscription, latest depletion.Latest, now time.Time) Decision {
	if sub.Channel == ChannelNone || sub.Channel == "" {
		return Decision{}
	}
	if inCooldown(sub, now) {
		return Decision{}
	}

	hours, discharging := depletion.HoursToZero(latest)
	if sub.ThresholdKWh > 0 && latest.KWh <= sub.ThresholdKWh {
		return Decision{Notify: true, Reason: ReasonLowBalance, HoursToZero: hours}
	}
	if sub.WithinHours > 0 && discharging {
		// Count from now, not from the reading, so stale readings still
		// project forward correctly.
		remaining := hours - now.Sub(time.Unix(latest.TS, 0)).Hours()
		if remaining > 0 && remaining <= sub.WithinHours {
			return Decision{Notify: true, Reason: ReasonDepletion, HoursToZero: remaining}
		}
	}
	return Decision{}
}

func inCooldown(sub Subscription, now time.Time) bool {
	if sub.LastNotified == 0 {
		return false
	}
	next := time.Unix(sub.LastNotified, 0).Add(time.Duration(sub.CooldownSec) * time.Second)
	return now.Before(next)
}

// Message is the human-readable notification body for d.
func Message(sub Subscription, latest depletion.Latest, d Decision) string {
	switch d.Reason {
	case ReasonLowBalance:
		return fmt.Sprintf("%s: balance %.2f kWh is at or below %.2f kWh. Please recharge in time.",
			sub.CanonicalID, latest.KWh, sub.ThresholdKWh)
	case ReasonDepletion:
		left := time.Duration(d.HoursToZero * float64(time.Hour))
		return fmt.Sprintf("%s: projected to run out in %s. Please recharge in time.",
			sub.CanonicalID, depletion.FormatHMS(left))
	}
	return ""
}
