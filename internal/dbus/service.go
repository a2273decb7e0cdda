package dbus

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	godbus "github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/cptspacemanspiff/dorm-meter-monitor/internal/config"
	"github.com/cptspacemanspiff/dorm-meter-monitor/internal/notify"
	"github.com/cptspacemanspiff/dorm-meter-monitor/internal/report"
	"github.com/cptspacemanspiff/dorm-meter-monitor/internal/storage"
)

const (
	BusName   = "org.dormwatch.MeterMonitor"
	ObjPath   = "/org/dormwatch/MeterMonitor"
	IfaceName = "org.dormwatch.MeterMonitor"
)

const (
	maxQueryRangeSeconds = 365 * 86400
	maxMeterIDLength     = 128
	// 9999-12-31T23:59:59Z
	maxEpoch = 253402300799
)

const introspectXML = `
<node>
  <interface name="` + IfaceName + `">
    <method name="GetMeters">
      <arg direction="out" type="s" name="json"/>
    </method>
    <method name="GetSeries">
      <arg direction="in" type="s" name="meter_id"/>
      <arg direction="in" type="x" name="from_epoch"/>
      <arg direction="in" type="x" name="to_epoch"/>
      <arg direction="out" type="s" name="json"/>
    </method>
    <method name="GetSubscriptions">
      <arg direction="out" type="s" name="json"/>
    </method>
    <method name="Subscribe">
      <arg direction="in" type="s" name="subscription_json"/>
      <arg direction="out" type="s" name="json"/>
    </method>
    <method name="Unsubscribe">
      <arg direction="in" type="s" name="meter_id"/>
      <arg direction="out" type="b" name="removed"/>
    </method>
    <method name="GetNotifications">
      <arg direction="in" type="x" name="from_epoch"/>
      <arg direction="in" type="x" name="to_epoch"/>
      <arg direction="out" type="s" name="json"/>
    </method>
    <method name="GetConfig">
      <arg direction="out" type="s" name="json"/>
    </method>
    <method name="UpdateConfig">
      <arg direction="in" type="s" name="config_json"/>
      <arg direction="out" type="s" name="json"/>
    </method>
  </interface>
` + introspect.IntrospectDataString + `
</node>`

// Service exposes the meter monitor over D-Bus.
type Service struct {
	store      *storage.DB
	configPath string
	now        func() time.Time

	mu       sync.RWMutex
	cfg      *config.Config
	onConfig func(*config.Config)
}

// NewService creates a new D-Bus service. configPath is where UpdateConfig
// persists changes; an empty path keeps them in memory only.
func NewService(store *storage.DB, cfg *config.Config, configPath string) *Service {
	return &Service{store: store, cfg: cfg, configPath: configPath, now: time.Now}
}

// OnConfigChange registers fn to be called after a successful UpdateConfig.
func (s *Service) OnConfigChange(fn func(*config.Config)) {
	s.mu.Lock()
	s.onConfig = fn
	s.mu.Unlock()
}

// Config returns the configuration currently in effect.
func (s *Service) Config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Builder returns a snapshot builder for the configuration in effect.
func (s *Service) Builder() report.Builder {
	cfg := s.Config()
	return report.Builder{
		Source:    s.store,
		Pipeline:  cfg.SeriesPipeline(),
		Projector: cfg.Projector(),
		Limit:     cfg.Pipeline.QueryLimit,
		Now:       s.now,
	}
}

// Export registers the service on the system bus, or on the session bus
// when session is true.
func (s *Service) Export(session bool) (*godbus.Conn, error) {
	var (
		conn *godbus.Conn
		err  error
	)
	if session {
		conn, err = godbus.SessionBus()
	} else {
		conn, err = godbus.SystemBus()
	}
	if err != nil {
		return nil, fmt.Errorf("connect bus: %w", err)
	}

	if err := s.claim(conn); err != nil {
		return nil, err
	}
	return conn, nil
}

// busConn is the part of *godbus.Conn that claim needs.
type busConn interface {
	Export(v interface{}, path godbus.ObjectPath, iface string) error
	RequestName(name string, flags godbus.RequestNameFlags) (godbus.RequestNameReply, error)
	Close() error
}

// claim exports the service objects on conn and takes ownership of BusName.
// conn is closed when any step fails.
func (s *Service) claim(conn busConn) error {
	if err := s.register(conn); err != nil {
		conn.Close()
		return err
	}
	return nil
}

func (s *Service) register(conn busConn) error {
	if err := conn.Export(s, ObjPath, IfaceName); err != nil {
		return fmt.Errorf("export service: %w", err)
	}
	if err := conn.Export(introspect.Introspectable(introspectXML), ObjPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("export introspection: %w", err)
	}

	reply, err := conn.RequestName(BusName, godbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("request name: %w", err)
	}
	if reply != godbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("name %s already taken", BusName)
	}
	return nil
}

func validateRange(fromEpoch, toEpoch int64) *godbus.Error {
	if fromEpoch < 0 {
		return godbus.MakeFailedError(fmt.Errorf("from_epoch must not be negative, got %d", fromEpoch))
	}
	if toEpoch < fromEpoch {
		return godbus.MakeFailedError(fmt.Errorf("to_epoch %d is before from_epoch %d", toEpoch, fromEpoch))
	}
	if toEpoch > maxEpoch {
		return godbus.MakeFailedError(fmt.Errorf("to_epoch %d is past the year 9999", toEpoch))
	}
	if toEpoch-fromEpoch >= maxQueryRangeSeconds {
		return godbus.MakeFailedError(fmt.Errorf("time range must be shorter than %d seconds", maxQueryRangeSeconds))
	}
	return nil
}

func validateMeterID(meterID string) *godbus.Error {
	if strings.TrimSpace(meterID) == "" {
		return godbus.MakeFailedError(fmt.Errorf("meter_id must not be empty"))
	}
	if len(meterID) > maxMeterIDLength {
		return godbus.MakeFailedError(fmt.Errorf("meter_id longer than %d bytes", maxMeterIDLength))
	}
	return nil
}

func marshal(v any) (string, *godbus.Error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", godbus.MakeFailedError(err)
	}
	return string(data), nil
}

// GetMeters returns the ids of all meters with stored readings as JSON.
func (s *Service) GetMeters() (string, *godbus.Error) {
	meters, err := s.store.Meters()
	if err != nil {
		return "", godbus.MakeFailedError(err)
	}
	if meters == nil {
		meters = []string{}
	}
	return marshal(meters)
}

// GetSeries returns the energy and power series of a meter together with
// its latest reading and depletion estimate as JSON.
func (s *Service) GetSeries(meterID string, fromEpoch, toEpoch int64) (string, *godbus.Error) {
	if err := validateMeterID(meterID); err != nil {
		return "", err
	}
	if err := validateRange(fromEpoch, toEpoch); err != nil {
		return "", err
	}
	snap, err := s.Builder().Build(meterID, fromEpoch, toEpoch)
	if err != nil {
		return "", godbus.MakeFailedError(err)
	}
	return marshal(snap)
}

// GetSubscriptions returns every subscription with its latest reading and
// depletion estimate as JSON. Delivery tokens are masked.
func (s *Service) GetSubscriptions() (string, *godbus.Error) {
	subs, err := s.store.Subscriptions()
	if err != nil {
		return "", godbus.MakeFailedError(err)
	}
	b := s.Builder()
	views := make([]report.SubscriptionView, 0, len(subs))
	for _, sub := range subs {
		v, err := b.Summary(sub)
		if err != nil {
			return "", godbus.MakeFailedError(err)
		}
		views = append(views, *v)
	}
	return marshal(views)
}

// Subscribe creates or updates a subscription from JSON. The token may be
// pasted as a full webhook URL; the channel is inferred from it when unset.
func (s *Service) Subscribe(subscriptionJSON string) (string, *godbus.Error) {
	sub := notify.Subscription{Preferences: notify.DefaultPreferences()}
	if err := json.Unmarshal([]byte(subscriptionJSON), &sub); err != nil {
		return "", godbus.MakeFailedError(fmt.Errorf("decode subscription JSON: %w", err))
	}
	if err := validateMeterID(sub.MeterID); err != nil {
		return "", err
	}
	if sub.Token != "" {
		if ch, token, ok := notify.ParseToken(sub.Token); ok {
			if sub.Channel == "" || sub.Channel == notify.ChannelNone {
				sub.Channel = ch
			}
			sub.Token = token
		}
	}
	if sub.Channel == "" {
		sub.Channel = notify.ChannelNone
	}
	if sub.Channel == notify.ChannelNone {
		sub.Token = ""
	}
	if err := sub.Validate(); err != nil {
		return "", godbus.MakeFailedError(err)
	}
	sub.LastNotified = 0
	if err := s.store.UpsertSubscription(sub); err != nil {
		return "", godbus.MakeFailedError(err)
	}

	stored, err := s.store.Subscription(sub.MeterID)
	if err != nil {
		return "", godbus.MakeFailedError(err)
	}
	v, err := s.Builder().Summary(*stored)
	if err != nil {
		return "", godbus.MakeFailedError(err)
	}
	return marshal(v)
}

// Unsubscribe removes a meter's subscription and reports whether one existed.
func (s *Service) Unsubscribe(meterID string) (bool, *godbus.Error) {
	if err := validateMeterID(meterID); err != nil {
		return false, err
	}
	removed, err := s.store.DeleteSubscription(meterID)
	if err != nil {
		return false, godbus.MakeFailedError(err)
	}
	return removed, nil
}

// GetNotifications returns logged notifications in a time range as JSON.
func (s *Service) GetNotifications(fromEpoch, toEpoch int64) (string, *godbus.Error) {
	if err := validateRange(fromEpoch, toEpoch); err != nil {
		return "", err
	}
	logged, err := s.store.NotificationsInRange(fromEpoch, toEpoch)
	if err != nil {
		return "", godbus.MakeFailedError(err)
	}
	if logged == nil {
		logged = []storage.Notification{}
	}
	return marshal(logged)
}

// GetConfig returns the configuration in effect as JSON.
func (s *Service) GetConfig() (string, *godbus.Error) {
	return marshal(s.Config())
}

// UpdateConfig merges the given JSON over the configuration in effect,
// validates and persists it, and returns the result as JSON.
func (s *Service) UpdateConfig(configJSON string) (string, *godbus.Error) {
	s.mu.Lock()
	updated := *s.cfg
	updated.Pipeline.ChargeSteps = nil
	if err := json.Unmarshal([]byte(configJSON), &updated); err != nil {
		s.mu.Unlock()
		return "", godbus.MakeFailedError(fmt.Errorf("decode config JSON: %w", err))
	}
	if updated.Pipeline.ChargeSteps == nil {
		updated.Pipeline.ChargeSteps = s.cfg.Pipeline.ChargeSteps
	}
	sanitized, err := config.NormalizeAndValidate(&updated)
	if err != nil {
		s.mu.Unlock()
		return "", godbus.MakeFailedError(err)
	}
	if s.configPath != "" {
		if err := config.Save(s.configPath, sanitized); err != nil {
			s.mu.Unlock()
			return "", godbus.MakeFailedError(err)
		}
	}
	s.cfg = sanitized
	onConfig := s.onConfig
	s.mu.Unlock()

	if onConfig != nil {
		onConfig(sanitized)
	}
	return marshal(sanitized)
}
