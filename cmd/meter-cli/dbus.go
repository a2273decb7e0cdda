package main

import (
	"encoding/json"
	"fmt"
	"time"

	godbus "github.com/godbus/dbus/v5"

	"github.com/cptspacemanspiff/dorm-meter-monitor/internal/config"
	"github.com/cptspacemanspiff/dorm-meter-monitor/internal/report"
)

const (
	dbusName  = "org.dormwatch.MeterMonitor"
	dbusPath  = "/org/dormwatch/MeterMonitor"
	dbusIface = "org.dormwatch.MeterMonitor"
)

type dbusClient struct {
	conn *godbus.Conn
	obj  godbus.BusObject
}

func newDBusClient(session bool) (*dbusClient, error) {
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
	obj := conn.Object(dbusName, dbusPath)
	return &dbusClient{conn: conn, obj: obj}, nil
}

func (c *dbusClient) Close() error {
	return c.conn.Close()
}

func (c *dbusClient) callJSON(method string, out any, args ...any) error {
	var jsonStr string
	if err := c.obj.Call(dbusIface+"."+method, 0, args...).Store(&jsonStr); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if err := json.Unmarshal([]byte(jsonStr), out); err != nil {
		return fmt.Errorf("decode %s reply: %w", method, err)
	}
	return nil
}

func (c *dbusClient) GetMeters() ([]string, error) {
	var meters []string
	if err := c.callJSON("GetMeters", &meters); err != nil {
		return nil, err
	}
	return meters, nil
}

func (c *dbusClient) GetSeries(meterID string, from, to time.Time) (*report.Snapshot, error) {
	var snap report.Snapshot
	if err := c.callJSON("GetSeries", &snap, meterID, from.Unix(), to.Unix()); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *dbusClient) GetSubscriptions() ([]report.SubscriptionView, error) {
	var views []report.SubscriptionView
	if err := c.callJSON("GetSubscriptions", &views); err != nil {
		return nil, err
	}
	return views, nil
}

func (c *dbusClient) Subscribe(req subscribeRequest) (*report.SubscriptionView, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	var view report.SubscriptionView
	if err := c.callJSON("Subscribe", &view, string(body)); err != nil {
		return nil, err
	}
	return &view, nil
}

func (c *dbusClient) Unsubscribe(meterID string) (bool, error) {
	var removed bool
	if err := c.obj.Call(dbusIface+".Unsubscribe", 0, meterID).Store(&removed); err != nil {
		return false, fmt.Errorf("Unsubscribe: %w", err)
	}
	return removed, nil
}

// notification mirrors a notification log entry.
type notification struct {
	MeterID string `json:"hashed_dir"`
	Ts      int64  `json:"ts"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

func (c *dbusClient) GetNotifications(from, to time.Time) ([]notification, error) {
	var logged []notification
	if err := c.callJSON("GetNotifications", &logged, from.Unix(), to.Unix()); err != nil {
		return nil, err
	}
	return logged, nil
}

func (c *dbusClient) GetConfig() (*config.Config, error) {
	var cfg config.Config
	if err := c.callJSON("GetConfig", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *dbusClient) UpdateConfig(patchJSON string) (*config.Config, error) {
	var cfg config.Config
	if err := c.callJSON("UpdateConfig", &cfg, patchJSON); err != nil {
		return nil, err
	}
	return &cfg, nil
}
