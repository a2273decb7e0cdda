package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alexflint/go-arg"

	"github.com/cptspacemanspiff/dorm-meter-monitor/internal/config"
	dbussvc "github.com/cptspacemanspiff/dorm-meter-monitor/internal/dbus"
	"github.com/cptspacemanspiff/dorm-meter-monitor/internal/storage"
)

const defaultConfigPath = "/etc/meter-monitor/config.toml"

var version = "<not set>"

type Args struct {
	Config     string `arg:"-c,--config" help:"path to the TOML configuration file"`
	Log        string `arg:"--log" help:"comma-separated log topics: ingest,notify,cleanup,config (or 'all')"`
	Verbose    bool   `arg:"-v,--verbose" help:"enable all verbose logging (equivalent to --log=all)"`
	SessionBus bool   `arg:"--session-bus" help:"register on the session bus instead of the system bus"`
	ResetDB    bool   `arg:"--reset-db" help:"delete the database and exit"`
}

func (Args) Version() string {
	return version
}

func procArgs() Args {
	args := Args{Config: defaultConfigPath}
	arg.MustParse(&args)
	return args
}

func main() {
	args := procArgs()
	logger := newLogger(os.Stderr, parseTopics(args.Verbose, args.Log))
	if err := run(args, logger); err != nil {
		logger.Error("fatal", "err", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, falling back to defaults when it does
// not exist yet.
func loadConfig(path string, logger *slog.Logger) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Info("config file not found, using defaults", "path", path)
		return config.DefaultConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

func run(args Args, logger *slog.Logger) error {
	ingestLog := logger.With("topic", "ingest")
	notifyLog := logger.With("topic", "notify")
	cleanupLog := logger.With("topic", "cleanup")
	configLog := logger.With("topic", "config")

	cfg, err := loadConfig(args.Config, logger)
	if err != nil {
		return err
	}

	dbPath := cfg.Storage.DBPath
	if args.ResetDB {
		for _, suffix := range []string{"", "-wal", "-shm"} {
			if err := os.Remove(dbPath + suffix); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("delete database: %w", err)
			}
		}
		logger.Info("database deleted", "path", dbPath)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	store, err := storage.Open(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	svc := dbussvc.NewService(store, cfg, args.Config)
	configCh := make(chan *config.Config, 1)
	svc.OnConfigChange(func(c *config.Config) {
		select {
		case configCh <- c:
		default:
			// Drop the stale pending update in favour of the newest one.
			select {
			case <-configCh:
			default:
			}
			configCh <- c
		}
	})

	conn, err := svc.Export(args.SessionBus)
	if err != nil {
		return fmt.Errorf("export dbus service: %w", err)
	}
	defer conn.Close()
	logger.Info("D-Bus service registered", "name", dbussvc.BusName, "version", version)

	spoolPath := cfg.Storage.SpoolPath
	importSpool(store, spoolPath, time.Now(), ingestLog)
	runCleanup(store, cfg.Cleanup.RetentionDays, time.Now(), cleanupLog)
	evaluateNotifications(store, svc.Builder(), time.Now(), notifyLog)

	collectInterval := time.Duration(cfg.Collection.IntervalSeconds) * time.Second
	cleanupInterval := time.Duration(cfg.Cleanup.IntervalHours) * time.Hour
	ticker := time.NewTicker(collectInterval)
	defer ticker.Stop()
	cleanupTicker := time.NewTicker(cleanupInterval)
	defer cleanupTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("meter-monitor-daemon started", "interval", collectInterval, "spool", spoolPath)
	for {
		select {
		case <-ticker.C:
			importSpool(store, spoolPath, time.Now(), ingestLog)
			evaluateNotifications(store, svc.Builder(), time.Now(), notifyLog)
		case <-cleanupTicker.C:
			runCleanup(store, svc.Config().Cleanup.RetentionDays, time.Now(), cleanupLog)
		case c := <-configCh:
			if c.Storage.DBPath != dbPath {
				configLog.Warn("storage.db_path change takes effect after restart", "path", c.Storage.DBPath)
			}
			spoolPath = c.Storage.SpoolPath
			collectInterval = time.Duration(c.Collection.IntervalSeconds) * time.Second
			cleanupInterval = time.Duration(c.Cleanup.IntervalHours) * time.Hour
			ticker.Reset(collectInterval)
			cleanupTicker.Reset(cleanupInterval)
			configLog.Info("config applied",
				"interval", collectInterval,
				"cleanup_interval", cleanupInterval,
				"step_seconds", c.Pipeline.StepSeconds)
		case <-sigCh:
			logger.Info("shutting down")
			return nil
		}
	}
}
