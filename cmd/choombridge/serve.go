package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nugget/choombridge/internal/backup"
	"github.com/nugget/choombridge/internal/bridge"
	"github.com/nugget/choombridge/internal/buildinfo"
	"github.com/nugget/choombridge/internal/calendar"
	"github.com/nugget/choombridge/internal/choom"
	"github.com/nugget/choombridge/internal/config"
	"github.com/nugget/choombridge/internal/connwatch"
	"github.com/nugget/choombridge/internal/contacts"
	"github.com/nugget/choombridge/internal/email"
	"github.com/nugget/choombridge/internal/homeassistant"
	"github.com/nugget/choombridge/internal/mqtt"
	"github.com/nugget/choombridge/internal/scheduler"
	"github.com/nugget/choombridge/internal/signalrpc"
	"github.com/nugget/choombridge/internal/speech"
	"github.com/nugget/choombridge/internal/taskcfg"
)

// runServe is the primary operating mode: load config, take the
// single-instance lock, connect the Signal transport, wire the
// collaborators and scheduled jobs, then run the intake loop until a
// shutdown signal arrives.
func runServe(ctx context.Context, stdout, stderr io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting choombridge",
		"version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level)
	}
	logger.Info("config loaded", "path", cfgPath)

	loc := time.Local
	if cfg.Timezone != "" {
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return fmt.Errorf("timezone %q: %w", cfg.Timezone, err)
		}
	}

	for _, dir := range []string{cfg.DataDir, cfg.TempDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	release, err := bridge.AcquireLock(filepath.Join(cfg.DataDir, "choombridge.lock"))
	if err != nil {
		return err
	}
	defer release()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Signal transport. Dial blocks with retries until the daemon's
	// socket appears or the timeout runs out.
	dialCtx, dialCancel := context.WithTimeout(ctx, time.Duration(cfg.Signal.ConnectTimeoutSec)*time.Second)
	transport, err := signalrpc.Dial(dialCtx, cfg.Signal.SocketPath, logger)
	dialCancel()
	if err != nil {
		return fmt.Errorf("signal daemon: %w", err)
	}
	defer transport.Close()

	tasks := taskcfg.NewStore(filepath.Join(cfg.DataDir, "tasks.json"), logger)
	chooms := choom.NewClient(cfg.Companion.URL, logger)
	voices := speech.NewClient(cfg.Speech.TTSURL, cfg.Speech.STTURL, cfg.Speech.DefaultVoice, logger)

	store, err := scheduler.NewStore(filepath.Join(cfg.DataDir, "scheduler.db"))
	if err != nil {
		return fmt.Errorf("scheduler store: %w", err)
	}
	defer store.Close()
	sched := scheduler.New(store, logger)
	defer sched.Stop()

	opts := bridge.Options{
		Config:    cfg,
		Signal:    transport,
		Chooms:    chooms,
		Speech:    voices,
		Tasks:     tasks,
		Scheduler: sched,
		Location:  loc,
		Logger:    logger,
	}

	if cfg.DAV.CalendarURL != "" {
		cal, err := calendar.New(cfg.DAV.CalendarURL, cfg.DAV.TasksURL,
			cfg.DAV.Username, cfg.DAV.Password, loc, logger)
		if err != nil {
			return fmt.Errorf("calendar: %w", err)
		}
		opts.Calendar = cal
	}
	if cfg.DAV.AddressBookURL != "" {
		book, err := contacts.New(cfg.DAV.AddressBookURL, cfg.DAV.Username, cfg.DAV.Password, logger)
		if err != nil {
			return fmt.Errorf("address book: %w", err)
		}
		opts.Contacts = book
	}
	if cfg.Email.Host != "" {
		mail := email.NewClient(email.Config{
			Host:     cfg.Email.Host,
			Port:     cfg.Email.Port,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			TLS:      cfg.Email.TLS,
		}, logger)
		defer mail.Close()
		opts.Email = mail
	}
	if cfg.Backup.URL != "" {
		files, err := backup.New(cfg.Backup, logger)
		if err != nil {
			return fmt.Errorf("backup: %w", err)
		}
		opts.Backup = files
	}

	var ha *homeassistant.Client
	if cfg.HomeAssistant.URL != "" {
		ha = homeassistant.NewClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, logger)
		var ws *homeassistant.WSClient
		if cfg.HomeAssistant.Watch {
			ws = homeassistant.NewWSClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, logger)
		}
		cache := homeassistant.NewStateCache(ha, ws, logger)
		if ws != nil {
			go cache.Run(ctx)
		}
		opts.States = cache
	}

	watch := connwatch.NewManager(logger)
	defer watch.Stop()
	opts.Watch = watch
	registerWatchers(ctx, watch, transport, voices, ha, opts.Email)

	b := bridge.New(opts)
	if err := b.RegisterJobs(); err != nil {
		return fmt.Errorf("register jobs: %w", err)
	}

	if cfg.MQTT.Broker != "" {
		pub := mqtt.New(cfg.MQTT, &bridgeStatus{watch: watch}, logger)
		go func() {
			if err := pub.Start(ctx); err != nil {
				logger.Warn("mqtt publisher stopped", "error", err)
			}
		}()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			pub.Stop(stopCtx)
			cancel()
		}()
	}

	logger.Info("choombridge running", "owner", cfg.Signal.OwnerNumber)
	err = b.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("shutting down")
		return nil
	}
	return err
}

// registerWatchers installs health probes for each configured service.
func registerWatchers(ctx context.Context, m *connwatch.Manager, transport *signalrpc.Client, voices *speech.Client, ha *homeassistant.Client, mail *email.Client) {
	m.Watch(ctx, connwatch.WatcherConfig{
		Name:  "signal",
		Probe: transport.Ping,
	})
	m.Watch(ctx, connwatch.WatcherConfig{
		Name:  "speech",
		Probe: voices.Ping,
	})
	if ha != nil {
		m.Watch(ctx, connwatch.WatcherConfig{
			Name:  "home_assistant",
			Probe: ha.Ping,
		})
	}
	if mail != nil {
		m.Watch(ctx, connwatch.WatcherConfig{
			Name:  "email",
			Probe: mail.Ping,
		})
	}
}

// bridgeStatus feeds the MQTT state document.
type bridgeStatus struct {
	watch *connwatch.Manager
}

func (s *bridgeStatus) Version() string { return buildinfo.Version }

func (s *bridgeStatus) Uptime() time.Duration { return buildinfo.Uptime() }

func (s *bridgeStatus) ServiceStatus() map[string]connwatch.ServiceStatus {
	return s.watch.Status()
}
