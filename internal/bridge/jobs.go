package bridge

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/nugget/choombridge/internal/httpkit"
	"github.com/nugget/choombridge/internal/scheduler"
	"github.com/nugget/choombridge/internal/taskcfg"
)

// NOAA space weather imagery for the aurora forecast job.
var auroraImageURLs = []string{
	"https://services.swpc.noaa.gov/images/aurora-forecast-northern-hemisphere.jpg",
	"https://services.swpc.noaa.gov/images/station-k-index.png",
}

const (
	notificationInterval = 15 * time.Second
	reminderInterval     = 60 * time.Second
	reloadInterval       = 60 * time.Second
	triggerInterval      = 10 * time.Second
)

// RegisterJobs installs the built-in jobs and the reload loops. Task
// toggles from the configuration document are checked at fire time, so
// flipping one takes effect without a restart.
func (b *Bridge) RegisterJobs() error {
	briefing, err := scheduler.Daily(b.cfg.Schedule.BriefingTime)
	if err != nil {
		return fmt.Errorf("briefing time: %w", err)
	}
	b.sched.Add(&scheduler.Job{
		ID:       "morning_briefing",
		Name:     "morning briefing",
		Schedule: briefing,
		Run:      b.gated("morning_briefing", b.runBriefing),
	})

	for i, at := range b.cfg.Schedule.WeatherTimes {
		sched, err := scheduler.Daily(at)
		if err != nil {
			return fmt.Errorf("weather time %q: %w", at, err)
		}
		b.sched.Add(&scheduler.Job{
			ID:       fmt.Sprintf("weather_check_%d", i+1),
			Name:     "weather check",
			Schedule: sched,
			Run:      b.gated("weather_check", b.runWeatherCheck),
		})
	}

	for i, at := range b.cfg.Schedule.AuroraTimes {
		sched, err := scheduler.Daily(at)
		if err != nil {
			return fmt.Errorf("aurora time %q: %w", at, err)
		}
		b.sched.Add(&scheduler.Job{
			ID:       fmt.Sprintf("aurora_check_%d", i+1),
			Name:     "aurora forecast",
			Schedule: sched,
			Run:      b.gated("aurora_check", b.runAuroraForecast),
		})
	}

	b.sched.Add(&scheduler.Job{
		ID:       "system_health",
		Name:     "system health check",
		Schedule: scheduler.Every(time.Duration(b.cfg.Schedule.HealthIntervalMin) * time.Minute),
		Run:      b.gated("system_health", b.runHealthCheck),
	})

	dbBackup, err := scheduler.Daily(b.cfg.Schedule.BackupTime)
	if err != nil {
		return fmt.Errorf("backup time: %w", err)
	}
	b.sched.Add(&scheduler.Job{
		ID:       "db_backup",
		Name:     "database backup",
		Schedule: dbBackup,
		Run:      b.gated("db_backup", b.runBackup),
	})

	b.sched.Add(&scheduler.Job{
		ID:       "notifications",
		Name:     "notification drain",
		Schedule: scheduler.Every(notificationInterval),
		Run:      b.gated("notifications", b.drainNotifications),
	})
	b.sched.Add(&scheduler.Job{
		ID:       "reminder_sweep",
		Name:     "reminder sweep",
		Schedule: scheduler.Every(reminderInterval),
		Run:      b.gated("reminders", b.sweepReminders),
	})
	b.sched.Add(&scheduler.Job{
		ID:       "heartbeat_reload",
		Name:     "custom heartbeat reload",
		Schedule: scheduler.Every(reloadInterval),
		Run:      b.reloadHeartbeats,
	})
	b.sched.Add(&scheduler.Job{
		ID:       "automation_reload",
		Name:     "automation reload",
		Schedule: scheduler.Every(reloadInterval),
		Run:      b.reloadAutomations,
	})
	b.sched.Add(&scheduler.Job{
		ID:       "trigger_drain",
		Name:     "manual trigger drain",
		Schedule: scheduler.Every(triggerInterval),
		Run:      b.drainTriggers,
	})
	return nil
}

// gated wraps a job body with its task toggle.
func (b *Bridge) gated(taskID string, run func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if !b.tasks.IsTaskEnabled(taskID) {
			return nil
		}
		return run(ctx)
	}
}

func (b *Bridge) owner() string {
	return b.cfg.Signal.OwnerNumber
}

// runWeatherCheck logs current conditions; delivery stays off by
// default, the log is the record.
func (b *Bridge) runWeatherCheck(ctx context.Context) error {
	w, err := b.chooms.CurrentWeather(ctx, b.cfg.Companion.Location)
	if err != nil {
		return fmt.Errorf("weather check: %w", err)
	}
	b.logger.Info("weather check",
		"location", w.Location,
		"temperature", w.Temperature,
		"description", w.Description,
		"wind", w.WindSpeed,
		"humidity", w.Humidity)
	return nil
}

// runAuroraForecast downloads the NOAA forecast images and sends them
// with a short spoken narration.
func (b *Bridge) runAuroraForecast(ctx context.Context) error {
	client := httpkit.NewClient(httpkit.WithTimeout(60*time.Second), httpkit.WithLogger(b.logger))

	var paths []string
	defer func() {
		for _, p := range paths {
			os.Remove(p)
		}
	}()
	for _, rawURL := range auroraImageURLs {
		path, err := b.downloadImage(ctx, client, rawURL)
		if err != nil {
			b.logger.Warn("aurora image download failed", "url", rawURL, "error", err)
			continue
		}
		paths = append(paths, path)
	}
	if len(paths) == 0 {
		return fmt.Errorf("aurora forecast: no images downloaded")
	}

	text := attributed("System", "Aurora forecast update from NOAA: the northern-hemisphere forecast map and the current station K-index.")
	var audioPath string
	if audio, err := b.speech.Synthesize(ctx, "Here is the latest aurora forecast.", "", b.cfg.TempDir); err == nil {
		audioPath = audio
		defer os.Remove(audio)
	}
	return b.composer.sendSequence(ctx, b.owner(), text, audioPath, paths)
}

func (b *Bridge) downloadImage(ctx context.Context, client *http.Client, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	path := filepath.Join(b.cfg.TempDir, fmt.Sprintf("aurora_%d%s", time.Now().UnixNano(), filepath.Ext(rawURL)))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	return path, f.Close()
}

// runHealthCheck polls the companion service's health fan-out and the
// local watchers; trouble raises a quiet-suppressed alert.
func (b *Bridge) runHealthCheck(ctx context.Context) error {
	issues := map[string]string{}

	services, err := b.chooms.Health(ctx, b.healthEndpoints())
	if err != nil {
		issues["companion"] = "unreachable"
	} else {
		for name, status := range services {
			if status != "connected" {
				issues[name] = status
			}
		}
	}
	if b.watch != nil {
		for name, st := range b.watch.Status() {
			if !st.Ready {
				issues[name] = "down"
			}
		}
	}

	if len(issues) == 0 {
		return nil
	}
	b.logger.Warn("system health issues", "count", len(issues))
	if b.tasks.IsQuietPeriod(b.now()) {
		return nil
	}

	msg := "System Alert: Service issues detected\n"
	for _, name := range sortedKeys(issues) {
		msg += fmt.Sprintf("\n- %s: %s", name, issues[name])
	}
	b.compose(ctx, Outbound{Recipient: b.owner(), Text: msg, Name: "System"})
	return nil
}

func (b *Bridge) healthEndpoints() map[string]string {
	endpoints := map[string]string{}
	if b.cfg.Speech.TTSURL != "" {
		endpoints["tts"] = b.cfg.Speech.TTSURL
	}
	if b.cfg.Speech.STTURL != "" {
		endpoints["stt"] = b.cfg.Speech.STTURL
	}
	if b.cfg.HomeAssistant.URL != "" {
		endpoints["home_assistant"] = b.cfg.HomeAssistant.URL
	}
	return endpoints
}

// runBackup ships the configuration document and the execution history
// database to the WebDAV folder.
func (b *Bridge) runBackup(ctx context.Context) error {
	if b.backup == nil {
		return nil
	}
	var firstErr error
	for prefix, path := range map[string]string{
		"tasks":     filepath.Join(b.cfg.DataDir, "tasks.json"),
		"scheduler": filepath.Join(b.cfg.DataDir, "scheduler.db"),
	} {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := b.backup.Upload(ctx, path, prefix); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// drainNotifications delivers companion-queued notifications. The quiet
// period does not apply: these are replies to things the owner set in
// motion.
func (b *Bridge) drainNotifications(ctx context.Context) error {
	notes, err := b.chooms.Notifications(ctx)
	if err != nil {
		return fmt.Errorf("notifications: %w", err)
	}
	if len(notes) == 0 {
		return nil
	}

	var delivered []string
	for _, n := range notes {
		out := Outbound{
			Recipient: b.owner(),
			Text:      n.Message,
			Name:      b.choomNameByID(ctx, n.ChoomID),
			NoAudio:   !n.IncludeAudio,
		}
		if err := b.composer.Compose(ctx, out); err != nil {
			b.logger.Error("notification delivery failed", "id", n.ID, "error", err)
			continue
		}
		delivered = append(delivered, n.ID)
	}
	if len(delivered) == 0 {
		return nil
	}
	return b.chooms.DeleteNotifications(ctx, delivered)
}

func (b *Bridge) choomNameByID(ctx context.Context, id string) string {
	if id == "" {
		return ""
	}
	chooms, err := b.chooms.Chooms(ctx)
	if err != nil {
		return ""
	}
	for _, c := range chooms {
		if c.ID == id {
			return c.Name
		}
	}
	return ""
}

// PlanReminder persists a reminder and registers its one-shot delivery.
// The scheduler job id equals the reminder id. The id is minted from
// creation time plus a random suffix so reminders targeting the same
// second stay distinct.
func (b *Bridge) PlanReminder(text string, at time.Time) error {
	r := taskcfg.Reminder{
		ID:        "reminder_" + b.now().In(b.loc).Format("20060102_150405") + "_" + uuid.NewString()[:8],
		Text:      text,
		RemindAt:  at.In(b.loc).Format(time.RFC3339),
		CreatedAt: b.now().In(b.loc).Format(time.RFC3339),
	}
	if err := b.tasks.AddReminder(r); err != nil {
		return err
	}
	b.registerReminder(r, at)
	return nil
}

func (b *Bridge) registerReminder(r taskcfg.Reminder, at time.Time) {
	// "Remind me in 0 minutes" lands exactly on now; nudge the one-shot
	// forward so the timer still has a future fire to arm.
	if !at.After(time.Now()) {
		at = time.Now().Add(time.Second)
	}
	b.sched.Add(&scheduler.Job{
		ID:       r.ID,
		Name:     "reminder",
		Schedule: scheduler.At(at),
		Run: func(ctx context.Context) error {
			return b.deliverReminder(ctx, r)
		},
	})
}

// deliverReminder speaks the reminder and removes it. A crash between
// delivery and removal re-delivers once on restart, which is accepted.
func (b *Bridge) deliverReminder(ctx context.Context, r taskcfg.Reminder) error {
	out := Outbound{
		Recipient: b.owner(),
		Text:      "Reminder: " + r.Text,
		Name:      b.cfg.Companion.DefaultName,
	}
	if err := b.composer.Compose(ctx, out); err != nil {
		return fmt.Errorf("deliver reminder %s: %w", r.ID, err)
	}
	if err := b.tasks.RemoveReminder(r.ID); err != nil {
		b.logger.Warn("could not remove delivered reminder", "id", r.ID, "error", err)
	}
	return nil
}

// reminderTimeLayouts are the accepted remind_at shapes; bare local
// timestamps are interpreted in the configured timezone.
var reminderTimeLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"}

func (b *Bridge) parseReminderTime(raw string) (time.Time, error) {
	for _, layout := range reminderTimeLayouts {
		if t, err := time.ParseInLocation(layout, raw, b.loc); err == nil {
			return t.In(b.loc), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable reminder time %q", raw)
}

// sweepReminders reconciles persisted reminders with the one-shot
// registry: past-due ones fire immediately, future ones get a one-shot.
func (b *Bridge) sweepReminders(ctx context.Context) error {
	for _, r := range b.tasks.Reminders() {
		if b.sched.Has(r.ID) {
			continue
		}
		at, err := b.parseReminderTime(r.RemindAt)
		if err != nil {
			b.logger.Error("skipping bad reminder", "id", r.ID, "error", err)
			continue
		}
		if !at.After(b.now()) {
			if err := b.deliverReminder(ctx, r); err != nil {
				b.logger.Error("past-due reminder delivery failed", "id", r.ID, "error", err)
			}
			continue
		}
		b.registerReminder(r, at)
	}
	return nil
}

// drainTriggers runs manual run requests from the configuration
// document. Manual runs override the quiet period.
func (b *Bridge) drainTriggers(ctx context.Context) error {
	for _, trig := range b.tasks.DrainTriggers() {
		b.logger.Info("manual trigger", "type", trig.Kind, "id", trig.ID)
		switch trig.Kind {
		case "builtin":
			if !b.sched.Trigger(ctx, trig.ID) {
				b.logger.Warn("trigger for unknown builtin", "id", trig.ID)
			}
		case "heartbeat":
			if hb, ok := b.heartbeatByID(trig.ID); ok {
				b.runHeartbeat(ctx, hb, true)
			} else {
				b.logger.Warn("trigger for unknown heartbeat", "id", trig.ID)
			}
		case "automation":
			if a, ok := b.automationByID(trig.ID); ok {
				b.runAutomation(ctx, a, true)
			} else {
				b.logger.Warn("trigger for unknown automation", "id", trig.ID)
			}
		default:
			b.logger.Warn("unknown trigger type", "type", trig.Kind)
		}
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
