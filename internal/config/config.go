// Package config handles choombridge configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/choombridge/config.yaml,
// /etc/choombridge/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "choombridge", "config.yaml"))
	}

	paths = append(paths, "/etc/choombridge/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all choombridge configuration.
type Config struct {
	Signal        SignalConfig        `yaml:"signal"`
	Companion     CompanionConfig     `yaml:"companion"`
	Speech        SpeechConfig        `yaml:"speech"`
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`
	Email         EmailConfig         `yaml:"email"`
	DAV           DAVConfig           `yaml:"dav"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	Backup        BackupConfig        `yaml:"backup"`
	Schedule      ScheduleConfig      `yaml:"schedule"`
	Timezone      string              `yaml:"timezone"`
	DataDir       string              `yaml:"data_dir"`
	TempDir       string              `yaml:"temp_dir"`
	LogLevel      string              `yaml:"log_level"`
}

// SignalConfig defines the signal-cli daemon connection.
type SignalConfig struct {
	// SocketPath is the signal-cli jsonRpc daemon Unix socket.
	SocketPath string `yaml:"socket_path"`
	// ConfigPath is signal-cli's data directory; attachment bytes live
	// under <config_path>/attachments/<id>.
	ConfigPath string `yaml:"config_path"`
	// OwnerNumber is the only sender the bridge listens to.
	OwnerNumber string `yaml:"owner_number"`
	// ConnectTimeoutSec bounds the initial socket dial loop (default 30).
	ConnectTimeoutSec int `yaml:"connect_timeout_sec"`
	// ReconnectIntervalSec is the pause before a reconnect attempt (default 5).
	ReconnectIntervalSec int `yaml:"reconnect_interval_sec"`
}

// CompanionConfig defines the companion (choom) HTTP service.
type CompanionConfig struct {
	URL string `yaml:"url"`
	// DefaultName is the companion addressed when a message names none
	// and no sticky choice exists yet.
	DefaultName string `yaml:"default_name"`
	// Location is passed to the weather endpoint.
	Location string `yaml:"location"`
}

// SpeechConfig defines the TTS and STT services (OpenAI-compatible).
type SpeechConfig struct {
	TTSURL       string `yaml:"tts_url"`
	STTURL       string `yaml:"stt_url"`
	DefaultVoice string `yaml:"default_voice"`
}

// HomeAssistantConfig defines HA connection settings.
type HomeAssistantConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
	// Watch enables the websocket state subscription used as a cache
	// for automation conditions.
	Watch bool `yaml:"watch"`
}

// EmailConfig defines the IMAP account summarized in the morning briefing.
type EmailConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	TLS      bool   `yaml:"tls"`
}

// DAVConfig defines the CalDAV/CardDAV endpoints backing the calendar,
// task-list, and birthday collaborators.
type DAVConfig struct {
	CalendarURL    string `yaml:"calendar_url"`
	TasksURL       string `yaml:"tasks_url"`
	AddressBookURL string `yaml:"addressbook_url"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
}

// MQTTConfig defines the optional status publisher.
type MQTTConfig struct {
	Broker   string `yaml:"broker"` // host:port; empty disables MQTT
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// TopicPrefix defaults to "choombridge".
	TopicPrefix string `yaml:"topic_prefix"`
}

// BackupConfig defines the WebDAV target for database backups.
type BackupConfig struct {
	URL      string `yaml:"url"` // collection URL; empty disables backups
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Folder   string `yaml:"folder"`
}

// ScheduleConfig holds wall-clock times for the built-in jobs.
type ScheduleConfig struct {
	// BriefingTime is the morning briefing time, "HH:MM" (default 07:00).
	BriefingTime string `yaml:"briefing_time"`
	// WeatherTimes are the weather check times (default 07:00, 12:00, 18:00).
	WeatherTimes []string `yaml:"weather_times"`
	// AuroraTimes are the aurora forecast times (default 12:00, 18:00).
	AuroraTimes []string `yaml:"aurora_times"`
	// HealthIntervalMin is the system health check interval (default 30).
	HealthIntervalMin int `yaml:"health_interval_min"`
	// BackupTime is the database backup time, "HH:MM" (default 03:00).
	BackupTime string `yaml:"backup_time"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	cfg := &Config{
		Signal: SignalConfig{
			SocketPath:           "/run/user/1000/signal-cli/socket",
			ConnectTimeoutSec:    30,
			ReconnectIntervalSec: 5,
		},
		Companion: CompanionConfig{
			URL:         "http://localhost:3000",
			DefaultName: "Choom",
		},
		Speech: SpeechConfig{
			TTSURL: "http://localhost:8004",
			STTURL: "http://localhost:5000",
		},
	}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills zero-value fields that have sensible defaults.
func (c *Config) applyDefaults() {
	if c.Signal.ConnectTimeoutSec <= 0 {
		c.Signal.ConnectTimeoutSec = 30
	}
	if c.Signal.ReconnectIntervalSec <= 0 {
		c.Signal.ReconnectIntervalSec = 5
	}
	if c.Companion.DefaultName == "" {
		c.Companion.DefaultName = "Choom"
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.TempDir == "" {
		c.TempDir = filepath.Join(os.TempDir(), "choombridge")
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "choombridge"
	}
	if c.Schedule.BriefingTime == "" {
		c.Schedule.BriefingTime = "07:00"
	}
	if len(c.Schedule.WeatherTimes) == 0 {
		c.Schedule.WeatherTimes = []string{"07:00", "12:00", "18:00"}
	}
	if len(c.Schedule.AuroraTimes) == 0 {
		c.Schedule.AuroraTimes = []string{"12:00", "18:00"}
	}
	if c.Schedule.HealthIntervalMin <= 0 {
		c.Schedule.HealthIntervalMin = 30
	}
	if c.Schedule.BackupTime == "" {
		c.Schedule.BackupTime = "03:00"
	}
}
