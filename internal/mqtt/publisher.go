// Package mqtt publishes the bridge's liveness and health over MQTT.
// The broker holds a retained availability flag with an offline last
// will, plus a periodic JSON state document for dashboards.
package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/choombridge/internal/config"
	"github.com/nugget/choombridge/internal/connwatch"
)

// publishInterval is how often the state document is refreshed.
const publishInterval = 60 * time.Second

// StatusSource provides the data for the state document.
type StatusSource interface {
	// Version returns the build version string.
	Version() string
	// Uptime returns the process uptime.
	Uptime() time.Duration
	// ServiceStatus returns per-service health from the watchers.
	ServiceStatus() map[string]connwatch.ServiceStatus
}

// stateDoc is the JSON payload on the state topic.
type stateDoc struct {
	Version  string                             `json:"version"`
	Uptime   string                             `json:"uptime"`
	Services map[string]connwatch.ServiceStatus `json:"services"`
	At       time.Time                          `json:"at"`
}

// Publisher manages the MQTT connection and the periodic state loop.
type Publisher struct {
	cfg    config.MQTTConfig
	source StatusSource
	logger *slog.Logger
	cm     *autopaho.ConnectionManager
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to begin the connection and publish loop.
func New(cfg config.MQTTConfig, source StatusSource, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{cfg: cfg, source: source, logger: logger}
}

// Start connects to the broker and blocks running the publish loop
// until ctx is cancelled. The will message marks the bridge offline if
// the connection drops without a clean Stop.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(brokerAddr(p.cfg.Broker))
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   p.statusTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected", "broker", p.cfg.Broker)
			p.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "choombridge",
		},
	}
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		p.logger.Warn("mqtt initial connection timed out", "error", err)
	}

	p.runLoop(ctx)
	return nil
}

// Stop publishes "offline" and disconnects cleanly.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	p.publishAvailability(ctx, p.cm, "offline")
	return p.cm.Disconnect(ctx)
}

// brokerAddr turns a bare host:port into an mqtt:// URL.
func brokerAddr(broker string) string {
	if u, err := url.Parse(broker); err == nil && u.Scheme != "" && u.Host != "" {
		return broker
	}
	return "mqtt://" + broker
}

func (p *Publisher) statusTopic() string {
	return p.cfg.TopicPrefix + "/status"
}

func (p *Publisher) stateTopic() string {
	return p.cfg.TopicPrefix + "/state"
}

func (p *Publisher) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.statusTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
		return
	}
	p.logger.Info("mqtt availability published", "status", status)
}

func (p *Publisher) runLoop(ctx context.Context) {
	ticker := time.NewTicker(publishInterval)
	defer ticker.Stop()

	p.publishState(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publishState(ctx)
		}
	}
}

func (p *Publisher) publishState(ctx context.Context) {
	if p.cm == nil || p.source == nil {
		return
	}
	payload, err := json.Marshal(stateDoc{
		Version:  p.source.Version(),
		Uptime:   p.source.Uptime().Truncate(time.Second).String(),
		Services: p.source.ServiceStatus(),
		At:       time.Now(),
	})
	if err != nil {
		p.logger.Error("mqtt marshal state", "error", err)
		return
	}
	if _, err := p.cm.Publish(ctx, &paho.Publish{
		Topic:   p.stateTopic(),
		Payload: payload,
		QoS:     0,
		Retain:  true,
	}); err != nil {
		p.logger.Debug("mqtt state publish failed", "error", err)
	}
}
