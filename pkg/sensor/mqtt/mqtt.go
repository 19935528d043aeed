// Package mqtt receives fixes published as JSON on an MQTT topic.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"glidetrack/pkg/config"
	"glidetrack/pkg/fix"
	"glidetrack/pkg/sensor"
)

const (
	connectTimeout = 10 * time.Second
	retryInterval  = 5 * time.Second
)

// Payload is the message format. Optional fields may be omitted or null.
type Payload struct {
	Time  time.Time `json:"time"`
	Lat   *float64  `json:"lat"`
	Lon   *float64  `json:"lon"`
	Alt   *float64  `json:"alt,omitempty"`
	Speed *float64  `json:"speed,omitempty"` // [m/s]
	Track *float64  `json:"track,omitempty"` // [deg]
	HAcc  *float64  `json:"hacc,omitempty"`  // [m]
	VAcc  *float64  `json:"vacc,omitempty"`  // [m]
}

// Decode converts a payload into a fix. Missing optional fields become NaN,
// a missing vertical accuracy becomes 0.
func Decode(data []byte) (fix.RawFix, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return fix.RawFix{}, err
	}
	if p.Time.IsZero() {
		return fix.RawFix{}, errors.New("missing time")
	}
	if p.Lat == nil || p.Lon == nil {
		return fix.RawFix{}, errors.New("missing position")
	}
	f := fix.RawFix{
		Time:  p.Time,
		Lat:   *p.Lat,
		Lon:   *p.Lon,
		Alt:   orNaN(p.Alt),
		Speed: orNaN(p.Speed),
		Track: orNaN(p.Track),
		HAcc:  orNaN(p.HAcc),
	}
	if p.VAcc != nil {
		f.VAcc = *p.VAcc
	}
	return f, nil
}

func orNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

// Provider subscribes to a fix topic.
type Provider struct {
	cfg   config.MQTTConfig
	retry time.Duration
	now   func() time.Time
}

// New creates a provider for the configured broker and topic.
func New(cfg config.MQTTConfig) *Provider {
	return &Provider{cfg: cfg, retry: retryInterval, now: time.Now}
}

func (p *Provider) Name() string { return "mqtt" }

// Watch connects and subscribes on the watch goroutine and returns at once.
// Failed connects and lost connections are reported as CodeUnavailable;
// the provider keeps retrying until stopped.
func (p *Provider) Watch(ctx context.Context, opts sensor.Options, h sensor.Handler) (sensor.Watch, error) {
	gate := sensor.NewGate(opts, h, p.now)

	co := mqtt.NewClientOptions().
		AddBroker(p.cfg.Broker).
		SetClientID(p.cfg.ClientID).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			gate.Error(sensor.CodeUnavailable, "connection lost: %v", err)
		})
	if p.cfg.Username != "" {
		co.SetUsername(p.cfg.Username).SetPassword(p.cfg.Password)
	}
	// Resubscribe after every reconnect
	co.SetOnConnectHandler(func(c mqtt.Client) {
		token := c.Subscribe(p.cfg.Topic, p.cfg.QoS, p.handler(gate))
		if token.WaitTimeout(connectTimeout) && token.Error() != nil {
			gate.Error(sensor.CodeUnavailable, "subscribe %s: %v", p.cfg.Topic, token.Error())
		}
	})
	client := mqtt.NewClient(co)

	return sensor.Go(ctx, func(ctx context.Context) {
		go gate.TickEvery(ctx, time.Second)
		if !p.connect(ctx, client, gate) {
			return
		}
		slog.Info("MQTT fix feed connected", "broker", p.cfg.Broker, "topic", p.cfg.Topic)

		<-ctx.Done()
		client.Unsubscribe(p.cfg.Topic).WaitTimeout(time.Second)
		client.Disconnect(250)
	}), nil
}

// connect retries the initial connect until it succeeds or ctx is done.
func (p *Provider) connect(ctx context.Context, client mqtt.Client, gate *sensor.Gate) bool {
	for {
		token := client.Connect()
		select {
		case <-token.Done():
		case <-ctx.Done():
			return false
		}
		err := token.Error()
		if err == nil {
			return true
		}
		gate.Error(sensor.CodeUnavailable, "connect %s: %v", p.cfg.Broker, err)
		slog.Warn("MQTT connect failed", "broker", p.cfg.Broker, "error", err, "retry", p.retry)

		t := time.NewTimer(p.retry)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return false
		}
	}
}

func (p *Provider) handler(gate *sensor.Gate) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		f, err := Decode(msg.Payload())
		if err != nil {
			slog.Debug("MQTT fix dropped", "topic", msg.Topic(), "error", err)
			return
		}
		gate.Fix(f)
	}
}
