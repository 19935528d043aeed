package main

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"

	"glidetrack/pkg/config"
	"glidetrack/pkg/probe"
	"glidetrack/pkg/store"
)

// startupChecks lists what must hold before recording can work.
func startupChecks(cfg *config.Config, st store.StateStore, apiBase func() string) []probe.Check {
	return []probe.Check{
		{Name: "database", Critical: true, Fn: func(ctx context.Context) error {
			if err := st.SetState(ctx, "startup_check", "ok"); err != nil {
				return err
			}
			if v, ok := st.GetState(ctx, "startup_check"); !ok || v != "ok" {
				return fmt.Errorf("state read back %q", v)
			}
			return nil
		}},
		sensorCheck(&cfg.Sensor),
		{Name: "endpoint", Fn: func(ctx context.Context) error {
			return dial(ctx, apiBase())
		}},
	}
}

func sensorCheck(cfg *config.SensorConfig) probe.Check {
	switch cfg.Provider {
	case "replay":
		return probe.Check{Name: "replay file", Critical: true, Fn: func(context.Context) error {
			f, err := os.Open(cfg.Replay.File)
			if err != nil {
				return err
			}
			return f.Close()
		}}
	case "mqtt":
		return probe.Check{Name: "mqtt broker", Fn: func(ctx context.Context) error {
			return dial(ctx, cfg.MQTT.Broker)
		}}
	default:
		// The receiver may be plugged in later
		return probe.Check{Name: "serial port", Fn: func(context.Context) error {
			_, err := os.Stat(cfg.NMEA.Port)
			return err
		}}
	}
}

// dial opens and closes a TCP connection to the host of rawURL.
func dial(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	host := u.Host
	if u.Port() == "" {
		port := "80"
		switch u.Scheme {
		case "https":
			port = "443"
		case "tcp", "mqtt":
			port = "1883"
		case "ssl", "tls", "mqtts":
			port = "8883"
		}
		host = net.JoinHostPort(u.Hostname(), port)
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		return err
	}
	return conn.Close()
}
