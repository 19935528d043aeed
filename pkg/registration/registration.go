// Package registration links the device id to a pilot account on the
// tracking server.
package registration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"glidetrack/pkg/config"
	"glidetrack/pkg/request"
	"glidetrack/pkg/track"
)

// ErrNoSuchUser is returned when the server does not know the configured user name.
var ErrNoSuchUser = errors.New("no such user")

// Result is the outcome of one registration attempt.
type Result int

const (
	Success Result = iota
	Retry
	Cancelled
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case Retry:
		return "retry"
	default:
		return "cancelled"
	}
}

// Settings is the part of the settings store registration reads and writes.
type Settings interface {
	DeviceID(ctx context.Context) string
	SetDeviceID(ctx context.Context, id string) error
	RegisteredAt(ctx context.Context) (time.Time, bool)
	SetRegisteredAt(ctx context.Context, t time.Time) error
	Profile(ctx context.Context) config.Profile
	SetProfile(ctx context.Context, p config.Profile) error
}

// EnsureDeviceID returns the stored device id, generating and storing one
// on first use. A new id is not yet registered.
func EnsureDeviceID(ctx context.Context, s Settings, now time.Time) (string, error) {
	if id := s.DeviceID(ctx); id != "" {
		return id, nil
	}
	id := track.GenerateID("D", now)
	if err := s.SetDeviceID(ctx, id); err != nil {
		return "", fmt.Errorf("store device id: %w", err)
	}
	slog.Info("Generated device id", "device", id)
	return id, nil
}

// Client talks to the device endpoint.
type Client struct {
	http    *request.Client
	base    func() string
	timeout time.Duration
}

// NewClient creates a client. base is read on every call.
func NewClient(http *request.Client, base func() string, timeout time.Duration) *Client {
	return &Client{http: http, base: base, timeout: timeout}
}

// Exchange posts profile (nil for a lookup) for devID and returns the
// profile the server holds, or nil when the device is unknown.
func (c *Client) Exchange(ctx context.Context, devID string, profile *config.Profile) (*config.Profile, error) {
	var body []byte
	if profile != nil {
		var err error
		if body, err = json.Marshal(profile); err != nil {
			return nil, err
		}
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	u := strings.TrimRight(c.base(), "/") + "/dev/" + url.PathEscape(devID)
	resp, err := c.http.Post(ctx, u, body, "application/json")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != 200 {
		msg := strings.TrimSpace(string(resp.Body))
		if msg == "" {
			msg = resp.Status
		}
		return nil, fmt.Errorf("device endpoint: %d %s", resp.StatusCode, msg)
	}

	trimmed := bytes.TrimSpace(resp.Body)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil, nil
	}
	var got config.Profile
	if err := json.Unmarshal(trimmed, &got); err != nil {
		slog.Warn("Device endpoint returned bad JSON", "error", err)
		return nil, nil
	}
	return &got, nil
}

// Registrar runs the check-then-register flow.
type Registrar struct {
	client   *Client
	settings Settings
	now      func() time.Time
}

// NewRegistrar creates a registrar.
func NewRegistrar(c *Client, s Settings) *Registrar {
	return &Registrar{client: c, settings: s, now: time.Now}
}

// Attempt makes one pass. A device registered before is accepted without
// contacting the server. Otherwise the server is asked about the device;
// an unknown device is registered with the local profile. Transport
// failures ask for a retry. A server that does not accept the user name
// cancels with ErrNoSuchUser.
func (r *Registrar) Attempt(ctx context.Context) (Result, error) {
	if _, ok := r.settings.RegisteredAt(ctx); ok {
		return Success, nil
	}
	devID, err := EnsureDeviceID(ctx, r.settings, r.now())
	if err != nil {
		return Cancelled, err
	}

	known, err := r.client.Exchange(ctx, devID, nil)
	if err != nil {
		return Retry, err
	}
	if known == nil {
		local := r.settings.Profile(ctx)
		if local.UName == "" {
			return Cancelled, ErrNoSuchUser
		}
		if known, err = r.client.Exchange(ctx, devID, &local); err != nil {
			return Retry, err
		}
		if known == nil || known.UName == "" {
			return Cancelled, ErrNoSuchUser
		}
	}

	if err := r.settings.SetProfile(ctx, *known); err != nil {
		return Cancelled, err
	}
	if err := r.settings.SetRegisteredAt(ctx, r.now()); err != nil {
		return Cancelled, err
	}
	slog.Info("Device registered", "device", devID, "user", known.UName)
	return Success, nil
}

// Run repeats attempt while it asks for a retry, waiting on backoff between
// attempts. It stops with Cancelled when ctx is done.
func Run(ctx context.Context, backoff *request.HostBackoff, attempt func(context.Context) (Result, error)) (Result, error) {
	const key = "registration"
	for {
		res, err := attempt(ctx)
		if res != Retry {
			if res == Success {
				backoff.RecordSuccess(key)
			}
			return res, err
		}
		backoff.RecordFailure(key)
		slog.Warn("Registration failed, retrying", "error", err, "in", backoff.Delay(key))
		if werr := backoff.Wait(ctx, key); werr != nil {
			return Cancelled, errors.Join(err, werr)
		}
	}
}
