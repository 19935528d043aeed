package config

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"time"

	"glidetrack/pkg/store"
)

// Profile is the pilot and aircraft identification sent with every track.
type Profile struct {
	UName  string `json:"uname"`
	Name   string `json:"name"`
	CN     string `json:"cn"`
	Glider string `json:"glider"`
	Tail   string `json:"tail"`
}

// Settings bridges the static Config and user settings kept in the state store.
type Settings struct {
	base  *Config
	store store.StateStore
}

// NewSettings creates a Settings provider. st may be nil, in which case
// every read falls back to base and writes fail.
func NewSettings(base *Config, st store.StateStore) *Settings {
	return &Settings{
		base:  base,
		store: st,
	}
}

func (p *Settings) AppConfig() *Config { return p.base }

// --- Identity ---

func (p *Settings) DeviceID(ctx context.Context) string {
	return p.getString(ctx, KeyDeviceID, "")
}

func (p *Settings) SetDeviceID(ctx context.Context, id string) error {
	return p.set(ctx, KeyDeviceID, id)
}

// RegisteredAt returns when the device last completed a registration check.
func (p *Settings) RegisteredAt(ctx context.Context) (time.Time, bool) {
	ms := p.getInt(ctx, KeyRegisteredAt, 0)
	if ms == 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(int64(ms)), true
}

func (p *Settings) SetRegisteredAt(ctx context.Context, t time.Time) error {
	return p.set(ctx, KeyRegisteredAt, strconv.FormatInt(t.UnixMilli(), 10))
}

// --- Profile ---

func (p *Settings) Profile(ctx context.Context) Profile {
	return Profile{
		UName:  p.getString(ctx, KeyUName, ""),
		Name:   p.getString(ctx, KeyName, ""),
		CN:     p.getString(ctx, KeyCN, ""),
		Glider: p.getString(ctx, KeyGlider, ""),
		Tail:   p.getString(ctx, KeyTail, ""),
	}
}

func (p *Settings) SetProfile(ctx context.Context, pr Profile) error {
	for key, val := range map[string]string{
		KeyUName:  pr.UName,
		KeyName:   pr.Name,
		KeyCN:     pr.CN,
		KeyGlider: pr.Glider,
		KeyTail:   pr.Tail,
	} {
		if err := p.set(ctx, key, val); err != nil {
			return err
		}
	}
	return nil
}

// --- Messages ---

// QuickMessages returns recently sent messages, most recent first.
func (p *Settings) QuickMessages(ctx context.Context) []string {
	raw := p.getString(ctx, KeyQuickMessages, "")
	if raw == "" {
		return nil
	}
	var msgs []string
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		return nil
	}
	return msgs
}

// RememberMessage moves text to the front of the quick message list.
func (p *Settings) RememberMessage(ctx context.Context, text string) error {
	msgs := p.QuickMessages(ctx)
	msgs = slices.DeleteFunc(msgs, func(m string) bool { return m == text })
	msgs = append([]string{text}, msgs...)
	if len(msgs) > MaxQuickMessages {
		msgs = msgs[:MaxQuickMessages]
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return err
	}
	return p.set(ctx, KeyQuickMessages, string(data))
}

// --- Runtime switches ---

// Debug reports whether raw logging and transfer annotations are on.
func (p *Settings) Debug(ctx context.Context) bool {
	return p.getBool(ctx, KeyDebug, p.base.Pipeline.RawLogging)
}

func (p *Settings) SetDebug(ctx context.Context, on bool) error {
	return p.set(ctx, KeyDebug, strconv.FormatBool(on))
}

// APIURL returns the endpoint base URL, preferring a stored override.
func (p *Settings) APIURL(ctx context.Context) string {
	return p.getString(ctx, KeyAPIURL, p.base.API.URL)
}

func (p *Settings) SetAPIURL(ctx context.Context, u string) error {
	return p.set(ctx, KeyAPIURL, u)
}

// --- Helpers ---

func (p *Settings) set(ctx context.Context, key, val string) error {
	if p.store == nil {
		return fmt.Errorf("no state store for %s", key)
	}
	return p.store.SetState(ctx, key, val)
}

func (p *Settings) getString(ctx context.Context, key, fallback string) string {
	if p.store != nil {
		if val, ok := p.store.GetState(ctx, key); ok && val != "" {
			return val
		}
	}
	return fallback
}

func (p *Settings) getInt(ctx context.Context, key string, fallback int) int {
	if p.store != nil {
		if val, ok := p.store.GetState(ctx, key); ok && val != "" {
			if i, err := strconv.Atoi(val); err == nil {
				return i
			}
		}
	}
	return fallback
}

func (p *Settings) getBool(ctx context.Context, key string, fallback bool) bool {
	if p.store != nil {
		if val, ok := p.store.GetState(ctx, key); ok && val != "" {
			return val == "true"
		}
	}
	return fallback
}
