package mqtt

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"glidetrack/pkg/config"
	"glidetrack/pkg/fix"
	"glidetrack/pkg/sensor"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr bool
		check   func(t *testing.T, f fix.RawFix)
	}{
		{
			name:    "Full",
			payload: `{"time":"2024-06-01T10:00:00.5Z","lat":47.1,"lon":8.2,"alt":812,"speed":9.5,"track":270,"hacc":4,"vacc":6}`,
			check: func(t *testing.T, f fix.RawFix) {
				wantTime := time.Date(2024, 6, 1, 10, 0, 0, 500*int(time.Millisecond), time.UTC)
				if !f.Time.Equal(wantTime) {
					t.Errorf("Time = %v, want %v", f.Time, wantTime)
				}
				want := fix.RawFix{Lat: 47.1, Lon: 8.2, Alt: 812, Speed: 9.5, Track: 270, HAcc: 4, VAcc: 6}
				want.Time = f.Time
				if f != want {
					t.Errorf("Decode() = %+v, want %+v", f, want)
				}
			},
		},
		{
			name:    "Position only",
			payload: `{"time":"2024-06-01T10:00:00Z","lat":47.1,"lon":8.2,"track":null}`,
			check: func(t *testing.T, f fix.RawFix) {
				for name, v := range map[string]float64{"alt": f.Alt, "speed": f.Speed, "track": f.Track, "hacc": f.HAcc} {
					if !math.IsNaN(v) {
						t.Errorf("%s = %v, want NaN", name, v)
					}
				}
				if f.VAcc != 0 {
					t.Errorf("VAcc = %v, want 0", f.VAcc)
				}
				v := fix.NewValidator(fix.DefaultValidatorConfig(), func() time.Time { return f.Time })
				if got := v.Check(&f, nil); got != fix.StatusNoAlt {
					t.Errorf("Check() = %q, want %q", got, fix.StatusNoAlt)
				}
			},
		},
		{name: "Missing time", payload: `{"lat":47.1,"lon":8.2}`, wantErr: true},
		{name: "Missing position", payload: `{"time":"2024-06-01T10:00:00Z","lat":47.1}`, wantErr: true},
		{name: "Not JSON", payload: `$GPRMC`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Decode([]byte(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Decode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				tt.check(t, f)
			}
		})
	}
}

type fakeMessage struct {
	mqtt.Message
	payload []byte
}

func (m fakeMessage) Payload() []byte { return m.payload }
func (m fakeMessage) Topic() string   { return "glidetrack/fix" }

func TestHandler(t *testing.T) {
	now := time.Date(2024, 6, 1, 10, 0, 1, 0, time.UTC)
	p := New(config.MQTTConfig{Topic: "glidetrack/fix"})
	if p.Name() != "mqtt" {
		t.Errorf("Name() = %q, want mqtt", p.Name())
	}

	var got []fix.RawFix
	gate := sensor.NewGate(sensor.Options{MaxFixAge: 2 * time.Second}, sensor.Handler{
		OnFix: func(f fix.RawFix) { got = append(got, f) },
	}, func() time.Time { return now })
	h := p.handler(gate)

	h(nil, fakeMessage{payload: []byte(`{"time":"2024-06-01T10:00:00Z","lat":47.1,"lon":8.2}`)})
	h(nil, fakeMessage{payload: []byte(`{"time":"2024-06-01T09:00:00Z","lat":47.1,"lon":8.2}`)})
	h(nil, fakeMessage{payload: []byte(`broken`)})

	if len(got) != 1 {
		t.Fatalf("expected stale and malformed messages to be dropped, got %d fixes", len(got))
	}
	if got[0].Lat != 47.1 {
		t.Errorf("Lat = %v, want 47.1", got[0].Lat)
	}
}

func TestWatch_UnreachableBroker(t *testing.T) {
	p := New(config.MQTTConfig{Broker: "tcp://127.0.0.1:1", Topic: "glidetrack/fix", ClientID: "test"})
	p.retry = 10 * time.Millisecond

	errs := make(chan *sensor.Error, 8)
	start := time.Now()
	w, err := p.Watch(context.Background(), sensor.Options{}, sensor.Handler{
		OnError: func(e *sensor.Error) {
			select {
			case errs <- e:
			default:
			}
		},
	})
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if d := time.Since(start); d > time.Second {
		t.Errorf("Watch() blocked for %v", d)
	}

	for i := 0; i < 2; i++ {
		select {
		case e := <-errs:
			if e.Code != sensor.CodeUnavailable {
				t.Errorf("error code = %d, want %d", e.Code, sensor.CodeUnavailable)
			}
			if e.Fatal() {
				t.Error("connect failure must not be fatal")
			}
			if !strings.Contains(e.Message, "127.0.0.1:1") {
				t.Errorf("message %q does not name the broker", e.Message)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("connect failure %d not reported", i+1)
		}
	}

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return while reconnecting")
	}
}
