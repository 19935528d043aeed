package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvAPIURL overrides API.URL when set.
const EnvAPIURL = "GLIDETRACK_API_URL"

// Config holds the application configuration.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	DB       DBConfig       `yaml:"db"`
	Server   ServerConfig   `yaml:"server"`
	API      APIConfig      `yaml:"api"`
	Sensor   SensorConfig   `yaml:"sensor"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Transfer TransferConfig `yaml:"transfer"`
	Track    TrackConfig    `yaml:"track"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Server   LogSettings `yaml:"server"`
	Requests LogSettings `yaml:"requests"`
	Trace    bool        `yaml:"trace"`
}

// LogSettings holds settings for a specific logger.
type LogSettings struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// DBConfig holds database settings.
type DBConfig struct {
	Path           string   `yaml:"path"`
	TrackRetention Duration `yaml:"track_retention"`
}

// ServerConfig holds local HTTP server settings.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// APIConfig holds remote endpoint settings.
type APIConfig struct {
	URL                 string   `yaml:"url"`
	RegistrationTimeout Duration `yaml:"registration_timeout"`
	RegistrationRetry   Duration `yaml:"registration_retry"`
}

// SensorConfig selects and configures the position source.
type SensorConfig struct {
	Provider     string       `yaml:"provider"` // "nmea", "replay", "mqtt"
	HighAccuracy bool         `yaml:"high_accuracy"`
	Timeout      Duration     `yaml:"timeout"`
	MaxFixAge    Duration     `yaml:"max_fix_age"`
	NMEA         NMEAConfig   `yaml:"nmea"`
	Replay       ReplayConfig `yaml:"replay"`
	MQTT         MQTTConfig   `yaml:"mqtt"`
}

// NMEAConfig holds serial GPS receiver settings.
type NMEAConfig struct {
	Port     string   `yaml:"port"`
	Baud     uint     `yaml:"baud"`
	UERE     Distance `yaml:"uere"` // range error per unit of DOP
	Reopen   Duration `yaml:"reopen"`
	DataBits uint     `yaml:"data_bits"`
	StopBits uint     `yaml:"stop_bits"`
}

// ReplayConfig holds settings for replaying a recorded IGC file.
type ReplayConfig struct {
	File string  `yaml:"file"`
	Rate float64 `yaml:"rate"` // playback speed multiplier
	Loop bool    `yaml:"loop"`
}

// MQTTConfig holds settings for a networked fix feed.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      byte   `yaml:"qos"`
}

// PipelineConfig holds the fix filtering, mode and resampling thresholds.
type PipelineConfig struct {
	BufferSize int `yaml:"buffer_size"`

	StaleTime                   Duration `yaml:"stale_time"`
	MinAccuracy                 Distance `yaml:"min_accuracy"`
	MinAltAccuracy              Distance `yaml:"min_alt_accuracy"`
	MaxSpeed                    Speed    `yaml:"max_speed"`
	MaxSpeedDiscrepancy         Speed    `yaml:"max_speed_discrepancy"`
	MaxSpeedDiscrepancyInterval Duration `yaml:"max_speed_discrepancy_interval"`

	WarmMinTime          Duration `yaml:"warm_min_time"`
	WarmMinCount         int      `yaml:"warm_min_count"`
	WarmMaxTimeGap       Duration `yaml:"warm_max_timegap"`
	ColdMaxTimeGap       Duration `yaml:"cold_max_timegap"`
	MinMovingGroundSpeed Speed    `yaml:"min_moving_groundspeed"`
	GSStationaryTime     Duration `yaml:"gs_stationary_time"`
	GSMovingTime         Duration `yaml:"gs_moving_time"`

	MoveBackTime  Duration `yaml:"move_back_time"`
	F2FMaxTimeGap Duration `yaml:"f2f_max_timegap"`
	FixInterval   Duration `yaml:"fix_interval"`

	RawLogging bool     `yaml:"raw_logging"`
	RestartGap Duration `yaml:"restart_gap"`
}

// TransferConfig holds upload timings.
type TransferConfig struct {
	Timeout         Duration `yaml:"timeout"`
	NominalInterval Duration `yaml:"nominal_interval"`
	MessageInterval Duration `yaml:"message_interval"`
	RetryInterval   Duration `yaml:"retry_interval"`
}

// TrackConfig holds encoding options.
type TrackConfig struct {
	ExtendedFields bool   `yaml:"extended_fields"`
	DebugInfo      bool   `yaml:"debug_info"`
	Hardware       string `yaml:"hardware"`
	Firmware       string `yaml:"firmware"`
	HistorySize    int    `yaml:"history_size"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Server: LogSettings{
				Path:  "./logs/server.log",
				Level: "INFO",
			},
			Requests: LogSettings{
				Path:  "./logs/requests.log",
				Level: "INFO",
			},
		},
		DB: DBConfig{
			Path:           "./data/glidetrack.db",
			TrackRetention: Duration(30 * Day),
		},
		Server: ServerConfig{
			Address: "localhost:2523",
		},
		API: APIConfig{
			URL:                 "https://glidetrack.example.org/api",
			RegistrationTimeout: Duration(30 * time.Second),
			RegistrationRetry:   Duration(10 * time.Second),
		},
		Sensor: SensorConfig{
			Provider:     "nmea",
			HighAccuracy: true,
			Timeout:      Duration(10 * time.Second),
			MaxFixAge:    Duration(1 * time.Second),
			NMEA: NMEAConfig{
				Port:     "/dev/ttyUSB0",
				Baud:     9600,
				UERE:     Distance(5),
				Reopen:   Duration(5 * time.Second),
				DataBits: 8,
				StopBits: 1,
			},
			Replay: ReplayConfig{
				Rate: 1,
			},
			MQTT: MQTTConfig{
				Broker:   "tcp://localhost:1883",
				Topic:    "glidetrack/fix",
				ClientID: "glidetrack",
			},
		},
		Pipeline: PipelineConfig{
			BufferSize:                  300,
			StaleTime:                   Duration(2 * time.Second),
			MinAccuracy:                 Distance(30),
			MinAltAccuracy:              Distance(30),
			MaxSpeed:                    Speed(150),
			MaxSpeedDiscrepancy:         Speed(10),
			MaxSpeedDiscrepancyInterval: Duration(2 * time.Second),
			WarmMinTime:                 Duration(10 * time.Second),
			WarmMinCount:                5,
			WarmMaxTimeGap:              Duration(8 * time.Second),
			ColdMaxTimeGap:              Duration(3 * time.Second),
			MinMovingGroundSpeed:        Speed(5),
			GSStationaryTime:            Duration(10 * time.Second),
			GSMovingTime:                Duration(60 * time.Second),
			MoveBackTime:                Duration(15 * time.Second),
			F2FMaxTimeGap:               Duration(8 * time.Second),
			FixInterval:                 Duration(4 * time.Second),
			RestartGap:                  Duration(15 * time.Minute),
		},
		Transfer: TransferConfig{
			Timeout:         Duration(30 * time.Second),
			NominalInterval: Duration(120 * time.Second),
			MessageInterval: Duration(10 * time.Second),
			RetryInterval:   Duration(30 * time.Second),
		},
		Track: TrackConfig{
			ExtendedFields: true,
			DebugInfo:      true,
			Hardware:       "glidetrack",
			HistorySize:    16,
		},
	}
}

// Load loads the configuration from the given path.
// If the file does not exist, it creates it with default values.
// If the file exists, it merges defaults with existing values but does NOT save back to disk.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if err := Save(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to save config file: %w", err)
	}

	// Env wins over the file but is never written back
	if u := os.Getenv(EnvAPIURL); u != "" {
		cfg.API.URL = u
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var reProvider = regexp.MustCompile(`^(nmea|replay|mqtt)$`)

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if !reProvider.MatchString(c.Sensor.Provider) {
		return fmt.Errorf("invalid sensor provider '%s': must be nmea, replay or mqtt", c.Sensor.Provider)
	}
	if c.Pipeline.BufferSize < 2 {
		return fmt.Errorf("pipeline.buffer_size must be at least 2, got %d", c.Pipeline.BufferSize)
	}
	if c.Pipeline.FixInterval <= 0 {
		return fmt.Errorf("pipeline.fix_interval must be positive")
	}
	if c.Sensor.Provider == "replay" && c.Sensor.Replay.Rate <= 0 {
		return fmt.Errorf("sensor.replay.rate must be positive")
	}
	if !strings.HasPrefix(c.API.URL, "http://") && !strings.HasPrefix(c.API.URL, "https://") {
		return fmt.Errorf("invalid api.url '%s'", c.API.URL)
	}
	return nil
}

// Save writes the configuration to the path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# GlideTrack Configuration
# ------------------------
# Supported Units:
#   Duration: ns, us (or µs), ms, s, m, h, d (day), w (week)
#   Distance: m (meters), km (kilometers), nm (nautical miles), ft (feet)
#   Speed:    m/s, km/h, kt

`)
	data = append(header, data...)

	// Inject comments for enum fields
	reProv := regexp.MustCompile(`(?m)^(\s+)provider:`)
	data = reProv.ReplaceAll(data, []byte("${1}# Options: nmea, replay, mqtt\n${1}provider:"))

	reRaw := regexp.MustCompile(`(?m)^(\s+)raw_logging:`)
	data = reRaw.ReplaceAll(data, []byte("${1}# Record every fix unfiltered (diagnostics)\n${1}raw_logging:"))

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateDefault creates a default config file at the given path.
// Returns nil if the file already exists.
func GenerateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil // File exists, do nothing
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return Save(path, DefaultConfig())
}
