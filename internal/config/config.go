package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"headingup/internal/fusion"
)

type Config struct {
	Listen  string        `yaml:"listen"`
	Log     LogConfig     `yaml:"log"`
	Storage StorageConfig `yaml:"storage"`
	Fusion  FusionConfig  `yaml:"fusion"`
	GPS     GPSConfig     `yaml:"gps"`
	Sim     SimConfig     `yaml:"sim"`
	UDP     UDPConfig     `yaml:"udp"`
	Map     MapConfig     `yaml:"map"`
	Record  RecordConfig  `yaml:"record"`
	Replay  ReplayConfig  `yaml:"replay"`
}

type LogConfig struct {
	// Level is a zerolog level name: debug, info, warn, error.
	Level string `yaml:"level"`
}

type StorageConfig struct {
	// Backend is one of file, sqlite or memory.
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

type FusionConfig struct {
	FrameInterval         time.Duration `yaml:"frame_interval"`
	MovingSpeedMS         float64       `yaml:"moving_speed_ms"`
	MaxCompassAccuracyDeg float64       `yaml:"max_compass_accuracy_deg"`
	CourseHoldoff         time.Duration `yaml:"course_holdoff"`
}

type GPSConfig struct {
	Enable bool `yaml:"enable"`

	// Source selects how GPS is ingested: "nmea" (direct serial) or "gpsd".
	Source   string `yaml:"source"`
	GPSDAddr string `yaml:"gpsd_addr"`

	// Device may be empty to auto-detect.
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`
}

type SimConfig struct {
	Enable       bool          `yaml:"enable"`
	CenterLatDeg float64       `yaml:"center_lat_deg"`
	CenterLonDeg float64       `yaml:"center_lon_deg"`
	RadiusM      float64       `yaml:"radius_m"`
	Period       time.Duration `yaml:"period"`
	// PauseFraction of each lap is spent standing still.
	PauseFraction    float64 `yaml:"pause_fraction"`
	CompassJitterDeg float64 `yaml:"compass_jitter_deg"`
	// ScenarioPath replaces the figure-eight walk with a keyframe script.
	ScenarioPath string `yaml:"scenario_path"`
}

type UDPConfig struct {
	Enable bool   `yaml:"enable"`
	Dest   string `yaml:"dest"`
}

// RecordConfig writes every sensor event to a session log.
type RecordConfig struct {
	Enable bool   `yaml:"enable"`
	Path   string `yaml:"path"`
}

// ReplayConfig plays a session log back as the sensor source.
type ReplayConfig struct {
	Enable bool    `yaml:"enable"`
	Path   string  `yaml:"path"`
	Speed  float64 `yaml:"speed"`
	Loop   bool    `yaml:"loop"`
}

type MapConfig struct {
	FlyToZoom float64 `yaml:"fly_to_zoom"`
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

// Parse decodes YAML strictly; unknown keys are an error.
func Parse(b []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		if strings.Contains(err.Error(), "not found in type") {
			return Config{}, fmt.Errorf("config contains unknown fields: %s", trimYAMLPrefix(err.Error()))
		}
		return Config{}, err
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the config used when no file is given: browser sensors
// only, with waypoints and calibration kept in ./headingup.yaml.db.
func Default() Config {
	var cfg Config
	_ = DefaultAndValidate(&cfg)
	return cfg
}

func trimYAMLPrefix(msg string) string {
	// yaml.v3 reports "yaml: unmarshal errors:\n  line N: field x not found in type T".
	if i := strings.LastIndex(msg, "field "); i >= 0 {
		return msg[i:]
	}
	return msg
}

// DefaultAndValidate fills defaults in place and rejects invalid values.
func DefaultAndValidate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is required")
	}

	cfg.Listen = strings.TrimSpace(cfg.Listen)
	if cfg.Listen == "" {
		cfg.Listen = "127.0.0.1:8080"
	}

	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	switch cfg.Log.Level {
	case "":
		cfg.Log.Level = "info"
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}

	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	switch cfg.Storage.Backend {
	case "":
		cfg.Storage.Backend = "file"
	case "file", "sqlite", "memory":
	default:
		return fmt.Errorf("storage.backend must be one of file, sqlite, memory")
	}
	if cfg.Storage.Backend != "memory" && strings.TrimSpace(cfg.Storage.Path) == "" {
		switch cfg.Storage.Backend {
		case "file":
			cfg.Storage.Path = "./headingup.yaml.db"
		case "sqlite":
			cfg.Storage.Path = "./headingup.sqlite"
		}
	}

	f := &cfg.Fusion
	if f.FrameInterval < 0 {
		return fmt.Errorf("fusion.frame_interval must be >= 0")
	}
	if f.FrameInterval == 0 {
		f.FrameInterval = fusion.DefaultFrameInterval
	}
	if f.MovingSpeedMS < 0 || math.IsNaN(f.MovingSpeedMS) {
		return fmt.Errorf("fusion.moving_speed_ms must be >= 0")
	}
	if f.MovingSpeedMS == 0 {
		f.MovingSpeedMS = fusion.DefaultMovingSpeedMS
	}
	if f.MaxCompassAccuracyDeg < 0 || math.IsNaN(f.MaxCompassAccuracyDeg) {
		return fmt.Errorf("fusion.max_compass_accuracy_deg must be >= 0")
	}
	if f.MaxCompassAccuracyDeg == 0 {
		f.MaxCompassAccuracyDeg = fusion.DefaultMaxCompassAccuracyDeg
	}
	if f.CourseHoldoff < 0 {
		return fmt.Errorf("fusion.course_holdoff must be >= 0")
	}

	g := &cfg.GPS
	g.Source = strings.ToLower(strings.TrimSpace(g.Source))
	if g.Source == "" {
		g.Source = "nmea"
	}
	if g.Source != "nmea" && g.Source != "gpsd" {
		return fmt.Errorf("gps.source must be 'nmea' or 'gpsd'")
	}
	if g.Source == "gpsd" && strings.TrimSpace(g.GPSDAddr) == "" {
		g.GPSDAddr = "127.0.0.1:2947"
	}
	if g.Baud < 0 {
		return fmt.Errorf("gps.baud must be > 0")
	}
	if g.Baud == 0 {
		g.Baud = 9600
	}

	s := &cfg.Sim
	if s.CenterLatDeg < -90 || s.CenterLatDeg > 90 {
		return fmt.Errorf("sim.center_lat_deg must be within [-90, 90]")
	}
	if s.CenterLonDeg < -180 || s.CenterLonDeg > 180 {
		return fmt.Errorf("sim.center_lon_deg must be within [-180, 180]")
	}
	if s.RadiusM <= 0 {
		s.RadiusM = 150
	}
	if s.Period <= 0 {
		s.Period = 4 * time.Minute
	}
	if s.PauseFraction < 0 || s.PauseFraction >= 1 {
		return fmt.Errorf("sim.pause_fraction must be within [0, 1)")
	}
	if s.CompassJitterDeg < 0 {
		return fmt.Errorf("sim.compass_jitter_deg must be >= 0")
	}
	if s.Enable && g.Enable {
		return fmt.Errorf("sim.enable and gps.enable cannot both be true")
	}

	if cfg.UDP.Enable && strings.TrimSpace(cfg.UDP.Dest) == "" {
		return fmt.Errorf("udp.dest is required when udp.enable is true")
	}

	if cfg.Record.Enable && strings.TrimSpace(cfg.Record.Path) == "" {
		return fmt.Errorf("record.path is required when record.enable is true")
	}
	if cfg.Replay.Enable {
		if strings.TrimSpace(cfg.Replay.Path) == "" {
			return fmt.Errorf("replay.path is required when replay.enable is true")
		}
		if cfg.Replay.Speed == 0 {
			cfg.Replay.Speed = 1
		}
		if cfg.Replay.Speed < 0 {
			return fmt.Errorf("replay.speed must be > 0")
		}
		if s.Enable {
			return fmt.Errorf("replay and sim cannot both be enabled")
		}
	}
	if cfg.Record.Enable && cfg.Replay.Enable {
		return fmt.Errorf("record and replay cannot both be enabled")
	}

	if cfg.Map.FlyToZoom < 0 {
		return fmt.Errorf("map.fly_to_zoom must be > 0")
	}
	if cfg.Map.FlyToZoom == 0 {
		cfg.Map.FlyToZoom = 18
	}

	return nil
}
