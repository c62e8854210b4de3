// Package config provides configuration management for rollcall.
// It loads configuration from YAML files with sensible defaults and
// lets ROLLCALL_* environment variables override individual settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds all rollcall configuration.
type Config struct {
	Camera      CameraConfig      `yaml:"camera"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Liveness    LivenessConfig    `yaml:"liveness"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Storage     StorageConfig     `yaml:"storage"`
	Attendance  AttendanceConfig  `yaml:"attendance"`
	Events      EventsConfig      `yaml:"events"`
	Status      StatusConfig      `yaml:"status"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// CameraConfig holds camera settings.
type CameraConfig struct {
	Device      string  `yaml:"device" env:"ROLLCALL_CAMERA_DEVICE"`
	Width       int     `yaml:"width" env:"ROLLCALL_CAMERA_WIDTH"`
	Height      int     `yaml:"height" env:"ROLLCALL_CAMERA_HEIGHT"`
	FPS         int     `yaml:"fps" env:"ROLLCALL_CAMERA_FPS"`
	InputFormat string  `yaml:"input_format" env:"ROLLCALL_CAMERA_INPUT_FORMAT"`
	Scale       float64 `yaml:"scale" env:"ROLLCALL_CAMERA_SCALE"` // downscale factor applied before detection
}

// RecognitionConfig holds matching and oracle settings.
type RecognitionConfig struct {
	DistanceThreshold float64  `yaml:"distance_threshold" env:"ROLLCALL_DISTANCE_THRESHOLD"`
	MinVotes          int      `yaml:"min_votes" env:"ROLLCALL_MIN_VOTES"`
	Oracle            string   `yaml:"oracle" env:"ROLLCALL_ORACLE"`
	ModelPath         string   `yaml:"model_path" env:"ROLLCALL_MODEL_PATH"`
	WorkerCommand     []string `yaml:"worker_command" env:"ROLLCALL_WORKER_COMMAND" envSeparator:" "`
}

// LivenessConfig holds blink detection settings.
type LivenessConfig struct {
	BlinkThreshold            float64 `yaml:"blink_threshold" env:"ROLLCALL_BLINK_THRESHOLD"`
	ConsecutiveFramesRequired int     `yaml:"consecutive_frames_required" env:"ROLLCALL_CONSECUTIVE_FRAMES_REQUIRED"`
	EvictAfterFrames          int     `yaml:"evict_after_frames" env:"ROLLCALL_EVICT_AFTER_FRAMES"`
	FreshSamplesOnly          bool    `yaml:"fresh_samples_only" env:"ROLLCALL_FRESH_SAMPLES_ONLY"` // skip frames that reuse old detections
}

// PipelineConfig holds frame loop settings.
type PipelineConfig struct {
	FrameSkip      int  `yaml:"frame_skip" env:"ROLLCALL_FRAME_SKIP"`
	AsyncDetection bool `yaml:"async_detection" env:"ROLLCALL_ASYNC_DETECTION"`
}

// StorageConfig holds the locations of the reference data read at startup.
type StorageConfig struct {
	EncodingsFile     string `yaml:"encodings_file" env:"ROLLCALL_ENCODINGS_FILE"`
	EncryptionEnabled bool   `yaml:"encryption_enabled" env:"ROLLCALL_ENCRYPTION_ENABLED"`
	DirectoryFile     string `yaml:"directory_file" env:"ROLLCALL_DIRECTORY_FILE"`
}

// AttendanceConfig holds ledger settings.
type AttendanceConfig struct {
	Backend     string `yaml:"backend" env:"ROLLCALL_ATTENDANCE_BACKEND"`
	Dir         string `yaml:"dir" env:"ROLLCALL_ATTENDANCE_DIR"`
	DatabaseURL string `yaml:"database_url" env:"ROLLCALL_DATABASE_URL"`
}

// EventsConfig holds the MQTT publisher settings. An empty broker disables publishing.
type EventsConfig struct {
	MQTTBroker   string `yaml:"mqtt_broker" env:"ROLLCALL_MQTT_BROKER"`
	MQTTTopic    string `yaml:"mqtt_topic" env:"ROLLCALL_MQTT_TOPIC"`
	MQTTUsername string `yaml:"mqtt_username" env:"ROLLCALL_MQTT_USERNAME"`
	MQTTPassword string `yaml:"mqtt_password" env:"ROLLCALL_MQTT_PASSWORD"`
}

// StatusConfig holds the status server settings. An empty address disables it.
type StatusConfig struct {
	Listen string `yaml:"listen" env:"ROLLCALL_STATUS_LISTEN"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"ROLLCALL_LOG_LEVEL"`
	File   string `yaml:"file" env:"ROLLCALL_LOG_FILE"`
	Format string `yaml:"format" env:"ROLLCALL_LOG_FORMAT"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".local/share/rollcall")
	return &Config{
		Camera: CameraConfig{
			Device:      "/dev/video0",
			Width:       640,
			Height:      480,
			FPS:         30,
			InputFormat: "mjpeg",
			Scale:       0.25,
		},
		Recognition: RecognitionConfig{
			DistanceThreshold: 0.50,
			MinVotes:          2,
			Oracle:            "dlib",
			ModelPath:         filepath.Join(dataDir, "models"),
		},
		Liveness: LivenessConfig{
			BlinkThreshold:            0.23,
			ConsecutiveFramesRequired: 2,
			EvictAfterFrames:          900,
			FreshSamplesOnly:          false,
		},
		Pipeline: PipelineConfig{
			FrameSkip:      3,
			AsyncDetection: true,
		},
		Storage: StorageConfig{
			EncodingsFile:     filepath.Join(dataDir, "encodings.json"),
			EncryptionEnabled: false,
			DirectoryFile:     filepath.Join(dataDir, "directory.csv"),
		},
		Attendance: AttendanceConfig{
			Backend: "csv",
			Dir:     filepath.Join(dataDir, "attendance"),
		},
		Events: EventsConfig{
			MQTTTopic: "rollcall/attendance",
		},
		Logging: LoggingConfig{
			Level:  "info",
			File:   filepath.Join(dataDir, "rollcall.log"),
			Format: "text",
		},
	}
}

// Load loads configuration from the specified file on top of the defaults.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return config, err
	}

	return config, nil
}

// LoadDefault tries to load configuration from default locations.
func LoadDefault() (*Config, error) {
	if _, err := os.Stat("/etc/rollcall/rollcall.yaml"); err == nil {
		return Load("/etc/rollcall/rollcall.yaml")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return DefaultConfig(), nil
	}

	userConfig := filepath.Join(homeDir, ".config/rollcall/rollcall.yaml")
	if _, err := os.Stat(userConfig); err == nil {
		return Load(userConfig)
	}

	return DefaultConfig(), nil
}

// ApplyEnv overrides settings from ROLLCALL_* environment variables.
// Variables that are unset leave the current value untouched.
func (c *Config) ApplyEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// ExpandPath expands ~ and environment variables in a path.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return fmt.Errorf("invalid camera resolution: %dx%d", c.Camera.Width, c.Camera.Height)
	}
	if c.Camera.FPS <= 0 {
		return fmt.Errorf("invalid camera FPS: %d", c.Camera.FPS)
	}
	if c.Camera.Scale <= 0 || c.Camera.Scale > 1 {
		return fmt.Errorf("camera scale must be in (0, 1], got %f", c.Camera.Scale)
	}

	if c.Recognition.DistanceThreshold <= 0 {
		return fmt.Errorf("distance_threshold must be positive, got %f", c.Recognition.DistanceThreshold)
	}
	if c.Recognition.MinVotes < 1 {
		return fmt.Errorf("min_votes must be at least 1, got %d", c.Recognition.MinVotes)
	}
	switch c.Recognition.Oracle {
	case "dlib":
	case "worker":
		if len(c.Recognition.WorkerCommand) == 0 {
			return fmt.Errorf("worker_command is required for the worker oracle")
		}
	default:
		return fmt.Errorf("invalid oracle: %s (must be dlib or worker)", c.Recognition.Oracle)
	}

	if c.Liveness.BlinkThreshold <= 0 || c.Liveness.BlinkThreshold >= 1 {
		return fmt.Errorf("blink_threshold must be between 0 and 1, got %f", c.Liveness.BlinkThreshold)
	}
	if c.Liveness.ConsecutiveFramesRequired < 1 {
		return fmt.Errorf("consecutive_frames_required must be at least 1, got %d", c.Liveness.ConsecutiveFramesRequired)
	}
	if c.Liveness.EvictAfterFrames < 0 {
		return fmt.Errorf("evict_after_frames must not be negative, got %d", c.Liveness.EvictAfterFrames)
	}

	if c.Pipeline.FrameSkip < 0 {
		return fmt.Errorf("frame_skip must not be negative, got %d", c.Pipeline.FrameSkip)
	}

	switch c.Attendance.Backend {
	case "csv":
		if c.Attendance.Dir == "" {
			return fmt.Errorf("attendance dir is required for the csv backend")
		}
	case "postgres":
		if c.Attendance.DatabaseURL == "" {
			return fmt.Errorf("database_url is required for the postgres backend")
		}
	default:
		return fmt.Errorf("invalid attendance backend: %s (must be csv or postgres)", c.Attendance.Backend)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}

// ExpandPaths expands all paths in the configuration.
func (c *Config) ExpandPaths() {
	c.Camera.Device = ExpandPath(c.Camera.Device)
	c.Recognition.ModelPath = ExpandPath(c.Recognition.ModelPath)
	c.Storage.EncodingsFile = ExpandPath(c.Storage.EncodingsFile)
	c.Storage.DirectoryFile = ExpandPath(c.Storage.DirectoryFile)
	c.Attendance.Dir = ExpandPath(c.Attendance.Dir)
	c.Logging.File = ExpandPath(c.Logging.File)
}

// EnsureDirectories creates the directories rollcall writes into.
func (c *Config) EnsureDirectories() error {
	if c.Attendance.Backend == "csv" {
		if err := os.MkdirAll(c.Attendance.Dir, 0755); err != nil {
			return fmt.Errorf("failed to create attendance directory: %w", err)
		}
	}

	if c.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(c.Logging.File), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	return nil
}
