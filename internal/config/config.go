// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker           string
	MQTTClientIDProducer string
	MQTTClientIDConsole  string
	MQTTClientIDWeb      string
	MQTTClientIDDisplay  string

	// Topics
	TopicPose      string // smoothed orientation (what game code consumes)
	TopicPoseFused string // complementary filter output before smoothing
	TopicIMU       string // raw sample of the last tick
	TopicStatus    string // estimator status snapshot
	TopicControl   string // "reset" / "recalibrate" commands

	// IMU Hardware
	IMUI2CBus  string // "" = first available bus
	IMUI2CAddr uint16

	// IMU Sensor Ranges
	// Accelerometer: 0=±2g, 1=±4g, 2=±8g, 3=±16g
	IMUAccelRange byte
	// Gyroscope: 0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s
	IMUGyroRange byte

	// IMU Sample Rate Configuration
	IMUDLPFConfig    byte // Digital Low Pass Filter configuration (0-6)
	IMUSampleRateDiv byte // Sample rate divider (output rate = internal rate / (1 + div))

	// Calibration
	CalibrationFile       string
	CalibrationSamples    int
	CalibrationIntervalMS int
	CalibrationAxis       int // 0=X, 1=Y, 2=Z

	// Filters
	FilterAccelAlpha   float64
	FilterGyroAlpha    float64
	ComplementaryAlpha float64
	SmoothingAlpha     float64 // 0 disables output smoothing
	TiltClampG         float64

	// Drift correction
	DriftCorrection        bool
	DriftStillSamples      int
	DriftNudge             float64
	DriftAccelTolerance    float64
	DriftVerticalTolerance float64
	DriftGyroTolerance     float64

	// Timing
	IMUSampleInterval  int // milliseconds
	ConsoleLogInterval int // milliseconds

	// Web Server / metrics
	WebServerPort int
	MetricsPort   int // 0 disables the producer /metrics endpoint

	// Display
	DisplayI2CBus         string
	DisplayUpdateInterval int // milliseconds

	// Logging
	LogLevel string
}

// Default returns a Config populated with the values the estimator was tuned with.
func Default() *Config {
	return &Config{
		MQTTBroker:           "tcp://localhost:1883",
		MQTTClientIDProducer: "palm-pilot-producer",
		MQTTClientIDConsole:  "palm-pilot-console",
		MQTTClientIDWeb:      "palm-pilot-web",
		MQTTClientIDDisplay:  "palm-pilot-display",

		TopicPose:      "palm/pose",
		TopicPoseFused: "palm/pose/fused",
		TopicIMU:       "palm/imu",
		TopicStatus:    "palm/status",
		TopicControl:   "palm/control",

		IMUI2CAddr:       0x68,
		IMUDLPFConfig:    3,
		IMUSampleRateDiv: 4,

		CalibrationFile:       "mpu_calib.json",
		CalibrationSamples:    200,
		CalibrationIntervalMS: 10,
		CalibrationAxis:       2,

		FilterAccelAlpha:   0.3,
		FilterGyroAlpha:    0.7,
		ComplementaryAlpha: 0.98,
		SmoothingAlpha:     0.1,
		TiltClampG:         0.2,

		DriftStillSamples:      50,
		DriftNudge:             0.01,
		DriftAccelTolerance:    0.05,
		DriftVerticalTolerance: 0.1,
		DriftGyroTolerance:     0.5,

		IMUSampleInterval:  20,
		ConsoleLogInterval: 100,

		WebServerPort: 8080,
		MetricsPort:   9100,

		DisplayUpdateInterval: 200,

		LogLevel: "info",
	}
}

// Package-level unexported variables for singleton pattern:
//   - globalConfig: only reachable through InitGlobal/Get.
//   - configOnce: ensures InitGlobal() only runs once.
//   - configMu: write lock for initialization, read lock for Get().
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Load reads the configuration file on top of Default() and returns the result.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Default()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_PRODUCER":
		c.MQTTClientIDProducer = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value
	case "MQTT_CLIENT_ID_DISPLAY":
		c.MQTTClientIDDisplay = value

	// Topics
	case "TOPIC_POSE":
		c.TopicPose = value
	case "TOPIC_POSE_FUSED":
		c.TopicPoseFused = value
	case "TOPIC_IMU":
		c.TopicIMU = value
	case "TOPIC_STATUS":
		c.TopicStatus = value
	case "TOPIC_CONTROL":
		c.TopicControl = value

	// IMU Hardware
	case "IMU_I2C_BUS":
		c.IMUI2CBus = value
	case "IMU_I2C_ADDR":
		addr, perr := strconv.ParseUint(value, 0, 16)
		if perr != nil {
			return fmt.Errorf("invalid IMU_I2C_ADDR %q: %w", value, perr)
		}
		c.IMUI2CAddr = uint16(addr)

	// IMU Sensor Ranges
	case "IMU_ACCEL_RANGE":
		c.IMUAccelRange, err = parseByte(key, value, 3)
	case "IMU_GYRO_RANGE":
		c.IMUGyroRange, err = parseByte(key, value, 3)

	// IMU Sample Rate Configuration
	case "IMU_DLPF_CFG":
		c.IMUDLPFConfig, err = parseByte(key, value, 6)
	case "IMU_SMPLRT_DIV":
		c.IMUSampleRateDiv, err = parseByte(key, value, 255)

	// Calibration
	case "CALIBRATION_FILE":
		c.CalibrationFile = value
	case "CALIBRATION_SAMPLES":
		c.CalibrationSamples, err = parseInt(key, value)
	case "CALIBRATION_INTERVAL":
		c.CalibrationIntervalMS, err = parseInt(key, value)
	case "CALIBRATION_AXIS":
		switch strings.ToUpper(value) {
		case "X", "0":
			c.CalibrationAxis = 0
		case "Y", "1":
			c.CalibrationAxis = 1
		case "Z", "2":
			c.CalibrationAxis = 2
		default:
			return fmt.Errorf("CALIBRATION_AXIS must be X, Y or Z, got %q", value)
		}

	// Filters
	case "FILTER_ACCEL_ALPHA":
		c.FilterAccelAlpha, err = parseFloat(key, value)
	case "FILTER_GYRO_ALPHA":
		c.FilterGyroAlpha, err = parseFloat(key, value)
	case "COMPLEMENTARY_ALPHA":
		c.ComplementaryAlpha, err = parseFloat(key, value)
	case "SMOOTHING_ALPHA":
		c.SmoothingAlpha, err = parseFloat(key, value)
	case "TILT_CLAMP_G":
		c.TiltClampG, err = parseFloat(key, value)

	// Drift correction
	case "DRIFT_CORRECTION":
		b, perr := strconv.ParseBool(value)
		if perr != nil {
			return fmt.Errorf("invalid DRIFT_CORRECTION %q: %w", value, perr)
		}
		c.DriftCorrection = b
	case "DRIFT_STILL_SAMPLES":
		c.DriftStillSamples, err = parseInt(key, value)
	case "DRIFT_NUDGE":
		c.DriftNudge, err = parseFloat(key, value)
	case "DRIFT_ACCEL_TOLERANCE":
		c.DriftAccelTolerance, err = parseFloat(key, value)
	case "DRIFT_VERTICAL_TOLERANCE":
		c.DriftVerticalTolerance, err = parseFloat(key, value)
	case "DRIFT_GYRO_TOLERANCE":
		c.DriftGyroTolerance, err = parseFloat(key, value)

	// Timing
	case "IMU_SAMPLE_INTERVAL":
		c.IMUSampleInterval, err = parseInt(key, value)
	case "CONSOLE_LOG_INTERVAL":
		c.ConsoleLogInterval, err = parseInt(key, value)

	// Web Server
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = parseInt(key, value)
	case "METRICS_PORT":
		c.MetricsPort, err = parseInt(key, value)

	// Display
	case "DISPLAY_I2C_BUS":
		c.DisplayI2CBus = value
	case "DISPLAY_UPDATE_INTERVAL":
		c.DisplayUpdateInterval, err = parseInt(key, value)

	case "LOG_LEVEL":
		c.LogLevel = value

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

func parseInt(key, value string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

func parseFloat(key, value string) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

func parseByte(key, value string, limit int) (byte, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v < 0 || v > limit {
		return 0, fmt.Errorf("%s must be 0-%d, got %d", key, limit, v)
	}
	return byte(v), nil
}

// validate checks that required fields are set and tunables are in range.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if c.CalibrationFile == "" {
		return fmt.Errorf("CALIBRATION_FILE is required")
	}
	if c.CalibrationSamples <= 0 {
		return fmt.Errorf("CALIBRATION_SAMPLES must be positive, got %d", c.CalibrationSamples)
	}
	if c.IMUSampleInterval <= 0 {
		return fmt.Errorf("IMU_SAMPLE_INTERVAL must be positive, got %d", c.IMUSampleInterval)
	}
	if c.ConsoleLogInterval <= 0 {
		return fmt.Errorf("CONSOLE_LOG_INTERVAL must be positive, got %d", c.ConsoleLogInterval)
	}
	for _, a := range []struct {
		name string
		v    float64
	}{
		{"FILTER_ACCEL_ALPHA", c.FilterAccelAlpha},
		{"FILTER_GYRO_ALPHA", c.FilterGyroAlpha},
		{"COMPLEMENTARY_ALPHA", c.ComplementaryAlpha},
		{"SMOOTHING_ALPHA", c.SmoothingAlpha},
		{"DRIFT_NUDGE", c.DriftNudge},
	} {
		if a.v < 0 || a.v > 1 {
			return fmt.Errorf("%s must be within [0,1], got %g", a.name, a.v)
		}
	}
	if c.DriftCorrection && c.DriftStillSamples <= 0 {
		return fmt.Errorf("DRIFT_STILL_SAMPLES must be positive when DRIFT_CORRECTION is enabled")
	}
	return nil
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// InitDefault installs Default() as the global configuration when no file is
// available (mock and console runs).
func InitDefault() {
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig = Default()
	})
}

// Get returns the global configuration instance.
// InitGlobal or InitDefault must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
