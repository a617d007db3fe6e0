package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/perovskite-lab/mpptctl/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setArgs(t *testing.T, args ...string) {
	t.Helper()
	oldArgs := os.Args
	t.Cleanup(func() { os.Args = oldArgs })
	os.Args = append([]string{"mpptctl"}, args...)
}

func writeConfigFile(t *testing.T, content string) {
	t.Helper()
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "mpptctl.toml")
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o600))
	t.Setenv("MPPTCTL_CONFIG", configPath)
}

func TestLoad(t *testing.T) {
	writeConfigFile(t, `
shutter = "192.168.0.8:2000/line2"
interval = 100
step = 0.005
max_voltage = 1.2
no_sweep = true
log = "/data/run42.txt"
log_level = "debug"
telemetry = true
database = "/path/to/telemetry.db"
`)
	setArgs(t, "192.168.0.4:1234", "300", "0.12")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "192.168.0.4:1234", cfg.Address)
	assert.Equal(t, 300, cfg.TrackingTime)
	assert.InDelta(t, 0.12, cfg.DeviceArea, 1e-12)
	assert.Equal(t, "192.168.0.8:2000/line2", cfg.Shutter)
	assert.Equal(t, 100, cfg.Interval, "Expected Interval 100")
	assert.InDelta(t, 0.005, cfg.Step, 1e-12)
	assert.InDelta(t, 1.2, cfg.MaxVoltage, 1e-12)
	assert.True(t, cfg.NoSweep, "Expected NoSweep true")
	assert.Equal(t, "/data/run42.txt", cfg.LogFile)
	assert.Equal(t, "debug", cfg.LogLevel, "Expected LogLevel debug")
	assert.True(t, cfg.Telemetry, "Expected Telemetry true")
	assert.Equal(t, "/path/to/telemetry.db", cfg.TelemetryDB)
}

func TestLoadDefaults(t *testing.T) {
	// Ensure no config file is used
	t.Setenv("MPPTCTL_CONFIG", "")
	setArgs(t, "/dev/ttyUSB0", "120", "1.0")

	cfg, err := config.Load()
	require.NoError(t, err, "Failed to load config")

	assert.Equal(t, 250, cfg.Interval, "Expected default Interval 250")
	assert.InDelta(t, 0.010, cfg.Step, 1e-12)
	assert.InDelta(t, 0.002, cfg.MinStep, 1e-12)
	assert.InDelta(t, 1.0, cfg.StepDecay, 1e-12)
	assert.InDelta(t, 1.5, cfg.MaxVoltage, 1e-12)
	assert.InDelta(t, 0.0, cfg.StartVoltage, 1e-12)
	assert.False(t, cfg.NoSweep, "Expected default NoSweep false")
	assert.False(t, cfg.Serial, "Expected default Serial false")
	assert.Empty(t, cfg.Shutter, "Expected no shutter by default")
	assert.False(t, cfg.ShutterRequired, "Expected default ShutterRequired false")
	assert.Equal(t, "mpp_tracker_log.txt", cfg.LogFile)
	assert.False(t, cfg.Telemetry, "Expected default Telemetry false")
	assert.Equal(t, config.DefaultLogLevel, cfg.LogLevel, "Expected default LogLevel info")
}

func TestFlagsOverrideConfigFile(t *testing.T) {
	writeConfigFile(t, `
interval = 100
step = 0.005
`)
	setArgs(t, "--interval", "50", "192.168.0.4:1234", "300", "0.12")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Interval, "flag takes precedence over the config file")
	assert.InDelta(t, 0.005, cfg.Step, 1e-12, "config file still wins over the default")
}

func TestLoadConfigFileInvalidFormat(t *testing.T) {
	writeConfigFile(t, `
This is not a valid TOML file
`)
	setArgs(t, "192.168.0.4:1234", "300", "0.12")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to read config file")
}

func TestMissingAddress(t *testing.T) {
	t.Setenv("MPPTCTL_CONFIG", "")
	setArgs(t)

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "instrument address is required")
}

func TestInvalidTrackingTime(t *testing.T) {
	t.Setenv("MPPTCTL_CONFIG", "")
	setArgs(t, "192.168.0.4:1234", "soon", "0.12")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tracking time must be an integer")
}

func TestTooManyPositionals(t *testing.T) {
	t.Setenv("MPPTCTL_CONFIG", "")
	setArgs(t, "192.168.0.4:1234", "300", "0.12", "extra")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too many positional arguments")
}

func TestInvalidLogLevel(t *testing.T) {
	writeConfigFile(t, `
log_level = "loud"
`)
	setArgs(t, "192.168.0.4:1234", "300", "0.12")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid log level")
}

func TestValidateRejectsBadPolicy(t *testing.T) {
	base := func() *config.Config {
		return &config.Config{
			Address:      "192.168.0.4:1234",
			TrackingTime: 300,
			DeviceArea:   0.12,
			Interval:     250,
			Step:         0.010,
			MinStep:      0.002,
			StepDecay:    1.0,
			MaxVoltage:   1.5,
			LogFile:      "out.txt",
			LogLevel:     config.DefaultLogLevel,
		}
	}

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"zero interval", func(c *config.Config) { c.Interval = 0 }, "interval must be positive"},
		{"negative step", func(c *config.Config) { c.Step = -0.01 }, "step must be positive"},
		{"start above ceiling", func(c *config.Config) { c.StartVoltage = 2.0 }, "start voltage must lie within"},
		{"decay above one", func(c *config.Config) { c.StepDecay = 1.5 }, "step decay must lie within"},
		{"min step above step", func(c *config.Config) { c.MinStep = 0.02 }, "min step must lie within"},
		{"telemetry without database", func(c *config.Config) { c.Telemetry = true; c.TelemetryDB = "" }, "telemetry database path is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
