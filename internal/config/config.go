package config

import (
	"os"
	"strconv"

	"github.com/perovskite-lab/mpptctl/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel = "info"

	defaultInterval     = 250 // ms
	defaultStep         = 0.010
	defaultMinStep      = 0.002
	defaultStepDecay    = 1.0
	defaultMaxVoltage   = 1.5
	defaultStartVoltage = 0.0
	defaultLogFile      = "mpp_tracker_log.txt"
	defaultTelemetryDB  = "/var/lib/mpptctl/telemetry.db"
)

// Config holds a single tracking session's configuration.  It is
// immutable after Load returns.
type Config struct {
	// Positional arguments
	Address      string  `mapstructure:"address"`
	TrackingTime int     `mapstructure:"tracking_time"`
	DeviceArea   float64 `mapstructure:"device_area"`

	// Shutter control
	Shutter         string `mapstructure:"shutter"`
	ShutterRequired bool   `mapstructure:"shutter_required"`

	// Transport
	Serial bool `mapstructure:"serial"`

	// Tracking policy
	Interval     int     `mapstructure:"interval"` // sampling cadence, ms
	StartVoltage float64 `mapstructure:"start_voltage"`
	Step         float64 `mapstructure:"step"`
	MaxVoltage   float64 `mapstructure:"max_voltage"`
	NoSweep      bool    `mapstructure:"no_sweep"`
	StepDecay    float64 `mapstructure:"step_decay"` // 1.0 disables decay
	MinStep      float64 `mapstructure:"min_step"`

	// Sinks
	LogFile     string `mapstructure:"log"`
	Telemetry   bool   `mapstructure:"telemetry"`
	TelemetryDB string `mapstructure:"database"`

	LogLevel string `mapstructure:"log_level"`
}

// Load builds the session configuration from command-line arguments,
// the config file and environment variables, in that order of
// precedence.  Positional arguments: instrument address, total
// tracking time in seconds, device active area in cm².
func Load() (*Config, error) {
	return load(os.Args[1:])
}

func load(args []string) (*Config, error) {
	errFactory := errors.New()

	fs := pflag.NewFlagSet("mpptctl", pflag.ContinueOnError)
	fs.String("shutter", "", "digital I/O address gating the solar simulator shutter")
	fs.Bool("shutter-required", false, "abort the session if the shutter fails to actuate")
	fs.Bool("serial", false, "address is a serial port rather than a TCP endpoint")
	fs.Int("interval", defaultInterval, "sampling cadence in milliseconds")
	fs.Float64("start-voltage", defaultStartVoltage, "tracker seed voltage when sweeping is disabled")
	fs.Float64("step", defaultStep, "perturbation step size in volts")
	fs.Float64("max-voltage", defaultMaxVoltage, "upper safety bound in volts")
	fs.Bool("no-sweep", false, "skip the Voc measurement and seed sweep")
	fs.Float64("step-decay", defaultStepDecay, "step multiplier applied on direction reversal")
	fs.Float64("min-step", defaultMinStep, "step size floor in volts when decay is enabled")
	fs.String("log", defaultLogFile, "sample log file path")
	fs.Bool("telemetry", false, "record per-sample telemetry to SQLite")
	fs.String("database", defaultTelemetryDB, "telemetry database path")
	fs.String("log-level", DefaultLogLevel, "log level (debug, info, warn, error)")

	if err := fs.Parse(args); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	v := viper.New()
	v.SetConfigName("mpptctl")
	v.SetConfigType("toml")
	v.AddConfigPath("/etc")
	v.AddConfigPath(".")
	if path := os.Getenv("MPPTCTL_CONFIG"); path != "" {
		v.SetConfigFile(path)
	}
	v.SetEnvPrefix("MPPTCTL")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	// flag names use dashes, config file keys use underscores
	bindings := map[string]string{
		"shutter":          "shutter",
		"shutter_required": "shutter-required",
		"serial":           "serial",
		"interval":         "interval",
		"start_voltage":    "start-voltage",
		"step":             "step",
		"max_voltage":      "max-voltage",
		"no_sweep":         "no-sweep",
		"step_decay":       "step-decay",
		"min_step":         "min-step",
		"log":              "log",
		"telemetry":        "telemetry",
		"database":         "database",
		"log_level":        "log-level",
	}
	for key, flagName := range bindings {
		if err := v.BindPFlag(key, fs.Lookup(flagName)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	if err := bindPositionals(v, fs.Args()); err != nil {
		return nil, err
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func bindPositionals(v *viper.Viper, args []string) error {
	errFactory := errors.New()

	if len(args) > 0 {
		v.Set("address", args[0])
	}
	if len(args) > 1 {
		secs, err := strconv.Atoi(args[1])
		if err != nil {
			return errFactory.WithData(errors.ErrInvalidArgument, "tracking time must be an integer number of seconds")
		}
		v.Set("tracking_time", secs)
	}
	if len(args) > 2 {
		area, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return errFactory.WithData(errors.ErrInvalidArgument, "device area must be a number of cm²")
		}
		v.Set("device_area", area)
	}
	if len(args) > 3 {
		return errFactory.WithData(errors.ErrInvalidArgument, "too many positional arguments")
	}

	return nil
}

// Validate checks the configuration before any hardware is touched.
func (c *Config) Validate() error {
	errFactory := errors.New()

	switch {
	case c.Address == "":
		return errFactory.WithData(errors.ErrMissingConfig, "instrument address is required")
	case c.TrackingTime <= 0:
		return errFactory.WithData(errors.ErrInvalidConfig, "tracking time must be positive")
	case c.DeviceArea <= 0:
		return errFactory.WithData(errors.ErrInvalidConfig, "device area must be positive")
	case c.Interval <= 0:
		return errFactory.WithData(errors.ErrInvalidConfig, "interval must be positive")
	case c.Step <= 0:
		return errFactory.WithData(errors.ErrInvalidConfig, "step must be positive")
	case c.MaxVoltage <= 0:
		return errFactory.WithData(errors.ErrInvalidConfig, "max voltage must be positive")
	case c.StartVoltage < 0 || c.StartVoltage > c.MaxVoltage:
		return errFactory.WithData(errors.ErrInvalidConfig, "start voltage must lie within [0, max voltage]")
	case c.StepDecay <= 0 || c.StepDecay > 1:
		return errFactory.WithData(errors.ErrInvalidConfig, "step decay must lie within (0, 1]")
	case c.MinStep <= 0 || c.MinStep > c.Step:
		return errFactory.WithData(errors.ErrInvalidConfig, "min step must lie within (0, step]")
	case c.LogFile == "":
		return errFactory.WithData(errors.ErrMissingConfig, "sample log path is required")
	case c.Telemetry && c.TelemetryDB == "":
		return errFactory.WithData(errors.ErrMissingConfig, "telemetry database path is required")
	case !validLogLevel(c.LogLevel):
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	return nil
}

func validLogLevel(level string) bool {
	switch level {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic":
		return true
	}

	return false
}
