package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"i4.energy/across/smsrelay/modem"
)

// Config holds the daemon configuration
type Config struct {
	// BindAddress is the address the HTTP API listens on (e.g. "0.0.0.0:8080")
	BindAddress string `yaml:"bind_address"`
	// SerialPort is the path to the modem's serial port (e.g. "/dev/ttyUSB0")
	SerialPort string `yaml:"serial_port"`
	BaudRate   int    `yaml:"baud_rate"`
	// LogLevel is one of debug, info, warn, error
	LogLevel string `yaml:"log_level"`
	SimPIN   string `yaml:"sim_pin"`
	// SMSCenter overrides the SMS-center address stored on the SIM
	SMSCenter string `yaml:"sms_center"`
	// JournalPath is the SQLite journal file; empty disables the journal
	JournalPath string `yaml:"journal_path"`

	ATTimeout            time.Duration `yaml:"at_timeout"`
	ProbeTimeout         time.Duration `yaml:"probe_timeout"`
	PromptTimeout        time.Duration `yaml:"prompt_timeout"`
	SubmitTimeout        time.Duration `yaml:"submit_timeout"`
	DialTimeout          time.Duration `yaml:"dial_timeout"`
	HangupTimeout        time.Duration `yaml:"hangup_timeout"`
	RestartDelay         time.Duration `yaml:"restart_delay"`
	RegistrationTimeout  time.Duration `yaml:"registration_timeout"`
	RegistrationInterval time.Duration `yaml:"registration_interval"`
	// DeniedPolicy is "fail-fast" or "keep-polling"
	DeniedPolicy string        `yaml:"denied_policy"`
	CallHold     time.Duration `yaml:"call_hold"`

	MaxRetries      int           `yaml:"max_retries"`
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
	SignalThreshold int           `yaml:"signal_threshold"`
	HealthInterval  time.Duration `yaml:"health_interval"`
	AutoReconnect   bool          `yaml:"auto_reconnect"`
}

// ConfigOption is a function that modifies a Config
type ConfigOption func(*Config) error

// LoadConfig creates a new config by applying the given options in order
func LoadConfig(opts ...ConfigOption) (*Config, error) {
	config := &Config{}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) validate() error {
	if c.SerialPort == "" {
		return errors.New("serial port is required")
	}
	if c.BaudRate <= 0 {
		return fmt.Errorf("invalid baud rate %d", c.BaudRate)
	}
	if _, err := parseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if _, err := parseDeniedPolicy(c.DeniedPolicy); err != nil {
		return err
	}
	if c.HealthInterval <= 0 {
		return fmt.Errorf("invalid health interval %s", c.HealthInterval)
	}
	for name, d := range map[string]time.Duration{
		"AT":           c.ATTimeout,
		"probe":        c.ProbeTimeout,
		"prompt":       c.PromptTimeout,
		"submit":       c.SubmitTimeout,
		"dial":         c.DialTimeout,
		"hangup":       c.HangupTimeout,
		"registration": c.RegistrationTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("invalid %s timeout %s", name, d)
		}
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("invalid max retries %d", c.MaxRetries)
	}
	return nil
}

// WithDefaults applies default configuration values
func WithDefaults() ConfigOption {
	return func(c *Config) error {
		c.BindAddress = "0.0.0.0:8080"
		c.SerialPort = "/dev/ttyUSB0"
		c.BaudRate = 115200
		c.LogLevel = "info"
		c.ATTimeout = 5 * time.Second
		c.ProbeTimeout = 2 * time.Second
		c.PromptTimeout = 5 * time.Second
		c.SubmitTimeout = 60 * time.Second
		c.DialTimeout = 30 * time.Second
		c.HangupTimeout = 5 * time.Second
		c.RestartDelay = 10 * time.Second
		c.RegistrationTimeout = 60 * time.Second
		c.RegistrationInterval = 2 * time.Second
		c.DeniedPolicy = modem.DeniedFailFast.String()
		c.CallHold = 20 * time.Second
		c.MaxRetries = 3
		c.RetryBackoff = 2 * time.Second
		c.SignalThreshold = 10
		c.HealthInterval = 30 * time.Second
		c.AutoReconnect = true
		return nil
	}
}

// WithFile overlays the YAML file at path. Keys missing from the file keep
// their current value. An empty path is a no-op.
func WithFile(path string) ConfigOption {
	return func(c *Config) error {
		if path == "" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
		return nil
	}
}

// WithEnv loads configuration from environment variables
func WithEnv() ConfigOption {
	return func(c *Config) error {
		return c.apply(func(key string) (string, bool) {
			v := os.Getenv(strings.ToUpper(strings.ReplaceAll(key, "-", "_")))
			return v, v != ""
		})
	}
}

// WithFlags loads configuration from the command-line flags that were set
// explicitly.
func WithFlags(fSet *pflag.FlagSet) ConfigOption {
	return func(c *Config) error {
		set := make(map[string]string)
		fSet.Visit(func(f *pflag.Flag) {
			set[f.Name] = f.Value.String()
		})
		return c.apply(func(key string) (string, bool) {
			v, ok := set[key]
			return v, ok
		})
	}
}

// apply reads every setting through lookup, keyed by its flag name.
func (c *Config) apply(lookup func(key string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("bind-address", &c.BindAddress)
	str("serial-port", &c.SerialPort)
	num("baud-rate", &c.BaudRate)
	str("log-level", &c.LogLevel)
	str("sim-pin", &c.SimPIN)
	str("sms-center", &c.SMSCenter)
	str("journal-path", &c.JournalPath)
	dur("at-timeout", &c.ATTimeout)
	dur("probe-timeout", &c.ProbeTimeout)
	dur("prompt-timeout", &c.PromptTimeout)
	dur("submit-timeout", &c.SubmitTimeout)
	dur("dial-timeout", &c.DialTimeout)
	dur("hangup-timeout", &c.HangupTimeout)
	dur("restart-delay", &c.RestartDelay)
	dur("registration-timeout", &c.RegistrationTimeout)
	dur("registration-interval", &c.RegistrationInterval)
	str("denied-policy", &c.DeniedPolicy)
	dur("call-hold", &c.CallHold)
	num("max-retries", &c.MaxRetries)
	dur("retry-backoff", &c.RetryBackoff)
	num("signal-threshold", &c.SignalThreshold)
	dur("health-interval", &c.HealthInterval)
	boolean("auto-reconnect", &c.AutoReconnect)
	return errors.Join(errs...)
}

// RegisterFlags declares one flag per setting on fSet. Defaults are left
// empty because WithFlags only reads flags that were set.
func RegisterFlags(fSet *pflag.FlagSet) {
	fSet.String("config", "", "Path to a YAML configuration file")
	fSet.String("bind-address", "", "Bind address for the HTTP server")
	fSet.String("serial-port", "", "Serial port to connect to the modem")
	fSet.Int("baud-rate", 0, "Baud rate for serial communication")
	fSet.String("log-level", "", "Log level (debug, info, warn, error)")
	fSet.String("sim-pin", "", "SIM card PIN code (if required)")
	fSet.String("sms-center", "", "SMS center address overriding the SIM's")
	fSet.String("journal-path", "", "SQLite journal file (empty disables the journal)")
	fSet.Duration("at-timeout", 0, "Timeout for ordinary AT commands")
	fSet.Duration("probe-timeout", 0, "Timeout for the liveness probe")
	fSet.Duration("prompt-timeout", 0, "Timeout for the SMS payload prompt")
	fSet.Duration("submit-timeout", 0, "Timeout for the network's verdict on an SMS")
	fSet.Duration("dial-timeout", 0, "Timeout for a dial result")
	fSet.Duration("hangup-timeout", 0, "Timeout for a hang-up result")
	fSet.Duration("restart-delay", 0, "Pause between a module restart and the new bring-up")
	fSet.Duration("registration-timeout", 0, "Deadline for network registration")
	fSet.Duration("registration-interval", 0, "Pause between registration queries")
	fSet.String("denied-policy", "", "Registration denied handling (fail-fast, keep-polling)")
	fSet.Duration("call-hold", 0, "How long a call is held before hanging up")
	fSet.Int("max-retries", 0, "Retries for a failed SMS submission")
	fSet.Duration("retry-backoff", 0, "Base pause between two submission attempts")
	fSet.Int("signal-threshold", 0, "RSSI below which a weak signal is reported")
	fSet.Duration("health-interval", 0, "Pause between two modem health checks")
	fSet.Bool("auto-reconnect", false, "Reset the modem session when it fails")
}

// ModemConfig translates c into a modem.Config.
func (c *Config) ModemConfig(logger *slog.Logger) (modem.Config, error) {
	policy, err := parseDeniedPolicy(c.DeniedPolicy)
	if err != nil {
		return modem.Config{}, err
	}
	return modem.NewConfigBuilder().
		WithDialer(modem.SerialDialer{
			PortName: c.SerialPort,
			BaudRate: c.BaudRate,
		}).
		WithLogger(logger).
		WithSimPIN(c.SimPIN).
		WithSMSCenter(c.SMSCenter).
		WithATTimeout(c.ATTimeout).
		WithProbeTimeout(c.ProbeTimeout).
		WithPromptTimeout(c.PromptTimeout).
		WithSubmitTimeout(c.SubmitTimeout).
		WithDialTimeout(c.DialTimeout).
		WithHangupTimeout(c.HangupTimeout).
		WithRestartDelay(c.RestartDelay).
		WithRegistration(c.RegistrationTimeout, c.RegistrationInterval).
		WithDeniedPolicy(policy).
		WithCallHold(c.CallHold).
		WithMaxRetries(c.MaxRetries).
		WithSignalThreshold(c.SignalThreshold).
		WithAutoReconnect(c.AutoReconnect).
		Build()
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

func parseDeniedPolicy(s string) (modem.DeniedPolicy, error) {
	switch s {
	case modem.DeniedFailFast.String(), "":
		return modem.DeniedFailFast, nil
	case modem.DeniedKeepPolling.String():
		return modem.DeniedKeepPolling, nil
	}
	return modem.DeniedFailFast, fmt.Errorf("unknown denied policy %q", s)
}
