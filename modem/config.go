package modem

import (
	"log/slog"
	"time"
)

// DeniedPolicy decides what registration polling does when the network
// answers "registration denied".
type DeniedPolicy int

const (
	// DeniedFailFast stops polling at the first denial.
	DeniedFailFast DeniedPolicy = iota
	// DeniedKeepPolling treats a denial as transient and keeps polling
	// until the overall registration deadline.
	DeniedKeepPolling
)

func (p DeniedPolicy) String() string {
	if p == DeniedKeepPolling {
		return "keep-polling"
	}
	return "fail-fast"
}

// Config holds the settings read by the session, SMS sender and phone
// caller when they initialize.
type Config struct {
	Dialer Dialer
	Logger *slog.Logger

	SimPIN string
	// SMSCenter, when set, replaces the address reported by the modem.
	SMSCenter string

	// ATTimeout bounds ordinary command transactions.
	ATTimeout time.Duration
	// ProbeTimeout bounds the liveness probe.
	ProbeTimeout time.Duration
	// PromptTimeout bounds the wait for the SMS payload prompt.
	PromptTimeout time.Duration
	// SubmitTimeout bounds the wait for the network's verdict on a payload.
	SubmitTimeout time.Duration
	DialTimeout   time.Duration
	HangupTimeout time.Duration
	// CallHold is how long CallAndWait keeps a call up before hanging up.
	CallHold time.Duration

	RegistrationTimeout  time.Duration
	RegistrationInterval time.Duration
	DeniedPolicy         DeniedPolicy

	// RestartDelay is the pause between AT+CFUN=1,1 and the new bring-up.
	RestartDelay time.Duration
	// PollInterval is the longest single read inside a transaction.
	PollInterval time.Duration

	MaxRetries      int
	SignalThreshold int
	AutoReconnect   bool
}

func (c *Config) validate() error {
	if c.Dialer == nil {
		return ErrNoDialer
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.ATTimeout == 0 {
		c.ATTimeout = 5 * time.Second
	}
	if c.ProbeTimeout == 0 {
		c.ProbeTimeout = 2 * time.Second
	}
	if c.PromptTimeout == 0 {
		c.PromptTimeout = 5 * time.Second
	}
	if c.SubmitTimeout == 0 {
		c.SubmitTimeout = 60 * time.Second
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 30 * time.Second
	}
	if c.HangupTimeout == 0 {
		c.HangupTimeout = 5 * time.Second
	}
	if c.CallHold == 0 {
		c.CallHold = 20 * time.Second
	}
	if c.RegistrationTimeout == 0 {
		c.RegistrationTimeout = 60 * time.Second
	}
	if c.RegistrationInterval == 0 {
		c.RegistrationInterval = 2 * time.Second
	}
	if c.RestartDelay == 0 {
		c.RestartDelay = 10 * time.Second
	}
	if c.PollInterval == 0 {
		c.PollInterval = 50 * time.Millisecond
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.SignalThreshold == 0 {
		c.SignalThreshold = 10
	}
}

// ConfigBuilder assembles a Config step by step.
type ConfigBuilder struct {
	config Config
}

// NewConfigBuilder returns a builder with no settings applied.
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{}
}

func (b *ConfigBuilder) WithDialer(d Dialer) *ConfigBuilder {
	b.config.Dialer = d
	return b
}

func (b *ConfigBuilder) WithLogger(l *slog.Logger) *ConfigBuilder {
	b.config.Logger = l
	return b
}

func (b *ConfigBuilder) WithSimPIN(pin string) *ConfigBuilder {
	b.config.SimPIN = pin
	return b
}

func (b *ConfigBuilder) WithSMSCenter(addr string) *ConfigBuilder {
	b.config.SMSCenter = addr
	return b
}

func (b *ConfigBuilder) WithATTimeout(d time.Duration) *ConfigBuilder {
	b.config.ATTimeout = d
	return b
}

func (b *ConfigBuilder) WithProbeTimeout(d time.Duration) *ConfigBuilder {
	b.config.ProbeTimeout = d
	return b
}

func (b *ConfigBuilder) WithPromptTimeout(d time.Duration) *ConfigBuilder {
	b.config.PromptTimeout = d
	return b
}

func (b *ConfigBuilder) WithSubmitTimeout(d time.Duration) *ConfigBuilder {
	b.config.SubmitTimeout = d
	return b
}

func (b *ConfigBuilder) WithDialTimeout(d time.Duration) *ConfigBuilder {
	b.config.DialTimeout = d
	return b
}

func (b *ConfigBuilder) WithHangupTimeout(d time.Duration) *ConfigBuilder {
	b.config.HangupTimeout = d
	return b
}

func (b *ConfigBuilder) WithCallHold(d time.Duration) *ConfigBuilder {
	b.config.CallHold = d
	return b
}

// WithRegistration sets the overall registration deadline and the pause
// between two registration queries.
func (b *ConfigBuilder) WithRegistration(timeout, interval time.Duration) *ConfigBuilder {
	b.config.RegistrationTimeout = timeout
	b.config.RegistrationInterval = interval
	return b
}

func (b *ConfigBuilder) WithDeniedPolicy(p DeniedPolicy) *ConfigBuilder {
	b.config.DeniedPolicy = p
	return b
}

func (b *ConfigBuilder) WithRestartDelay(d time.Duration) *ConfigBuilder {
	b.config.RestartDelay = d
	return b
}

func (b *ConfigBuilder) WithPollInterval(d time.Duration) *ConfigBuilder {
	b.config.PollInterval = d
	return b
}

func (b *ConfigBuilder) WithMaxRetries(n int) *ConfigBuilder {
	b.config.MaxRetries = n
	return b
}

func (b *ConfigBuilder) WithSignalThreshold(rssi int) *ConfigBuilder {
	b.config.SignalThreshold = rssi
	return b
}

func (b *ConfigBuilder) WithAutoReconnect(on bool) *ConfigBuilder {
	b.config.AutoReconnect = on
	return b
}

// Build validates the collected settings and fills in defaults.
func (b *ConfigBuilder) Build() (Config, error) {
	config := b.config
	if err := config.validate(); err != nil {
		return Config{}, err
	}
	config.setDefaults()
	return config, nil
}
