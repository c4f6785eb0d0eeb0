package session

import (
	"os"
	"strconv"
	"time"
)

// EnvInactivityTimeout overrides Config.InactivityTimeout when set. The
// value is epoch milliseconds; anything non-numeric or <= 0 disables
// inactivity tracking entirely.
const EnvInactivityTimeout = "SESSIONGUARD_INACTIVITY_TIMEOUT_MS"

// Defaults applied by ApplyDefaults.
const (
	DefaultWarningWindow         = 5 * time.Minute
	DefaultModalThreshold        = 60 * time.Second
	DefaultActivityWriteInterval = 3 * time.Second
	DefaultTickInterval          = time.Second
	DefaultLoginPath             = "/login"
)

// Config holds the controller's timing parameters.
type Config struct {
	// InactivityTimeout is the full idle budget. Zero or negative
	// disables inactivity tracking: no countdown, no warning, no
	// automatic logout.
	InactivityTimeout time.Duration `yaml:"inactivity_timeout"`

	// WarningWindow is how long before expiry the warning phase starts.
	WarningWindow time.Duration `yaml:"warning_window"`

	// ModalThreshold is the remaining time at which the warning toast
	// escalates to a modal.
	ModalThreshold time.Duration `yaml:"modal_threshold"`

	// ActivityWriteInterval throttles persisted activity writes. Local
	// countdown resets are never throttled.
	ActivityWriteInterval time.Duration `yaml:"activity_write_interval"`

	// TickInterval is the countdown re-evaluation period.
	TickInterval time.Duration `yaml:"tick_interval"`

	// LoginPath is excluded from route preservation so a logout from
	// the login screen doesn't redirect back to it.
	LoginPath string `yaml:"login_path"`

	// EnforcerStaleAfter lets a visible tab take over enforcement when
	// the recorded enforcer has not refreshed its claim for this long.
	// Zero disables takeover.
	EnforcerStaleAfter time.Duration `yaml:"enforcer_stale_after"`
}

// ApplyDefaults fills zero-valued fields. InactivityTimeout and
// EnforcerStaleAfter have no default; zero means disabled for both.
func (c *Config) ApplyDefaults() {
	if c.WarningWindow <= 0 {
		c.WarningWindow = DefaultWarningWindow
	}
	if c.ModalThreshold <= 0 {
		c.ModalThreshold = DefaultModalThreshold
	}
	if c.ActivityWriteInterval <= 0 {
		c.ActivityWriteInterval = DefaultActivityWriteInterval
	}
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.LoginPath == "" {
		c.LoginPath = DefaultLoginPath
	}
	c.applyEnvOverride()
}

// applyEnvOverride applies EnvInactivityTimeout when present. A value
// that fails to parse or is not positive disables tracking, matching the
// fail-safe of never locking users out because of a bad deployment value.
func (c *Config) applyEnvOverride() {
	raw, ok := os.LookupEnv(EnvInactivityTimeout)
	if !ok {
		return
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms <= 0 {
		c.InactivityTimeout = 0
		return
	}
	c.InactivityTimeout = time.Duration(ms) * time.Millisecond
}

// TrackingEnabled reports whether inactivity tracking is active.
func (c Config) TrackingEnabled() bool { return c.InactivityTimeout > 0 }
