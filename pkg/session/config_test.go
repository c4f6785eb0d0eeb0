package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{InactivityTimeout: 30 * time.Minute}
	cfg.ApplyDefaults()

	assert.Equal(t, 30*time.Minute, cfg.InactivityTimeout)
	assert.Equal(t, DefaultWarningWindow, cfg.WarningWindow)
	assert.Equal(t, DefaultModalThreshold, cfg.ModalThreshold)
	assert.Equal(t, DefaultActivityWriteInterval, cfg.ActivityWriteInterval)
	assert.Equal(t, DefaultTickInterval, cfg.TickInterval)
	assert.Equal(t, DefaultLoginPath, cfg.LoginPath)
	assert.Equal(t, time.Duration(0), cfg.EnforcerStaleAfter, "takeover is opt-in")
	assert.True(t, cfg.TrackingEnabled())
}

func TestConfigZeroTimeoutDisablesTracking(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	assert.False(t, cfg.TrackingEnabled())
}

func TestConfigEnvOverride(t *testing.T) {
	cases := []struct {
		name string
		env  string
		want time.Duration
	}{
		{"valid", "1800000", 30 * time.Minute},
		{"short", "5000", 5 * time.Second},
		{"zero disables", "0", 0},
		{"negative disables", "-100", 0},
		{"garbage disables", "soon", 0},
		{"empty disables", "", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(EnvInactivityTimeout, tc.env)
			cfg := Config{InactivityTimeout: time.Hour}
			cfg.ApplyDefaults()
			assert.Equal(t, tc.want, cfg.InactivityTimeout)
		})
	}
}

func TestConfigEnvAbsentKeepsConfigured(t *testing.T) {
	cfg := Config{InactivityTimeout: 45 * time.Minute}
	cfg.ApplyDefaults()
	assert.Equal(t, 45*time.Minute, cfg.InactivityTimeout)
}
