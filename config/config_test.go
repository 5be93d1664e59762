package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParse_Defaults verifies every default applied to a minimal config.
func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(`subject_id: "123"`))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "adtrail.db", cfg.DBPath)
	assert.Equal(t, 60*time.Second, cfg.PollInterval.Duration())
	assert.Equal(t, 30, cfg.WindowDays)
	assert.True(t, cfg.IsEnabled())
	assert.True(t, cfg.ManualBypassesBackoff())
	assert.Equal(t, 30*time.Second, cfg.Source.Timeout.Duration())
}

// TestParse_FullConfig verifies explicit values survive parsing.
func TestParse_FullConfig(t *testing.T) {
	cfg, err := Parse([]byte(`
port: 9090
db_path: /var/lib/adtrail/history.db
poll_interval: 5m
window_days: 90
enabled: false
subject_id: "123-456-7890"
manual_bypass_backoff: false
source:
  url: https://metrics.example.com/api/campaigns
  timeout: 10s
  headers:
    Accept: application/json
`))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "/var/lib/adtrail/history.db", cfg.DBPath)
	assert.Equal(t, 5*time.Minute, cfg.PollInterval.Duration())
	assert.Equal(t, 90, cfg.WindowDays)
	assert.False(t, cfg.IsEnabled())
	assert.False(t, cfg.ManualBypassesBackoff())
	assert.Equal(t, "123-456-7890", cfg.SubjectID)
	assert.Equal(t, "https://metrics.example.com/api/campaigns", cfg.Source.URL)
	assert.Equal(t, 10*time.Second, cfg.Source.Timeout.Duration())
	assert.Equal(t, "application/json", cfg.Source.Headers["Accept"])
}

// TestParse_InvalidDuration verifies bad duration strings are rejected
// with a useful message.
func TestParse_InvalidDuration(t *testing.T) {
	_, err := Parse([]byte(`poll_interval: sixty`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

// TestParse_Validation verifies the bound checks.
func TestParse_Validation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"port too high", "port: 70000", "port must be between"},
		{"interval too short", "poll_interval: 100ms", "poll_interval must be at least"},
		{"window too large", "window_days: 400", "window_days must be between"},
		{"window negative", "window_days: -1", "window_days must be between"},
		{"source scheme", "source:\n  url: ftp://example.com", "scheme must be http or https"},
		{"source no scheme", "source:\n  url: example.com/path", "must have a scheme"},
		{"source timeout", "source:\n  url: https://example.com\n  timeout: 500ms", "timeout must be at least"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

// TestParse_EnvExpansion verifies ${VAR} and ${VAR:-default} substitution
// in subject, source URL and headers.
func TestParse_EnvExpansion(t *testing.T) {
	t.Setenv("ADTRAIL_TEST_SUBJECT", "999-888-7777")
	t.Setenv("ADTRAIL_TEST_TOKEN", "s3cret")

	cfg, err := Parse([]byte(`
subject_id: ${ADTRAIL_TEST_SUBJECT}
source:
  url: https://metrics.example.com/${ADTRAIL_TEST_PATH:-api/campaigns}
  headers:
    Authorization: Bearer ${ADTRAIL_TEST_TOKEN}
`))
	require.NoError(t, err)

	assert.Equal(t, "999-888-7777", cfg.SubjectID)
	assert.Equal(t, "https://metrics.example.com/api/campaigns", cfg.Source.URL)
	assert.Equal(t, "Bearer s3cret", cfg.Source.Headers["Authorization"])
}

// TestParse_EnvMissing verifies a referenced but unset variable without a
// default is an error.
func TestParse_EnvMissing(t *testing.T) {
	_, err := Parse([]byte(`subject_id: ${ADTRAIL_TEST_DOES_NOT_EXIST}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ADTRAIL_TEST_DOES_NOT_EXIST")
}

// TestParse_EnvEmptyDefault verifies ${VAR:-} resolves to the empty
// string when the variable is unset.
func TestParse_EnvEmptyDefault(t *testing.T) {
	cfg, err := Parse([]byte(`subject_id: ${ADTRAIL_TEST_DOES_NOT_EXIST:-}`))
	require.NoError(t, err)
	assert.Equal(t, "", cfg.SubjectID)
}
