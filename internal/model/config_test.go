package model

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, time.Minute, cfg.Service.CheckInterval.Duration())
	assert.Equal(t, 60, cfg.Service.ConfigRefreshMinutes)
	assert.True(t, cfg.Notification.QuietHours.Enabled)
	assert.Equal(t, "22:00", cfg.Notification.QuietHours.StartTime)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6}, cfg.Notification.QuietHours.DaysOfWeek)
	assert.Equal(t, 30, cfg.Reboot.SystemReboot.CountdownSeconds)
	assert.True(t, cfg.Reboot.SystemReboot.ShowConfirmation)
	assert.Equal(t, 3, cfg.Watchdog.MaxRestartAttempts)
	assert.Equal(t, "http://127.0.0.1:7474/healthz", cfg.Watchdog.HealthURL)
	assert.NotEmpty(t, cfg.Service.Host)

	tfs := cfg.Timeframes()
	require.Len(t, tfs, 3)
	assert.Equal(t, 24*time.Hour, tfs[0].Min)
	require.NotNil(t, tfs[0].Max)
	assert.Equal(t, 48*time.Hour, *tfs[0].Max)
	assert.Equal(t, 4*time.Hour, tfs[0].Interval)
	assert.Equal(t, []time.Duration{time.Hour, 4 * time.Hour, 8 * time.Hour, 24 * time.Hour}, tfs[0].DeferralOptions)
	assert.Nil(t, tfs[2].Max)
	assert.Equal(t, 30*time.Minute, tfs[2].Interval)

	require.Len(t, cfg.Reboot.Probes, 2)
	assert.Equal(t, 10*time.Second, cfg.Reboot.Probes[0].Timeout.Duration())
}

func TestLoadConfig_LegacyIntervalFields(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
reboot:
  timeframes:
    - minHours: 1
      maxHours: 4
      reminderIntervalHours: 1
      reminderIntervalMinutes: 30
      deferrals: ["15m", "1h"]
    - min: 4h30m
      reminderIntervalMinutes: 10
      deferrals: [600]
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	tfs := cfg.Timeframes()
	require.Len(t, tfs, 2)
	assert.Equal(t, 90*time.Minute, tfs[0].Interval)
	assert.Equal(t, []time.Duration{15 * time.Minute, time.Hour}, tfs[0].DeferralOptions)
	assert.Equal(t, 4*time.Hour+30*time.Minute, tfs[1].Min)
	assert.Nil(t, tfs[1].Max)
	assert.Equal(t, 10*time.Minute, tfs[1].Interval)
	assert.Equal(t, []time.Duration{10 * time.Minute}, tfs[1].DeferralOptions)
}

func TestLoadConfig_JSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{
  "service": {"checkInterval": "30s", "host": "ws-042"},
  "notification": {"quietHours": {"enabled": false}}
}`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Service.CheckInterval.Duration())
	assert.Equal(t, "ws-042", cfg.Service.Host)
	assert.False(t, cfg.Notification.QuietHours.Enabled)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad deferral", "reboot:\n  timeframes:\n    - minHours: 1\n      reminderInterval: 1h\n      deferrals: [\"1d\"]\n"},
		{"min not below max", "reboot:\n  timeframes:\n    - minHours: 5\n      maxHours: 5\n      reminderInterval: 1h\n      deferrals: [\"1h\"]\n"},
		{"no interval", "reboot:\n  timeframes:\n    - minHours: 1\n      deferrals: [\"1h\"]\n"},
		{"no deferrals", "reboot:\n  timeframes:\n    - minHours: 1\n      reminderInterval: 1h\n      deferrals: []\n"},
		{"open bucket not last", "reboot:\n  timeframes:\n    - minHours: 1\n      reminderInterval: 1h\n      deferrals: [\"1h\"]\n    - minHours: 5\n      reminderInterval: 1h\n      deferrals: [\"1h\"]\n"},
		{"bad quiet start", "notification:\n  quietHours:\n    startTime: \"25:00\"\n"},
		{"bad day", "notification:\n  quietHours:\n    daysOfWeek: [7]\n"},
		{"bad level", "logging:\n  level: chatty\n"},
		{"unknown probe type", "reboot:\n  probes:\n    - name: x\n      type: registry\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, "config.yaml", tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("REBOOTREMINDER_API_LISTEN", "127.0.0.1:9999")
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.API.Listen)
}

func TestLoadConfig_ExpandsPaths(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("RR_DATA", dir)
	path := writeConfig(t, "config.yaml", "database:\n  path: $RR_DATA/state.db\n")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, dir+"/state.db", cfg.Database.Path)
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Service.Host = "ws-7"
	cfg.Reboot.SystemReboot.CountdownSeconds = 90

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, SaveConfig(path, cfg))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "ws-7", loaded.Service.Host)
	assert.Equal(t, 90, loaded.Reboot.SystemReboot.CountdownSeconds)
	assert.Equal(t, cfg.Timeframes(), loaded.Timeframes())
}

func TestConfigHolder_ReloadKeepsPreviousOnError(t *testing.T) {
	path := writeConfig(t, "config.yaml", "service:\n  checkInterval: 2m\n")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	h := NewConfigHolder(path, cfg, nil)
	var reloaded int
	h.OnReload(func(*AppConfig) { reloaded++ })

	require.NoError(t, os.WriteFile(path, []byte("service:\n  checkInterval: 5m\n"), 0o644))
	require.NoError(t, h.Reload())
	assert.Equal(t, 5*time.Minute, h.Current().Service.CheckInterval.Duration())

	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: chatty\n"), 0o644))
	assert.Error(t, h.Reload())
	assert.Equal(t, 5*time.Minute, h.Current().Service.CheckInterval.Duration())
	assert.Equal(t, 1, reloaded)
}

func TestValidate_ReportsConfigKeys(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *AppConfig)
		wantMsg string
	}{
		{"notification type", func(c *AppConfig) { c.Notification.Type = "email" },
			"notification.type: email is not one of: tray toast both"},
		{"log format", func(c *AppConfig) { c.Logging.Format = "xml" },
			"logging.format: xml is not one of: text json"},
		{"log size", func(c *AppConfig) { c.Logging.MaxSizeMB = 0 },
			"logging.maxSizeMB: must be greater than 0"},
		{"log files", func(c *AppConfig) { c.Logging.MaxFiles = -1 },
			"logging.maxFiles: must not be negative"},
		{"check interval", func(c *AppConfig) { c.Service.CheckInterval = 0 },
			"service.checkInterval: must be greater than 0"},
		{"quiet end", func(c *AppConfig) { c.Notification.QuietHours.EndTime = "8am" },
			`notification.quietHours.endTime: invalid time "8am", expected HH:MM`},
		{"day of week", func(c *AppConfig) { c.Notification.QuietHours.DaysOfWeek = []int{1, 9} },
			"notification.quietHours.daysOfWeek[1]: 9 is above 6"},
		{"database path", func(c *AppConfig) { c.Database.Path = "" },
			"database.path: is required"},
		{"api listen", func(c *AppConfig) { c.API.Listen = "" },
			"api.listen: is required"},
		{"watchdog interval", func(c *AppConfig) { c.Watchdog.CheckIntervalSeconds = 0 },
			"watchdog.checkIntervalSeconds: is required"},
		{"restart command", func(c *AppConfig) { c.Reboot.SystemReboot.Command = nil },
			"reboot.systemReboot.command: is required"},
		{"duplicate probe", func(c *AppConfig) {
			c.Reboot.Probes = append(c.Reboot.Probes, c.Reboot.Probes[0])
		}, "reboot.probes: duplicate name"},
		{"file probe path", func(c *AppConfig) {
			c.Reboot.Probes = []ProbeConfig{{Name: "marker", Type: ProbeTypeFile}}
		}, "reboot.probes[0].path: is required"},
		{"no timeframes", func(c *AppConfig) { c.Reboot.Timeframes = nil },
			"reboot.timeframes: must have at least 1 entry"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			require.NoError(t, cfg.Validate())
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestValidate_ConditionalRules(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Watchdog.Enabled = false
	cfg.Watchdog.CheckIntervalSeconds = 0
	cfg.Reboot.SystemReboot.Enabled = false
	cfg.Reboot.SystemReboot.Command = nil
	cfg.Notification.QuietHours.Enabled = false
	cfg.Notification.QuietHours.StartTime = ""
	assert.NoError(t, cfg.Validate())
}

func TestValidate_Timeframes(t *testing.T) {
	hours := func(n int) Timespan { return Timespan(time.Duration(n) * time.Hour) }
	bucket := func(minH int, maxH *int) TimeframeConfig {
		return TimeframeConfig{MinHours: minH, MaxHours: maxH, ReminderInterval: hours(1), Deferrals: []Timespan{hours(1)}}
	}
	tests := []struct {
		name    string
		tfs     []TimeframeConfig
		wantMsg string
	}{
		{"overlap", []TimeframeConfig{bucket(24, intPtr(48)), bucket(36, intPtr(72)), bucket(73, nil)},
			"reboot.timeframes[1]: overlaps the previous timeframe"},
		{"unordered", []TimeframeConfig{bucket(24, intPtr(48)), bucket(10, intPtr(20)), bucket(73, nil)},
			"reboot.timeframes[1]: timeframes must be ordered by minimum"},
		{"open bucket not last", []TimeframeConfig{bucket(24, nil), bucket(73, nil)},
			"reboot.timeframes[0]: only the last timeframe may omit its maximum"},
		{"empty range", []TimeframeConfig{bucket(5, intPtr(5))},
			"reboot.timeframes[0]: minimum must be less than maximum"},
		{"no interval", []TimeframeConfig{{MinHours: 1, Deferrals: []Timespan{hours(1)}}},
			"reboot.timeframes[0]: a reminder interval must be specified"},
		{"no deferrals", []TimeframeConfig{{MinHours: 1, ReminderInterval: hours(1)}},
			"reboot.timeframes[0].deferrals: must have at least 1 entry"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Reboot.Timeframes = tt.tfs
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}

	// Buckets sharing an inclusive boundary are accepted.
	cfg := DefaultConfig()
	cfg.Reboot.Timeframes = []TimeframeConfig{bucket(24, intPtr(48)), bucket(48, intPtr(72)), bucket(72, nil)}
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_LogRotationDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "config.yaml", "logging:\n  level: DEBUG\n  maxFiles: 3\n"))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 10, cfg.Logging.MaxSizeMB)
	assert.Equal(t, 3, cfg.Logging.MaxFiles)
}
