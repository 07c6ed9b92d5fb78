package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g.
// REBOOTREMINDER_API_LISTEN overrides api.listen.
const EnvPrefix = "REBOOTREMINDER"

// ServiceConfig holds settings for the agent process itself.
type ServiceConfig struct {
	Name        string `mapstructure:"name" yaml:"name"`
	DisplayName string `mapstructure:"displayName" yaml:"displayName"`
	Description string `mapstructure:"description" yaml:"description"`

	// Host names the machine in the state store. Defaults to os.Hostname.
	Host string `mapstructure:"host" yaml:"host"`

	// CheckInterval is the reminder evaluation cadence.
	CheckInterval Timespan `mapstructure:"checkInterval" yaml:"checkInterval" validate:"gt=0"`

	// ConfigRefreshMinutes is how often the config file is re-read even
	// when no change notification arrives. Zero disables the refresh.
	ConfigRefreshMinutes int `mapstructure:"configRefreshMinutes" yaml:"configRefreshMinutes" validate:"gte=0"`

	// ProbeTimeout bounds probes that do not set their own timeout.
	ProbeTimeout Timespan `mapstructure:"probeTimeout" yaml:"probeTimeout" validate:"gte=0"`

	// DeliveryTimeout bounds handing a reminder to the presentation layer.
	DeliveryTimeout Timespan `mapstructure:"deliveryTimeout" yaml:"deliveryTimeout" validate:"gte=0"`
}

// BrandingConfig is shown by the presentation layer.
type BrandingConfig struct {
	Title    string `mapstructure:"title" yaml:"title" json:"title"`
	IconPath string `mapstructure:"iconPath" yaml:"iconPath" json:"iconPath"`
	Company  string `mapstructure:"company" yaml:"company" json:"company"`
}

// QuietHoursConfig describes a daily window during which reminders are
// withheld. Times are HH:MM local time; DaysOfWeek uses 0 for Sunday
// through 6 for Saturday and names the day a window starts on.
type QuietHoursConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	StartTime  string `mapstructure:"startTime" yaml:"startTime" validate:"required_if=Enabled true,omitempty,clock"`
	EndTime    string `mapstructure:"endTime" yaml:"endTime" validate:"required_if=Enabled true,omitempty,clock"`
	DaysOfWeek []int  `mapstructure:"daysOfWeek" yaml:"daysOfWeek" validate:"dive,min=0,max=6"`

	// OverrideOnEscalation lets a reminder through quiet hours when the
	// requirement has moved into a later timeframe since the last one.
	OverrideOnEscalation bool `mapstructure:"overrideOnEscalation" yaml:"overrideOnEscalation"`
}

// NotificationConfig controls what the presentation layer is told.
type NotificationConfig struct {
	// Type is the delivery channel hint: "tray", "toast" or "both".
	Type       string           `mapstructure:"type" yaml:"type" validate:"oneof=tray toast both"`
	Branding   BrandingConfig   `mapstructure:"branding" yaml:"branding"`
	Messages   MessagesConfig   `mapstructure:"messages" yaml:"messages"`
	QuietHours QuietHoursConfig `mapstructure:"quietHours" yaml:"quietHours"`
}

// TimeframeConfig is the on-disk form of a Timeframe. Bounds may be given
// in whole hours or as timespans; the reminder interval may be given as a
// timespan or through the hour and minute fields.
type TimeframeConfig struct {
	MinHours int       `mapstructure:"minHours" yaml:"minHours,omitempty" validate:"gte=0"`
	MaxHours *int      `mapstructure:"maxHours" yaml:"maxHours,omitempty" validate:"omitempty,gte=0"`
	Min      *Timespan `mapstructure:"min" yaml:"min,omitempty"`
	Max      *Timespan `mapstructure:"max" yaml:"max,omitempty"`

	ReminderIntervalHours   *int     `mapstructure:"reminderIntervalHours" yaml:"reminderIntervalHours,omitempty"`
	ReminderIntervalMinutes *int     `mapstructure:"reminderIntervalMinutes" yaml:"reminderIntervalMinutes,omitempty"`
	ReminderInterval        Timespan `mapstructure:"reminderInterval" yaml:"reminderInterval,omitempty"`

	Deferrals []Timespan `mapstructure:"deferrals" yaml:"deferrals" validate:"min=1,dive,gt=0"`
}

// Probe types understood by the detect package.
const (
	ProbeTypeFile    = "file"
	ProbeTypeCommand = "command"
)

// ProbeConfig declares one detection probe.
type ProbeConfig struct {
	Name string `mapstructure:"name" yaml:"name" validate:"required"`
	Type string `mapstructure:"type" yaml:"type" validate:"oneof=file command"`

	// Path is the marker file for file probes.
	Path string `mapstructure:"path" yaml:"path,omitempty" validate:"required_if=Type file"`

	// Command and Args run for command probes; a pending restart is
	// reported when the exit status equals PendingExitCode.
	Command         string   `mapstructure:"command" yaml:"command,omitempty" validate:"required_if=Type command"`
	Args            []string `mapstructure:"args" yaml:"args,omitempty"`
	PendingExitCode int      `mapstructure:"pendingExitCode" yaml:"pendingExitCode,omitempty"`

	// Hard probes make reminders Required rather than Recommended.
	Hard bool `mapstructure:"hard" yaml:"hard"`

	Enabled *bool    `mapstructure:"enabled" yaml:"enabled,omitempty"`
	Timeout Timespan `mapstructure:"timeout" yaml:"timeout,omitempty" validate:"gte=0"`
}

// IsEnabled treats an absent enabled flag as true.
func (p ProbeConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// SystemRebootConfig controls operator-initiated restarts.
type SystemRebootConfig struct {
	Enabled             bool   `mapstructure:"enabled" yaml:"enabled"`
	CountdownSeconds    int    `mapstructure:"countdownSeconds" yaml:"countdownSeconds" validate:"gte=0"`
	ShowConfirmation    bool   `mapstructure:"showConfirmation" yaml:"showConfirmation"`
	ConfirmationMessage string `mapstructure:"confirmationMessage" yaml:"confirmationMessage"`
	ConfirmationTitle   string `mapstructure:"confirmationTitle" yaml:"confirmationTitle"`

	// ConfirmationTimeoutSeconds abandons an unanswered confirmation.
	ConfirmationTimeoutSeconds int `mapstructure:"confirmationTimeoutSeconds" yaml:"confirmationTimeoutSeconds" validate:"gte=0"`

	// Command restarts the host. The first element is the program.
	Command []string `mapstructure:"command" yaml:"command"`
}

// Countdown returns the countdown as a duration.
func (c SystemRebootConfig) Countdown() time.Duration {
	return time.Duration(c.CountdownSeconds) * time.Second
}

// ConfirmationTimeout returns the confirmation timeout as a duration.
func (c SystemRebootConfig) ConfirmationTimeout() time.Duration {
	return time.Duration(c.ConfirmationTimeoutSeconds) * time.Second
}

// RebootConfig holds the escalation policy and detection setup.
type RebootConfig struct {
	Timeframes   []TimeframeConfig  `mapstructure:"timeframes" yaml:"timeframes" validate:"min=1,dive"`
	Probes       []ProbeConfig      `mapstructure:"probes" yaml:"probes" validate:"unique=Name,dive"`
	SystemReboot SystemRebootConfig `mapstructure:"systemReboot" yaml:"systemReboot"`
}

// DatabaseConfig locates the state store.
type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path" validate:"required"`

	// RetentionDays prunes notification history older than this.
	// Zero keeps everything.
	RetentionDays int `mapstructure:"retentionDays" yaml:"retentionDays" validate:"gte=0"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Path   string `mapstructure:"path" yaml:"path"`
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=text json"`

	// MaxSizeMB rotates the log file once it grows past this size;
	// MaxFiles rotated files are kept, zero keeps them all.
	MaxSizeMB int `mapstructure:"maxSizeMB" yaml:"maxSizeMB" validate:"gt=0"`
	MaxFiles  int `mapstructure:"maxFiles" yaml:"maxFiles" validate:"gte=0"`
}

// WatchdogConfig configures the supervisor process mode.
type WatchdogConfig struct {
	Enabled              bool   `mapstructure:"enabled" yaml:"enabled"`
	CheckIntervalSeconds int    `mapstructure:"checkIntervalSeconds" yaml:"checkIntervalSeconds" validate:"required_if=Enabled true,gte=0"`
	MaxRestartAttempts   int    `mapstructure:"maxRestartAttempts" yaml:"maxRestartAttempts" validate:"gte=0"`
	RestartDelaySeconds  int    `mapstructure:"restartDelaySeconds" yaml:"restartDelaySeconds" validate:"gte=0"`
	ServiceName          string `mapstructure:"serviceName" yaml:"serviceName"`
	ServicePath          string `mapstructure:"servicePath" yaml:"servicePath"`

	// HealthURL is probed each check. Defaults to the agent's /healthz.
	HealthURL            string `mapstructure:"healthUrl" yaml:"healthUrl"`
	HealthTimeoutSeconds int    `mapstructure:"healthTimeoutSeconds" yaml:"healthTimeoutSeconds" validate:"gte=0"`

	// RestartCommand restarts the agent. Defaults to a systemctl restart
	// of ServiceName.
	RestartCommand []string `mapstructure:"restartCommand" yaml:"restartCommand"`
}

// CheckInterval returns the probe cadence.
func (w WatchdogConfig) CheckInterval() time.Duration {
	return time.Duration(w.CheckIntervalSeconds) * time.Second
}

// RestartDelay returns the pause before each restart.
func (w WatchdogConfig) RestartDelay() time.Duration {
	return time.Duration(w.RestartDelaySeconds) * time.Second
}

// HealthTimeout returns the per-probe HTTP timeout.
func (w WatchdogConfig) HealthTimeout() time.Duration {
	return time.Duration(w.HealthTimeoutSeconds) * time.Second
}

// APIConfig configures the local control API.
type APIConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen" validate:"required"`

	// Token authorizes action requests. When empty the agent falls back
	// to the token stored in the OS keyring, and with neither set actions
	// are accepted from any local caller.
	Token string `mapstructure:"token" yaml:"token,omitempty"`

	AllowedOrigins []string `mapstructure:"allowedOrigins" yaml:"allowedOrigins,omitempty"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Service      ServiceConfig      `mapstructure:"service" yaml:"service"`
	Notification NotificationConfig `mapstructure:"notification" yaml:"notification"`
	Reboot       RebootConfig       `mapstructure:"reboot" yaml:"reboot"`
	Database     DatabaseConfig     `mapstructure:"database" yaml:"database"`
	Logging      LoggingConfig      `mapstructure:"logging" yaml:"logging"`
	Watchdog     WatchdogConfig     `mapstructure:"watchdog" yaml:"watchdog"`
	API          APIConfig          `mapstructure:"api" yaml:"api"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/rebootreminder/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "rebootreminder", "config.yaml")
}

func intPtr(n int) *int { return &n }

func defaultTimeframes() []TimeframeConfig {
	hours := func(n int) Timespan { return Timespan(time.Duration(n) * time.Hour) }
	minutes := func(n int) Timespan { return Timespan(time.Duration(n) * time.Minute) }
	return []TimeframeConfig{
		{
			MinHours:         24,
			MaxHours:         intPtr(48),
			ReminderInterval: hours(4),
			Deferrals:        []Timespan{hours(1), hours(4), hours(8), hours(24)},
		},
		{
			MinHours:         49,
			MaxHours:         intPtr(72),
			ReminderInterval: hours(2),
			Deferrals:        []Timespan{hours(1), hours(2), hours(4)},
		},
		{
			MinHours:         73,
			ReminderInterval: minutes(30),
			Deferrals:        []Timespan{minutes(30), hours(1)},
		},
	}
}

func defaultProbes() []ProbeConfig {
	return []ProbeConfig{
		{
			Name: "reboot-required-file",
			Type: ProbeTypeFile,
			Path: "/var/run/reboot-required",
			Hard: true,
		},
		{
			Name:            "needs-restarting",
			Type:            ProbeTypeCommand,
			Command:         "needs-restarting",
			Args:            []string{"-r"},
			PendingExitCode: 1,
		},
	}
}

func defaultRebootCommand() []string {
	if runtime.GOOS == "windows" {
		return []string{"shutdown", "/r", "/t", "0"}
	}
	return []string{"shutdown", "-r", "now"}
}

// setDefaults registers every scalar default with v so that partial files
// and environment overrides merge over them.
func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "RebootReminder")
	v.SetDefault("service.displayName", "Reboot Reminder Service")
	v.SetDefault("service.description", "Provides notifications when system reboots are necessary")
	v.SetDefault("service.host", "")
	v.SetDefault("service.checkInterval", "1m")
	v.SetDefault("service.configRefreshMinutes", 60)
	v.SetDefault("service.probeTimeout", "10s")
	v.SetDefault("service.deliveryTimeout", "5s")

	v.SetDefault("notification.type", "both")
	v.SetDefault("notification.branding.title", "Reboot Reminder")
	v.SetDefault("notification.branding.iconPath", "icon.ico")
	v.SetDefault("notification.branding.company", "IT Department")
	msgs := defaultMessages()
	v.SetDefault("notification.messages.rebootRequired", msgs.RebootRequired)
	v.SetDefault("notification.messages.rebootRecommended", msgs.RebootRecommended)
	v.SetDefault("notification.messages.rebootScheduled", msgs.RebootScheduled)
	v.SetDefault("notification.messages.rebootInProgress", msgs.RebootInProgress)
	v.SetDefault("notification.messages.rebootCancelled", msgs.RebootCancelled)
	v.SetDefault("notification.messages.rebootPostponed", msgs.RebootPostponed)
	v.SetDefault("notification.messages.rebootCompleted", msgs.RebootCompleted)
	v.SetDefault("notification.messages.actionRequired", msgs.ActionRequired)
	v.SetDefault("notification.messages.actionRecommended", msgs.ActionRecommended)
	v.SetDefault("notification.messages.actionNotRequired", msgs.ActionNotRequired)
	v.SetDefault("notification.messages.actionNotAvailable", msgs.ActionNotAvailable)
	v.SetDefault("notification.quietHours.enabled", true)
	v.SetDefault("notification.quietHours.startTime", "22:00")
	v.SetDefault("notification.quietHours.endTime", "08:00")
	v.SetDefault("notification.quietHours.daysOfWeek", []int{0, 1, 2, 3, 4, 5, 6})
	v.SetDefault("notification.quietHours.overrideOnEscalation", true)

	v.SetDefault("reboot.systemReboot.enabled", true)
	v.SetDefault("reboot.systemReboot.countdownSeconds", 30)
	v.SetDefault("reboot.systemReboot.showConfirmation", true)
	v.SetDefault("reboot.systemReboot.confirmationMessage", "The system needs to restart. Do you want to restart now?")
	v.SetDefault("reboot.systemReboot.confirmationTitle", "System Restart Required")
	v.SetDefault("reboot.systemReboot.confirmationTimeoutSeconds", 120)
	v.SetDefault("reboot.systemReboot.command", defaultRebootCommand())

	v.SetDefault("database.path", "rebootreminder.db")
	v.SetDefault("database.retentionDays", 90)

	v.SetDefault("logging.path", "")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.maxSizeMB", 10)
	v.SetDefault("logging.maxFiles", 7)

	v.SetDefault("watchdog.enabled", true)
	v.SetDefault("watchdog.checkIntervalSeconds", 60)
	v.SetDefault("watchdog.maxRestartAttempts", 3)
	v.SetDefault("watchdog.restartDelaySeconds", 10)
	v.SetDefault("watchdog.serviceName", "rebootreminder")
	v.SetDefault("watchdog.servicePath", "")
	v.SetDefault("watchdog.healthUrl", "")
	v.SetDefault("watchdog.healthTimeoutSeconds", 5)
	v.SetDefault("watchdog.restartCommand", []string{})

	v.SetDefault("api.listen", "127.0.0.1:7474")
	v.SetDefault("api.token", "")
}

// newViper returns a viper instance bound to path with defaults and
// environment overrides registered.
func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		v.SetConfigType("json")
	case ".toml":
		v.SetConfigType("toml")
	default:
		v.SetConfigType("yaml")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// decodeHook is used for every Unmarshal of AppConfig.
func decodeHook() viper.DecoderConfigOption {
	return viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		TimespanHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *AppConfig {
	cfg, err := decodeConfig(newViper(""))
	if err != nil {
		// The built-in defaults always decode.
		panic(fmt.Sprintf("decoding default config: %v", err))
	}
	return cfg
}

// LoadConfig reads configuration from the given file path using Viper.
// The format follows the file extension (YAML when unknown). If the file
// does not exist, it returns the default configuration. The result is
// normalized and validated.
func LoadConfig(path string) (*AppConfig, error) {
	v := newViper(path)

	if err := v.ReadInConfig(); err != nil {
		var pathErr *os.PathError
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &pathErr) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg, err := decodeConfig(v)
	if err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config %s: %w", path, err)
	}
	return cfg, nil
}

func decodeConfig(v *viper.Viper) (*AppConfig, error) {
	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg, decodeHook()); err != nil {
		return nil, err
	}

	if !v.IsSet("reboot.timeframes") {
		cfg.Reboot.Timeframes = defaultTimeframes()
	}
	if !v.IsSet("reboot.probes") {
		cfg.Reboot.Probes = defaultProbes()
	}

	if cfg.Service.Host == "" {
		if h, err := os.Hostname(); err == nil {
			cfg.Service.Host = h
		} else {
			cfg.Service.Host = "localhost"
		}
	}
	if cfg.Watchdog.HealthURL == "" {
		cfg.Watchdog.HealthURL = "http://" + cfg.API.Listen + "/healthz"
	}
	if len(cfg.Watchdog.RestartCommand) == 0 {
		cfg.Watchdog.RestartCommand = []string{"systemctl", "restart", cfg.Watchdog.ServiceName}
	}
	for i := range cfg.Reboot.Probes {
		if cfg.Reboot.Probes[i].Timeout == 0 {
			cfg.Reboot.Probes[i].Timeout = cfg.Service.ProbeTimeout
		}
	}

	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))

	cfg.Database.Path = os.ExpandEnv(cfg.Database.Path)
	cfg.Logging.Path = os.ExpandEnv(cfg.Logging.Path)
	cfg.Watchdog.ServicePath = os.ExpandEnv(cfg.Watchdog.ServicePath)

	return cfg, nil
}

// Timeframes returns the escalation buckets in declared order with every
// legacy field folded into plain durations.
func (c *AppConfig) Timeframes() []Timeframe {
	out := make([]Timeframe, 0, len(c.Reboot.Timeframes))
	for _, tc := range c.Reboot.Timeframes {
		out = append(out, tc.Timeframe())
	}
	return out
}

// Timeframe normalizes a single bucket.
func (tc TimeframeConfig) Timeframe() Timeframe {
	tf := Timeframe{
		Min:      time.Duration(tc.MinHours) * time.Hour,
		Interval: tc.interval(),
	}
	if tc.Min != nil {
		tf.Min = tc.Min.Duration()
	}
	switch {
	case tc.Max != nil:
		m := tc.Max.Duration()
		tf.Max = &m
	case tc.MaxHours != nil:
		m := time.Duration(*tc.MaxHours) * time.Hour
		tf.Max = &m
	}
	for _, d := range tc.Deferrals {
		tf.DeferralOptions = append(tf.DeferralOptions, d.Duration())
	}
	return tf
}

func (tc TimeframeConfig) interval() time.Duration {
	if tc.ReminderInterval > 0 {
		return tc.ReminderInterval.Duration()
	}
	var d time.Duration
	if tc.ReminderIntervalHours != nil {
		d += time.Duration(*tc.ReminderIntervalHours) * time.Hour
	}
	if tc.ReminderIntervalMinutes != nil {
		d += time.Duration(*tc.ReminderIntervalMinutes) * time.Minute
	}
	return d
}

// SaveConfig writes the given configuration to path, creating parent
// directories if needed. The format follows the file extension.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	if ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."); ext == "json" || ext == "toml" {
		v.SetConfigType(ext)
	} else {
		v.SetConfigType("yaml")
	}

	v.Set("service", cfg.Service)
	v.Set("notification", cfg.Notification)
	v.Set("reboot", cfg.Reboot)
	v.Set("database", cfg.Database)
	v.Set("logging", cfg.Logging)
	v.Set("watchdog", cfg.Watchdog)
	v.Set("api", cfg.API)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
