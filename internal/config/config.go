package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("config invalid")

// CameraConfig describes a single camera source.
type CameraConfig struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	Kind       string `yaml:"kind"` // usb | rtsp | http
	Device     string `yaml:"device"`
	Resolution string `yaml:"resolution"`
	FPS        int    `yaml:"fps"`
	Enabled    *bool  `yaml:"enabled"`
}

func (c CameraConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// ReasoningConfig selects the VLM provider. An empty Provider means
// client-side (fallback) mode.
type ReasoningConfig struct {
	Provider string `yaml:"provider"` // anthropic | openai | gemini | openai_compatible | ""
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
}

// PerceptionConfig carries the change-detector thresholds and sampler timers.
type PerceptionConfig struct {
	MinorThreshold    int     `yaml:"minor_threshold"`
	ModerateThreshold int     `yaml:"moderate_threshold"`
	MajorThreshold    int     `yaml:"major_threshold"`
	CooldownSeconds   int     `yaml:"cooldown_seconds"`
	DebounceSeconds   int     `yaml:"debounce_seconds"`
	// HeartbeatSeconds of 0 disables heartbeat analysis entirely. The
	// pointer distinguishes "absent" (default 120) from an explicit 0.
	HeartbeatSeconds *int    `yaml:"heartbeat_seconds"`
	ConfidenceFloor  float64 `yaml:"confidence_floor"`
}

// CostControlConfig caps VLM spend.
type CostControlConfig struct {
	DailyBudgetUSD float64 `yaml:"daily_budget_usd"`
	HourlyRateCap  int     `yaml:"hourly_rate_cap"`
}

// NotificationsConfig holds per-channel settings plus the default channel for
// system events ("none" is valid and means log only).
type NotificationsConfig struct {
	DefaultChannel string `yaml:"default_channel"` // auto | telegram | discord | slack | ntfy | desktop | webhook | none

	Telegram TelegramConfig `yaml:"telegram"`
	Discord  WebhookTarget  `yaml:"discord"`
	Slack    WebhookTarget  `yaml:"slack"`
	Ntfy     NtfyConfig     `yaml:"ntfy"`
	Webhook  WebhookTarget  `yaml:"webhook"`
	Desktop  DesktopConfig  `yaml:"desktop"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

func (t TelegramConfig) Configured() bool { return t.BotToken != "" && t.ChatID != "" }

type WebhookTarget struct {
	URL string `yaml:"url"`
}

func (w WebhookTarget) Configured() bool { return w.URL != "" }

type NtfyConfig struct {
	Server string `yaml:"server"`
	Topic  string `yaml:"topic"`
}

func (n NtfyConfig) Configured() bool { return n.Topic != "" }

type DesktopConfig struct {
	Enabled bool `yaml:"enabled"`
}

// VisionAPIConfig configures the HTTP surface.
type VisionAPIConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// ServerConfig configures the MCP-facing server transport.
type ServerConfig struct {
	Transport string `yaml:"transport"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | text
}

// Config is the root configuration document.
type Config struct {
	Cameras       []CameraConfig      `yaml:"cameras"`
	Reasoning     ReasoningConfig     `yaml:"reasoning"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Perception    PerceptionConfig    `yaml:"perception"`
	CostControl   CostControlConfig   `yaml:"cost_control"`
	VisionAPI     VisionAPIConfig     `yaml:"vision_api"`
	Server        ServerConfig        `yaml:"server"`
	Logging       LoggingConfig       `yaml:"logging"`

	RulesPath string `yaml:"rules_path"`
	DataDir   string `yaml:"data_dir"`
	Headless  bool   `yaml:"headless"`
	CloudMode bool   `yaml:"cloud_mode"`
}

// DefaultPath returns the per-user config location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "physical-mcp.yaml"
	}
	return filepath.Join(home, ".physical-mcp", "config.yaml")
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// interpolate replaces ${ENV_VAR} references in the raw document. Unset
// variables expand to the empty string.
func interpolate(raw []byte) []byte {
	return envRef.ReplaceAllFunc(raw, func(m []byte) []byte {
		name := envRef.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// Load reads, interpolates, unmarshals, applies env overrides and defaults,
// and validates. A missing file yields the default config (still subject to
// env overrides) so first-run works without a wizard.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(interpolate(raw), cfg); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalid, path, err)
		}
	case os.IsNotExist(err):
		// defaults only
	default:
		return nil, fmt.Errorf("%w: read %s: %v", ErrInvalid, path, err)
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies the recognized environment variables. An empty
// value means unset and leaves the file value alone.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PHYSICAL_MCP_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("PHYSICAL_MCP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
	if v := os.Getenv("VISION_API_HOST"); v != "" {
		c.VisionAPI.Host = v
	}
	if v := os.Getenv("VISION_API_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.VisionAPI.Port = p
		}
	}
	if v := os.Getenv("REASONING_PROVIDER"); v != "" {
		c.Reasoning.Provider = v
	}
	if v := os.Getenv("REASONING_API_KEY"); v != "" {
		c.Reasoning.APIKey = v
	}
	if v := os.Getenv("REASONING_MODEL"); v != "" {
		c.Reasoning.Model = v
	}
	if v := os.Getenv("REASONING_BASE_URL"); v != "" {
		c.Reasoning.BaseURL = v
	}
	if v := os.Getenv("PHYSICAL_MCP_HEADLESS"); v != "" {
		c.Headless = isTruthy(v)
	}
	if v := os.Getenv("CLOUD_MODE"); v != "" {
		c.CloudMode = isTruthy(v)
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Notifications.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Notifications.Telegram.ChatID = v
	}
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func (c *Config) applyDefaults() {
	if c.Perception.MinorThreshold == 0 {
		c.Perception.MinorThreshold = 5
	}
	if c.Perception.ModerateThreshold == 0 {
		c.Perception.ModerateThreshold = 12
	}
	if c.Perception.MajorThreshold == 0 {
		c.Perception.MajorThreshold = 25
	}
	if c.Perception.CooldownSeconds == 0 {
		c.Perception.CooldownSeconds = 10
	}
	if c.Perception.DebounceSeconds == 0 {
		c.Perception.DebounceSeconds = 3
	}
	if c.Perception.HeartbeatSeconds == nil {
		hb := 120
		c.Perception.HeartbeatSeconds = &hb
	}
	if c.Perception.ConfidenceFloor == 0 {
		c.Perception.ConfidenceFloor = 0.75
	}
	if c.CostControl.DailyBudgetUSD == 0 {
		c.CostControl.DailyBudgetUSD = 5.0
	}
	if c.CostControl.HourlyRateCap == 0 {
		c.CostControl.HourlyRateCap = 120
	}
	if c.VisionAPI.Host == "" {
		c.VisionAPI.Host = "0.0.0.0"
	}
	if c.VisionAPI.Port == 0 {
		c.VisionAPI.Port = 8090
	}
	if c.Server.Transport == "" {
		c.Server.Transport = "stdio"
	}
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8091
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			c.DataDir = ".physical-mcp"
		} else {
			c.DataDir = filepath.Join(home, ".physical-mcp")
		}
	}
	if c.RulesPath == "" {
		c.RulesPath = filepath.Join(c.DataDir, "rules.yaml")
	}
	for i := range c.Cameras {
		if c.Cameras[i].FPS <= 0 {
			c.Cameras[i].FPS = 2
		}
		if c.Cameras[i].Kind == "" {
			c.Cameras[i].Kind = inferKind(c.Cameras[i].Device)
		}
		if c.Cameras[i].Name == "" {
			c.Cameras[i].Name = c.Cameras[i].ID
		}
	}
}

func inferKind(device string) string {
	switch {
	case strings.HasPrefix(device, "rtsp://"):
		return "rtsp"
	case strings.HasPrefix(device, "http://"), strings.HasPrefix(device, "https://"):
		return "http"
	default:
		return "usb"
	}
}

// Validate checks the document. Validation failures are fatal at startup.
func (c *Config) Validate() error {
	seen := map[string]bool{}
	for _, cam := range c.Cameras {
		if cam.ID == "" {
			return fmt.Errorf("%w: camera with empty id", ErrInvalid)
		}
		if seen[cam.ID] {
			return fmt.Errorf("%w: duplicate camera id %q", ErrInvalid, cam.ID)
		}
		seen[cam.ID] = true
		if cam.Device == "" {
			return fmt.Errorf("%w: camera %q has no device", ErrInvalid, cam.ID)
		}
		switch cam.Kind {
		case "usb", "rtsp", "http":
		default:
			return fmt.Errorf("%w: camera %q has unknown kind %q", ErrInvalid, cam.ID, cam.Kind)
		}
	}
	switch c.Reasoning.Provider {
	case "", "anthropic", "openai", "gemini", "openai_compatible":
	default:
		return fmt.Errorf("%w: unknown reasoning provider %q", ErrInvalid, c.Reasoning.Provider)
	}
	if c.Reasoning.Provider != "" && c.Reasoning.APIKey == "" {
		return fmt.Errorf("%w: reasoning provider %q set without api_key", ErrInvalid, c.Reasoning.Provider)
	}
	if c.VisionAPI.Port < 1 || c.VisionAPI.Port > 65535 {
		return fmt.Errorf("%w: vision_api.port %d out of range", ErrInvalid, c.VisionAPI.Port)
	}
	if c.Perception.ConfidenceFloor < 0 || c.Perception.ConfidenceFloor > 1 {
		return fmt.Errorf("%w: confidence_floor must be in [0,1]", ErrInvalid)
	}
	if c.CostControl.DailyBudgetUSD < 0 || c.CostControl.HourlyRateCap < 0 {
		return fmt.Errorf("%w: cost_control values must be nonnegative", ErrInvalid)
	}
	switch c.Notifications.DefaultChannel {
	case "", "auto", "none", "telegram", "discord", "slack", "ntfy", "desktop", "webhook":
	default:
		return fmt.Errorf("%w: unknown default_channel %q", ErrInvalid, c.Notifications.DefaultChannel)
	}
	return nil
}

// Heartbeat returns the heartbeat interval; zero disables heartbeats.
func (p PerceptionConfig) Heartbeat() time.Duration {
	if p.HeartbeatSeconds == nil || *p.HeartbeatSeconds <= 0 {
		return 0
	}
	return time.Duration(*p.HeartbeatSeconds) * time.Second
}

func (p PerceptionConfig) Cooldown() time.Duration {
	return time.Duration(p.CooldownSeconds) * time.Second
}

func (p PerceptionConfig) Debounce() time.Duration {
	return time.Duration(p.DebounceSeconds) * time.Second
}
