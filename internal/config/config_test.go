package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Perception.MinorThreshold)
	assert.Equal(t, 12, cfg.Perception.ModerateThreshold)
	assert.Equal(t, 25, cfg.Perception.MajorThreshold)
	assert.Equal(t, 10*time.Second, cfg.Perception.Cooldown())
	assert.Equal(t, 3*time.Second, cfg.Perception.Debounce())
	assert.Equal(t, 120*time.Second, cfg.Perception.Heartbeat())
	assert.Equal(t, 0.75, cfg.Perception.ConfidenceFloor)
	assert.Equal(t, 5.0, cfg.CostControl.DailyBudgetUSD)
	assert.Equal(t, 120, cfg.CostControl.HourlyRateCap)
	assert.Equal(t, "0.0.0.0", cfg.VisionAPI.Host)
	assert.Equal(t, 8090, cfg.VisionAPI.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "", cfg.Reasoning.Provider, "fallback mode by default")
	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, filepath.Join(cfg.DataDir, "rules.yaml"), cfg.RulesPath)
}

func TestLoadCameraDefaults(t *testing.T) {
	path := writeConfig(t, `
cameras:
  - id: front
    device: rtsp://10.0.0.5/stream
  - id: desk
    device: /dev/video0
    name: Desk Camera
    fps: 5
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Cameras, 2)

	front := cfg.Cameras[0]
	assert.Equal(t, "rtsp", front.Kind, "kind inferred from device")
	assert.Equal(t, "front", front.Name, "name defaults to id")
	assert.Equal(t, 2, front.FPS)
	assert.True(t, front.IsEnabled())

	desk := cfg.Cameras[1]
	assert.Equal(t, "usb", desk.Kind)
	assert.Equal(t, "Desk Camera", desk.Name)
	assert.Equal(t, 5, desk.FPS)
}

func TestHeartbeatExplicitZeroDisables(t *testing.T) {
	path := writeConfig(t, `
perception:
  heartbeat_seconds: 0
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), cfg.Perception.Heartbeat())
	require.NotNil(t, cfg.Perception.HeartbeatSeconds)
	assert.Equal(t, 0, *cfg.Perception.HeartbeatSeconds)
}

func TestEnvInterpolation(t *testing.T) {
	t.Setenv("TEST_PMCP_KEY", "sk-from-env")
	path := writeConfig(t, `
reasoning:
  provider: anthropic
  api_key: ${TEST_PMCP_KEY}
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-from-env", cfg.Reasoning.APIKey)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("REASONING_PROVIDER", "openai")
	t.Setenv("REASONING_API_KEY", "sk-override")
	t.Setenv("REASONING_MODEL", "gpt-4o-mini")
	t.Setenv("VISION_API_PORT", "9191")
	t.Setenv("CLOUD_MODE", "true")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_CHAT_ID", "42")

	path := writeConfig(t, `
reasoning:
  provider: anthropic
  api_key: sk-file
vision_api:
  port: 8090
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.Reasoning.Provider)
	assert.Equal(t, "sk-override", cfg.Reasoning.APIKey)
	assert.Equal(t, "gpt-4o-mini", cfg.Reasoning.Model)
	assert.Equal(t, 9191, cfg.VisionAPI.Port)
	assert.True(t, cfg.CloudMode)
	assert.True(t, cfg.Notifications.Telegram.Configured())
}

func TestValidateFailures(t *testing.T) {
	cases := map[string]string{
		"empty camera id": `
cameras:
  - device: /dev/video0
`,
		"duplicate camera id": `
cameras:
  - {id: a, device: /dev/video0}
  - {id: a, device: /dev/video1}
`,
		"missing device": `
cameras:
  - id: a
`,
		"unknown kind": `
cameras:
  - {id: a, device: x, kind: firewire}
`,
		"unknown provider": `
reasoning:
  provider: replicate
  api_key: x
`,
		"provider without key": `
reasoning:
  provider: anthropic
`,
		"bad confidence floor": `
perception:
  confidence_floor: 1.5
`,
		"bad default channel": `
notifications:
  default_channel: pager
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestValidateNoneChannelAllowed(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
notifications:
  default_channel: none
`))
	require.NoError(t, err)
	assert.Equal(t, "none", cfg.Notifications.DefaultChannel)
}
