package notify

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
)

// Desktop shows an OS-native notification. Linux uses notify-send, macOS
// osascript. Photos are not supported.
type Desktop struct{}

func NewDesktop() *Desktop { return &Desktop{} }

func (d *Desktop) Name() string { return "desktop" }

func (d *Desktop) Send(ctx context.Context, a Alert) error {
	switch runtime.GOOS {
	case "linux":
		urgency := "normal"
		if a.Priority == "CRITICAL" || a.Priority == "HIGH" {
			urgency = "critical"
		}
		return exec.CommandContext(ctx, "notify-send", "-u", urgency, a.Title, a.Body).Run()
	case "darwin":
		script := fmt.Sprintf("display notification %q with title %q", a.Body, a.Title)
		return exec.CommandContext(ctx, "osascript", "-e", script).Run()
	default:
		return fmt.Errorf("desktop notifications unsupported on %s", runtime.GOOS)
	}
}
