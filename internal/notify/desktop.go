package notify

import (
	"fmt"
	"os/exec"
	"runtime"
)

// DesktopNotifier surfaces run outcomes on the machine running the
// orchestrator, so long-running councils don't need a terminal watched.
type DesktopNotifier struct {
	enabled bool
}

// NewDesktopNotifier creates a new desktop notifier
func NewDesktopNotifier(enabled bool) *DesktopNotifier {
	return &DesktopNotifier{enabled: enabled}
}

// Send sends a desktop notification
func (d *DesktopNotifier) Send(n Notification) error {
	if !d.enabled {
		return nil
	}

	switch runtime.GOOS {
	case "darwin":
		return d.sendMacOS(n)
	case "linux":
		return d.sendLinux(n)
	default:
		return nil // Unsupported
	}
}

// body puts the run reference on its own line under the feature summary
func body(n Notification) string {
	msg := n.Message
	if n.Ref != "" {
		msg += "\n" + n.Ref
	} else if n.RunID != "" {
		msg += "\nrun " + n.RunID
	}
	return msg
}

func (d *DesktopNotifier) sendMacOS(n Notification) error {
	// %q escaping is compatible with AppleScript string literals
	script := fmt.Sprintf(`display notification %q with title %q`, body(n), n.Title)
	return exec.Command("osascript", "-e", script).Run()
}

func (d *DesktopNotifier) sendLinux(n Notification) error {
	urgency := "normal"
	if n.Type == NotifyError {
		urgency = "critical"
	}
	cmd := exec.Command("notify-send",
		"--urgency", urgency,
		"--icon", iconFor(n.Type),
		n.Title, body(n))
	return cmd.Run()
}

func iconFor(t NotificationType) string {
	switch t {
	case NotifySuccess:
		return "dialog-positive"
	case NotifyWarning:
		return "dialog-warning"
	case NotifyError:
		return "dialog-error"
	default:
		return "dialog-information"
	}
}
