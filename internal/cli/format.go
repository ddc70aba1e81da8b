package cli

import (
	"fmt"
	"strings"

	"google.golang.org/grpc/status"

	"github.com/nine-chronicles/launcher/internal/daemon/bus"
)

// errorMessage strips the gRPC status wrapper from err.
func errorMessage(err error) string {
	if s, ok := status.FromError(err); ok {
		return s.Message()
	}
	return err.Error()
}

func percent(f float64) string {
	return fmt.Sprintf("%3d%%", int(f*100))
}

// formatEvent renders an event as a single plain line.
func formatEvent(ev bus.Event) string {
	ts := ev.Time.Local().Format("15:04:05")
	switch ev.Kind {
	case bus.EventDownloadProgress:
		return fmt.Sprintf("%s download  %s", ts, percent(ev.Fraction))
	case bus.EventExtractProgress:
		return fmt.Sprintf("%s extract   %s", ts, percent(ev.Fraction))
	case bus.EventDownloadComplete:
		return fmt.Sprintf("%s downloaded %s", ts, ev.Path)
	case bus.EventExtractComplete:
		return fmt.Sprintf("%s snapshot installed", ts)
	case bus.EventTransferFailed:
		return fmt.Sprintf("%s transfer failed while %s: %s", ts, ev.Phase, ev.Error)
	case bus.EventGameClosed:
		return fmt.Sprintf("%s game closed", ts)
	case bus.EventNodeExited:
		if ev.HasCode {
			return fmt.Sprintf("%s node exited (code %d)", ts, ev.Code)
		}
		return fmt.Sprintf("%s node exited", ts)
	case bus.EventWindowState:
		if ev.Visible {
			return fmt.Sprintf("%s window shown", ts)
		}
		return fmt.Sprintf("%s window hidden", ts)
	case bus.EventWindowMinimize:
		return fmt.Sprintf("%s window minimized", ts)
	case bus.EventSettingsReloaded:
		return fmt.Sprintf("%s settings reloaded", ts)
	}
	return fmt.Sprintf("%s %s", ts, ev.Kind)
}

// formatProcess renders a process entry from a status map.
func formatProcess(p map[string]any) string {
	name, _ := p["name"].(string)
	state, _ := p["state"].(string)
	pid, _ := p["pid"].(float64)

	line := fmt.Sprintf("%-6s pid %-7d %s", name, int(pid), state)
	if code, ok := p["exit_code"].(float64); ok {
		line += fmt.Sprintf(" (code %d)", int(code))
	}
	return line
}

// formatJob renders a transfer entry from a status map.
func formatJob(j map[string]any) string {
	phase, _ := j["phase"].(string)
	progress, _ := j["progress"].(float64)
	line := fmt.Sprintf("%s %s", phase, strings.TrimSpace(percent(progress)))
	if msg, ok := j["error"].(string); ok && msg != "" {
		line += ": " + msg
	}
	return line
}
