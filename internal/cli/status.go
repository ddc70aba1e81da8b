package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nine-chronicles/launcher/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show launcher status",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	running, info, err := config.IsInstanceRunning()
	if err != nil {
		return fmt.Errorf("failed to check launcher status: %w", err)
	}
	if !running || info == nil {
		fmt.Println("Launcher is not running.")
		return nil
	}

	c, err := connect()
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()
	st, err := c.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get status: %s", errorMessage(err))
	}

	version, _ := st["version"].(string)
	uptime := time.Since(info.StartedAt).Truncate(time.Second)

	fmt.Printf("%s %s\n", styleBrand.Render("Nine Chronicles Launcher"), styleVersion.Render(version))
	printField("Address", info.Address())
	printField("PID", fmt.Sprintf("%d", info.PID))
	printField("Uptime", uptime.String())

	if w, ok := st["window"].(map[string]any); ok {
		visible, _ := w["visible"].(bool)
		state := "hidden"
		if visible {
			state = "shown"
		}
		if quitting, _ := w["quitting"].(bool); quitting {
			state += ", quitting"
		}
		printField("Window", state)
	}

	if node, ok := st["node"].(map[string]any); ok {
		printField("Node", formatProcess(node))
	} else {
		printField("Node", styleHint.Render("not started"))
	}

	if job, ok := st["transfer"].(map[string]any); ok {
		printField("Snapshot", formatJob(job))
	}

	if procs, ok := st["processes"].([]any); ok && len(procs) > 0 {
		fmt.Printf("\nProcesses (%d):\n", len(procs))
		for _, p := range procs {
			if m, ok := p.(map[string]any); ok {
				fmt.Printf("  %s\n", formatProcess(m))
			}
		}
	}
	return nil
}

func printField(label, value string) {
	fmt.Printf("  %s %s\n", styleLabel.Render(fmt.Sprintf("%-10s", label+":")), styleValue.Render(value))
}
