package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/goodtune/keytrack/internal/config"
	"github.com/goodtune/keytrack/internal/midiin"
	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List MIDI input ports",
	Long:  `List the MIDI input ports and mark the one the daemon would connect to.`,
	RunE:  runDevices,
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}

func runDevices(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	inputs, err := midiin.ListInputs()
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		fmt.Fprintln(os.Stdout, "No MIDI input ports found")
		return nil
	}

	selected, ok := midiin.SelectPort(inputs, midiin.Config{
		Port:      cfg.MIDI.Port,
		Preferred: cfg.MIDI.Preferred,
		Excluded:  cfg.MIDI.Excluded,
	})

	green := color.New(color.FgGreen, color.Bold)
	for _, name := range inputs {
		if ok && name == selected {
			_, _ = green.Fprintf(os.Stdout, "* %s\n", name)
			continue
		}
		fmt.Fprintf(os.Stdout, "  %s\n", name)
	}
	if !ok {
		_, _ = color.New(color.FgYellow).Fprintln(os.Stdout, "\nNo port matches the configured selection")
	}
	return nil
}
