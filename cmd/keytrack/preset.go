package main

import (
	"fmt"
	"os"

	"github.com/goodtune/keytrack/internal/lights"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var presetForce bool

var presetCmd = &cobra.Command{
	Use:   "preset",
	Short: "Manage light presets",
}

var presetInitCmd = &cobra.Command{
	Use:   "init PATH",
	Short: "Write the default preset to PATH",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		if _, err := os.Stat(path); err == nil && !presetForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := lights.SavePreset(path, lights.DefaultPreset()); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "✅ Default preset written to %s\n", path)
		return nil
	},
}

var presetShowCmd = &cobra.Command{
	Use:   "show PATH",
	Short: "Validate a preset and print it with defaults filled in",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := lights.LoadPreset(args[0])
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(p); err != nil {
			return err
		}
		return enc.Close()
	},
}

func init() {
	presetInitCmd.Flags().BoolVar(&presetForce, "force", false, "Overwrite an existing file")
	presetCmd.AddCommand(presetInitCmd, presetShowCmd)
	rootCmd.AddCommand(presetCmd)
}
