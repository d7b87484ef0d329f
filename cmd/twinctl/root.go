package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	// Persistent flags
	cfgStateDir string
	cfgFile     string
	cfgLogLevel string
)

var rootCmd = &cobra.Command{
	Use:           "twinctl",
	Short:         "Scene command gateway",
	Long:          `Routes scene commands from controllers and AI agents to connected 3D renderers.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgStateDir, "state-dir", defaultStateDir(), "Directory for logs and state")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", envStr("TWINCTL_CONFIG", ""), "YAML config file")
	rootCmd.PersistentFlags().StringVar(&cfgLogLevel, "log-level", envStr("TWINCTL_LOG_LEVEL", ""), "Log level: debug, info, warn, error")
}

// defaultStateDir returns XDG_STATE_HOME/twinctl or ~/.local/state/twinctl.
func defaultStateDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "twinctl")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".twinctl", "state")
	}
	return filepath.Join(home, ".local", "state", "twinctl")
}
