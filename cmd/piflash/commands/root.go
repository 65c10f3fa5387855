package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "piflash",
	Short: "Raspberry Pi OS flasher",
	Long: `Writes Raspberry Pi OS images to SD cards and USB drives and prepares
them for first boot: SSH enabled, an initial account, and optional TPM setup.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("images-dir", "./os_images", "Directory holding the compressed OS images")
	flags.String("sqlite-path", ".artifacts/installs.db", "SQLite database path")
	flags.String("fsm-db-path", ".artifacts/fsm", "FSM BoltDB path")
	flags.String("writer", "shell", "Image writer: shell (xzcat | dd) or native")
	flags.Bool("use-sudo", true, "Run dd through sudo in the shell writer")
	flags.String("log-level", "info", "Log level: debug, info, warn, error")
	flags.String("log-format", "text", "Log format: text or json")

	for _, name := range []string{"images-dir", "sqlite-path", "fsm-db-path", "writer", "use-sudo", "log-level", "log-format"} {
		viper.BindPFlag(name, flags.Lookup(name))
	}
}
