package main

import (
	"log/slog"
	"os"

	"github.com/piflash/piflash/cmd/piflash/commands"
)

func main() {
	// Initialize structured logger with text format for readability;
	// commands reconfigure it from log-level and log-format once config is loaded.
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	commands.Execute()
}
