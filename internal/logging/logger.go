// Package logging assembles the service's log pipeline. Every component
// logs through slog: capture and extraction, the record synchronizer,
// and the HTTP handlers. Setup installs the stdout JSON half; when a
// database is configured, cmd/server layers PGHandler on top through a
// MultiHandler so ERROR and above also land in system_logs.
package logging

import (
	"log/slog"
	"os"
)

// Setup makes a JSON stdout logger the process default. It runs before
// the synchronizer and the extraction client start, so their warnings
// are never lost to a missing handler.
func Setup() {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	slog.SetDefault(slog.New(handler))
}
