// Package logging provides the engine's structured, rotating file
// logger. JSON log lines go to ~/.codeplane/logs/daemon.log via
// log/slog; the foreground daemon (`up`) and --debug also copy them to
// stderr.
package logging
