// Package log centralizes logger construction so every package in this
// module gets a consistently named, consistently configured logger.
package log

import logging "github.com/ipfs/go-log"

// New returns a named logger in the same style the teacher library
// constructs its per-package loggers.
func New(name string) logging.EventLogger {
	return logging.Logger(name)
}

// SetLevel adjusts the log level for every subsystem logger created via
// New. Levels follow go-log's own convention: "debug", "info", "warn",
// "error", "fatal".
func SetLevel(level string) error {
	return logging.SetLogLevel("*", level)
}
