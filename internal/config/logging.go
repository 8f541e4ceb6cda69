package config

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
)

// ConfigureLogging applies the level and formatter to the default logger.
func ConfigureLogging(level, format string) error {
	lvl, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	log.SetLevel(lvl)
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		log.SetFormatter(log.TextFormatter)
	case "json":
		log.SetFormatter(log.JSONFormatter)
	case "logfmt":
		log.SetFormatter(log.LogfmtFormatter)
	default:
		return fmt.Errorf("invalid log format %q: expected text, json or logfmt", format)
	}
	log.SetReportTimestamp(true)
	return nil
}
