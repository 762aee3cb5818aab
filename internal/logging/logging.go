// Package logging builds the hclog loggers used across rlsguard.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// EnvLevel is consulted when no level is configured.
const EnvLevel = "RLSGUARD_LOG_LEVEL"

// New returns a logger writing to w at the named level. An empty level
// falls back to EnvLevel, then info. A nil w writes to stderr.
func New(level, name string, w io.Writer) (hclog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:        name,
		Output:      w,
		Level:       lvl,
		DisableTime: true,
	}), nil
}

// ParseLevel maps a level name to an hclog.Level.
func ParseLevel(level string) (hclog.Level, error) {
	if level == "" {
		level = os.Getenv(EnvLevel)
	}
	if strings.TrimSpace(level) == "" {
		return hclog.Info, nil
	}
	lvl := hclog.LevelFromString(level)
	if lvl == hclog.NoLevel {
		return hclog.NoLevel, fmt.Errorf("unknown log level %q", level)
	}
	return lvl, nil
}
