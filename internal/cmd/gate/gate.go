// Package gate wires flags and environment into the gate service.
package gate

import (
	"context"
	"flag"
	"strings"

	"github.com/lanternfest/platform/internal/services/gate/app"
)

// Config holds gate command configuration.
type Config struct {
	Addr   string
	DBPath string
}

// EnvLookup returns the value for a key when present.
type EnvLookup func(string) (string, bool)

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string, lookup EnvLookup) (Config, error) {
	cfg := Config{
		Addr:   envOrDefault(lookup, []string{"LANTERNFEST_GATE_ADDR"}, "localhost:8090"),
		DBPath: envOrDefault(lookup, []string{"LANTERNFEST_GATE_DB"}, ""),
	}

	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The gate HTTP server address")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to the gate SQLite database")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the gate server.
func Run(ctx context.Context, cfg Config) error {
	return app.Run(ctx, cfg.Addr, cfg.DBPath)
}

func envOrDefault(lookup EnvLookup, keys []string, fallback string) string {
	for _, key := range keys {
		if lookup == nil {
			break
		}
		value, ok := lookup(key)
		if ok {
			trimmed := strings.TrimSpace(value)
			if trimmed != "" {
				return trimmed
			}
		}
	}
	return fallback
}
