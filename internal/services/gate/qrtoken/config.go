package qrtoken

import (
	"github.com/lanternfest/platform/internal/platform/config"
)

// developmentSecret keeps local and CI environments working without setup.
// Any non-development deployment must override it or every identity token is
// forgeable with a published value.
const developmentSecret = "lanternfest-dev-secret"

// Config holds the signing secret for identity tokens.
type Config struct {
	Secret string
}

// LoadConfigFromEnv resolves the signing secret through the platform fallback
// chain. Encode and decode must run with the same secret; rotating it
// invalidates every previously issued token.
func LoadConfigFromEnv() Config {
	return Config{
		Secret: config.FirstEnv(
			[]string{"LANTERNFEST_GATE_SECRET", "LANTERNFEST_SECRET"},
			developmentSecret,
		),
	}
}
