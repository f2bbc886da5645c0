package adminsession

import (
	"github.com/lanternfest/platform/internal/platform/config"
)

// developmentSecret mirrors the qrtoken default so local stacks run without
// setup. Deployments must override it; rotation is the only way to revoke
// outstanding sessions before they expire.
const developmentSecret = "lanternfest-dev-secret"

// Config holds the signing secret for admin session tokens.
type Config struct {
	Secret string
}

// LoadConfigFromEnv resolves the signing secret through the platform fallback
// chain.
func LoadConfigFromEnv() Config {
	return Config{
		Secret: config.FirstEnv(
			[]string{"LANTERNFEST_GATE_SECRET", "LANTERNFEST_SECRET"},
			developmentSecret,
		),
	}
}
