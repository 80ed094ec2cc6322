package vault

import (
	"errors"
	"strings"

	"github.com/ManuelReschke/FiscalFox/internal/pkg/env"
)

// LoadKeyRing builds the key ring from FISCAL_VAULT_SECRET and the optional
// comma separated FISCAL_VAULT_PREVIOUS_SECRETS. A missing secret is an error;
// there is no default key.
func LoadKeyRing() (*StaticKeyRing, error) {
	secret := env.GetEnv("FISCAL_VAULT_SECRET", "")
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("FISCAL_VAULT_SECRET is required")
	}

	var previous []string
	if raw := env.GetEnv("FISCAL_VAULT_PREVIOUS_SECRETS", ""); raw != "" {
		previous = strings.Split(raw, ",")
	}
	return NewStaticKeyRing(secret, previous...)
}
