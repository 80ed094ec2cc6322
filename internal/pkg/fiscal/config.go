package fiscal

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ManuelReschke/FiscalFox/internal/pkg/env"
)

const (
	defaultSandboxURL    = "https://homologacao.focusnfe.com.br/v2"
	defaultProductionURL = "https://api.focusnfe.com.br/v2"
)

// Config holds process-wide fiscal settings. Per-tenant settings live in
// FiscalIntegration rows.
type Config struct {
	SandboxURL      string
	ProductionURL   string
	ProviderTimeout time.Duration
	WebhookSecret   string
	AutoPoll        bool
	LockTTL         time.Duration
}

// LoadConfig reads the fiscal settings from the environment.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		SandboxURL:      strings.TrimRight(strings.TrimSpace(env.GetEnv("FISCAL_PROVIDER_SANDBOX_URL", defaultSandboxURL)), "/"),
		ProductionURL:   strings.TrimRight(strings.TrimSpace(env.GetEnv("FISCAL_PROVIDER_PRODUCTION_URL", defaultProductionURL)), "/"),
		ProviderTimeout: env.GetEnvDuration("FISCAL_PROVIDER_TIMEOUT", 30*time.Second),
		WebhookSecret:   strings.TrimSpace(env.GetEnv("FISCAL_WEBHOOK_SECRET", "")),
		AutoPoll:        env.GetEnvBool("FISCAL_AUTO_POLL_ENABLED", false),
		LockTTL:         env.GetEnvDuration("FISCAL_LOCK_TTL", 15*time.Second),
	}

	for name, raw := range map[string]string{
		"FISCAL_PROVIDER_SANDBOX_URL":    cfg.SandboxURL,
		"FISCAL_PROVIDER_PRODUCTION_URL": cfg.ProductionURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("%s is not a valid URL: %q", name, raw)
		}
	}
	if cfg.ProviderTimeout <= 0 {
		return nil, fmt.Errorf("FISCAL_PROVIDER_TIMEOUT must be positive")
	}

	return cfg, nil
}

// BaseURL returns the provider endpoint for an integration environment.
func (c *Config) BaseURL(environment string) string {
	if environment == "production" {
		return c.ProductionURL
	}
	return c.SandboxURL
}
