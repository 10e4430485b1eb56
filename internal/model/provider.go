package model

import "fmt"

// Known provider names for Config.Provider.
const (
	ProviderAnthropic = "anthropic"
	ProviderScripted  = "scripted"
)

// New creates a model client based on configuration.
func New(cfg Config) (Client, error) {
	switch cfg.Provider {
	case "", ProviderAnthropic:
		return NewAnthropic(cfg)
	case ProviderScripted:
		return NewScripted(DemoScript()...), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
	}
}
