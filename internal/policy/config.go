package policy

import "strings"

// Mode selects how decisions are applied.
type Mode string

const (
	ModeOff     Mode = "off"
	ModeDryRun  Mode = "dry-run"
	ModeEnforce Mode = "enforce"
)

// Config is the policy section of researchd.yaml.
type Config struct {
	Mode Mode `mapstructure:"mode"`
	// Path is a directory of .rego files defining data.researchd.tools.deny.
	// Empty uses the built-in module.
	Path string `mapstructure:"path"`
	// FailClosed denies calls when policies cannot be read or evaluated.
	FailClosed bool `mapstructure:"fail_closed"`
	// AllowedTools limits the tools that may run. Empty allows every tool.
	AllowedTools   []string `mapstructure:"allowed_tools"`
	BlockedDomains []string `mapstructure:"blocked_domains"`
	DisableCache   bool     `mapstructure:"disable_cache"`
}

// DefaultConfig enforces the built-in module with no restrictions.
func DefaultConfig() Config {
	return Config{Mode: ModeEnforce}
}

// normalize turns an unknown mode off and lowercases blocked domains.
func (c *Config) normalize() {
	switch c.Mode {
	case ModeOff, ModeDryRun, ModeEnforce:
	default:
		c.Mode = ModeOff
	}
	blocked := make([]string, 0, len(c.BlockedDomains))
	for _, d := range c.BlockedDomains {
		blocked = append(blocked, strings.ToLower(strings.TrimPrefix(d, "www.")))
	}
	c.BlockedDomains = blocked
}
