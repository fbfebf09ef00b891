package access

// DefaultKeyPrompt is the hint handed to Prompter.ManagementKey when no
// call-specific one is set.
const DefaultKeyPrompt = "Enter a management key"

// AuthOption adjusts a single resolution call.
type AuthOption func(*authConfig)

type authConfig struct {
	requireBoth bool
	noPrompt    bool
	keyPrompt   string
}

func newAuthConfig(opts ...AuthOption) *authConfig {
	cfg := &authConfig{
		keyPrompt: DefaultKeyPrompt,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// RequireBothFactors demands PIN verification in addition to management key
// authentication even on tokens where one credential would do. Retry policy
// changes are the canonical caller.
func RequireBothFactors() AuthOption {
	return func(cfg *authConfig) {
		cfg.requireBoth = true
	}
}

// NoPrompt makes a missing credential a hard failure instead of a prompt.
// Non-interactive callers set it on every call.
func NoPrompt() AuthOption {
	return func(cfg *authConfig) {
		cfg.noPrompt = true
	}
}

// WithKeyPrompt replaces the management key prompt hint, e.g. when the
// current key is being replaced and "a management key" would be ambiguous.
func WithKeyPrompt(prompt string) AuthOption {
	return func(cfg *authConfig) {
		cfg.keyPrompt = prompt
	}
}
