// Package redaction scrubs wallet secrets and credentials from text that
// leaves the process: failure artifacts, error messages and reports.
package redaction

// Mode defines the redaction behavior.
type Mode string

const (
	// ModeOff disables all scanning.
	ModeOff Mode = "off"
	// ModeWarn reports findings but leaves content unchanged.
	ModeWarn Mode = "warn"
	// ModeRedact replaces sensitive content with placeholders.
	ModeRedact Mode = "redact"
)

// Category identifies the type of sensitive content detected.
type Category string

const (
	CategorySeedPhrase  Category = "SEED_PHRASE"
	CategorySecretKey   Category = "SECRET_KEY"
	CategoryPrivateKey  Category = "PRIVATE_KEY"
	CategoryJWT         Category = "JWT"
	CategoryBearerToken Category = "BEARER_TOKEN"
)

// Finding is a single detected secret.
type Finding struct {
	Category Category `json:"category"`
	// Match is the original matched content. It is never serialized.
	Match    string `json:"-"`
	Redacted string `json:"redacted"`
	Start    int    `json:"start"`
	End      int    `json:"end"`
}

// Result is the outcome of ScanAndRedact.
type Result struct {
	Mode     Mode      `json:"mode"`
	Findings []Finding `json:"findings"`
	Output   string    `json:"-"`
}

// Config configures the redaction behavior.
type Config struct {
	Mode Mode `json:"mode"`
	// Secrets are literal values that must never appear in output, such as
	// the configured wallet seed phrase.
	Secrets map[Category][]string `json:"-"`
	// Allowlist contains regex patterns that should not be flagged.
	Allowlist []string `json:"allowlist,omitempty"`
}

// Validate checks the mode.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeOff, ModeWarn, ModeRedact:
		return nil
	default:
		return &ConfigError{Field: "mode", Message: "invalid mode: " + string(c.Mode)}
	}
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "redaction config error: " + e.Field + ": " + e.Message
}
