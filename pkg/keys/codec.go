// Package keys provides cache key validation, normalization, and
// deterministic context enrichment.
package keys

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors for key validation failures.
var (
	// ErrEmpty is returned when the raw key is empty or whitespace-only.
	ErrEmpty = errors.New("key is empty")

	// ErrTooLong is returned when the raw key exceeds the configured maximum length.
	ErrTooLong = errors.New("key exceeds maximum length")

	// ErrInvalidChar is returned when the raw key contains a disallowed character.
	ErrInvalidChar = errors.New("key contains invalid character")

	// ErrVersionMismatch is returned when the key embeds a version that does
	// not match the codec's configured version.
	ErrVersionMismatch = errors.New("key version mismatch")
)

// KeyError wraps a key validation failure with the offending key.
type KeyError struct {
	Key string
	Err error
}

// Error implements the error interface.
func (e *KeyError) Error() string {
	return fmt.Sprintf("invalid cache key %q: %v", e.Key, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *KeyError) Unwrap() error {
	return e.Err
}

// IsKeyError reports whether err is (or wraps) a KeyError.
func IsKeyError(err error) bool {
	var ke *KeyError
	return errors.As(err, &ke)
}

// contextMarker separates the base key from the enrichment suffix.
// Enrichment is idempotent: a key already carrying the marker is returned unchanged.
const contextMarker = "_ctx_"

// Config holds key codec configuration.
type Config struct {
	// MaxLength is the maximum allowed raw key length in bytes.
	MaxLength int

	// Separator joins key segments and the context suffix.
	Separator string

	// Version is an optional key schema version (e.g. "v1"). When set,
	// normalized keys are prefixed with it, and raw keys embedding a
	// different version are rejected.
	Version string
}

// DefaultConfig returns the default key codec configuration.
func DefaultConfig() Config {
	return Config{
		MaxLength: 512,
		Separator: ":",
		Version:   "",
	}
}

// Codec validates, normalizes, and enriches cache keys.
type Codec struct {
	config Config
}

// NewCodec creates a key codec with the given configuration.
// Zero-value fields fall back to defaults.
func NewCodec(cfg Config) *Codec {
	def := DefaultConfig()
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = def.MaxLength
	}
	if cfg.Separator == "" {
		cfg.Separator = def.Separator
	}
	return &Codec{config: cfg}
}

// Normalize validates a raw key and returns its canonical form.
// Validation failures are reported as *KeyError wrapping one of the
// sentinel errors above.
func (c *Codec) Normalize(raw string) (string, error) {
	key := strings.TrimSpace(raw)

	if key == "" {
		return "", &KeyError{Key: raw, Err: ErrEmpty}
	}
	if len(key) > c.config.MaxLength {
		return "", &KeyError{Key: truncate(key, 64), Err: ErrTooLong}
	}
	for _, r := range key {
		if !isAllowedKeyChar(r) {
			return "", &KeyError{Key: key, Err: fmt.Errorf("%w: %q", ErrInvalidChar, r)}
		}
	}

	if c.config.Version != "" {
		embedded, rest, ok := splitVersion(key, c.config.Separator)
		switch {
		case ok && embedded != c.config.Version:
			return "", &KeyError{Key: key, Err: fmt.Errorf("%w: got %s, want %s", ErrVersionMismatch, embedded, c.config.Version)}
		case ok:
			key = c.config.Version + c.config.Separator + rest
		default:
			key = c.config.Version + c.config.Separator + key
		}
	}

	return key, nil
}

// Enrich appends a deterministic context suffix to a normalized key.
// Context entries are sorted by key name so identical context always yields
// the same suffix regardless of map iteration order. Enriching a key that
// already carries the context marker is a no-op, as is an empty context.
func (c *Codec) Enrich(key string, context map[string]string) string {
	if len(context) == 0 {
		return key
	}

	sep := c.config.Separator
	marker := sep + contextMarker + sep
	if strings.Contains(key, marker) {
		return key
	}

	names := make([]string, 0, len(context))
	for name := range context {
		if context[name] == "" {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return key
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, sanitizeValue(name)+"."+sanitizeValue(context[name]))
	}

	return key + marker + strings.Join(parts, sep)
}

// splitVersion extracts an embedded version prefix ("v<digits>") from a key.
func splitVersion(key, sep string) (version, rest string, ok bool) {
	idx := strings.Index(key, sep)
	if idx <= 1 {
		return "", "", false
	}
	head := key[:idx]
	if head[0] != 'v' {
		return "", "", false
	}
	for _, r := range head[1:] {
		if r < '0' || r > '9' {
			return "", "", false
		}
	}
	return head, key[idx+len(sep):], true
}

// isAllowedKeyChar reports whether r may appear in a cache key.
func isAllowedKeyChar(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	}
	switch r {
	case '_', '-', ':', '.', '/', '{', '}', '=':
		return true
	}
	return false
}

// sanitizeValue reduces a context value to the allowed character subset.
// Disallowed runes are replaced with underscores so the suffix stays a
// valid key fragment.
func sanitizeValue(v string) string {
	var b strings.Builder
	b.Grow(len(v))
	for _, r := range v {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '_' || r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
