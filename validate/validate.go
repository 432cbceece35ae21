// Package validate is the single source of truth for boundary-value shape.
// Every public operation on the auth, game, event and auction services runs
// its inputs through here before acting on them.
package validate

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
)

var (
	ErrInvalid = errors.New("invalid input")

	usernameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	locationRe = regexp.MustCompile(`^[a-z0-9_-]+$`)
	uuidRe     = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	// Linear-time on bounded input: single pass, no nested quantifiers.
	emailRe = regexp.MustCompile(`^[^\s@.][^\s@]*@[^\s@]+\.[^\s@]+$`)
)

// Reserved account names, matched case-insensitively.
var reservedNames = map[string]struct{}{
	"admin":     {},
	"system":    {},
	"moderator": {},
	"root":      {},
	"staff":     {},
}

// MaxPayloadBytes caps an inbound frame before decode.
const MaxPayloadBytes = 10 * 1024

// Username: 3-20 chars of [A-Za-z0-9_-], not a reserved name.
func Username(name string) error {
	if len(name) < 3 || len(name) > 20 {
		return fmt.Errorf("%w: username must be 3-20 characters", ErrInvalid)
	}
	if !usernameRe.MatchString(name) {
		return fmt.Errorf("%w: username may only contain letters, digits, _ and -", ErrInvalid)
	}
	if IsReservedName(name) {
		return fmt.Errorf("%w: username is reserved", ErrInvalid)
	}
	return nil
}

// IsReservedName reports whether name is a case variant of a reserved name.
func IsReservedName(name string) bool {
	_, ok := reservedNames[strings.ToLower(name)]
	return ok
}

// Password: 6-128 characters.
func Password(pw string) error {
	if len(pw) < 6 || len(pw) > 128 {
		return fmt.Errorf("%w: password must be 6-128 characters", ErrInvalid)
	}
	return nil
}

// Email: well-formed, 5-256 bytes, no consecutive dots, non-empty local and
// domain parts.
func Email(addr string) error {
	if len(addr) < 5 || len(addr) > 256 {
		return fmt.Errorf("%w: email must be 5-256 characters", ErrInvalid)
	}
	if strings.Contains(addr, "..") {
		return fmt.Errorf("%w: email contains consecutive dots", ErrInvalid)
	}
	if strings.Count(addr, "@") != 1 || !emailRe.MatchString(addr) {
		return fmt.Errorf("%w: malformed email address", ErrInvalid)
	}
	return nil
}

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#x27;",
	"/", "&#x2F;",
)

// ChatMessage trims, bounds to 1-500 characters, then HTML-escapes the
// result. Escaping happens after the length check so the bound applies to
// what the user typed. The escape is idempotent-safe only on raw input, so
// callers must sanitize exactly once at the boundary.
func ChatMessage(msg string) (string, error) {
	trimmed := strings.TrimSpace(msg)
	if len(trimmed) < 1 || len(trimmed) > 500 {
		return "", fmt.Errorf("%w: message must be 1-500 characters", ErrInvalid)
	}
	return escapeHTML(trimmed), nil
}

// escapeHTML escapes & < > " ' / without double-escaping entities that are
// already present, which keeps sanitization idempotent.
func escapeHTML(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '&':
			if isEntityStart(s[i:]) {
				b.WriteByte(c)
			} else {
				b.WriteString("&amp;")
			}
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '"':
			b.WriteString("&quot;")
		case '\'':
			b.WriteString("&#x27;")
		case '/':
			b.WriteString("&#x2F;")
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

var knownEntities = []string{"&amp;", "&lt;", "&gt;", "&quot;", "&#x27;", "&#x2F;"}

func isEntityStart(s string) bool {
	for _, e := range knownEntities {
		if strings.HasPrefix(s, e) {
			return true
		}
	}
	return false
}

var validChannels = map[string]struct{}{
	"global":  {},
	"local":   {},
	"guild":   {},
	"party":   {},
	"whisper": {},
}

// Channel: one of the fixed chat channels.
func Channel(ch string) error {
	if _, ok := validChannels[ch]; !ok {
		return fmt.Errorf("%w: unknown channel %q", ErrInvalid, ch)
	}
	return nil
}

var validAuctionScopes = map[string]struct{}{
	"global":   {},
	"location": {},
	"guild":    {},
}

// AuctionScope: one of the fixed auction scopes. Empty defaults to global
// upstream and is accepted here.
func AuctionScope(scope string) error {
	if scope == "" {
		return nil
	}
	if _, ok := validAuctionScopes[scope]; !ok {
		return fmt.Errorf("%w: unknown auction scope %q", ErrInvalid, scope)
	}
	return nil
}

// LocationID: 1-50 chars of [a-z0-9_-].
func LocationID(id string) error {
	if len(id) < 1 || len(id) > 50 || !locationRe.MatchString(id) {
		return fmt.Errorf("%w: malformed location id", ErrInvalid)
	}
	return nil
}

// NumberBounds constrains Number.
type NumberBounds struct {
	Min     float64
	Max     float64
	Integer bool
}

// Number rejects NaN and infinities, then applies the bounds.
func Number(value float64, b NumberBounds) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("%w: not a finite number", ErrInvalid)
	}
	if b.Integer && value != math.Trunc(value) {
		return fmt.Errorf("%w: not an integer", ErrInvalid)
	}
	if value < b.Min || value > b.Max {
		return fmt.Errorf("%w: value out of range [%v, %v]", ErrInvalid, b.Min, b.Max)
	}
	return nil
}

// PayloadSize enforces the inbound frame cap.
func PayloadSize(data []byte) error {
	if len(data) > MaxPayloadBytes {
		return fmt.Errorf("%w: payload exceeds %d bytes", ErrInvalid, MaxPayloadBytes)
	}
	return nil
}

// SanitizeObject drops prototype-pollution keys and, when a whitelist is
// given, any key not on it. It never errors; unknown keys just vanish.
func SanitizeObject(obj map[string]interface{}, allowedKeys ...string) map[string]interface{} {
	var allowed map[string]struct{}
	if len(allowedKeys) > 0 {
		allowed = make(map[string]struct{}, len(allowedKeys))
		for _, k := range allowedKeys {
			allowed[k] = struct{}{}
		}
	}

	out := make(map[string]interface{}, len(obj))
	for k, v := range obj {
		switch strings.ToLower(k) {
		case "__proto__", "constructor", "prototype":
			continue
		}
		if allowed != nil {
			if _, ok := allowed[k]; !ok {
				continue
			}
		}
		out[k] = v
	}
	return out
}

// UUID: canonical 8-4-4-4-12 hex form.
func UUID(id string) error {
	if !uuidRe.MatchString(id) {
		return fmt.Errorf("%w: malformed uuid", ErrInvalid)
	}
	return nil
}
