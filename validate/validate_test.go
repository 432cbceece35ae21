package validate

import (
	"math"
	"strings"
	"testing"
)

func TestUsername(t *testing.T) {
	valid := []string{"abc", "player_one", "Wiz-42", "aaaaaaaaaaaaaaaaaaaa"}
	for _, name := range valid {
		if err := Username(name); err != nil {
			t.Errorf("Username(%q) = %v, want nil", name, err)
		}
	}

	invalid := []string{"ab", "", "has space", "semi;colon", "a!", strings.Repeat("x", 21)}
	for _, name := range invalid {
		if err := Username(name); err == nil {
			t.Errorf("Username(%q) = nil, want error", name)
		}
	}
}

func TestUsernameReserved(t *testing.T) {
	for _, name := range []string{"admin", "Admin", "ADMIN", "System", "moderator", "ROOT", "staff"} {
		if err := Username(name); err == nil {
			t.Errorf("Username(%q) = nil, want reserved error", name)
		}
	}
}

func TestPassword(t *testing.T) {
	if err := Password("secret"); err != nil {
		t.Errorf("6-char password rejected: %v", err)
	}
	if err := Password("short"); err == nil {
		t.Error("5-char password accepted")
	}
	if err := Password(strings.Repeat("p", 129)); err == nil {
		t.Error("129-char password accepted")
	}
}

func TestEmail(t *testing.T) {
	valid := []string{"a@b.co", "user.name@example.com", "x+tag@sub.domain.org"}
	for _, addr := range valid {
		if err := Email(addr); err != nil {
			t.Errorf("Email(%q) = %v, want nil", addr, err)
		}
	}

	invalid := []string{"", "a@b", "no-at-sign.com", "two@@example.com", "dots..bad@example.com", ".leading@example.com", "a@"}
	for _, addr := range invalid {
		if err := Email(addr); err == nil {
			t.Errorf("Email(%q) = nil, want error", addr)
		}
	}
}

func TestChatMessageEscapesHTML(t *testing.T) {
	got, err := ChatMessage("<script>alert(1)</script>")
	if err != nil {
		t.Fatalf("ChatMessage returned error: %v", err)
	}
	want := "&lt;script&gt;alert(1)&lt;&#x2F;script&gt;"
	if got != want {
		t.Errorf("escaped = %q, want %q", got, want)
	}
}

func TestChatMessageIdempotentOnEntities(t *testing.T) {
	// An already-escaped entity must not be double-escaped.
	got, err := ChatMessage("fish &amp; chips")
	if err != nil {
		t.Fatal(err)
	}
	if got != "fish &amp; chips" {
		t.Errorf("got %q, want entity preserved", got)
	}

	got, err = ChatMessage("2 & 2")
	if err != nil {
		t.Fatal(err)
	}
	if got != "2 &amp; 2" {
		t.Errorf("got %q, want bare ampersand escaped", got)
	}
}

func TestChatMessageBounds(t *testing.T) {
	if _, err := ChatMessage("   "); err == nil {
		t.Error("whitespace-only message accepted")
	}
	if _, err := ChatMessage(strings.Repeat("a", 501)); err == nil {
		t.Error("501-char message accepted")
	}
	if got, err := ChatMessage("  hi  "); err != nil || got != "hi" {
		t.Errorf("trim failed: got %q, %v", got, err)
	}
}

func TestChannel(t *testing.T) {
	for _, ch := range []string{"global", "local", "guild", "party", "whisper"} {
		if err := Channel(ch); err != nil {
			t.Errorf("Channel(%q) = %v", ch, err)
		}
	}
	if err := Channel("shouting"); err == nil {
		t.Error("unknown channel accepted")
	}
}

func TestAuctionScope(t *testing.T) {
	for _, scope := range []string{"", "global", "location", "guild"} {
		if err := AuctionScope(scope); err != nil {
			t.Errorf("AuctionScope(%q) = %v", scope, err)
		}
	}
	if err := AuctionScope("planetary"); err == nil {
		t.Error("unknown scope accepted")
	}
}

func TestNumber(t *testing.T) {
	b := NumberBounds{Min: 0, Max: 100, Integer: true}
	if err := Number(50, b); err != nil {
		t.Errorf("Number(50) = %v", err)
	}
	if err := Number(math.NaN(), b); err == nil {
		t.Error("NaN accepted")
	}
	if err := Number(math.Inf(1), b); err == nil {
		t.Error("+Inf accepted")
	}
	if err := Number(50.5, b); err == nil {
		t.Error("non-integer accepted with Integer bound")
	}
	if err := Number(101, b); err == nil {
		t.Error("out-of-range accepted")
	}
	if err := Number(-1, b); err == nil {
		t.Error("below-min accepted")
	}
}

func TestPayloadSize(t *testing.T) {
	if err := PayloadSize(make([]byte, MaxPayloadBytes)); err != nil {
		t.Errorf("payload at the cap rejected: %v", err)
	}
	if err := PayloadSize(make([]byte, MaxPayloadBytes+1)); err == nil {
		t.Error("oversized payload accepted")
	}
}

func TestSanitizeObject(t *testing.T) {
	in := map[string]interface{}{
		"location":    "market",
		"__proto__":   "polluted",
		"__PROTO__":   "polluted",
		"constructor": "polluted",
		"prototype":   "polluted",
		"pennies":     int64(9999),
	}

	out := SanitizeObject(in, "location", "lastAction")
	if len(out) != 1 || out["location"] != "market" {
		t.Errorf("SanitizeObject = %v, want only location", out)
	}

	// Without a whitelist only the pollution keys drop.
	out = SanitizeObject(in)
	if _, ok := out["pennies"]; !ok {
		t.Error("non-pollution key dropped without whitelist")
	}
	for _, k := range []string{"__proto__", "__PROTO__", "constructor", "prototype"} {
		if _, ok := out[k]; ok {
			t.Errorf("pollution key %q survived", k)
		}
	}
}

func TestLocationID(t *testing.T) {
	if err := LocationID("town-square"); err != nil {
		t.Errorf("LocationID(town-square) = %v", err)
	}
	for _, id := range []string{"", "Town", "a b", strings.Repeat("x", 51)} {
		if err := LocationID(id); err == nil {
			t.Errorf("LocationID(%q) accepted", id)
		}
	}
}

func TestUUID(t *testing.T) {
	if err := UUID("123e4567-e89b-12d3-a456-426614174000"); err != nil {
		t.Errorf("valid uuid rejected: %v", err)
	}
	if err := UUID("not-a-uuid"); err == nil {
		t.Error("malformed uuid accepted")
	}
}
