package agent

import (
	"strings"
	"unicode"

	"aibridge/internal/domain"
)

// ParseDirective resolves the target session, tier and body of an inbound
// message. A leading newline requests a new conversation, leading dots pick
// the tier ("." thinking, ".." max) and a "<target> " prefix picks the
// session; anything else goes to def.
func ParseDirective(text string, targets []domain.Target, def domain.Target) domain.Directive {
	d := domain.Directive{
		Target:          def,
		Tier:            domain.TierFast,
		NewConversation: strings.HasPrefix(text, "\n") || strings.HasPrefix(text, "\r"),
	}

	rest := strings.TrimSpace(text)
	switch {
	case strings.HasPrefix(rest, ".."):
		d.Tier = domain.TierMax
		rest = strings.TrimLeftFunc(rest[2:], unicode.IsSpace)
	case strings.HasPrefix(rest, "."):
		d.Tier = domain.TierThinking
		rest = strings.TrimLeftFunc(rest[1:], unicode.IsSpace)
	}

	for _, t := range targets {
		if target, body, ok := cutTarget(rest, t); ok {
			d.Target = target
			rest = body
			break
		}
	}

	d.Body = rest
	return d
}

// cutTarget matches "<name><space>" case-insensitively at the start of s.
func cutTarget(s string, t domain.Target) (domain.Target, string, bool) {
	name := string(t)
	if name == "" || len(s) <= len(name) {
		return "", "", false
	}
	if !strings.EqualFold(s[:len(name)], name) {
		return "", "", false
	}
	switch s[len(name)] {
	case ' ', '\t', '\n', '\r':
		return t, strings.TrimSpace(s[len(name):]), true
	}
	return "", "", false
}
