package domain

import "strings"

// Target names one configured AI session (e.g. "gemini", "chatgpt", "grok").
type Target string

// Upper returns the target name in upper case, as used in user-facing notices.
func (t Target) Upper() string { return strings.ToUpper(string(t)) }

// Tier is the capability level requested for an exchange.
type Tier string

const (
	TierFast     Tier = "fast"
	TierThinking Tier = "thinking"
	TierMax      Tier = "max"
)

// Directive is the routing decision derived from an inbound message text.
type Directive struct {
	Target          Target
	Body            string
	NewConversation bool
	Tier            Tier
}

// Command is a control word recognised in place of a normal message.
type Command string

const (
	CommandNone   Command = ""
	CommandReset  Command = "reset"
	CommandStatus Command = "status"
)
