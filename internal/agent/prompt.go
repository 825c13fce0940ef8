package agent

import "aibridge/internal/domain"

// imagePrompt stands in for the body of an attachment-only message.
const imagePrompt = "What is in this image?"

// applyPreamble prepends the preamble when the session has not had it since
// its last reset, when a new conversation was requested, or when the previous
// exchange went to a different session.
func applyPreamble(preamble, body string, st *domain.SessionState, newConversation bool, last domain.Target) string {
	if preamble == "" {
		return body
	}
	if !st.PreambleSent || newConversation || (last != "" && last != st.Target) {
		return preamble + body
	}
	return body
}
