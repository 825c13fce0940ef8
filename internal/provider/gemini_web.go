package provider

import (
	"time"

	"aibridge/internal/domain"
)

// GeminiProfile drives gemini.google.com. Escape is pressed before typing to
// close any menu left open over the composer.
func GeminiProfile() Profile {
	return Profile{
		Name: "gemini",
		URL:  "https://gemini.google.com/app",
		Selectors: Selectors{
			Input:         `div.ql-editor[contenteditable="true"]`,
			Send:          `button[aria-label*="Send"]`,
			Response:      "message-content",
			ResponseInner: `div[class*="markdown"]`,
			Attach:        `button[aria-label*="Add"], button[aria-label*="attach"], button[aria-label*="image"]`,
			FileInput:     `input[type="file"]`,
			TierMenu:      `button[aria-label*="model"], div[class*="model-selector"], button[class*="model"]`,
			TierOption:    `button, [role="menuitem"], [role="option"]`,
			Dialog:        `[role="dialog"], [role="alertdialog"], mat-dialog-container`,
		},
		TierFragments: map[domain.Tier]string{
			domain.TierFast:     "flash",
			domain.TierThinking: "pro",
			domain.TierMax:      "ultra",
		},
		EscapeBeforeTyping:  true,
		NewChatByNavigation: true,
		Settle:              time.Second,
	}
}
