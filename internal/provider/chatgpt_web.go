package provider

import (
	"time"

	"aibridge/internal/domain"
)

// ChatGPTProfile drives chatgpt.com. The stop button doubles as the busy
// indicator so long answers are not cut off during a pause in streaming.
func ChatGPTProfile() Profile {
	return Profile{
		Name: "chatgpt",
		URL:  "https://chatgpt.com",
		Selectors: Selectors{
			Input:         "#prompt-textarea",
			LoggedIn:      `#prompt-textarea, div.ProseMirror[contenteditable="true"]`,
			Send:          `button[data-testid="send-button"], button[aria-label="Send prompt"]`,
			Response:      `div[data-message-author-role="assistant"]`,
			ResponseInner: ".markdown, .prose",
			Busy:          `button[aria-label="Stop generating"], button[data-testid="stop-button"]`,
			NewChat:       `a[href="/"], button[aria-label="New chat"]`,
			Attach:        `button[aria-label*="Attach"], button[aria-label*="Upload"], button[data-testid="attach-button"]`,
			FileInput:     `input[type="file"]`,
			TierMenu:      `button[aria-label*="Model"], button[data-testid="model-selector"], div[class*="model-selector"]`,
			TierOption:    `div[role="option"], button[role="menuitem"], div[class*="model-option"]`,
			Dialog:        `[role="dialog"], [role="alertdialog"]`,
		},
		TierFragments: map[domain.Tier]string{
			domain.TierFast:     "mini",
			domain.TierThinking: "4o",
			domain.TierMax:      "gpt-4",
		},
		Settle: time.Second,
	}
}
