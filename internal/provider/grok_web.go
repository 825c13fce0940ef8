package provider

import "time"

// GrokProfile drives grok.com. Grok has no model menu; thinking and max both
// turn on its "Think" toggle.
func GrokProfile() Profile {
	return Profile{
		Name: "grok",
		URL:  "https://grok.com",
		Selectors: Selectors{
			Input:      "textarea",
			Send:       `button[aria-label*="Send"], button[type="submit"]`,
			Response:   `div[class*="r-1wbh5a2"][class*="r-bnwqim"], div.message-bubble`,
			FileInput:  `input[type="file"]`,
			TierOption: "button",
			Dialog:     `[role="dialog"]`,
		},
		TierToggle:          "think",
		NewChatByNavigation: true,
		Settle:              2 * time.Second,
	}
}
