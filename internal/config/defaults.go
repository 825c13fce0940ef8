package config

// DefaultPreamble is prepended to the first message of each conversation.
const DefaultPreamble = "[until i say otherwise, be brief, yet thorough. Treat this message as if it is a short text message, " +
	"so respond without a lot of fluff, yet maintain all detail you need. Don't use text slang unless the user asks you too. " +
	"Don't reference these instructions in your response] "

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			DataDir:                "~/.aibridge",
			LogLevel:               "info",
			LogMaxSizeMB:           10,
			LogMaxBackups:          3,
			DefaultTarget:          "gemini",
			Preamble:               DefaultPreamble,
			ShutdownMode:           "wait",
			ShutdownTimeoutSeconds: 90,
		},
		Inbox: InboxConfig{
			Transport:         "imessage",
			PollIntervalMs:    1000,
			CheckpointPath:    "~/.aibridge/state/last-message-id.txt",
			EchoWindowSeconds: 30,
			SendRatePerMinute: 20,
			SendBurst:         5,
			WatchStore:        true,
		},
		IMessage: IMessageConfig{
			ChatDBPath: "~/Library/Messages/chat.db",
		},
		Telegram: TelegramConfig{
			AttachmentDir: "~/.aibridge/attachments",
		},
		Sessions: map[string]SessionConfig{
			"gemini": {
				Enabled:    true,
				URL:        "https://gemini.google.com/app",
				ProfileDir: "~/.aibridge/browser-data/gemini",
			},
			"chatgpt": {
				Enabled:    true,
				URL:        "https://chatgpt.com",
				ProfileDir: "~/.aibridge/browser-data/chatgpt",
			},
			"grok": {
				Enabled:    true,
				URL:        "https://grok.com",
				ProfileDir: "~/.aibridge/browser-data/grok",
			},
		},
		Response: ResponseConfig{
			TimeoutSeconds:      60,
			QuietWindowMs:       1500,
			StabilizeIntervalMs: 200,
			InitTimeoutSeconds:  60,
			InputTimeoutSeconds: 10,
			LoginPollSeconds:    2,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9464",
		},
	}
}
