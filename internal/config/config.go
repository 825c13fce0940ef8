package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for aibridge.
type Config struct {
	General  GeneralConfig            `json:"general" yaml:"general"`
	Inbox    InboxConfig              `json:"inbox" yaml:"inbox"`
	IMessage IMessageConfig           `json:"imessage" yaml:"imessage"`
	Telegram TelegramConfig           `json:"telegram" yaml:"telegram"`
	Sessions map[string]SessionConfig `json:"sessions" yaml:"sessions"`
	Response ResponseConfig           `json:"response" yaml:"response"`
	Metrics  MetricsConfig            `json:"metrics" yaml:"metrics"`
}

type GeneralConfig struct {
	DataDir                string `json:"dataDir" yaml:"dataDir"`
	LogLevel               string `json:"logLevel" yaml:"logLevel"`
	LogFile                string `json:"logFile,omitempty" yaml:"logFile,omitempty"`
	LogJSON                bool   `json:"logJson,omitempty" yaml:"logJson,omitempty"`
	LogMaxSizeMB           int    `json:"logMaxSizeMB,omitempty" yaml:"logMaxSizeMB,omitempty"`
	LogMaxBackups          int    `json:"logMaxBackups,omitempty" yaml:"logMaxBackups,omitempty"`
	DefaultTarget          string `json:"defaultTarget" yaml:"defaultTarget"`
	Preamble               string `json:"preamble" yaml:"preamble"`
	ShutdownMode           string `json:"shutdownMode" yaml:"shutdownMode"` // "wait" | "cancel"
	ShutdownTimeoutSeconds int    `json:"shutdownTimeoutSeconds" yaml:"shutdownTimeoutSeconds"`
}

type InboxConfig struct {
	Transport         string `json:"transport" yaml:"transport"` // "imessage" | "telegram" | "console"
	PollIntervalMs    int    `json:"pollIntervalMs" yaml:"pollIntervalMs"`
	CheckpointPath    string `json:"checkpointPath" yaml:"checkpointPath"`
	EchoWindowSeconds int    `json:"echoWindowSeconds" yaml:"echoWindowSeconds"`
	SendRatePerMinute int    `json:"sendRatePerMinute" yaml:"sendRatePerMinute"`
	SendBurst         int    `json:"sendBurst" yaml:"sendBurst"`
	WatchStore        bool   `json:"watchStore" yaml:"watchStore"`
}

type IMessageConfig struct {
	TargetHandle     string `json:"targetHandle" yaml:"targetHandle"`         // digits used to match chat.db handles
	TargetHandleFull string `json:"targetHandleFull" yaml:"targetHandleFull"` // address used when sending
	ChatDBPath       string `json:"chatDbPath" yaml:"chatDbPath"`
}

type TelegramConfig struct {
	Token         string `json:"token,omitempty" yaml:"token,omitempty"`
	ChatID        int64  `json:"chatId,omitempty" yaml:"chatId,omitempty"`
	AttachmentDir string `json:"attachmentDir,omitempty" yaml:"attachmentDir,omitempty"`
}

type SessionConfig struct {
	Enabled    bool              `json:"enabled" yaml:"enabled"`
	URL        string            `json:"url,omitempty" yaml:"url,omitempty"`
	ProfileDir string            `json:"profileDir,omitempty" yaml:"profileDir,omitempty"`
	ChromePath string            `json:"chromePath,omitempty" yaml:"chromePath,omitempty"`
	Headless   bool              `json:"headless" yaml:"headless"`
	Selectors  map[string]string `json:"selectors,omitempty" yaml:"selectors,omitempty"`
}

type ResponseConfig struct {
	TimeoutSeconds      int `json:"timeoutSeconds" yaml:"timeoutSeconds"`
	QuietWindowMs       int `json:"quietWindowMs" yaml:"quietWindowMs"`
	StabilizeIntervalMs int `json:"stabilizeIntervalMs" yaml:"stabilizeIntervalMs"`
	InitTimeoutSeconds  int `json:"initTimeoutSeconds" yaml:"initTimeoutSeconds"`
	InputTimeoutSeconds int `json:"inputTimeoutSeconds" yaml:"inputTimeoutSeconds"`
	LoginPollSeconds    int `json:"loginPollSeconds" yaml:"loginPollSeconds"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Listen  string `json:"listen" yaml:"listen"`
}

// Durations derived from the millisecond/second fields.

func (r ResponseConfig) Timeout() time.Duration { return time.Duration(r.TimeoutSeconds) * time.Second }
func (r ResponseConfig) QuietWindow() time.Duration {
	return time.Duration(r.QuietWindowMs) * time.Millisecond
}
func (r ResponseConfig) StabilizeInterval() time.Duration {
	return time.Duration(r.StabilizeIntervalMs) * time.Millisecond
}
func (r ResponseConfig) InitTimeout() time.Duration {
	return time.Duration(r.InitTimeoutSeconds) * time.Second
}
func (r ResponseConfig) InputTimeout() time.Duration {
	return time.Duration(r.InputTimeoutSeconds) * time.Second
}
func (r ResponseConfig) LoginPoll() time.Duration {
	return time.Duration(r.LoginPollSeconds) * time.Second
}
func (i InboxConfig) PollInterval() time.Duration {
	return time.Duration(i.PollIntervalMs) * time.Millisecond
}
func (i InboxConfig) EchoWindow() time.Duration {
	return time.Duration(i.EchoWindowSeconds) * time.Second
}

// EnabledTargets returns the names of enabled sessions, sorted.
func (c *Config) EnabledTargets() []string {
	var names []string
	for name, sc := range c.Sessions {
		if sc.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// NeedsSetup reports whether the first-run setup has not captured an inbox yet.
func (c *Config) NeedsSetup() bool {
	switch c.Inbox.Transport {
	case "telegram":
		return c.Telegram.Token == "" || c.Telegram.ChatID == 0
	case "console":
		return false
	default:
		return c.IMessage.TargetHandle == "" || c.IMessage.TargetHandleFull == ""
	}
}

// DefaultConfigDir returns the default config directory (~/.aibridge).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".aibridge"
	}
	return filepath.Join(home, ".aibridge")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads, expands and validates the config file at path.
// A .env file in the same directory is loaded into the environment first.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	envPath := filepath.Join(filepath.Dir(path), ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("cannot load %s: %w", envPath, err)
		}
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.expandPaths()

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func (c *Config) expandPaths() {
	c.General.DataDir = ExpandPath(c.General.DataDir)
	c.General.LogFile = ExpandPath(c.General.LogFile)
	c.Inbox.CheckpointPath = ExpandPath(c.Inbox.CheckpointPath)
	c.IMessage.ChatDBPath = ExpandPath(c.IMessage.ChatDBPath)
	c.Telegram.AttachmentDir = ExpandPath(c.Telegram.AttachmentDir)
	for name, sc := range c.Sessions {
		sc.ProfileDir = ExpandPath(sc.ProfileDir)
		c.Sessions[name] = sc
	}
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

// Save writes cfg as JSON, or YAML when path ends in .yaml/.yml.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if len(cfg.EnabledTargets()) == 0 {
		errs = append(errs, "sessions: at least one session must be enabled")
	}
	if sc, ok := cfg.Sessions[cfg.General.DefaultTarget]; !ok || !sc.Enabled {
		errs = append(errs, fmt.Sprintf("general.defaultTarget %q is not an enabled session", cfg.General.DefaultTarget))
	}
	for name, sc := range cfg.Sessions {
		if name == "" || strings.ContainsAny(name, " \t\n") {
			errs = append(errs, fmt.Sprintf("sessions: invalid session name %q", name))
		}
		if sc.Enabled && sc.URL == "" {
			errs = append(errs, fmt.Sprintf("sessions.%s: url is required", name))
		}
	}

	switch cfg.General.ShutdownMode {
	case "wait", "cancel":
		// valid
	default:
		errs = append(errs, "general.shutdownMode must be one of: wait, cancel")
	}
	if cfg.General.ShutdownTimeoutSeconds < 1 {
		errs = append(errs, "general.shutdownTimeoutSeconds must be >= 1")
	}

	switch cfg.Inbox.Transport {
	case "imessage", "telegram", "console":
		// valid
	default:
		errs = append(errs, "inbox.transport must be one of: imessage, telegram, console")
	}
	if cfg.Inbox.PollIntervalMs < 100 {
		errs = append(errs, "inbox.pollIntervalMs must be >= 100")
	}
	if cfg.Inbox.EchoWindowSeconds < 1 {
		errs = append(errs, "inbox.echoWindowSeconds must be >= 1")
	}
	if cfg.Inbox.SendRatePerMinute < 1 {
		errs = append(errs, "inbox.sendRatePerMinute must be >= 1")
	}

	r := cfg.Response
	if r.TimeoutSeconds < 1 {
		errs = append(errs, "response.timeoutSeconds must be >= 1")
	}
	if r.StabilizeIntervalMs < 10 {
		errs = append(errs, "response.stabilizeIntervalMs must be >= 10")
	}
	if r.QuietWindowMs < r.StabilizeIntervalMs {
		errs = append(errs, "response.quietWindowMs must be >= response.stabilizeIntervalMs")
	}
	if r.InitTimeoutSeconds < 1 || r.InputTimeoutSeconds < 1 || r.LoginPollSeconds < 1 {
		errs = append(errs, "response: init, input and login poll timeouts must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// NormalizeHandle turns a phone number or email typed during setup into the
// match handle (digits without country code) and the full send address.
func NormalizeHandle(raw string) (handle, full string) {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, "@") {
		return raw, raw
	}
	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == '+' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()

	switch {
	case strings.HasPrefix(cleaned, "+1"):
		return cleaned[2:], cleaned
	case strings.HasPrefix(cleaned, "1") && len(cleaned) == 11:
		return cleaned[1:], "+" + cleaned
	case len(cleaned) == 10:
		return cleaned, "+1" + cleaned
	case strings.HasPrefix(cleaned, "+"):
		return cleaned, cleaned
	default:
		return cleaned, "+" + cleaned
	}
}
