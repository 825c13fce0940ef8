package provider

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"aibridge/internal/config"
	"aibridge/internal/domain"
)

// ProfileConstructor returns the built-in profile for a session name.
type ProfileConstructor func() Profile

// Factory creates and caches session drivers from config.
type Factory struct {
	cfg      *config.Config
	logger   *slog.Logger
	profiles map[string]ProfileConstructor
	cache    map[string]*WebSession
	mu       sync.Mutex

	// headless overrides every session's headless flag when non-nil.
	headless *bool
}

// NewFactory creates a driver factory with the built-in profiles registered.
func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	f := &Factory{
		cfg:    cfg,
		logger: logger,
		profiles: map[string]ProfileConstructor{
			"chatgpt": ChatGPTProfile,
			"gemini":  GeminiProfile,
			"grok":    GrokProfile,
		},
		cache: make(map[string]*WebSession),
	}
	return f
}

// RegisterProfile adds (or replaces) a profile constructor by name.
func (f *Factory) RegisterProfile(name string, ctor ProfileConstructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[name] = ctor
}

// ForceHeadless makes every session built afterwards use the given mode.
// The login command uses it to open visible windows.
func (f *Factory) ForceHeadless(headless bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headless = &headless
}

// Get returns the driver for the named session, building it on first use.
func (f *Factory) Get(name string) (*WebSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if cached, ok := f.cache[name]; ok {
		return cached, nil
	}

	sc, ok := f.cfg.Sessions[name]
	if !ok {
		return nil, fmt.Errorf("unknown session: %s", name)
	}
	if !sc.Enabled {
		return nil, fmt.Errorf("session %s is disabled", name)
	}

	var profile Profile
	if ctor, found := f.profiles[name]; found {
		profile = ctor()
	} else {
		// Custom site: everything comes from config.
		profile = Profile{Name: domain.Target(name), Settle: defaultSettle}
	}

	headless := sc.Headless
	if f.headless != nil {
		headless = *f.headless
	}

	s := NewWebSession(WebSessionConfig{
		Profile:           profile,
		URL:               sc.URL,
		Selectors:         sc.Selectors,
		ProfileDir:        sc.ProfileDir,
		ChromePath:        sc.ChromePath,
		Headless:          headless,
		InitTimeout:       f.cfg.Response.InitTimeout(),
		InputTimeout:      f.cfg.Response.InputTimeout(),
		StabilizeInterval: f.cfg.Response.StabilizeInterval(),
		QuietWindow:       f.cfg.Response.QuietWindow(),
		Logger:            f.logger,
	})
	if s.profile.URL == "" || s.profile.Selectors.Input == "" || s.profile.Selectors.Response == "" {
		return nil, fmt.Errorf("session %s: url, input and response selectors are required", name)
	}

	f.cache[name] = s
	return s, nil
}

// Names lists every session the factory knows, enabled or not: built-in
// profiles plus any configured session. Sorted by name.
func (f *Factory) Names() []domain.Target {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[string]bool, len(f.profiles)+len(f.cfg.Sessions))
	var names []domain.Target
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			names = append(names, domain.Target(name))
		}
	}
	for name := range f.profiles {
		add(name)
	}
	for name := range f.cfg.Sessions {
		add(name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Drivers builds every enabled session, default target first, then by name.
func (f *Factory) Drivers() ([]domain.SessionDriver, error) {
	names := f.cfg.EnabledTargets()
	def := f.cfg.General.DefaultTarget
	sort.SliceStable(names, func(i, j int) bool {
		return names[i] == def && names[j] != def
	})

	drivers := make([]domain.SessionDriver, 0, len(names))
	for _, name := range names {
		d, err := f.Get(name)
		if err != nil {
			return nil, err
		}
		drivers = append(drivers, d)
	}
	return drivers, nil
}
