package agent

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"aibridge/internal/domain"
)

// Registry owns one SessionState per configured target. Unavailable targets
// stay listed so routing can name them, but Get never hands them out.
type Registry struct {
	mu     sync.RWMutex
	order  []domain.Target
	states map[domain.Target]*domain.SessionState
	last   domain.Target // target of the last successful exchange
	logger *slog.Logger
}

// SessionStatus is a read-only view of one session for status reports.
type SessionStatus struct {
	Target       domain.Target `json:"target"`
	Initialized  bool          `json:"initialized"`
	Available    bool          `json:"available"`
	Tier         domain.Tier   `json:"tier"`
	PreambleSent bool          `json:"preambleSent"`
	LastUsed     time.Time     `json:"lastUsed,omitzero"`
}

// NewRegistry registers drivers in the given order. Every session starts
// available on the fast tier.
func NewRegistry(drivers []domain.SessionDriver, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		states: make(map[domain.Target]*domain.SessionState, len(drivers)),
		logger: logger,
	}
	for _, d := range drivers {
		name := d.Name()
		if _, dup := r.states[name]; dup {
			continue
		}
		r.order = append(r.order, name)
		r.states[name] = &domain.SessionState{
			Target:    name,
			Driver:    d,
			Tier:      domain.TierFast,
			Available: true,
		}
	}
	return r
}

// Targets returns every configured target, available or not.
func (r *Registry) Targets() []domain.Target {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.Target(nil), r.order...)
}

// Get returns the state for an available target.
func (r *Registry) Get(target domain.Target) (*domain.SessionState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.states[target]
	if !ok {
		return nil, domain.NewError(domain.KindTargetUnavailable, fmt.Sprintf("%s is not configured", target), nil)
	}
	if !st.Available {
		return nil, domain.NewError(domain.KindTargetUnavailable, fmt.Sprintf("%s is unavailable", target), nil)
	}
	return st, nil
}

// Drivers returns every driver, including those of unavailable sessions.
func (r *Registry) Drivers() []domain.SessionDriver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.SessionDriver, 0, len(r.order))
	for _, t := range r.order {
		out = append(out, r.states[t].Driver)
	}
	return out
}

// Available lists routable targets in registry order.
func (r *Registry) Available() []domain.Target {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Target
	for _, t := range r.order {
		if r.states[t].Available {
			out = append(out, t)
		}
	}
	return out
}

func (r *Registry) MarkInitialized(target domain.Target) {
	r.update(target, func(st *domain.SessionState) { st.Initialized = true })
}

// MarkUnavailable excludes target from routing for the rest of the process.
func (r *Registry) MarkUnavailable(target domain.Target, reason string) {
	r.update(target, func(st *domain.SessionState) { st.Available = false })
	r.logger.Warn("session unavailable", "session", target, "reason", reason)
}

// RecordTierChange stores a tier the driver confirmed.
func (r *Registry) RecordTierChange(target domain.Target, tier domain.Tier) {
	r.update(target, func(st *domain.SessionState) { st.Tier = tier })
}

// RecordConversationReset clears the preamble flag after a new conversation.
// A fresh conversation opens on the fast tier, so the next tiered message
// has to select its tier again.
func (r *Registry) RecordConversationReset(target domain.Target) {
	r.update(target, func(st *domain.SessionState) {
		st.PreambleSent = false
		st.Tier = domain.TierFast
	})
}

func (r *Registry) MarkPreambleSent(target domain.Target) {
	r.update(target, func(st *domain.SessionState) { st.PreambleSent = true })
}

// MarkUsed records a successful exchange with target.
func (r *Registry) MarkUsed(target domain.Target, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.states[target]; ok {
		st.LastUsed = at
		r.last = target
	}
}

// LastUsed returns the target of the most recent successful exchange, or "".
func (r *Registry) LastUsed() domain.Target {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

func (r *Registry) Snapshot() []SessionStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SessionStatus, 0, len(r.order))
	for _, t := range r.order {
		st := r.states[t]
		out = append(out, SessionStatus{
			Target:       st.Target,
			Initialized:  st.Initialized,
			Available:    st.Available,
			Tier:         st.Tier,
			PreambleSent: st.PreambleSent,
			LastUsed:     st.LastUsed,
		})
	}
	return out
}

func (r *Registry) update(target domain.Target, fn func(*domain.SessionState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.states[target]; ok {
		fn(st)
	}
}
