// Package fallback implements the Fallback Manager of spec §4.G: a
// per-component failure policy layered outside each component's Circuit
// Breaker (spec §9: "breaker innermost, fallback outermost").
package fallback

import (
	"sync"

	"github.com/flowguard/flowguard/internal/flowerr"
)

// Component names one of the registered failure domains spec §4.G lists:
// external stores, L3 cache, config, ban, quota.
type Component string

const (
	ComponentRedis    Component = "redis"
	ComponentPostgres Component = "postgres"
	ComponentL3Cache  Component = "l3_cache"
	ComponentConfig   Component = "config"
	ComponentBan      Component = "ban"
	ComponentQuota    Component = "quota"
)

// Policy is the per-component failure-handling strategy.
type Policy int

const (
	// FailOpen returns a typed "degraded but permissive" error; callers
	// decide what a permissive result looks like.
	FailOpen Policy = iota
	// FailClosed rejects with ErrorKind::ServiceUnavailable.
	FailClosed
	// Degraded runs the supplied fallback and returns its result.
	Degraded
)

// Manager implements spec §4.G's execute_with_fallback and the forced
// fail/recover testing hooks. Grounded on the teacher's
// internal/resilience.Composite (which layered bulkhead → breaker → retry
// around a call), generalized here to per-component policy selection
// instead of one fixed pattern stack, since the spec's fallback behavior
// is data-driven (policy keyed by component) rather than structurally
// composed.
type Manager struct {
	mu       sync.RWMutex
	policies map[Component]Policy
	disabled map[Component]bool
	failed   map[Component]bool
}

// NewManager creates a Manager with the given per-component policies.
func NewManager(policies map[Component]Policy) *Manager {
	p := make(map[Component]Policy, len(policies))
	for c, pol := range policies {
		p[c] = pol
	}
	return &Manager{
		policies: p,
		disabled: make(map[Component]bool),
		failed:   make(map[Component]bool),
	}
}

func (m *Manager) policyFor(c Component) Policy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.policies[c]
}

// PolicyFor exposes a component's configured policy so callers that need
// to branch on it directly (rather than only through ExecuteWithFallback's
// return value) can do so.
func (m *Manager) PolicyFor(c Component) Policy {
	return m.policyFor(c)
}

// Disable turns off fallback handling for a component: primary always runs
// raw, errors propagate unmodified.
func (m *Manager) Disable(c Component) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disabled[c] = true
}

func (m *Manager) isDisabled(c Component) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.disabled[c]
}

// ForceFail marks a component failed for testing, independent of any real
// primary invocation.
func (m *Manager) ForceFail(c Component) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed[c] = true
}

// ForceRecover clears a component's forced/observed failure mark.
func (m *Manager) ForceRecover(c Component) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.failed, c)
}

// Failed reports the current failure set (a copy, safe to range over).
func (m *Manager) Failed() map[Component]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[Component]bool, len(m.failed))
	for c := range m.failed {
		out[c] = true
	}
	return out
}

func (m *Manager) markFailed(c Component) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed[c] = true
}

func (m *Manager) clearFailed(c Component) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.failed, c)
}

// ExecuteWithFallback implements spec §4.G's execute_with_fallback(component,
// primary, fallback). primary is attempted first; on failure the
// component's configured Policy decides the outcome, and on success any
// prior failure mark for the component is cleared.
func (m *Manager) ExecuteWithFallback(c Component, primary func() (interface{}, error), fallbackFn func() (interface{}, error)) (interface{}, error) {
	if m.isDisabled(c) {
		return primary()
	}

	result, err := primary()
	if err == nil {
		m.clearFailed(c)
		return result, nil
	}

	m.markFailed(c)

	switch m.policyFor(c) {
	case FailOpen:
		return nil, flowerr.New(flowerr.ServiceUnavailable, "component degraded, operating permissively").
			WithComponent(flowerr.ComponentFallback).WithCause(err).WithField("policy", "fail_open").
			WithField("target_component", string(c))
	case FailClosed:
		return nil, flowerr.New(flowerr.ServiceUnavailable, "component unavailable").
			WithComponent(flowerr.ComponentFallback).WithCause(err).WithField("policy", "fail_closed").
			WithField("target_component", string(c))
	case Degraded:
		if fallbackFn == nil {
			return nil, flowerr.New(flowerr.ServiceUnavailable, "degraded policy with no fallback provided").
				WithComponent(flowerr.ComponentFallback).WithCause(err)
		}
		return fallbackFn()
	default:
		return nil, err
	}
}
