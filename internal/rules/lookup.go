package rules

import (
	"context"
	"sync"

	"x12ack/internal/domain"
)

// Lookup resolves the rule set for a transaction identifier.
// A missing rule set is reported as ok=false, not as an error.
type Lookup interface {
	Lookup(ctx context.Context, transactionID string) (domain.RuleSet, bool, error)
}

// LookupFunc adapts a function to Lookup.
type LookupFunc func(ctx context.Context, transactionID string) (domain.RuleSet, bool, error)

func (f LookupFunc) Lookup(ctx context.Context, transactionID string) (domain.RuleSet, bool, error) {
	return f(ctx, transactionID)
}

// MemoryLookup is an in-process rule directory.
type MemoryLookup struct {
	mu   sync.RWMutex
	sets map[string]domain.RuleSet
}

func NewMemoryLookup(sets ...domain.RuleSet) *MemoryLookup {
	m := &MemoryLookup{sets: make(map[string]domain.RuleSet, len(sets))}
	for _, rs := range sets {
		m.sets[rs.TransactionID] = rs
	}
	return m
}

func (m *MemoryLookup) Put(rs domain.RuleSet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets[rs.TransactionID] = rs
}

func (m *MemoryLookup) Lookup(_ context.Context, transactionID string) (domain.RuleSet, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rs, ok := m.sets[transactionID]
	return rs, ok, nil
}

// WithDefaultProfile returns a Lookup that resolves each rule set's profile
// against profile: a rule file's compare block is layered on top of it, and
// sets without one get it unchanged. A set that already carries a resolved
// Profile is passed through.
func WithDefaultProfile(next Lookup, profile domain.ComparisonProfile) Lookup {
	return LookupFunc(func(ctx context.Context, transactionID string) (domain.RuleSet, bool, error) {
		rs, ok, err := next.Lookup(ctx, transactionID)
		if err != nil || !ok {
			return rs, ok, err
		}
		p := rs.ResolveProfile(profile)
		rs.Profile = &p
		return rs, true, nil
	})
}
