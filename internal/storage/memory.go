package storage

import (
	"context"
	"sync"

	"x12ack/internal/domain"
)

// MemoryArchive keeps the most recent runs in memory. It backs the run
// archive when sqlite is disabled. The first append of a run ID wins.
type MemoryArchive struct {
	mu    sync.Mutex
	limit int
	order []string
	runs  map[string]domain.Outcome
}

// NewMemoryArchive returns an archive that evicts the oldest run beyond limit.
// A limit <= 0 keeps every run.
func NewMemoryArchive(limit int) *MemoryArchive {
	return &MemoryArchive{limit: limit, runs: map[string]domain.Outcome{}}
}

func (m *MemoryArchive) AppendRun(ctx context.Context, out domain.Outcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[out.RunID]; ok {
		return nil
	}
	m.runs[out.RunID] = out
	m.order = append(m.order, out.RunID)
	if m.limit > 0 && len(m.order) > m.limit {
		delete(m.runs, m.order[0])
		m.order = m.order[1:]
	}
	return nil
}

func (m *MemoryArchive) GetRun(_ context.Context, runID string) (domain.Outcome, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out, ok := m.runs[runID]
	return out, ok, nil
}
