package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/opensource-finance/osprey-verify/internal/domain"
)

// DefaultMaxRecords bounds the in-memory history.
const DefaultMaxRecords = 10000

// MemoryRepository keeps history in process. The oldest records are
// dropped once MaxRecords is reached; runs are kept until Close.
type MemoryRepository struct {
	mu         sync.RWMutex
	maxRecords int
	records    []*domain.HistoryRecord
	runs       map[string][]byte
	closed     bool
}

// NewMemoryRepository creates an in-memory repository.
func NewMemoryRepository(maxRecords int) *MemoryRepository {
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	return &MemoryRepository{
		maxRecords: maxRecords,
		runs:       make(map[string][]byte),
	}
}

// SaveRecord appends one history record.
func (m *MemoryRepository) SaveRecord(ctx context.Context, rec *domain.HistoryRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("%w: record id is required", ErrInvalidInput)
	}

	cp := *rec
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = append(m.records, &cp)
	if over := len(m.records) - m.maxRecords; over > 0 {
		m.records = append([]*domain.HistoryRecord(nil), m.records[over:]...)
	}
	return nil
}

// ListRecords returns up to limit records, newest first. limit <= 0 returns all.
func (m *MemoryRepository) ListRecords(ctx context.Context, limit int) ([]*domain.HistoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.records)
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]*domain.HistoryRecord, 0, n)
	for i := len(m.records) - 1; i >= 0 && len(out) < n; i-- {
		cp := *m.records[i]
		out = append(out, &cp)
	}
	return out, nil
}

// SaveRun stores a snapshot of the run.
func (m *MemoryRepository) SaveRun(ctx context.Context, run *domain.SimulationRun) error {
	if run.ID == "" {
		return fmt.Errorf("%w: run id is required", ErrInvalidInput)
	}

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to encode run: %w", err)
	}

	m.mu.Lock()
	m.runs[run.ID] = data
	m.mu.Unlock()
	return nil
}

// GetRun returns a copy of the stored run.
func (m *MemoryRepository) GetRun(ctx context.Context, runID string) (*domain.SimulationRun, error) {
	m.mu.RLock()
	data, ok := m.runs[runID]
	m.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}

	var run domain.SimulationRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// Ping always succeeds until Close.
func (m *MemoryRepository) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return fmt.Errorf("repository is closed")
	}
	return nil
}

// Close drops all data.
func (m *MemoryRepository) Close() error {
	m.mu.Lock()
	m.records = nil
	m.runs = make(map[string][]byte)
	m.closed = true
	m.mu.Unlock()
	return nil
}
